package draft

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blockdraft/blockdraft/internal/catalog"
	"github.com/blockdraft/blockdraft/internal/draft/engine"
	"github.com/blockdraft/blockdraft/internal/draft/events"
	"github.com/blockdraft/blockdraft/internal/draft/outbox"
	"github.com/blockdraft/blockdraft/internal/draft/repository"
	"github.com/blockdraft/blockdraft/internal/draft/state"
	"github.com/blockdraft/blockdraft/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// memStore is an in-memory Store that mimics the repository's conditional
// commit semantics.
type memStore struct {
	drafts   map[uuid.UUID]*state.Draft
	events   []outbox.Record
	timeouts []uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{drafts: make(map[uuid.UUID]*state.Draft)}
}

func (m *memStore) clone(d *state.Draft) (*state.Draft, error) {
	snap := d.Snapshot()
	var picks []models.Pick
	for playerID, byCat := range snap.PicksByPlayer {
		for cat, items := range byCat {
			for _, item := range items {
				picks = append(picks, models.Pick{
					ID: uuid.New(), DraftID: snap.ID, PlayerID: playerID,
					Category: cat, Item: item,
				})
			}
		}
	}
	return state.Rehydrate(state.Record{
		Config: state.Config{
			ID:               snap.ID,
			ChannelID:        snap.ChannelID,
			AdminID:          snap.AdminID,
			Players:          snap.Players,
			Categories:       snap.Categories,
			PicksPerCategory: snap.PicksPerCategory,
			PickOrder:        snap.PickOrder,
			CreatedAt:        snap.CreatedAt,
		},
		Status:       snap.Status,
		Cursor:       snap.CurrentPickIndex,
		Available:    snap.Availability,
		Picks:        picks,
		LastEvent:    snap.LastEvent,
		NextDeadline: snap.NextDeadline,
	})
}

func (m *memStore) CreateDraft(_ context.Context, d *state.Draft, evts []outbox.Record) error {
	stored, err := m.clone(d)
	if err != nil {
		return err
	}
	m.drafts[d.ID()] = stored
	m.events = append(m.events, evts...)
	return nil
}

func (m *memStore) GetDraft(_ context.Context, id uuid.UUID) (*state.Draft, error) {
	d, ok := m.drafts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m.clone(d)
}

func (m *memStore) ActiveDraftByChannel(_ context.Context, channelID string) (*state.Draft, error) {
	for _, d := range m.drafts {
		if d.ChannelID() == channelID && d.Status() == models.DraftStatusActive {
			return m.clone(d)
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) CommitPick(_ context.Context, params engine.CommitPickParams) error {
	d, ok := m.drafts[params.Pick.DraftID]
	if !ok {
		return repository.ErrNotFound
	}
	if !d.IsAvailable(params.Pick.Category, params.Pick.Item) {
		return engine.ErrItemConflict
	}
	if d.Status() != models.DraftStatusActive || d.CurrentPickIndex() != params.ExpectedCursor {
		return engine.ErrTurnConflict
	}
	if err := d.RemoveFromAvailability(params.Pick.Category, params.Pick.Item); err != nil {
		return err
	}
	if err := d.AppendPick(params.Pick.PlayerID, params.Pick.Category, params.Pick.Item); err != nil {
		return err
	}
	if err := d.AdvanceCursor(); err != nil {
		return err
	}
	if params.Completes {
		if err := d.SetStatus(models.DraftStatusCompleted); err != nil {
			return err
		}
	}
	d.SetLastEvent(params.LastEvent)
	d.SetDeadline(params.NextDeadline)
	m.events = append(m.events, params.Events...)
	return nil
}

func (m *memStore) MarkReset(_ context.Context, draftID uuid.UUID, lastEvent string, evts []outbox.Record) error {
	d, ok := m.drafts[draftID]
	if !ok {
		return repository.ErrNotFound
	}
	if d.Status() != models.DraftStatusActive {
		return engine.ErrTurnConflict
	}
	if err := d.SetStatus(models.DraftStatusReset); err != nil {
		return err
	}
	d.SetLastEvent(lastEvent)
	d.SetDeadline(nil)
	m.events = append(m.events, evts...)
	return nil
}

func (m *memStore) ListDraftsByChannel(_ context.Context, channelID string, limit int) ([]models.DraftSummary, error) {
	var out []models.DraftSummary
	for _, d := range m.drafts {
		if d.ChannelID() != channelID || len(out) >= limit {
			continue
		}
		out = append(out, models.DraftSummary{
			ID: d.ID(), ChannelID: d.ChannelID(), AdminID: d.AdminID(),
			Status: d.Status(), NumPlayers: len(d.Players()), CreatedAt: d.CreatedAt(),
		})
	}
	return out, nil
}

func (m *memStore) RecentDraftsForPlayer(_ context.Context, playerID string, limit int) ([]models.DraftSummary, error) {
	var out []models.DraftSummary
	for _, d := range m.drafts {
		if d.HasPlayer(playerID) && len(out) < limit {
			out = append(out, models.DraftSummary{ID: d.ID(), Status: d.Status()})
		}
	}
	return out, nil
}

func (m *memStore) RecentPicks(_ context.Context, draftID uuid.UUID, limit int) ([]models.Pick, error) {
	return nil, nil
}

func (m *memStore) NextDeadline(_ context.Context) (*time.Time, error) {
	var earliest *time.Time
	for _, d := range m.drafts {
		t := d.Deadline()
		if t == nil || d.Status() != models.DraftStatusActive {
			continue
		}
		if earliest == nil || t.Before(*earliest) {
			earliest = t
		}
	}
	return earliest, nil
}

func (m *memStore) ClaimDueDrafts(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id, d := range m.drafts {
		t := d.Deadline()
		if d.Status() == models.DraftStatusActive && t != nil && !t.After(now) {
			d.SetDeadline(nil)
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) RecordTimeout(_ context.Context, draftID uuid.UUID, lastEvent string, evts []outbox.Record) error {
	d, ok := m.drafts[draftID]
	if !ok {
		return repository.ErrNotFound
	}
	if d.Status() != models.DraftStatusActive {
		return engine.ErrTurnConflict
	}
	d.SetLastEvent(lastEvent)
	m.events = append(m.events, evts...)
	m.timeouts = append(m.timeouts, draftID)
	return nil
}

// staleStore hands out one stale copy of a draft, standing in for a
// timeout handler that loaded the draft just before it went terminal.
type staleStore struct {
	*memStore
	stale *state.Draft
}

func (s *staleStore) GetDraft(ctx context.Context, id uuid.UUID) (*state.Draft, error) {
	if s.stale != nil && s.stale.ID() == id {
		d := s.stale
		s.stale = nil
		return d, nil
	}
	return s.memStore.GetDraft(ctx, id)
}

func (m *memStore) eventTypes() []string {
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

func smallCatalog() *catalog.Catalog {
	return &catalog.Catalog{Categories: []models.Category{
		{Name: "Tools", Items: []string{"Sword", "Pickaxe", "Shovel", "Axe"}},
		{Name: "Biomes", Items: []string{"Mesa", "Jungle", "Snowy", "Mushroom"}},
	}}
}

func twoPlayers() []models.Player {
	return []models.Player{
		{ID: "alice", DisplayName: "Alice"},
		{ID: "bob", DisplayName: "Bob"},
	}
}

func newTestApp(store Store, cat *catalog.Catalog, timeout time.Duration) (*App, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewApp(store, cat, clock, timeout), clock
}

func TestCreateDraftDefaults(t *testing.T) {
	store := newMemStore()
	app, _ := newTestApp(store, smallCatalog(), 5*time.Minute)

	snap, err := app.CreateDraft(context.Background(), CreateDraftRequest{
		ChannelID: "chan-1",
		AdminID:   "alice",
		Players:   twoPlayers(),
	})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}

	// Two players default to two picks per category.
	if snap.PicksPerCategory != 2 {
		t.Fatalf("picks per category = %d, want 2", snap.PicksPerCategory)
	}
	if snap.TotalPicksPerPlayer != 4 {
		t.Fatalf("picks per player = %d, want 4", snap.TotalPicksPerPlayer)
	}
	if snap.TotalPicks != 8 || len(snap.PickOrder) != 8 {
		t.Fatalf("total picks = %d, order length = %d, want 8", snap.TotalPicks, len(snap.PickOrder))
	}
	if snap.NextDeadline == nil {
		t.Fatal("expected an opening pick deadline")
	}
	if got := store.eventTypes(); len(got) != 1 || got[0] != events.TypeDraftStarted {
		t.Fatalf("events = %v, want [draft.started]", got)
	}
}

func TestCreateDraftThreePlayersDefault(t *testing.T) {
	store := newMemStore()
	app, _ := newTestApp(store, smallCatalog(), 0)

	snap, err := app.CreateDraft(context.Background(), CreateDraftRequest{
		ChannelID: "chan-1",
		AdminID:   "alice",
		Players: append(twoPlayers(),
			models.Player{ID: "carol", DisplayName: "Carol"}),
	})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	if snap.PicksPerCategory != 1 {
		t.Fatalf("picks per category = %d, want 1", snap.PicksPerCategory)
	}
	if snap.NextDeadline != nil {
		t.Fatal("deadlines disabled, none expected")
	}
}

func TestCreateDraftRejectsBadPlayerLists(t *testing.T) {
	store := newMemStore()
	app, _ := newTestApp(store, smallCatalog(), 0)

	cases := []struct {
		name    string
		players []models.Player
	}{
		{"too few", twoPlayers()[:1]},
		{"too many", []models.Player{
			{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"},
		}},
		{"duplicate", []models.Player{{ID: "alice"}, {ID: "alice"}}},
		{"empty id", []models.Player{{ID: "alice"}, {ID: ""}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := app.CreateDraft(context.Background(), CreateDraftRequest{
				ChannelID: "chan-1", AdminID: "alice", Players: tc.players,
			})
			ve, ok := engine.AsValidation(err)
			if !ok || ve.Kind != engine.KindInvalidPlayerCount {
				t.Fatalf("got %v, want invalid_player_count", err)
			}
		})
	}
}

func TestCreateDraftRejectsBusyChannel(t *testing.T) {
	store := newMemStore()
	app, _ := newTestApp(store, smallCatalog(), 0)

	if _, err := app.CreateDraft(context.Background(), CreateDraftRequest{
		ChannelID: "chan-1", AdminID: "alice", Players: twoPlayers(),
	}); err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	_, err := app.CreateDraft(context.Background(), CreateDraftRequest{
		ChannelID: "chan-1", AdminID: "alice", Players: twoPlayers(),
	})
	ve, ok := engine.AsValidation(err)
	if !ok || ve.Kind != engine.KindChannelBusy {
		t.Fatalf("got %v, want channel_has_active_draft", err)
	}

	// A different channel is fine.
	if _, err := app.CreateDraft(context.Background(), CreateDraftRequest{
		ChannelID: "chan-2", AdminID: "alice", Players: twoPlayers(),
	}); err != nil {
		t.Fatalf("CreateDraft(chan-2): %v", err)
	}
}

func TestDefaultCatalogTwoPlayerBudget(t *testing.T) {
	store := newMemStore()
	app, _ := newTestApp(store, catalog.Default(), 0)

	snap, err := app.CreateDraft(context.Background(), CreateDraftRequest{
		ChannelID: "chan-1", AdminID: "alice", Players: twoPlayers(),
	})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	// Six categories, two picks each, two players.
	if snap.TotalPicksPerPlayer != 12 {
		t.Fatalf("picks per player = %d, want 12", snap.TotalPicksPerPlayer)
	}
	if snap.TotalPicks != 24 {
		t.Fatalf("total picks = %d, want 24", snap.TotalPicks)
	}

	// An explicit single pick per category halves the budget.
	single, err := app.CreateDraft(context.Background(), CreateDraftRequest{
		ChannelID: "chan-2", AdminID: "alice", Players: twoPlayers(),
		PicksPerCategory: 1,
	})
	if err != nil {
		t.Fatalf("CreateDraft(picks_per_category=1): %v", err)
	}
	if single.TotalPicksPerPlayer != 6 {
		t.Fatalf("picks per player = %d, want 6", single.TotalPicksPerPlayer)
	}
	if single.TotalPicks != 12 {
		t.Fatalf("total picks = %d, want 12", single.TotalPicks)
	}
}

func TestDraftRunsToCompletion(t *testing.T) {
	store := newMemStore()
	app, _ := newTestApp(store, smallCatalog(), 0)

	snap, err := app.CreateDraft(context.Background(), CreateDraftRequest{
		ChannelID: "chan-1", AdminID: "alice", Players: twoPlayers(),
	})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}

	for snap.Status == models.DraftStatusActive {
		current, ok := snap.CurrentPlayer()
		if !ok {
			t.Fatal("active draft with nobody on the clock")
		}
		// Take the first item the player may still pick.
		picked := false
		for _, cat := range snap.Categories {
			if len(snap.PicksByPlayer[current.ID][cat.Name]) >= snap.PicksPerCategory {
				continue
			}
			items := snap.Availability[cat.Name]
			if len(items) == 0 {
				continue
			}
			snap, _, err = app.ApplyPick(context.Background(), snap.ID, current.ID, cat.Name, items[0])
			if err != nil {
				t.Fatalf("ApplyPick(%s, %s): %v", current.ID, items[0], err)
			}
			picked = true
			break
		}
		if !picked {
			t.Fatal("player on the clock has no legal pick")
		}
	}

	if snap.Status != models.DraftStatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	if snap.PicksMadeBy("alice") != 4 || snap.PicksMadeBy("bob") != 4 {
		t.Fatalf("pick totals = %d/%d, want 4/4",
			snap.PicksMadeBy("alice"), snap.PicksMadeBy("bob"))
	}

	types := store.eventTypes()
	if types[len(types)-1] != events.TypeDraftCompleted {
		t.Fatalf("last event = %s, want draft.completed", types[len(types)-1])
	}

	// A finished draft rejects further picks.
	_, _, err = app.ApplyPick(context.Background(), snap.ID, "alice", "Tools", "Axe")
	ve, ok := engine.AsValidation(err)
	if !ok || ve.Kind != engine.KindDraftNotActive {
		t.Fatalf("got %v, want draft_not_active", err)
	}
}

func TestResetIsAdminOnly(t *testing.T) {
	store := newMemStore()
	app, _ := newTestApp(store, smallCatalog(), 0)

	snap, err := app.CreateDraft(context.Background(), CreateDraftRequest{
		ChannelID: "chan-1", AdminID: "alice", Players: twoPlayers(),
	})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	if snap, _, err = app.ApplyPick(context.Background(), snap.ID, "alice", "Tools", "Sword"); err != nil {
		t.Fatalf("ApplyPick: %v", err)
	}

	_, err = app.Reset(context.Background(), snap.ID, "bob")
	ve, ok := engine.AsValidation(err)
	if !ok || ve.Kind != engine.KindNotAdmin {
		t.Fatalf("got %v, want not_admin", err)
	}

	got, err := app.Reset(context.Background(), snap.ID, "alice")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got.Status != models.DraftStatusReset {
		t.Fatalf("status = %s, want reset", got.Status)
	}
	// History survives for the record.
	if len(got.PicksByPlayer["alice"]["Tools"]) != 1 {
		t.Fatal("reset dropped pick history")
	}
}

func TestExpireTurnKeepsDraftUsable(t *testing.T) {
	store := newMemStore()
	app, clock := newTestApp(store, smallCatalog(), 5*time.Minute)

	snap, err := app.CreateDraft(context.Background(), CreateDraftRequest{
		ChannelID: "chan-1", AdminID: "alice", Players: twoPlayers(),
	})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}

	clock.Advance(6 * time.Minute)
	due, err := app.ClaimDueDrafts(context.Background())
	if err != nil {
		t.Fatalf("ClaimDueDrafts: %v", err)
	}
	if len(due) != 1 || due[0] != snap.ID {
		t.Fatalf("due drafts = %v, want [%s]", due, snap.ID)
	}

	got, err := app.ExpireTurn(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("ExpireTurn: %v", err)
	}
	if got.Status != models.DraftStatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
	if got.LastEvent == "" {
		t.Fatal("expected a timeout note on the board")
	}
	types := store.eventTypes()
	if types[len(types)-1] != events.TypePickTimedOut {
		t.Fatalf("last event = %s, want draft.pick_timed_out", types[len(types)-1])
	}

	// The slow player can still pick.
	if _, _, err := app.ApplyPick(context.Background(), snap.ID, "alice", "Tools", "Sword"); err != nil {
		t.Fatalf("ApplyPick after timeout: %v", err)
	}
}

func TestExpireTurnAfterDraftEndedIsNoOp(t *testing.T) {
	store := newMemStore()
	wrapped := &staleStore{memStore: store}
	app, _ := newTestApp(wrapped, smallCatalog(), 5*time.Minute)

	snap, err := app.CreateDraft(context.Background(), CreateDraftRequest{
		ChannelID: "chan-1", AdminID: "alice", Players: twoPlayers(),
	})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}

	// Load the draft while still active, then end it underneath the
	// timeout handler.
	stale, err := store.GetDraft(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if _, err := app.Reset(context.Background(), snap.ID, "alice"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	wrapped.stale = stale

	got, err := app.ExpireTurn(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("ExpireTurn: %v", err)
	}
	if got == nil {
		t.Fatal("expected a snapshot back")
	}

	for _, eventType := range store.eventTypes() {
		if eventType == events.TypePickTimedOut {
			t.Fatal("timeout event recorded for an ended draft")
		}
	}
	if len(store.timeouts) != 0 {
		t.Fatalf("timeouts recorded = %v, want none", store.timeouts)
	}
	stored, err := store.GetDraft(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if stored.LastEvent() != "draft reset by alice" {
		t.Fatalf("stored last event = %q, want the reset note", stored.LastEvent())
	}
}

func TestPlayerSummary(t *testing.T) {
	store := newMemStore()
	app, _ := newTestApp(store, smallCatalog(), 0)

	snap, err := app.CreateDraft(context.Background(), CreateDraftRequest{
		ChannelID: "chan-1", AdminID: "alice", Players: twoPlayers(),
	})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	if snap, _, err = app.ApplyPick(context.Background(), snap.ID, "alice", "Tools", "Sword"); err != nil {
		t.Fatalf("ApplyPick: %v", err)
	}

	sum, err := app.PlayerSummary(context.Background(), snap.ID, "alice")
	if err != nil {
		t.Fatalf("PlayerSummary: %v", err)
	}
	if sum.PicksMade != 1 || sum.PicksRemaining != 3 {
		t.Fatalf("made/remaining = %d/%d, want 1/3", sum.PicksMade, sum.PicksRemaining)
	}
	if sum.OnClock {
		t.Fatal("alice just picked, bob should be on the clock")
	}

	_, err = app.PlayerSummary(context.Background(), snap.ID, "mallory")
	if !errors.Is(err, ErrPlayerNotFound) {
		t.Fatalf("got %v, want ErrPlayerNotFound", err)
	}
}
