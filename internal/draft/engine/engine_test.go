package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/blockdraft/blockdraft/internal/draft/events"
	"github.com/blockdraft/blockdraft/internal/draft/outbox"
	"github.com/blockdraft/blockdraft/internal/draft/state"
	"github.com/blockdraft/blockdraft/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// fakeStore records commits and returns scripted errors.
type fakeStore struct {
	commitErr error
	resetErr  error

	commits []CommitPickParams
	resets  []uuid.UUID
}

func (f *fakeStore) CommitPick(_ context.Context, params CommitPickParams) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.commits = append(f.commits, params)
	return nil
}

func (f *fakeStore) MarkReset(_ context.Context, draftID uuid.UUID, _ string, _ []outbox.Record) error {
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resets = append(f.resets, draftID)
	return nil
}

func newTestDraft(t *testing.T) *state.Draft {
	t.Helper()
	d, err := state.New(state.Config{
		ID:        uuid.New(),
		ChannelID: "chan-1",
		AdminID:   "alice",
		Players: []models.Player{
			{ID: "alice", DisplayName: "Alice"},
			{ID: "bob", DisplayName: "Bob"},
		},
		Categories: []models.Category{
			{Name: "Tools", Items: []string{"Sword", "Pickaxe"}},
			{Name: "Biomes", Items: []string{"Mesa", "Jungle"}},
		},
		PicksPerCategory: 1,
		PickOrder:        []int{0, 1, 1, 0},
		CreatedAt:        time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	return d
}

func newTestEngine(store Store, timeout time.Duration) *Engine {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 30, 0, 0, time.UTC))
	return New(store, clock, timeout)
}

func wantKind(t *testing.T, err error, kind Kind) *ValidationError {
	t.Helper()
	ve, ok := AsValidation(err)
	if !ok {
		t.Fatalf("got %v, want ValidationError %s", err, kind)
	}
	if ve.Kind != kind {
		t.Fatalf("got kind %s, want %s", ve.Kind, kind)
	}
	return ve
}

func TestApplyPickHappyPath(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(store, 5*time.Minute)
	d := newTestDraft(t)

	pick, err := e.ApplyPick(context.Background(), d, "alice", "Tools", "Sword")
	if err != nil {
		t.Fatalf("ApplyPick: %v", err)
	}
	if pick.OverallPick != 1 {
		t.Fatalf("overall pick = %d, want 1", pick.OverallPick)
	}

	if len(store.commits) != 1 {
		t.Fatalf("store saw %d commits, want 1", len(store.commits))
	}
	params := store.commits[0]
	if params.ExpectedCursor != 0 {
		t.Fatalf("expected cursor = %d, want 0", params.ExpectedCursor)
	}
	if params.Completes {
		t.Fatal("first pick must not complete the draft")
	}
	if params.NextDeadline == nil {
		t.Fatal("expected a deadline for the next turn")
	}
	if got := params.NextDeadline.Sub(pick.PickedAt); got != 5*time.Minute {
		t.Fatalf("deadline offset = %s, want 5m", got)
	}
	if len(params.Events) != 1 || params.Events[0].EventType != events.TypePickMade {
		t.Fatalf("unexpected events: %+v", params.Events)
	}

	// The loaded copy must mirror the committed state.
	if d.IsAvailable("Tools", "Sword") {
		t.Fatal("item still available after commit")
	}
	if d.CurrentPickIndex() != 1 {
		t.Fatalf("cursor = %d, want 1", d.CurrentPickIndex())
	}
	current, ok, err := d.CurrentPlayer()
	if err != nil || !ok || current.ID != "bob" {
		t.Fatalf("next on the clock = %v ok=%v err=%v, want bob", current, ok, err)
	}
}

func TestApplyPickEnforcesTurnOrder(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(store, 0)
	d := newTestDraft(t)

	// Order is [0, 1, 1, 0]; bob cannot open.
	_, err := e.ApplyPick(context.Background(), d, "bob", "Tools", "Sword")
	wantKind(t, err, KindNotYourTurn)

	if _, err := e.ApplyPick(context.Background(), d, "alice", "Tools", "Sword"); err != nil {
		t.Fatalf("ApplyPick(alice): %v", err)
	}
	// Bob picks twice in the middle of the snake.
	if _, err := e.ApplyPick(context.Background(), d, "bob", "Tools", "Pickaxe"); err != nil {
		t.Fatalf("ApplyPick(bob, 1st): %v", err)
	}
	_, err = e.ApplyPick(context.Background(), d, "alice", "Biomes", "Mesa")
	wantKind(t, err, KindNotYourTurn)
	if _, err := e.ApplyPick(context.Background(), d, "bob", "Biomes", "Mesa"); err != nil {
		t.Fatalf("ApplyPick(bob, 2nd): %v", err)
	}

	// Outsiders are never on the clock.
	_, err = e.ApplyPick(context.Background(), d, "mallory", "Biomes", "Jungle")
	wantKind(t, err, KindNotYourTurn)
}

func TestApplyPickWithNoPendingPick(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(store, 0)
	d := newTestDraft(t)

	// Exhaust the cursor without flipping the status, the state a buggy
	// store replay would leave behind.
	for i := 0; i < d.TotalPicks(); i++ {
		if err := d.AdvanceCursor(); err != nil {
			t.Fatalf("AdvanceCursor: %v", err)
		}
	}

	_, err := e.ApplyPick(context.Background(), d, "alice", "Tools", "Sword")
	ve := wantKind(t, err, KindNotYourTurn)
	if strings.Contains(ve.Detail, "'s turn") {
		t.Fatalf("detail %q names a zero-value player", ve.Detail)
	}
	if ve.Detail != "no pick is pending" {
		t.Fatalf("detail = %q, want no pick is pending", ve.Detail)
	}
}

func TestApplyPickCategoryLimit(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(store, 0)
	d := newTestDraft(t)

	if _, err := e.ApplyPick(context.Background(), d, "alice", "Tools", "Sword"); err != nil {
		t.Fatalf("ApplyPick: %v", err)
	}
	if _, err := e.ApplyPick(context.Background(), d, "bob", "Biomes", "Mesa"); err != nil {
		t.Fatalf("ApplyPick: %v", err)
	}
	if _, err := e.ApplyPick(context.Background(), d, "bob", "Tools", "Pickaxe"); err != nil {
		t.Fatalf("ApplyPick: %v", err)
	}

	// Alice already holds a Tools item; Biomes still has Jungle.
	_, err := e.ApplyPick(context.Background(), d, "alice", "Tools", "Pickaxe")
	wantKind(t, err, KindCategoryLimitReached)
}

func TestApplyPickUnavailableItem(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(store, 0)
	d := newTestDraft(t)

	if _, err := e.ApplyPick(context.Background(), d, "alice", "Tools", "Sword"); err != nil {
		t.Fatalf("ApplyPick: %v", err)
	}
	_, err := e.ApplyPick(context.Background(), d, "bob", "Tools", "Sword")
	wantKind(t, err, KindItemUnavailable)

	_, err = e.ApplyPick(context.Background(), d, "bob", "Tools", "Anvil")
	wantKind(t, err, KindItemUnavailable)

	_, err = e.ApplyPick(context.Background(), d, "bob", "Weapons", "Sword")
	wantKind(t, err, KindItemUnavailable)
}

func TestApplyPickCompletesDraftInSameCommit(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(store, 5*time.Minute)
	d := newTestDraft(t)

	picks := []struct{ player, category, item string }{
		{"alice", "Tools", "Sword"},
		{"bob", "Tools", "Pickaxe"},
		{"bob", "Biomes", "Mesa"},
		{"alice", "Biomes", "Jungle"},
	}
	for _, p := range picks {
		if _, err := e.ApplyPick(context.Background(), d, p.player, p.category, p.item); err != nil {
			t.Fatalf("ApplyPick(%s): %v", p.item, err)
		}
	}

	last := store.commits[len(store.commits)-1]
	if !last.Completes {
		t.Fatal("final commit must carry the completion flip")
	}
	if last.NextDeadline != nil {
		t.Fatal("completed draft must not get a deadline")
	}
	if len(last.Events) != 2 || last.Events[1].EventType != events.TypeDraftCompleted {
		t.Fatalf("final commit events: %+v", last.Events)
	}
	if d.Status() != models.DraftStatusCompleted {
		t.Fatalf("status = %s, want completed", d.Status())
	}

	_, err := e.ApplyPick(context.Background(), d, "alice", "Tools", "Sword")
	wantKind(t, err, KindDraftNotActive)
}

func TestApplyPickLosesItemRace(t *testing.T) {
	store := &fakeStore{commitErr: ErrItemConflict}
	e := newTestEngine(store, 0)
	d := newTestDraft(t)

	_, err := e.ApplyPick(context.Background(), d, "alice", "Tools", "Sword")
	ve := wantKind(t, err, KindItemUnavailable)
	if ve.Item != "Sword" {
		t.Fatalf("conflict item = %q, want Sword", ve.Item)
	}

	// The losing attempt must leave the loaded copy untouched.
	if !d.IsAvailable("Tools", "Sword") {
		t.Fatal("loser mutated availability")
	}
	if d.CurrentPickIndex() != 0 {
		t.Fatalf("loser advanced cursor to %d", d.CurrentPickIndex())
	}
}

func TestApplyPickLosesTurnRace(t *testing.T) {
	store := &fakeStore{commitErr: ErrTurnConflict}
	e := newTestEngine(store, 0)
	d := newTestDraft(t)

	_, err := e.ApplyPick(context.Background(), d, "alice", "Tools", "Sword")
	wantKind(t, err, KindNotYourTurn)
	if d.CurrentPickIndex() != 0 {
		t.Fatal("loser advanced cursor")
	}
}

func TestApplyPickWrapsStoreFailure(t *testing.T) {
	cause := errors.New("connection refused")
	store := &fakeStore{commitErr: cause}
	e := newTestEngine(store, 0)
	d := newTestDraft(t)

	_, err := e.ApplyPick(context.Background(), d, "alice", "Tools", "Sword")
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("got %v, want PersistenceError", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not preserved in chain")
	}
	if !d.IsAvailable("Tools", "Sword") || d.CurrentPickIndex() != 0 {
		t.Fatal("failed commit mutated the loaded copy")
	}
}

func TestResetActiveDraft(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(store, 0)
	d := newTestDraft(t)

	if _, err := e.ApplyPick(context.Background(), d, "alice", "Tools", "Sword"); err != nil {
		t.Fatalf("ApplyPick: %v", err)
	}
	if err := e.Reset(context.Background(), d, "alice"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if d.Status() != models.DraftStatusReset {
		t.Fatalf("status = %s, want reset", d.Status())
	}
	if len(store.resets) != 1 {
		t.Fatalf("store saw %d resets, want 1", len(store.resets))
	}
	// History survives the reset.
	if d.CategoryPickCount("alice", "Tools") != 1 {
		t.Fatal("reset dropped pick history")
	}

	err := e.Reset(context.Background(), d, "alice")
	wantKind(t, err, KindAlreadyTerminal)
}

func TestResetLosesRace(t *testing.T) {
	store := &fakeStore{resetErr: ErrTurnConflict}
	e := newTestEngine(store, 0)
	d := newTestDraft(t)

	err := e.Reset(context.Background(), d, "alice")
	wantKind(t, err, KindAlreadyTerminal)
	if d.Status() != models.DraftStatusActive {
		t.Fatal("losing reset mutated status")
	}
}
