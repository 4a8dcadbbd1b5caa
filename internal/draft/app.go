// Package draft is the application layer: participant policy, draft
// creation, pick application, resets and the turn-deadline entry point.
package draft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blockdraft/blockdraft/internal/catalog"
	"github.com/blockdraft/blockdraft/internal/draft/engine"
	"github.com/blockdraft/blockdraft/internal/draft/events"
	"github.com/blockdraft/blockdraft/internal/draft/order"
	"github.com/blockdraft/blockdraft/internal/draft/outbox"
	"github.com/blockdraft/blockdraft/internal/draft/repository"
	"github.com/blockdraft/blockdraft/internal/draft/state"
	"github.com/blockdraft/blockdraft/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ErrPlayerNotFound is returned when a summary is requested for someone
// who is not in the draft.
var ErrPlayerNotFound = errors.New("player not in draft")

// Store is the durable side of the app. *repository.Repository implements
// it.
type Store interface {
	engine.Store
	CreateDraft(ctx context.Context, d *state.Draft, events []outbox.Record) error
	GetDraft(ctx context.Context, id uuid.UUID) (*state.Draft, error)
	ActiveDraftByChannel(ctx context.Context, channelID string) (*state.Draft, error)
	ListDraftsByChannel(ctx context.Context, channelID string, limit int) ([]models.DraftSummary, error)
	RecentDraftsForPlayer(ctx context.Context, playerID string, limit int) ([]models.DraftSummary, error)
	RecentPicks(ctx context.Context, draftID uuid.UUID, limit int) ([]models.Pick, error)
	NextDeadline(ctx context.Context) (*time.Time, error)
	ClaimDueDrafts(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	RecordTimeout(ctx context.Context, draftID uuid.UUID, lastEvent string, events []outbox.Record) error
}

// App coordinates drafts against the store.
type App struct {
	store       Store
	engine      *engine.Engine
	catalog     *catalog.Catalog
	clock       clockwork.Clock
	turnTimeout time.Duration
}

// NewApp builds the application service. turnTimeout zero disables pick
// deadlines.
func NewApp(store Store, cat *catalog.Catalog, clock clockwork.Clock, turnTimeout time.Duration) *App {
	return &App{
		store:       store,
		engine:      engine.New(store, clock, turnTimeout),
		catalog:     cat,
		clock:       clock,
		turnTimeout: turnTimeout,
	}
}

// CreateDraft validates the participant list, generates the serpentine
// order over the full catalog and persists the fresh draft.
func (a *App) CreateDraft(ctx context.Context, req CreateDraftRequest) (*models.DraftSnapshot, error) {
	n := len(req.Players)
	if n < MinPlayers || n > MaxPlayers {
		return nil, &engine.ValidationError{
			Kind:   engine.KindInvalidPlayerCount,
			Detail: fmt.Sprintf("got %d players, need %d to %d", n, MinPlayers, MaxPlayers),
		}
	}
	seen := make(map[string]bool, n)
	for _, p := range req.Players {
		if p.ID == "" || seen[p.ID] {
			return nil, &engine.ValidationError{
				Kind:   engine.KindInvalidPlayerCount,
				Detail: "players must be distinct",
			}
		}
		seen[p.ID] = true
	}

	if existing, err := a.store.ActiveDraftByChannel(ctx, req.ChannelID); err == nil {
		return nil, &engine.ValidationError{
			Kind:    engine.KindChannelBusy,
			DraftID: existing.ID(),
			Detail:  "the channel already has an active draft",
		}
	} else if !isNotFound(err) {
		return nil, &engine.PersistenceError{Op: "check active draft", Err: err}
	}

	picksPerCategory := req.PicksPerCategory
	if picksPerCategory <= 0 {
		picksPerCategory = DefaultPicksPerCategory(n)
	}

	categories := a.catalog.CategoriesCopy()
	now := a.clock.Now().UTC()
	cfg := state.Config{
		ID:               uuid.New(),
		ChannelID:        req.ChannelID,
		AdminID:          req.AdminID,
		Players:          req.Players,
		Categories:       categories,
		PicksPerCategory: picksPerCategory,
		PickOrder:        order.Snake(n, picksPerCategory*len(categories)),
		CreatedAt:        now,
	}
	d, err := state.New(cfg)
	if err != nil {
		return nil, err
	}
	if a.turnTimeout > 0 {
		deadline := now.Add(a.turnTimeout)
		d.SetDeadline(&deadline)
	}

	playerIDs := make([]string, n)
	for i, p := range req.Players {
		playerIDs[i] = p.ID
	}
	categoryNames := make([]string, len(categories))
	for i, c := range categories {
		categoryNames[i] = c.Name
	}
	started, err := outbox.NewRecord(d.ID(), events.TypeDraftStarted, events.DraftStarted{
		DraftID:          d.ID(),
		ChannelID:        req.ChannelID,
		AdminID:          req.AdminID,
		PlayerIDs:        playerIDs,
		Categories:       categoryNames,
		PicksPerCategory: picksPerCategory,
		TotalPicks:       d.TotalPicks(),
		StartedAt:        now,
	}, now)
	if err != nil {
		return nil, err
	}

	if err := a.store.CreateDraft(ctx, d, []outbox.Record{started}); err != nil {
		return nil, &engine.PersistenceError{Op: "create draft", Err: err}
	}
	return d.Snapshot(), nil
}

// ApplyPick loads the draft and runs one pick attempt through the engine.
func (a *App) ApplyPick(ctx context.Context, draftID uuid.UUID, playerID, category, item string) (*models.DraftSnapshot, *models.Pick, error) {
	d, err := a.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, nil, err
	}
	pick, err := a.engine.ApplyPick(ctx, d, playerID, category, item)
	if err != nil {
		return nil, nil, err
	}
	return d.Snapshot(), pick, nil
}

// Reset abandons an active draft. Only the draft's admin may reset it;
// availability and pick history are preserved for the record.
func (a *App) Reset(ctx context.Context, draftID uuid.UUID, requestedBy string) (*models.DraftSnapshot, error) {
	d, err := a.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if requestedBy != d.AdminID() {
		return nil, &engine.ValidationError{
			Kind:     engine.KindNotAdmin,
			DraftID:  draftID,
			PlayerID: requestedBy,
			Detail:   "only the draft admin can reset",
		}
	}
	if err := a.engine.Reset(ctx, d, requestedBy); err != nil {
		return nil, err
	}
	return d.Snapshot(), nil
}

// Snapshot returns the read view of one draft.
func (a *App) Snapshot(ctx context.Context, draftID uuid.UUID) (*models.DraftSnapshot, error) {
	d, err := a.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	return d.Snapshot(), nil
}

// ActiveDraft returns the channel's active draft, if any.
func (a *App) ActiveDraft(ctx context.Context, channelID string) (*models.DraftSnapshot, error) {
	d, err := a.store.ActiveDraftByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return d.Snapshot(), nil
}

// ListDrafts returns the channel's drafts, newest first.
func (a *App) ListDrafts(ctx context.Context, channelID string, limit int) ([]models.DraftSummary, error) {
	return a.store.ListDraftsByChannel(ctx, channelID, clampLimit(limit))
}

// RecentDraftsForPlayer returns the drafts a player took part in.
func (a *App) RecentDraftsForPlayer(ctx context.Context, playerID string, limit int) ([]models.DraftSummary, error) {
	return a.store.RecentDraftsForPlayer(ctx, playerID, clampLimit(limit))
}

// RecentPicks returns a draft's latest picks, newest first.
func (a *App) RecentPicks(ctx context.Context, draftID uuid.UUID, limit int) ([]models.Pick, error) {
	return a.store.RecentPicks(ctx, draftID, clampLimit(limit))
}

// PlayerSummary returns one participant's picks and remaining budget.
func (a *App) PlayerSummary(ctx context.Context, draftID uuid.UUID, playerID string) (*PlayerSummary, error) {
	snap, err := a.Snapshot(ctx, draftID)
	if err != nil {
		return nil, err
	}
	var player models.Player
	found := false
	for _, p := range snap.Players {
		if p.ID == playerID {
			player = p
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
	}

	picks := snap.PicksByPlayer[playerID]
	if picks == nil {
		picks = map[string][]string{}
	}
	made := snap.PicksMadeBy(playerID)
	current, onClock := snap.CurrentPlayer()
	return &PlayerSummary{
		Player:         player,
		Picks:          picks,
		PicksMade:      made,
		PicksRemaining: snap.TotalPicksPerPlayer - made,
		OnClock:        onClock && current.ID == playerID,
	}, nil
}

// NextDeadline exposes the earliest pending turn deadline for the
// scheduler.
func (a *App) NextDeadline(ctx context.Context) (*time.Time, error) {
	return a.store.NextDeadline(ctx)
}

// ClaimDueDrafts claims every draft whose turn deadline has passed.
func (a *App) ClaimDueDrafts(ctx context.Context) ([]uuid.UUID, error) {
	return a.store.ClaimDueDrafts(ctx, a.clock.Now().UTC())
}

// ExpireTurn records a timed-out turn. The pick stays open; nothing is
// auto-picked and the validation path is untouched.
func (a *App) ExpireTurn(ctx context.Context, draftID uuid.UUID) (*models.DraftSnapshot, error) {
	d, err := a.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	current, ok, err := d.CurrentPlayer()
	if err != nil {
		return nil, err
	}
	if d.Status() != models.DraftStatusActive || !ok {
		return d.Snapshot(), nil
	}

	now := a.clock.Now().UTC()
	rec, err := outbox.NewRecord(draftID, events.TypePickTimedOut, events.PickTimedOut{
		DraftID:     draftID,
		ChannelID:   d.ChannelID(),
		PlayerID:    current.ID,
		OverallPick: d.CurrentPickIndex() + 1,
		DeadlineAt:  now,
	}, now)
	if err != nil {
		return nil, err
	}

	lastEvent := fmt.Sprintf("%s's pick timer expired", current.DisplayName)
	if err := a.store.RecordTimeout(ctx, draftID, lastEvent, []outbox.Record{rec}); err != nil {
		// The draft went terminal between the load and the write. The
		// timeout is moot; report the draft as it was loaded.
		if errors.Is(err, engine.ErrConflict) {
			return d.Snapshot(), nil
		}
		return nil, &engine.PersistenceError{Op: "record timeout", Err: err}
	}
	d.SetLastEvent(lastEvent)
	d.SetDeadline(nil)
	return d.Snapshot(), nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 25
	}
	return limit
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
