// Package engine applies picks to a draft: validation in a fixed order,
// then a conditional commit through the store. The durable store is
// authoritative; the engine never trusts the loaded aggregate to win a
// race.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blockdraft/blockdraft/internal/draft/events"
	"github.com/blockdraft/blockdraft/internal/draft/outbox"
	"github.com/blockdraft/blockdraft/internal/draft/state"
	"github.com/blockdraft/blockdraft/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// CommitPickParams carries one validated pick into the store's conditional
// transaction. The store must apply the item availability flip, the pick
// insert, the guarded cursor advance (with the completed flip when
// Completes is set) and the outbox inserts atomically, and return
// ErrItemConflict or ErrTurnConflict when a guard finds zero rows.
type CommitPickParams struct {
	Pick           models.Pick
	ExpectedCursor int
	Completes      bool
	NextDeadline   *time.Time
	LastEvent      string
	Events         []outbox.Record
}

// Store is the durable side of the engine.
type Store interface {
	CommitPick(ctx context.Context, params CommitPickParams) error
	// MarkReset flips an active draft to reset, writing the events in the
	// same transaction. Returns ErrTurnConflict if the draft is no longer
	// active.
	MarkReset(ctx context.Context, draftID uuid.UUID, lastEvent string, events []outbox.Record) error
}

// Engine validates and commits draft mutations.
type Engine struct {
	store       Store
	clock       clockwork.Clock
	turnTimeout time.Duration
}

// New builds an engine. turnTimeout is the per-pick deadline written with
// each accepted pick; zero disables deadlines.
func New(store Store, clock clockwork.Clock, turnTimeout time.Duration) *Engine {
	return &Engine{store: store, clock: clock, turnTimeout: turnTimeout}
}

// ApplyPick validates a pick attempt against the loaded draft and commits
// it. Validation order: draft status, turn ownership, category limit, item
// availability. On success the same mutation is replayed onto the
// aggregate so the caller's copy matches storage.
func (e *Engine) ApplyPick(ctx context.Context, d *state.Draft, playerID, category, item string) (*models.Pick, error) {
	if d.Status() != models.DraftStatusActive {
		return nil, &ValidationError{
			Kind:     KindDraftNotActive,
			DraftID:  d.ID(),
			PlayerID: playerID,
			Detail:   fmt.Sprintf("draft is %s", d.Status()),
		}
	}

	current, ok, err := d.CurrentPlayer()
	if err != nil {
		return nil, err
	}
	if !ok || current.ID != playerID {
		detail := "no pick is pending"
		if ok {
			detail = fmt.Sprintf("it is %s's turn", current.ID)
		}
		return nil, &ValidationError{
			Kind:     KindNotYourTurn,
			DraftID:  d.ID(),
			PlayerID: playerID,
			Detail:   detail,
		}
	}

	if d.HasCategory(category) && d.CategoryPickCount(playerID, category) >= d.PicksPerCategory() {
		return nil, &ValidationError{
			Kind:     KindCategoryLimitReached,
			DraftID:  d.ID(),
			PlayerID: playerID,
			Category: category,
			Detail:   fmt.Sprintf("limit is %d per category", d.PicksPerCategory()),
		}
	}

	if !d.IsAvailable(category, item) {
		return nil, &ValidationError{
			Kind:     KindItemUnavailable,
			DraftID:  d.ID(),
			PlayerID: playerID,
			Category: category,
			Item:     item,
		}
	}

	now := e.clock.Now().UTC()
	pick := models.Pick{
		ID:          uuid.New(),
		DraftID:     d.ID(),
		PlayerID:    playerID,
		Category:    category,
		Item:        item,
		OverallPick: d.CurrentPickIndex() + 1,
		PickedAt:    now,
	}
	completes := pick.OverallPick == d.TotalPicks()

	var deadline *time.Time
	if !completes && e.turnTimeout > 0 {
		t := now.Add(e.turnTimeout)
		deadline = &t
	}

	evts, err := e.pickEvents(d, pick, completes, now)
	if err != nil {
		return nil, err
	}

	lastEvent := fmt.Sprintf("%s picked %s (%s)", current.DisplayName, item, category)
	if completes {
		lastEvent = fmt.Sprintf("%s picked %s (%s), completing the draft", current.DisplayName, item, category)
	}

	err = e.store.CommitPick(ctx, CommitPickParams{
		Pick:           pick,
		ExpectedCursor: d.CurrentPickIndex(),
		Completes:      completes,
		NextDeadline:   deadline,
		LastEvent:      lastEvent,
		Events:         evts,
	})
	switch {
	case errors.Is(err, ErrItemConflict):
		return nil, &ValidationError{
			Kind:     KindItemUnavailable,
			DraftID:  d.ID(),
			PlayerID: playerID,
			Category: category,
			Item:     item,
			Detail:   "taken by a concurrent pick",
		}
	case errors.Is(err, ErrTurnConflict):
		return nil, &ValidationError{
			Kind:     KindNotYourTurn,
			DraftID:  d.ID(),
			PlayerID: playerID,
			Detail:   "the turn advanced concurrently",
		}
	case err != nil:
		return nil, &PersistenceError{Op: "commit pick", Err: err}
	}

	if err := d.RemoveFromAvailability(category, item); err != nil {
		return nil, err
	}
	if err := d.AppendPick(playerID, category, item); err != nil {
		return nil, err
	}
	if err := d.AdvanceCursor(); err != nil {
		return nil, err
	}
	if completes {
		if err := d.SetStatus(models.DraftStatusCompleted); err != nil {
			return nil, err
		}
	}
	d.SetLastEvent(lastEvent)
	d.SetDeadline(deadline)
	return &pick, nil
}

// Reset flips an active draft to reset, preserving availability and pick
// history. The caller enforces who may reset.
func (e *Engine) Reset(ctx context.Context, d *state.Draft, requestedBy string) error {
	if d.Status() != models.DraftStatusActive {
		return &ValidationError{
			Kind:     KindAlreadyTerminal,
			DraftID:  d.ID(),
			PlayerID: requestedBy,
			Detail:   fmt.Sprintf("draft is %s", d.Status()),
		}
	}

	now := e.clock.Now().UTC()
	rec, err := outbox.NewRecord(d.ID(), events.TypeDraftReset, events.DraftReset{
		DraftID:   d.ID(),
		ChannelID: d.ChannelID(),
		ResetBy:   requestedBy,
		ResetAt:   now,
	}, now)
	if err != nil {
		return err
	}

	lastEvent := fmt.Sprintf("draft reset by %s", requestedBy)
	err = e.store.MarkReset(ctx, d.ID(), lastEvent, []outbox.Record{rec})
	switch {
	case errors.Is(err, ErrConflict):
		return &ValidationError{
			Kind:     KindAlreadyTerminal,
			DraftID:  d.ID(),
			PlayerID: requestedBy,
			Detail:   "the draft ended concurrently",
		}
	case err != nil:
		return &PersistenceError{Op: "mark reset", Err: err}
	}
	if err := d.SetStatus(models.DraftStatusReset); err != nil {
		return err
	}
	d.SetLastEvent(lastEvent)
	d.SetDeadline(nil)
	return nil
}

func (e *Engine) pickEvents(d *state.Draft, pick models.Pick, completes bool, now time.Time) ([]outbox.Record, error) {
	nextPlayerID := ""
	if !completes {
		snap := d.Snapshot()
		next, err := d.PlayerBySlot(snap.PickOrder[pick.OverallPick])
		if err != nil {
			return nil, err
		}
		nextPlayerID = next.ID
	}

	made, err := outbox.NewRecord(d.ID(), events.TypePickMade, events.PickMade{
		DraftID:      d.ID(),
		PickID:       pick.ID,
		PlayerID:     pick.PlayerID,
		Category:     pick.Category,
		Item:         pick.Item,
		OverallPick:  pick.OverallPick,
		TotalPicks:   d.TotalPicks(),
		NextPlayerID: nextPlayerID,
		PickedAt:     pick.PickedAt,
	}, now)
	if err != nil {
		return nil, err
	}
	out := []outbox.Record{made}

	if completes {
		done, err := outbox.NewRecord(d.ID(), events.TypeDraftCompleted, events.DraftCompleted{
			DraftID:     d.ID(),
			ChannelID:   d.ChannelID(),
			TotalPicks:  d.TotalPicks(),
			CompletedAt: now,
		}, now)
		if err != nil {
			return nil, err
		}
		out = append(out, done)
	}
	return out, nil
}
