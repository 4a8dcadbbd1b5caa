// Package repository persists drafts in Postgres. Every mutation is a
// conditional update guarded by rows-affected; the database is the only
// arbiter of concurrent picks.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blockdraft/blockdraft/internal/draft/engine"
	"github.com/blockdraft/blockdraft/internal/draft/outbox"
	"github.com/blockdraft/blockdraft/internal/draft/state"
	"github.com/blockdraft/blockdraft/internal/models"
	"github.com/blockdraft/blockdraft/internal/sqlutil"
	"github.com/google/uuid"
)

// ErrNotFound is returned when no draft matches the lookup.
var ErrNotFound = errors.New("draft not found")

// Repository stores and loads drafts.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateDraft inserts a fresh draft with its players, item pool and
// creation events in one transaction.
func (r *Repository) CreateDraft(ctx context.Context, d *state.Draft, events []outbox.Record) error {
	snap := d.Snapshot()

	orderJSON, err := json.Marshal(snap.PickOrder)
	if err != nil {
		return fmt.Errorf("failed to marshal pick order: %w", err)
	}

	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO drafts (id, channel_id, admin_id, status, picks_per_category,
				pick_order, current_pick_index, last_event, next_deadline, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			snap.ID, snap.ChannelID, snap.AdminID, string(snap.Status),
			snap.PicksPerCategory, orderJSON, snap.CurrentPickIndex,
			snap.LastEvent, snap.NextDeadline, snap.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert draft: %w", err)
		}

		for slot, p := range snap.Players {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO draft_players (draft_id, player_id, display_name, slot_index)
				VALUES ($1, $2, $3, $4)`,
				snap.ID, p.ID, p.DisplayName, slot,
			)
			if err != nil {
				return fmt.Errorf("failed to insert player %s: %w", p.ID, err)
			}
		}

		for catIdx, cat := range snap.Categories {
			for itemIdx, item := range cat.Items {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO draft_items (draft_id, category, item, category_index, item_index, available)
					VALUES ($1, $2, $3, $4, $5, TRUE)`,
					snap.ID, cat.Name, item, catIdx, itemIdx,
				)
				if err != nil {
					return fmt.Errorf("failed to insert item %s/%s: %w", cat.Name, item, err)
				}
			}
		}

		return outbox.InsertTx(ctx, tx, events)
	})
}

// GetDraft loads and rehydrates one draft.
func (r *Repository) GetDraft(ctx context.Context, id uuid.UUID) (*state.Draft, error) {
	rec, err := r.loadRecord(ctx, `
		SELECT id, channel_id, admin_id, status, picks_per_category,
			pick_order, current_pick_index, last_event, next_deadline, created_at
		FROM drafts WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return state.Rehydrate(*rec)
}

// ActiveDraftByChannel loads the channel's single active draft.
func (r *Repository) ActiveDraftByChannel(ctx context.Context, channelID string) (*state.Draft, error) {
	rec, err := r.loadRecord(ctx, `
		SELECT id, channel_id, admin_id, status, picks_per_category,
			pick_order, current_pick_index, last_event, next_deadline, created_at
		FROM drafts WHERE channel_id = $1 AND status = 'active'
		ORDER BY created_at DESC LIMIT 1`, channelID)
	if err != nil {
		return nil, err
	}
	return state.Rehydrate(*rec)
}

func (r *Repository) loadRecord(ctx context.Context, query string, arg any) (*state.Record, error) {
	var rec state.Record
	var status string
	var orderJSON []byte
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&rec.ID, &rec.ChannelID, &rec.AdminID, &status, &rec.PicksPerCategory,
		&orderJSON, &rec.Cursor, &rec.LastEvent, &rec.NextDeadline, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}
	rec.Status = models.DraftStatus(status)
	if err := json.Unmarshal(orderJSON, &rec.PickOrder); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pick order: %w", err)
	}

	if err := r.loadPlayers(ctx, &rec); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, &rec); err != nil {
		return nil, err
	}
	if err := r.loadPicks(ctx, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) loadPlayers(ctx context.Context, rec *state.Record) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT player_id, display_name FROM draft_players
		WHERE draft_id = $1 ORDER BY slot_index`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load players: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.ID, &p.DisplayName); err != nil {
			return fmt.Errorf("failed to scan player: %w", err)
		}
		rec.Players = append(rec.Players, p)
	}
	return rows.Err()
}

// loadItems rebuilds both the ordered category master lists and the
// availability sets from the item rows.
func (r *Repository) loadItems(ctx context.Context, rec *state.Record) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, item, available FROM draft_items
		WHERE draft_id = $1 ORDER BY category_index, item_index`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}
	defer rows.Close()

	rec.Available = make(map[string][]string)
	for rows.Next() {
		var category, item string
		var available bool
		if err := rows.Scan(&category, &item, &available); err != nil {
			return fmt.Errorf("failed to scan item: %w", err)
		}
		if n := len(rec.Categories); n == 0 || rec.Categories[n-1].Name != category {
			rec.Categories = append(rec.Categories, models.Category{Name: category})
		}
		last := &rec.Categories[len(rec.Categories)-1]
		last.Items = append(last.Items, item)
		if available {
			rec.Available[category] = append(rec.Available[category], item)
		}
	}
	return rows.Err()
}

func (r *Repository) loadPicks(ctx context.Context, rec *state.Record) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, player_id, category, item, overall_pick, picked_at
		FROM draft_picks WHERE draft_id = $1 ORDER BY overall_pick`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load picks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p := models.Pick{DraftID: rec.ID}
		if err := rows.Scan(&p.ID, &p.PlayerID, &p.Category, &p.Item, &p.OverallPick, &p.PickedAt); err != nil {
			return fmt.Errorf("failed to scan pick: %w", err)
		}
		rec.Picks = append(rec.Picks, p)
	}
	return rows.Err()
}

// CommitPick applies one validated pick atomically. The item flip and the
// cursor advance are both guarded by rows-affected; losing either guard
// rolls the transaction back and reports the conflict.
func (r *Repository) CommitPick(ctx context.Context, params engine.CommitPickParams) error {
	pick := params.Pick
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE draft_items SET available = FALSE
			WHERE draft_id = $1 AND category = $2 AND item = $3 AND available`,
			pick.DraftID, pick.Category, pick.Item,
		)
		if err != nil {
			return fmt.Errorf("failed to claim item: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return engine.ErrItemConflict
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO draft_picks (id, draft_id, player_id, category, item, overall_pick, picked_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			pick.ID, pick.DraftID, pick.PlayerID, pick.Category, pick.Item,
			pick.OverallPick, pick.PickedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert pick: %w", err)
		}

		status := string(models.DraftStatusActive)
		if params.Completes {
			status = string(models.DraftStatusCompleted)
		}
		res, err = tx.ExecContext(ctx, `
			UPDATE drafts SET
				current_pick_index = current_pick_index + 1,
				status = $4,
				next_deadline = $5,
				last_event = $6
			WHERE id = $1 AND current_pick_index = $2 AND status = $3`,
			pick.DraftID, params.ExpectedCursor, string(models.DraftStatusActive),
			status, params.NextDeadline, params.LastEvent,
		)
		if err != nil {
			return fmt.Errorf("failed to advance cursor: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return engine.ErrTurnConflict
		}

		return outbox.InsertTx(ctx, tx, params.Events)
	})
}

// MarkReset flips an active draft to reset, leaving item availability and
// pick history untouched.
func (r *Repository) MarkReset(ctx context.Context, draftID uuid.UUID, lastEvent string, events []outbox.Record) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE drafts SET status = $2, next_deadline = NULL, last_event = $3
			WHERE id = $1 AND status = $4`,
			draftID, string(models.DraftStatusReset), lastEvent,
			string(models.DraftStatusActive),
		)
		if err != nil {
			return fmt.Errorf("failed to reset draft: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return engine.ErrTurnConflict
		}
		return outbox.InsertTx(ctx, tx, events)
	})
}

// ListDraftsByChannel returns the channel's drafts, newest first.
func (r *Repository) ListDraftsByChannel(ctx context.Context, channelID string, limit int) ([]models.DraftSummary, error) {
	return r.listSummaries(ctx, `
		SELECT d.id, d.channel_id, d.admin_id, d.status, d.created_at,
			(SELECT COUNT(*) FROM draft_players p WHERE p.draft_id = d.id)
		FROM drafts d
		WHERE d.channel_id = $1
		ORDER BY d.created_at DESC LIMIT $2`, channelID, limit)
}

// RecentDraftsForPlayer returns the drafts a player participated in,
// newest first.
func (r *Repository) RecentDraftsForPlayer(ctx context.Context, playerID string, limit int) ([]models.DraftSummary, error) {
	return r.listSummaries(ctx, `
		SELECT d.id, d.channel_id, d.admin_id, d.status, d.created_at,
			(SELECT COUNT(*) FROM draft_players p WHERE p.draft_id = d.id)
		FROM drafts d
		JOIN draft_players dp ON dp.draft_id = d.id
		WHERE dp.player_id = $1
		ORDER BY d.created_at DESC LIMIT $2`, playerID, limit)
}

func (r *Repository) listSummaries(ctx context.Context, query string, args ...any) ([]models.DraftSummary, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	defer rows.Close()

	var out []models.DraftSummary
	for rows.Next() {
		var s models.DraftSummary
		var status string
		if err := rows.Scan(&s.ID, &s.ChannelID, &s.AdminID, &status, &s.CreatedAt, &s.NumPlayers); err != nil {
			return nil, fmt.Errorf("failed to scan draft summary: %w", err)
		}
		s.Status = models.DraftStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecentPicks returns a draft's latest picks, newest first.
func (r *Repository) RecentPicks(ctx context.Context, draftID uuid.UUID, limit int) ([]models.Pick, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, player_id, category, item, overall_pick, picked_at
		FROM draft_picks WHERE draft_id = $1
		ORDER BY overall_pick DESC LIMIT $2`, draftID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent picks: %w", err)
	}
	defer rows.Close()

	var out []models.Pick
	for rows.Next() {
		p := models.Pick{DraftID: draftID}
		if err := rows.Scan(&p.ID, &p.PlayerID, &p.Category, &p.Item, &p.OverallPick, &p.PickedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pick: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// NextDeadline returns the earliest pending turn deadline, or nil when no
// active draft has one.
func (r *Repository) NextDeadline(ctx context.Context) (*time.Time, error) {
	var deadline time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT next_deadline FROM drafts
		WHERE status = 'active' AND next_deadline IS NOT NULL
		ORDER BY next_deadline LIMIT 1`).Scan(&deadline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load next deadline: %w", err)
	}
	return &deadline, nil
}

// ClaimDueDrafts clears expired deadlines and returns the drafts they
// belonged to. Clearing inside the update means each deadline fires once
// even with multiple scheduler instances.
func (r *Repository) ClaimDueDrafts(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE drafts SET next_deadline = NULL
		WHERE status = 'active' AND next_deadline IS NOT NULL AND next_deadline <= $1
		RETURNING id`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due drafts: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan due draft: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecordTimeout notes an expired turn on an active draft and writes the
// timeout event. The draft stays active; the player can still pick. If the
// draft went terminal since it was claimed, nothing is written and
// ErrTurnConflict is returned so no stale timeout event reaches the
// outbox.
func (r *Repository) RecordTimeout(ctx context.Context, draftID uuid.UUID, lastEvent string, events []outbox.Record) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE drafts SET last_event = $2
			WHERE id = $1 AND status = $3`,
			draftID, lastEvent, string(models.DraftStatusActive),
		)
		if err != nil {
			return fmt.Errorf("failed to record timeout: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return engine.ErrTurnConflict
		}
		return outbox.InsertTx(ctx, tx, events)
	})
}
