package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// InsertTx writes records inside the caller's transaction so the event
// rows commit or roll back with the state change that produced them.
func InsertTx(ctx context.Context, tx *sql.Tx, records []Record) error {
	for _, r := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO draft_outbox (id, draft_id, event_type, payload, created_at, attempts)
			VALUES ($1, $2, $3, $4, $5, 0)`,
			r.ID, r.DraftID, r.EventType, []byte(r.Payload), r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert outbox record %s: %w", r.EventType, err)
		}
	}
	return nil
}

// Repository reads and settles outbox rows for the publishing worker.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FetchUnsent returns up to limit unsent records, oldest first.
func (r *Repository) FetchUnsent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, draft_id, event_type, payload, created_at, attempts
		FROM draft_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbox batch: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.DraftID, &rec.EventType, &payload, &rec.CreatedAt, &rec.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan outbox record: %w", err)
		}
		rec.Payload = payload
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkSent settles published records.
func (r *Repository) MarkSent(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE draft_outbox SET sent_at = $2 WHERE id = ANY($1)`,
		pq.Array(ids), at)
	if err != nil {
		return fmt.Errorf("failed to mark outbox records sent: %w", err)
	}
	return nil
}

// MarkFailed bumps the attempt counter on records that could not be
// published; they stay unsent and are retried on a later poll.
func (r *Repository) MarkFailed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE draft_outbox SET attempts = attempts + 1 WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark outbox records failed: %w", err)
	}
	return nil
}
