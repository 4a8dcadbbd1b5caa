package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied at startup. Statements are idempotent so restarts are
// safe without a migration tool.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS drafts (
		id UUID PRIMARY KEY,
		channel_id TEXT NOT NULL,
		admin_id TEXT NOT NULL,
		status TEXT NOT NULL,
		picks_per_category INT NOT NULL,
		pick_order JSONB NOT NULL,
		current_pick_index INT NOT NULL DEFAULT 0,
		last_event TEXT NOT NULL DEFAULT '',
		next_deadline TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_drafts_channel
		ON drafts (channel_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_drafts_due
		ON drafts (next_deadline)
		WHERE status = 'active' AND next_deadline IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS draft_players (
		draft_id UUID NOT NULL REFERENCES drafts (id),
		player_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		slot_index INT NOT NULL,
		PRIMARY KEY (draft_id, player_id),
		UNIQUE (draft_id, slot_index)
	)`,

	`CREATE TABLE IF NOT EXISTS draft_items (
		draft_id UUID NOT NULL REFERENCES drafts (id),
		category TEXT NOT NULL,
		item TEXT NOT NULL,
		category_index INT NOT NULL,
		item_index INT NOT NULL,
		available BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (draft_id, category, item)
	)`,

	`CREATE TABLE IF NOT EXISTS draft_picks (
		id UUID PRIMARY KEY,
		draft_id UUID NOT NULL REFERENCES drafts (id),
		player_id TEXT NOT NULL,
		category TEXT NOT NULL,
		item TEXT NOT NULL,
		overall_pick INT NOT NULL,
		picked_at TIMESTAMPTZ NOT NULL,
		UNIQUE (draft_id, overall_pick),
		UNIQUE (draft_id, category, item)
	)`,

	`CREATE TABLE IF NOT EXISTS draft_outbox (
		id UUID PRIMARY KEY,
		draft_id UUID NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		sent_at TIMESTAMPTZ,
		attempts INT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_draft_outbox_unsent
		ON draft_outbox (created_at)
		WHERE sent_at IS NULL`,
}

// EnsureSchema creates the draft tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
