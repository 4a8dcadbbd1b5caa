// Package identity keeps the game-handle registry: the in-game name each
// chat user wants shown next to their picks.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrHandleNotFound is returned when a player has no registered handle.
var ErrHandleNotFound = errors.New("handle not found")

// Handle is one registry entry.
type Handle struct {
	PlayerID  string    `json:"player_id"`
	Handle    string    `json:"handle"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository stores handles in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the registry table if it does not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS game_handles (
			player_id TEXT PRIMARY KEY,
			handle TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to apply identity schema: %w", err)
	}
	return nil
}

// Upsert sets or replaces a player's handle.
func (r *Repository) Upsert(ctx context.Context, h Handle) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO game_handles (player_id, handle, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (player_id) DO UPDATE
		SET handle = EXCLUDED.handle, updated_at = EXCLUDED.updated_at`,
		h.PlayerID, h.Handle, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert handle: %w", err)
	}
	return nil
}

// Get returns a player's handle.
func (r *Repository) Get(ctx context.Context, playerID string) (Handle, error) {
	var h Handle
	err := r.db.QueryRowContext(ctx, `
		SELECT player_id, handle, updated_at FROM game_handles
		WHERE player_id = $1`, playerID,
	).Scan(&h.PlayerID, &h.Handle, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Handle{}, ErrHandleNotFound
	}
	if err != nil {
		return Handle{}, fmt.Errorf("failed to load handle: %w", err)
	}
	return h, nil
}

// Delete removes a player's handle, reporting whether one existed.
func (r *Repository) Delete(ctx context.Context, playerID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM game_handles WHERE player_id = $1`, playerID)
	if err != nil {
		return false, fmt.Errorf("failed to delete handle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
