package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
)

const maxHandleLength = 32

// Store is the durable side of the identity app.
type Store interface {
	Upsert(ctx context.Context, h Handle) error
	Get(ctx context.Context, playerID string) (Handle, error)
	Delete(ctx context.Context, playerID string) (bool, error)
}

// App validates and manages game handles.
type App struct {
	store Store
	clock clockwork.Clock
}

func NewApp(store Store, clock clockwork.Clock) *App {
	return &App{store: store, clock: clock}
}

// SetHandle registers or replaces a player's in-game name.
func (a *App) SetHandle(ctx context.Context, playerID, handle string) (Handle, error) {
	handle = strings.TrimSpace(handle)
	if playerID == "" {
		return Handle{}, fmt.Errorf("player id is required")
	}
	if handle == "" {
		return Handle{}, fmt.Errorf("handle is required")
	}
	if len(handle) > maxHandleLength {
		return Handle{}, fmt.Errorf("handle longer than %d characters", maxHandleLength)
	}

	h := Handle{
		PlayerID:  playerID,
		Handle:    handle,
		UpdatedAt: a.clock.Now().UTC(),
	}
	if err := a.store.Upsert(ctx, h); err != nil {
		return Handle{}, err
	}
	return h, nil
}

// Handle returns a player's registered in-game name.
func (a *App) Handle(ctx context.Context, playerID string) (Handle, error) {
	return a.store.Get(ctx, playerID)
}

// RemoveHandle deletes a player's registration, reporting whether one
// existed.
func (a *App) RemoveHandle(ctx context.Context, playerID string) (bool, error) {
	return a.store.Delete(ctx, playerID)
}
