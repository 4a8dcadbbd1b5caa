package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type fakeStore struct {
	handles map[string]Handle
}

func newFakeStore() *fakeStore {
	return &fakeStore{handles: make(map[string]Handle)}
}

func (f *fakeStore) Upsert(_ context.Context, h Handle) error {
	f.handles[h.PlayerID] = h
	return nil
}

func (f *fakeStore) Get(_ context.Context, playerID string) (Handle, error) {
	h, ok := f.handles[playerID]
	if !ok {
		return Handle{}, ErrHandleNotFound
	}
	return h, nil
}

func (f *fakeStore) Delete(_ context.Context, playerID string) (bool, error) {
	_, ok := f.handles[playerID]
	delete(f.handles, playerID)
	return ok, nil
}

func newTestApp() (*App, *fakeStore) {
	store := newFakeStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewApp(store, clock), store
}

func TestSetHandleUpserts(t *testing.T) {
	app, _ := newTestApp()

	h, err := app.SetHandle(context.Background(), "alice", "  Blockbreaker99 ")
	if err != nil {
		t.Fatalf("SetHandle: %v", err)
	}
	if h.Handle != "Blockbreaker99" {
		t.Fatalf("handle = %q, want trimmed Blockbreaker99", h.Handle)
	}

	// Setting again replaces.
	if _, err := app.SetHandle(context.Background(), "alice", "Creeper"); err != nil {
		t.Fatalf("SetHandle replace: %v", err)
	}
	got, err := app.Handle(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got.Handle != "Creeper" {
		t.Fatalf("handle = %q, want Creeper", got.Handle)
	}
}

func TestSetHandleValidation(t *testing.T) {
	app, _ := newTestApp()

	if _, err := app.SetHandle(context.Background(), "", "x"); err == nil {
		t.Fatal("expected error for empty player id")
	}
	if _, err := app.SetHandle(context.Background(), "alice", "   "); err == nil {
		t.Fatal("expected error for blank handle")
	}
	if _, err := app.SetHandle(context.Background(), "alice", strings.Repeat("x", 33)); err == nil {
		t.Fatal("expected error for oversized handle")
	}
}

func TestHandleNotFound(t *testing.T) {
	app, _ := newTestApp()
	_, err := app.Handle(context.Background(), "nobody")
	if !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("got %v, want ErrHandleNotFound", err)
	}
}

func TestRemoveHandle(t *testing.T) {
	app, _ := newTestApp()
	if _, err := app.SetHandle(context.Background(), "alice", "Creeper"); err != nil {
		t.Fatalf("SetHandle: %v", err)
	}

	removed, err := app.RemoveHandle(context.Background(), "alice")
	if err != nil || !removed {
		t.Fatalf("RemoveHandle = %v, %v, want true, nil", removed, err)
	}
	removed, err = app.RemoveHandle(context.Background(), "alice")
	if err != nil || removed {
		t.Fatalf("second RemoveHandle = %v, %v, want false, nil", removed, err)
	}
}
