// Package events defines the domain event payloads written to the outbox
// and published to the event stream.
package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeDraftStarted   = "draft.started"
	TypePickMade       = "draft.pick_made"
	TypeDraftCompleted = "draft.completed"
	TypeDraftReset     = "draft.reset"
	TypePickTimedOut   = "draft.pick_timed_out"
)

// DraftStarted is emitted once when a draft is created.
type DraftStarted struct {
	DraftID          uuid.UUID `json:"draft_id"`
	ChannelID        string    `json:"channel_id"`
	AdminID          string    `json:"admin_id"`
	PlayerIDs        []string  `json:"player_ids"`
	Categories       []string  `json:"categories"`
	PicksPerCategory int       `json:"picks_per_category"`
	TotalPicks       int       `json:"total_picks"`
	StartedAt        time.Time `json:"started_at"`
}

// PickMade is emitted for every accepted pick.
type PickMade struct {
	DraftID      uuid.UUID `json:"draft_id"`
	PickID       uuid.UUID `json:"pick_id"`
	PlayerID     string    `json:"player_id"`
	Category     string    `json:"category"`
	Item         string    `json:"item"`
	OverallPick  int       `json:"overall_pick"`
	TotalPicks   int       `json:"total_picks"`
	NextPlayerID string    `json:"next_player_id,omitempty"`
	PickedAt     time.Time `json:"picked_at"`
}

// DraftCompleted is emitted in the same commit as the final pick.
type DraftCompleted struct {
	DraftID     uuid.UUID `json:"draft_id"`
	ChannelID   string    `json:"channel_id"`
	TotalPicks  int       `json:"total_picks"`
	CompletedAt time.Time `json:"completed_at"`
}

// DraftReset is emitted when an admin abandons a draft.
type DraftReset struct {
	DraftID   uuid.UUID `json:"draft_id"`
	ChannelID string    `json:"channel_id"`
	ResetBy   string    `json:"reset_by"`
	ResetAt   time.Time `json:"reset_at"`
}

// PickTimedOut is emitted when a turn deadline passes without a pick. The
// draft stays active; the player can still pick.
type PickTimedOut struct {
	DraftID     uuid.UUID `json:"draft_id"`
	ChannelID   string    `json:"channel_id"`
	PlayerID    string    `json:"player_id"`
	OverallPick int       `json:"overall_pick"`
	DeadlineAt  time.Time `json:"deadline_at"`
}
