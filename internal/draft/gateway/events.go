package gateway

import (
	"time"

	"github.com/blockdraft/blockdraft/internal/models"
	"github.com/google/uuid"
)

// EventType classifies messages pushed over WebSocket.
type EventType string

const (
	EventBoardUpdated   EventType = "board_updated"
	EventPickMade       EventType = "pick_made"
	EventDraftCompleted EventType = "draft_completed"
	EventDraftReset     EventType = "draft_reset"
	EventPickTimedOut   EventType = "pick_timed_out"
)

// DraftEvent is one WebSocket push: the rendered board plus the snapshot
// it was rendered from.
type DraftEvent struct {
	Type      EventType             `json:"type"`
	DraftID   uuid.UUID             `json:"draft_id"`
	Board     string                `json:"board"`
	Snapshot  *models.DraftSnapshot `json:"snapshot"`
	Pick      *models.Pick          `json:"pick,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}
