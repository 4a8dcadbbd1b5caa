package models

import (
	"time"

	"github.com/google/uuid"
)

// Pick is one accepted pick, append-only in storage.
type Pick struct {
	ID          uuid.UUID `json:"id"`
	DraftID     uuid.UUID `json:"draft_id"`
	PlayerID    string    `json:"player_id"`
	Category    string    `json:"category"`
	Item        string    `json:"item"`
	OverallPick int       `json:"overall_pick"`
	PickedAt    time.Time `json:"picked_at"`
}
