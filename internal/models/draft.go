package models

import (
	"time"

	"github.com/google/uuid"
)

// DraftStatus defines the lifecycle state of a draft.
type DraftStatus string

const (
	DraftStatusActive    DraftStatus = "active"
	DraftStatusCompleted DraftStatus = "completed"
	DraftStatusReset     DraftStatus = "reset"
)

// Terminal reports whether no further picks are possible.
func (s DraftStatus) Terminal() bool {
	return s == DraftStatusCompleted || s == DraftStatusReset
}

// DraftSnapshot is a read-only view of one draft, deep-copied from the
// aggregate. The presentation layer renders from this and nothing else.
type DraftSnapshot struct {
	ID                  uuid.UUID                      `json:"id"`
	ChannelID           string                         `json:"channel_id"`
	AdminID             string                         `json:"admin_id"`
	Status              DraftStatus                    `json:"status"`
	Players             []Player                       `json:"players"`
	Categories          []Category                     `json:"categories"`
	PicksPerCategory    int                            `json:"picks_per_category"`
	TotalPicksPerPlayer int                            `json:"total_picks_per_player"`
	TotalPicks          int                            `json:"total_picks"`
	PickOrder           []int                          `json:"pick_order"`
	CurrentPickIndex    int                            `json:"current_pick_index"`
	Availability        map[string][]string            `json:"availability"`
	PicksByPlayer       map[string]map[string][]string `json:"picks_by_player"`
	LastEvent           string                         `json:"last_event,omitempty"`
	NextDeadline        *time.Time                     `json:"next_deadline,omitempty"`
	CreatedAt           time.Time                      `json:"created_at"`
}

// CurrentPlayer returns the player on the clock. The second return is
// false once the draft is terminal or every pick has been made.
func (s *DraftSnapshot) CurrentPlayer() (Player, bool) {
	if s.Status != DraftStatusActive || s.CurrentPickIndex >= len(s.PickOrder) {
		return Player{}, false
	}
	slot := s.PickOrder[s.CurrentPickIndex]
	if slot < 0 || slot >= len(s.Players) {
		return Player{}, false
	}
	return s.Players[slot], true
}

// PicksMadeBy counts every item a player has picked across categories.
func (s *DraftSnapshot) PicksMadeBy(playerID string) int {
	total := 0
	for _, items := range s.PicksByPlayer[playerID] {
		total += len(items)
	}
	return total
}

// DraftSummary is the compact listing row for channel and history queries.
type DraftSummary struct {
	ID         uuid.UUID   `json:"id"`
	ChannelID  string      `json:"channel_id"`
	AdminID    string      `json:"admin_id"`
	Status     DraftStatus `json:"status"`
	NumPlayers int         `json:"num_players"`
	CreatedAt  time.Time   `json:"created_at"`
}
