package draft

import (
	"github.com/blockdraft/blockdraft/internal/models"
)

const (
	// MinPlayers and MaxPlayers bound the participant list.
	MinPlayers = 2
	MaxPlayers = 4
)

// DefaultPicksPerCategory is the ruleset default: head-to-head drafts
// split each category evenly, larger drafts take one item each.
func DefaultPicksPerCategory(playerCount int) int {
	if playerCount == 2 {
		return 2
	}
	return 1
}

// CreateDraftRequest carries the inputs for a new draft.
// PicksPerCategory zero means "use the ruleset default".
type CreateDraftRequest struct {
	ChannelID        string
	AdminID          string
	Players          []models.Player
	PicksPerCategory int
}

// PlayerSummary is one participant's standing inside a draft.
type PlayerSummary struct {
	Player         models.Player       `json:"player"`
	Picks          map[string][]string `json:"picks"`
	PicksMade      int                 `json:"picks_made"`
	PicksRemaining int                 `json:"picks_remaining"`
	OnClock        bool                `json:"on_clock"`
}
