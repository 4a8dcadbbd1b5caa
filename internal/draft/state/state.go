// Package state holds the draft aggregate: players, category availability,
// pick history, the turn cursor, and the status machine. All mutation goes
// through the narrow surface the pick engine uses; everything else reads
// snapshots.
package state

import (
	"fmt"
	"time"

	"github.com/blockdraft/blockdraft/internal/models"
	"github.com/google/uuid"
)

// InvariantError reports a mutation that would corrupt the aggregate, or a
// stored record that already violates the draft invariants. It always
// indicates a bug or data corruption, never a user mistake.
type InvariantError struct {
	DraftID uuid.UUID
	Detail  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("draft %s invariant violation: %s", e.DraftID, e.Detail)
}

// Config carries the immutable fields fixed at draft creation.
type Config struct {
	ID               uuid.UUID
	ChannelID        string
	AdminID          string
	Players          []models.Player
	Categories       []models.Category
	PicksPerCategory int
	PickOrder        []int
	CreatedAt        time.Time
}

// Draft is the aggregate for one draft. Not safe for concurrent use; the
// authoritative copy lives in storage and every loaded Draft is a snapshot
// that commits conditionally through the repository.
type Draft struct {
	id               uuid.UUID
	channelID        string
	adminID          string
	status           models.DraftStatus
	players          []models.Player
	categories       []models.Category
	picksPerCategory int
	pickOrder        []int
	cursor           int

	// available[category][item] is membership in the availability set; the
	// master list in categories preserves display order.
	available map[string]map[string]bool
	// picks[playerID][category] is the ordered list of items that player
	// picked from that category.
	picks map[string]map[string][]string

	lastEvent    string
	nextDeadline *time.Time
	createdAt    time.Time
}

// New creates a fresh draft with every item available and the cursor at
// zero. A draft with an empty pick order has no pending picks and is born
// completed. Structural validation only; participant-count policy lives
// in the application layer.
func New(cfg Config) (*Draft, error) {
	d := &Draft{
		id:               cfg.ID,
		channelID:        cfg.ChannelID,
		adminID:          cfg.AdminID,
		status:           models.DraftStatusActive,
		players:          append([]models.Player(nil), cfg.Players...),
		categories:       copyCategories(cfg.Categories),
		picksPerCategory: cfg.PicksPerCategory,
		pickOrder:        append([]int(nil), cfg.PickOrder...),
		available:        make(map[string]map[string]bool, len(cfg.Categories)),
		picks:            make(map[string]map[string][]string, len(cfg.Players)),
		createdAt:        cfg.CreatedAt,
	}
	for _, cat := range d.categories {
		set := make(map[string]bool, len(cat.Items))
		for _, item := range cat.Items {
			set[item] = true
		}
		d.available[cat.Name] = set
	}
	if len(d.pickOrder) == 0 {
		d.status = models.DraftStatusCompleted
	}
	if err := d.verify(); err != nil {
		return nil, err
	}
	return d, nil
}

// Record carries everything needed to rebuild a draft from storage.
type Record struct {
	Config
	Status       models.DraftStatus
	Cursor       int
	Available    map[string][]string
	Picks        []models.Pick
	LastEvent    string
	NextDeadline *time.Time
}

// Rehydrate rebuilds a draft from its stored record and re-checks every
// invariant, so corruption surfaces as an InvariantError at load time
// instead of as silent misbehavior later.
func Rehydrate(rec Record) (*Draft, error) {
	d := &Draft{
		id:               rec.ID,
		channelID:        rec.ChannelID,
		adminID:          rec.AdminID,
		status:           rec.Status,
		players:          append([]models.Player(nil), rec.Players...),
		categories:       copyCategories(rec.Categories),
		picksPerCategory: rec.PicksPerCategory,
		pickOrder:        append([]int(nil), rec.PickOrder...),
		cursor:           rec.Cursor,
		available:        make(map[string]map[string]bool, len(rec.Categories)),
		picks:            make(map[string]map[string][]string, len(rec.Players)),
		lastEvent:        rec.LastEvent,
		nextDeadline:     rec.NextDeadline,
		createdAt:        rec.CreatedAt,
	}
	for _, cat := range d.categories {
		d.available[cat.Name] = make(map[string]bool, len(cat.Items))
	}
	for cat, items := range rec.Available {
		set, ok := d.available[cat]
		if !ok {
			return nil, &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("availability references unknown category %q", cat)}
		}
		for _, item := range items {
			set[item] = true
		}
	}
	for _, p := range rec.Picks {
		byCat := d.picks[p.PlayerID]
		if byCat == nil {
			byCat = make(map[string][]string)
			d.picks[p.PlayerID] = byCat
		}
		byCat[p.Category] = append(byCat[p.Category], p.Item)
	}
	if err := d.verify(); err != nil {
		return nil, err
	}
	return d, nil
}

// verify checks the full invariant set from the data model.
func (d *Draft) verify() error {
	if d.cursor < 0 || d.cursor > len(d.pickOrder) {
		return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("cursor %d outside pick order of length %d", d.cursor, len(d.pickOrder))}
	}
	if d.cursor == len(d.pickOrder) && d.status == models.DraftStatusActive {
		return &InvariantError{DraftID: d.id, Detail: "all picks made but draft still active"}
	}
	if d.picksPerCategory < 0 {
		return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("negative picks per category %d", d.picksPerCategory)}
	}

	seenPlayers := make(map[string]bool, len(d.players))
	for _, p := range d.players {
		if p.ID == "" {
			return &InvariantError{DraftID: d.id, Detail: "player with empty identifier"}
		}
		if seenPlayers[p.ID] {
			return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("duplicate player %s", p.ID)}
		}
		seenPlayers[p.ID] = true
	}

	// The pick order must reference valid slots, each exactly
	// totalPicksPerPlayer times.
	perPlayer := d.TotalPicksPerPlayer()
	slotCounts := make(map[int]int, len(d.players))
	for _, slot := range d.pickOrder {
		if slot < 0 || slot >= len(d.players) {
			return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("pick order references slot %d with %d players", slot, len(d.players))}
		}
		slotCounts[slot]++
	}
	if len(d.pickOrder) != perPlayer*len(d.players) {
		return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("pick order length %d, want %d", len(d.pickOrder), perPlayer*len(d.players))}
	}
	for slot := range d.players {
		if slotCounts[slot] != perPlayer {
			return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("slot %d appears %d times in pick order, want %d", slot, slotCounts[slot], perPlayer)}
		}
	}

	// Availability and pick history must partition each category's master
	// list, and per-player per-category counts must respect the limit.
	pickedCount := make(map[string]map[string]int, len(d.categories))
	for playerID, byCat := range d.picks {
		if !seenPlayers[playerID] {
			return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("pick recorded for non-participant %s", playerID)}
		}
		for cat, items := range byCat {
			if len(items) > d.picksPerCategory {
				return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("player %s has %d picks in %q, limit %d", playerID, len(items), cat, d.picksPerCategory)}
			}
			counts := pickedCount[cat]
			if counts == nil {
				counts = make(map[string]int)
				pickedCount[cat] = counts
			}
			for _, item := range items {
				counts[item]++
			}
		}
	}
	for _, cat := range d.categories {
		avail := d.available[cat.Name]
		master := make(map[string]bool, len(cat.Items))
		for _, item := range cat.Items {
			master[item] = true
			picked := pickedCount[cat.Name][item]
			if picked > 1 {
				return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("item %q in %q picked %d times", item, cat.Name, picked)}
			}
			if avail[item] && picked > 0 {
				return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("item %q in %q both available and picked", item, cat.Name)}
			}
			if !avail[item] && picked == 0 {
				return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("item %q in %q neither available nor picked", item, cat.Name)}
			}
		}
		for item := range avail {
			if !master[item] {
				return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("available item %q not in master list of %q", item, cat.Name)}
			}
		}
		for item := range pickedCount[cat.Name] {
			if !master[item] {
				return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("picked item %q not in master list of %q", item, cat.Name)}
			}
		}
	}
	for cat := range pickedCount {
		if _, ok := d.available[cat]; !ok {
			return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("pick recorded for unknown category %q", cat)}
		}
	}
	return nil
}

// Read accessors.

func (d *Draft) ID() uuid.UUID              { return d.id }
func (d *Draft) ChannelID() string          { return d.channelID }
func (d *Draft) AdminID() string            { return d.adminID }
func (d *Draft) Status() models.DraftStatus { return d.status }
func (d *Draft) PicksPerCategory() int      { return d.picksPerCategory }
func (d *Draft) CurrentPickIndex() int      { return d.cursor }
func (d *Draft) TotalPicks() int            { return len(d.pickOrder) }
func (d *Draft) CreatedAt() time.Time       { return d.createdAt }
func (d *Draft) LastEvent() string          { return d.lastEvent }

// TotalPicksPerPlayer is picksPerCategory times the number of categories.
func (d *Draft) TotalPicksPerPlayer() int {
	return d.picksPerCategory * len(d.categories)
}

// AllPicksMade reports whether the cursor has consumed the whole order.
func (d *Draft) AllPicksMade() bool {
	return d.cursor >= len(d.pickOrder)
}

// Players returns the ordered participant list.
func (d *Draft) Players() []models.Player {
	return append([]models.Player(nil), d.players...)
}

// HasPlayer reports whether the identifier belongs to a participant.
func (d *Draft) HasPlayer(playerID string) bool {
	for _, p := range d.players {
		if p.ID == playerID {
			return true
		}
	}
	return false
}

// PlayerBySlot resolves a slot index from the pick order to its player.
func (d *Draft) PlayerBySlot(slot int) (models.Player, error) {
	if slot < 0 || slot >= len(d.players) {
		return models.Player{}, &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("slot %d outside player list of length %d", slot, len(d.players))}
	}
	return d.players[slot], nil
}

// CurrentPlayer returns the player whose turn it is. The error is an
// InvariantError if the cursor points outside the order while the draft is
// still active; the boolean is false once no pick is pending.
func (d *Draft) CurrentPlayer() (models.Player, bool, error) {
	if d.status != models.DraftStatusActive || d.AllPicksMade() {
		return models.Player{}, false, nil
	}
	p, err := d.PlayerBySlot(d.pickOrder[d.cursor])
	if err != nil {
		return models.Player{}, false, err
	}
	return p, true, nil
}

// IsAvailable reports whether an item is still pickable in a category.
func (d *Draft) IsAvailable(category, item string) bool {
	return d.available[category][item]
}

// HasCategory reports whether the category exists in this draft's ruleset.
func (d *Draft) HasCategory(category string) bool {
	_, ok := d.available[category]
	return ok
}

// CategoryPickCount returns how many items a player has taken from one
// category.
func (d *Draft) CategoryPickCount(playerID, category string) int {
	return len(d.picks[playerID][category])
}

// Narrow mutation surface, used only by the pick engine (and by the
// repository when replaying a committed mutation onto the loaded copy).

// RemoveFromAvailability takes an item out of a category's availability
// set. Removing an absent item is an invariant violation, not a validation
// failure; the engine checks availability before committing.
func (d *Draft) RemoveFromAvailability(category, item string) error {
	set, ok := d.available[category]
	if !ok {
		return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("remove from unknown category %q", category)}
	}
	if !set[item] {
		return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("remove unavailable item %q from %q", item, category)}
	}
	delete(set, item)
	return nil
}

// AppendPick records an item in a player's pick history.
func (d *Draft) AppendPick(playerID, category, item string) error {
	if !d.HasPlayer(playerID) {
		return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("pick appended for non-participant %s", playerID)}
	}
	if !d.HasCategory(category) {
		return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("pick appended for unknown category %q", category)}
	}
	byCat := d.picks[playerID]
	if byCat == nil {
		byCat = make(map[string][]string)
		d.picks[playerID] = byCat
	}
	if len(byCat[category]) >= d.picksPerCategory {
		return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("player %s exceeds limit %d in %q", playerID, d.picksPerCategory, category)}
	}
	byCat[category] = append(byCat[category], item)
	return nil
}

// SetLastEvent replaces the board's one-line activity note. Free-form
// text, no invariants.
func (d *Draft) SetLastEvent(text string) {
	d.lastEvent = text
}

// SetDeadline replaces the pending turn deadline; nil clears it.
func (d *Draft) SetDeadline(t *time.Time) {
	if t == nil {
		d.nextDeadline = nil
		return
	}
	v := *t
	d.nextDeadline = &v
}

// Deadline returns the pending turn deadline, or nil.
func (d *Draft) Deadline() *time.Time {
	if d.nextDeadline == nil {
		return nil
	}
	v := *d.nextDeadline
	return &v
}

// AdvanceCursor moves the turn pointer forward by one.
func (d *Draft) AdvanceCursor() error {
	if d.cursor >= len(d.pickOrder) {
		return &InvariantError{DraftID: d.id, Detail: "cursor advanced past end of pick order"}
	}
	d.cursor++
	return nil
}

// SetStatus applies a status transition. Only active→completed and
// active→reset are legal; completed additionally requires that every pick
// has been made.
func (d *Draft) SetStatus(status models.DraftStatus) error {
	if d.status != models.DraftStatusActive {
		return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("transition from terminal status %s", d.status)}
	}
	switch status {
	case models.DraftStatusCompleted:
		if !d.AllPicksMade() {
			return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("completed with %d of %d picks made", d.cursor, len(d.pickOrder))}
		}
	case models.DraftStatusReset:
	default:
		return &InvariantError{DraftID: d.id, Detail: fmt.Sprintf("illegal transition active→%s", status)}
	}
	d.status = status
	return nil
}

// Snapshot produces the deep-copied read view used by presentation and by
// the external in-process contract.
func (d *Draft) Snapshot() *models.DraftSnapshot {
	availability := make(map[string][]string, len(d.categories))
	for _, cat := range d.categories {
		items := make([]string, 0, len(d.available[cat.Name]))
		for _, item := range cat.Items {
			if d.available[cat.Name][item] {
				items = append(items, item)
			}
		}
		availability[cat.Name] = items
	}
	picks := make(map[string]map[string][]string, len(d.picks))
	for playerID, byCat := range d.picks {
		out := make(map[string][]string, len(byCat))
		for cat, items := range byCat {
			out[cat] = append([]string(nil), items...)
		}
		picks[playerID] = out
	}
	var deadline *time.Time
	if d.nextDeadline != nil {
		t := *d.nextDeadline
		deadline = &t
	}
	return &models.DraftSnapshot{
		ID:                  d.id,
		ChannelID:           d.channelID,
		AdminID:             d.adminID,
		Status:              d.status,
		Players:             d.Players(),
		Categories:          copyCategories(d.categories),
		PicksPerCategory:    d.picksPerCategory,
		TotalPicksPerPlayer: d.TotalPicksPerPlayer(),
		TotalPicks:          len(d.pickOrder),
		PickOrder:           append([]int(nil), d.pickOrder...),
		CurrentPickIndex:    d.cursor,
		Availability:        availability,
		PicksByPlayer:       picks,
		LastEvent:           d.lastEvent,
		NextDeadline:        deadline,
		CreatedAt:           d.createdAt,
	}
}

func copyCategories(cats []models.Category) []models.Category {
	out := make([]models.Category, len(cats))
	for i, cat := range cats {
		out[i] = models.Category{Name: cat.Name, Items: append([]string(nil), cat.Items...)}
	}
	return out
}
