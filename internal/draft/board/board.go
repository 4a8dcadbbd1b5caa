// Package board renders a draft snapshot as chat markdown: a status
// header, the item pool with taken items struck out, a window of the pick
// order around the cursor, and per-player summaries.
package board

import (
	"fmt"
	"strings"

	"github.com/blockdraft/blockdraft/internal/models"
)

// orderWindow is how many picks of context to show on each side of the
// cursor.
const orderWindow = 2

// Render produces the full board for one draft.
func Render(snap *models.DraftSnapshot) string {
	var b strings.Builder

	b.WriteString(Header(snap))
	b.WriteString("\n\n")

	for _, cat := range snap.Categories {
		b.WriteString(categoryLine(snap, cat))
		b.WriteString("\n")
	}

	if order := OrderLine(snap); order != "" {
		b.WriteString("\n")
		b.WriteString(order)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	for _, p := range snap.Players {
		b.WriteString(playerLine(snap, p))
		b.WriteString("\n")
	}

	if snap.LastEvent != "" {
		b.WriteString("\n_")
		b.WriteString(snap.LastEvent)
		b.WriteString("_\n")
	}
	return b.String()
}

// Header is the one-line draft status.
func Header(snap *models.DraftSnapshot) string {
	switch snap.Status {
	case models.DraftStatusCompleted:
		return fmt.Sprintf("**Draft complete** — all %d picks made", snap.TotalPicks)
	case models.DraftStatusReset:
		return fmt.Sprintf("**Draft reset** after %d of %d picks", snap.CurrentPickIndex, snap.TotalPicks)
	}
	current, ok := snap.CurrentPlayer()
	if !ok {
		return "**Draft active**"
	}
	return fmt.Sprintf("**Pick %d of %d** — %s is on the clock",
		snap.CurrentPickIndex+1, snap.TotalPicks, current.DisplayName)
}

func categoryLine(snap *models.DraftSnapshot, cat models.Category) string {
	available := make(map[string]bool, len(snap.Availability[cat.Name]))
	for _, item := range snap.Availability[cat.Name] {
		available[item] = true
	}

	parts := make([]string, len(cat.Items))
	for i, item := range cat.Items {
		if available[item] {
			parts[i] = item
		} else {
			parts[i] = "~~" + item + "~~"
		}
	}
	return fmt.Sprintf("**%s** (%d/%d left): %s",
		cat.Name, len(snap.Availability[cat.Name]), len(cat.Items),
		strings.Join(parts, ", "))
}

// OrderLine shows the pick order around the cursor, with ellipses when
// the window clips either end. Empty for terminal drafts.
func OrderLine(snap *models.DraftSnapshot) string {
	if snap.Status != models.DraftStatusActive || snap.CurrentPickIndex >= len(snap.PickOrder) {
		return ""
	}

	start := snap.CurrentPickIndex - orderWindow
	if start < 0 {
		start = 0
	}
	end := snap.CurrentPickIndex + orderWindow + 1
	if end > len(snap.PickOrder) {
		end = len(snap.PickOrder)
	}

	var parts []string
	if start > 0 {
		parts = append(parts, "…")
	}
	for i := start; i < end; i++ {
		slot := snap.PickOrder[i]
		name := fmt.Sprintf("slot %d", slot)
		if slot >= 0 && slot < len(snap.Players) {
			name = snap.Players[slot].DisplayName
		}
		if i == snap.CurrentPickIndex {
			name = "**" + name + "**"
		}
		parts = append(parts, name)
	}
	if end < len(snap.PickOrder) {
		parts = append(parts, "…")
	}
	return "Order: " + strings.Join(parts, " → ")
}

func playerLine(snap *models.DraftSnapshot, p models.Player) string {
	made := snap.PicksMadeBy(p.ID)
	var picked []string
	for _, cat := range snap.Categories {
		for _, item := range snap.PicksByPlayer[p.ID][cat.Name] {
			picked = append(picked, item)
		}
	}
	line := fmt.Sprintf("%s: %d/%d", p.DisplayName, made, snap.TotalPicksPerPlayer)
	if len(picked) > 0 {
		line += " — " + strings.Join(picked, ", ")
	}
	return line
}

// PlayerDetail is the expanded single-player view, grouped by category.
func PlayerDetail(snap *models.DraftSnapshot, playerID string) string {
	var player *models.Player
	for i := range snap.Players {
		if snap.Players[i].ID == playerID {
			player = &snap.Players[i]
			break
		}
	}
	if player == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** — %d/%d picks\n",
		player.DisplayName, snap.PicksMadeBy(playerID), snap.TotalPicksPerPlayer)
	for _, cat := range snap.Categories {
		items := snap.PicksByPlayer[playerID][cat.Name]
		if len(items) == 0 {
			fmt.Fprintf(&b, "%s: —\n", cat.Name)
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", cat.Name, strings.Join(items, ", "))
	}
	return b.String()
}
