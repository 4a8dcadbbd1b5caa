// Package order generates the global pick sequence for a draft.
package order

// Snake returns the serpentine pick order for the given player count and
// picks per player: round i emits the slot indices 0..playerCount-1, and
// every odd round is reversed, so whoever picks last in one round picks
// first in the next. The result has length playerCount*picksPerPlayer and
// contains each slot index exactly picksPerPlayer times.
//
// playerCount must be at least 1 and picksPerPlayer at least 0; zero picks
// per player yields an empty order.
func Snake(playerCount, picksPerPlayer int) []int {
	indices := make([]int, 0, playerCount*picksPerPlayer)
	for round := 0; round < picksPerPlayer; round++ {
		if round%2 == 0 {
			for slot := 0; slot < playerCount; slot++ {
				indices = append(indices, slot)
			}
		} else {
			for slot := playerCount - 1; slot >= 0; slot-- {
				indices = append(indices, slot)
			}
		}
	}
	return indices
}
