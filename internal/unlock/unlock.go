// Package unlock holds the pure progression rules that decide which NPCs
// become playable.
package unlock

import "time"

// HealsPerUnlock is how many heals open one more catalog slot.
const HealsPerUnlock = 2

// ComputeUnlocked returns the indices in [0, base+healedCount/2) that are not
// already unlocked, ascending. The bound is clamped to catalogSize.
func ComputeUnlocked(healedCount, catalogSize, base int, unlocked map[int]bool) []int {
	if healedCount < 0 {
		healedCount = 0
	}
	if base < 0 {
		base = 0
	}
	limit := base + healedCount/HealsPerUnlock
	if limit > catalogSize {
		limit = catalogSize
	}

	var out []int
	for i := 0; i < limit; i++ {
		if !unlocked[i] {
			out = append(out, i)
		}
	}
	return out
}

// DefaultUnlocked lists every catalog index except the finale ones.
func DefaultUnlocked(catalogSize int, finale []int) []int {
	skip := make(map[int]bool, len(finale))
	for _, f := range finale {
		skip[f] = true
	}
	out := make([]int, 0, catalogSize)
	for i := 0; i < catalogSize; i++ {
		if !skip[i] {
			out = append(out, i)
		}
	}
	return out
}

// TimeAwardDue reports whether the one-time finale award should fire.
func TimeAwardDue(elapsed, threshold time.Duration, given bool) bool {
	if given || threshold <= 0 {
		return false
	}
	return elapsed >= threshold
}

// TimeAward returns the finale indices that the award would newly unlock.
func TimeAward(finale []int, unlocked map[int]bool) []int {
	var out []int
	for _, f := range finale {
		if !unlocked[f] {
			out = append(out, f)
		}
	}
	return out
}
