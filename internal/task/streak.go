package task

// Streaks is the completion-streak summary shown on the stats surface.
type Streaks struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// Caps carried over from the original product. The longest-streak cap in
// particular is arbitrary but load-bearing for parity.
const (
	currentStreakCap = 7
	longestStreakCap = 14
)

// ApproxStreaks derives streak numbers from the overall completion ratio.
//
// This is NOT true consecutive-day tracking: the original product computed
// streaks as a ratio-based approximation bounded by fixed caps, and we
// preserve that behavior rather than silently replacing it. Callers should
// present these as estimates.
func ApproxStreaks(completed, total int) Streaks {
	if total <= 0 || completed <= 0 {
		return Streaks{}
	}
	if completed > total {
		completed = total
	}
	ratio := float64(completed) / float64(total)

	cur := int(ratio*float64(currentStreakCap) + 0.5)
	if cur > completed {
		cur = completed
	}
	longest := int(ratio*float64(longestStreakCap) + 0.5)
	if longest > completed {
		longest = completed
	}
	if longest < cur {
		longest = cur
	}
	return Streaks{Current: cur, Longest: longest}
}
