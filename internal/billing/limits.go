package billing

import "tableline/internal/types"

// Threshold percentages for limit classification. An organization at or above
// WarningThresholdPct of its quota is in the warning band; at or above
// BlockedThresholdPct it is blocked.
const (
	WarningThresholdPct = 80.0
	BlockedThresholdPct = 100.0
)

// Classify evaluates consumption against a quota. It is a pure function:
// identical inputs always yield identical outputs, which the gatekeeper's
// crossing detection relies on to reason about before/after states.
//
// Rules:
//   - limit == types.UnlimitedLimit: ok, percent 0, remaining unbounded.
//   - limit == 0: blocked for any current (a zero quota always blocks; this
//     also guards the division below).
//   - percent >= 100: blocked; percent >= 80: warning; otherwise ok.
//
// Negative current values are clamped to 0; a negative finite limit other
// than the sentinel is treated as 0.
func Classify(current, limit int) types.LimitCheck {
	if limit == types.UnlimitedLimit {
		return types.LimitCheck{
			Status:      types.LimitOK,
			Remaining:   int(^uint(0) >> 1),
			PercentUsed: 0,
			Unlimited:   true,
		}
	}
	if current < 0 {
		current = 0
	}
	if limit <= 0 {
		return types.LimitCheck{Status: types.LimitBlocked, Remaining: 0, PercentUsed: 100}
	}

	percent := float64(current) / float64(limit) * 100

	status := types.LimitOK
	switch {
	case percent >= BlockedThresholdPct:
		status = types.LimitBlocked
	case percent >= WarningThresholdPct:
		status = types.LimitWarning
	}

	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}

	return types.LimitCheck{Status: status, Remaining: remaining, PercentUsed: percent}
}

// MinutesFromSeconds converts a raw call duration to billable minutes using
// ceiling semantics: partial minutes bill as a full minute. Non-positive
// durations bill zero minutes.
func MinutesFromSeconds(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}
