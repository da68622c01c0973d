// CLAUDE:SUMMARY Per-account health bookkeeping: failure/success counters, success rate, adaptive priority.
package scheduler

import "github.com/hazyhaar/postwatch/postwatch/internal/store"

// DecayAfter is the consecutive failure count from which priority decays.
const DecayAfter = 3

// Priority bounds.
const (
	MinPriority = 0.1
	MaxPriority = 1.0
)

const (
	decayFactor  = 0.9
	growthFactor = 1.1
	fullRate     = 100.0
)

// RecordFailure applies a failed poll to a.
func RecordFailure(a *store.Account) {
	a.ConsecutiveFailures++
	a.TotalChecks++
	a.TotalFailures++
	if a.ConsecutiveFailures >= DecayAfter {
		a.Priority = max(MinPriority, a.Priority*decayFactor)
	}
	a.SuccessRate = successRate(a)
}

// RecordSuccess applies a poll that produced a candidate to a.
func RecordSuccess(a *store.Account) {
	a.ConsecutiveFailures = max(0, a.ConsecutiveFailures-1)
	a.TotalChecks++
	a.Priority = min(MaxPriority, a.Priority*growthFactor)
	a.SuccessRate = successRate(a)
}

func successRate(a *store.Account) float64 {
	if a.TotalChecks <= 0 {
		return fullRate
	}
	return fullRate * float64(a.TotalChecks-a.TotalFailures) / float64(a.TotalChecks)
}
