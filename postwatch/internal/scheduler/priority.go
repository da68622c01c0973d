package scheduler

import (
	"sort"
	"time"

	"github.com/hazyhaar/postwatch/postwatch/internal/store"
)

// Weights tunes the polling order score.
type Weights struct {
	FailureStep   float64       // Boost per consecutive failure. Default: 0.1.
	FailureCap    float64       // Maximum failure boost. Default: 0.5.
	RecentPenalty float64       // Penalty for an account checked just now. Default: 0.5.
	RecentWindow  time.Duration // Penalty fades to zero over this window. Default: 1h.
}

func (w *Weights) defaults() {
	if w.FailureStep <= 0 {
		w.FailureStep = 0.1
	}
	if w.FailureCap <= 0 {
		w.FailureCap = 0.5
	}
	if w.RecentPenalty <= 0 {
		w.RecentPenalty = 0.5
	}
	if w.RecentWindow <= 0 {
		w.RecentWindow = time.Hour
	}
}

// Score ranks a for polling; higher goes first. Failing accounts get a
// bounded boost, recently checked ones a fading penalty.
func (w Weights) Score(a *store.Account, now time.Time) float64 {
	w.defaults()
	score := a.Priority + min(w.FailureCap, float64(a.ConsecutiveFailures)*w.FailureStep)
	if a.LastCheckedAt > 0 {
		since := now.Sub(time.UnixMilli(a.LastCheckedAt))
		if since < 0 {
			since = 0
		}
		if since < w.RecentWindow {
			score -= w.RecentPenalty * (1 - float64(since)/float64(w.RecentWindow))
		}
	}
	return score
}

// Order drops accounts with polling disabled and sorts the rest by score,
// descending, handle ascending on ties.
func (w Weights) Order(accounts []*store.Account, now time.Time) []*store.Account {
	type ranked struct {
		a     *store.Account
		score float64
	}
	rs := make([]ranked, 0, len(accounts))
	for _, a := range accounts {
		if a.PollingDisabled() {
			continue
		}
		rs = append(rs, ranked{a: a, score: w.Score(a, now)})
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].score != rs[j].score {
			return rs[i].score > rs[j].score
		}
		return rs[i].a.Handle < rs[j].a.Handle
	})
	out := make([]*store.Account, len(rs))
	for i, r := range rs {
		out[i] = r.a
	}
	return out
}
