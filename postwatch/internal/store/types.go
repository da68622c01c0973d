package store

import "github.com/hazyhaar/postwatch/postwatch/internal/post"

// Account is one tracked account and its fingerprint and health state.
type Account struct {
	Handle        string `json:"handle"`
	DisplayHandle string `json:"display_handle"`

	LastPostID       string `json:"last_post_id"`
	FirstObservation bool   `json:"first_observation"`

	// PreferredSources overrides the global adapter order. nil means
	// "use global"; an empty non-nil slice disables polling.
	PreferredSources []string `json:"preferred_sources"`

	ConsecutiveFailures int     `json:"consecutive_failures"`
	TotalChecks         int     `json:"total_checks"`
	TotalFailures       int     `json:"total_failures"`
	SuccessRate         float64 `json:"success_rate"`
	Priority            float64 `json:"priority"`
	LastCheckedAt       int64   `json:"last_checked_at"`

	LastSource  string       `json:"last_source"`
	LastContent post.Content `json:"last_content"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// PollingDisabled reports whether the account opted out of polling.
func (a *Account) PollingDisabled() bool {
	return a.PreferredSources != nil && len(a.PreferredSources) == 0
}

// Settings is the global settings blob.
type Settings struct {
	CheckIntervalSec int      `json:"check_interval_sec"`
	SourceOrder      []string `json:"source_order"`
	Concurrency      int      `json:"concurrency"`
	BatchPauseMs     int      `json:"batch_pause_ms"`
	MinJitter        float64  `json:"min_jitter"`
	MaxJitter        float64  `json:"max_jitter"`
	MirrorInstances  []string `json:"mirror_instances"`
	Proxies          []string `json:"proxies"`
}

// Subscriber is one notification target.
type Subscriber struct {
	Channel     string `json:"channel"`
	RecipientID string `json:"recipient_id"`
	CreatedAt   int64  `json:"created_at"`
}

// PollLogEntry records one poll outcome.
type PollLogEntry struct {
	ID         string   `json:"id"`
	Handle     string   `json:"handle"`
	Outcome    string   `json:"outcome"`
	Source     string   `json:"source"`
	PostID     string   `json:"post_id"`
	Consulted  []string `json:"consulted"`
	Stale      bool     `json:"stale"`
	Ambiguous  bool     `json:"ambiguous"`
	DurationMs int64    `json:"duration_ms"`
	PolledAt   int64    `json:"polled_at"`
}
