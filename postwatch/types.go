package postwatch

import (
	"github.com/hazyhaar/postwatch/postwatch/internal/post"
	"github.com/hazyhaar/postwatch/postwatch/internal/reconcile"
	"github.com/hazyhaar/postwatch/postwatch/internal/source"
	"github.com/hazyhaar/postwatch/postwatch/internal/store"
)

// Re-exported types so callers need not import internal packages.
type (
	Account      = store.Account
	Settings     = store.Settings
	Subscriber   = store.Subscriber
	PollLogEntry = store.PollLogEntry
	Content      = post.Content
	Outcome      = reconcile.Outcome
	Adapter      = source.Adapter
	Result       = source.Result
	MirrorStatus = source.MirrorStatus
	Renderer     = source.Renderer
)

// Poll outcomes.
const (
	Failure     = reconcile.Failure
	BaselineSet = reconcile.BaselineSet
	NewPost     = reconcile.NewPost
	NoChange    = reconcile.NoChange
)

// Source names.
const (
	SourceAPI     = source.NameAPI
	SourceActor   = source.NameActor
	SourceMirror  = source.NameMirror
	SourceBrowser = source.NameBrowser
)

// KnownSources lists every adapter name settings may reference.
var KnownSources = []string{SourceAPI, SourceActor, SourceMirror, SourceBrowser}

// PollOutcome is the result of one PollAccount or TrackAccount call.
type PollOutcome struct {
	Handle         string            `json:"handle"`
	Outcome        Outcome           `json:"outcome"`
	PostID         string            `json:"post_id,omitempty"`
	PreviousPostID string            `json:"previous_post_id,omitempty"`
	Source         string            `json:"source,omitempty"`
	Content        *post.Content     `json:"content,omitempty"`
	Consulted      []string          `json:"consulted"`
	ShortCircuited bool              `json:"short_circuited,omitempty"`
	Stale          bool              `json:"stale,omitempty"`
	Ambiguous      bool              `json:"ambiguous,omitempty"`
	Rejected       int               `json:"rejected,omitempty"`
	Faults         []reconcile.Fault `json:"faults,omitempty"`
	Notified       bool              `json:"notified"`
	DurationMs     int64             `json:"duration_ms"`
}

// ImportReport summarizes a legacy import.
type ImportReport struct {
	Imported    int `json:"imported"`
	Skipped     int `json:"skipped"`
	Subscribers int `json:"subscribers"`
}
