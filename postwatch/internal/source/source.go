// CLAUDE:SUMMARY Adapter contract shared by every latest-post source, plus optional capabilities and typed faults.
// Package source holds the independent strategies that answer "what is the
// latest post of this account": the authenticated API, the public mirror
// pool, the hosted scraper actor and the rendered browser page.
//
// Every adapter returns (nil, nil) when it found nothing. An error is an
// adapter fault; callers degrade it to "no candidate".
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/postwatch/postwatch/internal/post"
)

// Adapter names, used in settings and per-account overrides.
const (
	NameAPI     = "api"
	NameActor   = "actor"
	NameMirror  = "mirror"
	NameBrowser = "browser"
)

// Result is one adapter's answer for one poll.
type Result struct {
	Source  string       `json:"source"`
	PostID  string       `json:"post_id"`
	Content post.Content `json:"content"`
	// NotNewer marks a confirmation that nothing newer than the sinceID
	// hint exists. PostID then echoes the hint and Content is empty.
	NotNewer bool `json:"not_newer,omitempty"`
}

// Adapter fetches the latest post of an account. sinceID is the last known
// id, empty under first observation. An adapter may use it to narrow its
// request but must still report the latest post it saw, even when that post
// is the hint itself or older; or a NotNewer confirmation when the source
// only answers with newer posts.
type Adapter interface {
	Name() string
	FetchLatest(ctx context.Context, handle, sinceID string) (*Result, error)
}

// Forgetter is implemented by adapters holding per-handle cached state.
type Forgetter interface {
	Forget(handle string)
}

// Timeouter is implemented by adapters needing a non-default call bound.
type Timeouter interface {
	Timeout() time.Duration
}

// ErrCoolingDown is returned while a rate-limit cooldown is active.
var ErrCoolingDown = errors.New("source: rate limited, cooling down")

// ErrNoHealthyMirror is returned when every mirror attempt failed.
var ErrNoHealthyMirror = errors.New("source: no mirror answered")

// StatusError is an unexpected HTTP status from a source.
type StatusError struct {
	Source string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source: %s: http %d", e.Source, e.Status)
}

// ParseError reports a response that could not be turned into a post.
type ParseError struct {
	Source string
	Cause  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("source: %s: parse: %v", e.Source, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// postURL builds the canonical link for a post.
func postURL(base, handle, id string) string {
	return fmt.Sprintf("%s/%s/status/%s", base, handle, id)
}

// safeFetch runs fn and turns a panic into an error.
func safeFetch(name string, fn func() (*Result, error)) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("source: %s: panic: %v", name, r)
		}
	}()
	return fn()
}
