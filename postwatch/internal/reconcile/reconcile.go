// CLAUDE:SUMMARY Multi-source reconciliation: consults adapters in priority order with short-circuit, rejects implausible ids, picks the numerically largest candidate, classifies the poll.
// Package reconcile decides, for one poll of one account, which post is the
// latest and whether it is new. It never touches the store; the caller
// applies the Decision.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/postwatch/postwatch/internal/post"
	"github.com/hazyhaar/postwatch/postwatch/internal/source"
)

// Outcome classifies one poll.
type Outcome string

const (
	Failure     Outcome = "failure"
	BaselineSet Outcome = "baseline_set"
	NewPost     Outcome = "new_post"
	NoChange    Outcome = "no_change"
)

// Fingerprint is the stored state a poll is compared against.
type Fingerprint struct {
	LastPostID       string
	FirstObservation bool
}

// Fault records an adapter error degraded to "no candidate".
type Fault struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Decision is the result of one reconciliation.
type Decision struct {
	Outcome        Outcome         `json:"outcome"`
	Winner         *source.Result  `json:"winner,omitempty"`
	Candidates     []source.Result `json:"candidates,omitempty"`
	Consulted      []string        `json:"consulted"`
	ShortCircuited bool            `json:"short_circuited,omitempty"`
	Stale          bool            `json:"stale,omitempty"`
	Ambiguous      bool            `json:"ambiguous,omitempty"`
	Rejected       []source.Result `json:"rejected,omitempty"`
	Faults         []Fault         `json:"faults,omitempty"`
}

// Config configures a Reconciler.
type Config struct {
	CallTimeout time.Duration // Per adapter call without Timeouter. Default: 20s.
	MinIDLength int           // Default: post.MinIDLength.
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 20 * time.Second
	}
	if c.MinIDLength <= 0 {
		c.MinIDLength = post.MinIDLength
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Reconciler is stateless and safe for concurrent use.
type Reconciler struct {
	cfg Config
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	cfg.defaults()
	return &Reconciler{cfg: cfg}
}

// Reconcile consults adapters in order and classifies the poll. Adapters run
// one at a time; consultation stops at the first candidate strictly newer
// than the stored id (any candidate under first observation). A candidate
// equal to the stored id confirms it: consultation goes on and the poll
// ends as NoChange, a success.
func (r *Reconciler) Reconcile(ctx context.Context, handle string, fp Fingerprint, adapters []source.Adapter) Decision {
	var d Decision
	hint := fp.LastPostID
	if fp.FirstObservation {
		hint = ""
	}

	for _, a := range adapters {
		if ctx.Err() != nil {
			break
		}
		name := a.Name()
		d.Consulted = append(d.Consulted, name)

		res, err := r.call(ctx, a, handle, hint)
		if err != nil {
			r.cfg.Logger.Info("reconcile: source fault", "handle", handle, "source", name, "error", err)
			d.Faults = append(d.Faults, Fault{Source: name, Error: err.Error()})
			continue
		}
		if res == nil || res.PostID == "" {
			continue
		}
		if res.Source == "" {
			res.Source = name
		}
		if res.NotNewer && (hint == "" || res.PostID != hint) {
			r.cfg.Logger.Debug("reconcile: confirmation for another id ignored", "handle", handle, "source", name, "post_id", res.PostID, "hint", hint)
			continue
		}
		if !post.Plausible(res.PostID, r.cfg.MinIDLength) {
			r.cfg.Logger.Warn("reconcile: implausible id rejected", "handle", handle, "source", name, "post_id", res.PostID)
			d.Rejected = append(d.Rejected, *res)
			continue
		}
		d.Candidates = append(d.Candidates, *res)

		if fp.FirstObservation || fp.LastPostID == "" || post.Newer(res.PostID, fp.LastPostID) {
			d.ShortCircuited = true
			break
		}
	}

	if len(d.Candidates) == 0 {
		d.Outcome = Failure
		return d
	}

	winner, numeric := pickWinner(d.Candidates)
	if !numeric && (fp.FirstObservation || fp.LastPostID == "") {
		r.cfg.Logger.Warn("reconcile: non-numeric baseline refused", "handle", handle, "source", winner.Source, "post_id", winner.PostID)
		d.Rejected = append(d.Rejected, d.Candidates...)
		d.Outcome = Failure
		return d
	}
	d.Winner = &winner
	if !numeric {
		d.Ambiguous = true
		r.cfg.Logger.Warn("reconcile: no numeric candidate, using priority order", "handle", handle, "source", winner.Source, "post_id", winner.PostID)
	}
	d.Outcome = classify(&d, fp)
	if d.Stale {
		r.cfg.Logger.Warn("reconcile: stale answer older than stored id", "handle", handle, "source", winner.Source, "post_id", winner.PostID, "stored", fp.LastPostID)
	}
	return d
}

// pickWinner returns the numerically largest candidate, or the first one
// when none is numeric. On equal ids a fetched post beats a NotNewer
// confirmation, which carries no content.
func pickWinner(cands []source.Result) (source.Result, bool) {
	best := -1
	for i, c := range cands {
		if !post.IsNumeric(c.PostID) {
			continue
		}
		if best < 0 || post.Newer(c.PostID, cands[best].PostID) {
			best = i
			continue
		}
		if c.PostID == cands[best].PostID && cands[best].NotNewer && !c.NotNewer {
			best = i
		}
	}
	if best < 0 {
		return cands[0], false
	}
	return cands[best], true
}

// classify compares the winner with the stored id. The caller guarantees a
// numeric winner when no id is stored yet. A non-numeric stored id, left by
// older databases, is replaced by the first numeric winner without notifying.
func classify(d *Decision, fp Fingerprint) Outcome {
	if fp.FirstObservation || fp.LastPostID == "" {
		return BaselineSet
	}
	id := d.Winner.PostID
	if id == fp.LastPostID {
		return NoChange
	}
	if !post.IsNumeric(fp.LastPostID) && post.IsNumeric(id) {
		return BaselineSet
	}
	c, ok := post.Compare(id, fp.LastPostID)
	switch {
	case !ok:
		d.Ambiguous = true
		return NoChange
	case c > 0:
		return NewPost
	case c == 0:
		return NoChange
	default:
		d.Stale = true
		return NoChange
	}
}

// call runs one adapter under its time bound. The call runs in its own
// goroutine so an adapter ignoring ctx still resolves at the deadline.
func (r *Reconciler) call(ctx context.Context, a source.Adapter, handle, hint string) (*source.Result, error) {
	timeout := r.cfg.CallTimeout
	if t, ok := a.(source.Timeouter); ok && t.Timeout() > 0 {
		timeout = t.Timeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type answer struct {
		res *source.Result
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- answer{err: fmt.Errorf("reconcile: %s panicked: %v", a.Name(), p)}
			}
		}()
		res, err := a.FetchLatest(ctx, handle, hint)
		ch <- answer{res: res, err: err}
	}()

	select {
	case ans := <-ch:
		return ans.res, ans.err
	case <-ctx.Done():
		return nil, fmt.Errorf("reconcile: %s: %w", a.Name(), ctx.Err())
	}
}
