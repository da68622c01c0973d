// CLAUDE:SUMMARY Service configuration with defaults, default settings blob and settings validation.
package postwatch

import (
	"fmt"
	"slices"
	"time"

	"github.com/hazyhaar/postwatch/postwatch/internal/browser"
	"github.com/hazyhaar/postwatch/postwatch/internal/reconcile"
	"github.com/hazyhaar/postwatch/postwatch/internal/scheduler"
	"github.com/hazyhaar/postwatch/postwatch/internal/source"
)

// Config configures the postwatch service.
type Config struct {
	// Source adapters. The API adapter is registered only with a bearer
	// token, the actor only with a token, the browser only with a renderer.
	API     source.APIConfig
	Actor   source.ActorConfig
	Mirror  source.MirrorConfig
	Browser source.BrowserConfig

	// EnableBrowser starts a managed Chrome as the browser renderer when
	// Browser.Renderer is nil.
	EnableBrowser bool
	Chrome        browser.Config

	Reconcile reconcile.Config
	Scheduler scheduler.Config

	// ProbeInterval is the period of the mirror health probe. Default: 1h.
	ProbeInterval time.Duration
	// PollLogRetention bounds the poll log age. Default: 7 days.
	PollLogRetention time.Duration
	// NotifyQueue is the notifier buffer size. Default: 256.
	NotifyQueue int
	// NotifyPause separates two sends of the default notifier. Default: 500ms.
	NotifyPause time.Duration
	// NotifyDrainTimeout bounds the delivery of queued notifications on
	// Close. Default: 1m.
	NotifyDrainTimeout time.Duration

	// AdminToken, when set, is required as a bearer token on every HTTP
	// route except /health.
	AdminToken string
	// MaxRequestBody caps HTTP request bodies. Default: 64 KiB.
	MaxRequestBody int64
}

func (c *Config) defaults() {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = time.Hour
	}
	if c.PollLogRetention <= 0 {
		c.PollLogRetention = 7 * 24 * time.Hour
	}
	if c.NotifyQueue <= 0 {
		c.NotifyQueue = 256
	}
	if c.NotifyDrainTimeout <= 0 {
		c.NotifyDrainTimeout = time.Minute
	}
	if c.MaxRequestBody <= 0 {
		c.MaxRequestBody = 64 << 10
	}
	if c.NotifyPause < 0 {
		c.NotifyPause = 0
	} else if c.NotifyPause == 0 {
		c.NotifyPause = 500 * time.Millisecond
	}
}

// Settings bounds.
const (
	MinCheckInterval = 60
	MaxCheckInterval = 86400
	MaxConcurrency   = 20
	MaxBatchPauseMs  = 60000
	MaxJitterFactor  = 3.0
)

// DefaultSettings returns the settings used until an operator saves some.
func DefaultSettings() *Settings {
	return &Settings{
		CheckIntervalSec: 600,
		SourceOrder:      slices.Clone(KnownSources),
		Concurrency:      3,
		BatchPauseMs:     3000,
		MinJitter:        0.8,
		MaxJitter:        1.2,
		MirrorInstances:  slices.Clone(source.DefaultMirrors),
		Proxies:          []string{},
	}
}

// validateSettings checks st. Mirror URLs go through validURL.
func validateSettings(st *Settings, validURL func(string) error) error {
	if st.CheckIntervalSec < MinCheckInterval || st.CheckIntervalSec > MaxCheckInterval {
		return fmt.Errorf("%w: check_interval_sec %d outside [%d, %d]",
			ErrInvalidSettings, st.CheckIntervalSec, MinCheckInterval, MaxCheckInterval)
	}
	if st.Concurrency < 1 || st.Concurrency > MaxConcurrency {
		return fmt.Errorf("%w: concurrency %d outside [1, %d]", ErrInvalidSettings, st.Concurrency, MaxConcurrency)
	}
	if st.BatchPauseMs < 0 || st.BatchPauseMs > MaxBatchPauseMs {
		return fmt.Errorf("%w: batch_pause_ms %d outside [0, %d]", ErrInvalidSettings, st.BatchPauseMs, MaxBatchPauseMs)
	}
	if st.MinJitter <= 0 || st.MinJitter > st.MaxJitter || st.MaxJitter > MaxJitterFactor {
		return fmt.Errorf("%w: jitter [%g, %g] must satisfy 0 < min <= max <= %g",
			ErrInvalidSettings, st.MinJitter, st.MaxJitter, MaxJitterFactor)
	}
	if len(st.SourceOrder) == 0 {
		return fmt.Errorf("%w: source_order is empty", ErrInvalidSettings)
	}
	for _, n := range st.SourceOrder {
		if !slices.Contains(KnownSources, n) {
			return fmt.Errorf("%w: %w: %q", ErrInvalidSettings, ErrUnknownSource, n)
		}
	}
	for _, m := range st.MirrorInstances {
		if err := validURL(m); err != nil {
			return fmt.Errorf("%w: mirror %q: %v", ErrInvalidSettings, m, err)
		}
	}
	for _, p := range st.Proxies {
		if err := source.ValidateProxyURL(p); err != nil {
			return fmt.Errorf("%w: proxy: %v", ErrInvalidSettings, err)
		}
	}
	return nil
}

// plan converts settings into a scheduler plan.
func plan(st *Settings) scheduler.Plan {
	return scheduler.Plan{
		Interval:    time.Duration(st.CheckIntervalSec) * time.Second,
		Concurrency: st.Concurrency,
		BatchPause:  time.Duration(st.BatchPauseMs) * time.Millisecond,
		MinJitter:   st.MinJitter,
		MaxJitter:   st.MaxJitter,
	}
}
