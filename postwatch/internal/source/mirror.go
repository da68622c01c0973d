// CLAUDE:SUMMARY Public mirror pool adapter: shuffled bounded attempts, per-mirror failure counters with full reset, health probe.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hazyhaar/postwatch/horosafe"
)

// DefaultMirrors are the public timeline mirrors used when settings name none.
var DefaultMirrors = []string{
	"https://nitter.privacydev.net",
	"https://nitter.poast.org",
	"https://nitter.fdn.fr",
	"https://nitter.1d4.us",
	"https://nitter.kavin.rocks",
	"https://nitter.unixfox.eu",
	"https://nitter.domain.glass",
}

// MirrorConfig configures the mirror pool adapter.
type MirrorConfig struct {
	Instances   []string      // Default: DefaultMirrors.
	MaxAttempts int           // Mirrors tried per poll. Default: 3.
	MaxFailures int           // Failures before a mirror is skipped. Default: 3.
	Timeout     time.Duration // Per attempt. Default: 10s.
	ProbeHandle string        // Profile fetched by Probe. Default: "twitter".
	PostURLBase string        // Default: https://twitter.com
	Transport   http.RoundTripper
	Logger      *slog.Logger
}

func (c *MirrorConfig) defaults() {
	if len(c.Instances) == 0 {
		c.Instances = DefaultMirrors
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.ProbeHandle == "" {
		c.ProbeHandle = "twitter"
	}
	if c.PostURLBase == "" {
		c.PostURLBase = "https://twitter.com"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// MirrorStatus is the health view of one mirror.
type MirrorStatus struct {
	URL      string `json:"url"`
	Failures int    `json:"failures"`
	Healthy  bool   `json:"healthy"`
}

// Mirror is the public mirror pool adapter.
type Mirror struct {
	cfg    MirrorConfig
	client *http.Client
	norm   *Normalizer

	mu        sync.Mutex
	instances []string
	failures  map[string]int
}

// NewMirror creates the mirror pool adapter.
func NewMirror(cfg MirrorConfig) *Mirror {
	cfg.defaults()
	m := &Mirror{
		cfg:      cfg,
		client:   newClient(cfg.Timeout, cfg.Transport),
		norm:     NewNormalizer(),
		failures: make(map[string]int),
	}
	m.SetInstances(cfg.Instances)
	return m
}

func (m *Mirror) Name() string { return NameMirror }

// Timeout covers every attempt plus the RSS fallback of the last one.
func (m *Mirror) Timeout() time.Duration {
	return time.Duration(m.cfg.MaxAttempts+1)*m.cfg.Timeout + time.Second
}

// SetInstances replaces the mirror set. Counters of kept mirrors survive.
func (m *Mirror) SetInstances(instances []string) {
	clean := make([]string, 0, len(instances))
	for _, in := range instances {
		in = strings.TrimRight(strings.TrimSpace(in), "/")
		if in != "" {
			clean = append(clean, in)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	failures := make(map[string]int, len(clean))
	for _, in := range clean {
		failures[in] = m.failures[in]
	}
	m.instances = clean
	m.failures = failures
}

// Status returns the health of every mirror.
func (m *Mirror) Status() []MirrorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MirrorStatus, 0, len(m.instances))
	for _, in := range m.instances {
		f := m.failures[in]
		out = append(out, MirrorStatus{URL: in, Failures: f, Healthy: f < m.cfg.MaxFailures})
	}
	return out
}

// eligible returns the shuffled mirrors under the failure threshold. When
// none is left every counter is reset, so a bad spell never locks the pool.
func (m *Mirror) eligible() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, in := range m.instances {
		if m.failures[in] < m.cfg.MaxFailures {
			out = append(out, in)
		}
	}
	if len(out) == 0 && len(m.instances) > 0 {
		m.cfg.Logger.Info("source: all mirrors failing, resetting counters", "mirrors", len(m.instances))
		for _, in := range m.instances {
			m.failures[in] = 0
		}
		out = append(out, m.instances...)
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func (m *Mirror) markFailure(base string) {
	m.mu.Lock()
	if _, ok := m.failures[base]; ok {
		m.failures[base]++
	}
	m.mu.Unlock()
}

func (m *Mirror) markSuccess(base string) {
	m.mu.Lock()
	if _, ok := m.failures[base]; ok {
		m.failures[base] = 0
	}
	m.mu.Unlock()
}

// FetchLatest implements Adapter.
func (m *Mirror) FetchLatest(ctx context.Context, handle, sinceID string) (*Result, error) {
	return safeFetch(NameMirror, func() (*Result, error) {
		return m.fetch(ctx, handle, sinceID)
	})
}

func (m *Mirror) fetch(ctx context.Context, handle, sinceID string) (*Result, error) {
	candidates := m.eligible()
	if len(candidates) > m.cfg.MaxAttempts {
		candidates = candidates[:m.cfg.MaxAttempts]
	}

	var lastErr error
	for _, base := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		page, err := m.fetchFrom(ctx, base, handle)
		if err != nil {
			m.markFailure(base)
			m.cfg.Logger.Debug("source: mirror attempt failed", "mirror", base, "handle", handle, "error", err)
			lastErr = err
			continue
		}
		m.markSuccess(base)
		if page.missing || page.latest == nil {
			return nil, nil
		}
		return page.latest, nil
	}
	if lastErr == nil {
		return nil, ErrNoHealthyMirror
	}
	return nil, fmt.Errorf("%w: %w", ErrNoHealthyMirror, lastErr)
}

// fetchFrom reads one mirror: the HTML timeline first, the RSS feed when
// the timeline yields nothing usable.
func (m *Mirror) fetchFrom(ctx context.Context, base, handle string) (*timelinePage, error) {
	body, status, err := m.get(ctx, base+"/"+url.PathEscape(handle))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusNotFound {
		return nil, &StatusError{Source: NameMirror, Status: status}
	}

	page, err := parseTimeline(bytes.NewReader(body), base, handle, m.cfg.PostURLBase, m.norm)
	if err != nil {
		return nil, &ParseError{Source: NameMirror, Cause: err}
	}
	if page.missing {
		return page, nil
	}
	if status == http.StatusNotFound {
		return nil, &StatusError{Source: NameMirror, Status: status}
	}
	if page.latest != nil || page.empty {
		return page, nil
	}

	feed, err := m.fetchFeed(ctx, base, handle)
	if err != nil {
		return nil, &ParseError{Source: NameMirror, Cause: fmt.Errorf("timeline unusable, rss: %w", err)}
	}
	return feed, nil
}

func (m *Mirror) fetchFeed(ctx context.Context, base, handle string) (*timelinePage, error) {
	body, status, err := m.get(ctx, base+"/"+url.PathEscape(handle)+"/rss")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{Source: NameMirror, Status: status}
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return parseFeed(feed, handle, m.cfg.PostURLBase, m.norm)
}

func (m *Mirror) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("source: mirror: new request: %w", err)
	}
	req.Header.Set("User-Agent", randomUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("source: mirror: http: %w", err)
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("source: mirror: read body: %w", err)
	}
	return data, resp.StatusCode, nil
}

// Probe checks every mirror by fetching a known profile. A mirror that
// answers 200 is cleared; any other answer marks it unhealthy.
func (m *Mirror) Probe(ctx context.Context) []MirrorStatus {
	m.mu.Lock()
	instances := append([]string(nil), m.instances...)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, base := range instances {
		wg.Add(1)
		go func(base string) {
			defer wg.Done()
			_, status, err := m.get(ctx, base+"/"+m.cfg.ProbeHandle)
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.failures[base]; !ok {
				return
			}
			if err == nil && status == http.StatusOK {
				m.failures[base] = 0
				return
			}
			m.failures[base] = m.cfg.MaxFailures
			if err == nil {
				err = &StatusError{Source: NameMirror, Status: status}
			}
			m.cfg.Logger.Info("source: mirror probe failed", "mirror", base, "error", err)
		}(base)
	}
	wg.Wait()
	return m.Status()
}

// IsMirrorExhausted reports whether err means no mirror answered.
func IsMirrorExhausted(err error) bool {
	return errors.Is(err, ErrNoHealthyMirror)
}
