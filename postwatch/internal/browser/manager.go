// CLAUDE:SUMMARY Chrome lifecycle for the browser source: lazy launch or remote connect via rod, idle-time recycling, stealth pages.
// Package browser provides the rendered-page capability the browser source
// depends on. Chrome is started on first use and recycled when idle past
// its lifetime or heap limit.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/hazyhaar/postwatch/postwatch/internal/source"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local Chrome.
	RemoteURL string

	// Bin is the Chrome binary path for local launch. Empty = launcher default.
	Bin string

	// Proxy is passed to a locally launched Chrome (host:port or scheme://host:port).
	Proxy string

	// MemoryLimit in bytes. Recycle Chrome when exceeded. Default: 512MB.
	MemoryLimit int64

	// RecycleInterval is the maximum lifetime of a Chrome process. Default: 4h.
	RecycleInterval time.Duration

	// NavigateTimeout bounds navigation and load. Default: 30s.
	NavigateTimeout time.Duration

	// ResourceBlocking lists resource types to block. Default: images, fonts, media.
	ResourceBlocking []string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 512 << 20
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.ResourceBlocking == nil {
		c.ResourceBlocking = []string{"images", "fonts", "media"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process and hands out pages.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	open    int
	closed  bool
}

// NewManager creates a Manager. Chrome starts on the first Open.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// acquire returns a live browser and counts one open page.
func (m *Manager) acquire() (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser == nil {
		b, err := m.launch()
		if err != nil {
			return nil, err
		}
		m.browser = b
		m.startAt = time.Now()
	}
	m.open++
	return m.browser, nil
}

// release counts one page closed and recycles Chrome when it is idle and
// past its lifetime or heap limit. heap is the last reading of the closed
// page, 0 when unknown.
func (m *Manager) release(heap int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open--
	if m.open > 0 || m.browser == nil || m.closed {
		return
	}
	if time.Since(m.startAt) > m.cfg.RecycleInterval {
		m.cfg.Logger.Info("browser: recycle interval reached", "uptime", time.Since(m.startAt))
		m.cleanup()
		return
	}
	if heap > m.cfg.MemoryLimit {
		m.cfg.Logger.Info("browser: memory limit exceeded", "used", heap, "limit", m.cfg.MemoryLimit)
		m.cleanup()
	}
}

// Close shuts Chrome down. Further Opens fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger
	var wsURL string

	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(true).
			Set("disable-blink-features", "AutomationControlled").
			Set("disable-dev-shm-usage").
			Set("disable-notifications").
			Set("window-size", "1920,1080")
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.cfg.Proxy != "" {
			l = l.Proxy(m.cfg.Proxy)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if m.lnch != nil {
			m.lnch.Cleanup()
			m.lnch = nil
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}

// Open renders rawURL in a new stealth page.
func (m *Manager) Open(ctx context.Context, rawURL string) (source.Page, error) {
	b, err := m.acquire()
	if err != nil {
		return nil, err
	}
	p, err := newPage(ctx, m, b, rawURL)
	if err != nil {
		m.release(0)
		return nil, err
	}
	return p, nil
}

var _ source.Renderer = (*Manager)(nil)
