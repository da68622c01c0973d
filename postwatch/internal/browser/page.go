package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// Page is one rendered stealth page. It implements source.Page.
type Page struct {
	page    *rod.Page
	manager *Manager
	once    sync.Once
}

func newPage(ctx context.Context, m *Manager, b *rod.Browser, rawURL string) (*Page, error) {
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      userAgents[rand.IntN(len(userAgents))],
		AcceptLanguage: "en-US,en;q=0.9",
	}); err != nil {
		m.cfg.Logger.Debug("browser: set user agent", "error", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: 1920, Height: 1080}); err != nil {
		m.cfg.Logger.Debug("browser: set viewport", "error", err)
	}
	if len(m.cfg.ResourceBlocking) > 0 {
		applyResourceBlocking(page, m.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(rawURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", rawURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load timeout", "url", rawURL, "error", err)
	}
	return &Page{page: page, manager: m}, nil
}

// WaitVisible waits up to timeout for selector to be visible.
func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: wait %s: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("browser: wait visible %s: %w", selector, err)
	}
	return nil
}

// Scroll scrolls the window by dy pixels.
func (p *Page) Scroll(ctx context.Context, dy int) error {
	_, err := p.page.Context(ctx).Eval(`(dy) => window.scrollBy(0, dy)`, dy)
	return err
}

// Eval runs a function expression and returns its result as JSON.
func (p *Page) Eval(ctx context.Context, script string) (string, error) {
	res, err := p.page.Context(ctx).Eval(script)
	if err != nil {
		return "", fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.JSON("", ""), nil
}

// Close closes the page and lets the manager recycle Chrome if due.
func (p *Page) Close() error {
	var err error
	p.once.Do(func() {
		var heap int64
		if res, e := p.page.Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`); e == nil {
			heap = int64(res.Value.Int())
		}
		err = p.page.Close()
		p.manager.release(heap)
	})
	return err
}
