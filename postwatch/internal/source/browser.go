// CLAUDE:SUMMARY Browser adapter of last resort: renders the profile through an injected Renderer, extracts timeline items by script, selects the newest organic post.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/postwatch/postwatch/internal/post"
)

// Renderer opens rendered pages. Session mechanics live behind it.
type Renderer interface {
	Open(ctx context.Context, rawURL string) (Page, error)
}

// Page is one rendered page.
type Page interface {
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Scroll(ctx context.Context, dy int) error
	// Eval runs a script returning a JSON-serializable value and returns its JSON.
	Eval(ctx context.Context, script string) (string, error)
	Close() error
}

const tweetSelector = `article[data-testid="tweet"]`

// extractScript returns the visible timeline items as a JSON array.
const extractScript = `() => {
  const out = [];
  document.querySelectorAll('article[data-testid="tweet"]').forEach((a) => {
    const link = Array.from(a.querySelectorAll('a[href*="/status/"]'))
      .map((l) => l.getAttribute('href'))
      .find((h) => /\/status\/\d+/.test(h || ''));
    if (!link) return;
    const id = (link.match(/\/status\/(\d+)/) || [])[1] || '';
    const textEl = a.querySelector('[data-testid="tweetText"]');
    const social = (a.querySelector('[data-testid="socialContext"]') || {}).textContent || '';
    const time = a.querySelector('time');
    const media = Array.from(a.querySelectorAll('[data-testid="tweetPhoto"] img')).map((i) => i.src);
    out.push({
      id: id,
      text: textEl ? textEl.innerText : '',
      isPinned: /pinned/i.test(social),
      isRetweet: /reposted|retweeted/i.test(social),
      hasMedia: media.length > 0 || !!a.querySelector('[data-testid="videoPlayer"]'),
      mediaUrls: media,
      timestamp: time ? time.getAttribute('datetime') : '',
    });
  });
  return out;
}`

// BrowserConfig configures the browser adapter.
type BrowserConfig struct {
	Renderer     Renderer      // Required.
	BaseURL      string        // Default: https://x.com
	WaitTimeout  time.Duration // For the first timeline item. Default: 20s.
	Settle       time.Duration // Fixed settle after scroll. Default: 3s.
	SettleJitter time.Duration // Random extra settle. Default: 2s.
	Timeout      time.Duration // Whole call. Default: 60s.
	Logger       *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://x.com"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 20 * time.Second
	}
	if c.Settle < 0 {
		c.Settle = 0
	} else if c.Settle == 0 {
		c.Settle = 3 * time.Second
	}
	if c.SettleJitter < 0 {
		c.SettleJitter = 0
	} else if c.SettleJitter == 0 {
		c.SettleJitter = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser is the rendered-page adapter.
type Browser struct {
	cfg BrowserConfig
}

// NewBrowser creates the browser adapter.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

func (b *Browser) Name() string { return NameBrowser }

func (b *Browser) Timeout() time.Duration { return b.cfg.Timeout }

// FetchLatest implements Adapter.
func (b *Browser) FetchLatest(ctx context.Context, handle, sinceID string) (*Result, error) {
	return safeFetch(NameBrowser, func() (*Result, error) {
		return b.fetch(ctx, handle, sinceID)
	})
}

func (b *Browser) fetch(ctx context.Context, handle, sinceID string) (*Result, error) {
	if b.cfg.Renderer == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	page, err := b.cfg.Renderer.Open(ctx, b.cfg.BaseURL+"/"+url.PathEscape(handle))
	if err != nil {
		return nil, fmt.Errorf("source: browser: open: %w", err)
	}
	defer page.Close()

	if err := page.WaitVisible(ctx, tweetSelector, b.cfg.WaitTimeout); err != nil {
		b.cfg.Logger.Debug("source: browser no timeline", "handle", handle, "error", err)
		return nil, nil
	}
	if err := page.Scroll(ctx, 600); err != nil {
		b.cfg.Logger.Debug("source: browser scroll", "handle", handle, "error", err)
	}
	settle := b.cfg.Settle
	if b.cfg.SettleJitter > 0 {
		settle += rand.N(b.cfg.SettleJitter)
	}
	if err := sleepCtx(ctx, settle); err != nil {
		return nil, err
	}

	raw, err := page.Eval(ctx, extractScript)
	if err != nil {
		return nil, fmt.Errorf("source: browser: eval: %w", err)
	}
	var items []pageItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, &ParseError{Source: NameBrowser, Cause: err}
	}

	it := selectItem(items)
	if it == nil {
		return nil, nil
	}
	c := post.Content{
		Text:      Text(it.Text),
		URL:       postURL(b.cfg.BaseURL, handle, it.ID),
		HasMedia:  it.HasMedia || len(it.MediaURLs) > 0,
		MediaURLs: it.MediaURLs,
		Source:    NameBrowser,
	}
	if ts, ok := it.time(); ok {
		c.PublishedAt = ts.UnixMilli()
	}
	return &Result{Source: NameBrowser, PostID: it.ID, Content: c}, nil
}

type pageItem struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	IsPinned  bool     `json:"isPinned"`
	IsRetweet bool     `json:"isRetweet"`
	HasMedia  bool     `json:"hasMedia"`
	MediaURLs []string `json:"mediaUrls"`
	Timestamp string   `json:"timestamp"`
}

func (p *pageItem) time() (time.Time, bool) {
	if p.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	return t, err == nil
}

// selectItem picks the newest non-pinned, non-repost item by timestamp,
// else the first non-pinned item, else the first item.
func selectItem(items []pageItem) *pageItem {
	var withID []*pageItem
	for i := range items {
		if items[i].ID != "" {
			withID = append(withID, &items[i])
		}
	}
	if len(withID) == 0 {
		return nil
	}

	var best *pageItem
	var bestTime time.Time
	for _, it := range withID {
		if it.IsPinned || it.IsRetweet {
			continue
		}
		ts, ok := it.time()
		if best == nil {
			best, bestTime = it, ts
			continue
		}
		if ok && ts.After(bestTime) {
			best, bestTime = it, ts
		}
	}
	if best != nil {
		return best
	}
	for _, it := range withID {
		if !it.IsPinned {
			return it
		}
	}
	return withID[0]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
