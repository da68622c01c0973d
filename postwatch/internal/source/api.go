// CLAUDE:SUMMARY Authenticated API adapter: handle->user id lookup, latest-posts listing with since_id, per-handle caches, 429 cooldown.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/postwatch/horosafe"
	"github.com/hazyhaar/postwatch/postwatch/internal/post"
)

// APIConfig configures the authenticated API adapter.
type APIConfig struct {
	BaseURL         string        // Default: https://api.twitter.com/2
	BearerToken     string        // Required.
	Timeout         time.Duration // Per request. Default: 10s.
	UserCacheTTL    time.Duration // Handle -> user id. Default: 1h.
	PostCacheTTL    time.Duration // Latest post per handle. Default: 5m.
	DefaultCooldown time.Duration // When 429 carries no reset header. Default: 15m.
	MaxResults      int           // Default: 5.
	PostURLBase     string        // Default: https://twitter.com
	Transport       http.RoundTripper
	RateLimit       *RateLimitState
	Now             func() time.Time
	Logger          *slog.Logger
}

func (c *APIConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.twitter.com/2"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.UserCacheTTL <= 0 {
		c.UserCacheTTL = time.Hour
	}
	if c.PostCacheTTL <= 0 {
		c.PostCacheTTL = 5 * time.Minute
	}
	if c.DefaultCooldown <= 0 {
		c.DefaultCooldown = 15 * time.Minute
	}
	if c.MaxResults < 5 {
		c.MaxResults = 5
	}
	if c.PostURLBase == "" {
		c.PostURLBase = "https://twitter.com"
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.RateLimit == nil {
		c.RateLimit = NewRateLimitState(c.Now)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type userEntry struct {
	id      string
	expires time.Time
}

type postEntry struct {
	res     *Result
	expires time.Time
}

// API is the authenticated API adapter.
type API struct {
	cfg    APIConfig
	client *http.Client

	mu    sync.Mutex
	users map[string]userEntry
	posts map[string]postEntry
}

// NewAPI creates the API adapter.
func NewAPI(cfg APIConfig) *API {
	cfg.defaults()
	return &API{
		cfg:    cfg,
		client: newClient(cfg.Timeout, cfg.Transport),
		users:  make(map[string]userEntry),
		posts:  make(map[string]postEntry),
	}
}

func (a *API) Name() string { return NameAPI }

// Timeout covers the user lookup plus the listing.
func (a *API) Timeout() time.Duration { return 2*a.cfg.Timeout + time.Second }

// RateLimit exposes the cooldown state.
func (a *API) RateLimit() *RateLimitState { return a.cfg.RateLimit }

// Forget drops the cached user id and post for handle.
func (a *API) Forget(handle string) {
	k := strings.ToLower(handle)
	a.mu.Lock()
	delete(a.users, k)
	delete(a.posts, k)
	a.mu.Unlock()
}

// FetchLatest implements Adapter. It performs no network I/O while a
// cooldown is active.
func (a *API) FetchLatest(ctx context.Context, handle, sinceID string) (*Result, error) {
	return safeFetch(NameAPI, func() (*Result, error) {
		return a.fetch(ctx, handle, sinceID)
	})
}

func (a *API) fetch(ctx context.Context, handle, sinceID string) (*Result, error) {
	if a.cfg.BearerToken == "" {
		return nil, nil
	}
	if !a.cfg.RateLimit.Allow() {
		a.cfg.Logger.Debug("source: api cooling down", "handle", handle, "until", a.cfg.RateLimit.Until())
		return nil, nil
	}

	key := strings.ToLower(handle)
	now := a.cfg.Now()
	a.mu.Lock()
	cached, ok := a.posts[key]
	a.mu.Unlock()
	if ok && now.Before(cached.expires) {
		return cached.res, nil
	}

	userID, err := a.userID(ctx, key)
	if err != nil || userID == "" {
		return nil, err
	}

	q := url.Values{}
	q.Set("max_results", strconv.Itoa(a.cfg.MaxResults))
	q.Set("tweet.fields", "created_at,text,attachments")
	q.Set("expansions", "attachments.media_keys")
	q.Set("media.fields", "url,preview_image_url,type")
	q.Set("exclude", "retweets,replies")
	since := post.IsNumeric(sinceID)
	if since {
		q.Set("since_id", sinceID)
	}

	var body tweetsResponse
	if err := a.get(ctx, "/users/"+url.PathEscape(userID)+"/tweets?"+q.Encode(), &body); err != nil {
		return nil, err
	}
	res := a.pickLatest(handle, &body)
	if res == nil {
		if since {
			// An empty page under since_id confirms the hint is still the latest.
			return &Result{Source: NameAPI, PostID: sinceID, NotNewer: true}, nil
		}
		return nil, nil
	}
	a.mu.Lock()
	a.posts[key] = postEntry{res: res, expires: now.Add(a.cfg.PostCacheTTL)}
	a.mu.Unlock()
	return res, nil
}

func (a *API) userID(ctx context.Context, key string) (string, error) {
	now := a.cfg.Now()
	a.mu.Lock()
	u, ok := a.users[key]
	a.mu.Unlock()
	if ok && now.Before(u.expires) {
		return u.id, nil
	}

	var body struct {
		Data *struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := a.get(ctx, "/users/by/username/"+url.PathEscape(key), &body); err != nil {
		return "", err
	}
	if body.Data == nil || body.Data.ID == "" {
		return "", nil
	}
	a.mu.Lock()
	a.users[key] = userEntry{id: body.Data.ID, expires: now.Add(a.cfg.UserCacheTTL)}
	a.mu.Unlock()
	return body.Data.ID, nil
}

type tweetsResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Text        string `json:"text"`
		CreatedAt   string `json:"created_at"`
		Attachments *struct {
			MediaKeys []string `json:"media_keys"`
		} `json:"attachments"`
	} `json:"data"`
	Includes struct {
		Media []struct {
			MediaKey        string `json:"media_key"`
			URL             string `json:"url"`
			PreviewImageURL string `json:"preview_image_url"`
		} `json:"media"`
	} `json:"includes"`
}

func (a *API) pickLatest(handle string, body *tweetsResponse) *Result {
	best := -1
	for i, t := range body.Data {
		if best < 0 {
			best = i
			continue
		}
		if c, ok := post.Compare(t.ID, body.Data[best].ID); ok && c > 0 {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	t := body.Data[best]

	media := make(map[string]string, len(body.Includes.Media))
	for _, m := range body.Includes.Media {
		u := m.URL
		if u == "" {
			u = m.PreviewImageURL
		}
		media[m.MediaKey] = u
	}

	c := post.Content{
		Text:   Text(html.UnescapeString(t.Text)),
		URL:    postURL(a.cfg.PostURLBase, handle, t.ID),
		Source: NameAPI,
	}
	if t.Attachments != nil && len(t.Attachments.MediaKeys) > 0 {
		c.HasMedia = true
		for _, k := range t.Attachments.MediaKeys {
			if u := media[k]; u != "" {
				c.MediaURLs = append(c.MediaURLs, u)
			}
		}
	}
	if ts, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
		c.PublishedAt = ts.UnixMilli()
	}
	return &Result{Source: NameAPI, PostID: t.ID, Content: c}
}

func (a *API) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("source: api: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.BearerToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", randomUserAgent())

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("source: api: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		until := a.resetTime(resp.Header.Get("x-rate-limit-reset"))
		a.cfg.RateLimit.CooldownUntil(until)
		a.cfg.Logger.Warn("source: api rate limited", "until", until)
		return ErrCoolingDown
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Source: NameAPI, Status: resp.StatusCode}
	}

	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return fmt.Errorf("source: api: read body: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ParseError{Source: NameAPI, Cause: err}
	}
	return nil
}

// resetTime reads the unix-seconds reset header, falling back to the
// default cooldown when absent or already past.
func (a *API) resetTime(header string) time.Time {
	now := a.cfg.Now()
	if secs, err := strconv.ParseInt(strings.TrimSpace(header), 10, 64); err == nil {
		if t := time.Unix(secs, 0); t.After(now) {
			return t
		}
	}
	return now.Add(a.cfg.DefaultCooldown)
}

// IsCoolingDown reports whether err came from a rate-limit cooldown.
func IsCoolingDown(err error) bool {
	return errors.Is(err, ErrCoolingDown)
}
