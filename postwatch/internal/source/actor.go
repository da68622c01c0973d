// CLAUDE:SUMMARY Hosted scraper actor adapter: synchronous actor run returning dataset items, tolerant field lookup, 30 min per-handle cache.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/postwatch/horosafe"
	"github.com/hazyhaar/postwatch/postwatch/internal/post"
)

// ActorConfig configures the hosted scraper actor adapter.
type ActorConfig struct {
	BaseURL     string        // Default: https://api.apify.com/v2
	Token       string        // Required.
	Actor       string        // Default: quacker~twitter-scraper
	Timeout     time.Duration // Whole run. Default: 120s.
	CacheTTL    time.Duration // Default: 30m.
	Residential bool          // Ask the vendor for residential proxies.
	PostURLBase string        // Default: https://twitter.com
	Transport   http.RoundTripper
	Now         func() time.Time
	Logger      *slog.Logger
}

func (c *ActorConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.apify.com/v2"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Actor == "" {
		c.Actor = "quacker~twitter-scraper"
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Minute
	}
	if c.PostURLBase == "" {
		c.PostURLBase = "https://twitter.com"
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Actor runs a hosted scraping job per poll.
type Actor struct {
	cfg    ActorConfig
	client *http.Client

	mu    sync.Mutex
	cache map[string]postEntry
}

// NewActor creates the actor adapter.
func NewActor(cfg ActorConfig) *Actor {
	cfg.defaults()
	return &Actor{
		cfg:    cfg,
		client: newClient(cfg.Timeout, cfg.Transport),
		cache:  make(map[string]postEntry),
	}
}

func (a *Actor) Name() string { return NameActor }

func (a *Actor) Timeout() time.Duration { return a.cfg.Timeout + time.Second }

// Forget drops the cached post for handle.
func (a *Actor) Forget(handle string) {
	a.mu.Lock()
	delete(a.cache, strings.ToLower(handle))
	a.mu.Unlock()
}

// FetchLatest implements Adapter.
func (a *Actor) FetchLatest(ctx context.Context, handle, sinceID string) (*Result, error) {
	return safeFetch(NameActor, func() (*Result, error) {
		return a.fetch(ctx, handle, sinceID)
	})
}

type actorInput struct {
	Usernames       []string            `json:"usernames"`
	MaxTweets       int                 `json:"maxTweets"`
	IncludeReplies  bool                `json:"includeReplies"`
	IncludeRetweets bool                `json:"includeRetweets"`
	StartURLs       []map[string]string `json:"startUrls"`
	ProxyConfig     actorProxy          `json:"proxyConfig"`
}

type actorProxy struct {
	UseApifyProxy    bool     `json:"useApifyProxy"`
	ApifyProxyGroups []string `json:"apifyProxyGroups"`
}

func (a *Actor) fetch(ctx context.Context, handle, sinceID string) (*Result, error) {
	if a.cfg.Token == "" {
		return nil, nil
	}
	key := strings.ToLower(handle)
	now := a.cfg.Now()
	a.mu.Lock()
	cached, ok := a.cache[key]
	a.mu.Unlock()
	if ok && now.Before(cached.expires) {
		return cached.res, nil
	}

	group := "AUTOMATIC"
	if a.cfg.Residential {
		group = "RESIDENTIAL"
	}
	in := actorInput{
		Usernames: []string{handle},
		MaxTweets: 1,
		StartURLs: []map[string]string{{"url": a.cfg.PostURLBase + "/" + handle}},
		ProxyConfig: actorProxy{
			UseApifyProxy:    true,
			ApifyProxyGroups: []string{group},
		},
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("source: actor: marshal input: %w", err)
	}

	endpoint := a.cfg.BaseURL + "/acts/" + url.PathEscape(a.cfg.Actor) + "/run-sync-get-dataset-items"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("source: actor: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: actor: http: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Source: NameActor, Status: resp.StatusCode}
	}
	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("source: actor: read body: %w", err)
	}
	var items []map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&items); err != nil {
		return nil, &ParseError{Source: NameActor, Cause: err}
	}

	res := a.pickItem(handle, items)
	if res == nil {
		a.cfg.Logger.Debug("source: actor returned no usable item", "handle", handle, "items", len(items))
		return nil, nil
	}
	a.mu.Lock()
	a.cache[key] = postEntry{res: res, expires: now.Add(a.cfg.CacheTTL)}
	a.mu.Unlock()
	return res, nil
}

// pickItem returns the newest item that is neither a reply nor a repost.
func (a *Actor) pickItem(handle string, items []map[string]any) *Result {
	var best *Result
	for _, item := range items {
		if truthy(item["isReply"]) || truthy(item["isRetweet"]) {
			continue
		}
		id := firstString(item, "id", "id_str", "tweetId")
		if id == "" {
			continue
		}
		if best != nil && !post.Newer(id, best.PostID) {
			continue
		}
		c := post.Content{
			Text:   Text(firstString(item, "full_text", "text")),
			URL:    firstString(item, "url", "twitterUrl"),
			Source: NameActor,
		}
		if c.URL == "" {
			c.URL = postURL(a.cfg.PostURLBase, handle, id)
		}
		if media, ok := item["media"].([]any); ok {
			for _, m := range media {
				switch v := m.(type) {
				case string:
					c.MediaURLs = append(c.MediaURLs, v)
				case map[string]any:
					if u := firstString(v, "media_url_https", "url"); u != "" {
						c.MediaURLs = append(c.MediaURLs, u)
					}
				}
			}
		}
		c.HasMedia = len(c.MediaURLs) > 0
		if ts := firstString(item, "created_at", "createdAt"); ts != "" {
			for _, layout := range []string{time.RFC3339, time.RubyDate} {
				if t, err := time.Parse(layout, ts); err == nil {
					c.PublishedAt = t.UnixMilli()
					break
				}
			}
		}
		best = &Result{Source: NameActor, PostID: id, Content: c}
	}
	return best
}

// firstString returns the first key holding a non-empty string or number.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
