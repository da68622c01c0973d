// CLAUDE:SUMMARY Proxy rotation: a RoundTripper picking a random http(s) or socks5 proxy per request.
package source

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/proxy"
)

// ProxyPool is an http.RoundTripper that sends each request through a
// randomly chosen proxy. An empty pool dials directly.
type ProxyPool struct {
	mu         sync.RWMutex
	transports []http.RoundTripper
	direct     http.RoundTripper
}

// NewProxyPool builds a pool from proxy URLs (http, https, socks5, socks5h).
func NewProxyPool(proxies []string) (*ProxyPool, error) {
	p := &ProxyPool{direct: http.DefaultTransport}
	if err := p.Update(proxies); err != nil {
		return nil, err
	}
	return p, nil
}

// Update replaces the proxy set. On error the previous set is kept.
func (p *ProxyPool) Update(proxies []string) error {
	transports := make([]http.RoundTripper, 0, len(proxies))
	for _, raw := range proxies {
		t, err := proxyTransport(raw)
		if err != nil {
			return err
		}
		transports = append(transports, t)
	}
	p.mu.Lock()
	p.transports = transports
	p.mu.Unlock()
	return nil
}

// Len returns the number of proxies in the pool.
func (p *ProxyPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.transports)
}

// RoundTrip implements http.RoundTripper.
func (p *ProxyPool) RoundTrip(req *http.Request) (*http.Response, error) {
	p.mu.RLock()
	rt := p.direct
	if n := len(p.transports); n > 0 {
		rt = p.transports[rand.IntN(n)]
	}
	p.mu.RUnlock()
	return rt.RoundTrip(req)
}

// ValidateProxyURL checks that raw is a usable proxy URL.
func ValidateProxyURL(raw string) error {
	_, err := parseProxyURL(raw)
	return err
}

func parseProxyURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("source: proxy %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("source: proxy %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("source: proxy %q: missing host", raw)
	}
	return u, nil
}

func proxyTransport(raw string) (http.RoundTripper, error) {
	u, err := parseProxyURL(raw)
	if err != nil {
		return nil, err
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	switch u.Scheme {
	case "http", "https":
		t.Proxy = http.ProxyURL(u)
	default:
		d, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("source: proxy %q: %w", raw, err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("source: proxy %q: dialer has no context support", raw)
		}
		t.Proxy = nil
		t.DialContext = cd.DialContext
	}
	return t, nil
}
