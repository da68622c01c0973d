package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hazyhaar/postwatch/horosafe"
)

var defaultValidateURL = horosafe.ValidateURL

// base carries the state every platform channel shares.
type base struct {
	name     string
	platform string
	client   *http.Client

	mu     sync.Mutex
	closed bool
	status ChannelStatus
}

func newBase(name, platform, authState string, client *http.Client) base {
	return base{
		name:     name,
		platform: platform,
		client:   client,
		status:   ChannelStatus{Connected: true, Platform: platform, AuthState: authState},
	}
}

func (b *base) fail(cause error) error {
	b.mu.Lock()
	b.status.Failed++
	b.status.Error = cause.Error()
	b.mu.Unlock()
	return &ErrSendFailed{Channel: b.name, Platform: b.platform, Cause: cause}
}

func (b *base) ok() {
	b.mu.Lock()
	b.status.Sent++
	b.status.LastMessage = time.Now()
	b.status.Error = ""
	b.mu.Unlock()
}

func (b *base) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *base) Status() ChannelStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.status.Connected = false
	b.status.AuthState = "closed"
	return nil
}

// postJSON posts payload to url and returns the status and body.
func (b *base) postJSON(ctx context.Context, url string, payload any, header http.Header) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal: %w", err)
	}
	return b.post(ctx, url, body, header)
}

func (b *base) post(ctx context.Context, url string, body []byte, header http.Header) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	data, err := horosafe.LimitedReadAll(resp.Body, 64<<10)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}
