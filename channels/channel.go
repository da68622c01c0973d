// Package channels delivers outbound notifications to messaging platforms:
// Telegram bots, Discord webhooks and signed generic webhooks.
//
//	d := channels.NewDispatcher(channels.WithLogger(logger))
//	d.RegisterPlatform("telegram", channels.TelegramFactory())
//	d.Open("tg_main", "telegram", json.RawMessage(`{"bot_token":"123:ABC"}`))
//	d.Send(ctx, channels.Message{ChannelName: "tg_main", RecipientID: "42", Text: "hi"})
//
// Channels are configured at startup; a subscriber row names the channel
// and the platform-specific recipient.
package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Message is a platform-normalized outbound message.
type Message struct {
	ID          string            `json:"id"`
	ChannelName string            `json:"channel"`      // e.g. "tg_main"
	Platform    string            `json:"platform"`     // "telegram", "discord", "webhook"
	RecipientID string            `json:"recipient_id"` // chat id, webhook URL, ...
	Text        string            `json:"text"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Attachment is a media file referenced by a message.
type Attachment struct {
	Type string `json:"type"` // "image", "video"
	URL  string `json:"url"`
}

// ChannelStatus describes the current state of a channel.
type ChannelStatus struct {
	Connected   bool      `json:"connected"`
	Platform    string    `json:"platform"`
	AuthState   string    `json:"auth_state"`
	LastMessage time.Time `json:"last_message"`
	Sent        int64     `json:"sent"`
	Failed      int64     `json:"failed"`
	Error       string    `json:"error,omitempty"`
}

// Channel is an outbound connection to a messaging platform.
type Channel interface {
	// Send pushes an outbound message to the platform.
	Send(ctx context.Context, msg Message) error

	// Status returns the current connection status.
	Status() ChannelStatus

	// Close releases resources. Send fails afterwards.
	Close() error
}

// ChannelFactory creates a Channel from a name and JSON config.
type ChannelFactory func(name string, config json.RawMessage) (Channel, error)

// factoryConfig holds the options shared by every platform factory.
type factoryConfig struct {
	client      *http.Client
	validateURL func(string) error
}

// FactoryOption customises a platform factory.
type FactoryOption func(*factoryConfig)

// WithHTTPClient sets the HTTP client used for platform calls.
// Default: a client with a 15s timeout.
func WithHTTPClient(c *http.Client) FactoryOption {
	return func(f *factoryConfig) { f.client = c }
}

// WithURLValidator replaces the SSRF guard applied to recipient-supplied
// URLs. Default: horosafe.ValidateURL.
func WithURLValidator(fn func(string) error) FactoryOption {
	return func(f *factoryConfig) { f.validateURL = fn }
}

func newFactoryConfig(opts []FactoryOption) factoryConfig {
	f := factoryConfig{
		client:      &http.Client{Timeout: 15 * time.Second},
		validateURL: defaultValidateURL,
	}
	for _, o := range opts {
		o(&f)
	}
	return f
}
