package channels

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Signature-256"

// WebhookConfig is the per-channel JSON config for generic webhooks.
type WebhookConfig struct {
	// URL is the default target. A subscriber whose recipient id is an
	// http(s) URL overrides it.
	URL string `json:"url,omitempty"`
	// Secret signs each body with HMAC-SHA256 in X-Signature-256.
	Secret string `json:"secret,omitempty"`
}

// WebhookFactory returns a ChannelFactory POSTing the Message as JSON.
//
// Config example:
//
//	{"url": "https://hooks.example.com/postwatch", "secret": "hmac_key"}
func WebhookFactory(opts ...FactoryOption) ChannelFactory {
	fc := newFactoryConfig(opts)
	return func(name string, config json.RawMessage) (Channel, error) {
		var cfg WebhookConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("webhook: parse config: %w", err)
		}
		if cfg.URL != "" {
			if err := fc.validateURL(cfg.URL); err != nil {
				return nil, fmt.Errorf("webhook: url: %w", err)
			}
		}
		return &webhookChannel{
			base:     newBase(name, "webhook", "signed", fc.client),
			config:   cfg,
			validate: fc.validateURL,
		}, nil
	}
}

type webhookChannel struct {
	base
	config   WebhookConfig
	validate func(string) error
}

func (c *webhookChannel) Send(ctx context.Context, msg Message) error {
	if c.isClosed() {
		return c.fail(ErrClosed)
	}
	target := c.config.URL
	if strings.HasPrefix(msg.RecipientID, "http://") || strings.HasPrefix(msg.RecipientID, "https://") {
		target = msg.RecipientID
	}
	if target == "" {
		return c.fail(fmt.Errorf("no target url"))
	}
	if err := c.validate(target); err != nil {
		return c.fail(fmt.Errorf("target url: %w", err))
	}

	msg.ChannelName = c.name
	msg.Platform = "webhook"
	body, err := json.Marshal(msg)
	if err != nil {
		return c.fail(fmt.Errorf("marshal: %w", err))
	}
	header := http.Header{}
	if c.config.Secret != "" {
		header.Set(SignatureHeader, "sha256="+Sign(c.config.Secret, body))
	}
	status, _, err := c.post(ctx, target, body, header)
	if err != nil {
		return c.fail(err)
	}
	if status >= 400 {
		return c.fail(fmt.Errorf("target returned %d", status))
	}
	c.ok()
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a X-Signature-256 value (with or without the
// "sha256=" prefix) against body. Receivers use it to authenticate calls.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	decoded, err := hex.DecodeString(signature)
	if err != nil || len(decoded) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}
