package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// discordMaxContent is the message content limit of Discord webhooks.
const discordMaxContent = 2000

// DiscordConfig is the per-channel JSON config for Discord webhooks.
type DiscordConfig struct {
	// WebhookURL is the default incoming webhook. A subscriber whose
	// recipient id is an https URL overrides it.
	WebhookURL string `json:"webhook_url,omitempty"`
	// Username overrides the webhook's display name.
	Username string `json:"username,omitempty"`
}

// DiscordFactory returns a ChannelFactory posting to Discord incoming
// webhooks.
//
// Config example:
//
//	{"webhook_url": "https://discord.com/api/webhooks/1/abc", "username": "postwatch"}
func DiscordFactory(opts ...FactoryOption) ChannelFactory {
	fc := newFactoryConfig(opts)
	return func(name string, config json.RawMessage) (Channel, error) {
		var cfg DiscordConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("discord: parse config: %w", err)
		}
		if cfg.WebhookURL != "" {
			if err := fc.validateURL(cfg.WebhookURL); err != nil {
				return nil, fmt.Errorf("discord: webhook_url: %w", err)
			}
		}
		return &discordChannel{
			base:     newBase(name, "discord", "webhook", fc.client),
			config:   cfg,
			validate: fc.validateURL,
		}, nil
	}
}

type discordChannel struct {
	base
	config   DiscordConfig
	validate func(string) error
}

type discordPayload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

func (c *discordChannel) Send(ctx context.Context, msg Message) error {
	if c.isClosed() {
		return c.fail(ErrClosed)
	}
	target := c.config.WebhookURL
	if strings.HasPrefix(msg.RecipientID, "https://") {
		if err := c.validate(msg.RecipientID); err != nil {
			return c.fail(fmt.Errorf("recipient url: %w", err))
		}
		target = msg.RecipientID
	}
	if target == "" {
		return c.fail(fmt.Errorf("no webhook url"))
	}

	content := msg.Text
	if utf8.RuneCountInString(content) > discordMaxContent {
		r := []rune(content)
		content = string(r[:discordMaxContent-1]) + "…"
	}
	status, body, err := c.postJSON(ctx, target, discordPayload{Content: content, Username: c.config.Username}, nil)
	if err != nil {
		return c.fail(err)
	}
	if status >= 300 {
		return c.fail(fmt.Errorf("webhook returned %d: %s", status, strings.TrimSpace(string(body))))
	}
	c.ok()
	return nil
}
