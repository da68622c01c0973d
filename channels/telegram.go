package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// TelegramConfig is the per-channel JSON config for Telegram bots.
type TelegramConfig struct {
	// BotToken is the Telegram bot API token (from @BotFather).
	BotToken string `json:"bot_token"`
	// APIBase overrides the Bot API endpoint. Default: https://api.telegram.org
	APIBase string `json:"api_base,omitempty"`
	// DisablePreview turns off link previews.
	DisablePreview bool `json:"disable_preview,omitempty"`
}

// TelegramFactory returns a ChannelFactory sending through the Bot API
// sendMessage method. The recipient is the chat id.
//
// Config example:
//
//	{"bot_token": "123456:ABC-DEF"}
func TelegramFactory(opts ...FactoryOption) ChannelFactory {
	fc := newFactoryConfig(opts)
	return func(name string, config json.RawMessage) (Channel, error) {
		var cfg TelegramConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("telegram: parse config: %w", err)
		}
		if cfg.BotToken == "" {
			return nil, fmt.Errorf("telegram: bot_token is required")
		}
		if cfg.APIBase == "" {
			cfg.APIBase = "https://api.telegram.org"
		}
		cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
		return &telegramChannel{
			base:   newBase(name, "telegram", "token_valid", fc.client),
			config: cfg,
		}, nil
	}
}

type telegramChannel struct {
	base
	config TelegramConfig
}

type telegramSend struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (c *telegramChannel) Send(ctx context.Context, msg Message) error {
	if c.isClosed() {
		return c.fail(ErrClosed)
	}
	if msg.RecipientID == "" {
		return c.fail(fmt.Errorf("empty chat id"))
	}
	url := c.config.APIBase + "/bot" + c.config.BotToken + "/sendMessage"
	status, body, err := c.postJSON(ctx, url, telegramSend{
		ChatID:                msg.RecipientID,
		Text:                  msg.Text,
		DisableWebPagePreview: c.config.DisablePreview,
	}, nil)
	if err != nil {
		// The request URL carries the token; never surface it.
		return c.fail(fmt.Errorf("sendMessage: %s", strings.ReplaceAll(err.Error(), c.config.BotToken, "***")))
	}

	var reply telegramReply
	if jerr := json.Unmarshal(body, &reply); jerr != nil && status < 300 {
		return c.fail(fmt.Errorf("sendMessage: decode reply: %w", jerr))
	}
	if status >= 300 || !reply.OK {
		cause := fmt.Errorf("sendMessage: http %d: %s", status, reply.Description)
		if reply.Parameters != nil && reply.Parameters.RetryAfter > 0 {
			cause = fmt.Errorf("%w (retry after %ds)", cause, reply.Parameters.RetryAfter)
		}
		return c.fail(cause)
	}
	c.ok()
	return nil
}
