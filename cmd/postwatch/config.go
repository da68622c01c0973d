// CLAUDE:SUMMARY postwatch binary configuration: YAML file, .env and environment overrides, conversion to the service config.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/postwatch/postwatch"
)

// fileConfig is the postwatch.yaml layout. Secrets are better left to the
// environment.
type fileConfig struct {
	DB     string `yaml:"db"`
	Listen string `yaml:"listen"`
	// AdminToken protects the HTTP API when set.
	AdminToken string `yaml:"admin_token"`
	MCPStdio   bool   `yaml:"mcp_stdio"`
	LogLevel   string `yaml:"log_level"`

	API struct {
		BaseURL     string        `yaml:"base_url"`
		BearerToken string        `yaml:"bearer_token"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"api"`

	Actor struct {
		Token       string        `yaml:"token"`
		Actor       string        `yaml:"actor"`
		Residential bool          `yaml:"residential"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"actor"`

	Mirror struct {
		MaxAttempts int           `yaml:"max_attempts"`
		Timeout     time.Duration `yaml:"timeout"`
		ProbeHandle string        `yaml:"probe_handle"`
	} `yaml:"mirror"`

	Browser struct {
		Enabled          bool          `yaml:"enabled"`
		RemoteURL        string        `yaml:"remote_url"`
		Bin              string        `yaml:"bin"`
		Proxy            string        `yaml:"proxy"`
		MemoryLimit      int64         `yaml:"memory_limit"`
		RecycleInterval  time.Duration `yaml:"recycle_interval"`
		ResourceBlocking []string      `yaml:"resource_blocking"`
	} `yaml:"browser"`

	Reconcile struct {
		CallTimeout time.Duration `yaml:"call_timeout"`
		MinIDLength int           `yaml:"min_id_length"`
	} `yaml:"reconcile"`

	InitialDelay     time.Duration `yaml:"initial_delay"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	PollLogRetention time.Duration `yaml:"poll_log_retention"`

	Channels []channelConfig `yaml:"channels"`
}

// channelConfig opens one notification channel. Config is passed to the
// platform factory as JSON.
type channelConfig struct {
	Name     string         `yaml:"name"`
	Platform string         `yaml:"platform"` // telegram | discord | webhook
	Config   map[string]any `yaml:"config"`
}

// loadConfig reads .env (if present), the YAML file (if path is set) and
// applies environment overrides and defaults.
func loadConfig(path string) (*fileConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}

	var cfg fileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *fileConfig) applyEnv() {
	c.DB = env("POSTWATCH_DB", c.DB)
	c.Listen = env("POSTWATCH_LISTEN", c.Listen)
	c.LogLevel = env("POSTWATCH_LOG_LEVEL", c.LogLevel)
	c.AdminToken = env("POSTWATCH_ADMIN_TOKEN", c.AdminToken)
	c.API.BearerToken = env("POSTWATCH_API_TOKEN", env("TWITTER_BEARER_TOKEN", c.API.BearerToken))
	c.Actor.Token = env("POSTWATCH_ACTOR_TOKEN", env("APIFY_TOKEN", c.Actor.Token))
	c.Browser.RemoteURL = env("POSTWATCH_CHROME_URL", c.Browser.RemoteURL)
	if v, err := strconv.ParseBool(os.Getenv("POSTWATCH_MCP_STDIO")); err == nil {
		c.MCPStdio = v
	}
	if v, err := strconv.ParseBool(os.Getenv("POSTWATCH_BROWSER")); err == nil {
		c.Browser.Enabled = v
	}

	if tok := os.Getenv("POSTWATCH_TELEGRAM_TOKEN"); tok != "" && !c.hasChannel("telegram") {
		c.Channels = append(c.Channels, channelConfig{
			Name: "telegram", Platform: "telegram",
			Config: map[string]any{"bot_token": tok},
		})
	}
	if u := os.Getenv("POSTWATCH_WEBHOOK_URL"); u != "" && !c.hasChannel("webhook") {
		c.Channels = append(c.Channels, channelConfig{
			Name: "webhook", Platform: "webhook",
			Config: map[string]any{"url": u, "secret": os.Getenv("POSTWATCH_WEBHOOK_SECRET")},
		})
	}
}

func (c *fileConfig) hasChannel(name string) bool {
	for _, ch := range c.Channels {
		if ch.Name == name {
			return true
		}
	}
	return false
}

func (c *fileConfig) applyDefaults() {
	if c.DB == "" {
		c.DB = "data/postwatch.db"
	}
	if c.Listen == "" {
		c.Listen = ":8085"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// serviceConfig converts the file layout into the service configuration.
func (c *fileConfig) serviceConfig() *postwatch.Config {
	sc := &postwatch.Config{
		EnableBrowser:    c.Browser.Enabled,
		ProbeInterval:    c.ProbeInterval,
		PollLogRetention: c.PollLogRetention,
		AdminToken:       c.AdminToken,
	}
	sc.API.BaseURL = c.API.BaseURL
	sc.API.BearerToken = c.API.BearerToken
	sc.API.Timeout = c.API.Timeout

	sc.Actor.Token = c.Actor.Token
	sc.Actor.Actor = c.Actor.Actor
	sc.Actor.Residential = c.Actor.Residential
	sc.Actor.Timeout = c.Actor.Timeout

	sc.Mirror.MaxAttempts = c.Mirror.MaxAttempts
	sc.Mirror.Timeout = c.Mirror.Timeout
	sc.Mirror.ProbeHandle = c.Mirror.ProbeHandle

	sc.Chrome.RemoteURL = c.Browser.RemoteURL
	sc.Chrome.Bin = c.Browser.Bin
	sc.Chrome.Proxy = c.Browser.Proxy
	sc.Chrome.MemoryLimit = c.Browser.MemoryLimit
	sc.Chrome.RecycleInterval = c.Browser.RecycleInterval
	sc.Chrome.ResourceBlocking = c.Browser.ResourceBlocking

	sc.Reconcile.CallTimeout = c.Reconcile.CallTimeout
	sc.Reconcile.MinIDLength = c.Reconcile.MinIDLength
	sc.Scheduler.InitialDelay = c.InitialDelay
	return sc
}

func (ch channelConfig) raw() (json.RawMessage, error) {
	if ch.Config == nil {
		return json.RawMessage(`{}`), nil
	}
	return json.Marshal(ch.Config)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
