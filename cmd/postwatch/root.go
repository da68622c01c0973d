package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/postwatch/channels"
	"github.com/hazyhaar/postwatch/dbopen"
	"github.com/hazyhaar/postwatch/postwatch"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DBPath     string
	LogLevel   string
	Format     string // "text" | "json"

	cfg    *fileConfig
	logger *slog.Logger
}

// NewRootCommand creates the postwatch root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "postwatch",
		Short:         "Multi-source latest-post watcher",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			cfg, err := loadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.DBPath != "" {
				cfg.DB = opts.DBPath
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
			}
			opts.cfg = cfg
			opts.logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", env("POSTWATCH_CONFIG", ""), "path to postwatch.yaml")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "database path (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newTrackCommand(opts))
	cmd.AddCommand(newUntrackCommand(opts))
	cmd.AddCommand(newPollCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newResetCommand(opts))
	cmd.AddCommand(newSourcesCommand(opts))
	cmd.AddCommand(newSubscribeCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newProbeCommand(opts))
	return cmd
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

// openService opens the database and builds the service. The returned
// closer releases both.
func (o *RootOptions) openService(withChannels bool) (*postwatch.Service, func(), error) {
	db, err := dbopen.Open(o.cfg.DB, dbopen.WithMkdirAll())
	if err != nil {
		return nil, nil, err
	}

	var svcOpts []postwatch.ServiceOption
	var dispatcher *channels.Dispatcher
	if withChannels {
		dispatcher, err = openChannels(o.cfg.Channels, o.logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		svcOpts = append(svcOpts, postwatch.WithSender(dispatcher))
	}

	svc, err := postwatch.New(db, o.cfg.serviceConfig(), o.logger, svcOpts...)
	if err != nil {
		if dispatcher != nil {
			dispatcher.Close()
		}
		db.Close()
		return nil, nil, err
	}
	closer := func() {
		svc.Close()
		if dispatcher != nil {
			dispatcher.Close()
		}
		db.Close()
	}
	return svc, closer, nil
}

// openChannels registers every platform and opens the configured channels.
func openChannels(cfgs []channelConfig, logger *slog.Logger) (*channels.Dispatcher, error) {
	d := channels.NewDispatcher(channels.WithLogger(logger))
	d.RegisterPlatform("telegram", channels.TelegramFactory())
	d.RegisterPlatform("discord", channels.DiscordFactory())
	d.RegisterPlatform("webhook", channels.WebhookFactory())

	for _, ch := range cfgs {
		raw, err := ch.raw()
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("channel %s: %w", ch.Name, err)
		}
		if err := d.Open(ch.Name, ch.Platform, raw); err != nil {
			d.Close()
			return nil, fmt.Errorf("channel %s: %w", ch.Name, err)
		}
	}
	logger.Info("postwatch: channels open", "channels", d.Names())
	return d, nil
}

// withService runs fn against a one-shot service.
func (o *RootOptions) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *postwatch.Service) (any, error)) error {
	return o.oneShot(cmd, false, fn)
}

// withDelivery is withService with the configured channels open, so new
// posts found by fn are delivered before the command exits.
func (o *RootOptions) withDelivery(cmd *cobra.Command, fn func(ctx context.Context, svc *postwatch.Service) (any, error)) error {
	return o.oneShot(cmd, len(o.cfg.Channels) > 0, fn)
}

func (o *RootOptions) oneShot(cmd *cobra.Command, withChannels bool, fn func(ctx context.Context, svc *postwatch.Service) (any, error)) error {
	svc, closer, err := o.openService(withChannels)
	if err != nil {
		return err
	}
	defer closer()
	v, err := fn(cmd.Context(), svc)
	if err != nil {
		return err
	}
	return o.print(cmd.OutOrStdout(), v)
}

func (o *RootOptions) print(w io.Writer, v any) error {
	if v == nil {
		return nil
	}
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	if s, ok := v.(fmt.Stringer); ok {
		_, err := fmt.Fprintln(w, s.String())
		return err
	}
	return printText(w, v)
}
