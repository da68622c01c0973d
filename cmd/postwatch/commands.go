package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/postwatch/postwatch"
)

const version = "1.0.0"

func newRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler, notifier, mirror prober and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), opts)
		},
	}
}

func runServer(ctx context.Context, opts *RootOptions) error {
	logger := opts.logger
	svc, closer, err := opts.openService(true)
	if err != nil {
		return err
	}
	defer closer()

	svc.Start(ctx)

	if opts.cfg.MCPStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "postwatch", Version: version}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("postwatch: mcp stdio", "error", err)
			}
		}()
		logger.Info("postwatch: mcp on stdio")
	}

	srv := &http.Server{
		Addr:              opts.cfg.Listen,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("postwatch: http listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("postwatch: shutdown", "error", err)
	}
	logger.Info("postwatch: stopped")
	return nil
}

func newTrackCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "track <handle>...",
		Short: "Start tracking accounts; their current latest post becomes the baseline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *postwatch.Service) (any, error) {
				var outs []*postwatch.PollOutcome
				for _, h := range args {
					out, err := svc.TrackAccount(ctx, h)
					if err != nil {
						return nil, err
					}
					outs = append(outs, out)
				}
				return outs, nil
			})
		},
	}
}

func newUntrackCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "untrack <handle>...",
		Short: "Stop tracking accounts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *postwatch.Service) (any, error) {
				for _, h := range args {
					if err := svc.UntrackAccount(ctx, h); err != nil {
						return nil, err
					}
				}
				return message(fmt.Sprintf("untracked %s", strings.Join(args, ", "))), nil
			})
		},
	}
}

func newPollCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "poll <handle>",
		Short: "Poll one account now; a new post is delivered to subscribers before exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDelivery(cmd, func(ctx context.Context, svc *postwatch.Service) (any, error) {
				return svc.PollAccount(ctx, args[0])
			})
		},
	}
}

func newListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *postwatch.Service) (any, error) {
				return svc.ListAccounts(ctx)
			})
		},
	}
}

func newResetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <handle>",
		Short: "Reset an account to first observation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *postwatch.Service) (any, error) {
				if err := svc.ResetAccount(ctx, args[0]); err != nil {
					return nil, err
				}
				return message("reset " + args[0]), nil
			})
		},
	}
}

func newSourcesCommand(opts *RootOptions) *cobra.Command {
	var global, disable bool
	cmd := &cobra.Command{
		Use:   "sources <handle> [source...]",
		Short: "Show or override the source order of an account",
		Long: `Without sources, print the account's override and the available sources.
With sources, set the override in that order. --global restores the global
order, --disable stops polling the account.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *postwatch.Service) (any, error) {
				handle, names := args[0], args[1:]
				switch {
				case global:
					names = nil
				case disable:
					names = []string{}
				case len(names) == 0:
					a, err := svc.GetAccount(ctx, handle)
					if err != nil {
						return nil, err
					}
					return map[string]any{
						"handle":    a.Handle,
						"preferred": a.PreferredSources,
						"available": svc.Sources(),
					}, nil
				}
				if err := svc.SetPreferredSources(ctx, handle, names); err != nil {
					return nil, err
				}
				return svc.GetAccount(ctx, handle)
			})
		},
	}
	cmd.Flags().BoolVar(&global, "global", false, "use the global source order")
	cmd.Flags().BoolVar(&disable, "disable", false, "disable polling for the account")
	cmd.MarkFlagsMutuallyExclusive("global", "disable")
	return cmd
}

func newSubscribeCommand(opts *RootOptions) *cobra.Command {
	var remove, list bool
	cmd := &cobra.Command{
		Use:   "subscribe <channel> [recipient]",
		Short: "Add, remove (--remove) or list (--list) notification targets",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *postwatch.Service) (any, error) {
				if list {
					return svc.Subscribers(ctx)
				}
				if len(args) == 0 {
					return nil, errors.New("channel is required")
				}
				channel, recipient := args[0], ""
				if len(args) == 2 {
					recipient = args[1]
				}
				if remove {
					if err := svc.Unsubscribe(ctx, channel, recipient); err != nil {
						return nil, err
					}
					return message("unsubscribed " + channel + " " + recipient), nil
				}
				if err := svc.Subscribe(ctx, channel, recipient); err != nil {
					return nil, err
				}
				return message("subscribed " + channel + " " + recipient), nil
			})
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the target")
	cmd.Flags().BoolVar(&list, "list", false, "list targets")
	return cmd
}

func newImportCommand(opts *RootOptions) *cobra.Command {
	var subscribersPath, channel string
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "import [accounts.json]",
		Short: "Import a legacy accounts file and/or subscribers file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var accounts, subs []byte
			var err error
			if len(args) == 1 {
				if accounts, err = os.ReadFile(args[0]); err != nil {
					return err
				}
			}
			if subscribersPath != "" {
				if subs, err = os.ReadFile(subscribersPath); err != nil {
					return err
				}
			}
			if accounts == nil && subs == nil {
				return errors.New("nothing to import")
			}
			return opts.withService(cmd, func(ctx context.Context, svc *postwatch.Service) (any, error) {
				return svc.ImportLegacy(ctx, accounts, subs, channel, overwrite)
			})
		},
	}
	cmd.Flags().StringVar(&subscribersPath, "subscribers", "", "legacy subscribers file (JSON list of chat ids)")
	cmd.Flags().StringVar(&channel, "channel", "telegram", "channel the legacy subscribers receive on")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace accounts that already exist")
	return cmd
}

func newProbeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check every mirror instance now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *postwatch.Service) (any, error) {
				return svc.ProbeMirrors(ctx)
			})
		},
	}
}

type message string

func (m message) String() string { return string(m) }

// printText renders the values commands return as aligned text.
func printText(w io.Writer, v any) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	switch x := v.(type) {
	case []*postwatch.Account:
		fmt.Fprintln(tw, "HANDLE\tLAST POST\tSOURCE\tFAILS\tPRIORITY\tCHECKED")
		for _, a := range x {
			checked := "never"
			if a.LastCheckedAt > 0 {
				checked = time.UnixMilli(a.LastCheckedAt).Format(time.DateTime)
			}
			post := a.LastPostID
			if a.FirstObservation {
				post += " (baseline pending)"
			}
			if a.PollingDisabled() {
				post += " (disabled)"
			}
			fmt.Fprintf(tw, "@%s\t%s\t%s\t%d\t%.2f\t%s\n",
				a.DisplayHandle, post, a.LastSource, a.ConsecutiveFailures, a.Priority, checked)
		}
	case *postwatch.Account:
		return printText(w, []*postwatch.Account{x})
	case []*postwatch.PollOutcome:
		for _, o := range x {
			printOutcome(tw, o)
		}
	case *postwatch.PollOutcome:
		printOutcome(tw, x)
	case []postwatch.MirrorStatus:
		fmt.Fprintln(tw, "MIRROR\tHEALTHY\tFAILURES")
		for _, s := range x {
			fmt.Fprintf(tw, "%s\t%v\t%d\n", s.URL, s.Healthy, s.Failures)
		}
	case []*postwatch.Subscriber:
		fmt.Fprintln(tw, "CHANNEL\tRECIPIENT")
		for _, s := range x {
			fmt.Fprintf(tw, "%s\t%s\n", s.Channel, s.RecipientID)
		}
	case *postwatch.ImportReport:
		fmt.Fprintf(tw, "imported %d, skipped %d, subscribers %d\n", x.Imported, x.Skipped, x.Subscribers)
	default:
		fmt.Fprintf(tw, "%+v\n", v)
	}
	return nil
}

func printOutcome(w io.Writer, o *postwatch.PollOutcome) {
	fmt.Fprintf(w, "@%s\t%s\t%s\tvia %s\t[%s]\n", o.Handle, o.Outcome, o.PostID, o.Source, strings.Join(o.Consulted, ","))
	if o.Content != nil && o.Content.Text != "" {
		fmt.Fprintf(w, "\t%s\n", firstLine(o.Content.Text))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 100 {
		s = string(r[:100]) + "…"
	}
	return s
}
