// CLAUDE:SUMMARY Entry point for the postwatch binary: signal-aware context around the cobra root command.
// Command postwatch tracks the latest post of social accounts and notifies
// subscribers of new ones.
//
// Usage:
//
//	postwatch run -c postwatch.yaml        # scheduler + HTTP (+ MCP on stdio)
//	postwatch track nasa                   # start tracking, set baseline
//	postwatch poll nasa                    # poll once now
//	postwatch list --format json
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "postwatch:", err)
		stop()
		os.Exit(1)
	}
}
