// Package cmd implements the supportctl command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/operiq/support-sync/internal/api"
	"github.com/operiq/support-sync/internal/debug"
	"github.com/operiq/support-sync/internal/dryrun"
	"github.com/operiq/support-sync/internal/iocontext"
	"github.com/operiq/support-sync/internal/outfmt"
)

// rootFlags holds global CLI flags
type rootFlags struct {
	Output         string
	JSON           bool
	Query          string
	Debug          bool
	LogJSON        bool
	Quiet          bool
	Timeout        time.Duration
	EnvFile        string
	BaseURL        string
	Token          string
	NoCache        bool
	IdempotencyKey string
	DryRun         bool
}

// flags is reset at the start of every Execute call; code outside a
// command's RunE reads values from the previous run.
var flags = rootFlags{
	Output:  defaultOutput(),
	Timeout: api.DefaultTimeout,
}

func defaultOutput() string {
	if value := strings.TrimSpace(os.Getenv("SUPPORT_OUTPUT")); value != "" {
		return value
	}
	return "text"
}

// Execute runs the root command
func Execute(ctx context.Context, args []string) error {
	flags = rootFlags{
		Output:  defaultOutput(),
		Timeout: api.DefaultTimeout,
	}

	root := &cobra.Command{
		Use:           "supportctl",
		Short:         "Operate support conversations from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if flags.JSON {
				if cmd.Flags().Changed("output") && flags.Output != "json" {
					return fmt.Errorf("--json conflicts with --output %s", flags.Output)
				}
				flags.Output = "json"
			}
			if flags.Query != "" && flags.Output == "text" {
				if cmd.Flags().Changed("output") {
					return fmt.Errorf("--query requires --output json or jsonl")
				}
				flags.Output = "json"
			}
			mode, err := outfmt.Parse(flags.Output)
			if err != nil {
				return err
			}
			ctx = outfmt.WithMode(ctx, mode)
			if flags.Query != "" {
				ctx = outfmt.WithQuery(ctx, flags.Query)
			}

			if flags.Timeout <= 0 {
				return fmt.Errorf("--timeout must be > 0")
			}

			// streams injected by the caller (tests) win over the process ones
			src := iocontext.GetIO(ctx)
			ioStreams := &iocontext.IO{Out: src.Out, ErrOut: src.ErrOut, In: src.In}
			if flags.Quiet && mode == outfmt.Text {
				ioStreams.Out = io.Discard
			}
			ctx = iocontext.WithIO(ctx, ioStreams)
			cmd.SetOut(ioStreams.Out)
			cmd.SetErr(ioStreams.ErrOut)

			debug.SetupLoggerWith(debug.LoggerOptions{
				Debug: flags.Debug,
				JSON:  flags.LogJSON,
				Out:   ioStreams.ErrOut,
			})
			ctx = debug.WithDebug(ctx, flags.Debug)
			ctx = dryrun.WithDryRun(ctx, flags.DryRun)

			cmd.SetContext(ctx)
			return nil
		},
	}

	root.SetContext(ctx)
	root.SetArgs(args)
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.Output, "output", "o", flags.Output, "Output format: text|json|jsonl (env SUPPORT_OUTPUT)")
	pf.BoolVarP(&flags.JSON, "json", "j", false, "Shorthand for --output json")
	pf.StringVarP(&flags.Query, "query", "q", "", "JQ expression to filter JSON output")
	pf.BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	pf.BoolVar(&flags.LogJSON, "log-json", false, "Write logs as JSON")
	pf.BoolVarP(&flags.Quiet, "quiet", "Q", false, "Suppress non-essential output")
	pf.DurationVar(&flags.Timeout, "timeout", flags.Timeout, "HTTP request timeout (e.g., 30s, 2m)")
	pf.StringVar(&flags.EnvFile, "env-file", "", "Load environment variables from this file (default ./.env when present)")
	pf.StringVar(&flags.BaseURL, "base-url", "", "Backend URL (overrides stored credentials and SUPPORT_BASE_URL)")
	pf.StringVar(&flags.Token, "token", "", "API token (overrides stored credentials and SUPPORT_API_TOKEN)")
	pf.BoolVar(&flags.NoCache, "no-cache", false, "Do not read or write the conversation snapshot cache")
	pf.StringVar(&flags.IdempotencyKey, "idempotency-key", "", "Idempotency key for write requests (use 'auto' for per-request keys)")
	pf.BoolVar(&flags.DryRun, "dry-run", false, "Preview changes without sending them")

	root.AddCommand(newConversationsCmd())
	root.AddCommand(newMessagesCmd())
	root.AddCommand(newAuthCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newVersionCmd())

	if _, err := root.ExecuteC(); err != nil {
		if !errors.Is(err, errAlreadyHandled) {
			_, _ = fmt.Fprintln(iocontext.GetIO(ctx).ErrOut, "Error:", err)
		}
		return err
	}
	return nil
}
