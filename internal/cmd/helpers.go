package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/operiq/support-sync/internal/dryrun"
	"github.com/operiq/support-sync/internal/iocontext"
	"github.com/operiq/support-sync/internal/outfmt"
	"github.com/operiq/support-sync/internal/support"
)

// newFormatter renders a command's result to the context's IO streams.
func newFormatter(cmd *cobra.Command) *outfmt.Formatter {
	ioStreams := iocontext.GetIO(cmd.Context())
	return outfmt.NewFormatter(cmd.Context(), ioStreams.Out, ioStreams.ErrOut)
}

// printJSON outputs data as JSON with optional query filtering
func printJSON(cmd *cobra.Command, v any) error {
	ioStreams := iocontext.GetIO(cmd.Context())
	query := outfmt.GetQuery(cmd.Context())
	if outfmt.IsJSONL(cmd.Context()) {
		return outfmt.WriteLine(ioStreams.Out, v, query)
	}
	return outfmt.WriteJSON(ioStreams.Out, v, query, false)
}

// isJSON checks if the command context wants JSON output
func isJSON(cmd *cobra.Command) bool {
	return outfmt.IsJSON(cmd.Context())
}

// printAction reports a completed mutation in text mode.
func printAction(cmd *cobra.Command, format string, args ...any) {
	if flags.Quiet || isJSON(cmd) {
		return
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
}

// maybeDryRun prints preview and reports true when the command must stop
// before calling the backend.
func maybeDryRun(cmd *cobra.Command, preview *dryrun.Preview) (bool, error) {
	if !dryrun.IsEnabled(cmd.Context()) {
		return false, nil
	}
	preview.DryRun = true
	if isJSON(cmd) {
		return true, printJSON(cmd, preview)
	}
	preview.Write(iocontext.GetIO(cmd.Context()).Out)
	return true, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// messageLine renders one timeline entry for text output.
func messageLine(m support.Message) string {
	marker := ""
	switch {
	case m.Delivery == support.DeliveryFailed:
		marker = " [failed]"
	case m.Provisional:
		marker = " [sending]"
	}
	name := m.Sender.DisplayName
	if name == "" {
		name = m.Sender.ID
	}
	return fmt.Sprintf("%s  %s: %s%s", formatTime(m.SentAt), name, m.Body, marker)
}

// errAlreadyHandled marks errors RunE already printed. Root returns them
// for the exit code without printing again.
var errAlreadyHandled = errors.New("error already handled")

type handledError struct {
	err      error
	exitCode int
}

func (e *handledError) Error() string {
	return e.err.Error()
}

func (e *handledError) Unwrap() error {
	return errAlreadyHandled
}

func (e *handledError) ExitCode() int {
	return e.exitCode
}

// errorPayload is the stderr shape of a failure in JSON mode.
type errorPayload struct {
	Error    string `json:"error"`
	ExitCode int    `json:"exit_code"`
}

// RunE wraps a command function with enhanced error handling
func RunE(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if err == nil {
			return nil
		}
		code := ExitCode(err)
		errOut := iocontext.GetIO(cmd.Context()).ErrOut
		if isJSON(cmd) {
			_ = outfmt.WriteJSON(errOut, errorPayload{Error: err.Error(), ExitCode: code}, "", true)
		} else {
			_, _ = fmt.Fprint(errOut, HandleError(err))
		}
		return &handledError{err: err, exitCode: code}
	}
}
