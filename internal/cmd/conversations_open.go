package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/operiq/support-sync/internal/dryrun"
	"github.com/operiq/support-sync/internal/iocontext"
	"github.com/operiq/support-sync/internal/outfmt"
	"github.com/operiq/support-sync/internal/support"
	"github.com/operiq/support-sync/internal/validation"
)

func newConversationsOpenCmd() *cobra.Command {
	var (
		send        bool
		duration    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "open <conversation>",
		Short: "Open a conversation and stream its messages",
		Long: `Open a conversation and stream its timeline: stored history first, then
new messages as they arrive over the push channel or the polling fallback.

With --send, every line read from stdin is sent as a message; the command
exits when stdin is exhausted.`,
		Example: `  supportctl conversations open c-123
  supportctl conversations open "Acme Transport" --send
  supportctl conversations open c-123 -o jsonl --metrics-addr :9102`,
		Args: cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if duration < 0 {
				return fmt.Errorf("--duration must be >= 0")
			}
			if send && dryrun.IsEnabled(cmd.Context()) {
				return fmt.Errorf("--send cannot be combined with --dry-run")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancelTimeout context.CancelFunc
				ctx, cancelTimeout = context.WithTimeout(ctx, duration)
				defer cancelTimeout()
			}

			h, err := newClientFactory().newController(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := loadDirectory(ctx, h.ctrl); err != nil {
				return err
			}
			conv, err := resolveConversation(h.ctrl, args[0])
			if err != nil {
				return err
			}

			p := newStreamPrinter(cmd)
			h.ctrl.Store().Observe(support.ObserverFunc(func(ch support.Change) {
				// an entry that replaced one already shown is reported by sent
				if ch.ConversationID == conv.ID && ch.Inserted != nil && ch.Removed == "" {
					p.message(*ch.Inserted)
				}
			}))
			h.ctrl.OnStatus(p.status)

			p.banner(conv)
			if _, err := h.ctrl.Select(ctx, conv.ID); err != nil {
				return err
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			g, gctx := errgroup.WithContext(runCtx)
			g.Go(func() error {
				return h.ctrl.Start(gctx)
			})
			if metricsAddr != "" {
				serveMetrics(gctx, g, metricsAddr)
			}
			if send {
				// stdin reads cannot be interrupted, so the reader stays
				// outside the group
				in := iocontext.GetIO(ctx).In
				go func() {
					defer cancel()
					if err := sendLines(gctx, h.ctrl, in, p); err != nil {
						p.failure(err)
					}
				}()
			}
			return g.Wait()
		}),
	}

	cmd.Flags().BoolVar(&send, "send", false, "Send each stdin line as a message; exit at end of input")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop streaming after this long (0 = until interrupted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g., :9102)")
	return cmd
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})
}

func sendLines(ctx context.Context, ctrl *support.Controller, in io.Reader, p *streamPrinter) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := validation.ValidateMessageContent(line); err != nil {
			p.failure(err)
			continue
		}
		m, err := ctrl.Send(ctx, line)
		if err != nil {
			p.failure(err)
			continue
		}
		p.sent(m)
	}
	return scanner.Err()
}

// streamEvent is one line of jsonl stream output.
type streamEvent struct {
	Type      string           `json:"type"`
	Message   *support.Message `json:"message,omitempty"`
	Connected *bool            `json:"connected,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// streamPrinter serializes output from the push, poll and stdin goroutines.
type streamPrinter struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	json   bool
	query  string
}

func newStreamPrinter(cmd *cobra.Command) *streamPrinter {
	ctx := cmd.Context()
	streams := iocontext.GetIO(ctx)
	return &streamPrinter{
		out:    streams.Out,
		errOut: streams.ErrOut,
		json:   outfmt.IsJSON(ctx),
		query:  outfmt.GetQuery(ctx),
	}
}

func (p *streamPrinter) emit(ev streamEvent, text string, toErr bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		_ = outfmt.WriteLine(p.out, ev, p.query)
		return
	}
	w := p.out
	if toErr {
		w = p.errOut
	}
	_, _ = fmt.Fprintln(w, text)
}

func (p *streamPrinter) banner(conv support.Conversation) {
	if p.json {
		return
	}
	c := conv.Counterpart()
	p.emit(streamEvent{}, fmt.Sprintf("Conversation %s with %s [%s]. Ctrl-C to leave.", conv.ID, c.DisplayName, conv.Status), true)
}

func (p *streamPrinter) message(m support.Message) {
	p.emit(streamEvent{Type: "message", Message: &m}, messageLine(m), false)
}

func (p *streamPrinter) sent(m support.Message) {
	p.emit(streamEvent{Type: "sent", Message: &m}, "-- delivered "+m.ID, true)
}

func (p *streamPrinter) status(connected bool) {
	text := "-- live updates connected"
	if !connected {
		text = "-- live updates lost, polling"
	}
	p.emit(streamEvent{Type: "status", Connected: &connected}, text, true)
}

func (p *streamPrinter) failure(err error) {
	p.emit(streamEvent{Type: "error", Error: err.Error()}, "-- "+err.Error(), true)
}
