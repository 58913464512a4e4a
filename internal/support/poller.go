package support

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/operiq/support-sync/internal/api"
	"github.com/operiq/support-sync/internal/metrics"
)

// DefaultPollInterval is the polling fallback cadence.
const DefaultPollInterval = 2 * time.Second

// SinceFetcher fetches messages newer than a cursor. *api.Client implements it.
type SinceFetcher interface {
	ListMessagesSince(ctx context.Context, conversationID string, since time.Time) ([]api.Message, error)
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Interval time.Duration
	// Since is the cursor used while the timeline holds no confirmed message.
	Since  time.Time
	Logger *slog.Logger
	Now    func() time.Time
}

// Poller periodically fetches new messages for one conversation and hands
// them to a sink. It runs regardless of push channel health.
type Poller struct {
	fetcher SinceFetcher
	store   *Store
	opts    PollerOptions

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates an idle poller.
func NewPoller(fetcher SinceFetcher, store *Store, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Since.IsZero() {
		opts.Since = time.Unix(0, 0).UTC()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	closed := make(chan struct{})
	close(closed)
	return &Poller{fetcher: fetcher, store: store, opts: opts, done: closed}
}

// Start polls conversationID until Stop or ctx is done. The first tick
// fires immediately. sink receives every fetched message and reports
// whether it was accepted. A running loop is stopped first.
func (p *Poller) Start(ctx context.Context, conversationID string, sink func(Message) bool) {
	p.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.run(ctx, conversationID, sink, done)
}

// Stop cancels the loop. An in-flight fetch is abandoned and its result
// discarded; no tick starts after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once the current loop has exited.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Poller) run(ctx context.Context, conversationID string, sink func(Message) bool, done chan struct{}) {
	defer close(done)

	p.tick(ctx, conversationID, sink)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, conversationID, sink)
		}
	}
}

func (p *Poller) tick(ctx context.Context, conversationID string, sink func(Message) bool) {
	if ctx.Err() != nil {
		return
	}
	since := p.opts.Since
	if at, ok := p.store.LatestConfirmed(conversationID); ok {
		since = at
	}

	start := time.Now()
	msgs, err := p.fetcher.ListMessagesSince(ctx, conversationID, since)
	metrics.PollLatency.Observe(time.Since(start).Seconds())
	if ctx.Err() != nil {
		metrics.PollRequests.WithLabelValues("discarded").Inc()
		return
	}
	if err != nil {
		metrics.PollRequests.WithLabelValues("error").Inc()
		p.opts.Logger.Warn("poll failed", "conversation", conversationID, "error", err)
		return
	}
	metrics.PollRequests.WithLabelValues("ok").Inc()

	now := p.opts.Now()
	for _, w := range msgs {
		if ctx.Err() != nil {
			return
		}
		sink(MessageFromAPI(w, conversationID, now))
	}
}
