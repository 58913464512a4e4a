package support

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/operiq/support-sync/internal/api"
)

// SessionAPI is the backend surface a session uses.
type SessionAPI interface {
	SinceFetcher
	ListMessages(ctx context.Context, conversationID string) ([]api.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// SessionOptions configures a Session.
type SessionOptions struct {
	PollInterval time.Duration
	// RequestTimeout bounds the fire-and-forget calls a session makes on its
	// own: mark-read and room leave.
	RequestTimeout time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// Session keeps one conversation live. While active it merges three
// producers into the store: push events, the polling fallback and a one-shot
// history load.
//
// Every Open starts a new generation. Producers deliver only while their
// generation is current, so nothing from a closed conversation is ingested
// after Close returns, even responses already in flight.
type Session struct {
	api     SessionAPI
	conn    *ConnectionManager
	store   *Store
	dir     *Directory
	poller  *Poller
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration

	// opMu serializes Open and Close; mu guards the state producers read.
	opMu   sync.Mutex
	mu     sync.Mutex
	active bool
	conv   Conversation
	gen    uint64
	cancel context.CancelFunc
}

// NewSession creates an idle session.
func NewSession(backend SessionAPI, conn *ConnectionManager, store *Store, dir *Directory, opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Session{
		api:   backend,
		conn:  conn,
		store: store,
		dir:   dir,
		poller: NewPoller(backend, store, PollerOptions{
			Interval: opts.PollInterval,
			Logger:   opts.Logger,
			Now:      opts.Now,
		}),
		logger:  opts.Logger,
		now:     opts.Now,
		timeout: opts.RequestTimeout,
	}
}

// Open makes conv the active conversation, closing any other one first.
// Opening the already active conversation does nothing.
func (s *Session) Open(ctx context.Context, conv Conversation) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.active && s.conv.ID == conv.ID {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.closeLocked()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.active = true
	s.conv = conv
	s.cancel = cancel
	s.mu.Unlock()

	id := conv.ID
	logger := s.logger.With("conversation", id)
	logger.Debug("session open")

	// push is best effort; the poller covers any gap
	if err := s.conn.Connect(ctx); err != nil {
		logger.Warn("push channel unavailable", "error", err)
	}
	if err := s.conn.JoinConversation(ctx, id); err != nil {
		logger.Debug("join failed, will retry on reconnect", "error", err)
	}
	s.conn.OnMessage(id, func(m Message) { s.deliver(gen, OriginPush, m) })
	s.poller.Start(runCtx, id, func(m Message) bool { return s.deliver(gen, OriginPoll, m) })

	if s.store.Len(id) == 0 {
		go s.loadHistory(runCtx, gen, id)
	}
	if conv.UnreadCount > 0 {
		s.markRead(ctx, gen, id)
	}
}

// Close stops every producer of the active conversation. It is safe to call
// while idle.
func (s *Session) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	id := s.conv.ID
	cancel := s.cancel
	s.active = false
	s.gen++
	s.cancel = nil
	s.mu.Unlock()

	s.conn.OffMessage(id)
	ctx, done := context.WithTimeout(context.Background(), s.timeout)
	if err := s.conn.LeaveConversation(ctx, id); err != nil {
		s.logger.Debug("leave failed", "conversation", id, "error", err)
	}
	done()
	s.poller.Stop()
	cancel()
	s.logger.Debug("session closed", "conversation", id)
}

// State reports whether a conversation is open and which.
func (s *Session) State() (active bool, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.conv.ID
}

// Active returns a snapshot of the open conversation.
func (s *Session) Active() (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv, s.active
}

// SetStatus updates the open conversation's snapshot so later messages pick
// up the new status as their default.
func (s *Session) SetStatus(conversationID string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active && s.conv.ID == conversationID {
		s.conv.Status = status
	}
}

// Reload re-fetches the full history of the open conversation.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	active, gen, id := s.active, s.gen, s.conv.ID
	s.mu.Unlock()
	if !active {
		return ErrNoActiveConversation
	}
	return s.fetchHistory(ctx, gen, id)
}

// deliver ingests m if gen is still the current generation. The check and
// the ingest happen under one lock so Close cannot slip in between.
func (s *Session) deliver(gen uint64, origin Origin, m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.gen != gen {
		return false
	}
	return s.store.ingestFrom(origin, s.conv.ID, s.conv.withDefaults(m))
}

func (s *Session) loadHistory(ctx context.Context, gen uint64, id string) {
	if err := s.fetchHistory(ctx, gen, id); err != nil && ctx.Err() == nil {
		s.logger.Warn("history load failed", "conversation", id, "error", err)
	}
}

func (s *Session) fetchHistory(ctx context.Context, gen uint64, id string) error {
	msgs, err := s.api.ListMessages(ctx, id)
	if err != nil {
		return err
	}
	now := s.now()
	for _, w := range msgs {
		s.deliver(gen, OriginHistory, MessageFromAPI(w, id, now))
	}
	return nil
}

// markRead zeroes the unread count locally and tells the server without
// waiting for it.
func (s *Session) markRead(ctx context.Context, gen uint64, id string) {
	s.mu.Lock()
	if s.gen == gen {
		s.conv.UnreadCount = 0
	}
	s.mu.Unlock()
	if s.dir != nil {
		s.dir.MarkReadLocal(id, s.now())
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	go func() {
		defer cancel()
		if err := s.api.MarkRead(ctx, id); err != nil {
			s.logger.Warn("mark read failed", "conversation", id, "error", err)
		}
	}()
}
