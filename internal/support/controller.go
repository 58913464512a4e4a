package support

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/operiq/support-sync/internal/api"
	"github.com/operiq/support-sync/internal/metrics"
)

var (
	// ErrEmptyMessage is returned when Send is given only whitespace.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoActiveConversation is returned by operations that need an open
	// conversation.
	ErrNoActiveConversation = errors.New("no conversation is open")
	// ErrUnknownConversation is returned by Select for ids the backend does
	// not list.
	ErrUnknownConversation = errors.New("unknown conversation")
	// ErrSendFailed wraps the transport error of a failed send.
	ErrSendFailed = errors.New("send failed")
)

// API is the backend surface the controller needs. *api.Client implements it.
type API interface {
	SessionAPI
	ConversationLister
	CreateConversation(ctx context.Context, req api.CreateConversationRequest) (*api.CreateConversationResponse, error)
	SendMessage(ctx context.Context, req api.SendMessageRequest) (*api.SendMessageResponse, error)
	UpdateStatus(ctx context.Context, conversationID, status string) error
}

// Identity is the admin operating the console.
type Identity struct {
	ID    string
	Name  string
	Email string
}

// Participant returns the identity as the admin side of a conversation.
func (i Identity) Participant() Participant {
	id := i.ID
	if id == "" {
		id = "admin"
	}
	return Participant{ID: id, DisplayName: i.Name, Role: RoleAdmin}
}

// Config wires a Controller.
type Config struct {
	API      API
	Channel  PubSub
	Cache    SnapshotCache
	Identity Identity

	PollInterval      time.Duration
	DirectoryInterval time.Duration
	Logger            *slog.Logger
	Now               func() time.Time
}

// Controller is the console's entry point: it owns the store, directory,
// push connection and the single active session, and turns user actions
// into optimistic local updates plus backend calls.
type Controller struct {
	api      API
	identity Identity
	store    *Store
	dir      *Directory
	conn     *ConnectionManager
	session  *Session
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewController assembles the components. Nothing runs until Start or
// Select.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	store := NewStore()
	dir := NewDirectory(cfg.API, DirectoryOptions{
		Admin:  cfg.Identity.Participant(),
		Cache:  cfg.Cache,
		Bodies: store,
		Logger: cfg.Logger,
	})
	store.Observe(dir)
	conn := NewConnectionManager(cfg.Channel, ConnectionOptions{Logger: cfg.Logger, Now: cfg.Now})
	conn.OnConversationCreated(dir.Kick)

	return &Controller{
		api:      cfg.API,
		identity: cfg.Identity,
		store:    store,
		dir:      dir,
		conn:     conn,
		session: NewSession(cfg.API, conn, store, dir, SessionOptions{
			PollInterval: cfg.PollInterval,
			Logger:       cfg.Logger,
			Now:          cfg.Now,
		}),
		interval: cfg.DirectoryInterval,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Start loads the directory and keeps it fresh until ctx is done, then
// shuts the controller down. A failed first load is logged, not returned,
// so a cached snapshot can still serve.
func (c *Controller) Start(ctx context.Context) error {
	c.dir.Warm(ctx)
	if err := c.dir.Refresh(ctx); err != nil {
		c.logger.Warn("initial directory load failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.dir.Run(ctx, c.interval)
	})
	g.Go(func() error {
		<-ctx.Done()
		c.Shutdown()
		return nil
	})
	return g.Wait()
}

// Shutdown closes the active session and the push channel.
func (c *Controller) Shutdown() {
	c.session.Close()
	c.conn.Disconnect()
}

// Store exposes the message store, mainly to register observers.
func (c *Controller) Store() *Store { return c.store }

// Directory exposes the conversation directory.
func (c *Controller) Directory() *Directory { return c.dir }

// OnStatus forwards push channel state changes to fn.
func (c *Controller) OnStatus(fn func(connected bool)) { c.conn.OnStatus(fn) }

// Connected reports push channel health.
func (c *Controller) Connected() bool { return c.conn.Connected() }

// Conversations returns the directory filtered by criteria.
func (c *Controller) Conversations(criteria Criteria) []Conversation {
	return c.dir.Filter(criteria)
}

// Messages returns a conversation's timeline.
func (c *Controller) Messages(conversationID string) []Message {
	return c.store.Messages(conversationID)
}

// Active returns the open conversation.
func (c *Controller) Active() (Conversation, bool) {
	return c.session.Active()
}

// Select opens a conversation, refreshing the directory once when the id is
// not yet known.
func (c *Controller) Select(ctx context.Context, conversationID string) (Conversation, error) {
	conv, ok := c.dir.Get(conversationID)
	if !ok {
		if err := c.dir.Refresh(ctx); err != nil {
			return Conversation{}, err
		}
		if conv, ok = c.dir.Get(conversationID); !ok {
			return Conversation{}, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
		}
	}
	c.session.Open(ctx, conv)
	return conv, nil
}

// Back closes the open conversation.
func (c *Controller) Back() {
	c.session.Close()
}

// Send posts body to the open conversation. The message shows up at once as
// provisional; on success it is replaced by the confirmed copy, on failure
// it stays in the timeline marked failed. Replying moves an open
// conversation to in_progress.
func (c *Controller) Send(ctx context.Context, body string) (Message, error) {
	if strings.TrimSpace(body) == "" {
		return Message{}, ErrEmptyMessage
	}
	conv, ok := c.session.Active()
	if !ok {
		return Message{}, ErrNoActiveConversation
	}

	now := c.now()
	status, known := c.dir.ApplyLocalSend(conv.ID, now)
	if !known {
		status = statusAfterReply(conv.Status)
	}
	local := Message{
		ID:             newLocalID(now),
		ConversationID: conv.ID,
		Body:           body,
		Sender:         conv.Admin(),
		Recipient:      conv.Counterpart(),
		SentAt:         now,
		Status:         status,
		Priority:       conv.Priority,
		Category:       conv.Category,
		Source:         conv.Source,
		Read:           true,
		Provisional:    true,
		Delivery:       DeliveryPending,
	}
	c.store.ingestFrom(OriginLocal, conv.ID, local)
	if status != conv.Status {
		c.session.SetStatus(conv.ID, status)
	}

	resp, err := c.api.SendMessage(ctx, api.SendMessageRequest{
		Message: body,
		Sender: api.SenderInfo{
			ID:      local.Sender.ID,
			Name:    local.Sender.DisplayName,
			Email:   c.identity.Email,
			IsAdmin: true,
		},
		ConversationID: conv.ID,
		Category:       conv.Category,
		Source:         conv.Source,
	})
	metrics.Actions.WithLabelValues("send", metrics.Result(err)).Inc()
	if err != nil {
		c.store.MarkFailed(conv.ID, local.ID)
		c.logger.Warn("send failed", "conversation", conv.ID, "error", err)
		return local, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	confirmed := local
	confirmed.ID = string(resp.ID)
	if !resp.Timestamp.IsZero() {
		confirmed.SentAt = resp.Timestamp.Time
	}
	confirmed.Provisional = false
	confirmed.Delivery = ""
	c.store.ReplaceProvisional(conv.ID, local.ID, confirmed)
	return confirmed, nil
}

// UpdateStatus changes a conversation's status. The change is applied
// locally first and is not rolled back if the server rejects it.
func (c *Controller) UpdateStatus(ctx context.Context, conversationID, status string) error {
	st, err := ParseStatus(status)
	if err != nil {
		return err
	}
	c.dir.SetStatusLocal(conversationID, st, c.now())
	c.session.SetStatus(conversationID, st)

	err = c.api.UpdateStatus(ctx, conversationID, string(st))
	metrics.Actions.WithLabelValues("status", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// MarkRead clears a conversation's unread count and tells the server.
func (c *Controller) MarkRead(ctx context.Context, conversationID string) error {
	c.dir.MarkReadLocal(conversationID, c.now())
	err := c.api.MarkRead(ctx, conversationID)
	metrics.Actions.WithLabelValues("read", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// RefreshMessages re-fetches the open conversation's full history.
func (c *Controller) RefreshMessages(ctx context.Context) error {
	return c.session.Reload(ctx)
}

// CreateConversation opens a conversation on behalf of a user and refreshes
// the directory so it can be selected.
func (c *Controller) CreateConversation(ctx context.Context, req api.CreateConversationRequest) (string, error) {
	resp, err := c.api.CreateConversation(ctx, req)
	metrics.Actions.WithLabelValues("create", metrics.Result(err)).Inc()
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	if err := c.dir.Refresh(ctx); err != nil {
		c.logger.Warn("directory refresh after create failed", "error", err)
	}
	return string(resp.ConversationID), nil
}
