package support

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/operiq/support-sync/internal/metrics"
)

// Push channel event names.
const (
	eventConnect           = "connect"
	eventDisconnect        = "disconnect"
	eventNewMessage        = "new_message"
	eventNewSupportMessage = "new_support_message"
	eventNewConversation   = "new_support_conversation"
	eventJoin              = "join_conversation"
	eventLeave             = "leave_conversation"

	roomEventPrefix = "conversation:"
)

// PubSub is a reconnecting event channel. *socketio.Client implements it.
type PubSub interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Emit(ctx context.Context, event string, payload any) error
	On(event string, h func(payload json.RawMessage))
	Off(event string)
	Connected() bool
}

// MessageHandler receives normalized push messages for one conversation.
type MessageHandler func(m Message)

// ConnectionOptions configures a ConnectionManager.
type ConnectionOptions struct {
	Logger *slog.Logger
	Now    func() time.Time
	// EmitTimeout bounds room join/leave emits issued from lifecycle events.
	EmitTimeout time.Duration
}

// ConnectionManager owns the push channel: lifecycle state, conversation
// rooms and per-conversation message routing.
type ConnectionManager struct {
	ch     PubSub
	logger *slog.Logger
	now    func() time.Time
	emitTO time.Duration

	mu          sync.Mutex
	wired       bool
	connected   bool
	rooms       map[string]struct{}
	handlers    map[string]MessageHandler
	statusHooks []func(connected bool)
	createdHook func()
}

// NewConnectionManager wraps ch. Nothing is dialed until Connect.
func NewConnectionManager(ch PubSub, opts ConnectionOptions) *ConnectionManager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.EmitTimeout <= 0 {
		opts.EmitTimeout = 5 * time.Second
	}
	return &ConnectionManager{
		ch:       ch,
		logger:   opts.Logger,
		now:      opts.Now,
		emitTO:   opts.EmitTimeout,
		rooms:    make(map[string]struct{}),
		handlers: make(map[string]MessageHandler),
	}
}

// Connect establishes the channel if it is not already up. Calling it again
// is a no-op.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if !m.wired {
		m.wired = true
		m.ch.On(eventConnect, func(json.RawMessage) { m.setConnected(true) })
		m.ch.On(eventDisconnect, func(json.RawMessage) { m.setConnected(false) })
		m.ch.On(eventNewMessage, m.route(""))
		m.ch.On(eventNewSupportMessage, m.route(""))
		m.ch.On(eventNewConversation, func(json.RawMessage) { m.conversationCreated() })
	}
	m.mu.Unlock()
	return m.ch.Connect(ctx)
}

// Disconnect tears the channel down. Rooms and handlers are kept so a later
// Connect resumes them.
func (m *ConnectionManager) Disconnect() {
	if err := m.ch.Disconnect(); err != nil {
		m.logger.Debug("push channel disconnect", "error", err)
	}
	m.setConnected(false)
}

// Connected reports whether the channel is currently up.
func (m *ConnectionManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// OnStatus registers a callback for connection state changes.
func (m *ConnectionManager) OnStatus(fn func(connected bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusHooks = append(m.statusHooks, fn)
}

// OnConversationCreated registers a callback fired when the server announces
// a new support conversation.
func (m *ConnectionManager) OnConversationCreated(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createdHook = fn
}

// JoinConversation subscribes the channel to the conversation's room. The
// room is remembered and re-joined after every reconnect.
func (m *ConnectionManager) JoinConversation(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	if _, ok := m.rooms[conversationID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.rooms[conversationID] = struct{}{}
	connected := m.connected
	m.mu.Unlock()

	if !connected {
		return nil
	}
	return m.emitRoom(ctx, eventJoin, conversationID)
}

// LeaveConversation unsubscribes from the conversation's room.
func (m *ConnectionManager) LeaveConversation(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	if _, ok := m.rooms[conversationID]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.rooms, conversationID)
	connected := m.connected
	m.mu.Unlock()

	if !connected {
		return nil
	}
	return m.emitRoom(ctx, eventLeave, conversationID)
}

// Rooms returns the ids of joined conversations.
func (m *ConnectionManager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	return out
}

// OnMessage routes push messages for conversationID to h. A later call for
// the same conversation replaces the earlier handler.
func (m *ConnectionManager) OnMessage(conversationID string, h MessageHandler) {
	m.mu.Lock()
	m.handlers[conversationID] = h
	m.mu.Unlock()
	m.ch.On(roomEventPrefix+conversationID, m.route(conversationID))
}

// OffMessage removes the conversation's handler. Later events for it are
// dropped.
func (m *ConnectionManager) OffMessage(conversationID string) {
	m.mu.Lock()
	delete(m.handlers, conversationID)
	m.mu.Unlock()
	m.ch.Off(roomEventPrefix + conversationID)
}

func (m *ConnectionManager) emitRoom(ctx context.Context, event, conversationID string) error {
	err := m.ch.Emit(ctx, event, map[string]string{"conversationId": conversationID})
	if err != nil {
		m.logger.Debug("room emit failed", "event", event, "conversation", conversationID, "error", err)
	}
	return err
}

func (m *ConnectionManager) setConnected(up bool) {
	m.mu.Lock()
	changed := m.connected != up
	m.connected = up
	var rooms []string
	if up {
		for id := range m.rooms {
			rooms = append(rooms, id)
		}
	}
	hooks := slices.Clone(m.statusHooks)
	m.mu.Unlock()

	if up {
		metrics.ChannelConnected.Set(1)
	} else {
		metrics.ChannelConnected.Set(0)
	}
	if !changed {
		return
	}
	m.logger.Info("push channel", "connected", up)

	// rooms are server-side state and do not survive a reconnect
	if len(rooms) > 0 {
		go m.rejoin(rooms)
	}
	for _, fn := range hooks {
		fn(up)
	}
}

// rejoin runs off the transport's read goroutine so emits cannot stall it.
func (m *ConnectionManager) rejoin(rooms []string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.emitTO)
	defer cancel()
	for _, id := range rooms {
		_ = m.emitRoom(ctx, eventJoin, id)
	}
}

func (m *ConnectionManager) conversationCreated() {
	m.mu.Lock()
	fn := m.createdHook
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// route builds the handler for one push event. channelID is the conversation
// bound to a room event, empty for the global channels.
func (m *ConnectionManager) route(channelID string) func(json.RawMessage) {
	return func(payload json.RawMessage) {
		ev, err := NormalizePushEvent(channelID, payload, m.now())
		if err != nil {
			reason := "malformed"
			if errors.Is(err, ErrUnroutedEvent) {
				reason = "unrouted"
			}
			metrics.PushEventsDropped.WithLabelValues(reason).Inc()
			m.logger.Debug("push event dropped", "channel", channelID, "error", err)
			return
		}
		if channelID != "" && ev.ConversationID != channelID {
			metrics.PushEventsDropped.WithLabelValues("mismatch").Inc()
			m.logger.Debug("push event for another conversation", "channel", channelID, "conversation", ev.ConversationID)
			return
		}

		m.mu.Lock()
		h := m.handlers[ev.ConversationID]
		m.mu.Unlock()
		if h == nil {
			metrics.PushEventsDropped.WithLabelValues("unrouted").Inc()
			return
		}
		h(ev.Message)
	}
}
