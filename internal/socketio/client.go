// Package socketio is a Socket.IO v4 client (Engine.IO v4, websocket
// transport only) with automatic reconnection.
//
// It covers what a subscriber needs: namespace connect, server pings,
// events in both directions and connect/disconnect lifecycle callbacks.
// Acks, binary attachments and HTTP long-polling are not supported.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/operiq/support-sync/internal/metrics"
)

// Lifecycle pseudo-events delivered to handlers registered with On.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

var (
	// ErrNotConnected is returned by Emit while the channel is down.
	ErrNotConnected = errors.New("socket.io: not connected")
	// ErrPingTimeout is reported when the server stops pinging.
	ErrPingTimeout = errors.New("socket.io: ping timeout")
)

// maxReadSize caps websocket frames at 1 MB. Support events are small JSON.
const maxReadSize = 1 << 20

// Handler receives the first argument of an event. Lifecycle events carry
// no payload.
type Handler = func(payload json.RawMessage)

// Options configures a Client.
type Options struct {
	// Namespace to join, "/" if empty.
	Namespace string
	// Header is sent with the websocket upgrade request.
	Header http.Header
	// Auth is sent in the namespace connect packet.
	Auth any
	// Reconnect backoff. Defaults: 2s initial, 30s max, reset after 60s up.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	StableAfter    time.Duration
	// HandshakeTimeout bounds dialing plus the namespace handshake.
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Namespace == "" {
		o.Namespace = "/"
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 2 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.StableAfter <= 0 {
		o.StableAfter = 60 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client is a reconnecting Socket.IO client. Handlers run on the client's
// read goroutine, one at a time, and must not block.
type Client struct {
	url  string
	opts Options

	mu        sync.Mutex
	handlers  map[string]Handler
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New validates serverURL and returns an unconnected client. http(s) URLs
// are mapped to ws(s); an empty path becomes /socket.io/.
func New(serverURL string, opts Options) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported socket url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("socket url %q has no host", serverURL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()

	opts.setDefaults()
	return &Client{
		url:      u.String(),
		opts:     opts,
		handlers: make(map[string]Handler),
	}, nil
}

// On registers the handler for an event, replacing any previous one.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

// Off removes the handler for an event.
func (c *Client) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// Connected reports whether the namespace handshake has completed and the
// connection is still up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect starts the connection supervisor if it is not already running.
// It does not wait for the first connection; use WaitConnected for that.
// The supervisor outlives ctx and stops only on Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.supervise(runCtx, c.done)
	return nil
}

// WaitConnected blocks until the client is connected or ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.Connected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Disconnect stops the supervisor and closes the connection. Safe to call
// when not connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	if conn != nil {
		ctx, stop := context.WithTimeout(context.Background(), time.Second)
		_ = conn.Write(ctx, websocket.MessageText, []byte(string(engineMessage)+string(socketDisconnect)+namespacePrefix(c.opts.Namespace)))
		stop()
	}
	cancel()
	<-done
	return nil
}

// Emit sends an event to the server.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	frame, err := encodeEvent(c.opts.Namespace, event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn, up := c.conn, c.connected
	c.mu.Unlock()
	if !up || conn == nil {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("emit %q: %w", event, err)
	}
	return nil
}

// supervise keeps a session alive until ctx is cancelled, backing off
// exponentially between attempts. The backoff resets once a session has
// stayed up for StableAfter.
func (c *Client) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)
	backoff := c.opts.InitialBackoff
	for {
		start := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) >= c.opts.StableAfter {
			backoff = c.opts.InitialBackoff
		}
		c.opts.Logger.Warn("socket disconnected, reconnecting", "error", err, "delay", backoff)
		metrics.ChannelReconnects.Inc()

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, c.opts.MaxBackoff)
	}
}

// session dials, performs the handshake and runs the read loop until the
// connection drops.
func (c *Client) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{HTTPHeader: c.opts.Header})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxReadSize)
	defer func() { _ = conn.CloseNow() }()

	hs, err := c.handshake(dialCtx, conn)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.opts.Logger.Debug("socket connected", "sid", hs.SID, "namespace", c.opts.Namespace)
	c.dispatch(EventConnect, nil)

	err = c.readLoop(ctx, conn, hs)

	c.mu.Lock()
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	c.dispatch(EventDisconnect, nil)
	return err
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) (handshake, error) {
	var hs handshake
	_, data, err := conn.Read(ctx)
	if err != nil {
		return hs, fmt.Errorf("read open packet: %w", err)
	}
	if len(data) == 0 || data[0] != engineOpen {
		return hs, fmt.Errorf("expected open packet, got %q", truncate(data))
	}
	if err := json.Unmarshal(data[1:], &hs); err != nil {
		return hs, fmt.Errorf("parse open packet: %w", err)
	}

	connectFrame, err := encodeConnect(c.opts.Namespace, c.opts.Auth)
	if err != nil {
		return hs, err
	}
	if err := conn.Write(ctx, websocket.MessageText, connectFrame); err != nil {
		return hs, fmt.Errorf("write namespace connect: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return hs, fmt.Errorf("read namespace connect: %w", err)
		}
		if len(data) == 1 && data[0] == enginePing {
			if err := conn.Write(ctx, websocket.MessageText, []byte{enginePong}); err != nil {
				return hs, fmt.Errorf("write pong: %w", err)
			}
			continue
		}
		if len(data) < 2 || data[0] != engineMessage {
			continue
		}
		p, err := decodePacket(string(data[1:]))
		if err != nil || !sameNamespace(p.Namespace, c.opts.Namespace) {
			continue
		}
		switch p.Type {
		case socketConnect:
			return hs, nil
		case socketConnectError:
			return hs, fmt.Errorf("namespace %s rejected: %s", c.opts.Namespace, truncate(p.Data))
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, hs handshake) error {
	timeout := time.Duration(hs.PingInterval+hs.PingTimeout) * time.Millisecond
	for {
		readCtx := ctx
		var readCancel context.CancelFunc
		if timeout > 0 {
			readCtx, readCancel = context.WithTimeout(ctx, timeout)
		}
		_, data, err := conn.Read(readCtx)
		if readCancel != nil {
			readCancel()
		}
		if err != nil {
			if timeout > 0 && ctx.Err() == nil && readCtx.Err() != nil {
				return ErrPingTimeout
			}
			return err
		}
		if len(data) == 0 {
			continue
		}

		switch data[0] {
		case enginePing:
			if err := conn.Write(ctx, websocket.MessageText, []byte{enginePong}); err != nil {
				return fmt.Errorf("write pong: %w", err)
			}
		case engineClose:
			return errors.New("server closed the session")
		case engineMessage:
			p, err := decodePacket(string(data[1:]))
			if err != nil || !sameNamespace(p.Namespace, c.opts.Namespace) {
				continue
			}
			switch p.Type {
			case socketEvent:
				name, payload, err := decodeEvent(p.Data)
				if err != nil {
					c.opts.Logger.Debug("dropping undecodable event", "error", err)
					continue
				}
				c.dispatch(name, payload)
			case socketDisconnect:
				return errors.New("server disconnected the namespace")
			}
		}
	}
}

func (c *Client) dispatch(event string, payload json.RawMessage) {
	c.mu.Lock()
	h := c.handlers[event]
	c.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func sameNamespace(a, b string) bool {
	if a == "" {
		a = "/"
	}
	if b == "" {
		b = "/"
	}
	return a == b
}

func truncate(b []byte) string {
	s := string(b)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return strings.TrimSpace(s)
}
