package socketio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockServer is a minimal Socket.IO server for testing.
func mockServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("EIO") != "4" || r.URL.Query().Get("transport") != "websocket" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer func() { _ = conn.CloseNow() }()
		handler(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const openPacket = `0{"sid":"s1","pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`

// acceptNamespace plays the server side of the handshake.
func acceptNamespace(t *testing.T, ctx context.Context, conn *websocket.Conn, open string) bool {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, []byte(open)); err != nil {
		return false
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		return false
	}
	if !strings.HasPrefix(string(data), "40/support,") {
		t.Errorf("expected namespace connect, got %q", data)
		return false
	}
	return conn.Write(ctx, websocket.MessageText, []byte(`40/support,{"sid":"n1"}`)) == nil
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(srv.URL, Options{
		Namespace:      "/support",
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestNew_URL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://localhost:5000", want: "ws://localhost:5000/socket.io/?EIO=4&transport=websocket"},
		{in: "https://api.example.com/", want: "wss://api.example.com/socket.io/?EIO=4&transport=websocket"},
		{in: "wss://api.example.com/rt/?token=abc", want: "wss://api.example.com/rt/?EIO=4&token=abc&transport=websocket"},
		{in: "ftp://example.com", wantErr: true},
		{in: "http://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := New(tt.in, Options{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.url)
		})
	}
}

func TestDecodePacket(t *testing.T) {
	tests := []struct {
		in     string
		typ    byte
		ns     string
		data   string
		hasErr bool
	}{
		{in: `2["new_message",{"a":1}]`, typ: socketEvent, ns: "/", data: `["new_message",{"a":1}]`},
		{in: `2/support,["x"]`, typ: socketEvent, ns: "/support", data: `["x"]`},
		{in: `2/support,12["x"]`, typ: socketEvent, ns: "/support", data: `["x"]`},
		{in: `0/support,{"sid":"n1"}`, typ: socketConnect, ns: "/support", data: `{"sid":"n1"}`},
		{in: `1/support,`, typ: socketDisconnect, ns: "/support"},
		{in: `1/support`, typ: socketDisconnect, ns: "/support"},
		{in: ``, hasErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := decodePacket(tt.in)
			if tt.hasErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.typ, p.Type)
			assert.Equal(t, tt.ns, p.Namespace)
			assert.Equal(t, tt.data, string(p.Data))
		})
	}
}

func TestDecodeEvent(t *testing.T) {
	name, payload, err := decodeEvent(json.RawMessage(`["conversation:c1",{"message":{"id":"m1"}}]`))
	require.NoError(t, err)
	assert.Equal(t, "conversation:c1", name)
	assert.JSONEq(t, `{"message":{"id":"m1"}}`, string(payload))

	name, payload, err = decodeEvent(json.RawMessage(`["ping_only"]`))
	require.NoError(t, err)
	assert.Equal(t, "ping_only", name)
	assert.Nil(t, payload)

	_, _, err = decodeEvent(json.RawMessage(`[]`))
	assert.Error(t, err)
	_, _, err = decodeEvent(json.RawMessage(`{"not":"array"}`))
	assert.Error(t, err)
}

func TestEncodeEvent(t *testing.T) {
	frame, err := encodeEvent("/support", "join_conversation", map[string]string{"conversationId": "c1"})
	require.NoError(t, err)
	assert.Equal(t, `42/support,["join_conversation",{"conversationId":"c1"}]`, string(frame))

	frame, err = encodeEvent("/", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, `42["hello"]`, string(frame))
}

func TestClient_ReceivesEvents(t *testing.T) {
	srv := mockServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if !acceptNamespace(t, ctx, conn, openPacket) {
			return
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(`42/other,["new_message",{"conversationId":"wrong-ns"}]`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`42/support,["new_message",{"conversationId":"c1"}]`))
		drain(ctx, conn)
	})

	c := newTestClient(t, srv)
	connected := make(chan struct{}, 1)
	events := make(chan string, 4)
	c.On(EventConnect, func(json.RawMessage) { connected <- struct{}{} })
	c.On("new_message", func(payload json.RawMessage) {
		var env struct {
			ConversationID string `json:"conversationId"`
		}
		_ = json.Unmarshal(payload, &env)
		events <- env.ConversationID
	})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()), "Connect is idempotent")

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connect")
	}
	assert.True(t, c.Connected())

	select {
	case id := <-events:
		assert.Equal(t, "c1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	select {
	case id := <-events:
		t.Fatalf("event from another namespace delivered: %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_EmitAndPong(t *testing.T) {
	received := make(chan string, 4)
	srv := mockServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if !acceptNamespace(t, ctx, conn, openPacket) {
			return
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte("2"))
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			received <- string(data)
		}
	})

	c := newTestClient(t, srv)
	assert.ErrorIs(t, c.Emit(context.Background(), "join_conversation", nil), ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitConnected(ctx))

	assert.Equal(t, "3", waitFrame(t, received), "server ping answered with pong")

	require.NoError(t, c.Emit(ctx, "join_conversation", map[string]string{"conversationId": "c1"}))
	assert.Equal(t, `42/support,["join_conversation",{"conversationId":"c1"}]`, waitFrame(t, received))
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	var sessions int32
	srv := mockServer(t, func(ctx context.Context, conn *websocket.Conn) {
		n := atomic.AddInt32(&sessions, 1)
		if !acceptNamespace(t, ctx, conn, openPacket) {
			return
		}
		if n == 1 {
			// drop the first session right after the handshake
			_ = conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		drain(ctx, conn)
	})

	c := newTestClient(t, srv)
	var connects, disconnects int32
	c.On(EventConnect, func(json.RawMessage) { atomic.AddInt32(&connects, 1) })
	c.On(EventDisconnect, func(json.RawMessage) { atomic.AddInt32(&disconnects, 1) })
	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&connects) == 2 && c.Connected()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&disconnects))

	require.NoError(t, c.Disconnect())
	assert.False(t, c.Connected())
	assert.Equal(t, int32(2), atomic.LoadInt32(&disconnects))
	require.NoError(t, c.Disconnect(), "Disconnect is idempotent")
}

func TestClient_PingTimeout(t *testing.T) {
	srv := mockServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if !acceptNamespace(t, ctx, conn, `0{"sid":"s1","pingInterval":20,"pingTimeout":20}`) {
			return
		}
		drain(ctx, conn) // never ping
	})

	c := newTestClient(t, srv)
	c.opts.InitialBackoff = time.Hour
	disconnected := make(chan struct{}, 1)
	c.On(EventDisconnect, func(json.RawMessage) {
		select {
		case disconnected <- struct{}{}:
		default:
		}
	})
	require.NoError(t, c.Connect(context.Background()))

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("expected disconnect after ping timeout")
	}
	assert.False(t, c.Connected())
}

func TestClient_NamespaceRejected(t *testing.T) {
	var attempts int32
	srv := mockServer(t, func(ctx context.Context, conn *websocket.Conn) {
		atomic.AddInt32(&attempts, 1)
		_ = conn.Write(ctx, websocket.MessageText, []byte(openPacket))
		_, _, _ = conn.Read(ctx)
		_ = conn.Write(ctx, websocket.MessageText, []byte(`44/support,{"message":"unauthorized"}`))
		drain(ctx, conn)
	})

	c := newTestClient(t, srv)
	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, c.Connected())
}

func TestClient_OffRemovesHandler(t *testing.T) {
	c, err := New("http://localhost:1", Options{})
	require.NoError(t, err)
	var calls int
	c.On("x", func(json.RawMessage) { calls++ })
	c.dispatch("x", nil)
	c.Off("x")
	c.dispatch("x", nil)
	assert.Equal(t, 1, calls)
}

func waitFrame(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return ""
	}
}

// drain reads until the client goes away.
func drain(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}
