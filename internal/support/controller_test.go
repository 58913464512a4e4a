package support

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operiq/support-sync/internal/api"
)

type controllerFixture struct {
	api    *fakeAPI
	pubsub *fakePubSub
	ctrl   *Controller
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	fake := newFakeAPI()
	fake.conversations = []api.Conversation{apiConversation("c1", t0, 0), apiConversation("c2", t0, 1)}
	ps := newFakePubSub()
	ctrl := NewController(Config{
		API:          fake,
		Channel:      ps,
		Identity:     Identity{ID: "admin", Name: "Support", Email: "support@example.com"},
		PollInterval: time.Hour,
		Now:          func() time.Time { return t0 },
	})
	t.Cleanup(ctrl.Shutdown)
	require.NoError(t, ctrl.Directory().Refresh(context.Background()))
	return &controllerFixture{api: fake, pubsub: ps, ctrl: ctrl}
}

func TestController_SendReplacesProvisional(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()
	f.ctrl.Store().Ingest("c1", msg("m1", "hello", Participant{ID: "u-c1", DisplayName: "User c1", Role: RoleClient}, t0.Add(-time.Minute)))
	_, err := f.ctrl.Select(ctx, "c1")
	require.NoError(t, err)

	var during []Message
	f.api.sendFn = func(req api.SendMessageRequest) (*api.SendMessageResponse, error) {
		during = f.ctrl.Messages("c1")
		assert.Equal(t, "hi", req.Message)
		assert.Equal(t, "c1", req.ConversationID)
		assert.True(t, req.Sender.IsAdmin)
		assert.Equal(t, "admin", req.Sender.ID)
		assert.Equal(t, "support@example.com", req.Sender.Email)
		return &api.SendMessageResponse{ID: "m9", Timestamp: api.Timestamp{Time: t0.Add(time.Second)}, Status: "sent"}, nil
	}

	got, err := f.ctrl.Send(ctx, "hi")
	require.NoError(t, err)

	require.Len(t, during, 2)
	assert.True(t, during[1].Provisional)
	assert.True(t, IsLocalID(during[1].ID))
	assert.Equal(t, DeliveryPending, during[1].Delivery)

	assert.Equal(t, "m9", got.ID)
	assert.False(t, got.Provisional)
	assert.Equal(t, []string{"m1", "m9"}, ids(f.ctrl.Messages("c1")))

	// the push echo of our own message is absorbed
	f.pubsub.fire("conversation:c1", `{"conversationId":"c1","message":{"id":"m9","senderId":"admin","senderName":"Support","isAdmin":true,"message":"hi","timestamp":"2024-05-01T10:00:01"}}`)
	assert.Equal(t, []string{"m1", "m9"}, ids(f.ctrl.Messages("c1")))

	c, _ := f.ctrl.Directory().Get("c1")
	assert.Equal(t, StatusInProgress, c.Status)
	assert.Equal(t, "hi", c.LastMessage.Body)
}

func TestController_EchoBeforeResponse(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()
	_, err := f.ctrl.Select(ctx, "c1")
	require.NoError(t, err)

	f.api.sendFn = func(api.SendMessageRequest) (*api.SendMessageResponse, error) {
		f.pubsub.fire("conversation:c1", `{"conversationId":"c1","message":{"id":"m9","senderId":"admin","isAdmin":true,"message":"hi","timestamp":"2024-05-01T10:00:01"}}`)
		return &api.SendMessageResponse{ID: "m9", Timestamp: api.Timestamp{Time: t0.Add(time.Second)}}, nil
	}

	_, err = f.ctrl.Send(ctx, "hi")
	require.NoError(t, err)
	list := f.ctrl.Messages("c1")
	require.Len(t, list, 1)
	assert.Equal(t, "m9", list[0].ID)
	assert.False(t, list[0].Provisional)
}

func TestController_LastMessageMirrorsStoreAfterSend(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()
	_, err := f.ctrl.Select(ctx, "c1")
	require.NoError(t, err)

	// the server stamps the reply a few seconds before the local clock
	f.api.sendFn = func(api.SendMessageRequest) (*api.SendMessageResponse, error) {
		return &api.SendMessageResponse{ID: "m9", Timestamp: api.Timestamp{Time: t0.Add(-3 * time.Second)}}, nil
	}
	_, err = f.ctrl.Send(ctx, "hi")
	require.NoError(t, err)

	f.pubsub.fire("conversation:c1", `{"conversationId":"c1","message":{"id":"m10","senderId":"u-c1","message":"thanks","timestamp":"2024-05-01T09:59:59"}}`)

	newest, ok := f.ctrl.Store().Latest("c1")
	require.True(t, ok)
	require.Equal(t, "m10", newest.ID)
	c, _ := f.ctrl.Directory().Get("c1")
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "thanks", c.LastMessage.Body)
	assert.Equal(t, newest.SentAt, c.LastMessage.SentAt)
}

func TestController_SendKeepsClosedStatus(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()
	f.api.mu.Lock()
	f.api.conversations[0].Status = "resolved"
	f.api.mu.Unlock()
	require.NoError(t, f.ctrl.Directory().Refresh(ctx))
	_, err := f.ctrl.Select(ctx, "c1")
	require.NoError(t, err)

	sent, err := f.ctrl.Send(ctx, "one more thing")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, sent.Status)

	c, _ := f.ctrl.Directory().Get("c1")
	assert.Equal(t, StatusResolved, c.Status)
	active, ok := f.ctrl.Active()
	require.True(t, ok)
	assert.Equal(t, StatusResolved, active.Status)
}

func TestController_SendFailureMarksFailed(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()
	_, err := f.ctrl.Select(ctx, "c1")
	require.NoError(t, err)

	transport := errors.New("connection refused")
	f.api.sendFn = func(api.SendMessageRequest) (*api.SendMessageResponse, error) { return nil, transport }

	local, err := f.ctrl.Send(ctx, "are you there?")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, transport)

	list := f.ctrl.Messages("c1")
	require.Len(t, list, 1)
	assert.Equal(t, local.ID, list[0].ID)
	assert.True(t, list[0].Provisional)
	assert.Equal(t, DeliveryFailed, list[0].Delivery)
}

func TestController_SendPreconditions(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()

	_, err := f.ctrl.Send(ctx, "hello")
	assert.ErrorIs(t, err, ErrNoActiveConversation)

	_, err = f.ctrl.Select(ctx, "c1")
	require.NoError(t, err)
	_, err = f.ctrl.Send(ctx, "  \n\t")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, f.api.sends)
}

func TestController_Select(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()

	_, err := f.ctrl.Select(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownConversation)

	// created after the last refresh: found by the on-demand refresh
	f.api.mu.Lock()
	f.api.conversations = append(f.api.conversations, apiConversation("c3", t0, 0))
	f.api.mu.Unlock()
	conv, err := f.ctrl.Select(ctx, "c3")
	require.NoError(t, err)
	assert.Equal(t, "c3", conv.ID)
	active, ok := f.ctrl.Active()
	require.True(t, ok)
	assert.Equal(t, "c3", active.ID)

	f.ctrl.Back()
	_, ok = f.ctrl.Active()
	assert.False(t, ok)
}

func TestController_UpdateStatus(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()

	err := f.ctrl.UpdateStatus(ctx, "c1", "archived")
	require.Error(t, err)

	require.NoError(t, f.ctrl.UpdateStatus(ctx, "c1", "Resolved"))
	c, _ := f.ctrl.Directory().Get("c1")
	assert.Equal(t, StatusResolved, c.Status)
	assert.Equal(t, "resolved", f.api.statuses["c1"])

	f.api.statusErr = errors.New("500")
	err = f.ctrl.UpdateStatus(ctx, "c1", "closed")
	require.Error(t, err)
	c, _ = f.ctrl.Directory().Get("c1")
	assert.Equal(t, StatusClosed, c.Status, "optimistic change is not rolled back")
}

func TestController_MarkRead(t *testing.T) {
	f := newControllerFixture(t)
	require.NoError(t, f.ctrl.MarkRead(context.Background(), "c2"))
	c, _ := f.ctrl.Directory().Get("c2")
	assert.Zero(t, c.UnreadCount)
	assert.Equal(t, []string{"c2"}, f.api.readCalls())

	f.api.readErr = errors.New("boom")
	assert.Error(t, f.ctrl.MarkRead(context.Background(), "c2"))
}

func TestController_ConversationsSearchLoadedBodies(t *testing.T) {
	f := newControllerFixture(t)
	f.ctrl.Store().Ingest("c2", msg("m1", "invoice 4411 is wrong", ana, t0))

	got := f.ctrl.Conversations(Criteria{Query: "INVOICE"})
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].ID)
	assert.Len(t, f.ctrl.Conversations(Criteria{Status: "all"}), 2)
}

func TestController_CreateConversation(t *testing.T) {
	f := newControllerFixture(t)
	id, err := f.ctrl.CreateConversation(context.Background(), api.CreateConversationRequest{Name: "Luis", Email: "luis@example.com"})
	require.NoError(t, err)
	_, ok := f.ctrl.Directory().Get(id)
	assert.True(t, ok)
}

func TestController_StartRunsUntilCancelled(t *testing.T) {
	f := newControllerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Start(ctx) }()

	_, err := f.ctrl.Select(context.Background(), "c1")
	require.NoError(t, err)

	// a server announcement triggers an out-of-band refresh
	f.api.mu.Lock()
	f.api.conversations = append(f.api.conversations, apiConversation("c4", t0, 0))
	f.api.mu.Unlock()
	f.pubsub.fire("new_support_conversation", `{"conversationId":"c4"}`)
	require.Eventually(t, func() bool {
		_, ok := f.ctrl.Directory().Get("c4")
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	_, ok := f.ctrl.Active()
	assert.False(t, ok, "shutdown closes the session")
}
