package support

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/operiq/support-sync/internal/api"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

var (
	ana   = Participant{ID: "u-ana", DisplayName: "Ana", Role: RoleClient, AccountKind: AccountIndividual}
	admin = Participant{ID: "admin", DisplayName: "Support", Role: RoleAdmin}
)

func msg(id, body string, sender Participant, at time.Time) Message {
	return Message{ID: id, Body: body, Sender: sender, SentAt: at}
}

func ids(list []Message) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = list[i].ID
	}
	return out
}

func testConversation(id string) Conversation {
	return Conversation{
		ID:           id,
		Title:        "Support for " + id,
		Participants: [2]Participant{ana, admin},
		Status:       StatusOpen,
		Priority:     PriorityMedium,
		Category:     CategoryGeneral,
		Source:       SourceWeb,
		CreatedAt:    t0.Add(-time.Hour),
		UpdatedAt:    t0,
	}
}

type emitted struct {
	Event          string
	ConversationID string
}

// fakePubSub records emits and lets tests fire events synchronously.
type fakePubSub struct {
	mu       sync.Mutex
	handlers map[string]func(json.RawMessage)
	emits    []emitted
	connects int
	emitErr  error
}

func newFakePubSub() *fakePubSub {
	return &fakePubSub{handlers: make(map[string]func(json.RawMessage))}
}

func (f *fakePubSub) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakePubSub) Disconnect() error { return nil }

func (f *fakePubSub) Emit(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	room, _ := payload.(map[string]string)
	f.emits = append(f.emits, emitted{Event: event, ConversationID: room["conversationId"]})
	return nil
}

func (f *fakePubSub) On(event string, h func(json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = h
}

func (f *fakePubSub) Off(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, event)
}

func (f *fakePubSub) Connected() bool { return true }

func (f *fakePubSub) fire(event, payload string) {
	f.mu.Lock()
	h := f.handlers[event]
	f.mu.Unlock()
	if h != nil {
		h(json.RawMessage(payload))
	}
}

func (f *fakePubSub) subscribed(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[event]
	return ok
}

func (f *fakePubSub) sent() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emits...)
}

type sinceCall struct {
	ConversationID string
	Since          time.Time
}

// fakeAPI is an in-memory backend. Optional hooks override canned data.
type fakeAPI struct {
	mu            sync.Mutex
	conversations []api.Conversation
	listErr       error
	history       map[string][]api.Message
	sinceFn       func(ctx context.Context, conversationID string, since time.Time) ([]api.Message, error)
	sinceCalls    []sinceCall
	sendFn        func(req api.SendMessageRequest) (*api.SendMessageResponse, error)
	sends         []api.SendMessageRequest
	reads         []string
	readErr       error
	statuses      map[string]string
	statusErr     error
	created       []api.CreateConversationRequest
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{history: make(map[string][]api.Message), statuses: make(map[string]string)}
}

func (f *fakeAPI) ListConversations(context.Context) ([]api.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]api.Conversation(nil), f.conversations...), nil
}

func (f *fakeAPI) CreateConversation(_ context.Context, req api.CreateConversationRequest) (*api.CreateConversationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	id := fmt.Sprintf("conv-%d", len(f.created))
	f.conversations = append([]api.Conversation{{ID: api.FlexString(id), UserName: req.Name, UserEmail: req.Email}}, f.conversations...)
	return &api.CreateConversationResponse{ConversationID: api.FlexString(id)}, nil
}

func (f *fakeAPI) ListMessages(_ context.Context, conversationID string) ([]api.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.Message(nil), f.history[conversationID]...), nil
}

func (f *fakeAPI) ListMessagesSince(ctx context.Context, conversationID string, since time.Time) ([]api.Message, error) {
	f.mu.Lock()
	f.sinceCalls = append(f.sinceCalls, sinceCall{ConversationID: conversationID, Since: since})
	fn := f.sinceFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, conversationID, since)
	}
	return nil, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, req api.SendMessageRequest) (*api.SendMessageResponse, error) {
	f.mu.Lock()
	f.sends = append(f.sends, req)
	fn := f.sendFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &api.SendMessageResponse{ID: "srv-1", Status: "sent"}, nil
}

func (f *fakeAPI) MarkRead(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, conversationID)
	return f.readErr
}

func (f *fakeAPI) UpdateStatus(_ context.Context, conversationID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statuses[conversationID] = status
	return nil
}

func (f *fakeAPI) pollCalls() []sinceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sinceCall(nil), f.sinceCalls...)
}

func (f *fakeAPI) readCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reads...)
}

func wireMessage(id, body, senderID string, isAdmin bool, at time.Time) api.Message {
	return api.Message{
		ID:        api.FlexString(id),
		Message:   body,
		SenderID:  api.FlexString(senderID),
		IsAdmin:   &isAdmin,
		Timestamp: api.Timestamp{Time: at},
	}
}
