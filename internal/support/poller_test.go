package support

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operiq/support-sync/internal/api"
)

func waitDone(t *testing.T, p *Poller) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPoller_FirstTickImmediateWithConfirmedCursor(t *testing.T) {
	store := NewStore()
	store.Ingest("c1", msg("m1", "hi", ana, t0))
	local := msg(newLocalID(t0.Add(time.Minute)), "draft", admin, t0.Add(time.Minute))
	local.Provisional = true
	local.Delivery = DeliveryPending
	store.Ingest("c1", local)

	fake := newFakeAPI()
	p := NewPoller(fake, store, PollerOptions{Interval: time.Hour})
	p.Start(context.Background(), "c1", func(Message) bool { return true })
	defer p.Stop()

	require.Eventually(t, func() bool { return len(fake.pollCalls()) == 1 }, time.Second, 5*time.Millisecond)
	call := fake.pollCalls()[0]
	assert.Equal(t, "c1", call.ConversationID)
	assert.True(t, call.Since.Equal(t0), "provisional timestamps never advance the cursor")
}

func TestPoller_EmptyTimelineUsesEpoch(t *testing.T) {
	fake := newFakeAPI()
	p := NewPoller(fake, NewStore(), PollerOptions{Interval: time.Hour})
	p.Start(context.Background(), "c1", func(Message) bool { return true })
	defer p.Stop()

	require.Eventually(t, func() bool { return len(fake.pollCalls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), fake.pollCalls()[0].Since.Unix())
}

func TestPoller_ErrorsAreSwallowedAndRetried(t *testing.T) {
	fake := newFakeAPI()
	var calls atomic.Int32
	fake.sinceFn = func(context.Context, string, time.Time) ([]api.Message, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("502 bad gateway")
		}
		return []api.Message{wireMessage("m2", "back", "u-ana", false, t0)}, nil
	}

	var (
		mu  sync.Mutex
		got []Message
	)
	p := NewPoller(fake, NewStore(), PollerOptions{Interval: 10 * time.Millisecond})
	p.Start(context.Background(), "c1", func(m Message) bool {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
		return true
	})
	defer p.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "c1", got[0].ConversationID)
}

func TestPoller_StopHaltsTicks(t *testing.T) {
	fake := newFakeAPI()
	p := NewPoller(fake, NewStore(), PollerOptions{Interval: 5 * time.Millisecond})
	p.Start(context.Background(), "c1", func(Message) bool { return true })

	require.Eventually(t, func() bool { return len(fake.pollCalls()) >= 2 }, time.Second, time.Millisecond)
	p.Stop()
	waitDone(t, p)

	n := len(fake.pollCalls())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(fake.pollCalls()))
}

func TestPoller_InFlightResultDiscardedAfterStop(t *testing.T) {
	fake := newFakeAPI()
	started := make(chan struct{})
	release := make(chan struct{})
	fake.sinceFn = func(context.Context, string, time.Time) ([]api.Message, error) {
		close(started)
		<-release
		// ignores cancellation, like a response already on the wire
		return []api.Message{wireMessage("late", "too late", "u-ana", false, t0)}, nil
	}

	var delivered atomic.Int32
	p := NewPoller(fake, NewStore(), PollerOptions{Interval: time.Hour})
	p.Start(context.Background(), "c1", func(Message) bool {
		delivered.Add(1)
		return true
	})

	<-started
	p.Stop()
	close(release)
	waitDone(t, p)
	assert.Zero(t, delivered.Load())
}

func TestPoller_RestartSwitchesConversation(t *testing.T) {
	fake := newFakeAPI()
	p := NewPoller(fake, NewStore(), PollerOptions{Interval: time.Hour})
	p.Start(context.Background(), "a", func(Message) bool { return true })
	require.Eventually(t, func() bool { return len(fake.pollCalls()) == 1 }, time.Second, 5*time.Millisecond)

	p.Start(context.Background(), "b", func(Message) bool { return true })
	defer p.Stop()
	require.Eventually(t, func() bool { return len(fake.pollCalls()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "b", fake.pollCalls()[1].ConversationID)
}
