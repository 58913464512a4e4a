package support

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/operiq/support-sync/internal/metrics"
)

// FuzzyWindow is how far apart two same-sender, same-body messages may be
// and still count as one logical message. Rapid identical messages within
// the window collapse into one.
const FuzzyWindow = 5 * time.Second

// Origin labels which producer handed a candidate to the store.
type Origin string

const (
	OriginPush    Origin = "push"
	OriginPoll    Origin = "poll"
	OriginHistory Origin = "history"
	OriginLocal   Origin = "local"
	OriginDirect  Origin = "direct"
)

// Change describes one mutation of a conversation timeline.
type Change struct {
	ConversationID string
	Origin         Origin
	// Inserted is the entry added to the timeline, nil when the change only
	// removed one.
	Inserted *Message
	// Removed is the id of the entry the change dropped: a provisional send
	// that got confirmed, or an id-less push superseded by its server copy.
	Removed string
	// Newest is the timeline's newest entry after the change, nil when the
	// timeline is empty.
	Newest *Message
}

// Latest reports whether the inserted entry became the newest one.
func (c Change) Latest() bool {
	return c.Inserted != nil && c.Newest != nil && c.Newest.ID == c.Inserted.ID
}

// Observer is notified after a conversation's timeline changes.
type Observer interface {
	TimelineChanged(ch Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ch Change)

func (f ObserverFunc) TimelineChanged(ch Change) {
	f(ch)
}

// Store holds the deduplicated, time-ordered timeline of each conversation.
// All mutations go through Ingest, ReplaceProvisional and MarkFailed; each
// runs atomically under the store lock.
type Store struct {
	mu        sync.Mutex
	timelines map[string][]Message
	observers []Observer
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{timelines: make(map[string][]Message)}
}

// Observe registers an observer. Observers run outside the store lock, on
// the goroutine that performed the mutation.
func (s *Store) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Ingest inserts candidate into the conversation's timeline unless it
// duplicates an existing entry by id or by sender, body and a SentAt within
// FuzzyWindow. It reports whether the candidate was inserted.
//
// A server copy that fuzzy-matches an entry whose id was synthesized takes
// that entry's place, so id-less pushes end up under their real id.
func (s *Store) Ingest(conversationID string, candidate Message) bool {
	return s.ingestFrom(OriginDirect, conversationID, candidate)
}

func (s *Store) ingestFrom(origin Origin, conversationID string, candidate Message) bool {
	s.mu.Lock()
	inserted, removed, ok := s.insertLocked(conversationID, candidate)
	ch := s.changeLocked(origin, conversationID)
	observers := s.observers
	s.mu.Unlock()

	if !ok {
		return false
	}
	ch.Inserted = &inserted
	ch.Removed = removed
	notify(observers, ch)
	return true
}

func (s *Store) changeLocked(origin Origin, conversationID string) Change {
	ch := Change{ConversationID: conversationID, Origin: origin}
	if list := s.timelines[conversationID]; len(list) > 0 {
		newest := list[len(list)-1]
		ch.Newest = &newest
	}
	return ch
}

func notify(observers []Observer, ch Change) {
	if ch.Inserted != nil {
		metrics.MessagesIngested.WithLabelValues(string(ch.Origin)).Inc()
	}
	for _, o := range observers {
		o.TimelineChanged(ch)
	}
}

// insertLocked places candidate by SentAt. It returns the inserted message
// and the id of the synthesized entry it superseded, if any.
func (s *Store) insertLocked(conversationID string, candidate Message) (Message, string, bool) {
	if candidate.ConversationID == "" {
		candidate.ConversationID = conversationID
	}
	list := s.timelines[conversationID]

	removed := ""
	i, reason := duplicateOf(list, candidate)
	switch {
	case reason == "":
	case reason == dupFuzzy && supersedes(candidate, list[i]):
		removed = list[i].ID
		list = slices.Delete(list, i, i+1)
		metrics.MessagesDeduplicated.WithLabelValues("reconciled").Inc()
	default:
		metrics.MessagesDeduplicated.WithLabelValues(reason).Inc()
		return Message{}, "", false
	}

	// Equal timestamps keep arrival order.
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].SentAt.After(candidate.SentAt)
	})
	s.timelines[conversationID] = slices.Insert(list, idx, candidate)
	return candidate, removed, true
}

const (
	dupID    = "id"
	dupFuzzy = "fuzzy"
)

// duplicateOf returns the index of the entry candidate duplicates and
// whether it matched by id or fuzzily. The reason is empty for no match.
func duplicateOf(list []Message, candidate Message) (int, string) {
	if candidate.ID != "" {
		for i := range list {
			if list[i].ID == candidate.ID {
				return i, dupID
			}
		}
	}
	for i := range list {
		if sameLogicalMessage(list[i], candidate) {
			return i, dupFuzzy
		}
	}
	return -1, ""
}

// supersedes reports whether candidate is the server copy of an existing
// entry that only carried a synthesized id.
func supersedes(candidate, existing Message) bool {
	return existing.Synthesized && !candidate.Synthesized && !candidate.Provisional
}

func sameLogicalMessage(a, b Message) bool {
	if a.Sender.ID != b.Sender.ID || a.Body != b.Body {
		return false
	}
	d := a.SentAt.Sub(b.SentAt)
	if d < 0 {
		d = -d
	}
	return d < FuzzyWindow
}

// ReplaceProvisional swaps an optimistic entry for its server-confirmed
// version. The confirmed message lands at the position its SentAt dictates.
// If the confirmed id already arrived through another channel the result is
// still a single entry. It reports whether confirmed was inserted.
func (s *Store) ReplaceProvisional(conversationID, provisionalID string, confirmed Message) bool {
	confirmed.Provisional = false
	confirmed.Delivery = ""

	s.mu.Lock()
	list := s.timelines[conversationID]
	removed := false
	for i := range list {
		if list[i].ID == provisionalID && list[i].Provisional {
			list = slices.Delete(list, i, i+1)
			removed = true
			break
		}
	}
	s.timelines[conversationID] = list
	inserted, _, ok := s.insertLocked(conversationID, confirmed)
	ch := s.changeLocked(OriginLocal, conversationID)
	observers := s.observers
	s.mu.Unlock()

	if removed {
		ch.Removed = provisionalID
	}
	if ok {
		ch.Inserted = &inserted
	}
	if ok || removed {
		notify(observers, ch)
	}
	return ok
}

// MarkFailed replaces a provisional entry with a copy flagged as failed.
func (s *Store) MarkFailed(conversationID, provisionalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.timelines[conversationID]
	for i := range list {
		if list[i].ID == provisionalID && list[i].Provisional {
			failed := list[i]
			failed.Delivery = DeliveryFailed
			next := make([]Message, len(list))
			copy(next, list)
			next[i] = failed
			s.timelines[conversationID] = next
			return true
		}
	}
	return false
}

// Messages returns a copy of the conversation's timeline.
func (s *Store) Messages(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.timelines[conversationID]
	out := make([]Message, len(list))
	copy(out, list)
	return out
}

// Len returns the number of messages known for the conversation.
func (s *Store) Len(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timelines[conversationID])
}

// Latest returns the newest message of the conversation.
func (s *Store) Latest(conversationID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.timelines[conversationID]
	if len(list) == 0 {
		return Message{}, false
	}
	return list[len(list)-1], true
}

// LatestConfirmed returns the SentAt of the newest message timestamped by
// the server. Provisional entries and pushes stamped with the local clock
// never move the cursor.
func (s *Store) LatestConfirmed(conversationID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.timelines[conversationID]
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].Provisional && !list[i].LocalClock {
			return list[i].SentAt, true
		}
	}
	return time.Time{}, false
}

// Bodies returns the message bodies of a conversation for text search.
func (s *Store) Bodies(conversationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.timelines[conversationID]
	out := make([]string, 0, len(list))
	for i := range list {
		out = append(out, list[i].Body)
	}
	return out
}

// Forget drops a conversation's timeline.
func (s *Store) Forget(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timelines, conversationID)
}
