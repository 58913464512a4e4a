package support

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/operiq/support-sync/internal/api"
	"github.com/operiq/support-sync/internal/metrics"
)

// DefaultDirectoryInterval is the conversation list refresh cadence.
const DefaultDirectoryInterval = 30 * time.Second

// ConversationLister fetches conversation summaries, most recently updated
// first. *api.Client implements it.
type ConversationLister interface {
	ListConversations(ctx context.Context) ([]api.Conversation, error)
}

// SnapshotCache persists the last directory snapshot between runs.
type SnapshotCache interface {
	Get(ctx context.Context, dst any) bool
	Put(ctx context.Context, v any) error
}

// DirectoryOptions configures a Directory.
type DirectoryOptions struct {
	// Admin is the local identity placed in every conversation.
	Admin  Participant
	Cache  SnapshotCache
	Bodies BodySource
	Logger *slog.Logger
}

// Directory is the conversation list: periodically refreshed from the
// backend and patched by local actions in between.
type Directory struct {
	lister ConversationLister
	admin  Participant
	cache  SnapshotCache
	bodies BodySource
	logger *slog.Logger
	kick   chan struct{}

	mu     sync.Mutex
	order  []string
	convs  map[string]Conversation
	readAt map[string]time.Time
	// mirrored marks conversations whose LastMessage was taken from the
	// store rather than from a backend snapshot.
	mirrored map[string]bool
}

// NewDirectory creates an empty directory.
func NewDirectory(lister ConversationLister, opts DirectoryOptions) *Directory {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Directory{
		lister: lister,
		admin:  opts.Admin,
		cache:  opts.Cache,
		bodies: opts.Bodies,
		logger: opts.Logger,
		kick:   make(chan struct{}, 1),
		convs:    make(map[string]Conversation),
		readAt:   make(map[string]time.Time),
		mirrored: make(map[string]bool),
	}
}

// Warm seeds an empty directory from the snapshot cache. It reports whether
// anything was loaded.
func (d *Directory) Warm(ctx context.Context) bool {
	if d.cache == nil {
		return false
	}
	var snapshot []Conversation
	if !d.cache.Get(ctx, &snapshot) || len(snapshot) == 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.convs) > 0 {
		return false
	}
	for _, c := range snapshot {
		if c.ID == "" {
			continue
		}
		if _, dup := d.convs[c.ID]; dup {
			continue
		}
		d.convs[c.ID] = c
		d.order = append(d.order, c.ID)
	}
	d.logger.Debug("directory warmed from cache", "conversations", len(d.order))
	return len(d.order) > 0
}

// Refresh fetches the conversation list and merges it into the local view.
func (d *Directory) Refresh(ctx context.Context) error {
	raw, err := d.lister.ListConversations(ctx)
	metrics.DirectoryRefreshes.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	fetched := make([]Conversation, 0, len(raw))
	for _, c := range raw {
		fetched = append(fetched, ConversationFromAPI(c, d.admin))
	}

	d.mu.Lock()
	d.mergeLocked(fetched)
	snapshot := d.listLocked()
	d.mu.Unlock()

	if d.cache != nil {
		if err := d.cache.Put(ctx, snapshot); err != nil {
			d.logger.Debug("directory snapshot not cached", "error", err)
		}
	}
	return nil
}

// mergeLocked replaces the view with fetched, keeping local state that is
// newer than the server's: whole entries updated locally after the server
// snapshot, read marks, and last messages.
func (d *Directory) mergeLocked(fetched []Conversation) {
	next := make(map[string]Conversation, len(fetched))
	order := make([]string, 0, len(fetched))
	for _, f := range fetched {
		if f.ID == "" {
			continue
		}
		if _, dup := next[f.ID]; dup {
			continue
		}
		merged := f
		local, ok := d.convs[f.ID]
		if ok {
			if local.UpdatedAt.After(f.UpdatedAt) {
				merged = local
			} else if newerLastMessage(local.LastMessage, f.LastMessage) {
				merged.LastMessage = local.LastMessage
			}
		}
		if !ok || merged.LastMessage != local.LastMessage {
			delete(d.mirrored, f.ID)
		}
		if at, ok := d.readAt[f.ID]; ok {
			if at.After(f.UpdatedAt) {
				merged.UnreadCount = 0
			} else {
				delete(d.readAt, f.ID)
			}
		}
		next[f.ID] = merged
		order = append(order, f.ID)
	}
	for id := range d.readAt {
		if _, ok := next[id]; !ok {
			delete(d.readAt, id)
		}
	}
	for id := range d.mirrored {
		if _, ok := next[id]; !ok {
			delete(d.mirrored, id)
		}
	}
	d.convs = next
	d.order = order
}

func newerLastMessage(local, fetched *LastMessage) bool {
	if local == nil {
		return false
	}
	return fetched == nil || local.SentAt.After(fetched.SentAt)
}

// Kick requests an out-of-band refresh from Run. It never blocks.
func (d *Directory) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run refreshes every interval, and on Kick, until ctx is done. Refresh
// failures are logged and retried on the next tick.
func (d *Directory) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultDirectoryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-d.kick:
		}
		if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("directory refresh failed", "error", err)
		}
	}
}

// Get returns one conversation.
func (d *Directory) Get(id string) (Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.convs[id]
	return c, ok
}

// List returns all conversations in backend order.
func (d *Directory) List() []Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listLocked()
}

func (d *Directory) listLocked() []Conversation {
	out := make([]Conversation, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.convs[id])
	}
	return out
}

// Filter returns the conversations matching c, searching loaded message
// bodies when the directory has a BodySource.
func (d *Directory) Filter(c Criteria) []Conversation {
	return d.Where(c.Predicate(d.bodies))
}

// Where returns the conversations matching p.
func (d *Directory) Where(p Predicate) []Conversation {
	all := d.List()
	if p == nil {
		return all
	}
	out := all[:0]
	for i := range all {
		if p(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out
}

// MarkReadLocal zeroes the unread count. The override survives refreshes
// until the server reports a newer update.
func (d *Directory) MarkReadLocal(id string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.convs[id]
	if !ok {
		return
	}
	c.UnreadCount = 0
	d.convs[id] = c
	d.readAt[id] = at
}

// SetStatusLocal applies a status change ahead of the server.
func (d *Directory) SetStatusLocal(id string, status Status, at time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.convs[id]
	if !ok {
		return false
	}
	c.Status = status
	c.UpdatedAt = at
	d.convs[id] = c
	return true
}

// ApplyLocalSend records an admin reply sent from this client. An open
// conversation moves to in_progress; resolved and closed ones keep their
// status. It returns the status after the change.
func (d *Directory) ApplyLocalSend(id string, at time.Time) (Status, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.convs[id]
	if !ok {
		return "", false
	}
	c.Status = statusAfterReply(c.Status)
	c.UpdatedAt = at
	d.convs[id] = c
	return c.Status, true
}

// TimelineChanged mirrors the store's newest message into LastMessage. The
// store wins, except over a backend snapshot that names a newer message the
// store has not loaded yet. UnreadCount is server-owned and left alone.
func (d *Directory) TimelineChanged(ch Change) {
	if ch.Newest == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := ch.ConversationID
	c, ok := d.convs[id]
	if !ok {
		return
	}
	if !d.mirrored[id] && c.LastMessage != nil && ch.Newest.SentAt.Before(c.LastMessage.SentAt) {
		return
	}
	c.LastMessage = lastMessageOf(*ch.Newest)
	d.convs[id] = c
	d.mirrored[id] = true
}
