// Package conversation owns chat continuity: the server-issued history id
// that threads a conversation across restarts, and the in-memory transcript
// exchange loop around it.
package conversation

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/cexll/chatsdk-go/pkg/kv"
)

// Tracker holds the identifier of the conversation currently being continued.
// The in-memory value is authoritative for the running process; the durable
// copy is best-effort and only matters across restarts.
type Tracker struct {
	store kv.Store
	log   *zap.Logger

	mu  sync.RWMutex
	id  int64
	set bool
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerLogger attaches a structured logger.
func WithTrackerLogger(log *zap.Logger) TrackerOption {
	return func(t *Tracker) {
		if log != nil {
			t.log = log
		}
	}
}

// NewTracker builds a Tracker over the durable store.
func NewTracker(store kv.Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{store: store, log: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Load restores the identifier from durable storage. A missing entry means
// "no conversation in progress" and is not an error; a corrupt or unreadable
// entry is logged and treated the same way.
func (t *Tracker) Load(ctx context.Context) (int64, bool) {
	raw, ok, err := t.store.Get(ctx, kv.KeyHistoryID)
	if err != nil {
		t.log.Warn("failed to load history id", zap.Error(err))
		return 0, false
	}
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		t.log.Warn("stored history id is not a decimal integer", zap.String("value", raw))
		return 0, false
	}

	t.mu.Lock()
	t.id, t.set = id, true
	t.mu.Unlock()
	return id, true
}

// Save records a freshly issued identifier. The in-memory value is updated
// first; a durable-write failure is logged and does not undo it.
func (t *Tracker) Save(ctx context.Context, id int64) {
	t.mu.Lock()
	t.id, t.set = id, true
	t.mu.Unlock()

	if err := t.store.Set(ctx, kv.KeyHistoryID, strconv.FormatInt(id, 10)); err != nil {
		t.log.Warn("failed to persist history id", zap.Int64("history_id", id), zap.Error(err))
	}
}

// Reset clears the identifier in memory and on disk. Only explicit
// start-new-conversation intent calls this.
func (t *Tracker) Reset(ctx context.Context) {
	t.mu.Lock()
	t.id, t.set = 0, false
	t.mu.Unlock()

	if err := t.store.Delete(ctx, kv.KeyHistoryID); err != nil {
		t.log.Warn("failed to remove persisted history id", zap.Error(err))
	}
}

// Current returns the in-memory identifier, if any.
func (t *Tracker) Current() (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.id, t.set
}
