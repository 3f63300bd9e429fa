// Package history keeps a local view of the user's past conversations in
// sync with the server, including confirmed remote deletion.
package history

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cexll/chatsdk-go/pkg/api"
	"github.com/cexll/chatsdk-go/pkg/auth"
)

const previewRunes = 15

// Entry is one past conversation, keyed by the server-issued history id.
type Entry struct {
	HistoryID int64
	// Preview is the first user utterance, truncated for list rendering.
	Preview   string
	Exchanges []api.Exchange
}

// SessionSource supplies the current session snapshot.
type SessionSource interface {
	Snapshot() auth.Session
}

// Backend is the slice of the remote API the synchronizer needs.
type Backend interface {
	History(ctx context.Context, token string) ([]api.HistoryEntry, error)
	DeleteChat(ctx context.Context, token string, historyID int64) error
}

// Synchronizer owns the local history list. Server order is preserved as
// received; local removal happens only after the server confirms a deletion.
type Synchronizer struct {
	backend Backend
	session SessionSource
	log     *zap.Logger

	mu         sync.RWMutex
	entries    []Entry
	lastSignal int64
}

// Option customizes a Synchronizer.
type Option func(*Synchronizer)

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Synchronizer) {
		if log != nil {
			s.log = log
		}
	}
}

// NewSynchronizer wires the synchronizer to its backend and session source.
func NewSynchronizer(backend Backend, session SessionSource, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		backend: backend,
		session: session,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch reloads the list from the server. An account with no history yields
// an empty list, not an error.
func (s *Synchronizer) Fetch(ctx context.Context) ([]Entry, error) {
	token, err := s.token()
	if err != nil {
		return nil, err
	}
	raw, err := s.backend.History(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("history: fetch: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		entries = append(entries, Entry{
			HistoryID: item.HistoryID,
			Preview:   preview(item.Chat),
			Exchanges: item.Chat,
		})
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return s.Entries(), nil
}

// Refresh re-fetches exactly once per change of signal. Repeating the last
// seen value, or sending zero, does nothing; this is what keeps one external
// "refresh requested" event from turning into a fetch storm.
func (s *Synchronizer) Refresh(ctx context.Context, signal int64) (bool, error) {
	s.mu.Lock()
	if signal == 0 || signal == s.lastSignal {
		s.mu.Unlock()
		return false, nil
	}
	s.lastSignal = signal
	s.mu.Unlock()

	if _, err := s.Fetch(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes one conversation remotely, then locally. Anything short of
// an explicit success acknowledgment leaves the local list untouched.
func (s *Synchronizer) Delete(ctx context.Context, historyID int64) error {
	token, err := s.token()
	if err != nil {
		return err
	}
	if err := s.backend.DeleteChat(ctx, token, historyID); err != nil {
		s.log.Warn("chat deletion failed", zap.Int64("history_id", historyID), zap.Error(err))
		return fmt.Errorf("history: delete %d: %w", historyID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.HistoryID != historyID {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	return nil
}

// Entries returns a copy of the local list in server order.
func (s *Synchronizer) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Get looks up a single conversation by id, feeding detail views.
func (s *Synchronizer) Get(historyID int64) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.HistoryID == historyID {
			return e, true
		}
	}
	return Entry{}, false
}

func (s *Synchronizer) token() (string, error) {
	snap := s.session.Snapshot()
	if snap.Token == "" {
		return "", auth.ErrNoToken
	}
	return snap.Token, nil
}

func preview(chat []api.Exchange) string {
	if len(chat) == 0 {
		return ""
	}
	first := []rune(chat[0].User)
	if len(first) <= previewRunes {
		return string(first)
	}
	return string(first[:previewRunes]) + "..."
}
