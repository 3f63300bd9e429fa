package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cexll/chatsdk-go/pkg/api"
	"github.com/cexll/chatsdk-go/pkg/auth"
)

var (
	// ErrEmptyMessage indicates the input was empty or whitespace-only.
	ErrEmptyMessage = errors.New("conversation: empty message")
	// ErrEngineClosed indicates the engine was torn down.
	ErrEngineClosed = errors.New("conversation: engine closed")
)

// Message is one transcript entry. The transcript is ephemeral; only the
// history id survives a restart.
type Message struct {
	ID     string
	Text   string
	IsUser bool
}

// SessionSource supplies the current session snapshot, normally the auth
// manager.
type SessionSource interface {
	Snapshot() auth.Session
}

// Responder is the slice of the remote API the engine needs.
type Responder interface {
	GetResponse(ctx context.Context, token string, req api.ChatRequest) (api.ChatResponse, error)
}

// Engine exchanges messages with the backend. The user's utterance is
// appended optimistically before the network call; the authoritative reply
// (or a synthetic error message) is reconciled in afterwards. The transcript
// is ordered newest first.
//
// Sends are deliberately not serialized: two overlapping Send calls race
// independently, each keeping its own user-then-outcome pairing.
type Engine struct {
	responder Responder
	tracker   *Tracker
	session   SessionSource
	log       *zap.Logger

	mu       sync.Mutex
	messages []Message
	closed   bool
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithEngineLogger attaches a structured logger.
func WithEngineLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine wires the engine to its responder, continuity tracker and
// session source.
func NewEngine(responder Responder, tracker *Tracker, session SessionSource, opts ...EngineOption) *Engine {
	e := &Engine{
		responder: responder,
		tracker:   tracker,
		session:   session,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send delivers one user utterance. Whitespace-only input is rejected before
// any transcript or network activity. On success the assistant reply is
// returned and any newly issued history id handed to the tracker; on failure
// the error is both materialized as a transcript entry and returned.
func (e *Engine) Send(ctx context.Context, text string) (Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Message{}, ErrEmptyMessage
	}
	snap := e.session.Snapshot()
	if snap.Token == "" {
		return Message{}, auth.ErrNoToken
	}

	userMsg := Message{ID: uuid.NewString(), Text: trimmed, IsUser: true}
	if err := e.prepend(userMsg); err != nil {
		return Message{}, err
	}

	req := api.ChatRequest{Message: trimmed}
	if id, ok := e.tracker.Current(); ok {
		req.HistoryID = &id
	}
	if snap.User != nil {
		req.Username = snap.User.Username
	}

	resp, err := e.responder.GetResponse(ctx, snap.Token, req)
	if err != nil {
		e.log.Warn("send failed", zap.Error(err))
		errMsg := Message{ID: uuid.NewString(), Text: humanReadable(err), IsUser: false}
		if perr := e.prepend(errMsg); perr != nil {
			// Torn down mid-flight; the failure still reaches the caller.
			return Message{}, fmt.Errorf("%w: %w", ErrEngineClosed, err)
		}
		return Message{}, err
	}

	reply := Message{ID: uuid.NewString(), Text: resp.Response, IsUser: false}
	if err := e.prepend(reply); err != nil {
		return Message{}, err
	}
	if resp.HistoryID != nil {
		e.tracker.Save(ctx, *resp.HistoryID)
	}
	return reply, nil
}

// Messages returns a newest-first copy of the transcript.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// NewChat clears the transcript and resets the continuity tracker. This is
// the explicit start-new-conversation intent; nothing else resets either.
func (e *Engine) NewChat(ctx context.Context) {
	e.mu.Lock()
	e.messages = nil
	e.mu.Unlock()
	e.tracker.Reset(ctx)
}

// Close tears the engine down. Responses landing after Close are dropped so
// stale network results cannot mutate a dead transcript.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func (e *Engine) prepend(msg Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.messages = append([]Message{msg}, e.messages...)
	return nil
}

// humanReadable prefers the server-supplied error text over Go error chains.
func humanReadable(err error) string {
	var se *api.ServerError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return err.Error()
}
