// Package auth owns the client's authentication state: the bearer token, the
// signed-in user's identity, and every transition between them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cexll/chatsdk-go/pkg/api"
	"github.com/cexll/chatsdk-go/pkg/kv"
)

// ErrNoToken indicates an authenticated operation was attempted with no
// stored session.
var ErrNoToken = errors.New("auth: no token available")

// User identifies the signed-in account.
type User struct {
	ID       string
	Username string
	Email    string
}

// Session is a snapshot of the authentication state. Authenticated is true
// only while a token is held that the server has accepted at least once.
type Session struct {
	Authenticated bool
	Token         string
	User          *User
}

// Backend is the slice of the remote API the manager needs.
type Backend interface {
	Login(ctx context.Context, email, password string) (api.LoginResult, error)
	Register(ctx context.Context, username, email, password string) error
	UserData(ctx context.Context, token string) (api.User, error)
	DeleteAccount(ctx context.Context, token string) error
}

// Manager performs login, logout, account deletion and token-invalidation
// recovery. It is the only writer of the session; everyone else reads
// snapshots.
type Manager struct {
	backend Backend
	store   kv.Store
	log     *zap.Logger

	mu      sync.RWMutex
	session Session
	subs    []func(Session)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager wires the manager to its backend and durable store.
func NewManager(backend Backend, store kv.Store, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		store:   store,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSession(m.session)
}

// Subscribe registers fn to be called synchronously after every settled
// session mutation. The callback receives its own snapshot copy.
func (m *Manager) Subscribe(fn func(Session)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// Login exchanges credentials for a session. The token and identity are
// persisted before the session flips to authenticated, and a user-data fetch
// is chained immediately; its failure is the login's failure.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	res, err := m.backend.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("auth: login: %w", err)
	}
	if err := m.persistIdentity(ctx, res); err != nil {
		return err
	}
	m.update(Session{
		Authenticated: true,
		Token:         res.AccessToken,
		User:          &User{ID: res.UserID, Username: res.Username, Email: email},
	})
	return m.FetchUserData(ctx)
}

// Register creates a new account. The session is untouched; the caller signs
// in afterwards.
func (m *Manager) Register(ctx context.Context, username, email, password string) error {
	if err := m.backend.Register(ctx, username, email, password); err != nil {
		return fmt.Errorf("auth: register: %w", err)
	}
	return nil
}

// Logout removes the persisted session best-effort and always transitions to
// unauthenticated. Storage failures are logged, never returned: logout must
// not be blockable.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.store.Delete(ctx, kv.KeyUserToken, kv.KeyUserID, kv.KeyUsername); err != nil {
		m.log.Warn("failed to remove persisted session", zap.Error(err))
	}
	m.update(Session{})
}

// FetchUserData refreshes the signed-in user's profile using the persisted
// token. A server-side rejection of the token is the one place the manager
// tears the session down on its own.
func (m *Manager) FetchUserData(ctx context.Context) error {
	token, err := m.storedToken(ctx)
	if err != nil {
		return err
	}
	u, err := m.backend.UserData(ctx, token)
	if err != nil {
		if api.IsAuthError(err) {
			m.log.Info("token rejected by server, signing out", zap.Error(err))
			m.Logout(ctx)
		}
		return fmt.Errorf("auth: fetch user data: %w", err)
	}
	m.update(Session{
		Authenticated: true,
		Token:         token,
		User:          &User{ID: u.ID, Username: u.Username, Email: u.Email},
	})
	return nil
}

// DeleteAccount removes the account remotely, then signs out. On failure the
// session is left exactly as it was.
func (m *Manager) DeleteAccount(ctx context.Context) error {
	token, err := m.storedToken(ctx)
	if err != nil {
		return err
	}
	if err := m.backend.DeleteAccount(ctx, token); err != nil {
		return fmt.Errorf("auth: delete account: %w", err)
	}
	m.Logout(ctx)
	return nil
}

// Restore adopts a previously persisted token at startup. It reports false
// with no error when nothing was stored.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	_, ok, err := m.store.Get(ctx, kv.KeyUserToken)
	if err != nil {
		return false, fmt.Errorf("auth: read stored token: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := m.FetchUserData(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) storedToken(ctx context.Context) (string, error) {
	token, ok, err := m.store.Get(ctx, kv.KeyUserToken)
	if err != nil {
		return "", fmt.Errorf("auth: read stored token: %w", err)
	}
	if !ok || token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

func (m *Manager) persistIdentity(ctx context.Context, res api.LoginResult) error {
	pairs := [...][2]string{
		{kv.KeyUserToken, res.AccessToken},
		{kv.KeyUserID, res.UserID},
		{kv.KeyUsername, res.Username},
	}
	for _, p := range pairs {
		if err := m.store.Set(ctx, p[0], p[1]); err != nil {
			return fmt.Errorf("auth: persist %s: %w", p[0], err)
		}
	}
	return nil
}

// update swaps the session and notifies subscribers outside the lock.
func (m *Manager) update(next Session) {
	m.mu.Lock()
	m.session = next
	subs := make([]func(Session), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(cloneSession(next))
	}
}

func cloneSession(s Session) Session {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}
