// Package session handles admin login: checking the shared admin secret and
// keeping server-side session tokens.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrUnauthorized = errors.New("unauthorized")

// Session is an authenticated admin session. Admin handlers receive it
// explicitly rather than consulting process state.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store keeps sessions until they expire or are deleted. Get returns
// ErrUnauthorized for unknown or expired ids.
type Store interface {
	Put(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
}

type Manager struct {
	secret string
	ttl    time.Duration
	store  Store
	now    func() time.Time
}

func NewManager(secret string, ttl time.Duration, store Store) *Manager {
	return &Manager{secret: secret, ttl: ttl, store: store, now: time.Now}
}

// Login checks password and opens a new session.
func (m *Manager) Login(ctx context.Context, password string) (Session, error) {
	ok, err := CheckPassword(password, m.secret)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrUnauthorized
	}
	now := m.now().UTC()
	s := Session{ID: uuid.NewString(), CreatedAt: now, ExpiresAt: now.Add(m.ttl)}
	if err := m.store.Put(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (m *Manager) Authenticate(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, ErrUnauthorized
	}
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !m.now().Before(s.ExpiresAt) {
		_ = m.store.Delete(ctx, id)
		return Session{}, ErrUnauthorized
	}
	return s, nil
}

func (m *Manager) Logout(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return m.store.Delete(ctx, id)
}

// TTL is the lifetime of new sessions.
func (m *Manager) TTL() time.Duration { return m.ttl }

type ctxKey struct{}

func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
