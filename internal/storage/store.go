// Package storage defines the user storage contract and an in-memory implementation.
package storage

import (
	"context"
	"sort"
	"sync"

	"usersvc/internal/domain"
)

// UserStore is the persistence contract the HTTP handlers depend on.
type UserStore interface {
	// GetUser looks up a user by exact username. A missing row is found=false, not an error.
	GetUser(ctx context.Context, username string) (domain.User, bool, error)
	// ListUsers returns at most page.Limit users after skipping page.Offset, ordered by username.
	ListUsers(ctx context.Context, page domain.Page) ([]domain.User, error)
	// CreateUser inserts a user. Uniqueness failures are returned as *ConstraintError.
	CreateUser(ctx context.Context, user domain.User) error
	// UpdateUser applies a coalescing update and reports whether a row matched.
	UpdateUser(ctx context.Context, username string, update domain.UserUpdate) (bool, error)
}

// Store is a UserStore backed by a closable resource.
type Store interface {
	UserStore
	// Ping checks connectivity to the backing database.
	Ping(ctx context.Context) error
	// Close releases resources held by the store.
	Close() error
}

// MemoryStore is an in-memory implementation for quick start and tests.
// Thread-safe; uniqueness is enforced under a single lock so racing creates resolve
// the same way a unique index would.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]domain.User // keyed by username
	emailIndex map[string]string      // email -> username
	closed     bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]domain.User),
		emailIndex: make(map[string]string),
	}
}

func (m *MemoryStore) GetUser(_ context.Context, username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return domain.User{}, false, ErrClosed
	}
	u, ok := m.users[username]
	return u, ok, nil
}

func (m *MemoryStore) ListUsers(_ context.Context, page domain.Page) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	names := make([]string, 0, len(m.users))
	for name := range m.users {
		names = append(names, name)
	}
	sort.Strings(names)

	out := []domain.User{}
	if page.Offset >= len(names) || page.Limit <= 0 {
		return out, nil
	}
	end := len(names)
	if page.Limit < end-page.Offset {
		end = page.Offset + page.Limit
	}
	for _, name := range names[page.Offset:end] {
		out = append(out, m.users[name])
	}
	return out, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, exists := m.users[user.Username]; exists {
		return &ConstraintError{Name: UsernameConstraint}
	}
	if _, taken := m.emailIndex[user.Email]; taken {
		return &ConstraintError{Name: EmailConstraint}
	}
	m.users[user.Username] = user
	m.emailIndex[user.Email] = user.Username
	return nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, username string, update domain.UserUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	existing, ok := m.users[username]
	if !ok {
		return false, nil
	}
	updated := update.Apply(existing)
	if updated.Email != existing.Email {
		if owner, taken := m.emailIndex[updated.Email]; taken && owner != username {
			return false, &ConstraintError{Name: EmailConstraint}
		}
		delete(m.emailIndex, existing.Email)
		m.emailIndex[updated.Email] = username
	}
	m.users[username] = updated
	return true, nil
}

// Ping always succeeds on an open memory store.
func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
