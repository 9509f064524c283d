package store

import (
	"context"
	"sync"
	"time"

	"bookshelf/pkg/domain"
)

// MemoryStore keeps users in-process (single instance only).
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // key: user ID
	username map[string]string      // username -> user ID
	email    map[string]string      // email -> user ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		username: make(map[string]string),
		email:    make(map[string]string),
	}
}

// FindByUsernameOrEmail looks up a user by username or email.
func (m *MemoryStore) FindByUsernameOrEmail(ctx context.Context, username, email string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if username != "" {
		if id, ok := m.username[username]; ok {
			return cloneUser(m.users[id]), nil
		}
	}
	if email != "" {
		if id, ok := m.email[email]; ok {
			return cloneUser(m.users[id]), nil
		}
	}
	return domain.User{}, ErrNotFound
}

// FindByID returns a user by ID.
func (m *MemoryStore) FindByID(ctx context.Context, id string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return cloneUser(u), nil
}

// Create registers a user, enforcing unique ID, username and email.
func (m *MemoryStore) Create(ctx context.Context, u domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return ErrConflict
	}
	if _, ok := m.username[u.Username]; ok {
		return ErrConflict
	}
	if _, ok := m.email[u.Email]; ok {
		return ErrConflict
	}
	m.users[u.ID] = cloneUser(u)
	m.username[u.Username] = u.ID
	m.email[u.Email] = u.ID
	return nil
}

// UpdateSavedBooks replaces the saved-book collection.
func (m *MemoryStore) UpdateSavedBooks(ctx context.Context, userID string, books []domain.SavedBook) (domain.User, error) {
	return m.mutate(ctx, userID, func([]domain.SavedBook) ([]domain.SavedBook, bool) {
		return domain.CloneSavedBooks(books), true
	})
}

// AddSavedBook appends book unless its BookID is already saved.
func (m *MemoryStore) AddSavedBook(ctx context.Context, userID string, book domain.SavedBook) (domain.User, error) {
	return m.mutate(ctx, userID, func(current []domain.SavedBook) ([]domain.SavedBook, bool) {
		return domain.AppendSavedBook(current, book)
	})
}

// RemoveSavedBook drops bookID when present.
func (m *MemoryStore) RemoveSavedBook(ctx context.Context, userID, bookID string) (domain.User, error) {
	return m.mutate(ctx, userID, func(current []domain.SavedBook) ([]domain.SavedBook, bool) {
		return domain.RemoveSavedBook(current, bookID)
	})
}

func (m *MemoryStore) mutate(ctx context.Context, userID string, fn func([]domain.SavedBook) ([]domain.SavedBook, bool)) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	books, changed := fn(u.SavedBooks)
	if changed {
		u.SavedBooks = books
		u.UpdatedAt = time.Now().UTC()
		m.users[userID] = u
	}
	return cloneUser(u), nil
}

func cloneUser(u domain.User) domain.User {
	u.SavedBooks = domain.CloneSavedBooks(u.SavedBooks)
	return u
}
