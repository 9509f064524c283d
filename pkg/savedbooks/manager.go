// Package savedbooks maintains a user's ordered, key-unique shelf of saved books.
//
// Add and Remove are idempotent. When the backing store supports conditional
// writes they are delegated as single atomic updates; otherwise the
// read-modify-write is serialized per user through a keylock.Locker.
package savedbooks

import (
	"context"
	"fmt"

	"bookshelf/pkg/domain"
	"bookshelf/pkg/keylock"
	"bookshelf/pkg/store"
)

// Manager applies saved-book set semantics on top of a UserStore.
type Manager struct {
	store   store.UserStore
	mutator store.SavedBookMutator
	locker  keylock.Locker
}

// NewManager builds a Manager. A nil locker defaults to an in-process one and
// is only consulted when s lacks store.SavedBookMutator.
func NewManager(s store.UserStore, locker keylock.Locker) *Manager {
	if locker == nil {
		locker = keylock.NewMemoryLocker()
	}
	m := &Manager{store: s, locker: locker}
	if mutator, ok := s.(store.SavedBookMutator); ok {
		m.mutator = mutator
	}
	return m
}

// Add appends book to the user's shelf unless its BookID is already saved.
func (m *Manager) Add(ctx context.Context, userID string, book domain.SavedBook) (domain.User, error) {
	book = book.Normalize()
	if m.mutator != nil {
		return m.mutator.AddSavedBook(ctx, userID, book)
	}
	return m.locked(ctx, userID, func(current []domain.SavedBook) ([]domain.SavedBook, bool) {
		return domain.AppendSavedBook(current, book)
	})
}

// Remove drops bookID from the user's shelf; absent ids are a no-op.
func (m *Manager) Remove(ctx context.Context, userID, bookID string) (domain.User, error) {
	if m.mutator != nil {
		return m.mutator.RemoveSavedBook(ctx, userID, bookID)
	}
	return m.locked(ctx, userID, func(current []domain.SavedBook) ([]domain.SavedBook, bool) {
		return domain.RemoveSavedBook(current, bookID)
	})
}

func (m *Manager) locked(ctx context.Context, userID string, apply func([]domain.SavedBook) ([]domain.SavedBook, bool)) (domain.User, error) {
	unlock, err := m.locker.Lock(ctx, "savedbooks:"+userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("lock saved books: %w", err)
	}
	defer unlock()

	user, err := m.store.FindByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	books, changed := apply(user.SavedBooks)
	if !changed {
		return user, nil
	}
	return m.store.UpdateSavedBooks(ctx, userID, books)
}
