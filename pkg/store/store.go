package store

import (
	"context"
	"errors"

	"bookshelf/pkg/domain"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrConflict is returned when a username or email is already taken.
	ErrConflict = errors.New("username or email already exists")
)

// UserStore defines persistence operations for users and their saved books.
// Any error other than ErrNotFound or ErrConflict is a storage failure.
type UserStore interface {
	// FindByUsernameOrEmail matches either field; empty arguments are ignored.
	FindByUsernameOrEmail(ctx context.Context, username, email string) (domain.User, error)
	FindByID(ctx context.Context, id string) (domain.User, error)
	Create(ctx context.Context, u domain.User) error
	// UpdateSavedBooks replaces the whole collection and returns the stored user.
	UpdateSavedBooks(ctx context.Context, userID string, books []domain.SavedBook) (domain.User, error)
}

// SavedBookMutator is an optional capability for stores that can apply
// saved-book changes as single conditional writes. Both operations are
// idempotent and return the user as stored after the write.
type SavedBookMutator interface {
	AddSavedBook(ctx context.Context, userID string, book domain.SavedBook) (domain.User, error)
	RemoveSavedBook(ctx context.Context, userID, bookID string) (domain.User, error)
}

// WithoutConditionalWrites hides any SavedBookMutator capability of s so
// callers fall back to locked read-modify-write through UpdateSavedBooks.
func WithoutConditionalWrites(s UserStore) UserStore {
	return plainStore{s}
}

type plainStore struct {
	s UserStore
}

func (p plainStore) FindByUsernameOrEmail(ctx context.Context, username, email string) (domain.User, error) {
	return p.s.FindByUsernameOrEmail(ctx, username, email)
}

func (p plainStore) FindByID(ctx context.Context, id string) (domain.User, error) {
	return p.s.FindByID(ctx, id)
}

func (p plainStore) Create(ctx context.Context, u domain.User) error {
	return p.s.Create(ctx, u)
}

func (p plainStore) UpdateSavedBooks(ctx context.Context, userID string, books []domain.SavedBook) (domain.User, error) {
	return p.s.UpdateSavedBooks(ctx, userID, books)
}
