package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"bookshelf/pkg/domain"
)

type storeUnderTest interface {
	UserStore
	SavedBookMutator
}

func TestMemoryStoreContract(t *testing.T) {
	runUserStoreContract(t, func(t *testing.T) storeUnderTest {
		return NewMemoryStore()
	})
}

func TestGormStoreContract(t *testing.T) {
	dsn := os.Getenv("BOOKSHELF_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BOOKSHELF_TEST_DATABASE_URL not set")
	}
	runUserStoreContract(t, func(t *testing.T) storeUnderTest {
		s, err := NewGormStore(dsn)
		if err != nil {
			t.Fatalf("new gorm store: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestWithoutConditionalWritesHidesCapability(t *testing.T) {
	var s UserStore = WithoutConditionalWrites(NewMemoryStore())
	if _, ok := s.(SavedBookMutator); ok {
		t.Fatalf("expected plain store to hide SavedBookMutator")
	}
}

func runUserStoreContract(t *testing.T, newStore func(t *testing.T) storeUnderTest) {
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		s := newStore(t)
		u := newTestUser()
		if err := s.Create(ctx, u); err != nil {
			t.Fatalf("create: %v", err)
		}
		byID, err := s.FindByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("find by id: %v", err)
		}
		if byID.Username != u.Username || byID.PasswordHash != u.PasswordHash {
			t.Fatalf("unexpected user: %+v", byID)
		}
		byEmail, err := s.FindByUsernameOrEmail(ctx, "", u.Email)
		if err != nil || byEmail.ID != u.ID {
			t.Fatalf("find by email: id=%q err=%v", byEmail.ID, err)
		}
		byName, err := s.FindByUsernameOrEmail(ctx, u.Username, "nobody@example.com")
		if err != nil || byName.ID != u.ID {
			t.Fatalf("find by username: id=%q err=%v", byName.ID, err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.FindByID(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.FindByUsernameOrEmail(ctx, "ghost-"+uuid.NewString(), ""); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.UpdateSavedBooks(ctx, uuid.NewString(), nil); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound on update, got %v", err)
		}
		if _, err := s.AddSavedBook(ctx, uuid.NewString(), domain.SavedBook{BookID: "B1", Title: "T1"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound on add, got %v", err)
		}
	})

	t.Run("duplicate username or email conflicts", func(t *testing.T) {
		s := newStore(t)
		u := newTestUser()
		if err := s.Create(ctx, u); err != nil {
			t.Fatalf("create: %v", err)
		}
		sameName := newTestUser()
		sameName.Username = u.Username
		if err := s.Create(ctx, sameName); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict for username, got %v", err)
		}
		sameEmail := newTestUser()
		sameEmail.Email = u.Email
		if err := s.Create(ctx, sameEmail); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict for email, got %v", err)
		}
	})

	t.Run("conditional add and remove", func(t *testing.T) {
		s := newStore(t)
		u := newTestUser()
		if err := s.Create(ctx, u); err != nil {
			t.Fatalf("create: %v", err)
		}
		b1 := domain.SavedBook{BookID: "B1", Title: "T1", Authors: []string{"A"}, Link: "https://example.com/b1"}
		b2 := domain.SavedBook{BookID: "B2", Title: "T2"}
		for _, b := range []domain.SavedBook{b1, b1, b2} {
			if _, err := s.AddSavedBook(ctx, u.ID, b); err != nil {
				t.Fatalf("add %s: %v", b.BookID, err)
			}
		}
		got, err := s.FindByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		assertBookIDs(t, got.SavedBooks, "B1", "B2")
		if got.SavedBooks[0].Link != b1.Link || len(got.SavedBooks[0].Authors) != 1 {
			t.Fatalf("saved book fields lost: %+v", got.SavedBooks[0])
		}

		got, err = s.RemoveSavedBook(ctx, u.ID, "B1")
		if err != nil {
			t.Fatalf("remove: %v", err)
		}
		assertBookIDs(t, got.SavedBooks, "B2")

		got, err = s.RemoveSavedBook(ctx, u.ID, "B1")
		if err != nil {
			t.Fatalf("remove absent: %v", err)
		}
		assertBookIDs(t, got.SavedBooks, "B2")
	})

	t.Run("concurrent adds of one key keep it unique", func(t *testing.T) {
		s := newStore(t)
		u := newTestUser()
		if err := s.Create(ctx, u); err != nil {
			t.Fatalf("create: %v", err)
		}
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				book := domain.SavedBook{BookID: fmt.Sprintf("B%d", i%4), Title: "T"}
				if _, err := s.AddSavedBook(ctx, u.ID, book); err != nil {
					t.Errorf("add: %v", err)
				}
			}(i)
		}
		wg.Wait()
		got, err := s.FindByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if len(got.SavedBooks) != 4 {
			t.Fatalf("expected 4 unique books, got %+v", got.SavedBooks)
		}
	})

	t.Run("replace collection", func(t *testing.T) {
		s := newStore(t)
		u := newTestUser()
		if err := s.Create(ctx, u); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := s.UpdateSavedBooks(ctx, u.ID, []domain.SavedBook{{BookID: "X"}, {BookID: "Y"}})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		assertBookIDs(t, got.SavedBooks, "X", "Y")
	})
}

func newTestUser() domain.User {
	id := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domain.User{
		ID:           id,
		Username:     "user-" + id,
		Email:        id + "@example.com",
		PasswordHash: "hash-" + id,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func assertBookIDs(t *testing.T, books []domain.SavedBook, want ...string) {
	t.Helper()
	if len(books) != len(want) {
		t.Fatalf("book ids = %v, want %v", bookIDs(books), want)
	}
	for i, id := range want {
		if books[i].BookID != id {
			t.Fatalf("book ids = %v, want %v", bookIDs(books), want)
		}
	}
}

func bookIDs(books []domain.SavedBook) []string {
	out := make([]string, 0, len(books))
	for _, b := range books {
		out = append(out, b.BookID)
	}
	return out
}
