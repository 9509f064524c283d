package domain

import "time"

// SavedBook is a reference to an externally catalogued book kept in a user's shelf.
// BookID is the uniqueness key within one user's collection.
type SavedBook struct {
	BookID      string   `json:"bookId"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Description string   `json:"description,omitempty"`
	Image       string   `json:"image,omitempty"`
	Link        string   `json:"link,omitempty"`
}

type User struct {
	ID           string      `json:"id"`
	Username     string      `json:"username"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"-"`
	SavedBooks   []SavedBook `json:"savedBooks"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Profile is the public view of a user returned by every operation.
type Profile struct {
	ID         string      `json:"id"`
	Username   string      `json:"username"`
	Email      string      `json:"email"`
	SavedBooks []SavedBook `json:"savedBooks"`
	BookCount  int         `json:"bookCount"`
}

// Profile strips credentials and normalizes nil slices so they encode as [].
func (u User) Profile() Profile {
	books := make([]SavedBook, 0, len(u.SavedBooks))
	for _, b := range u.SavedBooks {
		books = append(books, b.Normalize())
	}
	return Profile{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		SavedBooks: books,
		BookCount:  len(books),
	}
}

// Normalize returns a copy with a non-nil, independent Authors slice.
func (b SavedBook) Normalize() SavedBook {
	authors := make([]string, len(b.Authors))
	copy(authors, b.Authors)
	b.Authors = authors
	return b
}
