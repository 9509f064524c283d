package domain

// HasSavedBook reports whether bookID is present in books.
func HasSavedBook(books []SavedBook, bookID string) bool {
	for _, b := range books {
		if b.BookID == bookID {
			return true
		}
	}
	return false
}

// AppendSavedBook returns a new slice with book appended at the end, or a copy
// of books and false when book.BookID is already present.
func AppendSavedBook(books []SavedBook, book SavedBook) ([]SavedBook, bool) {
	out := CloneSavedBooks(books)
	if HasSavedBook(books, book.BookID) {
		return out, false
	}
	return append(out, book.Normalize()), true
}

// RemoveSavedBook returns a new slice without bookID, keeping the relative
// order of the remaining entries. The bool is false when nothing was removed.
func RemoveSavedBook(books []SavedBook, bookID string) ([]SavedBook, bool) {
	out := make([]SavedBook, 0, len(books))
	removed := false
	for _, b := range books {
		if b.BookID == bookID {
			removed = true
			continue
		}
		out = append(out, b.Normalize())
	}
	return out, removed
}

// CloneSavedBooks deep-copies books; the result is never nil.
func CloneSavedBooks(books []SavedBook) []SavedBook {
	out := make([]SavedBook, 0, len(books))
	for _, b := range books {
		out = append(out, b.Normalize())
	}
	return out
}
