package app

import (
	"errors"

	"bookshelf/pkg/auth"
)

// Kind is the machine-readable category carried by every operation failure.
type Kind string

const (
	KindUnauthenticated    Kind = "Unauthenticated"
	KindInvalidCredentials Kind = "InvalidCredentials"
	KindConflict           Kind = "Conflict"
	KindNotFound           Kind = "NotFound"
	KindInvalid            Kind = "Invalid"
	KindInternal           Kind = "Internal"
)

var (
	// ErrUnauthenticated is returned by required-auth operations on an anonymous context.
	ErrUnauthenticated = errors.New("you need to be logged in")

	// ErrInvalidCredentials is returned when the supplied credentials do not match.
	// This message is shown to end users and must not enable account enumeration.
	ErrInvalidCredentials = errors.New("incorrect email or password")

	ErrUserAlreadyExists = errors.New("username or email already in use")

	// ErrUserNotFound means an authenticated session points at a missing user,
	// which is a data-integrity fault rather than a normal user error.
	ErrUserNotFound = errors.New("user not found")

	ErrInvalidArguments  = errors.New("invalid arguments")
	ErrUnknownOperation  = errors.New("unknown operation")
	ErrUsernameRequired  = errors.New("username required")
	ErrEmailRequired     = errors.New("email required")
	ErrPasswordRequired  = errors.New("password required")
	ErrPasswordTooLong   = auth.ErrPasswordTooLong
	ErrBookIDRequired    = errors.New("bookId required")
	ErrBookTitleRequired = errors.New("title required")

	// ErrInternal wraps storage and signing failures; its message is safe to expose.
	ErrInternal = errors.New("internal error")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnauthenticated, KindUnauthenticated},
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrUserAlreadyExists, KindConflict},
	{ErrUserNotFound, KindNotFound},
	{ErrInvalidArguments, KindInvalid},
	{ErrUnknownOperation, KindInvalid},
	{ErrUsernameRequired, KindInvalid},
	{ErrEmailRequired, KindInvalid},
	{ErrPasswordRequired, KindInvalid},
	{ErrPasswordTooLong, KindInvalid},
	{ErrBookIDRequired, KindInvalid},
	{ErrBookTitleRequired, KindInvalid},
	{ErrInternal, KindInternal},
}

// KindOf maps err to its Kind. Unrecognized errors are Internal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// PublicMessage returns the text that may be shown to the caller for err.
// Internal failures never expose their cause.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if KindOf(err) == KindInternal {
		return ErrInternal.Error()
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			if k.err == ErrInvalidArguments {
				// keep the decoder detail, it helps clients fix the request
				return err.Error()
			}
			return k.err.Error()
		}
	}
	return err.Error()
}

// Kinds lists every error kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindUnauthenticated,
		KindInvalidCredentials,
		KindConflict,
		KindNotFound,
		KindInvalid,
		KindInternal,
	}
}
