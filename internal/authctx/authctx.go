// Package authctx builds the per-operation authentication context.
//
// A Context is built exactly once per incoming operation, before any resolver
// runs, and is passed by value to every handler. It cannot be modified after
// Build returns.
package authctx

import (
	"net/http"
	"strings"
)

// Verifier checks a raw token and returns the user id it was issued for.
type Verifier interface {
	Verify(token string) (string, error)
}

// Context is either Anonymous or Authenticated{userID}.
type Context struct {
	userID string
}

// Anonymous returns the unauthenticated context.
func Anonymous() Context {
	return Context{}
}

// Authenticated returns a context for userID. An empty id yields Anonymous.
func Authenticated(userID string) Context {
	return Context{userID: strings.TrimSpace(userID)}
}

// UserID returns the authenticated user id, if any.
func (c Context) UserID() (string, bool) {
	return c.userID, c.userID != ""
}

// IsAuthenticated reports whether the context carries a verified identity.
func (c Context) IsAuthenticated() bool {
	return c.userID != ""
}

func (c Context) String() string {
	if c.userID == "" {
		return "anonymous"
	}
	return "user:" + c.userID
}

// Build turns a raw Authorization value into a Context. It never fails:
// missing, malformed or unverifiable credentials degrade to Anonymous.
// Both "Bearer <token>" and a bare token are accepted.
func Build(rawAuthorization string, v Verifier) Context {
	token := extractToken(rawAuthorization)
	if token == "" || v == nil {
		return Anonymous()
	}
	userID, err := v.Verify(token)
	if err != nil {
		return Anonymous()
	}
	return Authenticated(userID)
}

// FromRequest builds a Context from the request's Authorization header.
func FromRequest(r *http.Request, v Verifier) Context {
	if r == nil {
		return Anonymous()
	}
	return Build(r.Header.Get("Authorization"), v)
}

func extractToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	scheme, rest, found := strings.Cut(raw, " ")
	if found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(rest)
	}
	if found {
		// Some other scheme (e.g. Basic) carries no session.
		return ""
	}
	if strings.EqualFold(raw, "Bearer") {
		return ""
	}
	return raw
}
