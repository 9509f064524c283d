package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"bookshelf/internal/authctx"
)

// OperationKind separates reads from writes.
type OperationKind string

const (
	KindQuery    OperationKind = "query"
	KindMutation OperationKind = "mutation"
)

// AuthPolicy states whether an operation needs an authenticated caller.
type AuthPolicy string

const (
	AuthNone     AuthPolicy = "none"
	AuthRequired AuthPolicy = "required"
)

// Resolver runs one operation with already authorized context and raw arguments.
type Resolver func(ctx context.Context, a *App, ac authctx.Context, args json.RawMessage) (any, error)

// Operation describes a named entry of the operation surface.
type Operation struct {
	Name    string
	Kind    OperationKind
	Auth    AuthPolicy
	Resolve Resolver
}

type addUserArgs struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type removeBookArgs struct {
	BookID string `json:"bookId"`
}

var operations = map[string]Operation{
	"me": {
		Name: "me", Kind: KindQuery, Auth: AuthRequired,
		Resolve: func(ctx context.Context, a *App, ac authctx.Context, _ json.RawMessage) (any, error) {
			return a.Me(ctx, ac)
		},
	},
	"addUser": {
		Name: "addUser", Kind: KindMutation, Auth: AuthNone,
		Resolve: func(ctx context.Context, a *App, _ authctx.Context, raw json.RawMessage) (any, error) {
			var args addUserArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return a.AddUser(ctx, args.Username, args.Email, args.Password)
		},
	},
	"login": {
		Name: "login", Kind: KindMutation, Auth: AuthNone,
		Resolve: func(ctx context.Context, a *App, _ authctx.Context, raw json.RawMessage) (any, error) {
			var args loginArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return a.Login(ctx, args.Email, args.Password)
		},
	},
	"saveBook": {
		Name: "saveBook", Kind: KindMutation, Auth: AuthRequired,
		Resolve: func(ctx context.Context, a *App, ac authctx.Context, raw json.RawMessage) (any, error) {
			var args SaveBookInput
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return a.SaveBook(ctx, ac, args)
		},
	},
	"removeBook": {
		Name: "removeBook", Kind: KindMutation, Auth: AuthRequired,
		Resolve: func(ctx context.Context, a *App, ac authctx.Context, raw json.RawMessage) (any, error) {
			var args removeBookArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return a.RemoveBook(ctx, ac, args.BookID)
		},
	},
}

// Operations lists the operation surface sorted by name.
func Operations() []Operation {
	out := make([]Operation, 0, len(operations))
	for _, op := range operations {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupOperation returns the named operation.
func LookupOperation(name string) (Operation, bool) {
	op, ok := operations[name]
	return op, ok
}

// Execute resolves one named operation. Authorization is enforced before the
// arguments are decoded, so anonymous callers never reach the store.
func (a *App) Execute(ctx context.Context, ac authctx.Context, name string, args json.RawMessage) (any, error) {
	op, ok := operations[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownOperation, name)
	}
	if op.Auth == AuthRequired && !ac.IsAuthenticated() {
		return nil, ErrUnauthenticated
	}
	return op.Resolve(ctx, a, ac, args)
}

func decodeArgs(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%w: trailing data after arguments", ErrInvalidArguments)
	}
	return nil
}
