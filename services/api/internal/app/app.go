package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookshelf/internal/authctx"
	"bookshelf/internal/usertoken"
	"bookshelf/pkg/auth"
	"bookshelf/pkg/domain"
	"bookshelf/pkg/keylock"
	"bookshelf/pkg/savedbooks"
	"bookshelf/pkg/store"
)

// Saved-book write strategies.
const (
	// StrategyConditional uses single conditional store updates when the store supports them.
	StrategyConditional = "conditional"
	// StrategyLocked always serializes read-modify-write per user through a keyed lock.
	StrategyLocked = "locked"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	TokenSecret        []byte
	SessionTTL         time.Duration
	JWTIssuer          string
	JWTAudience        string
	JWTLeeway          time.Duration
	PasswordHashCost   int
	SavedBooksStrategy string

	// Optional overrides, mostly for tests.
	Store  store.UserStore
	Tokens *usertoken.Service
	Locker keylock.Locker
	Now    func() time.Time
}

// App is the core application service wiring together storage, tokens and saved-book logic.
type App struct {
	store    store.UserStore
	tokens   *usertoken.Service
	books    *savedbooks.Manager
	hashCost int
	now      func() time.Time
	closers  []func() error
	pingers  []func(context.Context) error
}

// AuthPayload is returned by addUser and login.
type AuthPayload struct {
	Token string         `json:"token"`
	User  domain.Profile `json:"user"`
}

// New constructs the application. Without a database URL it runs on an in-memory store.
func New(cfg Config) (*App, error) {
	if cfg.PasswordHashCost == 0 {
		cfg.PasswordHashCost = auth.DefaultCost
	}
	if err := auth.ValidateCost(cfg.PasswordHashCost); err != nil {
		return nil, err
	}
	a := &App{hashCost: cfg.PasswordHashCost, now: cfg.Now}
	if a.now == nil {
		a.now = time.Now
	}

	tokens := cfg.Tokens
	if tokens == nil {
		var err error
		tokens, err = usertoken.NewService(usertoken.Config{
			Secret:   cfg.TokenSecret,
			TTL:      cfg.SessionTTL,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Leeway:   cfg.JWTLeeway,
		})
		if err != nil {
			return nil, fmt.Errorf("init token service: %w", err)
		}
	}
	a.tokens = tokens

	dataStore := cfg.Store
	if dataStore == nil {
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			dataStore = store.NewMemoryStore()
		} else {
			gs, err := store.NewGormStore(cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("init postgres store: %w", err)
			}
			a.closers = append(a.closers, gs.Close)
			a.pingers = append(a.pingers, gs.Ping)
			dataStore = gs
		}
	}
	a.store = dataStore

	locker := cfg.Locker
	if locker == nil && strings.TrimSpace(cfg.RedisAddr) != "" {
		rl, err := keylock.NewRedisLocker(keylock.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init redis locker: %w", err)
		}
		a.closers = append(a.closers, rl.Close)
		a.pingers = append(a.pingers, rl.Ping)
		locker = rl
	}

	booksStore := dataStore
	switch strings.TrimSpace(cfg.SavedBooksStrategy) {
	case "", StrategyConditional:
	case StrategyLocked:
		booksStore = store.WithoutConditionalWrites(dataStore)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown saved books strategy %q", cfg.SavedBooksStrategy)
	}
	a.books = savedbooks.NewManager(booksStore, locker)
	return a, nil
}

// Close releases the store and lock backends opened by New.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Ping checks the backends opened by New.
func (a *App) Ping(ctx context.Context) error {
	for _, ping := range a.pingers {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Tokens exposes the token verifier used to build auth contexts.
func (a *App) Tokens() *usertoken.Service {
	return a.tokens
}

// Me returns the caller's profile.
func (a *App) Me(ctx context.Context, ac authctx.Context) (domain.Profile, error) {
	userID, ok := ac.UserID()
	if !ok {
		return domain.Profile{}, ErrUnauthenticated
	}
	u, err := a.store.FindByID(ctx, userID)
	if err != nil {
		return domain.Profile{}, storeError("find user", err)
	}
	return u.Profile(), nil
}

// AddUser registers a user and signs them in.
func (a *App) AddUser(ctx context.Context, username, email, password string) (AuthPayload, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	switch {
	case username == "":
		return AuthPayload{}, ErrUsernameRequired
	case email == "":
		return AuthPayload{}, ErrEmailRequired
	case password == "":
		return AuthPayload{}, ErrPasswordRequired
	case len(password) > auth.MaxPasswordBytes:
		return AuthPayload{}, ErrPasswordTooLong
	}
	hash, err := auth.HashPassword(password, a.hashCost)
	if err != nil {
		return AuthPayload{}, fmt.Errorf("%w: hash password: %w", ErrInternal, err)
	}
	now := a.now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		SavedBooks:   []domain.SavedBook{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return AuthPayload{}, ErrUserAlreadyExists
		}
		return AuthPayload{}, storeError("create user", err)
	}
	return a.issue(user)
}

// Login verifies email and password. Unknown emails and wrong passwords fail identically.
func (a *App) Login(ctx context.Context, email, password string) (AuthPayload, error) {
	email = normalizeEmail(email)
	if email == "" {
		return AuthPayload{}, ErrEmailRequired
	}
	if password == "" {
		return AuthPayload{}, ErrPasswordRequired
	}
	user, err := a.store.FindByUsernameOrEmail(ctx, "", email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			auth.CheckDummyPassword(password)
			return AuthPayload{}, ErrInvalidCredentials
		}
		return AuthPayload{}, storeError("find user", err)
	}
	// the lookup also matches usernames; only an exact email match may sign in
	if user.Email != email || !auth.CheckPassword(password, user.PasswordHash) {
		return AuthPayload{}, ErrInvalidCredentials
	}
	return a.issue(user)
}

// SaveBookInput carries the saveBook arguments.
type SaveBookInput struct {
	BookID      string   `json:"bookId"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Description string   `json:"description"`
	Image       string   `json:"image"`
	Link        string   `json:"link"`
}

// SaveBook adds a book to the caller's shelf. Saving an already saved bookId is a no-op.
func (a *App) SaveBook(ctx context.Context, ac authctx.Context, in SaveBookInput) (domain.Profile, error) {
	userID, ok := ac.UserID()
	if !ok {
		return domain.Profile{}, ErrUnauthenticated
	}
	book := domain.SavedBook{
		BookID:      strings.TrimSpace(in.BookID),
		Title:       strings.TrimSpace(in.Title),
		Authors:     in.Authors,
		Description: in.Description,
		Image:       in.Image,
		Link:        in.Link,
	}
	if book.BookID == "" {
		return domain.Profile{}, ErrBookIDRequired
	}
	if book.Title == "" {
		return domain.Profile{}, ErrBookTitleRequired
	}
	u, err := a.books.Add(ctx, userID, book)
	if err != nil {
		return domain.Profile{}, storeError("save book", err)
	}
	return u.Profile(), nil
}

// RemoveBook drops a book from the caller's shelf. Absent ids return the unchanged profile.
func (a *App) RemoveBook(ctx context.Context, ac authctx.Context, bookID string) (domain.Profile, error) {
	userID, ok := ac.UserID()
	if !ok {
		return domain.Profile{}, ErrUnauthenticated
	}
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return domain.Profile{}, ErrBookIDRequired
	}
	u, err := a.books.Remove(ctx, userID, bookID)
	if err != nil {
		return domain.Profile{}, storeError("remove book", err)
	}
	return u.Profile(), nil
}

func (a *App) issue(user domain.User) (AuthPayload, error) {
	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return AuthPayload{}, fmt.Errorf("%w: issue token: %w", ErrInternal, err)
	}
	return AuthPayload{Token: token, User: user.Profile()}, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
