package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"bookshelf/pkg/domain"
)

const migrateLockID int64 = 52617301

// removeSavedBookExpr rebuilds the array without the given bookId, keeping
// element order. Evaluated inside a single UPDATE so it cannot lose writes.
const removeSavedBookExpr = `COALESCE((
	SELECT jsonb_agg(e ORDER BY ord)
	FROM jsonb_array_elements(saved_books) WITH ORDINALITY AS t(e, ord)
	WHERE e->>'bookId' <> ?
), '[]'::jsonb)`

// GormStore implements UserStore and SavedBookMutator using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// FindByUsernameOrEmail looks up a user by username or email.
func (s *GormStore) FindByUsernameOrEmail(ctx context.Context, username, email string) (domain.User, error) {
	if username == "" && email == "" {
		return domain.User{}, ErrNotFound
	}
	tx := s.db.WithContext(ctx)
	switch {
	case username != "" && email != "":
		tx = tx.Where("username = ? OR email = ?", username, email)
	case username != "":
		tx = tx.Where("username = ?", username)
	default:
		tx = tx.Where("email = ?", email)
	}
	var model UserModel
	if err := tx.Order("created_at ASC").First(&model).Error; err != nil {
		return domain.User{}, translateError(err)
	}
	return userFromModel(model)
}

// FindByID returns a user by ID.
func (s *GormStore) FindByID(ctx context.Context, id string) (domain.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return domain.User{}, translateError(err)
	}
	return userFromModel(model)
}

// Create inserts a new user; unique violations map to ErrConflict.
func (s *GormStore) Create(ctx context.Context, u domain.User) error {
	model, err := userToModel(u)
	if err != nil {
		return err
	}
	return translateError(s.db.WithContext(ctx).Create(&model).Error)
}

// UpdateSavedBooks replaces the saved-book collection.
func (s *GormStore) UpdateSavedBooks(ctx context.Context, userID string, books []domain.SavedBook) (domain.User, error) {
	raw, err := json.Marshal(domain.CloneSavedBooks(books))
	if err != nil {
		return domain.User{}, fmt.Errorf("encode saved books: %w", err)
	}
	var model UserModel
	res := s.db.WithContext(ctx).Model(&model).
		Clauses(clause.Returning{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"saved_books": datatypes.JSON(raw),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.User{}, translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.User{}, ErrNotFound
	}
	return userFromModel(model)
}

// AddSavedBook appends book in one conditional UPDATE guarded by key absence.
func (s *GormStore) AddSavedBook(ctx context.Context, userID string, book domain.SavedBook) (domain.User, error) {
	needle, err := json.Marshal([]map[string]string{{"bookId": book.BookID}})
	if err != nil {
		return domain.User{}, fmt.Errorf("encode containment filter: %w", err)
	}
	entry, err := json.Marshal([]domain.SavedBook{book.Normalize()})
	if err != nil {
		return domain.User{}, fmt.Errorf("encode saved book: %w", err)
	}
	return s.conditionalUpdate(ctx, userID,
		"NOT (saved_books @> ?::jsonb)", string(needle),
		gorm.Expr("saved_books || ?::jsonb", string(entry)),
	)
}

// RemoveSavedBook drops bookID in one conditional UPDATE guarded by key presence.
func (s *GormStore) RemoveSavedBook(ctx context.Context, userID, bookID string) (domain.User, error) {
	needle, err := json.Marshal([]map[string]string{{"bookId": bookID}})
	if err != nil {
		return domain.User{}, fmt.Errorf("encode containment filter: %w", err)
	}
	return s.conditionalUpdate(ctx, userID,
		"saved_books @> ?::jsonb", string(needle),
		gorm.Expr(removeSavedBookExpr, bookID),
	)
}

// conditionalUpdate applies set when cond holds; otherwise the current row is
// returned unchanged (or ErrNotFound if the user is missing).
func (s *GormStore) conditionalUpdate(ctx context.Context, userID, cond string, condArg any, set clause.Expr) (domain.User, error) {
	var model UserModel
	res := s.db.WithContext(ctx).Model(&model).
		Clauses(clause.Returning{}).
		Where("id = ?", userID).
		Where(cond, condArg).
		Updates(map[string]any{
			"saved_books": set,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.User{}, translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return s.FindByID(ctx, userID)
	}
	return userFromModel(model)
}

func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return err
	}
}

func userToModel(u domain.User) (UserModel, error) {
	raw, err := json.Marshal(domain.CloneSavedBooks(u.SavedBooks))
	if err != nil {
		return UserModel{}, fmt.Errorf("encode saved books: %w", err)
	}
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		SavedBooks:   datatypes.JSON(raw),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}, nil
}

func userFromModel(m UserModel) (domain.User, error) {
	var books []domain.SavedBook
	if len(m.SavedBooks) > 0 {
		if err := json.Unmarshal(m.SavedBooks, &books); err != nil {
			return domain.User{}, fmt.Errorf("decode saved books for user %s: %w", m.ID, err)
		}
	}
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		SavedBooks:   domain.CloneSavedBooks(books),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}, nil
}
