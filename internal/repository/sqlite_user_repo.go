package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"user_directory/internal/model"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	phone TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('CLIENT', 'WORKER', 'ADMIN')),
	token TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_token ON users(token);
`

// SQLiteUserRepository persists users in a SQLite file.
type SQLiteUserRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a SQLite user store at path and applies the schema.
func OpenSQLite(path string) (*SQLiteUserRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serialises writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteUserRepository{db: db}, nil
}

// Close closes the SQLite handle.
func (r *SQLiteUserRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var (
		role                 string
		token                sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Phone, &user.PasswordHash,
		&role, &token, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	if token.Valid {
		user.Token = &token.String
	}
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return user, nil
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "users.email")
}

func (r *SQLiteUserRepository) CountByEmail(ctx context.Context, email string) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, email).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users by email: %w", err)
	}
	return count, nil
}

func (r *SQLiteUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanSQLiteUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

func (r *SQLiteUserRepository) FindByToken(ctx context.Context, token string) (*model.User, error) {
	user, err := scanSQLiteUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE token = ?`, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user by token: %w", err)
	}
	return user, nil
}

// Create inserts user; the UNIQUE email column rejects duplicates.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	var token sql.NullString
	if user.Token != nil {
		token = sql.NullString{String: *user.Token, Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, name, phone, password_hash, role, token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Email, user.Name, user.Phone, user.PasswordHash, string(user.Role), token, toMillis(now), toMillis(now))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}
	user.ID = int(id)
	user.CreatedAt = fromMillis(toMillis(now))
	user.UpdatedAt = user.CreatedAt
	return nil
}

func (r *SQLiteUserRepository) Update(ctx context.Context, email string, patch model.UserPatch) (*model.User, error) {
	if patch.IsEmpty() {
		user, err := r.FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
		return user, nil
	}

	var sets []string
	var args []any
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.PasswordHash != nil {
		add("password_hash", *patch.PasswordHash)
	}
	if patch.Role != nil {
		add("role", string(*patch.Role))
	}
	if patch.Token != nil {
		add("token", *patch.Token)
	}
	add("updated_at", toMillis(time.Now()))
	args = append(args, email)

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE email = ? RETURNING ` + userColumns
	user, err := scanSQLiteUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

func (r *SQLiteUserRepository) Delete(ctx context.Context, email string) (*model.User, error) {
	user, err := scanSQLiteUser(r.db.QueryRowContext(ctx, `DELETE FROM users WHERE email = ? RETURNING `+userColumns, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to delete user: %w", err)
	}
	return user, nil
}

func (r *SQLiteUserRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

var _ UserRepository = (*SQLiteUserRepository)(nil)
