package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"user_directory/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrEmailTaken   = errors.New("email is already registered")
	ErrUserNotFound = errors.New("user not found")
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const userColumns = `id, email, name, phone, password_hash, role, token, created_at, updated_at`

// UserRepository defines operations for user data
type UserRepository interface {
	CountByEmail(ctx context.Context, email string) (int, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByToken(ctx context.Context, token string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	Update(ctx context.Context, email string, patch model.UserPatch) (*model.User, error)
	Delete(ctx context.Context, email string) (*model.User, error)
	Ping(ctx context.Context) error
}

// DBTX is the subset of *pgxpool.Pool the repository needs.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type userRepository struct {
	db DBTX
}

// NewUserRepository creates a new PostgreSQL backed UserRepository
func NewUserRepository(db DBTX) UserRepository {
	return &userRepository{db: db}
}

func scanUser(row pgx.Row) (*model.User, error) {
	user := &model.User{}
	var role string
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Phone, &user.PasswordHash,
		&role, &user.Token, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CountByEmail returns how many users hold email (0 or 1)
func (r *userRepository) CountByEmail(ctx context.Context, email string) (int, error) {
	var count int
	sql := `SELECT COUNT(*) FROM users WHERE email = $1`
	if err := r.db.QueryRow(ctx, sql, email).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users by email: %w", err)
	}
	return count, nil
}

// FindByEmail retrieves a user by email. It returns nil, nil when there is none.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	sql := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	user, err := scanUser(r.db.QueryRow(ctx, sql, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByToken retrieves the user currently holding a session token
func (r *userRepository) FindByToken(ctx context.Context, token string) (*model.User, error) {
	sql := `SELECT ` + userColumns + ` FROM users WHERE token = $1`
	user, err := scanUser(r.db.QueryRow(ctx, sql, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user by token: %w", err)
	}
	return user, nil
}

// Create inserts a new user. The unique index on email rejects duplicates atomically.
func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	sql := `INSERT INTO users (email, name, phone, password_hash, role, token)
            VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, sql, user.Email, user.Name, user.Phone, user.PasswordHash, string(user.Role), user.Token).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Update overwrites the non-nil fields of patch on the user identified by email
func (r *userRepository) Update(ctx context.Context, email string, patch model.UserPatch) (*model.User, error) {
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
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
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
	sets = append(sets, "updated_at = NOW()")
	args = append(args, email)

	sql := fmt.Sprintf("UPDATE users SET %s WHERE email = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args), userColumns)
	user, err := scanUser(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// Delete removes the user identified by email and returns its last state
func (r *userRepository) Delete(ctx context.Context, email string) (*model.User, error) {
	sql := `DELETE FROM users WHERE email = $1 RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRow(ctx, sql, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to delete user: %w", err)
	}
	return user, nil
}

func (r *userRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
