package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"asset-register/backend/internal/db"
	"asset-register/backend/internal/user/domain"
)

const userColumns = `id, username, password_hash, phone, status, failed_attempts, locked_until,
	mfa_enabled, session_timeout, created_at, updated_at`

// ErrDuplicateUsername is returned by Create when the username is taken.
var ErrDuplicateUsername = errors.New("username already exists")

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a user repository backed by conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByUsername returns the user with the given username, or nil if not found.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// Create persists u. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Username, u.PasswordHash, u.Phone, string(u.Status), u.FailedAttempts, u.LockedUntil,
		u.MFAEnabled, int(u.SessionTimeout/time.Second), u.CreatedAt, u.UpdatedAt)
	if db.IsUniqueViolation(err, "users_username_key") {
		return ErrDuplicateUsername
	}
	return err
}

func (r *PostgresRepository) IncrementFailedAttempts(ctx context.Context, id string, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `UPDATE users SET
			failed_attempts = CASE WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN 1 ELSE failed_attempts + 1 END,
			locked_until = CASE WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN NULL ELSE locked_until END,
			updated_at = $2
		WHERE id = $1
		RETURNING failed_attempts`, id, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment failed attempts: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Lock(ctx context.Context, id string, until time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET locked_until = $2 WHERE id = $1`, id, until)
	return err
}

func (r *PostgresRepository) ResetFailedAttempts(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET failed_attempts = 0, locked_until = NULL, updated_at = $2 WHERE id = $1`, id, now)
	return err
}

func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, now)
	return err
}

func (r *PostgresRepository) SetMFAEnabled(ctx context.Context, id string, enabled bool, now time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET mfa_enabled = $2, updated_at = $3 WHERE id = $1`, id, enabled, now)
	return err
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u       domain.User
		status  string
		timeout int
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Phone, &status, &u.FailedAttempts, &u.LockedUntil,
		&u.MFAEnabled, &timeout, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Status = domain.UserStatus(status)
	u.SessionTimeout = time.Duration(timeout) * time.Second
	return &u, nil
}
