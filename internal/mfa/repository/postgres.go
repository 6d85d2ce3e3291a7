package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"asset-register/backend/internal/db"
	"asset-register/backend/internal/mfa/domain"
)

const deviceColumns = `id, user_id, label, secret_encrypted, active, last_used_step, last_used_at, created_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an OTP device repository backed by conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create persists d. The device must have ID and UserID set.
func (r *PostgresRepository) Create(ctx context.Context, d *domain.Device) error {
	_, err := r.db.Exec(ctx, `INSERT INTO otp_devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.UserID, d.Label, d.SecretEncrypted, d.Active, d.LastUsedStep, d.LastUsedAt, d.CreatedAt)
	if db.IsUniqueViolation(err, "otp_devices_pkey") {
		return ErrDeviceExists
	}
	if err != nil {
		return fmt.Errorf("insert otp device: %w", err)
	}
	return nil
}

// Get returns the device, or nil if not found.
func (r *PostgresRepository) Get(ctx context.Context, userID, id string) (*domain.Device, error) {
	d, err := scanDevice(r.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM otp_devices
		WHERE user_id = $1 AND id = $2`, userID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (r *PostgresRepository) LatestActive(ctx context.Context, userID string) (*domain.Device, error) {
	d, err := scanDevice(r.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM otp_devices
		WHERE user_id = $1 AND active ORDER BY created_at DESC LIMIT 1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	rows, err := r.db.Query(ctx, `SELECT `+deviceColumns+` FROM otp_devices
		WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Deactivate(ctx context.Context, userID, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE otp_devices SET active = FALSE
		WHERE user_id = $1 AND id = $2 AND active`, userID, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkUsed is a compare-and-set on last_used_step so two concurrent requests
// carrying the same code cannot both succeed.
func (r *PostgresRepository) MarkUsed(ctx context.Context, userID, id string, step int64, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE otp_devices SET last_used_step = $3, last_used_at = $4
		WHERE user_id = $1 AND id = $2 AND active AND last_used_step < $3`, userID, id, step, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanDevice(row pgx.Row) (*domain.Device, error) {
	var d domain.Device
	if err := row.Scan(&d.ID, &d.UserID, &d.Label, &d.SecretEncrypted, &d.Active, &d.LastUsedStep,
		&d.LastUsedAt, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
