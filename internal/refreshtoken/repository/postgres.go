package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"asset-register/backend/internal/db"
	devicedomain "asset-register/backend/internal/device/domain"
	"asset-register/backend/internal/refreshtoken/domain"
)

const tokenColumns = `id, user_id, token_hash, issued_at, expires_at, revoked, revoked_at, revoke_reason, replaced_by,
	device_id, device_name, device_type, browser, os, ip_address, user_agent`

type PostgresRepository struct {
	db db.TxBeginner
}

// NewPostgresRepository returns a refresh token repository backed by pool.
func NewPostgresRepository(pool db.TxBeginner) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	return InsertTx(ctx, r.db, t)
}

// InsertTx inserts t through q so callers can write it inside their own transaction.
func InsertTx(ctx context.Context, q db.DBTX, t *domain.RefreshToken) error {
	_, err := q.Exec(ctx, `INSERT INTO refresh_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		t.ID, t.UserID, t.TokenHash, t.IssuedAt, t.ExpiresAt, t.Revoked, t.RevokedAt, t.RevokeReason, t.ReplacedBy,
		t.Device.ID, t.Device.Name, string(t.Device.Type), t.Device.Browser, t.Device.OS, t.Device.IP, t.Device.UserAgent)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// GetByHash returns the token for hash, or nil if not found.
func (r *PostgresRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	return r.getOne(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, hash)
}

// GetByID returns the token for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.RefreshToken, error) {
	return r.getOne(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE id = $1`, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*domain.RefreshToken, error) {
	t, err := scanToken(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *PostgresRepository) Rotate(ctx context.Context, oldHash string, now time.Time, next BuildNext) (old, created *domain.RefreshToken, err error) {
	err = db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		old, created, err = RotateTx(ctx, tx, oldHash, now, next)
		return err
	})
	if err != nil {
		return old, nil, err
	}
	return old, created, nil
}

// RotateTx is Rotate on q, for callers that fold the rotation into a larger
// transaction. q must be a transaction so the row lock holds until commit.
func RotateTx(ctx context.Context, q db.DBTX, oldHash string, now time.Time, next BuildNext) (old, created *domain.RefreshToken, err error) {
	old, err = scanToken(q.QueryRow(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`, oldHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if !old.Usable(now) {
		return old, nil, ErrNotUsable
	}
	created, err = next(old)
	if err != nil {
		return old, nil, err
	}
	if err := InsertTx(ctx, q, created); err != nil {
		return old, nil, err
	}
	if _, err := q.Exec(ctx, `UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2, revoke_reason = $3, replaced_by = $4
		WHERE id = $1`, old.ID, now, domain.ReasonRotated, created.ID); err != nil {
		return old, nil, fmt.Errorf("revoke rotated token: %w", err)
	}
	revokedAt := now
	old.Revoked, old.RevokedAt, old.RevokeReason, old.ReplacedBy = true, &revokedAt, domain.ReasonRotated, &created.ID
	return old, created, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, hash, reason string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, revoke_reason = $3
		WHERE token_hash = $1 AND NOT revoked`, hash, now, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) RevokeByID(ctx context.Context, id, reason string, now time.Time) error {
	return RevokeTx(ctx, r.db, id, reason, nil, now)
}

// RevokeTx revokes token id through q, recording replacedBy when set.
func RevokeTx(ctx context.Context, q db.DBTX, id, reason string, replacedBy *string, now time.Time) error {
	_, err := q.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, revoke_reason = $3,
		replaced_by = COALESCE($4, replaced_by)
		WHERE id = $1 AND NOT revoked`, id, now, reason, replacedBy)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, revoke_reason = $3
		WHERE user_id = $1 AND NOT revoked`, userID, now, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) CountActive(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM refresh_tokens
		WHERE user_id = $1 AND NOT revoked AND expires_at > $2`, userID, now).Scan(&n)
	return n, err
}

func (r *PostgresRepository) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE id IN (
			SELECT id FROM refresh_tokens
			WHERE expires_at < $1 OR (revoked AND revoked_at < $1)
			LIMIT $2)`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (*domain.RefreshToken, error) {
	var (
		t          domain.RefreshToken
		deviceType string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt, &t.Revoked, &t.RevokedAt, &t.RevokeReason,
		&t.ReplacedBy, &t.Device.ID, &t.Device.Name, &deviceType, &t.Device.Browser, &t.Device.OS, &t.Device.IP,
		&t.Device.UserAgent)
	if err != nil {
		return nil, err
	}
	t.Device.Type = devicedomain.Type(deviceType)
	return &t, nil
}
