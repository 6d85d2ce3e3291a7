package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"asset-register/backend/internal/apperr"
	"asset-register/backend/internal/db"
	devicedomain "asset-register/backend/internal/device/domain"
	rtdomain "asset-register/backend/internal/refreshtoken/domain"
	rtrepo "asset-register/backend/internal/refreshtoken/repository"
	"asset-register/backend/internal/session/domain"
)

const sessionColumns = `id, user_id, refresh_token_id, device_id, device_name, device_type, browser, os,
	ip_address, user_agent, access_token_hash, status, last_activity, expires_at, invalidated_at, created_at`

const activeIndex = "sessions_one_active_per_user"

type PostgresRepository struct {
	db db.TxBeginner
}

// NewPostgresRepository returns a session repository backed by pool.
func NewPostgresRepository(pool db.TxBeginner) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// Acquire serializes logins per user on the user row, retires any active
// session that has run past its expiry, then creates or reuses. A concurrent
// insert that slips past the lock still fails on the partial unique index and
// surfaces as a conflict.
func (r *PostgresRepository) Acquire(ctx context.Context, userID string, dev devicedomain.Info, now time.Time, mint MintFunc) (*domain.Session, bool, error) {
	var (
		out    *domain.Session
		reused bool
	)
	err := db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		var one int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&one); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUnknownUser
			}
			return fmt.Errorf("lock user: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE sessions SET status = 'expired', is_active = FALSE
			WHERE user_id = $1 AND is_active AND expires_at <= $2`, userID, now); err != nil {
			return fmt.Errorf("expire stale session: %w", err)
		}
		active, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
			WHERE user_id = $1 AND is_active FOR UPDATE`, userID))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("load active session: %w", err)
		}

		switch domain.Decide(active, dev, now) {
		case domain.DecisionConflict:
			return apperr.ErrSessionConflict
		case domain.DecisionReuse:
			grant, err := mint(active.ID)
			if err != nil {
				return err
			}
			if err := rtrepo.InsertTx(ctx, tx, grant.RefreshToken); err != nil {
				return err
			}
			if active.RefreshTokenID != "" {
				if err := rtrepo.RevokeTx(ctx, tx, active.RefreshTokenID, rtdomain.ReasonRotated, &grant.RefreshToken.ID, now); err != nil {
					return err
				}
			}
			if _, err := tx.Exec(ctx, `UPDATE sessions SET refresh_token_id = $2, access_token_hash = $3,
				expires_at = $4, last_activity = $5, ip_address = $6, user_agent = $7
				WHERE id = $1`, active.ID, grant.RefreshToken.ID, grant.AccessTokenHash, grant.ExpiresAt, now,
				dev.IP, dev.UserAgent); err != nil {
				return fmt.Errorf("reuse session: %w", err)
			}
			applyGrant(active, grant, now)
			active.Device.IP, active.Device.UserAgent = dev.IP, dev.UserAgent
			out, reused = active, true
			return nil
		default:
			s := &domain.Session{
				ID:           uuid.NewString(),
				UserID:       userID,
				Device:       dev,
				Status:       domain.StatusActive,
				LastActivity: now,
				CreatedAt:    now,
			}
			grant, err := mint(s.ID)
			if err != nil {
				return err
			}
			if err := rtrepo.InsertTx(ctx, tx, grant.RefreshToken); err != nil {
				return err
			}
			applyGrant(s, grant, now)
			if err := insertSession(ctx, tx, s); err != nil {
				return err
			}
			out = s
			return nil
		}
	})
	if err != nil {
		if db.IsUniqueViolation(err, activeIndex) {
			return nil, false, apperr.ErrSessionConflict
		}
		return nil, false, err
	}
	return out, reused, nil
}

func applyGrant(s *domain.Session, g *Grant, now time.Time) {
	s.RefreshTokenID = g.RefreshToken.ID
	s.AccessTokenHash = g.AccessTokenHash
	s.ExpiresAt = g.ExpiresAt
	s.LastActivity = now
}

func insertSession(ctx context.Context, q db.DBTX, s *domain.Session) error {
	_, err := q.Exec(ctx, `INSERT INTO sessions (`+sessionColumns+`, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		s.ID, s.UserID, nullable(s.RefreshTokenID), s.Device.ID, s.Device.Name, string(s.Device.Type), s.Device.Browser,
		s.Device.OS, s.Device.IP, s.Device.UserAgent, s.AccessTokenHash, string(s.Status), s.LastActivity, s.ExpiresAt,
		s.InvalidatedAt, s.CreatedAt, s.IsActive())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := r.db.Query(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND is_active ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Renew locks the session row before the token row, the same order Acquire
// takes them in.
func (r *PostgresRepository) Renew(ctx context.Context, id, tokenHash string, now time.Time, mint RenewFunc) (*domain.Session, *rtdomain.RefreshToken, error) {
	var (
		out *domain.Session
		old *rtdomain.RefreshToken
	)
	err := db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		s, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
			WHERE id = $1 AND is_active FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotBound
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if s.ExpiredAt(now) {
			return ErrNotBound
		}
		var grant *Grant
		old, _, err = rtrepo.RotateTx(ctx, tx, tokenHash, now, func(o *rtdomain.RefreshToken) (*rtdomain.RefreshToken, error) {
			if o.ID != s.RefreshTokenID || o.UserID != s.UserID {
				return nil, ErrNotBound
			}
			g, err := mint(s, o)
			if err != nil {
				return nil, err
			}
			grant = g
			return g.RefreshToken, nil
		})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE sessions SET refresh_token_id = $2, access_token_hash = $3,
			expires_at = $4, last_activity = $5
			WHERE id = $1`, s.ID, grant.RefreshToken.ID, grant.AccessTokenHash, grant.ExpiresAt, now); err != nil {
			return fmt.Errorf("rebind session: %w", err)
		}
		applyGrant(s, grant, now)
		out = s
		return nil
	})
	if err != nil {
		return nil, old, err
	}
	return out, old, nil
}

func (r *PostgresRepository) Touch(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE sessions SET last_activity = $2 WHERE id = $1 AND is_active`, id, now)
	return err
}

func (r *PostgresRepository) Extend(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET expires_at = $2 WHERE id = $1 AND is_active`, id, expiresAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) MarkExpired(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET status = 'expired', is_active = FALSE
		WHERE id = $1 AND is_active`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) Invalidate(ctx context.Context, id string, now time.Time) (string, bool, error) {
	var rtID *string
	err := r.db.QueryRow(ctx, `UPDATE sessions SET status = 'invalidated', is_active = FALSE, invalidated_at = $2
		WHERE id = $1 AND is_active RETURNING refresh_token_id`, id, now).Scan(&rtID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return deref(rtID), true, nil
}

func (r *PostgresRepository) InvalidateForUser(ctx context.Context, userID, exceptID string, now time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `UPDATE sessions SET status = 'invalidated', is_active = FALSE, invalidated_at = $3
		WHERE user_id = $1 AND is_active AND id::text <> $2 RETURNING refresh_token_id`, userID, exceptID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var rtID *string
		if err := rows.Scan(&rtID); err != nil {
			return nil, err
		}
		if id := deref(rtID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) ExpireBatch(ctx context.Context, now time.Time, limit int) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET status = 'expired', is_active = FALSE WHERE id IN (
			SELECT id FROM sessions WHERE is_active AND expires_at <= $1
			ORDER BY expires_at LIMIT $2 FOR UPDATE SKIP LOCKED)`, now, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id IN (
			SELECT id FROM sessions
			WHERE NOT is_active AND COALESCE(invalidated_at, expires_at) < $1
			LIMIT $2)`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		s          domain.Session
		rtID       *string
		deviceType string
		status     string
	)
	err := row.Scan(&s.ID, &s.UserID, &rtID, &s.Device.ID, &s.Device.Name, &deviceType, &s.Device.Browser,
		&s.Device.OS, &s.Device.IP, &s.Device.UserAgent, &s.AccessTokenHash, &status, &s.LastActivity,
		&s.ExpiresAt, &s.InvalidatedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.RefreshTokenID = deref(rtID)
	s.Device.Type = devicedomain.Type(deviceType)
	s.Status = domain.Status(status)
	return &s, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
