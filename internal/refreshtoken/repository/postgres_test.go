package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-register/backend/internal/refreshtoken/domain"
)

var tokenCols = []string{"id", "user_id", "token_hash", "issued_at", "expires_at", "revoked", "revoked_at", "revoke_reason",
	"replaced_by", "device_id", "device_name", "device_type", "browser", "os", "ip_address", "user_agent"}

func tokenRow(id, hash string, revoked bool, expires time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(tokenCols).AddRow(id, "u1", hash, expires.Add(-time.Hour), expires, revoked, (*time.Time)(nil), "",
		(*string)(nil), "D1", "laptop", "desktop", "Chrome 120", "Linux", "10.0.0.1", "ua")
}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func TestPostgresRepository_RotateSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM refresh_tokens WHERE token_hash = \\$1 FOR UPDATE").
		WithArgs("h-old").
		WillReturnRows(tokenRow("t1", "h-old", false, now.Add(time.Hour)))
	mock.ExpectExec("INSERT INTO refresh_tokens").WithArgs(anyArgs(16)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE refresh_tokens").
		WithArgs("t1", now, domain.ReasonRotated, "t2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	old, created, err := repo.Rotate(context.Background(), "h-old", now, func(o *domain.RefreshToken) (*domain.RefreshToken, error) {
		return &domain.RefreshToken{ID: "t2", UserID: o.UserID, TokenHash: "h-new", IssuedAt: now, ExpiresAt: now.Add(time.Hour), Device: o.Device}, nil
	})
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	require.NotNil(t, old.ReplacedBy)
	assert.Equal(t, "t2", *old.ReplacedBy)
	assert.Equal(t, "D1", created.Device.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_RotateRevoked(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FOR UPDATE").WithArgs("h-old").
		WillReturnRows(tokenRow("t1", "h-old", true, now.Add(time.Hour)))
	mock.ExpectRollback()

	old, created, err := repo.Rotate(context.Background(), "h-old", now, func(*domain.RefreshToken) (*domain.RefreshToken, error) {
		t.Fatal("next must not be called for a revoked token")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrNotUsable)
	assert.Nil(t, created)
	require.NotNil(t, old)
	assert.Equal(t, "u1", old.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_RotateNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FOR UPDATE").WithArgs("nope").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, _, err = repo.Rotate(context.Background(), "nope", time.Now(), nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPostgresRepository_RevokeAllForUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE").
		WithArgs("u1", now, domain.ReasonReuseDetected).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := repo.RevokeAllForUser(context.Background(), "u1", domain.ReasonReuseDetected, now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestPostgresRepository_PurgeBefore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)
	cutoff := time.Now().Add(-720 * time.Hour)

	mock.ExpectExec("DELETE FROM refresh_tokens").WithArgs(cutoff, 100).WillReturnResult(pgxmock.NewResult("DELETE", 42))

	n, err := repo.PurgeBefore(context.Background(), cutoff, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 42, n)
}
