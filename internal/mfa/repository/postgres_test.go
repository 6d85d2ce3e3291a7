package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-register/backend/internal/mfa/domain"
)

var deviceCols = []string{"id", "user_id", "label", "secret_encrypted", "active", "last_used_step", "last_used_at", "created_at"}

func TestPostgresRepository_CreateDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)
	d := &domain.Device{ID: "D1", UserID: "u1", SecretEncrypted: "sealed", Active: true, CreatedAt: time.Now()}

	mock.ExpectExec("INSERT INTO otp_devices").
		WithArgs("D1", "u1", "", "sealed", true, int64(0), (*time.Time)(nil), d.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO otp_devices").
		WithArgs("D1", "u1", "", "sealed", true, int64(0), (*time.Time)(nil), d.CreatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "otp_devices_pkey"})

	require.NoError(t, repo.Create(context.Background(), d))
	assert.ErrorIs(t, repo.Create(context.Background(), d), ErrDeviceExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_LatestActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)
	created := time.Now()

	mock.ExpectQuery("SELECT .+ FROM otp_devices\\s+WHERE user_id = \\$1 AND active").WithArgs("u1").
		WillReturnRows(pgxmock.NewRows(deviceCols).AddRow("D1", "u1", "phone", "sealed", true, int64(42), (*time.Time)(nil), created))
	mock.ExpectQuery("SELECT .+ FROM otp_devices\\s+WHERE user_id = \\$1 AND active").WithArgs("u2").
		WillReturnRows(pgxmock.NewRows(deviceCols))

	d, err := repo.LatestActive(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.EqualValues(t, 42, d.LastUsedStep)

	d, err = repo.LatestActive(context.Background(), "u2")
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_MarkUsedIsCompareAndSet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)
	at := time.Now()

	mock.ExpectExec("UPDATE otp_devices SET last_used_step").WithArgs("u1", "D1", int64(100), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE otp_devices SET last_used_step").WithArgs("u1", "D1", int64(100), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.MarkUsed(context.Background(), "u1", "D1", 100, at)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.MarkUsed(context.Background(), "u1", "D1", 100, at)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
