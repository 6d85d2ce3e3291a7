package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"asset-register/backend/internal/audit/domain"
	"asset-register/backend/internal/db"
)

const recordColumns = `id, actor_type, actor_id, action, entity_type, entity_id, before_state, after_state,
	category, client_ip, user_agent, created_at, signature`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an audit repository backed by conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

func (r *PostgresRepository) Create(ctx context.Context, rec *domain.Record) error {
	_, err := r.db.Exec(ctx, `INSERT INTO audit_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, string(rec.ActorType), rec.ActorID, rec.Action, rec.EntityType, rec.EntityID,
		jsonArg(rec.Before), jsonArg(rec.After), string(rec.Category), rec.ClientIP, rec.UserAgent,
		rec.CreatedAt, rec.Signature)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetSignature(ctx context.Context, id, signature string) error {
	tag, err := r.db.Exec(ctx, `UPDATE audit_records SET signature = $2 WHERE id = $1 AND signature = ''`, id, signature)
	if err != nil {
		return fmt.Errorf("store audit signature: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store audit signature: record %s missing or already signed", id)
	}
	return nil
}

// GetByID returns the record for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Record, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM audit_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (r *PostgresRepository) List(ctx context.Context, f domain.Filter) ([]*domain.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at < $%d", f.Until)
	}
	query := `SELECT ` + recordColumns + ` FROM audit_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, clampLimit(f.Limit), max(f.Offset, 0))
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()
	var out []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func scanRecord(row pgx.Row) (*domain.Record, error) {
	var (
		rec            domain.Record
		actorType, cat string
		before, after  []byte
	)
	err := row.Scan(&rec.ID, &actorType, &rec.ActorID, &rec.Action, &rec.EntityType, &rec.EntityID,
		&before, &after, &cat, &rec.ClientIP, &rec.UserAgent, &rec.CreatedAt, &rec.Signature)
	if err != nil {
		return nil, err
	}
	rec.ActorType = domain.ActorType(actorType)
	rec.Category = domain.Category(cat)
	rec.Before, rec.After = before, after
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
