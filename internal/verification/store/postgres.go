package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"aidtrace/internal/verification/models"
	"aidtrace/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

const selectColumns = `id, entity_type, entity_id, hash_value, anchor_reference, anchor_mode, is_confirmed, created_at, confirmed_at, seq`

// Postgres persists verification records in PostgreSQL through database/sql.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Append(ctx context.Context, rec *models.VerificationRecord) error {
	if rec == nil {
		return nil
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_records
			(id, entity_type, entity_id, hash_value, anchor_reference, anchor_mode, is_confirmed, created_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID,
		string(rec.EntityType),
		rec.EntityID,
		rec.HashValue,
		nullString(rec.AnchorReference),
		string(rec.AnchorMode),
		rec.IsConfirmed,
		rec.CreatedAt,
		rec.ConfirmedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("append verification record %s: %w", rec.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("append verification record: %w", err)
	}
	return nil
}

func (s *Postgres) MarkConfirmed(ctx context.Context, hash string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE verification_records
		SET is_confirmed = TRUE, confirmed_at = $2
		WHERE hash_value = $1 AND NOT is_confirmed`,
		hash, at,
	)
	if err != nil {
		return 0, fmt.Errorf("mark verification confirmed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark verification confirmed: %w", err)
	}
	return n, nil
}

func (s *Postgres) FindByHash(ctx context.Context, hash string) ([]*models.VerificationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM verification_records WHERE hash_value = $1 ORDER BY seq DESC`,
		hash,
	)
	if err != nil {
		return nil, fmt.Errorf("find verification by hash: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("find verification by hash: %w", err)
	}
	if len(records) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return records, nil
}

func (s *Postgres) List(ctx context.Context, filter models.ListFilter) ([]*models.VerificationRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.EntityType != nil {
		args = append(args, string(*filter.EntityType))
		where = append(where, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if filter.EntityID != nil {
		args = append(args, *filter.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if filter.Confirmed != nil {
		args = append(args, *filter.Confirmed)
		where = append(where, fmt.Sprintf("is_confirmed = $%d", len(args)))
	}

	var q strings.Builder
	q.WriteString(`SELECT ` + selectColumns + ` FROM verification_records`)
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY seq DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&q, " LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	return records, nil
}

// ListPending returns up to limit unconfirmed records that carry a reference
// and were appended after afterSeq, oldest first. A limit <= 0 means no limit.
func (s *Postgres) ListPending(ctx context.Context, afterSeq int64, limit int) ([]*models.VerificationRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM verification_records
		WHERE NOT is_confirmed AND anchor_reference IS NOT NULL AND seq > $1
		ORDER BY seq ASC`
	args := []any{afterSeq}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending verifications: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("list pending verifications: %w", err)
	}
	return records, nil
}

func (s *Postgres) Stats(ctx context.Context) (models.Stats, error) {
	var total, confirmed int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_confirmed)
		FROM verification_records`,
	).Scan(&total, &confirmed)
	if err != nil {
		return models.Stats{}, fmt.Errorf("verification stats: %w", err)
	}
	return models.NewStats(total, confirmed), nil
}

func scanRecords(rows *sql.Rows) ([]*models.VerificationRecord, error) {
	defer rows.Close()
	var out []*models.VerificationRecord
	for rows.Next() {
		var (
			rec         models.VerificationRecord
			entityType  string
			reference   sql.NullString
			mode        string
			confirmedAt sql.NullTime
		)
		if err := rows.Scan(
			&rec.ID,
			&entityType,
			&rec.EntityID,
			&rec.HashValue,
			&reference,
			&mode,
			&rec.IsConfirmed,
			&rec.CreatedAt,
			&confirmedAt,
			&rec.Seq,
		); err != nil {
			return nil, err
		}
		rec.EntityType = models.EntityType(entityType)
		rec.AnchorReference = reference.String
		rec.AnchorMode = models.AnchorMode(mode)
		if confirmedAt.Valid {
			at := confirmedAt.Time
			rec.ConfirmedAt = &at
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
