package billing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// Schema creates the usage_records table used by PostgresStore.
var Schema = []string{`
CREATE TABLE IF NOT EXISTS usage_records (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	provider     TEXT NOT NULL,
	request_type TEXT NOT NULL,
	cost         NUMERIC NOT NULL CHECK (cost >= 0),
	tokens_used  INTEGER NOT NULL CHECK (tokens_used >= 0),
	created_at   TIMESTAMPTZ NOT NULL,
	request_id   TEXT NOT NULL UNIQUE
)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_records_user_id ON usage_records (user_id)`,
}

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create usage_records schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, rec UsageRecord) error {
	query := `
		INSERT INTO usage_records (id, user_id, provider, request_type, cost, tokens_used, created_at, request_id)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8)
	`
	_, err := s.db.Exec(ctx, query,
		rec.ID, rec.UserID, rec.Provider, rec.RequestType,
		rec.Cost.String(), rec.TokensUsed, rec.Timestamp, rec.RequestID,
	)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}

	return nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]UsageRecord, error) {
	query := `
		SELECT id, user_id, provider, request_type, cost::text, tokens_used, created_at, request_id
		FROM usage_records
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var (
			r    UsageRecord
			cost string
		)
		err := rows.Scan(
			&r.ID, &r.UserID, &r.Provider, &r.RequestType,
			&cost, &r.TokensUsed, &r.Timestamp, &r.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		r.Cost, err = decimal.NewFromString(cost)
		if err != nil {
			return nil, fmt.Errorf("invalid cost %q for usage record %s: %w", cost, r.ID, err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error {
	return nil
}
