package billing

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	// registers the "sqlite" driver
	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS usage_records (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	provider     TEXT NOT NULL,
	request_type TEXT NOT NULL,
	cost         TEXT NOT NULL,
	tokens_used  INTEGER NOT NULL CHECK (tokens_used >= 0),
	created_at   TEXT NOT NULL,
	request_id   TEXT NOT NULL UNIQUE
)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_records_user_id ON usage_records (user_id)`,
}

// SQLiteStore keeps the ledger in a local SQLite database. Costs are stored as
// decimal strings and timestamps as RFC 3339 text so nothing is lost to
// float or driver time conversions.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection serialises writers at the driver level
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec UsageRecord) error {
	query := `
		INSERT INTO usage_records (id, user_id, provider, request_type, cost, tokens_used, created_at, request_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.Provider, rec.RequestType,
		rec.Cost.String(), rec.TokensUsed, rec.Timestamp.Format(time.RFC3339Nano), rec.RequestID,
	)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, provider, request_type, cost, tokens_used, created_at, request_id
		FROM usage_records
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var (
			r         UsageRecord
			cost      string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Provider, &r.RequestType, &cost, &r.TokensUsed, &createdAt, &r.RequestID); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		if r.Cost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("invalid cost %q for usage record %s: %w", cost, r.ID, err)
		}
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("invalid timestamp %q for usage record %s: %w", createdAt, r.ID, err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
