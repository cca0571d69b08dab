package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/parapet-labs/parapet/pkg/contracts"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	seq          BIGSERIAL PRIMARY KEY,
	receipt_hash TEXT NOT NULL UNIQUE,
	receipt_id   TEXT NOT NULL,
	receipt_type TEXT NOT NULL,
	episode_id   TEXT NOT NULL,
	ts           TIMESTAMPTZ NOT NULL,
	body         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_episode ON receipts(episode_id, seq);`

// PostgresStore persists receipts in PostgreSQL for shared deployments
// where several gateway instances append to one ledger.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects and ensures the receipt schema exists.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init receipt schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing connection without running
// migrations. Used by tests and managed-schema deployments.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, r *contracts.Receipt) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipts (receipt_hash, receipt_id, receipt_type, episode_id, ts, body)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ReceiptHash, r.ReceiptID, string(r.ReceiptType), r.EpisodeID, r.TS.UTC(), body)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, receiptHash string) (*contracts.Receipt, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM receipts WHERE receipt_hash = $1`, receiptHash).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load receipt: %w", err)
	}
	return decodeReceipt(string(body))
}

func (s *PostgresStore) ListEpisode(ctx context.Context, episodeID string) ([]*contracts.Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM receipts WHERE episode_id = $1 ORDER BY seq`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("list episode: %w", err)
	}
	defer rows.Close()

	var out []*contracts.Receipt
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		r, err := decodeReceipt(string(body))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Head(ctx context.Context, episodeID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT receipt_hash FROM receipts WHERE episode_id = $1 ORDER BY seq DESC LIMIT 1`,
		episodeID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load episode head: %w", err)
	}
	return hash, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
