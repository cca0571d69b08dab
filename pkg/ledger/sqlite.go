package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/parapet-labs/parapet/pkg/contracts"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	receipt_hash TEXT NOT NULL UNIQUE,
	receipt_id   TEXT NOT NULL,
	receipt_type TEXT NOT NULL,
	episode_id   TEXT NOT NULL,
	ts           TEXT NOT NULL,
	body         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_episode ON receipts(episode_id, seq);`

// SQLiteStore persists receipts in a local sqlite database. Writes are
// committed synchronously so Put implies durability.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a receipt store at dsn.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open receipt db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=FULL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure receipt db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init receipt schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, r *contracts.Receipt) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipts (receipt_hash, receipt_id, receipt_type, episode_id, ts, body)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ReceiptHash, r.ReceiptID, string(r.ReceiptType), r.EpisodeID,
		r.TS.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"), string(body))
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, receiptHash string) (*contracts.Receipt, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM receipts WHERE receipt_hash = ?`, receiptHash).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load receipt: %w", err)
	}
	return decodeReceipt(body)
}

func (s *SQLiteStore) ListEpisode(ctx context.Context, episodeID string) ([]*contracts.Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM receipts WHERE episode_id = ? ORDER BY seq`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("list episode: %w", err)
	}
	defer rows.Close()

	var out []*contracts.Receipt
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		r, err := decodeReceipt(body)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Head(ctx context.Context, episodeID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT receipt_hash FROM receipts WHERE episode_id = ? ORDER BY seq DESC LIMIT 1`,
		episodeID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load episode head: %w", err)
	}
	return hash, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func decodeReceipt(body string) (*contracts.Receipt, error) {
	var r contracts.Receipt
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &r, nil
}
