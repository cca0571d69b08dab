package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/parapet-labs/parapet/pkg/contracts"
)

func testReceipt() *contracts.Receipt {
	return &contracts.Receipt{
		ReceiptID:     "r-1",
		ReceiptType:   contracts.ReceiptAction,
		SchemaVersion: contracts.SchemaVersion,
		TS:            time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
		EpisodeID:     "ep-1",
		ParentHashes:  []string{},
		ProofTier:     contracts.TierStandard,
		Payload: map[string]any{
			"action_id":  "a1",
			"tool":       "shell",
			"risk_level": "LOW",
			"outcome":    "success",
		},
		ReceiptHash: "sha256:abc",
	}
}

func TestPostgresPut(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := testReceipt()
	body, err := json.Marshal(r)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO receipts").
		WithArgs(r.ReceiptHash, r.ReceiptID, string(r.ReceiptType), r.EpisodeID, r.TS.UTC(), body).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewPostgresStore(db)
	require.NoError(t, store.Put(context.Background(), r))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetAndHead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := testReceipt()
	body, err := json.Marshal(r)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT body FROM receipts WHERE receipt_hash").
		WithArgs(r.ReceiptHash).
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(body))
	mock.ExpectQuery("SELECT receipt_hash FROM receipts WHERE episode_id").
		WithArgs("ep-1").
		WillReturnRows(sqlmock.NewRows([]string{"receipt_hash"}).AddRow(r.ReceiptHash))
	mock.ExpectQuery("SELECT body FROM receipts WHERE receipt_hash").
		WithArgs("sha256:missing").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))

	store := NewPostgresStore(db)

	got, err := store.Get(context.Background(), r.ReceiptHash)
	require.NoError(t, err)
	require.Equal(t, r.ReceiptID, got.ReceiptID)

	head, err := store.Head(context.Background(), "ep-1")
	require.NoError(t, err)
	require.Equal(t, r.ReceiptHash, head)

	_, err = store.Get(context.Background(), "sha256:missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListEpisode(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := testReceipt()
	body, err := json.Marshal(r)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT body FROM receipts WHERE episode_id").
		WithArgs("ep-1").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(body))

	store := NewPostgresStore(db)
	receipts, err := store.ListEpisode(context.Background(), "ep-1")
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
