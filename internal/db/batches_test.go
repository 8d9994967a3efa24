package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	client, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return &DB{client: client}, mock
}

func TestCreateBatch(t *testing.T) {
	db, mock := newMockDB(t)

	batch := &SyncBatch{
		ID:          "batch-1",
		BatchType:   BatchTypeBackfill,
		Status:      "pending",
		TargetIDs:   []string{"camp-1", "camp-2"},
		DryRun:      true,
		BatchSize:   50,
		TimeLimitMs: 30000,
		CreatedAt:   time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO sync_batches`).
		WithArgs(batch.ID, string(batch.BatchType), batch.Status, pq.Array(batch.TargetIDs),
			batch.DryRun, batch.BatchSize, batch.MaxItems, batch.TimeLimitMs, batch.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.CreateBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBatch(t *testing.T) {
	db, mock := newMockDB(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "batch_type", "status", "target_ids", "dry_run", "batch_size", "max_items", "time_limit_ms",
		"synced_leads", "skipped_already_synced", "skipped_during_processing",
		"failed_leads", "total_leads", "error_message",
		"created_at", "started_at", "completed_at", "updated_at",
	}).AddRow(
		"batch-1", "backfill", "processing", "{camp-1}", false, 50, 0, 5000,
		10, 4, 1, 2, 100, nil,
		now, now, nil, now,
	)

	mock.ExpectQuery(`SELECT .+ FROM sync_batches`).
		WithArgs("batch-1").
		WillReturnRows(rows)

	batch, err := db.GetBatch(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, "processing", batch.Status)
	assert.Equal(t, []string{"camp-1"}, batch.TargetIDs)
	assert.Equal(t, 5000, batch.TimeLimitMs)
	assert.Equal(t, 10, batch.SyncedLeads)
	assert.Equal(t, 100, batch.TotalLeads)
	assert.NotNil(t, batch.StartedAt)
	assert.Nil(t, batch.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBatchNotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT .+ FROM sync_batches`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := db.GetBatch(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch not found")
}

func TestUpdateBatchStatus(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE sync_batches`).
		WithArgs("processing", nil, sqlmock.AnyArg(), "batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.UpdateBatchStatus(context.Background(), "batch-1", "processing", nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBatchStatusMissingBatch(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE sync_batches`).
		WithArgs("cancelled", nil, sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.UpdateBatchStatus(context.Background(), "missing", "cancelled", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch not found")
}

func TestAddBatchCounters(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE sync_batches`).
		WithArgs(10, 4, 1, 2, "batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.AddBatchCounters(context.Background(), "batch-1", 10, 4, 1, 2)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCursorDefaultsToZero(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT next_skip, exhausted FROM sync_cursors`).
		WithArgs("batch-1", "camp-1").
		WillReturnRows(sqlmock.NewRows([]string{"next_skip", "exhausted"}))

	cursor, err := db.GetCursor(context.Background(), "batch-1", "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 0, cursor.NextSkip)
	assert.False(t, cursor.Exhausted)
}

func TestSaveCursor(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`INSERT INTO sync_cursors`).
		WithArgs("batch-1", "camp-1", 150, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.SaveCursor(context.Background(), &Cursor{
		BatchID:    "batch-1",
		CampaignID: "camp-1",
		NextSkip:   150,
		Exhausted:  true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFilterAlreadySynced(t *testing.T) {
	db, mock := newMockDB(t)

	emails := []string{"a@x.com", "b@y.com", "c@z.com"}
	mock.ExpectQuery(`SELECT email FROM synced_leads`).
		WithArgs(pq.Array(emails)).
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("a@x.com").AddRow("c@z.com"))

	synced, err := db.FilterAlreadySynced(context.Background(), emails)
	require.NoError(t, err)
	assert.True(t, synced["a@x.com"])
	assert.False(t, synced["b@y.com"])
	assert.True(t, synced["c@z.com"])
}

func TestFilterAlreadySyncedEmptyInput(t *testing.T) {
	db, _ := newMockDB(t)

	synced, err := db.FilterAlreadySynced(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, synced)
}

func TestClearFailedLeadsRunsInTransaction(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM failed_leads`).
		WithArgs("batch-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`UPDATE sync_batches SET failed_leads = 0`).
		WithArgs("batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.ClearFailedLeads(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
