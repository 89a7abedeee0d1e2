package records

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverloop/redrive/pkg/models"
)

func newTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewRepository(sqlx.NewDb(db, "pgx")), mock
}

func testRecord() *models.ClassificationRecord {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return &models.ClassificationRecord{
		MessageID:       "msg-001",
		SourceQueue:     "orders-dlq",
		Category:        models.CategoryTransient,
		Confidence:      0.96,
		Reasoning:       "network error, typically recovers on replay",
		ModelTag:        models.ModelTagHeuristic,
		ActionTaken:     models.ActionTakenReplayed,
		Outcome:         models.OutcomePending,
		RetryCount:      0,
		SimilarFailures: 2,
		SemanticHash:    "a1b2c3d4e5f60718",
		CreatedAt:       now,
		ExpiresAt:       now.Add(30 * 24 * time.Hour),
	}
}

func recordRows(rec *models.ClassificationRecord) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"message_id", "source_queue", "category", "confidence", "reasoning", "model_tag",
		"tokens_input", "tokens_output", "action_taken", "outcome", "retry_count",
		"retry_scheduled_for", "archive_location", "incident_key", "suspected_deployment",
		"similar_failures", "semantic_hash", "failure_reason", "created_at", "expires_at",
	}).AddRow(
		rec.MessageID, rec.SourceQueue, string(rec.Category), rec.Confidence, rec.Reasoning, rec.ModelTag,
		rec.TokensInput, rec.TokensOutput, string(rec.ActionTaken), string(rec.Outcome), rec.RetryCount,
		rec.RetryScheduledFor, rec.ArchiveLocation, rec.IncidentKey, rec.SuspectedDeployment,
		rec.SimilarFailures, rec.SemanticHash, rec.FailureReason, rec.CreatedAt, rec.ExpiresAt,
	)
}

func TestRepositoryInsert(t *testing.T) {
	repo, mock := newTestRepository(t)
	rec := testRecord()

	mock.ExpectExec("INSERT INTO classification_records").
		WithArgs(
			rec.MessageID, rec.SourceQueue, string(rec.Category), rec.Confidence, rec.Reasoning, rec.ModelTag,
			rec.TokensInput, rec.TokensOutput, string(rec.ActionTaken), string(rec.Outcome), rec.RetryCount,
			nil, nil, nil, nil,
			rec.SimilarFailures, rec.SemanticHash, nil, rec.CreatedAt, rec.ExpiresAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), rec)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryInsertError(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec("INSERT INTO classification_records").
		WillReturnError(errors.New("connection reset"))

	err := repo.Insert(context.Background(), testRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert classification record")
}

func TestRepositoryGet(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		rec := testRecord()

		mock.ExpectQuery("SELECT .* FROM classification_records WHERE message_id").
			WithArgs("msg-001").
			WillReturnRows(recordRows(rec))

		got, err := repo.Get(context.Background(), "msg-001")
		require.NoError(t, err)
		assert.Equal(t, rec.MessageID, got.MessageID)
		assert.Equal(t, models.CategoryTransient, got.Category)
		assert.Equal(t, models.OutcomePending, got.Outcome)
		assert.Nil(t, got.ArchiveLocation)
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectQuery("SELECT .* FROM classification_records WHERE message_id").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Get(context.Background(), "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRepositoryList(t *testing.T) {
	t.Run("no filters applies default limit", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		rec := testRecord()

		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT $1")).
			WithArgs(defaultListLimit).
			WillReturnRows(recordRows(rec))

		recs, err := repo.List(context.Background(), models.RecordFilters{})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "msg-001", recs[0].MessageID)
	})

	t.Run("queue and category filters", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectQuery(regexp.QuoteMeta("WHERE source_queue = $1 AND category = $2 ORDER BY created_at DESC LIMIT $3")).
			WithArgs("orders-dlq", string(models.CategoryPoisonPill), 25).
			WillReturnRows(recordRows(testRecord()))

		_, err := repo.List(context.Background(), models.RecordFilters{
			Queue:    "orders-dlq",
			Category: models.CategoryPoisonPill,
			Limit:    25,
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("limit is capped", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectQuery(regexp.QuoteMeta("LIMIT $1")).
			WithArgs(maxListLimit).
			WillReturnRows(recordRows(testRecord()))

		_, err := repo.List(context.Background(), models.RecordFilters{Limit: 999999})
		require.NoError(t, err)
	})
}

func TestRepositoryCountByQueueSince(t *testing.T) {
	repo, mock := newTestRepository(t)
	since := time.Now().Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM classification_records WHERE source_queue = $1 AND created_at > $2")).
		WithArgs("orders-dlq", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(15))

	n, err := repo.CountByQueueSince(context.Background(), "orders-dlq", since)
	require.NoError(t, err)
	assert.Equal(t, 15, n)
}

func TestRepositoryRecordOutcome(t *testing.T) {
	t.Run("success with artifact", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		loc := "poison-pills/2026-03-14/orders-dlq/msg-001.json"

		mock.ExpectExec("UPDATE classification_records SET").
			WithArgs("msg-001", string(models.OutcomeSuccess), nil, nil, loc, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.RecordOutcome(context.Background(), "msg-001", OutcomeUpdate{
			Outcome:         models.OutcomeSuccess,
			ArchiveLocation: &loc,
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed with reason", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		reason := "max retries exceeded"

		mock.ExpectExec("UPDATE classification_records SET").
			WithArgs("msg-001", string(models.OutcomeFailed), reason, nil, nil, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.RecordOutcome(context.Background(), "msg-001", OutcomeUpdate{
			Outcome:       models.OutcomeFailed,
			FailureReason: &reason,
		})
		require.NoError(t, err)
	})

	t.Run("missing record", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectExec("UPDATE classification_records SET").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.RecordOutcome(context.Background(), "ghost", OutcomeUpdate{Outcome: models.OutcomeSuccess})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRepositoryStatsSince(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery("SELECT category, COUNT\\(\\*\\) AS count FROM classification_records").
		WillReturnRows(sqlmock.NewRows([]string{"category", "count"}).
			AddRow(string(models.CategoryTransient), 40).
			AddRow(string(models.CategorySystemic), 3))

	counts, err := repo.StatsSince(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, models.CategoryTransient, counts[0].Category)
	assert.Equal(t, 40, counts[0].Count)
}

func TestRepositoryDeleteExpired(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM classification_records WHERE expires_at <= $1")).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
