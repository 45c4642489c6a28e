package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderguard/orderguard/internal/core"
	"github.com/orderguard/orderguard/internal/domain/model"
	apperrors "github.com/orderguard/orderguard/internal/errors"
)

const testJobID = "0b7e7c9e-5f43-4f7e-9a57-8f1f4c4e2d11"

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var jobColumnNames = []string{
	"id", "tenant_id", "job_type", "status", "input_items", "options", "total_items",
	"processed_items", "error_message", "attempts", "lease_expires_at", "created_at",
	"updated_at", "completed_at",
}

func newMockJobRepo(t *testing.T) (*JobRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewJobRepo(db, RepoConfig{TimeProvider: NewFixedTimeProvider(testNow)}), mock
}

func jobRow(status model.JobStatus, total, processed int) *sqlmock.Rows {
	var completedAt any
	if status == model.JobStatusCompleted {
		completedAt = testNow
	}
	return sqlmock.NewRows(jobColumnNames).AddRow(
		testJobID, "tenant-a", "validate", string(status),
		[]byte(`[{"email":"a@example.com"},{"email":"b@example.com"}]`), []byte(`{"rule_set":"strict"}`),
		total, processed, nil, 1, nil, testNow, testNow, completedAt,
	)
}

func TestJobRepo_Create(t *testing.T) {
	t.Run("inserts and notifies in one transaction", func(t *testing.T) {
		repo, mock := newMockJobRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO jobs").
			WithArgs(sqlmock.AnyArg(), "tenant-a", sqlmock.AnyArg(),
				[]byte(`[{"email":"a@example.com"},{"email":"b@example.com"}]`),
				[]byte(`{"rule_set":"strict"}`), 2, testNow).
			WillReturnRows(jobRow(model.JobStatusPending, 2, 0))
		mock.ExpectExec(regexp.QuoteMeta("SELECT pg_notify($1::text, $2::text)")).
			WithArgs(model.NotifyChannel, testJobID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		job, err := repo.Create(context.Background(), &model.CreateJobRequest{
			TenantID: "tenant-a",
			Type:     model.JobTypeValidate,
			Items: []json.RawMessage{
				json.RawMessage(`{"email":"a@example.com"}`),
				json.RawMessage(`{"email":"b@example.com"}`),
			},
			Options: model.JobOptions{RuleSet: "strict"},
		})
		require.NoError(t, err)
		assert.Equal(t, testJobID, job.ID)
		assert.Equal(t, model.JobStatusPending, job.Status)
		assert.Equal(t, model.JobTypeValidate, job.Type)
		assert.Len(t, job.InputItems, 2)
		assert.Equal(t, "strict", job.Options.RuleSet)
		assert.Nil(t, job.Progress())
	})

	t.Run("notify failure rolls back", func(t *testing.T) {
		repo, mock := newMockJobRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO jobs").WillReturnRows(jobRow(model.JobStatusPending, 2, 0))
		mock.ExpectExec("pg_notify").WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		_, err := repo.Create(context.Background(), &model.CreateJobRequest{
			TenantID: "tenant-a",
			Type:     model.JobTypeValidate,
			Items:    []json.RawMessage{json.RawMessage(`{}`)},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "send job notification")
	})

	t.Run("invalid request never reaches the database", func(t *testing.T) {
		repo, mock := newMockJobRepo(t)

		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := repo.Create(context.Background(), &model.CreateJobRequest{
			Type:  model.JobTypeDedupe,
			Items: []json.RawMessage{json.RawMessage(`{}`)},
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestJobRepo_ReserveNext(t *testing.T) {
	t.Run("leases the next job", func(t *testing.T) {
		repo, mock := newMockJobRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery("WITH cte AS").
			WithArgs(testNow, testNow.Add(30*time.Second)).
			WillReturnRows(jobRow(model.JobStatusProcessing, 2, 0))
		mock.ExpectCommit()

		job, err := repo.ReserveNext(context.Background(), 30)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, job.Status)
		assert.Equal(t, 1, job.Attempts)
	})

	t.Run("empty queue", func(t *testing.T) {
		repo, mock := newMockJobRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery("WITH cte AS").WillReturnRows(sqlmock.NewRows(jobColumnNames))
		mock.ExpectRollback()

		_, err := repo.ReserveNext(context.Background(), 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})

	t.Run("rejects non-positive lease", func(t *testing.T) {
		repo, _ := newMockJobRepo(t)
		_, err := repo.ReserveNext(context.Background(), 0)
		require.Error(t, err)
	})
}

func TestJobRepo_UpdateProgress(t *testing.T) {
	t.Run("monotonic update", func(t *testing.T) {
		repo, mock := newMockJobRepo(t)
		mock.ExpectExec(regexp.QuoteMeta("GREATEST(processed_items, LEAST($2, total_items))")).
			WithArgs(testJobID, 3, testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.UpdateProgress(context.Background(), testJobID, 3))
	})

	t.Run("job not processing", func(t *testing.T) {
		repo, mock := newMockJobRepo(t)
		mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateProgress(context.Background(), testJobID, 3)
		require.ErrorIs(t, err, ErrJobStateConflict)
	})

	t.Run("negative count", func(t *testing.T) {
		repo, _ := newMockJobRepo(t)
		require.Error(t, repo.UpdateProgress(context.Background(), testJobID, -1))
	})
}

func TestJobRepo_MarkProcessingAndFail(t *testing.T) {
	repo, mock := newMockJobRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("status IN ('pending', 'processing')")).
		WithArgs(testJobID, 2, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	failOnlyProcessing := regexp.QuoteMeta("SET status = 'failed'") + `(?s).*` + regexp.QuoteMeta("WHERE id = $1 AND status = 'processing'")
	mock.ExpectExec(failOnlyProcessing).
		WithArgs(testJobID, "update progress: connection reset", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// A pending or terminal job matches no row.
	mock.ExpectExec(failOnlyProcessing).
		WithArgs(testJobID, "again", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, repo.MarkProcessing(ctx, testJobID, 2))
	require.NoError(t, repo.Fail(ctx, testJobID, "update progress: connection reset"))
	require.ErrorIs(t, repo.Fail(ctx, testJobID, "again"), ErrJobStateConflict)
}

func TestJobRepo_Heartbeat(t *testing.T) {
	repo, mock := newMockJobRepo(t)

	mock.ExpectExec("SET lease_expires_at").
		WithArgs(testJobID, testNow.Add(45*time.Second), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET lease_expires_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Heartbeat(context.Background(), testJobID, 45)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Heartbeat(context.Background(), testJobID, 45)
	require.NoError(t, err)
	assert.False(t, ok, "lost lease")
}

func TestJobRepo_GetByID(t *testing.T) {
	t.Run("completed job carries results", func(t *testing.T) {
		repo, mock := newMockJobRepo(t)

		mock.ExpectQuery("FROM jobs WHERE id").
			WithArgs(testJobID).
			WillReturnRows(jobRow(model.JobStatusCompleted, 2, 2))
		mock.ExpectQuery("FROM job_items").
			WithArgs(testJobID).
			WillReturnRows(sqlmock.NewRows([]string{"item_index", "input", "result", "error"}).
				AddRow(0, []byte(`{"email":"a@example.com"}`), []byte(`{"valid":true}`), nil).
				AddRow(1, []byte(`{"email":"b@example.com"}`), nil, "boom"))

		job, err := repo.GetByID(context.Background(), testJobID)
		require.NoError(t, err)
		require.Len(t, job.ResultItems, 2)
		assert.True(t, job.ResultItems[0].IsOk())
		assert.JSONEq(t, `{"valid":true}`, string(job.ResultItems[0].Result))
		require.NotNil(t, job.ResultItems[1].Error)
		assert.Equal(t, "boom", *job.ResultItems[1].Error)
		require.NotNil(t, job.Progress())
		assert.Equal(t, 100, *job.Progress())
	})

	t.Run("processing job skips items", func(t *testing.T) {
		repo, mock := newMockJobRepo(t)
		mock.ExpectQuery("FROM jobs WHERE id").WillReturnRows(jobRow(model.JobStatusProcessing, 2, 1))

		job, err := repo.GetByID(context.Background(), testJobID)
		require.NoError(t, err)
		assert.Empty(t, job.ResultItems)
		assert.Equal(t, 50, *job.Progress())
	})

	t.Run("missing job", func(t *testing.T) {
		repo, mock := newMockJobRepo(t)
		mock.ExpectQuery("FROM jobs WHERE id").WillReturnRows(sqlmock.NewRows(jobColumnNames))

		_, err := repo.GetByID(context.Background(), testJobID)
		require.ErrorIs(t, err, ErrJobNotFound)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("malformed id", func(t *testing.T) {
		repo, _ := newMockJobRepo(t)
		_, err := repo.GetByID(context.Background(), "not-a-uuid")
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestJobRepo_CompleteRejectsBadResultSets(t *testing.T) {
	repo, _ := newMockJobRepo(t)
	ctx := context.Background()
	in := json.RawMessage(`{}`)

	err := repo.Complete(ctx, testJobID, []model.ItemResult{
		model.OkItem(0, in, json.RawMessage(`{}`)),
		model.OkItem(0, in, json.RawMessage(`{}`)),
	})
	require.Error(t, err, "repeated index")

	err = repo.Complete(ctx, testJobID, []model.ItemResult{{Index: 0, Input: in}})
	require.ErrorIs(t, err, model.ErrItemResultEmpty)
}

func TestJobRepo_ReannounceStale(t *testing.T) {
	params := core.ReannounceParams{StaleAfter: 2 * time.Minute, Limit: 100}

	t.Run("announces stale jobs", func(t *testing.T) {
		repo, mock := newMockJobRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery("pg_try_advisory_xact_lock").
			WithArgs(advisoryLockSweeperMajor, advisoryLockSweeperReannounce).
			WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(true))
		mock.ExpectQuery("WITH stale AS").
			WithArgs(testNow.Add(-2*time.Minute), testNow, 100, model.NotifyChannel).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectCommit()

		n, err := repo.ReannounceStale(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("another sweeper holds the lock", func(t *testing.T) {
		repo, mock := newMockJobRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery("pg_try_advisory_xact_lock").
			WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(false))
		mock.ExpectCommit()

		n, err := repo.ReannounceStale(context.Background(), params)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("invalid params", func(t *testing.T) {
		repo, _ := newMockJobRepo(t)
		_, err := repo.ReannounceStale(context.Background(), core.ReannounceParams{Limit: 1})
		require.Error(t, err)
	})
}

func TestJobRepo_Stats(t *testing.T) {
	repo, mock := newMockJobRepo(t)
	mock.ExpectQuery("count\\(\\*\\) FILTER").
		WillReturnRows(sqlmock.NewRows([]string{"pending", "processing", "completed", "failed"}).AddRow(4, 2, 10, 1))

	s, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.JobStats{Pending: 4, Processing: 2, Completed: 10, Failed: 1}, *s)
}
