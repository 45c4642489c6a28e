package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderguard/orderguard/internal/core"
	"github.com/orderguard/orderguard/internal/domain/model"
	"github.com/orderguard/orderguard/internal/testutil"
)

func TestJobRepo_Integration_Lifecycle(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithEphemeralDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := testutil.NewTestTimeProvider(testutil.TestTime())
		repo := NewJobRepo(db, RepoConfig{TimeProvider: clock})

		req := testutil.ValidateJobRequest(3)
		created, err := repo.Create(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, created.Status)
		assert.Equal(t, 3, created.TotalItems)

		reserved, err := repo.ReserveNext(ctx, 30)
		require.NoError(t, err)
		require.Equal(t, created.ID, reserved.ID)
		assert.Equal(t, 1, reserved.Attempts)

		_, err = repo.ReserveNext(ctx, 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)

		require.NoError(t, repo.MarkProcessing(ctx, created.ID, 3))
		require.NoError(t, repo.UpdateProgress(ctx, created.ID, 2))

		ok, err := repo.Heartbeat(ctx, created.ID, 30)
		require.NoError(t, err)
		assert.True(t, ok)

		results := []model.ItemResult{
			model.OkItem(0, req.Items[0], json.RawMessage(`{"action":"approve"}`)),
			model.ErrItem(1, req.Items[1], "bad item"),
			model.OkItem(2, req.Items[2], json.RawMessage(`{"action":"hold"}`)),
		}
		require.NoError(t, repo.Complete(ctx, created.ID, results))

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		assert.Equal(t, 3, got.ProcessedItems)
		require.Len(t, got.ResultItems, 3)
		assert.Equal(t, "bad item", *got.ResultItems[1].Error)
		assert.JSONEq(t, `{"action":"hold"}`, string(got.ResultItems[2].Result))

		states := testutil.InspectJobStates(t, db)
		require.Len(t, states, 1)
		assert.Equal(t, string(model.JobStatusCompleted), states[0].Status)
		assert.NotNil(t, states[0].CompletedAt)
	})
}

func TestJobRepo_Integration_PendingJobCannotFail(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithEphemeralDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewJobRepo(db, RepoConfig{TimeProvider: testutil.NewTestTimeProvider(testutil.TestTime())})

		created, err := repo.Create(ctx, testutil.ValidateJobRequest(2))
		require.NoError(t, err)

		require.ErrorIs(t, repo.Fail(ctx, created.ID, "no processor"), ErrJobStateConflict)

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, got.Status)
		assert.Nil(t, got.ErrorMessage)
	})
}

func TestJobRepo_Integration_ExpiredLeaseIsReclaimed(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithEphemeralDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := testutil.NewTestTimeProvider(testutil.TestTime())
		repo := NewJobRepo(db, RepoConfig{TimeProvider: clock})

		created, err := repo.Create(ctx, testutil.DedupeJobRequest(1))
		require.NoError(t, err)

		_, err = repo.ReserveNext(ctx, 10)
		require.NoError(t, err)

		clock.AddTime(time.Minute)

		again, err := repo.ReserveNext(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, created.ID, again.ID)
		assert.Equal(t, 2, again.Attempts)

		require.NoError(t, repo.Fail(ctx, created.ID, "processor unavailable"))

		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Failed)
		assert.Zero(t, stats.Pending)

		n, err := repo.ReannounceStale(ctx, core.ReannounceParams{StaleAfter: time.Second, Limit: 10})
		require.NoError(t, err)
		assert.Zero(t, n, "terminal jobs are never re-announced")
	})
}

func TestCustomerRepo_Integration_FindCandidates(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithEphemeralDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewCustomerRepo(db, testutil.NewTestTimeProvider(testutil.TestTime()))

		for _, rec := range []*model.CustomerRecord{
			{ID: "c1", TenantID: testutil.DefaultTestTenant, Email: "ada@example.com", NameKey: "ada lovelace"},
			{ID: "c2", TenantID: testutil.DefaultTestTenant, Phone: "+14155550100"},
			{ID: "c1", TenantID: "other-tenant", Email: "ada@example.com"},
		} {
			_, err := repo.Upsert(ctx, rec)
			require.NoError(t, err)
		}

		found, err := repo.FindCandidates(ctx, testutil.DefaultTestTenant, model.MatchKeys{Email: "ada@example.com"}, 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "ada lovelace", found[0].NameKey)

		none, err := repo.FindCandidates(ctx, testutil.DefaultTestTenant, model.MatchKeys{}, 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
