package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/orderguard/orderguard/internal/core"
	"github.com/orderguard/orderguard/internal/data/pgxutil"
	"github.com/orderguard/orderguard/internal/domain/model"
)

// Advisory lock namespace for sweeper operations.
// Two-arg pg_try_advisory_xact_lock(major, minor) keeps the keys apart from the migrator.
const (
	advisoryLockSweeperMajor      = 1000
	advisoryLockSweeperReannounce = 1
)

// reannounceSQL notifies the runner pool about jobs that may have missed their original announcement.
const reannounceSQL = `
  WITH stale AS (
    SELECT id FROM jobs
    WHERE (status = 'pending' AND created_at < $1)
       OR (status = 'processing' AND lease_expires_at IS NOT NULL AND lease_expires_at < $2)
    ORDER BY created_at
    LIMIT $3
  )
  SELECT count(*) FROM (
    SELECT pg_notify($4::text, stale.id::text) FROM stale
  ) announced`

// ReannounceStale re-sends notifications for stuck jobs. It never changes job state.
// Concurrent sweepers skip the pass rather than double-announce.
func (r *JobRepo) ReannounceStale(ctx context.Context, params core.ReannounceParams) (int, error) {
	if params.StaleAfter <= 0 {
		return 0, errors.New("stale threshold must be positive")
	}
	if params.Limit <= 0 {
		return 0, errors.New("limit must be positive")
	}

	var announced int
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1, $2)`,
				advisoryLockSweeperMajor, advisoryLockSweeperReannounce).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			now := r.timeProvider.Now().UTC()
			if err := tx.QueryRowContext(ctx, reannounceSQL,
				now.Add(-params.StaleAfter),
				now,
				params.Limit,
				model.NotifyChannel,
			).Scan(&announced); err != nil {
				return fmt.Errorf("reannounce stale jobs: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return announced, nil
}

// Stats returns job counts by status.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')    AS pending,
    count(*) FILTER (WHERE status = 'processing') AS processing,
    count(*) FILTER (WHERE status = 'completed')  AS completed,
    count(*) FILTER (WHERE status = 'failed')     AS failed
  FROM jobs
  `).Scan(&s.Pending, &s.Processing, &s.Completed, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &s, nil
}
