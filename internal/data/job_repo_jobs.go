package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/orderguard/orderguard/internal/data/pgxutil"
	"github.com/orderguard/orderguard/internal/domain/model"
	apperrors "github.com/orderguard/orderguard/internal/errors"
)

const insertJobSQL = `
  INSERT INTO jobs (id, tenant_id, job_type, status, input_items, options, total_items, created_at, updated_at)
  VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7, $7)
  RETURNING ` + jobColumns

// reserveNextSQL leases the oldest pending job, or a processing job whose lease lapsed.
const reserveNextSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE status = 'pending'
       OR (status = 'processing' AND (lease_expires_at IS NULL OR lease_expires_at < $1))
    ORDER BY created_at ASC, id ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'processing',
    attempts = j.attempts + 1,
    lease_expires_at = $2,
    updated_at = $1
  FROM cte
  WHERE j.id = cte.id
  RETURNING ` + prefixedJobColumns

const prefixedJobColumns = `
  j.id, j.tenant_id, j.job_type, j.status, j.input_items, j.options, j.total_items,
  j.processed_items, j.error_message, j.attempts, j.lease_expires_at, j.created_at,
  j.updated_at, j.completed_at`

const upsertJobItemSQL = `
  INSERT INTO job_items (job_id, item_index, input, result, error)
  VALUES ($1, $2, $3, $4, $5)
  ON CONFLICT (job_id, item_index) DO UPDATE
  SET input = EXCLUDED.input, result = EXCLUDED.result, error = EXCLUDED.error`

// Create inserts a pending job and announces it on model.NotifyChannel.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var err error
			job, err = r.CreateInTx(ctx, tx, req)
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CreateInTx inserts a job within an existing SQL transaction.
// The notification is delivered only when the caller commits.
func (r *JobRepo) CreateInTx(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error) {
	if tx == nil {
		return nil, errors.New("transaction is required")
	}
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}

	items, err := json.Marshal(req.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	options, err := json.Marshal(req.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}

	now := r.timeProvider.Now().UTC()
	row := tx.QueryRowContext(ctx, insertJobSQL,
		uuid.NewString(),
		req.TenantID,
		req.Type,
		items,
		options,
		len(req.Items),
		now,
	)
	job, err := scanJobFromRow(row)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", apperrors.MapDBError(err))
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, model.NotifyChannel, job.ID); err != nil {
		return nil, fmt.Errorf("send job notification: %w", err)
	}
	return job, nil
}

// GetByID loads a job. Completed jobs carry their item results in index order.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.Wrap(ErrJobNotFound, apperrors.ErrCodeNotFound, "get job")
	}

	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrap(ErrJobNotFound, apperrors.ErrCodeNotFound, "get job")
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", apperrors.MapDBError(err))
	}

	if job.Status == model.JobStatusCompleted {
		items, err := r.loadItems(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		job.ResultItems = items
	}
	return job, nil
}

func (r *JobRepo) loadItems(ctx context.Context, jobID string) ([]model.ItemResult, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT item_index, input, result, error
		FROM job_items
		WHERE job_id = $1
		ORDER BY item_index`, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job items: %w", err)
	}
	defer rows.Close()

	var out []model.ItemResult
	for rows.Next() {
		var (
			item   model.ItemResult
			input  []byte
			result []byte
			errMsg sql.NullString
		)
		if err := rows.Scan(&item.Index, &input, &result, &errMsg); err != nil {
			return nil, fmt.Errorf("scan job item: %w", err)
		}
		item.Input = append(json.RawMessage(nil), input...)
		if len(result) > 0 {
			item.Result = append(json.RawMessage(nil), result...)
		}
		item.Error = cloneNullableString(errMsg)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job items: %w", err)
	}
	return out, nil
}

// ReserveNext leases the next reservable job for leaseSeconds.
func (r *JobRepo) ReserveNext(ctx context.Context, leaseSeconds int) (*model.Job, error) {
	if leaseSeconds <= 0 {
		return nil, errors.New("leaseSeconds must be positive")
	}

	var job *model.Job
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx *sql.Tx) error {
			now := r.timeProvider.Now().UTC()
			leaseExpiresAt := now.Add(time.Duration(leaseSeconds) * time.Second)

			j, err := scanJobFromRow(tx.QueryRowContext(ctx, reserveNextSQL, now, leaseExpiresAt))
			if errors.Is(err, sql.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if err != nil {
				return fmt.Errorf("reserve job: %w", err)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// MarkProcessing moves a pending or processing job to processing and records its item count.
func (r *JobRepo) MarkProcessing(ctx context.Context, id string, total int) error {
	if total < 0 {
		return fmt.Errorf("total items must not be negative: %d", total)
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'processing',
		    total_items = $2,
		    updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, total, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark processing: %w", apperrors.MapDBError(err))
	}
	return requireOneRow(res, id)
}

// UpdateProgress raises processed_items to processed. It never moves the counter backwards.
func (r *JobRepo) UpdateProgress(ctx context.Context, id string, processed int) error {
	if processed < 0 {
		return fmt.Errorf("processed items must not be negative: %d", processed)
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET processed_items = GREATEST(processed_items, LEAST($2, total_items)),
		    updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`, id, processed, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("update progress: %w", apperrors.MapDBError(err))
	}
	return requireOneRow(res, id)
}

// Complete writes every item result and marks the job completed in one transaction.
func (r *JobRepo) Complete(ctx context.Context, id string, results []model.ItemResult) error {
	seen := make([]bool, len(results))
	for _, res := range results {
		if err := res.Validate(); err != nil {
			return fmt.Errorf("item %d: %w", res.Index, err)
		}
		if res.Index < 0 || res.Index >= len(results) || seen[res.Index] {
			return fmt.Errorf("item index %d is out of range or repeated", res.Index)
		}
		seen[res.Index] = true
	}

	return pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			var (
				status model.JobStatus
				total  int
			)
			err := tx.QueryRow(ctx, `SELECT status, total_items FROM jobs WHERE id = $1 FOR UPDATE`, id).
				Scan(&status, &total)
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.Wrap(ErrJobNotFound, apperrors.ErrCodeNotFound, "complete job")
			}
			if err != nil {
				return fmt.Errorf("lock job: %w", err)
			}
			if status != model.JobStatusProcessing {
				return fmt.Errorf("%w: job %s is %s", ErrJobStateConflict, id, status)
			}
			if total != len(results) {
				return fmt.Errorf("%w: got %d, want %d", ErrResultCountMismatch, len(results), total)
			}

			batch := &pgx.Batch{}
			for _, res := range results {
				var result any
				if len(res.Result) > 0 {
					result = []byte(res.Result)
				}
				batch.Queue(upsertJobItemSQL, id, res.Index, []byte(res.Input), result, res.Error)
			}
			if err := pgxutil.ExecBatch(ctx, tx, batch); err != nil {
				return fmt.Errorf("write job items: %w", err)
			}

			now := r.timeProvider.Now().UTC()
			if _, err := tx.Exec(ctx, `
				UPDATE jobs
				SET status = 'completed',
				    processed_items = total_items,
				    completed_at = $2,
				    updated_at = $2,
				    lease_expires_at = NULL,
				    error_message = NULL
				WHERE id = $1
			`, id, now); err != nil {
				return fmt.Errorf("complete job: %w", err)
			}
			return nil
		},
	})
}

// Fail marks a non-terminal job failed with errMsg.
func (r *JobRepo) Fail(ctx context.Context, id, errMsg string) error {
	if errMsg == "" {
		errMsg = "job failed"
	}
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    error_message = $2,
		    completed_at = $3,
		    updated_at = $3,
		    lease_expires_at = NULL
		WHERE id = $1 AND status = 'processing'
	`, id, errMsg, now)
	if err != nil {
		return fmt.Errorf("fail job: %w", apperrors.MapDBError(err))
	}
	return requireOneRow(res, id)
}

// Heartbeat extends the lease on a processing job. It reports false when the job is no longer processing.
func (r *JobRepo) Heartbeat(ctx context.Context, id string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`, id, now.Add(time.Duration(leaseSeconds)*time.Second), now)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return n > 0, nil
}

// WaitForNotification blocks until a job is announced on model.NotifyChannel or ctx ends.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer conn.Close()

	quoted := pgx.Identifier{model.NotifyChannel}.Sanitize()
	if _, err := conn.ExecContext(ctx, "LISTEN "+quoted); err != nil {
		return fmt.Errorf("listen %s: %w", model.NotifyChannel, err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "UNLISTEN "+quoted); err != nil {
			r.logger.WarnContext(ctx, "unlisten failed", "channel", model.NotifyChannel, "error", err)
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return pgxutil.ErrNotPgx
		}
		_, err := sc.Conn().WaitForNotification(ctx)
		return err
	})
}

// requireOneRow maps a zero-row state-guarded update to not-found or a state conflict.
func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s", ErrJobStateConflict, id)
	}
	return nil
}
