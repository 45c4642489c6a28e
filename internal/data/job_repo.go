package data

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/orderguard/orderguard/internal/domain/model"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo is the Postgres-backed durable job store.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
	}
}

const jobColumns = `
  id,
  tenant_id,
  job_type,
  status,
  input_items,
  options,
  total_items,
  processed_items,
  error_message,
  attempts,
  lease_expires_at,
  created_at,
  updated_at,
  completed_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	inputItems, options []byte
	errorMessage        sql.NullString
	leaseExpiresAt      sql.NullTime
	completedAt         sql.NullTime
}

func (d *jobRowData) scanInto(scanner rowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.TenantID,
		&job.Type,
		&job.Status,
		&d.inputItems,
		&d.options,
		&job.TotalItems,
		&job.ProcessedItems,
		&d.errorMessage,
		&job.Attempts,
		&d.leaseExpiresAt,
		&job.CreatedAt,
		&job.UpdatedAt,
		&d.completedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) error {
	if len(d.inputItems) > 0 {
		if err := json.Unmarshal(d.inputItems, &job.InputItems); err != nil {
			return fmt.Errorf("decode input_items: %w", err)
		}
	}
	if len(d.options) > 0 {
		if err := json.Unmarshal(d.options, &job.Options); err != nil {
			return fmt.Errorf("decode options: %w", err)
		}
	}
	job.ErrorMessage = cloneNullableString(d.errorMessage)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return nil
}

func scanJobFromRow(scanner rowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
