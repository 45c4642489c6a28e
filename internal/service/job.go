package service

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/orderguard/orderguard/internal/core"
	"github.com/orderguard/orderguard/internal/domain/model"
	apperrors "github.com/orderguard/orderguard/internal/errors"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	// DefaultMaxItems caps a single submission when no limit is configured.
	DefaultMaxItems = 10000

	schemaMapped = "mapped_item.json"
)

// itemSchemaFiles maps each job type to the schema its unmapped items must satisfy.
var itemSchemaFiles = map[model.JobType]string{
	model.JobTypeValidate: "validate_item.json",
	model.JobTypeDedupe:   "dedupe_item.json",
}

// ItemSchemas holds the compiled per-job-type item schemas.
type ItemSchemas struct {
	byType map[model.JobType]*jsonschema.Schema
	mapped *jsonschema.Schema
}

// LoadItemSchemas compiles the embedded item schemas.
func LoadItemSchemas() (*ItemSchemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7

	files := []string{schemaMapped}
	for _, f := range itemSchemaFiles {
		files = append(files, f)
	}
	for _, f := range files {
		raw, err := schemaFS.ReadFile("schemas/" + f)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", f, err)
		}
		if err := c.AddResource(f, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", f, err)
		}
	}

	s := &ItemSchemas{byType: make(map[model.JobType]*jsonschema.Schema, len(itemSchemaFiles))}
	for t, f := range itemSchemaFiles {
		compiled, err := c.Compile(f)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", f, err)
		}
		s.byType[t] = compiled
	}
	mapped, err := c.Compile(schemaMapped)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", schemaMapped, err)
	}
	s.mapped = mapped
	return s, nil
}

// ValidateItems checks every item. Items with a field mapping only need to be objects,
// since their shape is decided by the mapping expressions.
func (s *ItemSchemas) ValidateItems(jobType model.JobType, items []json.RawMessage, mapped bool) error {
	schema := s.mapped
	if !mapped {
		var ok bool
		if schema, ok = s.byType[jobType]; !ok {
			return apperrors.Validationf("no item schema for job type %q", jobType)
		}
	}
	for i, item := range items {
		var v any
		if err := json.Unmarshal(item, &v); err != nil {
			return apperrors.Wrapf(err, apperrors.ErrCodeValidation, "item %d is not valid JSON", i)
		}
		if err := schema.Validate(v); err != nil {
			return apperrors.Wrapf(err, apperrors.ErrCodeValidation, "item %d does not match the %s schema", i, jobType)
		}
	}
	return nil
}

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Store    core.JobStore   // Required: durable job store
	TxStore  core.JobStoreTx // Optional: enables SubmitInTx
	Schemas  *ItemSchemas    // Optional: defaults to the embedded schemas
	MaxItems int             // Optional: defaults to DefaultMaxItems
	Logger   *slog.Logger    // Optional: structured logger
}

// JobService accepts bulk submissions and answers status polls.
type JobService struct {
	store    core.JobStore
	txStore  core.JobStoreTx
	schemas  *ItemSchemas
	maxItems int
	logger   *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	schemas := opts.Schemas
	if schemas == nil {
		var err error
		if schemas, err = LoadItemSchemas(); err != nil {
			return nil, fmt.Errorf("load item schemas: %w", err)
		}
	}
	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{
		store:    opts.Store,
		txStore:  opts.TxStore,
		schemas:  schemas,
		maxItems: maxItems,
		logger:   logger.With("component", "job_service"),
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Submit validates req and stores it as a pending job. The store announces the job
// on the notify channel in the same transaction as the insert.
func (s *JobService) Submit(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	job, err := s.store.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.logCreated(ctx, job)
	return job, nil
}

// SubmitInTx is Submit inside a caller-owned transaction. The job becomes visible
// and the notification is delivered when tx commits.
func (s *JobService) SubmitInTx(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error) {
	if s.txStore == nil {
		return nil, errors.New("transactional job store not configured")
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	job, err := s.txStore.CreateInTx(ctx, tx, req)
	if err != nil {
		return nil, fmt.Errorf("create job in tx: %w", err)
	}
	s.logCreated(ctx, job)
	return job, nil
}

func (s *JobService) check(req *model.CreateJobRequest) error {
	if req == nil {
		return apperrors.Validationf("request is required")
	}
	if err := req.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}
	if len(req.Items) > s.maxItems {
		return apperrors.Validationf("job has %d items, limit is %d", len(req.Items), s.maxItems)
	}
	if len(req.Options.FieldMapping) > 0 {
		if _, err := NewFieldMapper(req.Options.FieldMapping, nil); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid field mapping")
		}
	}
	return s.schemas.ValidateItems(req.Type, req.Items, len(req.Options.FieldMapping) > 0)
}

func (s *JobService) logCreated(ctx context.Context, job *model.Job) {
	s.logger.InfoContext(ctx, "job submitted",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"job_type", job.Type,
		"items", job.TotalItems,
	)
}

// Status returns the polling view of a job. Jobs owned by another tenant are reported as not found.
func (s *JobService) Status(ctx context.Context, jobID, tenantID string) (*model.JobStatusResponse, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job.TenantID != tenantID {
		return nil, apperrors.NotFoundf("job %s not found", jobID)
	}

	resp := &model.JobStatusResponse{
		JobID:          job.ID,
		Status:         job.Status,
		Progress:       job.Progress(),
		TotalItems:     job.TotalItems,
		ProcessedItems: job.ProcessedItems,
		CompletedAt:    job.CompletedAt,
	}
	switch job.Status {
	case model.JobStatusCompleted:
		resp.Result = job.ResultItems
		if resp.Result == nil {
			resp.Result = []model.ItemResult{}
		}
	case model.JobStatusFailed:
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}
