package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/orderguard/orderguard/internal/domain/model"
	apperrors "github.com/orderguard/orderguard/internal/errors"
)

const (
	tracerName = "github.com/orderguard/orderguard/internal/domain/batch"

	defaultFailTimeout = 10 * time.Second
	maxConcurrency     = 64
)

// ErrNoProcessor is returned when a job's type has no registered processor.
var ErrNoProcessor = errors.New("no item processor for job type")

// Store is the slice of the job store the pipeline needs.
type Store interface {
	GetByID(ctx context.Context, id string) (*model.Job, error)
	MarkProcessing(ctx context.Context, id string, total int) error
	UpdateProgress(ctx context.Context, id string, processed int) error
	Complete(ctx context.Context, id string, results []model.ItemResult) error
	Fail(ctx context.Context, id, errMsg string) error
}

// ProgressSink receives progress after each persisted update. Publishing is best-effort.
type ProgressSink interface {
	Publish(ctx context.Context, ev model.JobProgress) error
}

// FailureAlerter is told about every job the pipeline marks failed. Delivery is best-effort.
type FailureAlerter interface {
	JobFailed(ctx context.Context, job *model.Job, cause error)
}

// Metrics receives pipeline outcome signals.
type Metrics interface {
	ItemProcessed(jobType model.JobType, ok bool)
	ProgressPublishFailed(jobType model.JobType)
	JobFinished(jobType model.JobType, status model.JobStatus, d time.Duration)
}

// NoopMetrics discards every signal.
type NoopMetrics struct{}

func (NoopMetrics) ItemProcessed(model.JobType, bool) {}

func (NoopMetrics) ProgressPublishFailed(model.JobType) {}

func (NoopMetrics) JobFinished(model.JobType, model.JobStatus, time.Duration) {}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Store      Store
	Processors map[model.JobType]ItemProcessor
	Progress   ProgressSink
	// Concurrency above 1 processes items in parallel with that limit.
	Concurrency int
	// FailTimeout bounds the Fail call made after a bookkeeping error.
	FailTimeout time.Duration
	Metrics     Metrics
	Alerts      FailureAlerter
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Now         func() time.Time
}

// Pipeline runs one job from load to completion or failure.
type Pipeline struct {
	store       Store
	processors  map[model.JobType]ItemProcessor
	progress    ProgressSink
	concurrency int
	failTimeout time.Duration
	metrics     Metrics
	alerts      FailureAlerter
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewPipeline builds a Pipeline. Store is required.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("batch pipeline: store is required")
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}
	failTimeout := opts.FailTimeout
	if failTimeout <= 0 {
		failTimeout = defaultFailTimeout
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	processors := make(map[model.JobType]ItemProcessor, len(opts.Processors))
	for t, p := range opts.Processors {
		if p != nil {
			processors[t] = p
		}
	}

	return &Pipeline{
		store:       opts.Store,
		processors:  processors,
		progress:    opts.Progress,
		concurrency: concurrency,
		failTimeout: failTimeout,
		metrics:     metrics,
		alerts:      opts.Alerts,
		logger:      logger.With("component", "batch_pipeline"),
		tracer:      tracer,
		now:         now,
	}, nil
}

// Run executes the job identified by jobID.
//
// Terminal jobs are a no-op. Item failures are recorded on their item and never fail the job,
// except configuration errors, which fail it. A store error fails the job and is returned. A cancelled ctx returns without failing the
// job so the lease lapses and the job is redelivered.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	ctx, span := p.tracer.Start(ctx, "batch.Pipeline.Run", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	err := p.run(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Pipeline) run(ctx context.Context, jobID string) error {
	job, err := p.store.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	logger := p.logger.With("job_id", job.ID, "tenant_id", job.TenantID, "job_type", job.Type)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("job.type", string(job.Type)), attribute.Int("job.items", len(job.InputItems)))

	if job.Status.Terminal() {
		logger.InfoContext(ctx, "job already terminal, skipping", "status", job.Status)
		return nil
	}

	start := p.now()
	total := len(job.InputItems)
	if err := p.store.MarkProcessing(ctx, job.ID, total); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("mark processing: %w", err)
		}
		if job.Status != model.JobStatusProcessing {
			// Still pending, so it cannot move to failed.
			logger.ErrorContext(ctx, "mark processing failed", "error", err)
			return fmt.Errorf("job %s: mark processing: %w", job.ID, err)
		}
		return p.fail(ctx, logger, job, start, fmt.Errorf("mark processing: %w", err))
	}
	job.Status = model.JobStatusProcessing
	job.TotalItems = total

	proc, ok := p.processors[job.Type]
	if !ok {
		return p.fail(ctx, logger, job, start, fmt.Errorf("%w: %s", ErrNoProcessor, job.Type))
	}
	if err := p.prepare(ctx, job, proc); err != nil {
		if ctx.Err() != nil {
			logger.WarnContext(ctx, "job interrupted, leaving for redelivery", "error", err)
			return err
		}
		return p.fail(ctx, logger, job, start, err)
	}

	results, err := p.processItems(ctx, job, proc)
	if err != nil {
		if ctx.Err() != nil {
			logger.WarnContext(ctx, "job interrupted, leaving for redelivery", "error", err)
			return err
		}
		return p.fail(ctx, logger, job, start, err)
	}

	if err := p.store.Complete(ctx, job.ID, results); err != nil {
		return p.fail(ctx, logger, job, start, fmt.Errorf("complete job: %w", err))
	}

	job.Status = model.JobStatusCompleted
	p.publish(ctx, logger, job, total)
	p.metrics.JobFinished(job.Type, model.JobStatusCompleted, p.now().Sub(start))
	logger.InfoContext(ctx, "job completed", "items", total, "duration_ms", p.now().Sub(start).Milliseconds())
	return nil
}

// processItems fills one result slot per input index.
func (p *Pipeline) processItems(ctx context.Context, job *model.Job, proc ItemProcessor) ([]model.ItemResult, error) {
	total := len(job.InputItems)
	results := make([]model.ItemResult, total)
	ctx = WithJobOptions(ctx, job.Options)

	var (
		mu        sync.Mutex
		processed int
	)
	// Store writes are serialized so progress events go out in order.
	step := func(ctx context.Context, i int) error {
		res, err := safeProcess(ctx, proc, i, job.InputItems[i], job.TenantID)
		if apperrors.IsConfiguration(err) {
			return fmt.Errorf("item %d: %w", i, err)
		}
		p.metrics.ItemProcessed(job.Type, res.IsOk())

		mu.Lock()
		defer mu.Unlock()
		results[i] = res
		processed++
		return p.recordProgress(ctx, job, processed)
	}

	if p.concurrency <= 1 {
		for i := range job.InputItems {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := step(ctx, i); err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range job.InputItems {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error { return step(gctx, i) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// prepare runs the processor's job-level checks before any item is processed.
func (p *Pipeline) prepare(ctx context.Context, job *model.Job, proc ItemProcessor) error {
	pr, ok := proc.(JobPreparer)
	if !ok {
		return nil
	}
	if err := pr.Prepare(WithJobOptions(ctx, job.Options), job); err != nil {
		return fmt.Errorf("prepare job: %w", err)
	}
	return nil
}

func (p *Pipeline) recordProgress(ctx context.Context, job *model.Job, processed int) error {
	if err := p.store.UpdateProgress(ctx, job.ID, processed); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	p.publish(ctx, p.logger.With("job_id", job.ID), job, processed)
	return nil
}

func (p *Pipeline) publish(ctx context.Context, logger *slog.Logger, job *model.Job, processed int) {
	if p.progress == nil {
		return
	}
	ev := model.JobProgress{
		JobID:          job.ID,
		TenantID:       job.TenantID,
		Status:         job.Status,
		ProcessedItems: processed,
		TotalItems:     job.TotalItems,
		Percent:        percent(processed, job.TotalItems),
		At:             p.now(),
	}
	if err := p.progress.Publish(ctx, ev); err != nil {
		p.metrics.ProgressPublishFailed(job.Type)
		logger.WarnContext(ctx, "progress publish failed", "processed", processed, "error", err)
	}
}

// fail marks the job failed on a context detached from ctx's cancellation.
// If Fail itself errors the job stays processing and is redelivered once its lease lapses.
func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, job *model.Job, start time.Time, cause error) error {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.failTimeout)
	defer cancel()

	if err := p.store.Fail(failCtx, job.ID, cause.Error()); err != nil {
		logger.ErrorContext(ctx, "failed to mark job failed", "error", err, "cause", cause)
		return fmt.Errorf("job %s: %w (mark failed: %v)", job.ID, cause, err)
	}
	p.metrics.JobFinished(job.Type, model.JobStatusFailed, p.now().Sub(start))
	logger.ErrorContext(ctx, "job failed", "error", cause)
	if p.alerts != nil {
		p.alerts.JobFailed(ctx, job, cause)
	}
	return fmt.Errorf("job %s: %w", job.ID, cause)
}

func percent(processed, total int) int {
	if total <= 0 {
		return 100
	}
	pct := int(math.Round(float64(processed) / float64(total) * 100))
	if pct > 100 {
		pct = 100
	}
	return pct
}
