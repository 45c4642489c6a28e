// Package jobrunner reserves queued batch jobs and drives them through the pipeline.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orderguard/orderguard/internal/core"
	domainjob "github.com/orderguard/orderguard/internal/domain/job"
	"github.com/orderguard/orderguard/internal/domain/model"
	"github.com/orderguard/orderguard/internal/observability/metrics"
	"github.com/orderguard/orderguard/internal/observability/statsd"
)

const defaultReserveBackoff = time.Second

// JobExecutor runs one reserved job to a terminal state.
type JobExecutor interface {
	Run(ctx context.Context, jobID string) error
}

// Queue is the slice of the job store the runner needs.
type Queue interface {
	ReserveNext(ctx context.Context, leaseSeconds int) (*model.Job, error)
	Heartbeat(ctx context.Context, id string, leaseSeconds int) (bool, error)
	WaitForNotification(ctx context.Context) error
}

var _ Queue = (core.JobStore)(nil)

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Queue    Queue       // Required: reservation and heartbeat
	Executor JobExecutor // Required: usually *batch.Pipeline
	Lease    domainjob.LeasePolicy
	// Concurrency is the number of worker goroutines; defaults to 1.
	Concurrency int
	// Notifier wakes idle workers. Nil builds one listening on Queue.
	Notifier *domainjob.Notifier
	// ReserveBackoff is the pause after a failed reservation.
	ReserveBackoff time.Duration
	Logger         *slog.Logger
	Metrics        statsd.Sink
}

// Runner pulls jobs and executes them with a pool of workers.
type Runner struct {
	queue    Queue
	executor JobExecutor
	lease    domainjob.LeasePolicy
	workers  int
	notifier *domainjob.Notifier
	backoff  time.Duration
	logger   *slog.Logger
	metrics  statsd.Sink
	now      func() time.Time
}

// NewRunner validates options and constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Queue == nil {
		return nil, errors.New("job queue is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("job executor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lease := opts.Lease
	if lease.Lease() == 0 {
		var err error
		if lease, err = domainjob.NewLeasePolicy(60*time.Second, 0); err != nil {
			return nil, err
		}
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	backoff := opts.ReserveBackoff
	if backoff <= 0 {
		backoff = defaultReserveBackoff
	}
	notifier := opts.Notifier
	if notifier == nil {
		var err error
		notifier, err = domainjob.NewNotifier(domainjob.NotifierOptions{Waiter: opts.Queue, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	return &Runner{
		queue:    opts.Queue,
		executor: opts.Executor,
		lease:    lease,
		workers:  workers,
		notifier: notifier,
		backoff:  backoff,
		logger:   logger.With("component", "job_runner"),
		metrics:  opts.Metrics,
		now:      time.Now,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
// It returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner",
		"workers", r.workers,
		"lease", r.lease.Lease(),
		"heartbeat", r.lease.HeartbeatInterval(),
	)

	var wg sync.WaitGroup
	for i := range r.workers {
		notify, unsub := r.notifier.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsub()
			r.workerLoop(ctx, i, notify)
		}()
	}
	wg.Wait()

	r.logger.InfoContext(ctx, "job runner stopped", "reason", ctx.Err())
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (r *Runner) workerLoop(ctx context.Context, worker int, notify <-chan struct{}) {
	logger := r.logger.With("worker", worker)
	for ctx.Err() == nil {
		job, err := r.queue.ReserveNext(ctx, r.lease.Seconds())
		switch {
		case err == nil:
			r.processJob(ctx, logger, job)
		case errors.Is(err, model.ErrNoJobsAvailable):
			select {
			case <-ctx.Done():
				return
			case _, ok := <-notify:
				if !ok {
					return
				}
			}
		case ctx.Err() != nil:
			return
		default:
			logger.WarnContext(ctx, "reserve next job failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.backoff):
			}
		}
	}
}

// processJob runs one reservation. Losing the lease, or going a full lease
// without a successful heartbeat, cancels the run so another worker can take
// over without two pipelines writing the same job.
func (r *Runner) processJob(ctx context.Context, parent *slog.Logger, job *model.Job) {
	logger := parent.With("job_id", job.ID, "tenant_id", job.TenantID, "job_type", job.Type, "attempt", job.Attempts)
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		JobType:    string(job.Type),
		Transition: "reserved",
		Result:     metrics.ResultSuccess,
	})
	logger.InfoContext(ctx, "job reserved")

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		r.heartbeat(jobCtx, cancel, logger, job.ID, r.now())
	}()

	if err := r.executor.Run(jobCtx, job.ID); err != nil {
		logger.WarnContext(ctx, "job run ended with error", "error", err)
	}
	cancel()
	<-hbDone
}

func (r *Runner) heartbeat(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *slog.Logger,
	jobID string,
	reservedAt time.Time,
) {
	ticker := time.NewTicker(r.lease.HeartbeatInterval())
	defer ticker.Stop()
	renewed := reservedAt
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := r.queue.Heartbeat(ctx, jobID, r.lease.Seconds())
			switch {
			case err != nil && ctx.Err() == nil:
				since := r.now().Sub(renewed)
				if since < r.lease.Lease() {
					logger.WarnContext(ctx, "lease heartbeat failed", "error", err)
					continue
				}
				logger.ErrorContext(ctx, "lease expired without a heartbeat, abandoning job",
					"error", err, "since_last_renewal", since)
				r.abandon(cancel)
				return
			case err == nil && !ok:
				logger.WarnContext(ctx, "lease lost, abandoning job")
				r.abandon(cancel)
				return
			case err == nil:
				renewed = r.now()
			}
		}
	}
}

func (r *Runner) abandon(cancel context.CancelFunc) {
	if r.metrics != nil {
		r.metrics.Count("job.lease_lost", 1, nil)
	}
	cancel()
}
