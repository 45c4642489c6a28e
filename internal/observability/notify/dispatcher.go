package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/orderguard/orderguard/internal/domain/model"
	obserrors "github.com/orderguard/orderguard/internal/observability/errors"
)

const defaultDispatchTimeout = 15 * time.Second

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink Sink
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// Timeout bounds one fan-out across all sinks, retries included.
	Timeout time.Duration
	Now     func() time.Time
}

// Dispatcher fans job failures out to every registered sink.
type Dispatcher struct {
	logger  *slog.Logger
	sinks   []SinkRegistration
	timeout time.Duration
	now     func() time.Time
}

// NewDispatcher constructs a Dispatcher. Nil sinks are dropped.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		if entry.Name == "" {
			entry.Name = "sink"
		}
		sinks = append(sinks, entry)
	}

	return &Dispatcher{
		logger:  logger.With("component", "failure_notifier"),
		sinks:   sinks,
		timeout: timeout,
		now:     now,
	}
}

// Enabled reports whether the dispatcher has any active sinks.
func (d *Dispatcher) Enabled() bool {
	return d != nil && len(d.sinks) > 0
}

// JobFailed builds a payload for job and delivers it. Delivery errors are logged, never returned.
func (d *Dispatcher) JobFailed(ctx context.Context, job *model.Job, cause error) {
	if !d.Enabled() || job == nil {
		return
	}
	payload := JobFailurePayload{
		JobID:          job.ID,
		JobType:        string(job.Type),
		TenantID:       job.TenantID,
		Attempts:       job.Attempts,
		ProcessedItems: job.ProcessedItems,
		TotalItems:     job.TotalItems,
		Severity:       SeverityCritical,
		OccurredAt:     d.now().UTC(),
	}
	if cause != nil {
		payload.Error = cause.Error()
		payload.ErrorClass = obserrors.Classify(cause)
	}
	if rs := job.Options.RuleSet; rs != "" {
		payload.Metadata = map[string]string{"rule_set": rs}
	}
	d.NotifyJobFailure(ctx, payload)
}

// NotifyJobFailure sends payload to all sinks in parallel and waits for them.
// The caller's cancellation is ignored so alerts still go out during shutdown.
func (d *Dispatcher) NotifyJobFailure(ctx context.Context, payload JobFailurePayload) {
	if !d.Enabled() {
		return
	}
	if payload.Severity == "" {
		payload.Severity = SeverityCritical
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, entry := range d.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendJobFailure(sendCtx, payload); err != nil {
				d.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"job_id", payload.JobID,
					"job_type", payload.JobType,
					"tenant_id", payload.TenantID,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}
