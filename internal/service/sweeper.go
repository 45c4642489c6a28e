package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orderguard/orderguard/config"
	"github.com/orderguard/orderguard/internal/core"
	"github.com/orderguard/orderguard/internal/domain/model"
	"github.com/orderguard/orderguard/internal/observability/metrics"
	"github.com/orderguard/orderguard/internal/observability/statsd"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Repo    core.JobSweeperRepository // Required: sweeper repository
	Config  config.SweeperConfig      // Required: sweeper configuration
	Logger  *slog.Logger              // Optional: structured logger
	Metrics statsd.Sink               // Optional: metrics sink (StatsD-compatible)
}

// SweeperService re-announces jobs that a runner may have missed.
//
// It covers two cases:
// - pending jobs whose notification was lost (no listener at commit time).
// - processing jobs whose owner died and whose lease has expired.
//
// It never changes job state and never deletes.
type SweeperService struct {
	repo    core.JobSweeperRepository
	config  config.SweeperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobSweeperRepository is required")
	}
	cfg := opts.Config
	cfg.Sanitize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sweeper_service")
	logger.Debug("SweeperService initialized",
		"interval", cfg.Interval,
		"pending_stale_after", cfg.PendingStaleAfter,
		"batch_size", cfg.BatchSize,
	)

	return &SweeperService{
		repo:    opts.Repo,
		config:  cfg,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run sweeps at the configured interval until ctx is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting sweeper service", "interval", s.config.Interval)

	// Jitter keeps several instances from sweeping in lockstep.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if _, err := s.Sweep(ctx); err != nil && !isContextCancellation(err) {
		s.logger.ErrorContext(ctx, "initial sweep failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !isContextCancellation(err) {
				s.logger.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one pass: re-announce stale jobs, then report queue depth.
// It returns how many jobs were announced.
func (s *SweeperService) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := s.repo.ReannounceStale(ctx, core.ReannounceParams{
		StaleAfter: s.config.PendingStaleAfter,
		Limit:      s.config.BatchSize,
	})
	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultError
	case n == 0:
		result = metrics.ResultNoop
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:    "all",
		Transition: "reannounce",
		Result:     result,
		Duration:   time.Since(start),
		Err:        err,
	})
	if err != nil {
		return 0, fmt.Errorf("reannounce stale jobs: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "re-announced stale jobs", "count", n)
		if s.metrics != nil {
			s.metrics.Count("sweeper.reannounced", int64(n), nil)
		}
	}

	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return n, fmt.Errorf("job stats: %w", err)
	}
	s.emitStats(stats)
	return n, nil
}

func (s *SweeperService) emitStats(st *model.JobStats) {
	if s.metrics == nil || st == nil {
		return
	}
	for status, v := range map[model.JobStatus]int{
		model.JobStatusPending:    st.Pending,
		model.JobStatusProcessing: st.Processing,
		model.JobStatusCompleted:  st.Completed,
		model.JobStatusFailed:     st.Failed,
	} {
		s.metrics.Gauge("jobs.count", float64(v), map[string]string{"status": string(status)})
	}
}

// waitWithJitter sleeps a random delay up to 10% of the interval.
func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
