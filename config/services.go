package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeRunner runs the batch job runner.
	ServiceModeRunner ServiceMode = "runner"
	// ServiceModeSweeper runs the lease sweeper.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeRunner,
		ServiceModeSweeper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeRunner, ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: runner, sweeper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// RunnerConfig contains batch runner service configuration.
type RunnerConfig struct {
	// Concurrency is the number of worker goroutines, each owning one job at a time.
	Concurrency int `env:"RUNNER_CONCURRENCY" envDefault:"2"`

	// JobLease is the duration a reserved job is owned before another worker may resume it.
	JobLease time.Duration `env:"RUNNER_JOB_LEASE" envDefault:"60s"`

	// ItemConcurrency bounds parallel item processing within one job. 1 keeps strict sequential order.
	ItemConcurrency int `env:"RUNNER_ITEM_CONCURRENCY" envDefault:"1"`
}

// Sanitize applies guardrails to runner configuration values.
func (r *RunnerConfig) Sanitize() {
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.JobLease < 5*time.Second {
		r.JobLease = 5 * time.Second
	}
	if r.ItemConcurrency < 1 {
		r.ItemConcurrency = 1
	}
	if r.ItemConcurrency > 64 {
		r.ItemConcurrency = 64
	}
}

// SweeperConfig contains lease sweeper service configuration.
type SweeperConfig struct {
	// Interval is the sweeper tick interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"30s"`

	// PendingStaleAfter is how long a pending job may wait before it is announced again.
	PendingStaleAfter time.Duration `env:"SWEEPER_PENDING_STALE_AFTER" envDefault:"2m"`

	// BatchSize is the maximum number of jobs announced per tick.
	BatchSize int `env:"SWEEPER_BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if s.Interval < 5*time.Second {
		s.Interval = 5 * time.Second
	}
	if s.PendingStaleAfter < 10*time.Second {
		s.PendingStaleAfter = 10 * time.Second
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.BatchSize > 10000 {
		s.BatchSize = 10000
	}
}
