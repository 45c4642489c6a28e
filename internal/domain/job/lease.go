// Package job holds the queue-side policies shared by the runner and the sweeper.
package job

import (
	"errors"
	"fmt"
	"time"
)

// MinLease is the shortest lease a reservation may hold.
const MinLease = 5 * time.Second

var (
	// ErrLeaseTooShort indicates the lease is below MinLease.
	ErrLeaseTooShort = errors.New("job lease is too short")
	// ErrHeartbeatTooSlow indicates the heartbeat would not renew the lease before it lapses.
	ErrHeartbeatTooSlow = errors.New("heartbeat interval must be shorter than the lease")
)

// LeasePolicy decides how long a reservation is held and how often it is renewed.
// A lapsed lease makes a processing job reservable again, which is how interrupted
// jobs get redelivered.
type LeasePolicy struct {
	lease     time.Duration
	heartbeat time.Duration
}

// NewLeasePolicy validates lease and heartbeat. A zero heartbeat renews at a third of the lease.
func NewLeasePolicy(lease, heartbeat time.Duration) (LeasePolicy, error) {
	if lease < MinLease {
		return LeasePolicy{}, fmt.Errorf("%w: %s < %s", ErrLeaseTooShort, lease, MinLease)
	}
	if heartbeat <= 0 {
		heartbeat = lease / 3
	}
	if heartbeat >= lease {
		return LeasePolicy{}, fmt.Errorf("%w: heartbeat %s, lease %s", ErrHeartbeatTooSlow, heartbeat, lease)
	}
	return LeasePolicy{lease: lease, heartbeat: heartbeat}, nil
}

// Lease returns the lease duration.
func (p LeasePolicy) Lease() time.Duration { return p.lease }

// Seconds returns the lease in whole seconds as stored by the queue, rounded down.
func (p LeasePolicy) Seconds() int { return int(p.lease / time.Second) }

// HeartbeatInterval returns how often a running job renews its lease.
func (p LeasePolicy) HeartbeatInterval() time.Duration { return p.heartbeat }

// Expired reports whether a lease ending at expiresAt has lapsed at now.
func (p LeasePolicy) Expired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt == nil || !now.Before(*expiresAt)
}
