package jobrunner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainjob "github.com/orderguard/orderguard/internal/domain/job"
	"github.com/orderguard/orderguard/internal/domain/model"
)

type fakeQueue struct {
	mu         sync.Mutex
	jobs       []*model.Job
	reserveErr error
	leaseOK      bool
	heartbeatErr error
	heartbeats   atomic.Int64
	leases     []int
}

func (q *fakeQueue) ReserveNext(_ context.Context, leaseSeconds int) (*model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.leases = append(q.leases, leaseSeconds)
	if q.reserveErr != nil {
		err := q.reserveErr
		q.reserveErr = nil
		return nil, err
	}
	if len(q.jobs) == 0 {
		return nil, model.ErrNoJobsAvailable
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	return j, nil
}

func (q *fakeQueue) Heartbeat(context.Context, string, int) (bool, error) {
	q.heartbeats.Add(1)
	if q.heartbeatErr != nil {
		return false, q.heartbeatErr
	}
	return q.leaseOK, nil
}

func (q *fakeQueue) WaitForNotification(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type execFunc func(ctx context.Context, jobID string) error

func (f execFunc) Run(ctx context.Context, jobID string) error { return f(ctx, jobID) }

func testLease(t *testing.T) domainjob.LeasePolicy {
	t.Helper()
	lp, err := domainjob.NewLeasePolicy(5*time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	return lp
}

func TestNewRunner_RequiresDependencies(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)
	_, err = NewRunner(RunnerOptions{Queue: &fakeQueue{}})
	require.Error(t, err)
}

func TestRunner_ProcessesReservedJobs(t *testing.T) {
	q := &fakeQueue{
		jobs:       []*model.Job{{ID: "a"}, {ID: "b"}},
		reserveErr: errors.New("connection reset"),
		leaseOK:    true,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		ran []string
	)
	exec := execFunc(func(_ context.Context, id string) error {
		mu.Lock()
		defer mu.Unlock()
		ran = append(ran, id)
		if len(ran) == 2 {
			cancel()
		}
		return nil
	})

	r, err := NewRunner(RunnerOptions{
		Queue:          q,
		Executor:       exec,
		Lease:          testLease(t),
		ReserveBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, []string{"a", "b"}, ran)
	assert.Equal(t, 5, q.leases[0], "lease passed in whole seconds")
}

func TestRunner_LostLeaseCancelsRun(t *testing.T) {
	q := &fakeQueue{jobs: []*model.Job{{ID: "a"}}, leaseOK: false}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	canceled := make(chan struct{})
	exec := execFunc(func(jobCtx context.Context, _ string) error {
		<-jobCtx.Done()
		close(canceled)
		cancel()
		return jobCtx.Err()
	})

	r, err := NewRunner(RunnerOptions{Queue: q, Executor: exec, Lease: testLease(t)})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("job context was not cancelled after the lease was lost")
	}
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, q.heartbeats.Load(), int64(1))
}

// steppingClock advances by step on every reading.
type steppingClock struct {
	mu   sync.Mutex
	at   time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.at
	c.at = c.at.Add(c.step)
	return now
}

func TestRunner_FailingHeartbeatsCancelRunAfterLease(t *testing.T) {
	q := &fakeQueue{jobs: []*model.Job{{ID: "a"}}, heartbeatErr: errors.New("connection refused")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	canceled := make(chan struct{})
	exec := execFunc(func(jobCtx context.Context, _ string) error {
		<-jobCtx.Done()
		close(canceled)
		cancel()
		return jobCtx.Err()
	})

	r, err := NewRunner(RunnerOptions{Queue: q, Executor: exec, Lease: testLease(t)})
	require.NoError(t, err)
	clock := &steppingClock{at: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
	r.now = clock.Now

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("job context was not cancelled after a lease without heartbeats")
	}
	require.NoError(t, <-done)
	// Reserved at t0; failures at t0+1s..t0+4s are tolerated, t0+5s is a full lease.
	assert.Equal(t, int64(5), q.heartbeats.Load())
}
