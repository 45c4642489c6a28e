package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/orderguard/orderguard/config"
	"github.com/orderguard/orderguard/internal/core"
	"github.com/orderguard/orderguard/internal/domain/model"
	"github.com/orderguard/orderguard/internal/mocks"
)

type sinkCall struct {
	kind  string
	name  string
	value float64
	tags  map[string]string
}

type captureSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (c *captureSink) record(kind, name string, v float64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, sinkCall{kind: kind, name: name, value: v, tags: tags})
}

func (c *captureSink) Count(name string, v int64, tags map[string]string) {
	c.record("count", name, float64(v), tags)
}

func (c *captureSink) Gauge(name string, v float64, tags map[string]string) {
	c.record("gauge", name, v, tags)
}

func (c *captureSink) Timing(name string, d time.Duration, tags map[string]string) {
	c.record("timing", name, float64(d), tags)
}

func (c *captureSink) find(name string) []sinkCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sinkCall
	for _, call := range c.calls {
		if call.name == name {
			out = append(out, call)
		}
	}
	return out
}

func TestNewSweeperService_RequiresRepo(t *testing.T) {
	_, err := NewSweeperService(SweeperServiceOptions{})
	require.Error(t, err)
}

func TestSweeperService_Sweep(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobSweeperRepository(ctrl)
	sink := &captureSink{}

	repo.EXPECT().
		ReannounceStale(gomock.Any(), core.ReannounceParams{StaleAfter: 2 * time.Minute, Limit: 100}).
		Return(3, nil)
	repo.EXPECT().Stats(gomock.Any()).Return(&model.JobStats{Pending: 4, Processing: 1, Completed: 9}, nil)

	svc, err := NewSweeperService(SweeperServiceOptions{
		Repo:    repo,
		Config:  config.SweeperConfig{Interval: time.Minute, PendingStaleAfter: 2 * time.Minute, BatchSize: 100},
		Metrics: sink,
	})
	require.NoError(t, err)

	n, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	reannounced := sink.find("sweeper.reannounced")
	require.Len(t, reannounced, 1)
	assert.InDelta(t, 3, reannounced[0].value, 0)

	transitions := sink.find("job.transition")
	require.Len(t, transitions, 1)
	assert.Equal(t, "success", transitions[0].tags["result"])

	gauges := sink.find("jobs.count")
	require.Len(t, gauges, 4)
	byStatus := map[string]float64{}
	for _, g := range gauges {
		byStatus[g.tags["status"]] = g.value
	}
	assert.Equal(t, map[string]float64{"pending": 4, "processing": 1, "completed": 9, "failed": 0}, byStatus)
}

func TestSweeperService_SweepErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobSweeperRepository(ctrl)
	sink := &captureSink{}
	svc, err := NewSweeperService(SweeperServiceOptions{Repo: repo, Metrics: sink})
	require.NoError(t, err)

	repo.EXPECT().ReannounceStale(gomock.Any(), gomock.Any()).Return(0, errors.New("db down"))
	_, err = svc.Sweep(context.Background())
	require.ErrorContains(t, err, "db down")
	transitions := sink.find("job.transition")
	require.Len(t, transitions, 1)
	assert.Equal(t, "error", transitions[0].tags["result"])

	repo.EXPECT().ReannounceStale(gomock.Any(), gomock.Any()).Return(0, nil)
	repo.EXPECT().Stats(gomock.Any()).Return(nil, errors.New("stats down"))
	_, err = svc.Sweep(context.Background())
	require.ErrorContains(t, err, "stats down")
	assert.Empty(t, sink.find("sweeper.reannounced"))
}

func TestSweeperService_RunStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobSweeperRepository(ctrl)
	repo.EXPECT().ReannounceStale(gomock.Any(), gomock.Any()).Return(0, nil).AnyTimes()
	repo.EXPECT().Stats(gomock.Any()).Return(&model.JobStats{}, nil).AnyTimes()

	svc, err := NewSweeperService(SweeperServiceOptions{Repo: repo})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
