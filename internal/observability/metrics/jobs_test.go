package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderguard/orderguard/internal/domain/model"
	apperrors "github.com/orderguard/orderguard/internal/errors"
)

type recorded struct {
	kind string
	name string
	tags map[string]string
}

type fakeSink struct {
	mu   sync.Mutex
	recs []recorded
}

func (f *fakeSink) add(kind, name string, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, recorded{kind: kind, name: name, tags: tags})
}

func (f *fakeSink) Count(name string, _ int64, tags map[string]string)       { f.add("count", name, tags) }
func (f *fakeSink) Gauge(name string, _ float64, tags map[string]string)     { f.add("gauge", name, tags) }
func (f *fakeSink) Timing(name string, _ time.Duration, tags map[string]string) { f.add("timing", name, tags) }

func TestEmitJobLifecycle_ClassifiesErrors(t *testing.T) {
	sink := &fakeSink{}
	EmitJobLifecycle(sink, JobMetric{
		JobType:    "validate",
		Transition: "processing_to_failed",
		Result:     ResultError,
		Duration:   time.Second,
		Err:        apperrors.Wrap(errors.New("conn reset"), apperrors.ErrCodeUnavailable, "store"),
	})

	require.Len(t, sink.recs, 2)
	assert.Equal(t, "job.transition", sink.recs[0].name)
	assert.Equal(t, "unavailable", sink.recs[0].tags["error_class"])
	assert.Equal(t, "job.duration", sink.recs[1].name)

	EmitJobLifecycle(nil, JobMetric{}) // no panic
}

func TestPipelineMetrics(t *testing.T) {
	sink := &fakeSink{}
	m := NewPipeline(sink)

	m.ItemProcessed(model.JobTypeDedupe, false)
	m.ProgressPublishFailed(model.JobTypeDedupe)
	m.JobFinished(model.JobTypeDedupe, model.JobStatusCompleted, 0)
	m.DecisionEvaluated(model.ActionHold, time.Millisecond)

	require.Len(t, sink.recs, 5)
	assert.Equal(t, "error", sink.recs[0].tags["result"])
	assert.Equal(t, "job.progress_publish_failed", sink.recs[1].name)
	assert.Equal(t, "processing_to_completed", sink.recs[2].tags["transition"])
	assert.Equal(t, "hold", sink.recs[3].tags["action"])

	var nilMetrics *Pipeline
	nilMetrics.ItemProcessed(model.JobTypeValidate, true)
	NewPipeline(nil).DecisionEvaluated(model.ActionApprove, 0)
}
