// Package metrics emits the service's StatsD signals with consistent names and tags.
package metrics

import (
	"time"

	"github.com/orderguard/orderguard/internal/domain/model"
	obserrors "github.com/orderguard/orderguard/internal/observability/errors"
	"github.com/orderguard/orderguard/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobType    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type":   in.JobType,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Pipeline reports batch pipeline and decision signals to a StatsD sink.
// A nil sink discards everything.
type Pipeline struct {
	sink statsd.Sink
}

// NewPipeline wraps sink.
func NewPipeline(sink statsd.Sink) *Pipeline {
	return &Pipeline{sink: sink}
}

// ItemProcessed counts one item outcome.
func (p *Pipeline) ItemProcessed(jobType model.JobType, ok bool) {
	if p == nil || p.sink == nil {
		return
	}
	result := ResultSuccess
	if !ok {
		result = ResultError
	}
	p.sink.Count("job.item", 1, map[string]string{"job_type": string(jobType), "result": result})
}

// ProgressPublishFailed counts a best-effort publish that did not go out.
func (p *Pipeline) ProgressPublishFailed(jobType model.JobType) {
	if p == nil || p.sink == nil {
		return
	}
	p.sink.Count("job.progress_publish_failed", 1, map[string]string{"job_type": string(jobType)})
}

// JobFinished emits the terminal transition of a job.
func (p *Pipeline) JobFinished(jobType model.JobType, status model.JobStatus, d time.Duration) {
	if p == nil {
		return
	}
	result := ResultSuccess
	if status == model.JobStatusFailed {
		result = ResultError
	}
	EmitJobLifecycle(p.sink, JobMetric{
		JobType:    string(jobType),
		Transition: "processing_to_" + string(status),
		Result:     result,
		Duration:   d,
	})
}

// DecisionEvaluated counts one decision by action and times the evaluation.
func (p *Pipeline) DecisionEvaluated(action model.Action, d time.Duration) {
	if p == nil || p.sink == nil {
		return
	}
	tags := map[string]string{"action": string(action)}
	p.sink.Count("decision.evaluated", 1, tags)
	p.sink.Timing("decision.duration", d, CloneTags(tags))
}
