// Package batch drives durable bulk jobs through per-item processors.
package batch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orderguard/orderguard/internal/domain/model"
)

// ItemProcessor handles one input item and returns a JSON-encodable result.
// Errors are recorded on the item. A configuration error (see apperrors.IsConfiguration)
// fails the whole job instead.
type ItemProcessor interface {
	Process(ctx context.Context, item json.RawMessage, tenantID string) (any, error)
}

// ItemProcessorFunc is an adapter to allow ordinary functions to act as ItemProcessors.
type ItemProcessorFunc func(ctx context.Context, item json.RawMessage, tenantID string) (any, error)

// Process calls f(ctx, item, tenantID).
func (f ItemProcessorFunc) Process(ctx context.Context, item json.RawMessage, tenantID string) (any, error) {
	return f(ctx, item, tenantID)
}

// JobPreparer is implemented by processors with job-level preconditions, such as
// resolving the tenant's rule set. An error fails the job before any item runs.
type JobPreparer interface {
	Prepare(ctx context.Context, job *model.Job) error
}

type jobOptionsKey struct{}

// WithJobOptions attaches the running job's options to ctx for item processors.
func WithJobOptions(ctx context.Context, opts model.JobOptions) context.Context {
	return context.WithValue(ctx, jobOptionsKey{}, opts)
}

// JobOptionsFrom returns the options attached by WithJobOptions, or the zero value.
func JobOptionsFrom(ctx context.Context) model.JobOptions {
	opts, _ := ctx.Value(jobOptionsKey{}).(model.JobOptions)
	return opts
}

// SafeProcess runs p on one item and always returns a well-formed ItemResult.
// Errors, panics and unencodable results become error items.
func SafeProcess(
	ctx context.Context,
	p ItemProcessor,
	index int,
	item json.RawMessage,
	tenantID string,
) model.ItemResult {
	res, _ := safeProcess(ctx, p, index, item, tenantID)
	return res
}

// safeProcess is SafeProcess that also returns the processor's own error.
func safeProcess(
	ctx context.Context,
	p ItemProcessor,
	index int,
	item json.RawMessage,
	tenantID string,
) (res model.ItemResult, procErr error) {
	defer func() {
		if r := recover(); r != nil {
			res = model.ErrItem(index, item, fmt.Sprintf("item processor panic: %v", r))
			procErr = nil
		}
	}()

	out, err := p.Process(ctx, item, tenantID)
	if err != nil {
		return model.ErrItem(index, item, err.Error()), err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return model.ErrItem(index, item, fmt.Sprintf("encode item result: %v", err)), nil
	}
	return model.OkItem(index, item, raw), nil
}
