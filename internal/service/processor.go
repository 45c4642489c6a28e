package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/orderguard/orderguard/internal/domain/batch"
	"github.com/orderguard/orderguard/internal/domain/model"
	apperrors "github.com/orderguard/orderguard/internal/errors"
)

// mapperCache reuses compiled mappers across the items of one job.
type mapperCache struct {
	mu      sync.Mutex
	mappers map[string]*FieldMapper
}

func (c *mapperCache) get(mapping map[string]string) (*FieldMapper, error) {
	if len(mapping) == 0 {
		return &FieldMapper{}, nil
	}
	raw, err := json.Marshal(mapping)
	if err != nil {
		return nil, err
	}
	key := string(raw)

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.mappers[key]; ok {
		return m, nil
	}
	m, err := NewFieldMapper(mapping, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	if c.mappers == nil || len(c.mappers) >= 64 {
		c.mappers = make(map[string]*FieldMapper)
	}
	c.mappers[key] = m
	return m, nil
}

// ValidateProcessor evaluates one item with the tenant's rule set.
type ValidateProcessor struct {
	decisions *DecisionService
	mappers   mapperCache
}

// NewValidateProcessor builds the processor for validate jobs.
func NewValidateProcessor(decisions *DecisionService) (*ValidateProcessor, error) {
	if decisions == nil {
		return nil, errors.New("DecisionService is required")
	}
	return &ValidateProcessor{decisions: decisions}, nil
}

// Prepare resolves the job's field mapping and the tenant's rule set so that an
// invalid configuration fails the job before its first item.
func (p *ValidateProcessor) Prepare(ctx context.Context, job *model.Job) error {
	if _, err := p.mappers.get(job.Options.FieldMapping); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "invalid field mapping")
	}
	if _, err := p.decisions.RuleSet(ctx, job.TenantID, job.Options.RuleSet); err != nil {
		return fmt.Errorf("resolve rule set: %w", err)
	}
	return nil
}

// Process implements batch.ItemProcessor.
func (p *ValidateProcessor) Process(ctx context.Context, item json.RawMessage, tenantID string) (any, error) {
	opts := batch.JobOptionsFrom(ctx)
	mapper, err := p.mappers.get(opts.FieldMapping)
	if err != nil {
		return nil, err
	}
	payload, err := mapper.Map(item)
	if err != nil {
		return nil, err
	}
	return p.decisions.Evaluate(ctx, tenantID, opts.RuleSet, payload)
}

// DedupeProcessor matches one item against existing customers.
type DedupeProcessor struct {
	dedupe  *DedupeService
	mappers mapperCache
}

// NewDedupeProcessor builds the processor for dedupe jobs.
func NewDedupeProcessor(dedupe *DedupeService) (*DedupeProcessor, error) {
	if dedupe == nil {
		return nil, errors.New("DedupeService is required")
	}
	return &DedupeProcessor{dedupe: dedupe}, nil
}

// Prepare rejects an invalid field mapping before any item is matched.
func (p *DedupeProcessor) Prepare(_ context.Context, job *model.Job) error {
	if _, err := p.mappers.get(job.Options.FieldMapping); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "invalid field mapping")
	}
	return nil
}

// Process implements batch.ItemProcessor.
func (p *DedupeProcessor) Process(ctx context.Context, item json.RawMessage, tenantID string) (any, error) {
	mapper, err := p.mappers.get(batch.JobOptionsFrom(ctx).FieldMapping)
	if err != nil {
		return nil, err
	}
	payload, err := mapper.Map(item)
	if err != nil {
		return nil, err
	}
	return p.dedupe.FindMatches(ctx, payload, tenantID)
}

var (
	_ batch.ItemProcessor = (*ValidateProcessor)(nil)
	_ batch.ItemProcessor = (*DedupeProcessor)(nil)
	_ batch.JobPreparer   = (*ValidateProcessor)(nil)
	_ batch.JobPreparer   = (*DedupeProcessor)(nil)
)
