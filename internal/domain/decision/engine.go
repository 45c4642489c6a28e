// Package decision turns a validation payload into a rule-driven risk decision.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/orderguard/orderguard/internal/domain/model"
	apperrors "github.com/orderguard/orderguard/internal/errors"
)

const (
	tracerName = "github.com/orderguard/orderguard/internal/domain/decision"

	// DefaultValidatorTimeout bounds a validator call when neither the engine nor the call sets one.
	DefaultValidatorTimeout = 2 * time.Second
)

// Options control a single evaluation.
type Options struct {
	// Timeout bounds each validator. Zero uses the engine default.
	Timeout time.Duration
	// UseCache allows reading and writing the decision cache.
	UseCache bool
	// FillMissing adds "not evaluated" placeholders for required fields absent from the payload.
	FillMissing bool
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Validators     []FieldValidator
	RequiredFields []model.FieldName
	Weights        Weights
	Thresholds     Thresholds
	DefaultTimeout time.Duration
	Cache          Cache
	Logger         *slog.Logger
	Tracer         trace.Tracer
}

// Engine evaluates payloads against rule sets. It is safe for concurrent use.
type Engine struct {
	registry       Registry
	required       []model.FieldName
	weights        Weights
	thresholds     Thresholds
	defaultTimeout time.Duration
	cache          Cache
	logger         *slog.Logger
	tracer         trace.Tracer
}

// NewEngine validates the configuration and builds an Engine.
// Every required field must have a registered validator.
func NewEngine(opts EngineOptions) (*Engine, error) {
	reg, err := NewRegistry(opts.Validators...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "invalid validator set")
	}
	for _, f := range opts.RequiredFields {
		if _, ok := reg[f]; !ok {
			return nil, apperrors.Configurationf("no validator registered for configured field %q", f)
		}
	}

	thresholds := opts.Thresholds
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	if err := thresholds.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "invalid risk thresholds")
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "invalid field weights")
	}

	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultValidatorTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Engine{
		registry:       reg,
		required:       append([]model.FieldName(nil), opts.RequiredFields...),
		weights:        opts.Weights,
		thresholds:     thresholds,
		defaultTimeout: timeout,
		cache:          opts.Cache,
		logger:         logger.With("component", "decision_engine"),
		tracer:         tracer,
	}, nil
}

// Validator returns the validator registered for field, if any.
func (e *Engine) Validator(field model.FieldName) (FieldValidator, bool) {
	v, ok := e.registry[field]
	return v, ok
}

// Evaluate runs the validators for every present field, applies rules in priority
// order and aggregates the final decision.
// Only a structurally invalid rule set produces an error; per-field and per-rule
// failures are recorded in the returned Decision.
func (e *Engine) Evaluate(
	ctx context.Context,
	payload *model.ValidationPayload,
	rules []Rule,
	opts Options,
) (*model.Decision, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = &model.ValidationPayload{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = e.defaultTimeout
	}

	ctx, span := e.tracer.Start(ctx, "decision.Evaluate",
		trace.WithAttributes(attribute.Int("decision.rules", len(rules))))
	defer span.End()

	key := e.cacheKey(ctx, payload, rules, opts)
	if cached := e.cacheGet(ctx, key); cached != nil {
		span.SetAttributes(attribute.Bool("decision.cache_hit", true))
		return cached, nil
	}

	fields := e.evaluateFields(ctx, payload, opts)
	act := Activation{Fields: fields, Payload: payload}

	sorted := SortRules(rules)
	evals := make([]model.RuleEvaluation, len(sorted))
	for i, r := range sorted {
		evals[i] = evaluateRule(ctx, r, act)
	}

	final, err := Aggregate(AggregateInput{
		Fields:      fields,
		Rules:       sorted,
		Evaluations: evals,
		Weights:     e.weights,
		Thresholds:  e.thresholds,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("aggregate decision: %w", err)
	}

	d := &model.Decision{
		FieldResults:    fields,
		RuleEvaluations: evals,
		FinalDecision:   final,
	}
	span.SetAttributes(
		attribute.String("decision.action", string(final.Action)),
		attribute.Float64("decision.risk_score", final.RiskScore),
	)
	if degraded(d) {
		span.SetAttributes(attribute.Bool("decision.degraded", true))
	} else {
		e.cacheSet(ctx, key, d)
	}
	return d, nil
}

// degraded reports whether a validator or rule failed instead of producing an outcome.
// Degraded decisions are never cached.
func degraded(d *model.Decision) bool {
	for _, r := range d.FieldResults {
		if r.HasReason(ReasonValidatorTimeout) || r.HasReason(ReasonValidatorError) || r.HasReason(ReasonValidatorPanic) {
			return true
		}
	}
	for _, ev := range d.RuleEvaluations {
		if ev.Error != "" {
			return true
		}
	}
	return false
}

func (e *Engine) evaluateFields(
	ctx context.Context,
	payload *model.ValidationPayload,
	opts Options,
) map[model.FieldName]model.FieldResult {
	inputs := payload.FieldInputs()
	results := make(map[model.FieldName]model.FieldResult, len(inputs)+len(e.required))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for field, in := range inputs {
		v, ok := e.registry[field]
		if !ok {
			continue
		}
		vctx := ValidationContext{Input: in, Payload: payload}
		g.Go(func() error {
			res := RunValidator(ctx, v, vctx, opts.Timeout)
			mu.Lock()
			results[field] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if opts.FillMissing {
		for _, f := range e.required {
			if _, ok := results[f]; !ok {
				results[f] = notEvaluated()
			}
		}
	}
	return results
}

func evaluateRule(ctx context.Context, r Rule, act Activation) (ev model.RuleEvaluation) {
	ev = model.RuleEvaluation{
		RuleID:    r.ID,
		Action:    r.Action,
		Priority:  r.Priority,
		RiskScore: r.RiskScore,
	}
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			ev.Triggered = false
			ev.Error = fmt.Sprintf("panic: %v", rec)
		}
		ev.EvaluationTime = time.Since(start)
	}()

	triggered, err := r.Condition.Eval(ctx, act)
	if err != nil {
		ev.Error = err.Error()
		return ev
	}
	ev.Triggered = triggered
	return ev
}

func (e *Engine) cacheKey(
	ctx context.Context,
	payload *model.ValidationPayload,
	rules []Rule,
	opts Options,
) string {
	if !opts.UseCache || e.cache == nil {
		return ""
	}
	key, err := CacheKey(payload, Fingerprint(rules), opts)
	if err != nil {
		e.logger.WarnContext(ctx, "decision cache key failed", "error", err)
		return ""
	}
	return key
}

func (e *Engine) cacheGet(ctx context.Context, key string) *model.Decision {
	if key == "" {
		return nil
	}
	d, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.WarnContext(ctx, "decision cache read failed", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return d
}

func (e *Engine) cacheSet(ctx context.Context, key string, d *model.Decision) {
	if key == "" {
		return
	}
	if err := e.cache.Set(ctx, key, d); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.WarnContext(ctx, "decision cache write failed", "error", err)
	}
}
