package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/orderguard/orderguard/internal/core"
	"github.com/orderguard/orderguard/internal/domain/decision"
	"github.com/orderguard/orderguard/internal/domain/model"
	"github.com/orderguard/orderguard/internal/service/cache"
)

const (
	defaultRuleSetTTL      = 5 * time.Minute
	defaultRuleSetCapacity = 1024
)

// DecisionMetrics receives one signal per completed evaluation.
type DecisionMetrics interface {
	DecisionEvaluated(action model.Action, d time.Duration)
}

// DecisionServiceOptions groups dependencies for DecisionService.
type DecisionServiceOptions struct {
	Engine   *decision.Engine      // Required: decision engine
	Compiler *decision.CELCompiler // Optional: defaults to a fresh CEL compiler
	Rules    core.RuleRepository   // Optional: tenant rules; without it every tenant gets Fallback
	// Fallback is used when a tenant has no rules for the requested rule set.
	Fallback   []model.RuleDefinition
	RuleSetTTL time.Duration
	// RuleSetCapacity bounds the number of compiled rule sets kept in memory.
	RuleSetCapacity int
	Options         decision.Options
	Metrics         DecisionMetrics
	Logger          *slog.Logger
}

// DecisionService evaluates payloads against the tenant's compiled rule set.
type DecisionService struct {
	engine   *decision.Engine
	compiler *decision.CELCompiler
	rules    core.RuleRepository
	fallback []decision.Rule
	ruleSets *cache.LRU[[]decision.Rule]
	ttl      time.Duration
	sf       singleflight.Group
	opts     decision.Options
	metrics  DecisionMetrics
	logger   *slog.Logger
}

// NewDecisionService compiles the fallback rules and builds the service.
// An invalid fallback rule set is a configuration error.
func NewDecisionService(opts DecisionServiceOptions) (*DecisionService, error) {
	if opts.Engine == nil {
		return nil, errors.New("decision engine is required")
	}
	compiler := opts.Compiler
	if compiler == nil {
		var err error
		if compiler, err = decision.NewCELCompiler(); err != nil {
			return nil, err
		}
	}
	fallback, err := compiler.Compile(opts.Fallback)
	if err != nil {
		return nil, fmt.Errorf("compile fallback rules: %w", err)
	}

	ttl := opts.RuleSetTTL
	if ttl <= 0 {
		ttl = defaultRuleSetTTL
	}
	capacity := opts.RuleSetCapacity
	if capacity <= 0 {
		capacity = defaultRuleSetCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DecisionService{
		engine:   opts.Engine,
		compiler: compiler,
		rules:    opts.Rules,
		fallback: fallback,
		ruleSets: cache.NewLRU[[]decision.Rule](cache.LRUConfig{Capacity: capacity}),
		ttl:      ttl,
		opts:     opts.Options,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "decision_service"),
	}, nil
}

// Engine exposes the underlying engine, used by dedupe to reach the field validators.
func (s *DecisionService) Engine() *decision.Engine { return s.engine }

// Evaluate runs payload through the engine with the tenant's rule set.
func (s *DecisionService) Evaluate(
	ctx context.Context,
	tenantID, ruleSet string,
	payload *model.ValidationPayload,
) (*model.Decision, error) {
	rules, err := s.RuleSet(ctx, tenantID, ruleSet)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	d, err := s.engine.Evaluate(ctx, payload, rules, s.opts)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if s.metrics != nil {
		s.metrics.DecisionEvaluated(d.FinalDecision.Action, time.Since(start))
	}
	return d, nil
}

// RuleSet returns the compiled rules for tenantID and ruleSet.
// Concurrent misses for the same key share one load.
func (s *DecisionService) RuleSet(ctx context.Context, tenantID, ruleSet string) ([]decision.Rule, error) {
	if s.rules == nil || strings.TrimSpace(tenantID) == "" {
		return s.fallback, nil
	}
	if ruleSet == "" {
		ruleSet = model.DefaultRuleSet
	}
	key := ruleSetKey(tenantID, ruleSet)
	if rules, ok := s.ruleSets.Get(key); ok {
		return rules, nil
	}

	v, err, _ := s.sf.Do(key, func() (any, error) {
		if rules, ok := s.ruleSets.Get(key); ok {
			return rules, nil
		}
		rules, err := s.load(context.WithoutCancel(ctx), tenantID, ruleSet)
		if err != nil {
			return nil, err
		}
		s.ruleSets.Set(key, rules, s.ttl)
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	rules, _ := v.([]decision.Rule)
	return rules, nil
}

// InvalidateRuleSet drops a cached rule set so the next evaluation reloads it.
func (s *DecisionService) InvalidateRuleSet(tenantID, ruleSet string) {
	if ruleSet == "" {
		ruleSet = model.DefaultRuleSet
	}
	s.ruleSets.Delete(ruleSetKey(tenantID, ruleSet))
}

func (s *DecisionService) load(ctx context.Context, tenantID, ruleSet string) ([]decision.Rule, error) {
	defs, err := s.rules.ListByRuleSet(ctx, tenantID, ruleSet)
	if err != nil {
		return nil, fmt.Errorf("load rules for tenant %s: %w", tenantID, err)
	}
	if len(defs) == 0 {
		s.logger.DebugContext(ctx, "tenant has no rules, using fallback",
			"tenant_id", tenantID, "rule_set", ruleSet)
		return s.fallback, nil
	}
	rules, err := s.compiler.Compile(defs)
	if err != nil {
		s.logger.ErrorContext(ctx, "tenant rule set is invalid",
			"tenant_id", tenantID, "rule_set", ruleSet, "error", err)
		return nil, fmt.Errorf("compile rules for tenant %s: %w", tenantID, err)
	}
	return rules, nil
}

func ruleSetKey(tenantID, ruleSet string) string {
	return tenantID + "\x00" + ruleSet
}
