package decision

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderguard/orderguard/internal/domain/model"
	apperrors "github.com/orderguard/orderguard/internal/errors"
)

type stubValidator struct {
	field        model.FieldName
	normalizeErr error
	score        func(ctx context.Context, normalized string) (Assessment, error)
	calls        atomic.Int32
}

func (s *stubValidator) Field() model.FieldName { return s.field }

func (s *stubValidator) Normalize(in model.FieldInput) (string, error) {
	if s.normalizeErr != nil {
		return "", s.normalizeErr
	}
	return in.Text, nil
}

func (s *stubValidator) Score(ctx context.Context, normalized string, _ ValidationContext) (Assessment, error) {
	s.calls.Add(1)
	if s.score == nil {
		return Assessment{Valid: true, Confidence: 0.9, RiskScore: 0.1}, nil
	}
	return s.score(ctx, normalized)
}

func (s *stubValidator) Explain(code string) string { return code }

func fixed(field model.FieldName, a Assessment) *stubValidator {
	return &stubValidator{
		field: field,
		score: func(context.Context, string) (Assessment, error) { return a, nil },
	}
}

func always(triggered bool) Condition {
	return ConditionFunc(func(context.Context, Activation) (bool, error) { return triggered, nil })
}

func strPtr(s string) *string { return &s }

func newTestEngine(t *testing.T, opts EngineOptions) *Engine {
	t.Helper()
	e, err := NewEngine(opts)
	require.NoError(t, err)
	return e
}

func TestEngine_EmptyPayloadApproves(t *testing.T) {
	e := newTestEngine(t, EngineOptions{})

	d, err := e.Evaluate(context.Background(), &model.ValidationPayload{}, nil, Options{})
	require.NoError(t, err)

	assert.Empty(t, d.FieldResults)
	assert.Empty(t, d.RuleEvaluations)
	assert.Equal(t, model.ActionApprove, d.FinalDecision.Action)
	assert.Zero(t, d.FinalDecision.RiskScore)
	assert.Equal(t, model.RiskLow, d.FinalDecision.RiskLevel)

	d, err = e.Evaluate(context.Background(), nil, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.ActionApprove, d.FinalDecision.Action)
}

func TestEngine_PriorityTiesKeepInsertionOrder(t *testing.T) {
	e := newTestEngine(t, EngineOptions{})
	rules := []Rule{
		{ID: "a", Priority: 1, Action: model.ActionReview, Condition: always(false)},
		{ID: "b", Priority: 1, Action: model.ActionReview, Condition: always(false)},
		{ID: "first", Priority: 0, Action: model.ActionReview, Condition: always(false)},
		{ID: "c", Priority: 1, Action: model.ActionReview, Condition: always(false)},
	}

	d, err := e.Evaluate(context.Background(), nil, rules, Options{})
	require.NoError(t, err)

	ids := make([]string, len(d.RuleEvaluations))
	for i, ev := range d.RuleEvaluations {
		ids[i] = ev.RuleID
	}
	assert.Equal(t, []string{"first", "a", "b", "c"}, ids)
}

func TestEngine_MostSevereTriggeredActionWins(t *testing.T) {
	e := newTestEngine(t, EngineOptions{})
	rules := []Rule{
		{ID: "hold", Priority: 1, Action: model.ActionHold, Condition: always(true)},
		{ID: "block", Priority: 2, Action: model.ActionBlock, Condition: always(true)},
		{ID: "review", Priority: 3, Action: model.ActionReview, Condition: always(true)},
		{ID: "quiet-block", Priority: 4, Action: model.ActionBlock, Condition: always(false)},
	}

	d, err := e.Evaluate(context.Background(), nil, rules, Options{})
	require.NoError(t, err)

	assert.Equal(t, model.ActionBlock, d.FinalDecision.Action)
	assert.Equal(t, []string{"rule:hold", "rule:block", "rule:review"}, d.FinalDecision.Reasons)
	require.Len(t, d.RuleEvaluations, 4)
	assert.False(t, d.RuleEvaluations[3].Triggered)
}

func TestEngine_ValidatorTimeoutIsBounded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stuck := &stubValidator{
		field: model.FieldEmail,
		score: func(context.Context, string) (Assessment, error) {
			<-release // ignores ctx entirely
			return Assessment{Valid: true, Confidence: 1}, nil
		},
	}
	e := newTestEngine(t, EngineOptions{
		Validators: []FieldValidator{stuck, fixed(model.FieldIP, Assessment{Valid: true, Confidence: 0.8, RiskScore: 0.2})},
	})

	start := time.Now()
	d, err := e.Evaluate(context.Background(), &model.ValidationPayload{
		Email: strPtr("slow@example.com"),
		IP:    strPtr("203.0.113.7"),
	}, nil, Options{Timeout: 30 * time.Millisecond})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	email := d.FieldResults[model.FieldEmail]
	assert.False(t, email.Valid)
	assert.Zero(t, email.Confidence)
	assert.Equal(t, []string{ReasonValidatorTimeout}, email.ReasonCodes)

	ip := d.FieldResults[model.FieldIP]
	assert.True(t, ip.Valid)
	assert.InDelta(t, 0.8, ip.Confidence, 1e-9)
}

func TestEngine_ValidatorsRunConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	barrier := func(context.Context, string) (Assessment, error) {
		wg.Done()
		wg.Wait() // deadlocks unless both validators run at once
		return Assessment{Valid: true, Confidence: 1}, nil
	}
	e := newTestEngine(t, EngineOptions{
		Validators: []FieldValidator{
			&stubValidator{field: model.FieldEmail, score: barrier},
			&stubValidator{field: model.FieldPhone, score: barrier},
		},
	})

	d, err := e.Evaluate(context.Background(), &model.ValidationPayload{
		Email: strPtr("a@example.com"),
		Phone: strPtr("+14155550100"),
	}, nil, Options{Timeout: time.Second})
	require.NoError(t, err)
	assert.True(t, d.FieldResults[model.FieldEmail].Valid)
	assert.True(t, d.FieldResults[model.FieldPhone].Valid)
}

func TestEngine_ValidatorFailuresAreIsolated(t *testing.T) {
	e := newTestEngine(t, EngineOptions{
		Validators: []FieldValidator{
			&stubValidator{
				field: model.FieldEmail,
				score: func(context.Context, string) (Assessment, error) { return Assessment{}, errors.New("provider down") },
			},
			&stubValidator{
				field: model.FieldPhone,
				score: func(context.Context, string) (Assessment, error) { panic("bad provider") },
			},
			&stubValidator{field: model.FieldIP, normalizeErr: Malformed("ip_invalid", "not an address")},
			fixed(model.FieldDevice, Assessment{Valid: true, Confidence: 0.7, RiskScore: 0.3, ReasonCodes: []string{"x", "x"}}),
		},
	})

	d, err := e.Evaluate(context.Background(), &model.ValidationPayload{
		Email:     strPtr("a@example.com"),
		Phone:     strPtr("123"),
		IP:        strPtr("nope"),
		UserAgent: strPtr("Mozilla/5.0"),
	}, nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{ReasonValidatorError}, d.FieldResults[model.FieldEmail].ReasonCodes)
	assert.Equal(t, []string{ReasonValidatorPanic}, d.FieldResults[model.FieldPhone].ReasonCodes)
	assert.Zero(t, d.FieldResults[model.FieldPhone].Confidence)

	ip := d.FieldResults[model.FieldIP]
	assert.False(t, ip.Valid)
	assert.Equal(t, []string{"ip_invalid"}, ip.ReasonCodes)

	assert.Equal(t, []string{"x"}, d.FieldResults[model.FieldDevice].ReasonCodes)
}

func TestEngine_RuleFailuresDoNotAbortEvaluation(t *testing.T) {
	e := newTestEngine(t, EngineOptions{})
	rules := []Rule{
		{ID: "errors", Priority: 1, Action: model.ActionBlock, Condition: ConditionFunc(
			func(context.Context, Activation) (bool, error) { return true, errors.New("no such key: email") })},
		{ID: "panics", Priority: 2, Action: model.ActionBlock, Condition: ConditionFunc(
			func(context.Context, Activation) (bool, error) { panic("nil map") })},
		{ID: "holds", Priority: 3, Action: model.ActionHold, RiskScore: 0.4, Condition: always(true)},
	}

	d, err := e.Evaluate(context.Background(), nil, rules, Options{})
	require.NoError(t, err)
	require.Len(t, d.RuleEvaluations, 3)

	assert.False(t, d.RuleEvaluations[0].Triggered)
	assert.Contains(t, d.RuleEvaluations[0].Error, "no such key")
	assert.False(t, d.RuleEvaluations[1].Triggered)
	assert.Contains(t, d.RuleEvaluations[1].Error, "panic")
	assert.True(t, d.RuleEvaluations[2].Triggered)

	assert.Equal(t, model.ActionHold, d.FinalDecision.Action)
	assert.InDelta(t, 0.4, d.FinalDecision.RiskScore, 1e-9)
	assert.Equal(t, model.RiskMedium, d.FinalDecision.RiskLevel)
}

func TestEngine_InvalidRuleSetIsConfigurationError(t *testing.T) {
	e := newTestEngine(t, EngineOptions{})

	tests := []struct {
		name  string
		rules []Rule
	}{
		{"duplicate ids", []Rule{
			{ID: "dup", Action: model.ActionHold, Condition: always(true)},
			{ID: "dup", Action: model.ActionBlock, Condition: always(true)},
		}},
		{"empty id", []Rule{{Action: model.ActionHold, Condition: always(true)}}},
		{"unknown action", []Rule{{ID: "r", Action: "deny", Condition: always(true)}}},
		{"nil condition", []Rule{{ID: "r", Action: model.ActionHold}}},
		{"risk out of range", []Rule{{ID: "r", Action: model.ActionHold, RiskScore: 1.5, Condition: always(true)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Evaluate(context.Background(), nil, tt.rules, Options{})
			require.Error(t, err)
			assert.True(t, apperrors.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestNewEngine_ConfigurationErrors(t *testing.T) {
	_, err := NewEngine(EngineOptions{RequiredFields: []model.FieldName{model.FieldEmail}})
	assert.True(t, apperrors.IsConfiguration(err))

	_, err = NewEngine(EngineOptions{Validators: []FieldValidator{
		fixed(model.FieldEmail, Assessment{}), fixed(model.FieldEmail, Assessment{}),
	}})
	assert.True(t, apperrors.IsConfiguration(err))

	_, err = NewEngine(EngineOptions{Thresholds: Thresholds{Low: 0.5, Medium: 0.4, High: 0.9}})
	assert.True(t, apperrors.IsConfiguration(err))

	_, err = NewEngine(EngineOptions{Weights: Weights{model.FieldIP: -1}})
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestEngine_FillMissingPlaceholders(t *testing.T) {
	e := newTestEngine(t, EngineOptions{
		Validators: []FieldValidator{
			fixed(model.FieldEmail, Assessment{Valid: true, Confidence: 0.6, RiskScore: 0.5}),
			fixed(model.FieldPhone, Assessment{}),
		},
		RequiredFields: []model.FieldName{model.FieldEmail, model.FieldPhone},
	})

	d, err := e.Evaluate(context.Background(), &model.ValidationPayload{Email: strPtr("a@example.com")}, nil,
		Options{FillMissing: true})
	require.NoError(t, err)

	phone, ok := d.FieldResults[model.FieldPhone]
	require.True(t, ok)
	assert.True(t, phone.NotEvaluated)
	assert.Equal(t, []string{ReasonNotEvaluated}, phone.ReasonCodes)

	// Placeholders take no part in aggregation.
	assert.InDelta(t, 0.5, d.FinalDecision.RiskScore, 1e-9)
	assert.InDelta(t, 0.6, d.FinalDecision.Confidence, 1e-9)
}

func TestEngine_ConfidenceFollowsFieldsOfChosenAction(t *testing.T) {
	e := newTestEngine(t, EngineOptions{
		Validators: []FieldValidator{
			fixed(model.FieldEmail, Assessment{Valid: false, Confidence: 0.9, RiskScore: 0.9, ReasonCodes: []string{"email_disposable_domain"}}),
			fixed(model.FieldIP, Assessment{Valid: true, Confidence: 0.3, RiskScore: 0.1}),
		},
	})
	rules := []Rule{
		{ID: "disposable", Action: model.ActionHold, Condition: always(true), Fields: []model.FieldName{model.FieldEmail}},
		{ID: "ip-review", Action: model.ActionReview, Condition: always(true), Fields: []model.FieldName{model.FieldIP}},
	}

	d, err := e.Evaluate(context.Background(), &model.ValidationPayload{
		Email: strPtr("x@mailinator.com"),
		IP:    strPtr("203.0.113.9"),
	}, rules, Options{})
	require.NoError(t, err)

	assert.Equal(t, model.ActionHold, d.FinalDecision.Action)
	assert.InDelta(t, 0.9, d.FinalDecision.Confidence, 1e-9)
	assert.Equal(t,
		[]string{"rule:disposable", "rule:ip-review", "email:email_disposable_domain"},
		d.FinalDecision.Reasons)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]*model.Decision
	err  error
}

func (c *mapCache) Get(_ context.Context, key string) (*model.Decision, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	d, ok := c.data[key]
	return d, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, d *model.Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.data[key] = d
	return nil
}

func TestEngine_CacheHitSkipsValidators(t *testing.T) {
	v := fixed(model.FieldEmail, Assessment{Valid: true, Confidence: 0.8, RiskScore: 0.2})
	cache := &mapCache{data: map[string]*model.Decision{}}
	e := newTestEngine(t, EngineOptions{Validators: []FieldValidator{v}, Cache: cache})
	payload := &model.ValidationPayload{Email: strPtr("a@example.com")}

	first, err := e.Evaluate(context.Background(), payload, nil, Options{UseCache: true})
	require.NoError(t, err)
	second, err := e.Evaluate(context.Background(), payload, nil, Options{UseCache: true})
	require.NoError(t, err)

	assert.Equal(t, int32(1), v.calls.Load())
	assert.Equal(t, first, second)

	_, err = e.Evaluate(context.Background(), payload, nil, Options{UseCache: false})
	require.NoError(t, err)
	assert.Equal(t, int32(2), v.calls.Load())
}

func TestEngine_DegradedDecisionsAreNotCached(t *testing.T) {
	t.Run("validator timeout", func(t *testing.T) {
		v := &stubValidator{field: model.FieldEmail}
		v.score = func(ctx context.Context, _ string) (Assessment, error) {
			if v.calls.Load() == 1 {
				<-ctx.Done()
				return Assessment{}, ctx.Err()
			}
			return Assessment{Valid: true, Confidence: 0.8, RiskScore: 0.2}, nil
		}
		cache := &mapCache{data: map[string]*model.Decision{}}
		e := newTestEngine(t, EngineOptions{Validators: []FieldValidator{v}, Cache: cache})
		payload := &model.ValidationPayload{Email: strPtr("a@example.com")}
		opts := Options{UseCache: true, Timeout: 20 * time.Millisecond}

		first, err := e.Evaluate(context.Background(), payload, nil, opts)
		require.NoError(t, err)
		assert.Equal(t, []string{ReasonValidatorTimeout}, first.FieldResults[model.FieldEmail].ReasonCodes)
		assert.Empty(t, cache.data)

		second, err := e.Evaluate(context.Background(), payload, nil, opts)
		require.NoError(t, err)
		assert.True(t, second.FieldResults[model.FieldEmail].Valid)
		assert.Equal(t, int32(2), v.calls.Load())

		third, err := e.Evaluate(context.Background(), payload, nil, opts)
		require.NoError(t, err)
		assert.Equal(t, int32(2), v.calls.Load(), "healthy result is served from cache")
		assert.Equal(t, second, third)
	})

	t.Run("rule error", func(t *testing.T) {
		var evals atomic.Int32
		rules := []Rule{{ID: "flaky", Priority: 1, Action: model.ActionHold, Condition: ConditionFunc(
			func(context.Context, Activation) (bool, error) {
				if evals.Add(1) == 1 {
					return false, errors.New("cost limit exceeded")
				}
				return true, nil
			})}}
		cache := &mapCache{data: map[string]*model.Decision{}}
		e := newTestEngine(t, EngineOptions{Cache: cache})

		first, err := e.Evaluate(context.Background(), nil, rules, Options{UseCache: true})
		require.NoError(t, err)
		assert.NotEmpty(t, first.RuleEvaluations[0].Error)
		assert.Empty(t, cache.data)

		second, err := e.Evaluate(context.Background(), nil, rules, Options{UseCache: true})
		require.NoError(t, err)
		assert.Equal(t, model.ActionHold, second.FinalDecision.Action)
		assert.Len(t, cache.data, 1)
	})
}

func TestEngine_CacheFailuresAreIgnored(t *testing.T) {
	v := fixed(model.FieldEmail, Assessment{Valid: true, Confidence: 0.8})
	e := newTestEngine(t, EngineOptions{
		Validators: []FieldValidator{v},
		Cache:      &mapCache{err: errors.New("redis down")},
	})

	d, err := e.Evaluate(context.Background(), &model.ValidationPayload{Email: strPtr("a@example.com")}, nil,
		Options{UseCache: true})
	require.NoError(t, err)
	assert.True(t, d.FieldResults[model.FieldEmail].Valid)
}

func TestCacheKey_CanonicalAndSensitive(t *testing.T) {
	p1 := &model.ValidationPayload{Email: strPtr("a@example.com"), Metadata: map[string]string{"b": "2", "a": "1"}}
	p2 := &model.ValidationPayload{Metadata: map[string]string{"a": "1", "b": "2"}, Email: strPtr("a@example.com")}

	k1, err := CacheKey(p1, "fp", Options{})
	require.NoError(t, err)
	k2, err := CacheKey(p2, "fp", Options{})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := CacheKey(p1, "other-rules", Options{})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	k4, err := CacheKey(p1, "fp", Options{FillMissing: true})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
}

func TestFingerprint_ChangesWithRules(t *testing.T) {
	a := []Rule{{ID: "r", Priority: 1, Action: model.ActionHold, Source: "true"}}
	b := []Rule{{ID: "r", Priority: 1, Action: model.ActionBlock, Source: "true"}}
	assert.Equal(t, Fingerprint(a), Fingerprint(a))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}
