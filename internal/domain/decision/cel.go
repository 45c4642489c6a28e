package decision

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/orderguard/orderguard/internal/domain/model"
	apperrors "github.com/orderguard/orderguard/internal/errors"
)

var reFieldRef = regexp.MustCompile(
	`fields\s*\.\s*([a-z_]+)|fields\s*\[\s*["']([a-z_]+)["']\s*\]|["']([a-z_]+)["']\s+in\s+fields`,
)

// CELCompiler turns rule definitions into executable rules.
// Conditions see two variables: `fields` (per-field results keyed by field name)
// and `payload` (the raw payload slots that are present).
type CELCompiler struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewCELCompiler creates a compiler with the rule environment.
func NewCELCompiler() (*CELCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELCompiler{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// Compile converts enabled definitions into rules, preserving their order.
// Any invalid definition or expression is a configuration error.
func (c *CELCompiler) Compile(defs []model.RuleDefinition) ([]Rule, error) {
	rules := make([]Rule, 0, len(defs))
	for i := range defs {
		def := defs[i]
		def.Normalize()
		if !def.Enabled {
			continue
		}
		if err := def.Validate(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "invalid rule definition")
		}
		prg, err := c.program(def.Condition)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeConfiguration, "rule %q", def.ID)
		}
		rules = append(rules, Rule{
			ID:        def.ID,
			Name:      def.Name,
			Priority:  def.Priority,
			Action:    def.Action,
			RiskScore: def.RiskScore,
			Condition: &celCondition{prg: prg},
			Fields:    ReferencedFields(def.Condition),
			Source:    def.Condition,
		})
	}
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (c *CELCompiler) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, hit := c.prgCache[expr]
	c.mu.RUnlock()
	if hit {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, hit = c.prgCache[expr]; hit {
		return prg, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("condition must evaluate to bool, got %s", t)
	}
	p, err := c.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	c.prgCache[expr] = p
	return p, nil
}

// ReferencedFields extracts the known field names a condition reads, sorted.
func ReferencedFields(expr string) []model.FieldName {
	seen := make(map[model.FieldName]struct{})
	for _, m := range reFieldRef.FindAllStringSubmatch(expr, -1) {
		for _, g := range m[1:] {
			if f := model.FieldName(g); g != "" && f.Known() {
				seen[f] = struct{}{}
			}
		}
	}
	out := make([]model.FieldName, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type celCondition struct {
	prg cel.Program
}

func (c *celCondition) Eval(ctx context.Context, act Activation) (bool, error) {
	out, _, err := c.prg.ContextEval(ctx, activationVars(act))
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool: %v", out.Value())
	}
	return val, nil
}

func activationVars(act Activation) map[string]any {
	fields := make(map[string]any, len(act.Fields))
	for name, r := range act.Fields {
		codes := r.ReasonCodes
		if codes == nil {
			codes = []string{}
		}
		fields[string(name)] = map[string]any{
			"valid":        r.Valid,
			"confidence":   r.Confidence,
			"risk_score":   r.RiskScore,
			"reason_codes": codes,
			"normalized":   r.Normalized,
			"evaluated":    !r.NotEvaluated,
		}
	}
	return map[string]any{
		"fields":  fields,
		"payload": payloadVars(act.Payload),
	}
}

func payloadVars(p *model.ValidationPayload) map[string]any {
	out := map[string]any{"metadata": map[string]string{}}
	if p == nil {
		return out
	}
	putString := func(k string, v *string) {
		if v != nil {
			out[k] = *v
		}
	}
	putString("email", p.Email)
	putString("phone", p.Phone)
	putString("name", p.Name)
	putString("ip", p.IP)
	putString("user_agent", p.UserAgent)
	putString("currency", p.Currency)
	if p.TransactionAmount != nil {
		out["transaction_amount"] = *p.TransactionAmount
	}
	if p.Address != nil {
		out["address"] = p.Address.Parts()
	}
	if p.Metadata != nil {
		out["metadata"] = p.Metadata
	}
	return out
}
