package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/orderguard/orderguard/internal/domain/model"
	apperrors "github.com/orderguard/orderguard/internal/errors"
)

// Activation is the data a rule condition is evaluated against.
type Activation struct {
	Fields  map[model.FieldName]model.FieldResult
	Payload *model.ValidationPayload
}

// Condition decides whether a rule triggers.
type Condition interface {
	Eval(ctx context.Context, act Activation) (bool, error)
}

// ConditionFunc adapts a simple function to the Condition interface.
type ConditionFunc func(ctx context.Context, act Activation) (bool, error)

// Eval executes f(ctx, act).
func (f ConditionFunc) Eval(ctx context.Context, act Activation) (bool, error) {
	return f(ctx, act)
}

// Rule is an executable, prioritized condition with the action it recommends.
type Rule struct {
	ID        string
	Name      string
	Priority  int
	Action    model.Action
	RiskScore float64
	Condition Condition
	// Fields lists the fields the condition reads; used to attribute confidence.
	Fields []model.FieldName
	// Source is the condition text, part of the rule set fingerprint.
	Source string
}

// ValidateRules reports structural defects in a rule set as configuration errors.
func ValidateRules(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		switch {
		case strings.TrimSpace(r.ID) == "":
			return apperrors.Configurationf("rule at position %d has an empty id", i)
		case r.Condition == nil:
			return apperrors.Configurationf("rule %q has no condition", r.ID)
		case !r.Action.Valid():
			return apperrors.Configurationf("rule %q has invalid action %q", r.ID, r.Action)
		case r.RiskScore < 0 || r.RiskScore > 1:
			return apperrors.Configurationf("rule %q risk_score %.3f outside [0,1]", r.ID, r.RiskScore)
		}
		if _, dup := seen[r.ID]; dup {
			return apperrors.Configurationf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// SortRules returns a copy ordered by ascending priority, keeping insertion order on ties.
func SortRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Fingerprint identifies a rule set's observable behaviour for cache keys.
func Fingerprint(rules []Rule) string {
	h := sha256.New()
	for _, r := range SortRules(rules) {
		fields := make([]string, len(r.Fields))
		for i, f := range r.Fields {
			fields[i] = string(f)
		}
		fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s\n",
			r.ID, r.Priority, r.Action,
			strconv.FormatFloat(r.RiskScore, 'g', -1, 64),
			r.Source, strings.Join(fields, ","),
		)
	}
	return hex.EncodeToString(h.Sum(nil))
}
