package decision

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/orderguard/orderguard/internal/domain/model"
)

var actions = []model.Action{model.ActionApprove, model.ActionReview, model.ActionHold, model.ActionBlock}

func buildInput(risks, ruleRisks []float64, actionIdx []int, triggered []bool) AggregateInput {
	fields := make(map[model.FieldName]model.FieldResult)
	for i, r := range risks {
		if i >= len(model.AllFields()) {
			break
		}
		fields[model.AllFields()[i]] = model.FieldResult{Confidence: 1 - r, RiskScore: r}
	}

	n := min(len(ruleRisks), len(actionIdx), len(triggered))
	rules := make([]Rule, n)
	evals := make([]model.RuleEvaluation, n)
	for i := 0; i < n; i++ {
		a := actions[actionIdx[i]%len(actions)]
		id := fmt.Sprintf("r%d", i)
		rules[i] = Rule{ID: id, Action: a, RiskScore: ruleRisks[i]}
		evals[i] = model.RuleEvaluation{RuleID: id, Action: a, RiskScore: ruleRisks[i], Triggered: triggered[i]}
	}
	return AggregateInput{
		Fields:      fields,
		Rules:       rules,
		Evaluations: evals,
		Weights:     Weights{model.FieldEmail: 0.3, model.FieldPhone: 0.2, model.FieldAddress: 0.15},
		Thresholds:  DefaultThresholds(),
	}
}

// Property: risk and confidence stay in [0,1] and the action is never weaker than any triggered rule.
func TestAggregateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	unit := gen.Float64Range(0, 1)

	properties.Property("risk and confidence are clamped to [0,1]", prop.ForAll(
		func(risks, ruleRisks []float64, actionIdx []int, triggered []bool) bool {
			final, err := Aggregate(buildInput(risks, ruleRisks, actionIdx, triggered))
			if err != nil {
				return false
			}
			return final.RiskScore >= 0 && final.RiskScore <= 1 &&
				final.Confidence >= 0 && final.Confidence <= 1
		},
		gen.SliceOf(unit), gen.SliceOf(unit), gen.SliceOf(gen.IntRange(0, 3)), gen.SliceOf(gen.Bool()),
	))

	properties.Property("action is the most severe triggered action", prop.ForAll(
		func(ruleRisks []float64, actionIdx []int, triggered []bool) bool {
			in := buildInput(nil, ruleRisks, actionIdx, triggered)
			final, err := Aggregate(in)
			if err != nil {
				return false
			}
			want := model.ActionApprove
			for _, ev := range in.Evaluations {
				if ev.Triggered {
					want = model.MostSevere(want, ev.Action)
				}
			}
			return final.Action == want
		},
		gen.SliceOf(unit), gen.SliceOf(gen.IntRange(0, 3)), gen.SliceOf(gen.Bool()),
	))

	properties.Property("risk level is monotonic in risk score", prop.ForAll(
		func(a, b float64) bool {
			th := DefaultThresholds()
			lo, hi := a, b
			if lo > hi {
				lo, hi = hi, lo
			}
			return levelRank(th.Level(lo)) <= levelRank(th.Level(hi))
		},
		unit, unit,
	))

	properties.TestingRun(t)
}

func levelRank(l model.RiskLevel) int {
	switch l {
	case model.RiskLow:
		return 0
	case model.RiskMedium:
		return 1
	case model.RiskHigh:
		return 2
	default:
		return 3
	}
}
