package decision

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/orderguard/orderguard/internal/domain/model"
)

// DefaultFieldWeight applies to evaluated fields without a configured weight.
const DefaultFieldWeight = 0.2

// Thresholds map an aggregate risk score to a risk level.
// Scores below Low are low, below Medium are medium, below High are high, anything else critical.
type Thresholds struct {
	Low    float64
	Medium float64
	High   float64
}

// DefaultThresholds returns the stock risk level boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.25, Medium: 0.5, High: 0.75}
}

// Validate requires strictly increasing thresholds within (0,1].
func (t Thresholds) Validate() error {
	if t.Low <= 0 || t.Low >= t.Medium || t.Medium >= t.High || t.High > 1 {
		return fmt.Errorf("thresholds must satisfy 0 < low < medium < high <= 1 (got %v)", t)
	}
	return nil
}

// Level buckets score. Every score maps to exactly one level.
func (t Thresholds) Level(score float64) model.RiskLevel {
	switch {
	case score < t.Low:
		return model.RiskLow
	case score < t.Medium:
		return model.RiskMedium
	case score < t.High:
		return model.RiskHigh
	default:
		return model.RiskCritical
	}
}

// Weights holds per-field risk weights.
type Weights map[model.FieldName]float64

// Validate rejects negative or non-finite weights.
func (w Weights) Validate() error {
	for f, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid weight %v for field %q", v, f)
		}
	}
	return nil
}

func (w Weights) of(f model.FieldName) float64 {
	if v, ok := w[f]; ok {
		return v
	}
	return DefaultFieldWeight
}

// AggregateInput is everything the final decision is derived from.
// Rules and Evaluations are aligned by index.
type AggregateInput struct {
	Fields      map[model.FieldName]model.FieldResult
	Rules       []Rule
	Evaluations []model.RuleEvaluation
	Weights     Weights
	Thresholds  Thresholds
}

var errMisalignedEvaluations = errors.New("rules and evaluations are not aligned")

// Aggregate derives the final decision.
//
// Risk is the weighted mean of evaluated field risks plus the risk of every
// triggered rule, clamped to [0,1]. The action is the most severe triggered
// action, approve when nothing triggers. Confidence is the minimum over the
// fields that drove the chosen action.
func Aggregate(in AggregateInput) (model.FinalDecision, error) {
	if len(in.Rules) != len(in.Evaluations) {
		return model.FinalDecision{}, errMisalignedEvaluations
	}

	evaluated := evaluatedFields(in.Fields)

	var sumW, sumWR float64
	for _, f := range evaluated {
		w := in.Weights.of(f)
		sumW += w
		sumWR += w * in.Fields[f].RiskScore
	}
	risk := 0.0
	if sumW > 0 {
		risk = sumWR / sumW
	}

	action := model.ActionApprove
	reasons := make([]string, 0, len(in.Evaluations))
	for _, ev := range in.Evaluations {
		if !ev.Triggered {
			continue
		}
		risk += ev.RiskScore
		action = model.MostSevere(action, ev.Action)
		reasons = append(reasons, "rule:"+ev.RuleID)
	}
	risk = clamp01(risk)

	contributing := contributingFields(in, action, evaluated)
	confidence := 0.0
	if len(contributing) > 0 {
		confidence = 1.0
		for _, f := range contributing {
			confidence = math.Min(confidence, in.Fields[f].Confidence)
		}
	}
	for _, f := range contributing {
		for _, code := range in.Fields[f].ReasonCodes {
			reasons = append(reasons, string(f)+":"+code)
		}
	}

	return model.FinalDecision{
		Action:     action,
		Confidence: confidence,
		RiskScore:  risk,
		RiskLevel:  in.Thresholds.Level(risk),
		Reasons:    reasons,
	}, nil
}

// contributingFields returns the evaluated fields read by triggered rules carrying
// action, or every evaluated field when none are attributable.
func contributingFields(in AggregateInput, action model.Action, evaluated []model.FieldName) []model.FieldName {
	isEvaluated := make(map[model.FieldName]bool, len(evaluated))
	for _, f := range evaluated {
		isEvaluated[f] = true
	}

	picked := make(map[model.FieldName]struct{})
	for i, ev := range in.Evaluations {
		if !ev.Triggered || ev.Action != action {
			continue
		}
		for _, f := range in.Rules[i].Fields {
			if isEvaluated[f] {
				picked[f] = struct{}{}
			}
		}
	}
	if len(picked) == 0 {
		return evaluated
	}

	out := make([]model.FieldName, 0, len(picked))
	for f := range picked {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func evaluatedFields(fields map[model.FieldName]model.FieldResult) []model.FieldName {
	out := make([]model.FieldName, 0, len(fields))
	for f, r := range fields {
		if !r.NotEvaluated {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
