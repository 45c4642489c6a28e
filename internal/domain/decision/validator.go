package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orderguard/orderguard/internal/domain/model"
)

// Reason codes produced by the engine itself rather than by a validator.
const (
	ReasonValidatorTimeout = "validator_timeout"
	ReasonValidatorError   = "validator_error"
	ReasonValidatorPanic   = "validator_panic"
	ReasonNotEvaluated     = "not_evaluated"
)

// ValidationContext is what a validator may consult besides its own value.
type ValidationContext struct {
	Input   model.FieldInput
	Payload *model.ValidationPayload
}

// Assessment is a validator's scored view of a normalized value.
type Assessment struct {
	Valid       bool
	Confidence  float64
	RiskScore   float64
	ReasonCodes []string
}

// FieldValidator assesses one data dimension.
// Implementations may call external sources but must honour ctx cancellation
// and report every observed condition as a reason code.
type FieldValidator interface {
	Field() model.FieldName
	// Normalize canonicalises the raw input. Return a *MalformedError for
	// input that is structurally invalid.
	Normalize(in model.FieldInput) (string, error)
	Score(ctx context.Context, normalized string, vctx ValidationContext) (Assessment, error)
	// Explain returns a human readable description for one of the validator's reason codes.
	Explain(code string) string
}

// MalformedError reports input that cannot be normalized.
type MalformedError struct {
	Code   string
	Detail string
}

func (e *MalformedError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + ": " + e.Detail
}

// Malformed builds a *MalformedError.
func Malformed(code, detail string) error {
	return &MalformedError{Code: code, Detail: detail}
}

// Registry maps fields to their validator.
type Registry map[model.FieldName]FieldValidator

// NewRegistry indexes validators by field. Registering two validators for one field is a configuration error.
func NewRegistry(validators ...FieldValidator) (Registry, error) {
	reg := make(Registry, len(validators))
	for _, v := range validators {
		if v == nil {
			continue
		}
		f := v.Field()
		if _, dup := reg[f]; dup {
			return nil, fmt.Errorf("duplicate validator for field %q", f)
		}
		reg[f] = v
	}
	return reg, nil
}

// RunValidator normalizes and scores one field within timeout.
// It never fails: timeouts, errors and panics become an invalid result with zero confidence.
func RunValidator(
	ctx context.Context,
	v FieldValidator,
	vctx ValidationContext,
	timeout time.Duration,
) model.FieldResult {
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Buffered so an abandoned validator goroutine can still deliver and exit.
	done := make(chan model.FieldResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- failedResult(ReasonValidatorPanic)
			}
		}()
		done <- assess(ctx, v, vctx)
	}()

	var res model.FieldResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = failedResult(ReasonValidatorTimeout)
	}
	res.ProcessingTime = time.Since(start)
	return res
}

func assess(ctx context.Context, v FieldValidator, vctx ValidationContext) model.FieldResult {
	normalized, err := v.Normalize(vctx.Input)
	if err != nil {
		var malformed *MalformedError
		if errors.As(err, &malformed) {
			return model.FieldResult{
				Valid:       false,
				Confidence:  0.95,
				RiskScore:   0.9,
				ReasonCodes: []string{malformed.Code},
			}
		}
		return failedResult(ReasonValidatorError)
	}

	a, err := v.Score(ctx, normalized, vctx)
	if err != nil {
		if ctx.Err() != nil {
			return failedResult(ReasonValidatorTimeout)
		}
		return failedResult(ReasonValidatorError)
	}

	return model.FieldResult{
		Valid:       a.Valid,
		Normalized:  normalized,
		Confidence:  clamp01(a.Confidence),
		RiskScore:   clamp01(a.RiskScore),
		ReasonCodes: uniqueCodes(a.ReasonCodes),
	}
}

func failedResult(code string) model.FieldResult {
	return model.FieldResult{
		Valid:       false,
		Confidence:  0,
		RiskScore:   1,
		ReasonCodes: []string{code},
	}
}

func notEvaluated() model.FieldResult {
	return model.FieldResult{
		Valid:        false,
		ReasonCodes:  []string{ReasonNotEvaluated},
		NotEvaluated: true,
	}
}

func uniqueCodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
