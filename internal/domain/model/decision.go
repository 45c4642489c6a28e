package model

import (
	"fmt"
	"strings"
	"time"
)

// Action is the outcome a rule or decision recommends.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Action string

const (
	ActionApprove Action = "approve"
	ActionReview  Action = "review"
	ActionHold    Action = "hold"
	ActionBlock   Action = "block"
)

// Severity orders actions: block > hold > review > approve. Unknown actions rank below approve.
func (a Action) Severity() int {
	switch a {
	case ActionApprove:
		return 1
	case ActionReview:
		return 2
	case ActionHold:
		return 3
	case ActionBlock:
		return 4
	default:
		return 0
	}
}

// Valid returns true if the Action is known.
func (a Action) Valid() bool { return a.Severity() > 0 }

// UnmarshalText implements encoding.TextUnmarshaler for YAML and env parsing.
func (a *Action) UnmarshalText(text []byte) error {
	v := Action(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid action: %q", string(text))
	}
	*a = v
	return nil
}

// MostSevere returns the stronger of a and b.
func MostSevere(a, b Action) Action {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// RiskLevel buckets an aggregate risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// FieldResult is one validator's normalized outcome.
type FieldResult struct {
	Valid          bool          `json:"valid"`
	Normalized     string        `json:"normalized,omitempty"`
	Confidence     float64       `json:"confidence"`
	RiskScore      float64       `json:"risk_score"`
	ReasonCodes    []string      `json:"reason_codes"`
	ProcessingTime time.Duration `json:"processing_time"`
	// NotEvaluated marks a placeholder for a configured field absent from the payload.
	NotEvaluated bool `json:"not_evaluated,omitempty"`
}

// HasReason reports whether code is among the result's reason codes.
func (r FieldResult) HasReason(code string) bool {
	for _, c := range r.ReasonCodes {
		if c == code {
			return true
		}
	}
	return false
}

// RuleEvaluation records one rule's outcome, triggered or not.
type RuleEvaluation struct {
	RuleID         string        `json:"rule_id"`
	Triggered      bool          `json:"triggered"`
	Action         Action        `json:"action"`
	Priority       int           `json:"priority"`
	RiskScore      float64       `json:"risk_score"`
	EvaluationTime time.Duration `json:"evaluation_time"`
	Error          string        `json:"error,omitempty"`
}

// FinalDecision is the aggregated verdict for one record.
type FinalDecision struct {
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	RiskScore  float64   `json:"risk_score"`
	RiskLevel  RiskLevel `json:"risk_level"`
	Reasons    []string  `json:"reasons"`
}

// Decision is the decision engine's output for one record.
type Decision struct {
	FieldResults    map[FieldName]FieldResult `json:"field_results"`
	RuleEvaluations []RuleEvaluation          `json:"rule_evaluations"`
	FinalDecision   FinalDecision             `json:"final_decision"`
}
