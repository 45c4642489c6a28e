package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DecisionConfig contains decision engine configuration.
type DecisionConfig struct {
	// ValidatorTimeout bounds each field validator call.
	ValidatorTimeout time.Duration `env:"DECISION_VALIDATOR_TIMEOUT" envDefault:"2s"`

	// Fields lists the fields that must have a registered validator.
	Fields []string `env:"DECISION_FIELDS" envDefault:"email,phone,address,ip,device"`

	// FieldWeights weights each field's risk in the aggregate score (field:weight pairs).
	FieldWeights map[string]float64 `env:"DECISION_FIELD_WEIGHTS" envDefault:"email:0.3,phone:0.2,address:0.15,ip:0.2,device:0.15"`

	// Risk level thresholds. A score below LowThreshold is low, below MediumThreshold
	// is medium, below HighThreshold is high, anything else is critical.
	LowThreshold    float64 `env:"DECISION_RISK_LOW"    envDefault:"0.25"`
	MediumThreshold float64 `env:"DECISION_RISK_MEDIUM" envDefault:"0.5"`
	HighThreshold   float64 `env:"DECISION_RISK_HIGH"   envDefault:"0.75"`

	// RulesFile overrides the embedded default rule set with a YAML file on disk.
	RulesFile string `env:"DECISION_RULES_FILE"`

	// CacheEnabled enables the decision cache for synchronous and batch evaluations.
	CacheEnabled bool `env:"DECISION_CACHE_ENABLED" envDefault:"true"`

	// FillMissing adds "not evaluated" placeholders for configured fields absent from a payload.
	FillMissing bool `env:"DECISION_FILL_MISSING" envDefault:"false"`

	// DefaultCallingCode is used when a phone number has no international prefix.
	DefaultCallingCode string `env:"DECISION_DEFAULT_CALLING_CODE" envDefault:"1"`

	// MXLookupEnabled turns on DNS MX checks in the email validator.
	MXLookupEnabled bool `env:"DECISION_MX_LOOKUP_ENABLED" envDefault:"false"`

	// MXLookupRate caps MX lookups per second across the process.
	MXLookupRate float64 `env:"DECISION_MX_LOOKUP_RATE" envDefault:"20"`
}

// Sanitize applies guardrails to decision configuration values.
func (d *DecisionConfig) Sanitize() {
	if d.ValidatorTimeout <= 0 {
		d.ValidatorTimeout = 2 * time.Second
	}
	if d.MXLookupRate <= 0 {
		d.MXLookupRate = 20
	}
	d.RulesFile = strings.TrimSpace(d.RulesFile)
	d.DefaultCallingCode = strings.TrimPrefix(strings.TrimSpace(d.DefaultCallingCode), "+")

	fields := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			fields = append(fields, f)
		}
	}
	d.Fields = fields
}

// Validate ensures thresholds are monotonic and weights are usable.
func (d *DecisionConfig) Validate() error {
	if d.LowThreshold <= 0 || d.LowThreshold >= d.MediumThreshold ||
		d.MediumThreshold >= d.HighThreshold || d.HighThreshold > 1 {
		return fmt.Errorf(
			"risk thresholds must satisfy 0 < low < medium < high <= 1 (got %.3f, %.3f, %.3f)",
			d.LowThreshold, d.MediumThreshold, d.HighThreshold,
		)
	}
	for field, w := range d.FieldWeights {
		if w < 0 {
			return fmt.Errorf("field weight for %q must not be negative", field)
		}
	}
	return nil
}

// DedupeConfig contains dedupe matching configuration.
type DedupeConfig struct {
	// MergeThreshold is the minimum match score that suggests merging into an existing record.
	MergeThreshold float64 `env:"DEDUPE_MERGE_THRESHOLD" envDefault:"0.8"`

	// ReviewThreshold is the minimum match score that suggests manual review.
	ReviewThreshold float64 `env:"DEDUPE_REVIEW_THRESHOLD" envDefault:"0.5"`

	// CandidateLimit bounds the number of existing records scored per item.
	CandidateLimit int `env:"DEDUPE_CANDIDATE_LIMIT" envDefault:"50"`
}

// Sanitize applies guardrails to dedupe configuration values.
func (d *DedupeConfig) Sanitize() {
	if d.CandidateLimit < 1 {
		d.CandidateLimit = 1
	}
	if d.CandidateLimit > 1000 {
		d.CandidateLimit = 1000
	}
}

// Validate ensures the dedupe thresholds are ordered.
func (d *DedupeConfig) Validate() error {
	if d.ReviewThreshold <= 0 || d.ReviewThreshold >= d.MergeThreshold || d.MergeThreshold > 1 {
		return errors.New("dedupe thresholds must satisfy 0 < review < merge <= 1")
	}
	return nil
}

// JobsConfig contains batch job submission configuration.
type JobsConfig struct {
	// MaxItems caps the number of items accepted in one job.
	MaxItems int `env:"JOBS_MAX_ITEMS" envDefault:"10000"`
}

// Sanitize applies guardrails to job submission configuration values.
func (j *JobsConfig) Sanitize() {
	if j.MaxItems < 1 {
		j.MaxItems = 1
	}
}
