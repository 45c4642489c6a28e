package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultRuleSet is the rule set name used when a job or request does not pick one.
const DefaultRuleSet = "default"

// RuleDefinition is the stored form of a decision rule.
// Condition is a CEL expression over `fields` and `payload` that must evaluate to a bool.
type RuleDefinition struct {
	ID        string    `json:"id"                   yaml:"id"         db:"rule_id"`
	TenantID  string    `json:"tenant_id,omitempty"  yaml:"-"          db:"tenant_id"`
	RuleSet   string    `json:"rule_set,omitempty"   yaml:"-"          db:"rule_set"`
	Name      string    `json:"name"                 yaml:"name"       db:"name"`
	Priority  int       `json:"priority"             yaml:"priority"   db:"priority"`
	Condition string    `json:"condition"            yaml:"condition"  db:"condition"`
	Action    Action    `json:"action"               yaml:"action"     db:"action"`
	RiskScore float64   `json:"risk_score"           yaml:"risk_score" db:"risk_score"`
	Enabled   bool      `json:"enabled"              yaml:"enabled"    db:"enabled"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"-"          db:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"-"          db:"updated_at"`
}

// Normalize trims user supplied fields.
func (r *RuleDefinition) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
	r.Condition = strings.TrimSpace(r.Condition)
	r.RuleSet = strings.TrimSpace(r.RuleSet)
}

// Validate checks structural constraints of a single rule.
func (r *RuleDefinition) Validate() error {
	if r.ID == "" {
		return errors.New("rule id is required")
	}
	if r.Condition == "" {
		return fmt.Errorf("rule %q: condition is required", r.ID)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("rule %q: invalid action %q", r.ID, r.Action)
	}
	if r.RiskScore < 0 || r.RiskScore > 1 {
		return fmt.Errorf("rule %q: risk_score must be between 0 and 1", r.ID)
	}
	return nil
}

// RuleFile is the YAML document shape for a rule set file.
type RuleFile struct {
	Version int              `yaml:"version"`
	Rules   []RuleDefinition `yaml:"rules"`
}
