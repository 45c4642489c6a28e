package data

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orderguard/orderguard/internal/domain/model"
	apperrors "github.com/orderguard/orderguard/internal/errors"
)

//go:embed rules/default.yaml
var defaultRulesYAML []byte

// RuleRepo stores tenant decision rules in Postgres.
type RuleRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewRuleRepo creates a RuleRepo.
func NewRuleRepo(db *sql.DB, tp TimeProvider) *RuleRepo {
	if tp == nil {
		tp = RealTimeProvider{}
	}
	return &RuleRepo{DB: db, timeProvider: tp}
}

const ruleColumns = `tenant_id, rule_set, id, name, priority, condition, action, risk_score, enabled, created_at, updated_at`

// ListByRuleSet returns the tenant's rules for ruleSet ordered by priority, then insertion order.
func (r *RuleRepo) ListByRuleSet(ctx context.Context, tenantID, ruleSet string) ([]model.RuleDefinition, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrTenantIDRequired
	}
	if ruleSet == "" {
		ruleSet = model.DefaultRuleSet
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM decision_rules
		WHERE tenant_id = $1 AND rule_set = $2
		ORDER BY priority ASC, created_at ASC, id ASC
	`, tenantID, ruleSet)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	var out []model.RuleDefinition
	for rows.Next() {
		def, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

// Upsert validates and stores a rule definition.
func (r *RuleRepo) Upsert(ctx context.Context, def *model.RuleDefinition) (*model.RuleDefinition, error) {
	if def == nil {
		return nil, errors.New("rule definition is required")
	}
	in := *def
	in.Normalize()
	if strings.TrimSpace(in.TenantID) == "" {
		return nil, ErrTenantIDRequired
	}
	if in.RuleSet == "" {
		in.RuleSet = model.DefaultRuleSet
	}
	if err := in.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid rule")
	}

	now := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO decision_rules (tenant_id, rule_set, id, name, priority, condition, action, risk_score, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (tenant_id, rule_set, id) DO UPDATE
		SET name = EXCLUDED.name,
		    priority = EXCLUDED.priority,
		    condition = EXCLUDED.condition,
		    action = EXCLUDED.action,
		    risk_score = EXCLUDED.risk_score,
		    enabled = EXCLUDED.enabled,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+ruleColumns,
		in.TenantID, in.RuleSet, in.ID, in.Name, in.Priority, in.Condition, in.Action, in.RiskScore, in.Enabled, now,
	)
	out, err := scanRule(row)
	if err != nil {
		return nil, fmt.Errorf("upsert rule: %w", apperrors.MapDBError(err))
	}
	return out, nil
}

func scanRule(scanner rowScanner) (*model.RuleDefinition, error) {
	var def model.RuleDefinition
	if err := scanner.Scan(
		&def.TenantID,
		&def.RuleSet,
		&def.ID,
		&def.Name,
		&def.Priority,
		&def.Condition,
		&def.Action,
		&def.RiskScore,
		&def.Enabled,
		&def.CreatedAt,
		&def.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &def, nil
}

// DefaultRules returns the embedded fallback rule set.
func DefaultRules() ([]model.RuleDefinition, error) {
	return ParseRuleFile(defaultRulesYAML)
}

// LoadRuleFile reads a YAML rule set from disk.
func LoadRuleFile(path string) ([]model.RuleDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeConfiguration, "read rules file %s", path)
	}
	return ParseRuleFile(raw)
}

// ParseRuleFile decodes a YAML rule set. Unknown keys and invalid rules are configuration errors.
func ParseRuleFile(raw []byte) ([]model.RuleDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var file model.RuleFile
	if err := dec.Decode(&file); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "decode rule file")
	}
	if file.Version != 1 {
		return nil, apperrors.Configurationf("unsupported rule file version %d", file.Version)
	}

	seen := make(map[string]struct{}, len(file.Rules))
	for i := range file.Rules {
		def := &file.Rules[i]
		def.Normalize()
		def.RuleSet = model.DefaultRuleSet
		if err := def.Validate(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "invalid rule in file")
		}
		if _, dup := seen[def.ID]; dup {
			return nil, apperrors.Configurationf("duplicate rule id %q in file", def.ID)
		}
		seen[def.ID] = struct{}{}
	}
	return file.Rules, nil
}
