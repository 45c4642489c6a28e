package data

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderguard/orderguard/internal/domain/decision"
	"github.com/orderguard/orderguard/internal/domain/model"
	apperrors "github.com/orderguard/orderguard/internal/errors"
)

var ruleColumnNames = []string{
	"tenant_id", "rule_set", "id", "name", "priority", "condition", "action", "risk_score",
	"enabled", "created_at", "updated_at",
}

func TestRuleRepo_ListByRuleSet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRuleRepo(db, NewFixedTimeProvider(testNow))

	mock.ExpectQuery("FROM decision_rules").
		WithArgs("tenant-a", model.DefaultRuleSet).
		WillReturnRows(sqlmock.NewRows(ruleColumnNames).
			AddRow("tenant-a", "default", "r1", "first", 1, `fields.email.valid`, "review", 0.1, true, testNow, testNow).
			AddRow("tenant-a", "default", "r2", "second", 5, `fields.ip.risk_score > 0.5`, "block", 0.5, false, testNow, testNow))

	defs, err := repo.ListByRuleSet(context.Background(), "tenant-a", "")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "r1", defs[0].ID)
	assert.Equal(t, model.ActionBlock, defs[1].Action)
	assert.False(t, defs[1].Enabled)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = repo.ListByRuleSet(context.Background(), " ", "")
	require.ErrorIs(t, err, ErrTenantIDRequired)
}

func TestRuleRepo_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRuleRepo(db, NewFixedTimeProvider(testNow))

	mock.ExpectQuery("INSERT INTO decision_rules").
		WithArgs("tenant-a", "default", "r1", "first", 1, "fields.email.valid", model.ActionHold, 0.3, true, testNow).
		WillReturnRows(sqlmock.NewRows(ruleColumnNames).
			AddRow("tenant-a", "default", "r1", "first", 1, "fields.email.valid", "hold", 0.3, true, testNow, testNow))

	out, err := repo.Upsert(context.Background(), &model.RuleDefinition{
		TenantID:  "tenant-a",
		ID:        " r1 ",
		Name:      "first",
		Priority:  1,
		Condition: "fields.email.valid",
		Action:    model.ActionHold,
		RiskScore: 0.3,
		Enabled:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", out.ID)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = repo.Upsert(context.Background(), &model.RuleDefinition{
		TenantID: "tenant-a", ID: "bad", Condition: "true", Action: model.ActionHold, RiskScore: 2,
	})
	assert.True(t, apperrors.IsValidation(err))
}

func TestDefaultRules_CompileCleanly(t *testing.T) {
	defs, err := DefaultRules()
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	c, err := decision.NewCELCompiler()
	require.NoError(t, err)
	rules, err := c.Compile(defs)
	require.NoError(t, err)
	assert.Len(t, rules, len(defs))
}

func TestParseRuleFile(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"wrong version", "version: 2\nrules: []\n"},
		{"unknown key", "version: 1\nrules:\n  - id: a\n    condition: 'true'\n    action: hold\n    weight: 3\n"},
		{"invalid action", "version: 1\nrules:\n  - id: a\n    condition: 'true'\n    action: explode\n"},
		{"duplicate id", "version: 1\nrules:\n  - {id: a, condition: 'true', action: hold}\n  - {id: a, condition: 'true', action: block}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRuleFile([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, apperrors.IsConfiguration(err))
		})
	}
}
