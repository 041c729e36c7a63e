package scan

import (
	"reflect"
	"testing"

	"github.com/McLaouth/cloudsplaining/pkg/catalog"
	"github.com/McLaouth/cloudsplaining/pkg/config"
	"github.com/McLaouth/cloudsplaining/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	return NewEvaluator(catalog.Default(), config.DefaultRiskConfig())
}

func doc(id string, statements ...policy.Statement) *policy.Document {
	return &policy.Document{
		ID:         id,
		Name:       id,
		Source:     policy.SourceManaged,
		Statements: statements,
	}
}

func TestEvaluateDenyOnlyPolicy(t *testing.T) {
	e := newTestEvaluator(t)

	res := e.Evaluate(doc("deny-only",
		policy.Statement{Effect: policy.Deny, Action: []string{"s3:*"}, Resource: []string{"*"}},
	))

	assert.Empty(t, res.Permissions.Allowed())
	assert.Empty(t, res.Findings)
	assert.True(t, res.NoEffectiveAccess)

	// Recorded, not skipped.
	found := false
	for _, d := range res.Diagnostics {
		if d.Kind == DiagNoEffectiveAccess {
			found = true
		}
	}
	assert.True(t, found, "no-effective-access diagnostic missing")
}

func TestEvaluateDenyPrecedence(t *testing.T) {
	e := newTestEvaluator(t)

	res := e.Evaluate(doc("deny-carveout",
		policy.Statement{Effect: policy.Allow, Action: []string{"s3:*"}, Resource: []string{"*"}},
		policy.Statement{Effect: policy.Deny, Action: []string{"s3:GetObject"}, Resource: []string{"*"}},
	))

	effect, ok := res.Permissions.Effect("s3:GetObject")
	require.True(t, ok)
	assert.Equal(t, policy.Deny, effect)

	// Other s3 actions stay allowed.
	effect, ok = res.Permissions.Effect("s3:PutObject")
	require.True(t, ok)
	assert.Equal(t, policy.Allow, effect)

	for _, f := range res.Findings {
		assert.NotEqual(t, "s3:GetObject", f.Action, "denied action produced a finding")
	}
}

func TestEvaluateWildcardDenyCoversUnverifiedAllow(t *testing.T) {
	e := newTestEvaluator(t)

	// The allow grants an action the catalog does not know; the raw deny
	// pattern must still cover it.
	res := e.Evaluate(doc("wildcard-deny",
		policy.Statement{Effect: policy.Allow, Action: []string{"s3:BrandNewAction"}, Resource: []string{"*"}},
		policy.Statement{Effect: policy.Deny, Action: []string{"s3:*"}, Resource: []string{"*"}},
	))

	effect, ok := res.Permissions.Effect("s3:BrandNewAction")
	require.True(t, ok)
	assert.Equal(t, policy.Deny, effect)
	assert.True(t, res.NoEffectiveAccess)
}

func TestEvaluatePrivilegeEscalationFinding(t *testing.T) {
	e := newTestEvaluator(t)

	res := e.Evaluate(doc("escalation",
		policy.Statement{Effect: policy.Allow, Action: []string{"iam:CreateAccessKey"}, Resource: []string{"*"}},
	))

	var escalation *RiskFinding
	for i := range res.Findings {
		if res.Findings[i].Category == catalog.PrivilegeEscalation {
			escalation = &res.Findings[i]
		}
	}
	require.NotNil(t, escalation, "privilege-escalation finding missing")
	assert.Equal(t, "iam:CreateAccessKey", escalation.Action)
	assert.Equal(t, []string{"*"}, escalation.Resources)
	assert.Equal(t, SeverityCritical, escalation.Severity)
	assert.False(t, escalation.Suppressed)
}

func TestEvaluateDeterministicOrdering(t *testing.T) {
	e := newTestEvaluator(t)

	build := func() *policy.Document {
		return doc("determinism",
			policy.Statement{Effect: policy.Allow, Action: []string{"iam:*", "s3:*", "secretsmanager:GetSecretValue"}, Resource: []string{"*"}},
			policy.Statement{Effect: policy.Deny, Action: []string{"iam:DeleteUser"}, Resource: []string{"*"}},
		)
	}

	first := e.Evaluate(build())
	second := e.Evaluate(build())

	require.Equal(t, len(first.Findings), len(second.Findings))
	if !reflect.DeepEqual(first.Findings, second.Findings) {
		t.Fatal("findings differ across identical runs")
	}

	// Sorted by action, then category.
	for i := 1; i < len(first.Findings); i++ {
		prev, cur := first.Findings[i-1], first.Findings[i]
		if prev.Action > cur.Action {
			t.Fatalf("findings not sorted by action: %q before %q", prev.Action, cur.Action)
		}
		if prev.Action == cur.Action && prev.Category > cur.Category {
			t.Fatalf("findings not sorted by category within %q", cur.Action)
		}
	}
}

func TestEvaluateAmbiguousNotActionIsDiagnostic(t *testing.T) {
	e := newTestEvaluator(t)

	res := e.Evaluate(doc("ambiguous",
		policy.Statement{Sid: "Bad", Effect: policy.Allow, NotAction: []string{"iam:Delete*"}, Resource: []string{"*"}},
		policy.Statement{Effect: policy.Allow, Action: []string{"s3:GetObject"}, Resource: []string{"*"}},
	))

	var ambiguous *Diagnostic
	for i := range res.Diagnostics {
		if res.Diagnostics[i].Kind == DiagAmbiguousNotAction {
			ambiguous = &res.Diagnostics[i]
		}
	}
	require.NotNil(t, ambiguous, "ambiguous-not-action diagnostic missing")
	assert.Equal(t, "Bad", ambiguous.Sid)

	// The other statement still evaluated.
	effect, ok := res.Permissions.Effect("s3:GetObject")
	require.True(t, ok)
	assert.Equal(t, policy.Allow, effect)
}

func TestEvaluateMalformedStatementIsDiagnostic(t *testing.T) {
	e := newTestEvaluator(t)

	res := e.Evaluate(doc("half-broken",
		policy.Statement{Sid: "NoEffect", Action: []string{"s3:GetObject"}, Resource: []string{"*"}},
		policy.Statement{Effect: policy.Allow, Action: []string{"iam:PassRole"}, Resource: []string{"*"}},
	))

	var malformed bool
	for _, d := range res.Diagnostics {
		if d.Kind == DiagMalformedStatement && d.Sid == "NoEffect" {
			malformed = true
		}
	}
	assert.True(t, malformed, "malformed-statement diagnostic missing")

	_, ok := res.Permissions.Effect("iam:PassRole")
	assert.True(t, ok, "healthy statement was not evaluated")
}

func TestEvaluateConditionDowngrade(t *testing.T) {
	e := newTestEvaluator(t)

	res := e.Evaluate(doc("conditioned",
		policy.Statement{
			Effect:   policy.Allow,
			Action:   []string{"secretsmanager:GetSecretValue"},
			Resource: []string{"arn:aws:secretsmanager:*:*:secret:app/*"},
			Condition: map[string]map[string]any{
				"StringEquals": {"aws:PrincipalOrgID": "o-example"},
			},
		},
	))

	require.NotEmpty(t, res.Findings)
	for _, f := range res.Findings {
		assert.True(t, f.Downgraded, "restrictive-condition downgrade not applied")
		// Base for credentials-exposure / data-exfiltration is high; one
		// step down lands on medium.
		assert.Equal(t, SeverityMedium, f.Severity)
	}
}

func TestEvaluateWildcardResourceUpgradesSeverity(t *testing.T) {
	e := newTestEvaluator(t)

	scoped := e.Evaluate(doc("scoped",
		policy.Statement{Effect: policy.Allow, Action: []string{"s3:GetObject"}, Resource: []string{"arn:aws:s3:::data/*"}},
	))
	unscoped := e.Evaluate(doc("unscoped",
		policy.Statement{Effect: policy.Allow, Action: []string{"s3:GetObject"}, Resource: []string{"*"}},
	))

	require.NotEmpty(t, scoped.Findings)
	require.NotEmpty(t, unscoped.Findings)
	assert.Greater(t, unscoped.Findings[0].Severity, scoped.Findings[0].Severity)
}
