package rules

import (
	"testing"

	"github.com/McLaouth/cloudsplaining/pkg/catalog"
	"github.com/McLaouth/cloudsplaining/pkg/scan"
)

func TestEngineCompileAndEvaluate(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	rules := []Rule{
		{
			ID:        "role-escalation",
			Condition: `category == "privilege-escalation" && principal_type == "Role"`,
		},
		{
			ID:        "wildcard-resource",
			Condition: `"*" in resources`,
		},
	}
	if err := engine.Compile(rules); err != nil {
		t.Fatalf("Compilation failed: %v", err)
	}

	roleFinding := scan.RiskFinding{
		Action:        "iam:PassRole",
		Category:      catalog.PrivilegeEscalation,
		Severity:      scan.SeverityCritical,
		Resources:     []string{"*"},
		PrincipalType: "Role",
	}
	matches := engine.Evaluate(&roleFinding)
	if len(matches) != 2 || matches[0] != "role-escalation" || matches[1] != "wildcard-resource" {
		t.Errorf("expected both rules sorted, got %v", matches)
	}

	scopedFinding := scan.RiskFinding{
		Action:    "s3:GetObject",
		Category:  catalog.DataExfiltration,
		Severity:  scan.SeverityHigh,
		Resources: []string{"arn:aws:s3:::data/*"},
	}
	matches = engine.Evaluate(&scopedFinding)
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %v", matches)
	}
}

func TestCompileRejectsBadExpression(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if err := engine.Compile([]Rule{{ID: "broken", Condition: "category =="}}); err == nil {
		t.Fatal("expected compile error for malformed expression")
	}
}

func TestParseYAML(t *testing.T) {
	engine, err := Parse([]byte(`
rules:
  - id: unverified-grants
    description: actions the catalog cannot confirm
    condition: "unverified"
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if engine.Len() != 1 {
		t.Fatalf("expected 1 compiled rule, got %d", engine.Len())
	}

	findings := []scan.RiskFinding{
		{Action: "s3:BrandNewAction", Category: catalog.DataExfiltration, Unverified: true},
		{Action: "s3:GetObject", Category: catalog.DataExfiltration},
	}
	engine.Annotate(findings)

	if len(findings[0].RuleHits) != 1 || findings[0].RuleHits[0] != "unverified-grants" {
		t.Errorf("unexpected hits on unverified finding: %v", findings[0].RuleHits)
	}
	if len(findings[1].RuleHits) != 0 {
		t.Errorf("unexpected hits on verified finding: %v", findings[1].RuleHits)
	}
}

func TestParseRejectsEmptyID(t *testing.T) {
	if _, err := Parse([]byte("rules:\n  - condition: \"true\"\n")); err == nil {
		t.Fatal("expected error for rule without id")
	}
}
