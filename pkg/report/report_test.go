package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/McLaouth/cloudsplaining/pkg/catalog"
	"github.com/McLaouth/cloudsplaining/pkg/scan"
)

func fixtureReport() *Report {
	return &Report{
		GeneratedAt:    time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
		Tool:           "cloudsplaining",
		ToolVersion:    "test",
		AccountID:      "123456789012",
		CatalogVersion: "2026-07",
		PoliciesTotal:  2,
		Findings: []scan.RiskFinding{
			{
				PolicyID:   "arn:aws:iam::123456789012:policy/WideOpen",
				PolicyName: "WideOpen",
				Action:     "iam:CreateAccessKey",
				Category:   catalog.PrivilegeEscalation,
				Severity:   scan.SeverityCritical,
				Resources:  []string{"*"},
			},
			{
				PolicyID:      "arn:aws:iam::123456789012:user/alice/alice-inline",
				PolicyName:    "alice-inline",
				PrincipalType: "User",
				PrincipalName: "alice",
				Action:        "s3:GetObject",
				Category:      catalog.DataExfiltration,
				Severity:      scan.SeverityHigh,
				Resources:     []string{"arn:aws:s3:::data/*"},
				Suppressed:    true,
				SuppressedBy:  "accepted-s3-read",
				RuleHits:      []string{"wildcard-resource"},
			},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := fixtureReport().WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	g := goldie.New(t)
	g.Assert(t, "findings_csv", buf.Bytes())
}

func TestWriteJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := fixtureReport().WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var decoded Report
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded.Findings) != 2 {
		t.Fatalf("got %d findings, want 2", len(decoded.Findings))
	}
	if decoded.Findings[0].Severity != scan.SeverityCritical {
		t.Errorf("severity did not survive the round trip: %v", decoded.Findings[0].Severity)
	}
	if !decoded.Findings[1].Suppressed || decoded.Findings[1].SuppressedBy != "accepted-s3-read" {
		t.Error("suppression metadata lost in JSON output")
	}
}

func TestSummarize(t *testing.T) {
	s := fixtureReport().Summarize()

	if s.Total != 2 || s.Active != 1 || s.Suppressed != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.BySeverity["critical"] != 1 {
		t.Errorf("critical count = %d, want 1", s.BySeverity["critical"])
	}
	// Suppressed findings stay out of the severity breakdown.
	if s.BySeverity["high"] != 0 {
		t.Errorf("suppressed finding leaked into severity counts: %+v", s.BySeverity)
	}
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := fixtureReport().WriteHTML(&buf); err != nil {
		t.Fatalf("WriteHTML failed: %v", err)
	}
	content := buf.String()

	for _, want := range []string{"iam:CreateAccessKey", "privilege-escalation", "123456789012"} {
		if !strings.Contains(content, want) {
			t.Errorf("triage page missing %q", want)
		}
	}
	if !strings.Contains(content, "accepted-s3-read") {
		t.Error("suppressed section missing")
	}
}

func TestWriteHTMLEscapesHostileNames(t *testing.T) {
	r := fixtureReport()
	r.Findings[0].PolicyName = `Wide"Open<script>alert(1)</script>`
	r.Findings[0].Category = catalog.RiskCategory(`privilege-escalation<script>alert(2)</script>`)

	var buf bytes.Buffer
	if err := r.WriteHTML(&buf); err != nil {
		t.Fatalf("WriteHTML failed: %v", err)
	}
	content := buf.String()

	if strings.Contains(content, "<script>alert(1)</script>") {
		t.Fatal("policy name rendered unescaped in HTML body")
	}
	// Chart labels come from json.Marshal, which encodes angle brackets as
	// \u003c and \u003e, so the category cannot break out of the
	// script block.
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(line, "const labels =") && strings.Contains(line, "<script>") {
			t.Fatalf("unescaped chart label: %s", line)
		}
	}
}
