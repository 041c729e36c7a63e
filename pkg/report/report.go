// Package report turns scan output into reviewer-facing artifacts: JSON for
// machines, CSV for spreadsheets, HTML for triage.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/McLaouth/cloudsplaining/pkg/scan"
	"github.com/McLaouth/cloudsplaining/pkg/version"
)

// Report is the aggregate of one scan run.
type Report struct {
	GeneratedAt    time.Time                   `json:"generated_at"`
	Tool           string                      `json:"tool"`
	ToolVersion    string                      `json:"tool_version"`
	AccountID      string                      `json:"account_id,omitempty"`
	CatalogVersion string                      `json:"catalog_version"`
	Findings       []scan.RiskFinding          `json:"findings"`
	Diagnostics    []scan.Diagnostic           `json:"diagnostics,omitempty"`
	Principals     []scan.PrincipalPolicyEntry `json:"principal_policy_mapping,omitempty"`
	Excluded       ExcludedSummary             `json:"excluded,omitempty"`
	PoliciesTotal  int                         `json:"policies_total"`
}

// ExcludedSummary records what the exclusion configuration skipped outright.
type ExcludedSummary struct {
	Policies   []string `json:"policies,omitempty"`
	Principals []string `json:"principals,omitempty"`
}

// FromAccountReport assembles a report for a whole-account scan.
func FromAccountReport(accountID, catalogVersion string, ar *scan.AccountReport) *Report {
	return &Report{
		GeneratedAt:    time.Now().UTC(),
		Tool:           version.AppName,
		ToolVersion:    version.Current,
		AccountID:      accountID,
		CatalogVersion: catalogVersion,
		Findings:       ar.Findings(),
		Diagnostics:    ar.AllDiagnostics(),
		Principals:     ar.PrincipalPolicyMapping,
		Excluded: ExcludedSummary{
			Policies:   ar.ExcludedPolicies,
			Principals: ar.ExcludedPrincipals,
		},
		PoliciesTotal: len(ar.Results),
	}
}

// FromResults assembles a report for standalone policy documents.
func FromResults(catalogVersion string, results ...*scan.Result) *Report {
	r := &Report{
		GeneratedAt:    time.Now().UTC(),
		Tool:           version.AppName,
		ToolVersion:    version.Current,
		CatalogVersion: catalogVersion,
		PoliciesTotal:  len(results),
	}
	for _, res := range results {
		r.Findings = append(r.Findings, res.Findings...)
		r.Diagnostics = append(r.Diagnostics, res.Diagnostics...)
	}
	return r
}

// Summary is the headline numbers for terminal output and the HTML header.
type Summary struct {
	Total      int
	Active     int
	Suppressed int
	BySeverity map[string]int
	ByCategory map[string]int
}

// Summarize counts findings by severity and category. Suppressed findings
// count toward Total and Suppressed only.
func (r *Report) Summarize() Summary {
	s := Summary{
		BySeverity: make(map[string]int),
		ByCategory: make(map[string]int),
	}
	for _, f := range r.Findings {
		s.Total++
		if f.Suppressed {
			s.Suppressed++
			continue
		}
		s.Active++
		s.BySeverity[f.Severity.String()]++
		s.ByCategory[string(f.Category)]++
	}
	return s
}

// WriteJSON renders the full report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

var csvHeader = []string{
	"PolicyID", "PolicyName", "PrincipalType", "PrincipalName",
	"Action", "Category", "Severity", "Resources",
	"Suppressed", "SuppressedBy", "RuleHits",
}

// WriteCSV renders one row per finding, suppressed ones included.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, f := range r.Findings {
		record := []string{
			f.PolicyID,
			f.PolicyName,
			f.PrincipalType,
			f.PrincipalName,
			f.Action,
			string(f.Category),
			f.Severity.String(),
			joinList(f.Resources),
			fmt.Sprintf("%t", f.Suppressed),
			f.SuppressedBy,
			joinList(f.RuleHits),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func joinList(items []string) string {
	return strings.Join(items, " ")
}

// categoryCounts returns active finding counts in descending order for the
// triage charts.
type categoryCount struct {
	Category string
	Count    int
}

func (r *Report) categoryCounts() []categoryCount {
	byCategory := r.Summarize().ByCategory
	counts := make([]categoryCount, 0, len(byCategory))
	for category, n := range byCategory {
		counts = append(counts, categoryCount{Category: category, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Category < counts[j].Category
	})
	return counts
}
