package scan

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/McLaouth/cloudsplaining/pkg/policy"
)

// AuthorizationDetails mirrors the JSON produced by
// aws iam get-account-authorization-details.
type AuthorizationDetails struct {
	Policies        []ManagedPolicyDetail `json:"Policies"`
	UserDetailList  []UserDetail          `json:"UserDetailList"`
	GroupDetailList []GroupDetail         `json:"GroupDetailList"`
	RoleDetailList  []RoleDetail          `json:"RoleDetailList"`
}

type ManagedPolicyDetail struct {
	PolicyName        string          `json:"PolicyName"`
	PolicyID          string          `json:"PolicyId"`
	Arn               string          `json:"Arn"`
	Path              string          `json:"Path"`
	DefaultVersionID  string          `json:"DefaultVersionId"`
	AttachmentCount   int             `json:"AttachmentCount"`
	PolicyVersionList []PolicyVersion `json:"PolicyVersionList"`
}

type PolicyVersion struct {
	Document         policyBody `json:"Document"`
	VersionID        string     `json:"VersionId"`
	IsDefaultVersion bool       `json:"IsDefaultVersion"`
}

type UserDetail struct {
	UserName                string           `json:"UserName"`
	UserID                  string           `json:"UserId"`
	Arn                     string           `json:"Arn"`
	Path                    string           `json:"Path"`
	GroupList               []string         `json:"GroupList"`
	UserPolicyList          []InlinePolicy   `json:"UserPolicyList"`
	AttachedManagedPolicies []AttachedPolicy `json:"AttachedManagedPolicies"`
}

type GroupDetail struct {
	GroupName               string           `json:"GroupName"`
	GroupID                 string           `json:"GroupId"`
	Arn                     string           `json:"Arn"`
	Path                    string           `json:"Path"`
	GroupPolicyList         []InlinePolicy   `json:"GroupPolicyList"`
	AttachedManagedPolicies []AttachedPolicy `json:"AttachedManagedPolicies"`
}

type RoleDetail struct {
	RoleName                string           `json:"RoleName"`
	RoleID                  string           `json:"RoleId"`
	Arn                     string           `json:"Arn"`
	Path                    string           `json:"Path"`
	RolePolicyList          []InlinePolicy   `json:"RolePolicyList"`
	AttachedManagedPolicies []AttachedPolicy `json:"AttachedManagedPolicies"`
}

type InlinePolicy struct {
	PolicyName     string     `json:"PolicyName"`
	PolicyDocument policyBody `json:"PolicyDocument"`
}

type AttachedPolicy struct {
	PolicyName string `json:"PolicyName"`
	PolicyArn  string `json:"PolicyArn"`
}

// policyBody accepts both an inline JSON object (CLI output) and a
// URL-encoded string (raw API output).
type policyBody struct {
	raw string
}

func (b *policyBody) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		b.raw = encoded
		return nil
	}
	b.raw = string(data)
	return nil
}

func (b policyBody) IsZero() bool { return b.raw == "" }

// ParseAuthorizationDetails decodes an account authorization details snapshot.
func ParseAuthorizationDetails(data []byte) (*AuthorizationDetails, error) {
	var details AuthorizationDetails
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, fmt.Errorf("parse authorization details: %w", err)
	}
	return &details, nil
}

// awsManagedPrefix identifies policies owned by AWS rather than the customer.
const awsManagedPrefix = "arn:aws:iam::aws:"

// ExclusionPolicy is the subset of the exclusion configuration the scanner
// consults while collecting documents. Nil-safe via NoExclusions.
type ExclusionPolicy interface {
	IsPolicyExcluded(name string) bool
	IsPrincipalExcluded(principalType, name string) bool
}

// NoExclusions excludes nothing.
type NoExclusions struct{}

func (NoExclusions) IsPolicyExcluded(string) bool            { return false }
func (NoExclusions) IsPrincipalExcluded(string, string) bool { return false }

// DocumentContext pairs a parsed document with its principal context for
// finding attribution.
type DocumentContext struct {
	Doc             *policy.Document
	PrincipalType   string // "User", "Group", "Role", or empty
	PrincipalName   string
	PrincipalPath   string
	ManagedBy       string // "AWS" or "Customer"
	GroupMembership []string
}

// PrincipalPolicyEntry is one row of the principal-to-policy mapping used in
// reports.
type PrincipalPolicyEntry struct {
	Principal       string   `json:"Principal"`
	Type            string   `json:"Type"`
	PolicyType      string   `json:"PolicyType"` // "Inline" or "Managed"
	ManagedBy       string   `json:"ManagedBy"`
	PolicyName      string   `json:"PolicyName"`
	GroupMembership []string `json:"GroupMembership,omitempty"`
}

// AccountReport aggregates evaluation results for one account snapshot.
type AccountReport struct {
	Results                []*Result
	Diagnostics            []Diagnostic
	PrincipalPolicyMapping []PrincipalPolicyEntry
	ExcludedPolicies       []string
	ExcludedPrincipals     []string
}

// Findings flattens all policy findings in result order.
func (r *AccountReport) Findings() []RiskFinding {
	var out []RiskFinding
	for _, res := range r.Results {
		out = append(out, res.Findings...)
	}
	return out
}

// AllDiagnostics merges report-level and per-result diagnostics.
func (r *AccountReport) AllDiagnostics() []Diagnostic {
	out := append([]Diagnostic(nil), r.Diagnostics...)
	for _, res := range r.Results {
		out = append(out, res.Diagnostics...)
	}
	return out
}

// AccountScanner walks an authorization-details snapshot and evaluates every
// customer-managed and inline policy document in it.
type AccountScanner struct {
	evaluator  *Evaluator
	exclusions ExclusionPolicy
}

// NewAccountScanner builds a scanner. excl may be nil.
func NewAccountScanner(evaluator *Evaluator, excl ExclusionPolicy) *AccountScanner {
	if excl == nil {
		excl = NoExclusions{}
	}
	return &AccountScanner{evaluator: evaluator, exclusions: excl}
}

// Collect gathers every evaluable document from the snapshot, applying
// policy- and principal-level exclusions. Parse failures become diagnostics
// on the report; they never abort the batch.
func (s *AccountScanner) Collect(details *AuthorizationDetails, report *AccountReport) []DocumentContext {
	var docs []DocumentContext

	for _, mp := range details.Policies {
		if s.exclusions.IsPolicyExcluded(mp.PolicyName) || s.exclusions.IsPolicyExcluded(mp.Path+mp.PolicyName) {
			report.ExcludedPolicies = append(report.ExcludedPolicies, mp.PolicyName)
			continue
		}
		body, ok := defaultVersion(mp)
		if !ok {
			report.Diagnostics = append(report.Diagnostics, Diagnostic{
				PolicyID: mp.Arn,
				Kind:     DiagUnparsablePolicy,
				Message:  "no default policy version in snapshot",
			})
			continue
		}
		doc, err := policy.ParseEncoded(mp.Arn, mp.PolicyName, policy.SourceManaged, "", body)
		if err != nil {
			report.Diagnostics = append(report.Diagnostics, Diagnostic{
				PolicyID: mp.Arn,
				Kind:     DiagUnparsablePolicy,
				Message:  err.Error(),
			})
			continue
		}
		docs = append(docs, DocumentContext{Doc: doc, ManagedBy: managedBy(mp.Arn)})
	}

	for _, u := range details.UserDetailList {
		docs = s.collectInline(docs, report, "User", u.UserName, u.Path, u.Arn, u.GroupList, u.UserPolicyList)
	}
	for _, g := range details.GroupDetailList {
		docs = s.collectInline(docs, report, "Group", g.GroupName, g.Path, g.Arn, nil, g.GroupPolicyList)
	}
	for _, r := range details.RoleDetailList {
		docs = s.collectInline(docs, report, "Role", r.RoleName, r.Path, r.Arn, nil, r.RolePolicyList)
	}

	return docs
}

func (s *AccountScanner) collectInline(docs []DocumentContext, report *AccountReport,
	principalType, name, path, arn string, groups []string, inline []InlinePolicy) []DocumentContext {

	if s.exclusions.IsPrincipalExcluded(principalType, name) {
		report.ExcludedPrincipals = append(report.ExcludedPrincipals, name)
		return docs
	}
	for _, ip := range inline {
		if s.exclusions.IsPolicyExcluded(ip.PolicyName) {
			report.ExcludedPolicies = append(report.ExcludedPolicies, ip.PolicyName)
			continue
		}
		id := arn + "/" + ip.PolicyName
		doc, err := policy.ParseEncoded(id, ip.PolicyName, policy.SourceInline, arn, ip.PolicyDocument.raw)
		if err != nil {
			report.Diagnostics = append(report.Diagnostics, Diagnostic{
				PolicyID: id,
				Kind:     DiagUnparsablePolicy,
				Message:  err.Error(),
			})
			continue
		}
		docs = append(docs, DocumentContext{
			Doc:             doc,
			PrincipalType:   principalType,
			PrincipalName:   name,
			PrincipalPath:   path,
			ManagedBy:       "Customer",
			GroupMembership: groups,
		})
	}
	return docs
}

// Evaluate runs one collected document and stamps principal context onto its
// findings.
func (s *AccountScanner) Evaluate(dc DocumentContext) *Result {
	res := s.evaluator.Evaluate(dc.Doc)
	for i := range res.Findings {
		res.Findings[i].PrincipalType = dc.PrincipalType
		res.Findings[i].PrincipalName = dc.PrincipalName
		res.Findings[i].PrincipalPath = dc.PrincipalPath
	}
	return res
}

// Scan evaluates the whole snapshot sequentially. Callers wanting fan-out
// use Collect and Evaluate directly.
func (s *AccountScanner) Scan(details *AuthorizationDetails) *AccountReport {
	report := &AccountReport{}
	docs := s.Collect(details, report)
	for _, dc := range docs {
		report.Results = append(report.Results, s.Evaluate(dc))
	}
	report.PrincipalPolicyMapping = PrincipalPolicyMapping(details)
	return report
}

// PrincipalPolicyMapping builds the principal-to-policy table for a snapshot,
// sorted by type, principal, policy type, policy name.
func PrincipalPolicyMapping(details *AuthorizationDetails) []PrincipalPolicyEntry {
	var entries []PrincipalPolicyEntry

	addPrincipal := func(principalType, name string, groups []string, inline []InlinePolicy, attached []AttachedPolicy) {
		for _, ip := range inline {
			entries = append(entries, PrincipalPolicyEntry{
				Principal:       name,
				Type:            principalType,
				PolicyType:      "Inline",
				ManagedBy:       "Customer",
				PolicyName:      ip.PolicyName,
				GroupMembership: groups,
			})
		}
		for _, ap := range attached {
			entries = append(entries, PrincipalPolicyEntry{
				Principal:       name,
				Type:            principalType,
				PolicyType:      "Managed",
				ManagedBy:       managedBy(ap.PolicyArn),
				PolicyName:      ap.PolicyName,
				GroupMembership: groups,
			})
		}
	}

	groupsByName := make(map[string]GroupDetail, len(details.GroupDetailList))
	for _, g := range details.GroupDetailList {
		groupsByName[strings.ToLower(g.GroupName)] = g
	}

	for _, u := range details.UserDetailList {
		addPrincipal("User", u.UserName, u.GroupList, u.UserPolicyList, u.AttachedManagedPolicies)
		// A user's exposure includes the policies of every group it belongs to.
		for _, groupName := range u.GroupList {
			g, ok := groupsByName[strings.ToLower(groupName)]
			if !ok {
				continue
			}
			addPrincipal("User", u.UserName, u.GroupList, g.GroupPolicyList, g.AttachedManagedPolicies)
		}
	}
	for _, g := range details.GroupDetailList {
		addPrincipal("Group", g.GroupName, nil, g.GroupPolicyList, g.AttachedManagedPolicies)
	}
	for _, r := range details.RoleDetailList {
		addPrincipal("Role", r.RoleName, nil, r.RolePolicyList, r.AttachedManagedPolicies)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Principal != b.Principal {
			return a.Principal < b.Principal
		}
		if a.PolicyType != b.PolicyType {
			return a.PolicyType < b.PolicyType
		}
		return a.PolicyName < b.PolicyName
	})
	return entries
}

func managedBy(arn string) string {
	if strings.HasPrefix(arn, awsManagedPrefix) {
		return "AWS"
	}
	return "Customer"
}

func defaultVersion(mp ManagedPolicyDetail) (string, bool) {
	for _, v := range mp.PolicyVersionList {
		if v.IsDefaultVersion && !v.Document.IsZero() {
			return v.Document.raw, true
		}
	}
	// Some snapshots carry a single unlabelled version.
	if len(mp.PolicyVersionList) == 1 && !mp.PolicyVersionList[0].Document.IsZero() {
		return mp.PolicyVersionList[0].Document.raw, true
	}
	return "", false
}
