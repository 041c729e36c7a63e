package scan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/McLaouth/cloudsplaining/pkg/catalog"
	"github.com/McLaouth/cloudsplaining/pkg/policy"
)

// Severity is the reviewer-facing severity hint attached to findings.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInfo:     "info",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ParseSeverity converts a config string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	for sev, name := range severityNames {
		if strings.EqualFold(s, name) {
			return sev, nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", s)
}

// Downgrade shifts one step toward Info, never past it.
func (s Severity) Downgrade() Severity {
	if s <= SeverityInfo {
		return SeverityInfo
	}
	return s - 1
}

// Upgrade shifts one step toward Critical, never past it.
func (s Severity) Upgrade() Severity {
	if s >= SeverityCritical {
		return SeverityCritical
	}
	return s + 1
}

// MarshalText renders the severity name in JSON and YAML output.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	sev, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// RiskFinding is one (action, category) hit for a policy. Created by the
// evaluator, mutated only by the exclusion filter (suppression flags), and
// never removed from its sequence so suppressed findings stay auditable.
type RiskFinding struct {
	PolicyID   string                `json:"policy_id"`
	PolicyName string                `json:"policy_name"`
	Action     string                `json:"action"`
	Category   catalog.RiskCategory  `json:"category"`
	Severity   Severity              `json:"severity"`
	Resources  []string              `json:"resources"`

	// Principal context for account scans; empty for standalone documents.
	PrincipalType string `json:"principal_type,omitempty"`
	PrincipalName string `json:"principal_name,omitempty"`
	PrincipalPath string `json:"principal_path,omitempty"`

	// Unverified marks actions granted by the policy but absent from the
	// catalog snapshot.
	Unverified bool `json:"unverified,omitempty"`
	// Downgraded marks findings whose severity was reduced because every
	// granting statement carries only restrictive conditions.
	Downgraded bool `json:"downgraded,omitempty"`

	Suppressed   bool     `json:"suppressed"`
	SuppressedBy string   `json:"suppressed_by,omitempty"`
	RuleHits     []string `json:"rule_hits,omitempty"`
}

// DiagnosticKind tags non-fatal evaluation problems.
type DiagnosticKind string

const (
	DiagUnknownService     DiagnosticKind = "unknown-service"
	DiagAmbiguousNotAction DiagnosticKind = "ambiguous-not-action"
	DiagMalformedStatement DiagnosticKind = "malformed-statement"
	DiagUnparsablePolicy   DiagnosticKind = "unparsable-policy"
	DiagNoEffectiveAccess  DiagnosticKind = "no-effective-access"
)

// Diagnostic records a per-statement or per-policy problem that must not
// abort the batch.
type Diagnostic struct {
	PolicyID string         `json:"policy_id"`
	Sid      string         `json:"sid,omitempty"`
	Kind     DiagnosticKind `json:"kind"`
	Message  string         `json:"message"`
}

// Result is the outcome of evaluating one policy document.
type Result struct {
	PolicyID    string
	PolicyName  string
	Permissions *EffectivePermissionSet
	Findings    []RiskFinding
	Diagnostics []Diagnostic
	// NoEffectiveAccess is set when Deny resolution leaves zero allowed
	// actions. Recorded, not skipped.
	NoEffectiveAccess bool
}

// EffectivePermissionSet maps actions to their final effect with Deny always
// winning on conflict. Owned by a single evaluation; never shared.
type EffectivePermissionSet struct {
	decisions map[string]permissionEntry // keyed by lowercase action
}

type permissionEntry struct {
	action string // display casing
	effect policy.Effect
}

func newEffectivePermissionSet() *EffectivePermissionSet {
	return &EffectivePermissionSet{decisions: make(map[string]permissionEntry)}
}

func (s *EffectivePermissionSet) allow(action string) {
	key := strings.ToLower(action)
	if e, ok := s.decisions[key]; ok && e.effect == policy.Deny {
		return
	}
	s.decisions[key] = permissionEntry{action: action, effect: policy.Allow}
}

func (s *EffectivePermissionSet) deny(action string) {
	s.decisions[strings.ToLower(action)] = permissionEntry{action: action, effect: policy.Deny}
}

// Effect reports the final effect for an action, if any was resolved.
func (s *EffectivePermissionSet) Effect(action string) (policy.Effect, bool) {
	e, ok := s.decisions[strings.ToLower(action)]
	return e.effect, ok
}

// Allowed returns all actions that ended Allowed, sorted.
func (s *EffectivePermissionSet) Allowed() []string {
	return s.withEffect(policy.Allow)
}

// Denied returns all actions that ended Denied, sorted.
func (s *EffectivePermissionSet) Denied() []string {
	return s.withEffect(policy.Deny)
}

func (s *EffectivePermissionSet) withEffect(effect policy.Effect) []string {
	var out []string
	for _, e := range s.decisions {
		if e.effect == effect {
			out = append(out, e.action)
		}
	}
	sort.Strings(out)
	return out
}

// Len is the number of resolved actions, across both effects.
func (s *EffectivePermissionSet) Len() int { return len(s.decisions) }
