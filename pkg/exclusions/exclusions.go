// Package exclusions suppresses findings a reviewer has already accepted.
// Suppression is in place: findings keep their position and carry the rule
// that silenced them, so reports stay auditable.
package exclusions

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/McLaouth/cloudsplaining/pkg/scan"
)

// InvalidExclusionPatternError indicates a glob that does not compile. The
// whole exclusion file is rejected; a half-loaded exclusion set silently
// changes what gets reported.
type InvalidExclusionPatternError struct {
	Field   string
	Pattern string
}

func (e *InvalidExclusionPatternError) Error() string {
	return fmt.Sprintf("invalid exclusion pattern %q in %s", e.Pattern, e.Field)
}

// file is the YAML shape on disk.
type file struct {
	Users    []string `yaml:"users"`
	Groups   []string `yaml:"groups"`
	Roles    []string `yaml:"roles"`
	Policies []string `yaml:"policies"`
	Rules    []Rule   `yaml:"rules"`
}

// Rule is one fine-grained suppression. Every non-empty field must match for
// the rule to fire.
type Rule struct {
	ID            string `yaml:"id"`
	Policy        string `yaml:"policy"`
	PrincipalPath string `yaml:"principal-path"`
	Category      string `yaml:"category"`
	Action        string `yaml:"action"`
}

func (r Rule) matches(f *scan.RiskFinding) bool {
	if r.Policy != "" && !globMatch(r.Policy, f.PolicyName) {
		return false
	}
	if r.PrincipalPath != "" && !globMatch(r.PrincipalPath, f.PrincipalPath) {
		return false
	}
	if r.Category != "" && !strings.EqualFold(r.Category, string(f.Category)) {
		return false
	}
	if r.Action != "" && !globMatch(r.Action, f.Action) {
		return false
	}
	return true
}

// Set is a validated, ready-to-apply exclusion configuration.
type Set struct {
	users    []string
	groups   []string
	roles    []string
	policies []string
	rules    []Rule
}

// Default returns an empty set that suppresses nothing.
func Default() *Set { return &Set{} }

// Parse validates and compiles an exclusion file. Any bad glob fails the
// whole file.
func Parse(data []byte) (*Set, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse exclusions: %w", err)
	}

	for field, patterns := range map[string][]string{
		"users": f.Users, "groups": f.Groups, "roles": f.Roles, "policies": f.Policies,
	} {
		for _, p := range patterns {
			if err := validateGlob(p); err != nil {
				return nil, &InvalidExclusionPatternError{Field: field, Pattern: p}
			}
		}
	}
	for i, r := range f.Rules {
		if r.Policy == "" && r.PrincipalPath == "" && r.Category == "" && r.Action == "" {
			return nil, &InvalidExclusionPatternError{Field: fmt.Sprintf("rules[%d]", i), Pattern: "(empty rule)"}
		}
		for _, p := range []string{r.Policy, r.PrincipalPath, r.Action} {
			if p == "" {
				continue
			}
			if err := validateGlob(p); err != nil {
				return nil, &InvalidExclusionPatternError{Field: fmt.Sprintf("rules[%d]", i), Pattern: p}
			}
		}
		if r.ID == "" {
			f.Rules[i].ID = fmt.Sprintf("rule-%d", i+1)
		}
	}

	return &Set{
		users:    f.Users,
		groups:   f.Groups,
		roles:    f.Roles,
		policies: f.Policies,
		rules:    f.Rules,
	}, nil
}

// Load reads and parses an exclusion file from disk.
func Load(filePath string) (*Set, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read exclusions %s: %w", filePath, err)
	}
	return Parse(data)
}

// IsPolicyExcluded reports whether a policy name matches the policies list.
func (s *Set) IsPolicyExcluded(name string) bool {
	return matchesAny(s.policies, name)
}

// IsPrincipalExcluded reports whether a named principal is excluded wholesale.
func (s *Set) IsPrincipalExcluded(principalType, name string) bool {
	switch strings.ToLower(principalType) {
	case "user":
		return matchesAny(s.users, name)
	case "group":
		return matchesAny(s.groups, name)
	case "role":
		return matchesAny(s.roles, name)
	}
	return false
}

// Apply marks matching findings suppressed, first match wins. Findings are
// never removed. An empty set leaves everything untouched.
func (s *Set) Apply(findings []scan.RiskFinding) {
	for i := range findings {
		f := &findings[i]
		if f.Suppressed {
			continue
		}
		if pattern, ok := matchAny(s.policies, f.PolicyName); ok {
			f.Suppressed = true
			f.SuppressedBy = "policies:" + pattern
			continue
		}
		if pattern, ok := s.principalPattern(f); ok {
			f.Suppressed = true
			f.SuppressedBy = pattern
			continue
		}
		for _, r := range s.rules {
			if r.matches(f) {
				f.Suppressed = true
				f.SuppressedBy = r.ID
				break
			}
		}
	}
}

func (s *Set) principalPattern(f *scan.RiskFinding) (string, bool) {
	var patterns []string
	var field string
	switch f.PrincipalType {
	case "User":
		patterns, field = s.users, "users"
	case "Group":
		patterns, field = s.groups, "groups"
	case "Role":
		patterns, field = s.roles, "roles"
	default:
		return "", false
	}
	if pattern, ok := matchAny(patterns, f.PrincipalName); ok {
		return field + ":" + pattern, true
	}
	return "", false
}

func matchesAny(patterns []string, name string) bool {
	_, ok := matchAny(patterns, name)
	return ok
}

func matchAny(patterns []string, name string) (string, bool) {
	for _, p := range patterns {
		if globMatch(p, name) {
			return p, true
		}
	}
	return "", false
}

func globMatch(pattern, name string) bool {
	ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(name))
	return err == nil && ok
}

func validateGlob(pattern string) error {
	_, err := path.Match(pattern, "probe")
	return err
}
