package scan

import (
	"errors"
	"sort"
	"strings"

	"github.com/McLaouth/cloudsplaining/pkg/catalog"
	"github.com/McLaouth/cloudsplaining/pkg/config"
	"github.com/McLaouth/cloudsplaining/pkg/policy"
)

// Evaluator turns policy documents into effective permission sets and risk
// findings. Stateless across documents; safe for concurrent use.
type Evaluator struct {
	catalog  *catalog.Catalog
	resolver *Resolver
	severity map[catalog.RiskCategory]Severity
}

// NewEvaluator builds an evaluator over an immutable catalog snapshot and the
// scoring tables from config.
func NewEvaluator(cat *catalog.Catalog, risk config.RiskConfig) *Evaluator {
	sevs := make(map[catalog.RiskCategory]Severity, len(risk.SeverityByCategory))
	for category, name := range risk.SeverityByCategory {
		sev, err := ParseSeverity(name)
		if err != nil {
			sev = SeverityMedium
		}
		sevs[catalog.RiskCategory(strings.ToLower(category))] = sev
	}
	return &Evaluator{
		catalog:  cat,
		resolver: NewResolver(cat, risk),
		severity: sevs,
	}
}

// Evaluate resolves every statement, applies Deny precedence, and matches the
// surviving allowed actions against the catalog's risk tags. Re-running on
// the same document and catalog yields identical findings in stable order.
func (e *Evaluator) Evaluate(doc *policy.Document) *Result {
	res := &Result{
		PolicyID:    doc.ID,
		PolicyName:  doc.Name,
		Permissions: newEffectivePermissionSet(),
	}

	var allows []ResolvedPermission
	var denies []ResolvedPermission
	var denyStatements []*policy.Statement

	for i := range doc.Statements {
		st := &doc.Statements[i]
		perms, diags, err := e.resolver.Resolve(st)
		for _, d := range diags {
			d.PolicyID = doc.ID
			res.Diagnostics = append(res.Diagnostics, d)
		}
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, resolveErrorDiagnostic(doc.ID, st.Sid, err))
			continue
		}
		if st.Effect == policy.Deny {
			denies = append(denies, perms...)
			denyStatements = append(denyStatements, st)
			continue
		}
		allows = append(allows, perms...)
	}

	// Pass one: collect denied action patterns. Raw matchers are kept so a
	// wildcard Deny covers actions the catalog snapshot does not know about;
	// NotAction denies contribute their expanded set instead.
	denyPatterns := collectDenyPatterns(denies, denyStatements)

	// Pass two: admit allowed actions not covered by any denied pattern.
	granted := make(map[string]*grantedAction) // lowercase action -> grant
	for i := range allows {
		perm := &allows[i]
		if matchesAny(denyPatterns, perm.Action) {
			res.Permissions.deny(perm.Action)
			continue
		}
		res.Permissions.allow(perm.Action)

		key := strings.ToLower(perm.Action)
		g, ok := granted[key]
		if !ok {
			g = &grantedAction{
				action:     perm.Action,
				unverified: true,
				restricted: true,
			}
			granted[key] = g
		}
		g.addResource(perm.Resource, perm.NegatedResource)
		g.unverified = g.unverified && perm.Unverified
		g.restricted = g.restricted && perm.RestrictedByConditions
	}

	for _, perm := range denies {
		if _, ok := res.Permissions.Effect(perm.Action); !ok {
			res.Permissions.deny(perm.Action)
		}
	}

	if len(res.Permissions.Allowed()) == 0 {
		res.NoEffectiveAccess = true
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			PolicyID: doc.ID,
			Kind:     DiagNoEffectiveAccess,
			Message:  "no effective access: every action is denied or nothing is granted",
		})
		return res
	}

	for _, g := range granted {
		for _, category := range e.catalog.Tags(g.action) {
			res.Findings = append(res.Findings, e.newFinding(doc, g, category))
		}
	}

	sort.Slice(res.Findings, func(i, j int) bool {
		a, b := res.Findings[i], res.Findings[j]
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		return a.Category < b.Category
	})
	return res
}

// grantedAction accumulates the grant paths for one allowed action.
type grantedAction struct {
	action     string
	resources  []string
	unverified bool
	restricted bool
}

func (g *grantedAction) addResource(pattern string, negated bool) {
	if negated {
		pattern = "!" + pattern
	}
	for _, r := range g.resources {
		if r == pattern {
			return
		}
	}
	g.resources = append(g.resources, pattern)
}

func (e *Evaluator) newFinding(doc *policy.Document, g *grantedAction, category catalog.RiskCategory) RiskFinding {
	resources := append([]string(nil), g.resources...)
	sort.Strings(resources)

	sev, ok := e.severity[category]
	if !ok {
		sev = SeverityMedium
	}
	if allWildcardResources(resources) {
		sev = sev.Upgrade()
	}
	downgraded := false
	if g.restricted {
		sev = sev.Downgrade()
		downgraded = true
	}

	return RiskFinding{
		PolicyID:   doc.ID,
		PolicyName: doc.Name,
		Action:     g.action,
		Category:   category,
		Severity:   sev,
		Resources:  resources,
		Unverified: g.unverified,
		Downgraded: downgraded,
	}
}

func allWildcardResources(resources []string) bool {
	for _, r := range resources {
		if r != "*" {
			return false
		}
	}
	return len(resources) > 0
}

// collectDenyPatterns merges raw Deny matchers with the expanded actions of
// NotAction denies.
func collectDenyPatterns(denies []ResolvedPermission, denyStatements []*policy.Statement) []string {
	seen := make(map[string]struct{})
	var patterns []string
	add := func(p string) {
		key := strings.ToLower(p)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		patterns = append(patterns, p)
	}

	for _, st := range denyStatements {
		for _, raw := range st.Action {
			add(raw)
		}
	}
	for _, perm := range denies {
		if len(perm.Statement.NotAction) > 0 {
			add(perm.Action)
		}
	}
	return patterns
}

func resolveErrorDiagnostic(policyID, sid string, err error) Diagnostic {
	d := Diagnostic{PolicyID: policyID, Sid: sid, Message: err.Error()}
	var ambiguous *AmbiguousNotActionError
	var malformed *policy.MalformedStatementError
	switch {
	case errors.As(err, &ambiguous):
		d.Kind = DiagAmbiguousNotAction
	case errors.As(err, &malformed):
		d.Kind = DiagMalformedStatement
	default:
		d.Kind = DiagMalformedStatement
	}
	return d
}
