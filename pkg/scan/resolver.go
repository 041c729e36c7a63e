package scan

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/McLaouth/cloudsplaining/pkg/catalog"
	"github.com/McLaouth/cloudsplaining/pkg/config"
	"github.com/McLaouth/cloudsplaining/pkg/policy"
)

// ResolvedPermission is one concrete (action, resource-pattern) pair produced
// from a statement. Transient: consumed by the evaluator within one pass.
type ResolvedPermission struct {
	Action   string
	Resource string
	// NegatedResource marks pairs that came from a NotResource matcher; the
	// pattern is preserved for traceability, not inverted.
	NegatedResource bool
	Effect          policy.Effect

	// Unverified marks actions not present in the catalog snapshot.
	Unverified bool
	// RestrictedByConditions is set when the statement carries conditions and
	// every condition key is classified restrictive.
	RestrictedByConditions bool

	// Statement is a back-reference for diagnostics only; no ownership.
	Statement *policy.Statement
}

// Resolver expands statements against an immutable catalog snapshot.
// Safe for concurrent use.
type Resolver struct {
	catalog             *catalog.Catalog
	restrictiveKeys     map[string]struct{}
	restrictivePrefixes []string
}

// NewResolver builds a resolver over the given catalog and risk tables.
func NewResolver(cat *catalog.Catalog, risk config.RiskConfig) *Resolver {
	keys := make(map[string]struct{}, len(risk.RestrictiveConditionKeys))
	for _, k := range risk.RestrictiveConditionKeys {
		keys[strings.ToLower(k)] = struct{}{}
	}
	prefixes := make([]string, 0, len(risk.RestrictiveConditionKeyPrefixes))
	for _, p := range risk.RestrictiveConditionKeyPrefixes {
		prefixes = append(prefixes, strings.ToLower(p))
	}
	return &Resolver{
		catalog:             cat,
		restrictiveKeys:     keys,
		restrictivePrefixes: prefixes,
	}
}

// Resolve expands one statement into concrete permissions. The error return
// is statement-fatal (malformed shape, ambiguous NotAction); per-entry
// problems come back as diagnostics alongside whatever did resolve.
func (r *Resolver) Resolve(st *policy.Statement) ([]ResolvedPermission, []Diagnostic, error) {
	if err := st.Validate(); err != nil {
		return nil, nil, err
	}

	var actions []resolvedAction
	var diags []Diagnostic
	var err error

	if len(st.Action) > 0 {
		actions, diags = r.expandActions(st)
	} else {
		actions, diags, err = r.expandNotActions(st)
		if err != nil {
			return nil, diags, err
		}
	}

	restricted := r.onlyRestrictiveConditions(st)

	resources := st.Resource
	negated := false
	if len(resources) == 0 {
		resources = st.NotResource
		negated = true
	}

	// Resource patterns are preserved, not expanded: the real resource set is
	// unknown to the evaluator.
	perms := make([]ResolvedPermission, 0, len(actions)*len(resources))
	for _, a := range actions {
		for _, res := range resources {
			perms = append(perms, ResolvedPermission{
				Action:                 a.name,
				Resource:               res,
				NegatedResource:        negated,
				Effect:                 st.Effect,
				Unverified:             a.unverified,
				RestrictedByConditions: restricted,
				Statement:              st,
			})
		}
	}
	return perms, diags, nil
}

type resolvedAction struct {
	name       string
	unverified bool
}

// expandActions resolves a positive action set.
func (r *Resolver) expandActions(st *policy.Statement) ([]resolvedAction, []Diagnostic) {
	var out []resolvedAction
	var diags []Diagnostic
	seen := make(map[string]struct{})

	add := func(name string, unverified bool) {
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, resolvedAction{name: name, unverified: unverified})
	}

	for _, entry := range st.Action {
		if entry == "*" {
			for _, svc := range r.catalog.Services() {
				names, _ := r.catalog.Lookup(svc)
				for _, n := range names {
					add(svc+":"+n, false)
				}
			}
			continue
		}

		svcPart, namePart, ok := strings.Cut(entry, ":")
		if !ok {
			diags = append(diags, Diagnostic{
				Sid:     st.Sid,
				Kind:    DiagMalformedStatement,
				Message: fmt.Sprintf("action %q has no service prefix", entry),
			})
			continue
		}

		services := r.matchServices(svcPart)
		if len(services) == 0 {
			if hasWildcard(namePart) || hasWildcard(svcPart) {
				// Catalog may be incomplete; keep the pattern itself so the
				// grant is not silently dropped.
				add(entry, true)
			} else {
				unknown := &catalog.UnknownServiceError{Service: svcPart}
				diags = append(diags, Diagnostic{
					Sid:     st.Sid,
					Kind:    DiagUnknownService,
					Message: unknown.Error(),
				})
			}
			continue
		}

		if !hasWildcard(namePart) {
			// Concrete action: resolves even when absent from the catalog. A
			// wildcarded service part can match the same name in several
			// services (lambda/sns/sqs all register AddPermission).
			canonical := r.canonicalActions(services, namePart)
			if len(canonical) == 0 {
				add(entry, true)
				continue
			}
			for _, name := range canonical {
				add(name, false)
			}
			continue
		}

		for _, svc := range services {
			names, _ := r.catalog.Lookup(svc)
			for _, n := range names {
				if matchPattern(namePart, n) {
					add(svc+":"+n, false)
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].name) < strings.ToLower(out[j].name)
	})
	return out, diags
}

// expandNotActions resolves a negated action set: everything the referenced
// services expose, minus the negated entries. The service scope comes from
// the resource ARNs; a scopeless NotAction is ambiguous by construction.
func (r *Resolver) expandNotActions(st *policy.Statement) ([]resolvedAction, []Diagnostic, error) {
	scope := serviceScope(st)
	if len(scope) == 0 {
		return nil, nil, &AmbiguousNotActionError{Sid: st.Sid}
	}

	var out []resolvedAction
	var diags []Diagnostic
	for _, svc := range scope {
		names, err := r.catalog.Lookup(svc)
		var unknown *catalog.UnknownServiceError
		if errors.As(err, &unknown) {
			diags = append(diags, Diagnostic{
				Sid:     st.Sid,
				Kind:    DiagUnknownService,
				Message: unknown.Error(),
			})
			continue
		}
		for _, n := range names {
			qualified := svc + ":" + n
			if matchesAny(st.NotAction, qualified) {
				continue
			}
			out = append(out, resolvedAction{name: qualified})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].name) < strings.ToLower(out[j].name)
	})
	return out, diags, nil
}

// matchServices returns catalog service prefixes matching a (possibly
// wildcarded) service part.
func (r *Resolver) matchServices(svcPart string) []string {
	if !hasWildcard(svcPart) {
		if _, err := r.catalog.Lookup(svcPart); err != nil {
			return nil
		}
		return []string{strings.ToLower(svcPart)}
	}
	var out []string
	for _, svc := range r.catalog.Services() {
		if matchPattern(svcPart, svc) {
			out = append(out, svc)
		}
	}
	return out
}

// canonicalActions finds the catalog casing for a concrete action name in
// every candidate service that registers it.
func (r *Resolver) canonicalActions(services []string, name string) []string {
	var out []string
	for _, svc := range services {
		names, _ := r.catalog.Lookup(svc)
		for _, n := range names {
			if strings.EqualFold(n, name) {
				out = append(out, svc+":"+n)
				break
			}
		}
	}
	return out
}

// serviceScope extracts concrete service prefixes from the statement's
// resource ARN patterns. Wildcard service components give no scope.
func serviceScope(st *policy.Statement) []string {
	patterns := st.Resource
	if len(patterns) == 0 {
		patterns = st.NotResource
	}

	seen := make(map[string]struct{})
	var scope []string
	for _, p := range patterns {
		// arn:partition:service:region:account:resource
		parts := strings.SplitN(p, ":", 4)
		if len(parts) < 3 || parts[0] != "arn" {
			continue
		}
		svc := strings.ToLower(parts[2])
		if svc == "" || hasWildcard(svc) {
			continue
		}
		if _, dup := seen[svc]; dup {
			continue
		}
		seen[svc] = struct{}{}
		scope = append(scope, svc)
	}
	sort.Strings(scope)
	return scope
}

func matchesAny(patterns []string, action string) bool {
	for _, p := range patterns {
		if matchPattern(p, action) {
			return true
		}
	}
	return false
}

// onlyRestrictiveConditions reports whether the statement has conditions and
// every condition key is classified restrictive. A mix of restrictive and
// unknown keys never downgrades.
func (r *Resolver) onlyRestrictiveConditions(st *policy.Statement) bool {
	if !st.HasConditions() {
		return false
	}
	for _, block := range st.Condition {
		for key := range block {
			if !r.isRestrictiveKey(key) {
				return false
			}
		}
	}
	return true
}

func (r *Resolver) isRestrictiveKey(key string) bool {
	lower := strings.ToLower(key)
	if _, ok := r.restrictiveKeys[lower]; ok {
		return true
	}
	for _, prefix := range r.restrictivePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
