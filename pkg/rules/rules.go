// Package rules evaluates user-defined CEL expressions against findings.
// Rules annotate; they never suppress or remove.
package rules

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"gopkg.in/yaml.v3"

	"github.com/McLaouth/cloudsplaining/pkg/scan"
)

// Rule is one user-defined check, loaded from YAML.
type Rule struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Condition is a CEL expression over a finding, e.g.
	// `category == "privilege-escalation" && principal_type == "Role"`.
	Condition string `yaml:"condition" json:"condition"`
}

// Engine compiles rules once and runs them per finding.
type Engine struct {
	env      *cel.Env
	programs map[string]cel.Program
}

// NewEngine initializes the CEL environment with the finding variable
// declarations.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("policy_id", decls.String),
			decls.NewVar("policy_name", decls.String),
			decls.NewVar("action", decls.String),
			decls.NewVar("category", decls.String),
			decls.NewVar("severity", decls.String),
			decls.NewVar("resources", decls.NewListType(decls.String)),
			decls.NewVar("principal_type", decls.String),
			decls.NewVar("principal_name", decls.String),
			decls.NewVar("principal_path", decls.String),
			decls.NewVar("unverified", decls.Bool),
			decls.NewVar("downgraded", decls.Bool),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	return &Engine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile compiles rules into executable programs. A compile error is fatal:
// a rule set that half-loads silently changes what gets flagged.
func (e *Engine) Compile(rules []Rule) error {
	for _, r := range rules {
		if r.ID == "" {
			return fmt.Errorf("rule with empty id")
		}
		ast, issues := e.env.Compile(r.Condition)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("rule %s compilation error: %w", r.ID, issues.Err())
		}

		prg, err := e.env.Program(ast)
		if err != nil {
			return fmt.Errorf("rule %s program creation error: %w", r.ID, err)
		}

		e.programs[r.ID] = prg
	}
	return nil
}

// Len reports the number of compiled rules.
func (e *Engine) Len() int { return len(e.programs) }

// Evaluate returns the IDs of rules matching one finding, sorted. A rule
// whose evaluation errors is skipped, not fatal.
func (e *Engine) Evaluate(f *scan.RiskFinding) []string {
	vars := map[string]any{
		"policy_id":      f.PolicyID,
		"policy_name":    f.PolicyName,
		"action":         f.Action,
		"category":       string(f.Category),
		"severity":       f.Severity.String(),
		"resources":      f.Resources,
		"principal_type": f.PrincipalType,
		"principal_name": f.PrincipalName,
		"principal_path": f.PrincipalPath,
		"unverified":     f.Unverified,
		"downgraded":     f.Downgraded,
	}

	var matches []string
	for id, prg := range e.programs {
		out, _, err := prg.Eval(vars)
		if err != nil {
			slog.Error("Rule evaluation failed", "rule_id", id, "error", err)
			continue
		}
		if match, ok := out.Value().(bool); ok && match {
			matches = append(matches, id)
		}
	}
	sort.Strings(matches)
	return matches
}

// Annotate stamps matching rule IDs onto every finding in place.
func (e *Engine) Annotate(findings []scan.RiskFinding) {
	if len(e.programs) == 0 {
		return
	}
	for i := range findings {
		findings[i].RuleHits = e.Evaluate(&findings[i])
	}
}

// ruleFile is the YAML shape on disk.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Load reads a YAML rule file and returns a compiled engine.
func Load(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and compiles a YAML rule document.
func Parse(data []byte) (*Engine, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	engine, err := NewEngine()
	if err != nil {
		return nil, err
	}
	if err := engine.Compile(f.Rules); err != nil {
		return nil, err
	}
	return engine, nil
}
