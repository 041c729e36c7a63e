// Package policy models IAM policy documents as loaded from authorization
// details or standalone JSON files. Documents are immutable once parsed.
package policy

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Effect is the statement effect. Exactly Allow or Deny.
type Effect string

const (
	Allow Effect = "Allow"
	Deny  Effect = "Deny"
)

// SourceKind records where a document came from.
type SourceKind string

const (
	SourceInline        SourceKind = "inline"
	SourceManaged       SourceKind = "managed"
	SourceResourceBased SourceKind = "resource-based"
)

// MalformedStatementError indicates a structurally invalid statement.
type MalformedStatementError struct {
	Sid    string
	Reason string
}

func (e *MalformedStatementError) Error() string {
	if e.Sid != "" {
		return fmt.Sprintf("malformed statement %q: %s", e.Sid, e.Reason)
	}
	return fmt.Sprintf("malformed statement: %s", e.Reason)
}

// Document is one IAM policy document plus its identity metadata.
type Document struct {
	// ID is the stable identifier used in findings: the policy ARN for
	// managed policies, "<principal>/<policy-name>" for inline ones.
	ID        string
	Name      string
	Source    SourceKind
	Principal string // owning principal ARN, lookup only

	Version    string
	Statements []Statement
}

// Statement is one Allow/Deny rule. Action/NotAction and Resource/NotResource
// are mutually exclusive; Validate enforces the shape.
type Statement struct {
	Sid         string
	Effect      Effect
	Action      []string
	NotAction   []string
	Resource    []string
	NotResource []string
	Condition   map[string]map[string]any
}

// Validate checks the structural invariants of a statement.
func (s *Statement) Validate() error {
	if s.Effect != Allow && s.Effect != Deny {
		return &MalformedStatementError{Sid: s.Sid, Reason: fmt.Sprintf("effect must be Allow or Deny, got %q", s.Effect)}
	}
	if len(s.Action) == 0 && len(s.NotAction) == 0 {
		return &MalformedStatementError{Sid: s.Sid, Reason: "no action matchers"}
	}
	if len(s.Action) > 0 && len(s.NotAction) > 0 {
		return &MalformedStatementError{Sid: s.Sid, Reason: "both Action and NotAction present"}
	}
	if len(s.Resource) == 0 && len(s.NotResource) == 0 {
		return &MalformedStatementError{Sid: s.Sid, Reason: "no resource matchers"}
	}
	if len(s.Resource) > 0 && len(s.NotResource) > 0 {
		return &MalformedStatementError{Sid: s.Sid, Reason: "both Resource and NotResource present"}
	}
	return nil
}

// HasConditions reports whether the statement carries a condition block.
func (s *Statement) HasConditions() bool {
	return len(s.Condition) > 0
}

// stringList accepts both "s" and ["a","b"], which IAM JSON allows for
// Action, NotAction, Resource and NotResource.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or string array: %w", err)
	}
	*l = many
	return nil
}

type statementJSON struct {
	Sid         string                    `json:"Sid"`
	Effect      string                    `json:"Effect"`
	Action      stringList                `json:"Action"`
	NotAction   stringList                `json:"NotAction"`
	Resource    stringList                `json:"Resource"`
	NotResource stringList                `json:"NotResource"`
	Condition   map[string]map[string]any `json:"Condition"`
}

// statementBlock accepts both a single statement object and an array.
type statementBlock []statementJSON

func (b *statementBlock) UnmarshalJSON(data []byte) error {
	var single statementJSON
	if err := json.Unmarshal(data, &single); err == nil {
		*b = []statementJSON{single}
		return nil
	}
	var many []statementJSON
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected statement or statement array: %w", err)
	}
	*b = many
	return nil
}

type documentJSON struct {
	Version   string         `json:"Version"`
	Statement statementBlock `json:"Statement"`
}

// Parse decodes a raw policy document. Statements are not validated here;
// callers validate per statement so one bad statement cannot sink a document.
func Parse(id, name string, source SourceKind, principal string, data []byte) (*Document, error) {
	var raw documentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse policy document %s: %w", id, err)
	}

	doc := &Document{
		ID:         id,
		Name:       name,
		Source:     source,
		Principal:  principal,
		Version:    raw.Version,
		Statements: make([]Statement, 0, len(raw.Statement)),
	}
	for _, st := range raw.Statement {
		doc.Statements = append(doc.Statements, Statement{
			Sid:         st.Sid,
			Effect:      Effect(st.Effect),
			Action:      st.Action,
			NotAction:   st.NotAction,
			Resource:    st.Resource,
			NotResource: st.NotResource,
			Condition:   st.Condition,
		})
	}
	return doc, nil
}

// ParseEncoded decodes a document that may be URL-encoded, the way the IAM
// API returns inline and versioned documents.
func ParseEncoded(id, name string, source SourceKind, principal, raw string) (*Document, error) {
	body := raw
	if strings.Contains(raw, "%") && !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		decoded, err := url.QueryUnescape(raw)
		if err != nil {
			return nil, fmt.Errorf("decode policy document %s: %w", id, err)
		}
		body = decoded
	}
	return Parse(id, name, source, principal, []byte(body))
}
