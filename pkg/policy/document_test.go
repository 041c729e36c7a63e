package policy

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseStringAndArrayForms(t *testing.T) {
	// IAM JSON allows scalar or array for every matcher field, and a scalar
	// statement block.
	doc := `{
		"Version": "2012-10-17",
		"Statement": {
			"Sid": "S1",
			"Effect": "Allow",
			"Action": "s3:GetObject",
			"Resource": ["arn:aws:s3:::data/*", "arn:aws:s3:::logs/*"]
		}
	}`

	d, err := Parse("p1", "test", SourceManaged, "", []byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(d.Statements) != 1 {
		t.Fatalf("got %d statements, want 1", len(d.Statements))
	}
	st := d.Statements[0]
	if st.Effect != Allow {
		t.Errorf("effect = %q", st.Effect)
	}
	if len(st.Action) != 1 || st.Action[0] != "s3:GetObject" {
		t.Errorf("actions = %v", st.Action)
	}
	if len(st.Resource) != 2 {
		t.Errorf("resources = %v", st.Resource)
	}
	if err := st.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestParseEncodedDocument(t *testing.T) {
	raw := `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":["iam:PassRole"],"Resource":"*"}]}`
	encoded := url.QueryEscape(raw)

	d, err := ParseEncoded("p2", "inline", SourceInline, "arn:aws:iam::123456789012:role/app", encoded)
	if err != nil {
		t.Fatalf("ParseEncoded failed: %v", err)
	}
	if len(d.Statements) != 1 || d.Statements[0].Action[0] != "iam:PassRole" {
		t.Fatalf("unexpected statements: %+v", d.Statements)
	}

	// Plain JSON passes through untouched, even when it contains percent signs.
	plain := `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"s3:GetObject","Resource":"arn:aws:s3:::a%20b/*"}]}`
	d, err = ParseEncoded("p3", "plain", SourceManaged, "", plain)
	if err != nil {
		t.Fatalf("ParseEncoded(plain) failed: %v", err)
	}
	if d.Statements[0].Resource[0] != "arn:aws:s3:::a%20b/*" {
		t.Errorf("resource was decoded: %q", d.Statements[0].Resource[0])
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		st   Statement
		ok   bool
	}{
		{
			name: "valid allow",
			st:   Statement{Effect: Allow, Action: []string{"s3:GetObject"}, Resource: []string{"*"}},
			ok:   true,
		},
		{
			name: "valid not-action deny",
			st:   Statement{Effect: Deny, NotAction: []string{"iam:Get*"}, Resource: []string{"arn:aws:iam::1:role/*"}},
			ok:   true,
		},
		{
			name: "missing effect",
			st:   Statement{Action: []string{"s3:GetObject"}, Resource: []string{"*"}},
		},
		{
			name: "bogus effect",
			st:   Statement{Effect: "Maybe", Action: []string{"s3:GetObject"}, Resource: []string{"*"}},
		},
		{
			name: "no action matchers",
			st:   Statement{Effect: Allow, Resource: []string{"*"}},
		},
		{
			name: "action and not-action together",
			st:   Statement{Effect: Allow, Action: []string{"a:B"}, NotAction: []string{"a:C"}, Resource: []string{"*"}},
		},
		{
			name: "no resource matchers",
			st:   Statement{Effect: Allow, Action: []string{"s3:GetObject"}},
		},
		{
			name: "resource and not-resource together",
			st:   Statement{Effect: Allow, Action: []string{"a:B"}, Resource: []string{"*"}, NotResource: []string{"arn:x"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.st.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if !tc.ok {
				var malformed *MalformedStatementError
				if !errors.As(err, &malformed) {
					t.Fatalf("expected MalformedStatementError, got %v", err)
				}
			}
		})
	}
}
