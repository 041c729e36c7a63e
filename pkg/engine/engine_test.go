package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/McLaouth/cloudsplaining/pkg/catalog"
	"github.com/McLaouth/cloudsplaining/pkg/config"
	"github.com/McLaouth/cloudsplaining/pkg/exclusions"
	"github.com/McLaouth/cloudsplaining/pkg/scan"
)

const escalationPolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {"Effect": "Allow", "Action": ["iam:CreateAccessKey", "s3:GetObject"], "Resource": "*"}
  ]
}`

const accountSnapshot = `{
  "Policies": [],
  "UserDetailList": [
    {
      "UserName": "alice",
      "Arn": "arn:aws:iam::123456789012:user/alice",
      "Path": "/",
      "UserPolicyList": [
        {
          "PolicyName": "alice-inline",
          "PolicyDocument": {"Version": "2012-10-17", "Statement": [{"Effect": "Allow", "Action": "iam:CreateAccessKey", "Resource": "*"}]}
        }
      ]
    }
  ],
  "GroupDetailList": [],
  "RoleDetailList": []
}`

func newTestEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	cfg.SkipTelemetry = true
	if cfg.OutputDir == "" {
		cfg.OutputDir = t.TempDir()
	}
	e, err := New(context.Background(), append([]Option{WithConfig(cfg)}, opts...)...)
	require.NoError(t, err)
	return e
}

func TestScanPolicyFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "escalation.json")
	require.NoError(t, os.WriteFile(path, []byte(escalationPolicy), 0600))

	e := newTestEngine(t, Config{})
	rep, err := e.ScanPolicyFiles(context.Background(), []string{path})
	require.NoError(t, err)

	require.NotEmpty(t, rep.Findings)
	assert.Equal(t, "escalation", rep.Findings[0].PolicyName)

	var escalation bool
	for _, f := range rep.Findings {
		if f.Action == "iam:CreateAccessKey" && f.Category == catalog.PrivilegeEscalation {
			escalation = true
		}
	}
	assert.True(t, escalation, "privilege-escalation finding missing")
}

func TestScanPolicyFilesStrictMode(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(good, []byte(escalationPolicy), 0600))
	require.NoError(t, os.WriteFile(bad, []byte("not a policy"), 0600))

	relaxed := newTestEngine(t, Config{})
	rep, err := relaxed.ScanPolicyFiles(context.Background(), []string{good, bad})
	require.NoError(t, err)
	assert.NotEmpty(t, rep.Findings, "healthy file must still be scanned")
	assert.NotEmpty(t, rep.Diagnostics)

	strict := newTestEngine(t, Config{StrictMode: true})
	_, err = strict.ScanPolicyFiles(context.Background(), []string{good, bad})
	require.True(t, errors.Is(err, ErrPartialResult), "strict mode must surface partial results, got %v", err)
}

const conditionedPolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Action": "secretsmanager:GetSecretValue",
      "Resource": "arn:aws:secretsmanager:*:*:secret:app/*",
      "Condition": {"StringEquals": {"aws:PrincipalOrgID": "o-example"}}
    }
  ]
}`

func TestScanRiskConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conditioned.json")
	require.NoError(t, os.WriteFile(path, []byte(conditionedPolicy), 0600))

	// Default table classifies aws:PrincipalOrgID restrictive, so the
	// findings get downgraded one step.
	defaults := newTestEngine(t, Config{})
	rep, err := defaults.ScanPolicyFiles(context.Background(), []string{path})
	require.NoError(t, err)
	require.NotEmpty(t, rep.Findings)
	for _, f := range rep.Findings {
		assert.True(t, f.Downgraded)
		assert.Equal(t, scan.SeverityMedium, f.Severity)
	}

	// An overridden key list that drops aws:PrincipalOrgID keeps the base
	// severity. Unset tables still fall back to the defaults.
	overridden := newTestEngine(t, Config{
		Risk: config.RiskConfig{RestrictiveConditionKeys: []string{"aws:SourceIp"}},
	})
	rep, err = overridden.ScanPolicyFiles(context.Background(), []string{path})
	require.NoError(t, err)
	require.NotEmpty(t, rep.Findings)
	for _, f := range rep.Findings {
		assert.False(t, f.Downgraded)
		assert.Equal(t, scan.SeverityHigh, f.Severity)
	}
}

func TestScanAccountFromSnapshotFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authz.json")
	require.NoError(t, os.WriteFile(path, []byte(accountSnapshot), 0600))

	e := newTestEngine(t, Config{AuthDetailsPath: path, MaxConcurrency: 2})
	rep, err := e.ScanAccount(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, rep.Findings)
	assert.Equal(t, "User", rep.Findings[0].PrincipalType)
	assert.Equal(t, "alice", rep.Findings[0].PrincipalName)
	require.NotEmpty(t, rep.Principals)
}

func TestScanAccountAppliesExclusions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authz.json")
	require.NoError(t, os.WriteFile(path, []byte(accountSnapshot), 0600))

	set, err := exclusions.Parse([]byte("rules:\n  - id: known-risk\n    action: \"iam:CreateAccessKey\"\n"))
	require.NoError(t, err)

	e := newTestEngine(t, Config{AuthDetailsPath: path}, WithExclusions(set))
	rep, err := e.ScanAccount(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, rep.Findings)
	for _, f := range rep.Findings {
		assert.True(t, f.Suppressed)
		assert.Equal(t, "known-risk", f.SuppressedBy)
	}
	assert.Equal(t, 0, rep.Summarize().Active)
}

func TestWriteArtifacts(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "escalation.json")
	require.NoError(t, os.WriteFile(policyPath, []byte(escalationPolicy), 0600))

	out := t.TempDir()
	e := newTestEngine(t, Config{OutputDir: out, Formats: []string{"json", "csv", "html"}})

	rep, err := e.ScanPolicyFiles(context.Background(), []string{policyPath})
	require.NoError(t, err)

	keys, err := e.WriteArtifacts(context.Background(), rep)
	require.NoError(t, err)
	require.Len(t, keys, 3)

	for _, name := range []string{"report.json", "report.csv", "report.html"} {
		info, err := os.Stat(filepath.Join(out, name))
		require.NoError(t, err, "artifact %s missing", name)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestWriteArtifactsRejectsUnknownFormat(t *testing.T) {
	e := newTestEngine(t, Config{Formats: []string{"pdf"}})

	rep, err := e.ScanPolicyFiles(context.Background(), nil)
	require.NoError(t, err)

	_, err = e.WriteArtifacts(context.Background(), rep)
	require.Error(t, err)
}

func TestParseS3Target(t *testing.T) {
	bucket, prefix, err := parseS3Target("s3://scan-archive/team/iam")
	require.NoError(t, err)
	assert.Equal(t, "scan-archive", bucket)
	assert.Equal(t, "team/iam/", prefix)

	bucket, prefix, err = parseS3Target("s3://scan-archive")
	require.NoError(t, err)
	assert.Equal(t, "scan-archive", bucket)
	assert.Equal(t, "", prefix)

	_, _, err = parseS3Target("scan-archive")
	require.Error(t, err)
}
