// Package engine orchestrates a scan end to end: acquire authorization
// details, evaluate every policy, apply exclusions and custom rules, and
// write report artifacts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/McLaouth/cloudsplaining/internal/awsx"
	"github.com/McLaouth/cloudsplaining/pkg/catalog"
	"github.com/McLaouth/cloudsplaining/pkg/config"
	"github.com/McLaouth/cloudsplaining/pkg/exclusions"
	"github.com/McLaouth/cloudsplaining/pkg/policy"
	"github.com/McLaouth/cloudsplaining/pkg/report"
	"github.com/McLaouth/cloudsplaining/pkg/rules"
	"github.com/McLaouth/cloudsplaining/pkg/scan"
	"github.com/McLaouth/cloudsplaining/pkg/telemetry"
	"github.com/McLaouth/cloudsplaining/pkg/version"
)

// ErrPartialResult indicates the scan completed but some policy documents
// could not be parsed.
var ErrPartialResult = errors.New("scan completed with partial results")

// Config holds engine settings.
type Config struct {
	Region  string
	Profile string

	// AuthDetailsPath points at a local authorization-details snapshot.
	// Empty means download from the live account.
	AuthDetailsPath string

	CatalogPath    string
	ExclusionsPath string
	RulesPath      string

	// OutputDir is a local directory or an "s3://bucket/prefix" target.
	OutputDir string
	// Formats selects report artifacts: json, csv, html.
	Formats []string

	// Risk overrides the scoring tables; unset tables fall back to the
	// defaults.
	Risk config.RiskConfig

	MaxConcurrency    int
	IncludeAWSManaged bool

	// StrictMode forces a non-nil error when any document fails to parse.
	StrictMode bool

	OtelEndpoint  string
	SkipTelemetry bool

	Logger *slog.Logger
}

// Engine is the runtime core.
type Engine struct {
	Logger *slog.Logger
	Tracer trace.Tracer

	config     Config
	catalog    *catalog.Catalog
	exclusions *exclusions.Set
	rules      *rules.Engine
	evaluator  *scan.Evaluator

	outputDir string
	s3Target  string // "s3://bucket/prefix" or empty

	shutdownTracer func(context.Context) error
}

// Option defines a functional configuration override.
type Option func(*Engine)

// New initializes the engine: logging, telemetry, catalog, exclusion and
// rule configuration.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: redactSensitiveData,
	})
	e := &Engine{
		Logger:    slog.New(handler),
		Tracer:    otel.Tracer("cloudsplaining/engine"),
		outputDir: "cloudsplaining-out",
	}

	for _, opt := range opts {
		opt(e)
	}

	slog.SetDefault(e.Logger)

	if !e.config.SkipTelemetry {
		shutdown, err := telemetry.Init(ctx, version.AppName, version.Current, e.config.OtelEndpoint)
		if err != nil {
			e.Logger.Warn("Telemetry failed", "error", err)
		} else {
			e.shutdownTracer = shutdown
		}
	}

	if e.catalog == nil {
		if e.config.CatalogPath != "" {
			cat, err := catalog.LoadFile(e.config.CatalogPath)
			if err != nil {
				return nil, fmt.Errorf("load catalog: %w", err)
			}
			e.catalog = cat
		} else {
			e.catalog = catalog.Default()
		}
	}

	if e.exclusions == nil && e.config.ExclusionsPath != "" {
		set, err := exclusions.Load(e.config.ExclusionsPath)
		if err != nil {
			return nil, fmt.Errorf("load exclusions: %w", err)
		}
		e.exclusions = set
	}

	if e.rules == nil && e.config.RulesPath != "" {
		engine, err := rules.Load(e.config.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		e.rules = engine
	}

	e.evaluator = scan.NewEvaluator(e.catalog, e.config.Risk.OrDefaults())
	return e, nil
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.Logger = l
	}
}

// WithCatalog overrides the action catalog, bypassing CatalogPath.
func WithCatalog(c *catalog.Catalog) Option {
	return func(e *Engine) {
		e.catalog = c
	}
}

// WithExclusions overrides the exclusion set, bypassing ExclusionsPath.
func WithExclusions(set *exclusions.Set) Option {
	return func(e *Engine) {
		e.exclusions = set
	}
}

// WithRules overrides the custom rule engine, bypassing RulesPath.
func WithRules(r *rules.Engine) Option {
	return func(e *Engine) {
		e.rules = r
	}
}

// WithConfig sets raw config.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.config = cfg
		if cfg.OutputDir != "" {
			if strings.HasPrefix(cfg.OutputDir, "s3://") {
				e.s3Target = cfg.OutputDir
			} else {
				e.outputDir = cfg.OutputDir
			}
		}
		if cfg.Logger != nil {
			e.Logger = cfg.Logger
		}
	}
}

// Download fetches authorization details from the live account. Returns the
// snapshot JSON and the account ID.
func (e *Engine) Download(ctx context.Context) ([]byte, string, error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.Download")
	defer span.End()

	client, err := awsx.NewClient(ctx, e.region(), e.config.Profile)
	if err != nil {
		return nil, "", err
	}
	accountID, err := client.VerifyIdentity(ctx)
	if err != nil {
		return nil, "", err
	}
	e.Logger.Info("Downloading authorization details", "account_id", accountID)

	snapshot, err := client.DownloadAuthorizationDetails(ctx, e.config.IncludeAWSManaged)
	if err != nil {
		return nil, "", err
	}
	span.SetAttributes(attribute.Int("snapshot.bytes", len(snapshot)))
	return snapshot, accountID, nil
}

// ScanAccount evaluates a whole account: either the snapshot file from
// config, or a live download.
func (e *Engine) ScanAccount(ctx context.Context) (*report.Report, error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.ScanAccount")
	defer span.End()
	defer e.recoverPanic(ctx)

	var snapshot []byte
	var accountID string
	var err error

	if e.config.AuthDetailsPath != "" {
		snapshot, err = os.ReadFile(e.config.AuthDetailsPath)
		if err != nil {
			return nil, fmt.Errorf("read authorization details: %w", err)
		}
	} else {
		snapshot, accountID, err = e.Download(ctx)
		if err != nil {
			return nil, err
		}
	}

	details, err := scan.ParseAuthorizationDetails(snapshot)
	if err != nil {
		return nil, err
	}

	scanner := e.accountScanner()
	accountReport := &scan.AccountReport{}
	docs := scanner.Collect(details, accountReport)

	e.Logger.Info("Evaluating policies",
		"documents", len(docs),
		"excluded_policies", len(accountReport.ExcludedPolicies),
		"excluded_principals", len(accountReport.ExcludedPrincipals),
	)

	accountReport.Results = e.evaluateAll(ctx, scanner, docs)
	accountReport.PrincipalPolicyMapping = scan.PrincipalPolicyMapping(details)

	for _, res := range accountReport.Results {
		e.annotate(res.Findings)
	}

	rep := report.FromAccountReport(accountID, e.catalog.Version(), accountReport)
	span.SetAttributes(
		attribute.Int("scan.policies", rep.PoliciesTotal),
		attribute.Int("scan.findings", len(rep.Findings)),
	)
	return rep, e.checkPartial(span, rep)
}

// ScanPolicyFiles evaluates standalone policy documents from disk.
func (e *Engine) ScanPolicyFiles(ctx context.Context, paths []string) (*report.Report, error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.ScanPolicyFiles")
	defer span.End()
	defer e.recoverPanic(ctx)

	var results []*scan.Result
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		name := strings.TrimSuffix(path, ".json")
		if i := strings.LastIndexByte(name, '/'); i >= 0 {
			name = name[i+1:]
		}

		doc, err := policy.Parse(path, name, policy.SourceManaged, "", data)
		if err != nil {
			results = append(results, &scan.Result{
				PolicyID:   path,
				PolicyName: name,
				Diagnostics: []scan.Diagnostic{{
					PolicyID: path,
					Kind:     scan.DiagUnparsablePolicy,
					Message:  err.Error(),
				}},
			})
			continue
		}
		res := e.evaluator.Evaluate(doc)
		e.annotate(res.Findings)
		results = append(results, res)
	}

	rep := report.FromResults(e.catalog.Version(), results...)
	span.SetAttributes(
		attribute.Int("scan.policies", rep.PoliciesTotal),
		attribute.Int("scan.findings", len(rep.Findings)),
	)
	return rep, e.checkPartial(span, rep)
}

func (e *Engine) accountScanner() *scan.AccountScanner {
	var excl scan.ExclusionPolicy
	if e.exclusions != nil {
		excl = e.exclusions
	}
	return scan.NewAccountScanner(e.evaluator, excl)
}

// annotate runs the exclusion filter and custom rules over one finding set.
func (e *Engine) annotate(findings []scan.RiskFinding) {
	if e.exclusions != nil {
		e.exclusions.Apply(findings)
	}
	if e.rules != nil {
		e.rules.Annotate(findings)
	}
}

// checkPartial maps unparsable-policy diagnostics to the partial-result
// contract.
func (e *Engine) checkPartial(span trace.Span, rep *report.Report) error {
	unparsable := 0
	for _, d := range rep.Diagnostics {
		if d.Kind == scan.DiagUnparsablePolicy {
			unparsable++
		}
	}
	if unparsable == 0 {
		return nil
	}

	span.SetAttributes(
		attribute.Bool("scan.partial", true),
		attribute.Int("scan.unparsable_policies", unparsable),
	)
	if e.config.StrictMode {
		e.Logger.Error("Strict Mode: Failing due to unparsable policy documents", "count", unparsable)
		return ErrPartialResult
	}
	e.Logger.Warn("Scan finished with unparsable policy documents (StrictMode=false)", "count", unparsable)
	return nil
}

// Close flushes pending trace spans. Safe to call when telemetry was skipped.
func (e *Engine) Close(ctx context.Context) error {
	if e.shutdownTracer == nil {
		return nil
	}
	return e.shutdownTracer(ctx)
}

func (e *Engine) region() string {
	if e.config.Region != "" {
		return e.config.Region
	}
	return config.DefaultRegion
}

// recoverPanic records crashes in telemetry and logs instead of unwinding
// into the caller.
func (e *Engine) recoverPanic(ctx context.Context) {
	if r := recover(); r != nil {
		tr := otel.Tracer("cloudsplaining/engine")
		_, span := tr.Start(ctx, "CriticalPanic")

		stack := debug.Stack()
		span.RecordError(fmt.Errorf("%v", r), trace.WithStackTrace(true))
		span.SetStatus(codes.Error, "CRITICAL FAILURE")
		span.SetAttributes(
			attribute.String("crash.stack", string(stack)),
			attribute.String("crash.reason", fmt.Sprintf("%v", r)),
		)
		span.End()

		e.Logger.Error("CRITICAL FAILURE", "error", r, "stack", string(stack))
	}
}

// redactSensitiveData scrubs sensitive keys from logs.
func redactSensitiveData(groups []string, a slog.Attr) slog.Attr {
	sensitiveKeys := map[string]bool{
		"password": true, "access_key": true, "token": true,
		"secret": true, "api_key": true, "private_key": true, "auth_token": true,
		"refresh_token": true, "certificate": true, "signature": true,
		"credential": true, "ssh_key": true, "connection_string": true,
	}

	if sensitiveKeys[a.Key] {
		return slog.Attr{
			Key:   a.Key,
			Value: slog.StringValue("[REDACTED]"),
		}
	}
	return a
}
