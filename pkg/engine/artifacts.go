package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/McLaouth/cloudsplaining/internal/awsx"
	"github.com/McLaouth/cloudsplaining/pkg/report"
	"github.com/McLaouth/cloudsplaining/pkg/storage"
)

// DefaultFormats is what WriteArtifacts renders when config names none.
var DefaultFormats = []string{"json", "html"}

// WriteArtifacts renders the report in each configured format and stores the
// artifacts. Returns the keys written.
func (e *Engine) WriteArtifacts(ctx context.Context, rep *report.Report) ([]string, error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.WriteArtifacts")
	defer span.End()

	store, prefix, err := e.artifactStore(ctx)
	if err != nil {
		return nil, err
	}

	formats := e.config.Formats
	if len(formats) == 0 {
		formats = DefaultFormats
	}

	var keys []string
	for _, format := range formats {
		var buf bytes.Buffer
		switch format {
		case "json":
			err = rep.WriteJSON(&buf)
		case "csv":
			err = rep.WriteCSV(&buf)
		case "html":
			err = rep.WriteHTML(&buf)
		default:
			return nil, fmt.Errorf("unknown report format %q", format)
		}
		if err != nil {
			return nil, fmt.Errorf("render %s report: %w", format, err)
		}

		key := prefix + "report." + format
		if err := store.Put(ctx, key, buf.Bytes()); err != nil {
			return nil, err
		}
		e.Logger.Info("Report artifact written", "key", key, "bytes", buf.Len())
		keys = append(keys, key)
	}
	return keys, nil
}

// StoreSnapshot persists a downloaded authorization-details snapshot next to
// the report artifacts.
func (e *Engine) StoreSnapshot(ctx context.Context, snapshot []byte) (string, error) {
	store, prefix, err := e.artifactStore(ctx)
	if err != nil {
		return "", err
	}
	key := prefix + "authorization-details.json"
	if err := store.Put(ctx, key, snapshot); err != nil {
		return "", err
	}
	return key, nil
}

// artifactStore resolves the configured output target. An s3:// target needs
// live credentials; everything else lands on the local filesystem.
func (e *Engine) artifactStore(ctx context.Context) (storage.ArtifactStore, string, error) {
	if e.s3Target == "" {
		return storage.NewLocalStore(e.outputDir), "", nil
	}

	bucket, prefix, err := parseS3Target(e.s3Target)
	if err != nil {
		return nil, "", err
	}
	client, err := awsx.NewClient(ctx, e.region(), e.config.Profile)
	if err != nil {
		return nil, "", err
	}
	return storage.NewS3Store(client.Config, bucket), prefix, nil
}

func parseS3Target(target string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(target, "s3://")
	if !ok || rest == "" {
		return "", "", fmt.Errorf("invalid s3 target %q", target)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid s3 target %q", target)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix, nil
}
