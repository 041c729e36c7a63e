// Package storage persists scan artifacts: authorization-details snapshots
// and generated reports. Backends share one interface so the engine does not
// care whether output lands on disk or in a bucket.
package storage

import "context"

// ArtifactStore is the storage backend contract.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
