package storage

import (
	"context"
	"testing"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	if err := store.Put(ctx, "scans/2026-07-01/report.json", []byte(`{"findings":[]}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "scans/2026-07-01/report.html", []byte("<html></html>")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	data, err := store.Get(ctx, "scans/2026-07-01/report.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != `{"findings":[]}` {
		t.Errorf("unexpected content: %s", data)
	}

	keys, err := store.List(ctx, "scans")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2: %v", len(keys), keys)
	}
}

func TestLocalStoreListMissingPrefix(t *testing.T) {
	store := NewLocalStore(t.TempDir())

	keys, err := store.List(context.Background(), "does/not/exist")
	if err != nil {
		t.Fatalf("List on missing prefix must not error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %v", keys)
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		key, want string
	}{
		{"report.html", "text/html; charset=utf-8"},
		{"report.json", "application/json"},
		{"findings.csv", "text/csv"},
		{"snapshot.bin", "application/octet-stream"},
	}
	for _, tc := range tests {
		if got := contentTypeFor(tc.key); got != tc.want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}
