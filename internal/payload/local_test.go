package payload

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func gzipBytes(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(text)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestNewLocalBackendCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blobs")
	if _, err := NewLocalBackend(dir); err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected directory created at %s", dir)
	}
}

func TestLocalBackendPutThenGetRoundTrips(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	text := "the quick brown fox jumps over the lazy dog"
	gz := gzipBytes(t, text)

	ref, err := b.Put(context.Background(), "abc123", gz)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := b.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != text {
		t.Errorf("Get returned %q, want %q", got, text)
	}
}

func TestLocalBackendPutIsIdempotent(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	gz := gzipBytes(t, "body one")
	ref1, err := b.Put(context.Background(), "samehash", gz)
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}

	ref2, err := b.Put(context.Background(), "samehash", gzipBytes(t, "body two, different content"))
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if ref1 != ref2 {
		t.Fatalf("expected same ref for same hash, got %q and %q", ref1, ref2)
	}

	got, err := b.Get(context.Background(), ref2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "body one" {
		t.Errorf("expected first write preserved (idempotent put), got %q", got)
	}
}

func TestLocalBackendGetReturnsErrorForMissingFile(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	if _, err := b.Get(context.Background(), filepath.Join(t.TempDir(), "nope.txt.gz")); err == nil {
		t.Error("expected error for missing blob file")
	}
}
