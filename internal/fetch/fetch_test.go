package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Last-Modified", "Fri, 31 Jul 2026 00:00:00 GMT")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := New(0)
	res := f.Fetch(context.Background(), srv.URL, Options{})
	if res.Error != nil {
		t.Fatalf("Fetch() error: %v", res.Error)
	}
	if res.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", res.Status)
	}
	if string(res.Body) != "hello world" {
		t.Errorf("Body = %q, want %q", res.Body, "hello world")
	}
	if res.ETag != `"abc123"` {
		t.Errorf("ETag = %q", res.ETag)
	}
}

func TestFetchSendsConditionalHeaders(t *testing.T) {
	var gotETag, gotIfModSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotETag = r.Header.Get("If-None-Match")
		gotIfModSince = r.Header.Get("If-Modified-Since")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	f := New(0)
	res := f.Fetch(context.Background(), srv.URL, Options{ETag: `"xyz"`, LastModified: "Thu, 30 Jul 2026 00:00:00 GMT"})
	if res.Status != http.StatusNotModified {
		t.Errorf("Status = %d, want 304", res.Status)
	}
	if len(res.Body) != 0 {
		t.Errorf("304 response should have no body, got %q", res.Body)
	}
	if gotETag != `"xyz"` {
		t.Errorf("If-None-Match = %q, want %q", gotETag, `"xyz"`)
	}
	if gotIfModSince == "" {
		t.Error("expected If-Modified-Since header to be sent")
	}
}

func TestFetchSetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(0)
	f.Fetch(context.Background(), srv.URL, Options{})
	if gotUA != UserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, UserAgent)
	}
}

func TestFetchTruncatesBodyAtMaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	f := New(0)
	res := f.Fetch(context.Background(), srv.URL, Options{MaxBytes: 10})
	if !res.Truncated {
		t.Error("expected Truncated = true")
	}
	if len(res.Body) != 10 {
		t.Errorf("expected body capped at 10 bytes, got %d", len(res.Body))
	}
}

func TestFetchReturnsErrorOnClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(0)
	res := f.Fetch(context.Background(), srv.URL, Options{})
	if res.Error == nil {
		t.Fatal("expected an error for 404 status")
	}
	if res.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", res.Status)
	}
}
