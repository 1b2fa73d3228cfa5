// Package fetch provides polite, retrying HTTP GET with conditional
// headers and a size cap, shared by every source adapter.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/promo-digest/internal/pkg/httpretry"
)

// UserAgent identifies the bot to remote servers. Fixed, per spec.
const UserAgent = "PromoDigestBot/1.0 (+operator-configured contact)"

const (
	// DefaultMaxBytes is the body cap for ordinary pages/feeds/JSON.
	DefaultMaxBytes = 5 * 1024 * 1024
	// SitemapMaxBytes is the larger cap allowed for sitemap XML.
	SitemapMaxBytes = 20 * 1024 * 1024
)

// Options configures a single fetch call.
type Options struct {
	ETag         string
	LastModified string
	MaxBytes     int64
	Timeout      time.Duration
}

// Result is the outcome of one Fetch call.
type Result struct {
	FinalURL     string
	Status       int
	Body         []byte
	ETag         string
	LastModified string
	ElapsedMS    int64
	Truncated    bool
	Error        error
}

// Fetcher performs HTTP GET with retry, conditional headers, and a body cap.
type Fetcher struct {
	client *httpretry.RetryClient
}

// New builds a Fetcher. maxRetries <= 0 falls back to httpretry's default (3).
func New(maxRetries int) *Fetcher {
	httpClient := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}
	return &Fetcher{client: httpretry.NewRetryClient(httpClient, maxRetries)}
}

// Fetch performs a single conditional GET, honoring opts.MaxBytes and
// opts.Timeout. 304 responses return immediately with no body. Status codes
// outside the retry set (4xx other than 408/425/429) are returned as-is
// without further retry; httpretry.RetryClient already handles 429/5xx.
func (f *Fetcher) Fetch(ctx context.Context, url string, opts Options) Result {
	start := time.Now()

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Error: fmt.Errorf("fetch: build request: %w", err), ElapsedMS: elapsedMS(start)}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept-Encoding", "identity")
	if opts.ETag != "" {
		req.Header.Set("If-None-Match", opts.ETag)
	}
	if opts.LastModified != "" {
		req.Header.Set("If-Modified-Since", opts.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{Error: fmt.Errorf("fetch: %w", err), ElapsedMS: elapsedMS(start)}
	}
	defer resp.Body.Close()

	result := Result{
		FinalURL:     resp.Request.URL.String(),
		Status:       resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}

	if resp.StatusCode == http.StatusNotModified {
		result.ElapsedMS = elapsedMS(start)
		return result
	}

	if resp.StatusCode >= 400 {
		result.Error = fmt.Errorf("fetch: %s returned status %d", url, resp.StatusCode)
		result.ElapsedMS = elapsedMS(start)
		return result
	}

	limited := io.LimitReader(resp.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		result.Error = fmt.Errorf("fetch: read body: %w", err)
		result.ElapsedMS = elapsedMS(start)
		return result
	}
	if int64(len(body)) > maxBytes {
		body = body[:maxBytes]
		result.Truncated = true
	}
	result.Body = body
	result.ElapsedMS = elapsedMS(start)
	return result
}

func elapsedMS(start time.Time) int64 { return time.Since(start).Milliseconds() }
