// Package adapters implements the tiered source adapters: sitemap, rss,
// json, category page, and browser. Each adapter discovers raw signals from
// one SourceConfig under the shared polite-fetching gates (fetch.Fetcher,
// ratelimit.RateGate, ratelimit.RequestBudget, policy.Gate).
package adapters

import (
	"context"
	"time"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/fetch"
	"github.com/ignite/promo-digest/internal/policy"
	"github.com/ignite/promo-digest/internal/ratelimit"
)

// ResultStatus is the outcome of one adapter discover call.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusEmpty   ResultStatus = "empty" // e.g. 304 Not Modified, nothing new
	StatusFailure ResultStatus = "failure"
)

// Error codes surfaced on failure, per the error handling design.
const (
	ErrCodeFetchFailed        = "fetch_failed"
	ErrCodeParseError         = "parse_error"
	ErrCodeRobotsDisallowed   = "robots_disallowed"
	ErrCodeRobotsUnreachable  = "robots_unreachable"
	ErrCodeRequiresBrowser    = "requires_browser"
	ErrCodeBudgetExhausted    = "budget_exhausted"
)

// SourceResult is what a discover call returns: zero or more signals plus
// validators to write back to the SourceConfig regardless of signal count.
type SourceResult struct {
	Status         ResultStatus
	ErrorCode      string
	ErrorMessage   string
	Signals        []domain.RawSignal
	ETag           string
	LastModified   string
	LastSeenItemAt *time.Time
}

// Gates bundles the shared, per-run polite-fetching collaborators every
// adapter discover call is given. They are safe for concurrent adapters.
type Gates struct {
	Fetcher *fetch.Fetcher
	Rate    *ratelimit.RateGate
	Budget  *ratelimit.RequestBudget
	Policy  *policy.Gate
}

// Adapter is the uniform capability the router dispatches on by
// SourceConfig.SourceType — a closed set of variants, no inheritance.
type Adapter interface {
	Tier() int
	SourceType() domain.SourceType
	Discover(ctx context.Context, store domain.Store, src domain.SourceConfig, gates Gates) SourceResult
}

// checkPolicy runs the PolicyGate for a URL against the store's robots
// policy and reports whether the adapter should proceed.
func checkPolicy(ctx context.Context, gates Gates, store domain.Store, rawURL string) (bool, string) {
	allowed, reason := gates.Policy.Check(ctx, rawURL, store.RobotsPolicy)
	if allowed {
		return true, ""
	}
	switch reason {
	case policy.ReasonRobotsUnreachable:
		return false, ErrCodeRobotsUnreachable
	default:
		return false, ErrCodeRobotsDisallowed
	}
}

// waitAndBudget applies RateGate pacing then checks the RequestBudget
// before a fetch; returns false when the budget is exhausted.
func waitAndBudget(gates Gates, store domain.Store, rawURL string) bool {
	gates.Rate.Wait(rawURL, store.CrawlDelaySeconds)
	return gates.Budget.StartRequest()
}

func fail(code, msg string) SourceResult {
	return SourceResult{Status: StatusFailure, ErrorCode: code, ErrorMessage: msg}
}

// fetchOpts returns the default per-request fetch options; callers set
// ETag/LastModified/MaxBytes as needed for the specific call.
func fetchOpts() fetch.Options {
	return fetch.Options{Timeout: 20 * time.Second, MaxBytes: fetch.DefaultMaxBytes}
}
