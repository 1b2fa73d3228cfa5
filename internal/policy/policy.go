// Package policy interprets robots.txt per host and applies the per-store
// robots override, failing closed when the robots file is unreachable.
package policy

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/fetch"
)

// Reason explains why a URL was or was not allowed.
type Reason string

const (
	ReasonAllowed           Reason = "allowed"
	ReasonIgnored           Reason = "ignored"
	ReasonRobotsDisallowed  Reason = "robots_disallowed"
	ReasonRobotsUnreachable Reason = "robots_unreachable"
)

type cacheEntry struct {
	group *robotstxt.Group
	err   error
}

// Gate loads and caches robots.txt per (scheme, host). Entries are
// effectively immutable after first load, making the cache safe to share
// across concurrent adapters for the lifetime of the process.
type Gate struct {
	fetcher      *fetch.Fetcher
	ignoreGlobal bool

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// NewGate creates a PolicyGate. ignoreGlobal mirrors the operator's global
// "ignore robots" flag.
func NewGate(fetcher *fetch.Fetcher, ignoreGlobal bool) *Gate {
	return &Gate{
		fetcher:      fetcher,
		ignoreGlobal: ignoreGlobal,
		cache:        make(map[string]*cacheEntry),
	}
}

// Check reports whether rawURL may be fetched given the store's robots
// policy override. An "ignore" policy, or the gate's global override,
// short-circuits to allowed without consulting robots.txt. Otherwise the
// robots file is loaded (from cache, or fetched and cached on first use);
// if it cannot be fetched, the URL is treated as disallowed (fail-closed).
func (g *Gate) Check(ctx context.Context, rawURL string, storePolicy domain.RobotsPolicy) (bool, Reason) {
	if g.ignoreGlobal || storePolicy == domain.RobotsIgnore {
		return true, ReasonIgnored
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false, ReasonRobotsUnreachable
	}

	entry := g.loadRobots(ctx, u)
	if entry.err != nil || entry.group == nil {
		return false, ReasonRobotsUnreachable
	}

	if entry.group.Test(u.Path) {
		return true, ReasonAllowed
	}
	return false, ReasonRobotsDisallowed
}

// CrawlDelay returns the robots-declared crawl delay for the host, or zero
// if none was declared or the robots file could not be loaded.
func (g *Gate) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	entry := g.loadRobots(ctx, u)
	if entry.err != nil || entry.group == nil {
		return 0
	}
	return entry.group.CrawlDelay
}

func (g *Gate) loadRobots(ctx context.Context, u *url.URL) *cacheEntry {
	key := u.Scheme + "://" + u.Host

	g.mu.Lock()
	if e, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return e
	}
	g.mu.Unlock()

	robotsURL := key + "/robots.txt"
	res := g.fetcher.Fetch(ctx, robotsURL, fetch.Options{MaxBytes: 512 * 1024, Timeout: 10 * time.Second})

	entry := &cacheEntry{}
	switch {
	case res.Error != nil && res.Status != 404:
		entry.err = fmt.Errorf("policy: fetch robots.txt for %s: %w", key, res.Error)
	case res.Status == 404:
		// No robots.txt means everything is allowed.
		data, _ := robotstxt.FromString("")
		entry.group = data.FindGroup("*")
	default:
		data, err := robotstxt.FromBytes(res.Body)
		if err != nil {
			entry.err = fmt.Errorf("policy: parse robots.txt for %s: %w", key, err)
		} else {
			entry.group = data.FindGroup("*")
		}
	}

	g.mu.Lock()
	g.cache[key] = entry
	g.mu.Unlock()
	return entry
}
