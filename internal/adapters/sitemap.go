package adapters

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/signalkey"
	"github.com/ignite/promo-digest/internal/webparse"
)

const (
	sitemapMaxBytes = 20 * 1024 * 1024
	defaultTopN     = 50
)

type xmlURLSet struct {
	XMLName xml.Name    `xml:"urlset"`
	URLs    []xmlURLTag `xml:"url"`
}

type xmlURLTag struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

type xmlSitemapIndex struct {
	XMLName  xml.Name        `xml:"sitemapindex"`
	Sitemaps []xmlSitemapTag `xml:"sitemap"`
}

type xmlSitemapTag struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

type sitemapEntry struct {
	loc     string
	lastmod time.Time
}

// SitemapAdapter discovers signals from an XML sitemap or sitemap index,
// recursing into child sitemaps up to a fixed depth.
type SitemapAdapter struct{}

func (SitemapAdapter) Tier() int                      { return 1 }
func (SitemapAdapter) SourceType() domain.SourceType  { return domain.SourceSitemap }

func (a SitemapAdapter) Discover(ctx context.Context, store domain.Store, src domain.SourceConfig, gates Gates) SourceResult {
	root := src.ConfigKey

	allowed, code := checkPolicy(ctx, gates, store, root)
	if !allowed {
		return fail(code, "robots blocked "+root)
	}
	if !waitAndBudget(gates, store, root) {
		return fail(ErrCodeBudgetExhausted, "request budget exhausted")
	}
	rootOpts := fetchOpts()
	rootOpts.MaxBytes = sitemapMaxBytes
	rootOpts.ETag = src.ETag
	rootOpts.LastModified = src.LastModified
	rootRes := gates.Fetcher.Fetch(ctx, root, rootOpts)
	if rootRes.Error != nil {
		return fail(ErrCodeFetchFailed, rootRes.Error.Error())
	}
	if rootRes.Status == 304 {
		return SourceResult{Status: StatusEmpty, ETag: src.ETag, LastModified: src.LastModified}
	}
	gates.Budget.RecordBytes(int64(len(rootRes.Body)))

	entries, err := a.parseDocument(ctx, store, src, gates, rootRes.Body, 0)
	if err != nil {
		return fail(ErrCodeParseError, err.Error())
	}

	include, exclude := regexFromConfig(src.Config, "include"), regexFromConfig(src.Config, "exclude")
	entries = filterEntries(entries, include, exclude)
	sort.Slice(entries, func(i, j int) bool { return entries[i].lastmod.After(entries[j].lastmod) })

	topN := intFromConfig(src.Config, "max_urls", defaultTopN)
	if len(entries) > topN {
		entries = entries[:topN]
	}

	var signals []domain.RawSignal
	var lastSeen *time.Time
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			break
		}
		allowed, code := checkPolicy(ctx, gates, store, e.loc)
		if !allowed {
			return fail(code, "robots blocked "+e.loc)
		}
		if !waitAndBudget(gates, store, e.loc) {
			break
		}
		res := gates.Fetcher.Fetch(ctx, e.loc, fetchOpts())
		if res.Error != nil || res.Status >= 400 {
			continue
		}
		gates.Budget.RecordBytes(int64(len(res.Body)))
		parsed, perr := webparse.Parse(string(res.Body))
		if perr != nil {
			continue
		}
		key := signalkey.Of(parsed.CanonicalURL, e.loc, "", string(a.SourceType()), store.Slug)
		signals = append(signals, domain.RawSignal{
			StoreID:       store.ID,
			SourceType:    a.SourceType(),
			SignalKey:     key,
			URL:           e.loc,
			ObservedAt:    time.Now(),
			PayloadType:   domain.PayloadText,
			PayloadInline: parsed.Text,
			Metadata: domain.SignalMetadata{
				Title:        parsed.Title,
				CanonicalURL: parsed.CanonicalURL,
				TopLinks:     parsed.TopLinks,
				LastMod:      e.lastmod.Format(time.RFC3339),
			},
		})
		if lastSeen == nil || e.lastmod.After(*lastSeen) {
			t := e.lastmod
			lastSeen = &t
		}
	}

	if len(signals) == 0 {
		return SourceResult{Status: StatusEmpty, ETag: rootRes.ETag, LastModified: rootRes.LastModified, LastSeenItemAt: lastSeen}
	}
	return SourceResult{Status: StatusSuccess, Signals: signals, ETag: rootRes.ETag, LastModified: rootRes.LastModified, LastSeenItemAt: lastSeen}
}

// parseDocument parses one already-fetched sitemap document, recursing into
// child sitemaps (subject to the run budget) when the root tag is
// sitemapindex.
func (a SitemapAdapter) parseDocument(ctx context.Context, store domain.Store, src domain.SourceConfig, gates Gates, body []byte, depth int) ([]sitemapEntry, error) {
	if depth > 3 {
		return nil, nil
	}

	var idx xmlSitemapIndex
	if err := xml.Unmarshal(body, &idx); err == nil && len(idx.Sitemaps) > 0 {
		var all []sitemapEntry
		for _, s := range idx.Sitemaps {
			if gates.Budget.Exhausted() {
				break
			}
			allowed, _ := checkPolicy(ctx, gates, store, s.Loc)
			if !allowed {
				continue
			}
			if !waitAndBudget(gates, store, s.Loc) {
				break
			}
			opts := fetchOpts()
			opts.MaxBytes = sitemapMaxBytes
			res := gates.Fetcher.Fetch(ctx, s.Loc, opts)
			if res.Error != nil || res.Status >= 400 {
				continue
			}
			gates.Budget.RecordBytes(int64(len(res.Body)))
			children, err := a.parseDocument(ctx, store, src, gates, res.Body, depth+1)
			if err != nil {
				continue
			}
			all = append(all, children...)
		}
		return all, nil
	}

	var set xmlURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parse sitemap xml: %w", err)
	}
	entries := make([]sitemapEntry, 0, len(set.URLs))
	for _, u := range set.URLs {
		entries = append(entries, sitemapEntry{loc: u.Loc, lastmod: parseLastmod(u.LastMod)})
	}
	return entries, nil
}

func filterEntries(entries []sitemapEntry, include, exclude *regexp.Regexp) []sitemapEntry {
	var out []sitemapEntry
	for _, e := range entries {
		if include != nil && !include.MatchString(e.loc) {
			continue
		}
		if exclude != nil && exclude.MatchString(e.loc) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func parseLastmod(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// regexFromConfig builds a single regexp matching any of the patterns
// stored at cfg[key]. catalog.go stores SourceRecord.Include/Exclude as
// []string (each a regex pattern, ORed together); a Config decoded from the
// source_configs JSON column holds the same list as []interface{}; a bare
// string is also accepted for configs built by hand (tests).
func regexFromConfig(cfg map[string]interface{}, key string) *regexp.Regexp {
	var patterns []string
	switch v := cfg[key].(type) {
	case []string:
		patterns = v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				patterns = append(patterns, s)
			}
		}
	case string:
		if v != "" {
			patterns = []string{v}
		}
	}
	if len(patterns) == 0 {
		return nil
	}
	grouped := make([]string, len(patterns))
	for i, p := range patterns {
		grouped[i] = "(?:" + p + ")"
	}
	re, err := regexp.Compile(strings.Join(grouped, "|"))
	if err != nil {
		return nil
	}
	return re
}

func intFromConfig(cfg map[string]interface{}, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}
