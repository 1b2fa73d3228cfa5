package adapters

import (
	"context"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/signalkey"
	"github.com/ignite/promo-digest/internal/webparse"
)

const defaultMaxEntries = 20

// RssAdapter discovers signals from an RSS/Atom feed using gofeed's parser.
// The feed body is fetched through the shared polite-fetching Fetcher (for
// retries, conditional GET, and budget accounting) rather than gofeed's
// own ParseURL.
type RssAdapter struct{}

func (RssAdapter) Tier() int                     { return 1 }
func (RssAdapter) SourceType() domain.SourceType { return domain.SourceRSS }

func (a RssAdapter) Discover(ctx context.Context, store domain.Store, src domain.SourceConfig, gates Gates) SourceResult {
	feedURL := src.ConfigKey

	allowed, code := checkPolicy(ctx, gates, store, feedURL)
	if !allowed {
		return fail(code, "robots blocked "+feedURL)
	}
	if !waitAndBudget(gates, store, feedURL) {
		return fail(ErrCodeBudgetExhausted, "request budget exhausted")
	}

	opts := fetchOpts()
	opts.ETag = src.ETag
	opts.LastModified = src.LastModified
	res := gates.Fetcher.Fetch(ctx, feedURL, opts)
	if res.Error != nil {
		return fail(ErrCodeFetchFailed, res.Error.Error())
	}
	if res.Status == 304 {
		return SourceResult{Status: StatusEmpty, ETag: src.ETag, LastModified: src.LastModified}
	}
	gates.Budget.RecordBytes(int64(len(res.Body)))

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(res.Body))
	if err != nil {
		return fail(ErrCodeParseError, err.Error())
	}

	maxEntries := intFromConfig(src.Config, "max_entries", defaultMaxEntries)
	fetchEntry, _ := src.Config["fetch_entry"].(bool)

	var signals []domain.RawSignal
	var lastSeen *time.Time
	for i, item := range feed.Items {
		if i >= maxEntries {
			break
		}
		if err := ctx.Err(); err != nil {
			break
		}

		signalURL := item.Link
		text := item.Description
		if text == "" {
			text = item.Content
		}

		if fetchEntry && signalURL != "" {
			entryAllowed, _ := checkPolicy(ctx, gates, store, signalURL)
			if !entryAllowed {
				continue
			}
			if !waitAndBudget(gates, store, signalURL) {
				break
			}
			entryRes := gates.Fetcher.Fetch(ctx, signalURL, fetchOpts())
			if entryRes.Error == nil && entryRes.Status < 400 {
				gates.Budget.RecordBytes(int64(len(entryRes.Body)))
				if parsed, perr := webparse.Parse(string(entryRes.Body)); perr == nil {
					text = parsed.Text
				}
			}
		}

		key := signalkey.Of("", signalURL, item.GUID, string(a.SourceType()), store.Slug)
		published := entryPublished(item)
		signals = append(signals, domain.RawSignal{
			StoreID:       store.ID,
			SourceType:    a.SourceType(),
			SignalKey:     key,
			URL:           signalURL,
			ObservedAt:    time.Now(),
			PayloadType:   domain.PayloadText,
			PayloadInline: text,
			Metadata: domain.SignalMetadata{
				Title:   item.Title,
				FeedID:  feed.Link,
				ID:      item.GUID,
				LastMod: published.Format(time.RFC3339),
			},
		})
		if lastSeen == nil || published.After(*lastSeen) {
			t := published
			lastSeen = &t
		}
	}

	if len(signals) == 0 {
		return SourceResult{Status: StatusEmpty, ETag: res.ETag, LastModified: res.LastModified, LastSeenItemAt: lastSeen}
	}
	return SourceResult{Status: StatusSuccess, Signals: signals, ETag: res.ETag, LastModified: res.LastModified, LastSeenItemAt: lastSeen}
}

func entryPublished(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}
