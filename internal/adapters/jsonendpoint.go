package adapters

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/signalkey"
)

// JsonEndpointAdapter discovers a single signal from a JSON API endpoint,
// re-serializing the parsed body as the payload so downstream extraction
// always sees canonical JSON regardless of the endpoint's formatting.
type JsonEndpointAdapter struct{}

func (JsonEndpointAdapter) Tier() int                     { return 2 }
func (JsonEndpointAdapter) SourceType() domain.SourceType { return domain.SourceJSON }

func (a JsonEndpointAdapter) Discover(ctx context.Context, store domain.Store, src domain.SourceConfig, gates Gates) SourceResult {
	endpoint := src.ConfigKey

	allowed, code := checkPolicy(ctx, gates, store, endpoint)
	if !allowed {
		return fail(code, "robots blocked "+endpoint)
	}
	if !waitAndBudget(gates, store, endpoint) {
		return fail(ErrCodeBudgetExhausted, "request budget exhausted")
	}

	opts := fetchOpts()
	opts.ETag = src.ETag
	opts.LastModified = src.LastModified
	res := gates.Fetcher.Fetch(ctx, endpoint, opts)
	if res.Error != nil {
		return fail(ErrCodeFetchFailed, res.Error.Error())
	}
	if res.Status == 304 {
		return SourceResult{Status: StatusEmpty, ETag: src.ETag, LastModified: src.LastModified}
	}
	gates.Budget.RecordBytes(int64(len(res.Body)))

	var parsed interface{}
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return fail(ErrCodeParseError, err.Error())
	}
	reserialized, err := json.Marshal(parsed)
	if err != nil {
		return fail(ErrCodeParseError, err.Error())
	}

	key := signalkey.Of("", endpoint, "", string(a.SourceType()), store.Slug)
	now := time.Now()
	signal := domain.RawSignal{
		StoreID:       store.ID,
		SourceType:    a.SourceType(),
		SignalKey:     key,
		URL:           endpoint,
		ObservedAt:    now,
		PayloadType:   domain.PayloadJSON,
		PayloadInline: string(reserialized),
	}

	return SourceResult{
		Status:         StatusSuccess,
		Signals:         []domain.RawSignal{signal},
		ETag:            res.ETag,
		LastModified:    res.LastModified,
		LastSeenItemAt:  &now,
	}
}
