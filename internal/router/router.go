// Package router drives per-store tier-ordered
// adapter execution with tier-success short-circuit.
package router

import (
	"context"
	"sort"

	"github.com/ignite/promo-digest/internal/adapters"
	"github.com/ignite/promo-digest/internal/domain"
)

// SourceRepository persists SourceConfig validator writebacks
// (etag, last_modified, last_seen_item_at, failure_count, last_successful_run).
type SourceRepository interface {
	ListActiveSources(ctx context.Context, storeID int64) ([]domain.SourceConfig, error)
	RecordAttempt(ctx context.Context, src domain.SourceConfig, result adapters.SourceResult) error
}

// SignalSink receives newly discovered signals for persistence by the
// SignalPersister; the router itself never computes dedup.
type SignalSink interface {
	Persist(ctx context.Context, signals []domain.RawSignal) (newCount int, err error)
}

// Router dispatches SourceConfigs to the adapter matching their SourceType.
type Router struct {
	adapters map[domain.SourceType]adapters.Adapter
	sources  SourceRepository
	sink     SignalSink
}

// New builds a Router from the closed set of adapter variants.
func New(sources SourceRepository, sink SignalSink, variants ...adapters.Adapter) *Router {
	m := make(map[domain.SourceType]adapters.Adapter, len(variants))
	for _, a := range variants {
		m[a.SourceType()] = a
	}
	return &Router{adapters: m, sources: sources, sink: sink}
}

// StoreOutcome summarizes one store's run through the router.
type StoreOutcome struct {
	StoreID       int64
	NewSignals    int
	TiersRun      []int
	SkippedTiers  []int
	Errors        []string
}

// RunStore collects a store's active SourceConfigs, groups them by tier
// ascending, and runs each tier in turn, short-circuiting at the first tier
// producing at least one new signal.
func (r *Router) RunStore(ctx context.Context, store domain.Store, gates adapters.Gates) StoreOutcome {
	out := StoreOutcome{StoreID: store.ID}

	sources, err := r.sources.ListActiveSources(ctx, store.ID)
	if err != nil {
		out.Errors = append(out.Errors, err.Error())
		return out
	}

	byTier := groupByTier(sources)
	tiers := sortedTiers(byTier)

	browserSynthesized := false
	for _, tier := range tiers {
		if ctx.Err() != nil {
			break
		}
		tierNew := 0
		for _, src := range byTier[tier] {
			adapter, ok := r.adapters[src.SourceType]
			if !ok {
				continue
			}
			result := adapter.Discover(ctx, store, src, gates)
			r.sources.RecordAttempt(ctx, src, result)

			if result.Status == adapters.StatusFailure && result.ErrorCode == adapters.ErrCodeRequiresBrowser {
				if !browserSynthesized && !hasBrowserSource(sources) {
					browserSynthesized = true
					browserSrc := src
					browserSrc.SourceType = domain.SourceBrowser
					browserSrc.Tier = 4
					byTier[4] = append(byTier[4], browserSrc)
					if !containsTier(tiers, 4) {
						tiers = append(tiers, 4)
						sort.Ints(tiers)
					}
				}
				continue
			}
			if result.Status == adapters.StatusFailure {
				out.Errors = append(out.Errors, src.ConfigKey+": "+result.ErrorMessage)
				continue
			}
			if len(result.Signals) == 0 {
				continue
			}
			n, perr := r.sink.Persist(ctx, result.Signals)
			if perr != nil {
				out.Errors = append(out.Errors, perr.Error())
				continue
			}
			tierNew += n
		}

		out.TiersRun = append(out.TiersRun, tier)
		out.NewSignals += tierNew
		if tierNew > 0 {
			// Tier-success short-circuit: remaining tiers for this store are skipped.
			for _, t := range tiers {
				if t > tier {
					out.SkippedTiers = append(out.SkippedTiers, t)
				}
			}
			break
		}
	}

	return out
}

func groupByTier(sources []domain.SourceConfig) map[int][]domain.SourceConfig {
	byTier := make(map[int][]domain.SourceConfig)
	for _, s := range sources {
		byTier[s.Tier] = append(byTier[s.Tier], s)
	}
	return byTier
}

func sortedTiers(byTier map[int][]domain.SourceConfig) []int {
	tiers := make([]int, 0, len(byTier))
	for t := range byTier {
		tiers = append(tiers, t)
	}
	sort.Ints(tiers)
	return tiers
}

func containsTier(tiers []int, t int) bool {
	for _, x := range tiers {
		if x == t {
			return true
		}
	}
	return false
}

func hasBrowserSource(sources []domain.SourceConfig) bool {
	for _, s := range sources {
		if s.SourceType == domain.SourceBrowser {
			return true
		}
	}
	return false
}
