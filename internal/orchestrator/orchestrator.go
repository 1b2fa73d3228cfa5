// Package orchestrator drives one end-to-end pipeline run: the advisory-
// lock-guarded, per-date-idempotent sequencing of every pipeline phase.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ignite/promo-digest/internal/adapters"
	"github.com/ignite/promo-digest/internal/digest"
	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/extract"
	"github.com/ignite/promo-digest/internal/fetch"
	"github.com/ignite/promo-digest/internal/inbound"
	"github.com/ignite/promo-digest/internal/notify"
	"github.com/ignite/promo-digest/internal/pkg/distlock"
	"github.com/ignite/promo-digest/internal/pkg/logger"
	"github.com/ignite/promo-digest/internal/policy"
	"github.com/ignite/promo-digest/internal/promos"
	"github.com/ignite/promo-digest/internal/ratelimit"
	"github.com/ignite/promo-digest/internal/router"
)

// Outcome reports the terminal state of one run() invocation.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeAlreadySent  Outcome = "already_sent"
	OutcomeConcurrent   Outcome = "concurrent_run"
	OutcomeFailed       Outcome = "failed"
	OutcomeDeliveryFail Outcome = "delivery_failed"
)

// RunFailed is raised (returned as error) when a run fails after the lock
// was acquired; status/error have already been persisted on the Run row.
type RunFailed struct {
	Cause error
}

func (e *RunFailed) Error() string { return fmt.Sprintf("run failed: %v", e.Cause) }
func (e *RunFailed) Unwrap() error { return e.Cause }

// RunRepository is the persistence surface for the Run state machine.
type RunRepository interface {
	FindRun(ctx context.Context, runType domain.RunType, digestDate string) (domain.Run, bool, error)
	CreateRun(ctx context.Context, run domain.Run) (int64, error)
	UpdateRunStats(ctx context.Context, runID int64, stats domain.RunStats) error
	FinishRun(ctx context.Context, runID int64, status domain.RunStatus, errMsg string, digestSentAt *time.Time) error
	MarkNotified(ctx context.Context, promoIDs []int64, at time.Time) error
}

// StoreLister supplies the set of active stores for one run (allowlist
// filtering already applied).
type StoreLister interface {
	ActiveStores(ctx context.Context, allowlist []string) ([]domain.Store, error)
}

// PendingMerge is one successful extraction not yet folded into a Promo.
type PendingMerge struct {
	StoreID   int64
	MessageID int64
	Result    domain.ExtractionResult
}

// MergeSource supplies extractions ready for the Merge phase and lets the
// orchestrator mark them consumed.
type MergeSource interface {
	ListUnmergedExtractions(ctx context.Context) ([]PendingMerge, error)
	MarkMerged(ctx context.Context, messageID int64) error
}

// InboundReader drives the .eml-directory ingestion path that runs
// alongside the TieredRouter during the Ingest phase. Optional: a nil
// Inbound in Config disables it.
type InboundReader interface {
	Run(ctx context.Context) (inbound.Stats, error)
}

// Orchestrator sequences Seed -> Ingest -> Extract -> Merge -> Select ->
// Generate -> Deliver-or-Archive for one run_type, at most once per
// operator-local calendar day.
type Orchestrator struct {
	runs         RunRepository
	stores       StoreLister
	merges       MergeSource
	inbound      InboundReader
	router       *router.Router
	extractor    *extract.Extractor
	merger       *promos.Merger
	selector     *digest.Selector
	renderer     *digest.Renderer
	channels     []notify.Channel
	lockFactory  func(key string) distlock.DistLock
	fetcher      *fetch.Fetcher
	rate         *ratelimit.RateGate
	policyGate   *policy.Gate
	archiveDir   string
	timezone     *time.Location
	cooldownDays int

	defaultMaxRequests int
	defaultMaxBytes    int64
	defaultMaxDuration time.Duration
}

// Config bundles the collaborators and settings an Orchestrator needs.
type Config struct {
	Runs         RunRepository
	Stores       StoreLister
	Merges       MergeSource
	Inbound      InboundReader
	Router       *router.Router
	Extractor    *extract.Extractor
	Merger       *promos.Merger
	Selector     *digest.Selector
	Renderer     *digest.Renderer
	Channels     []notify.Channel
	LockFactory  func(key string) distlock.DistLock
	Fetcher      *fetch.Fetcher
	Rate         *ratelimit.RateGate
	PolicyGate   *policy.Gate
	ArchiveDir   string
	Timezone     *time.Location
	CooldownDays int

	DefaultMaxRequests int
	DefaultMaxBytes    int64
	DefaultMaxDuration time.Duration
}

// New builds an Orchestrator from its Config.
func New(cfg Config) *Orchestrator {
	tz := cfg.Timezone
	if tz == nil {
		tz = time.UTC
	}
	cooldown := cfg.CooldownDays
	if cooldown <= 0 {
		cooldown = 7
	}
	return &Orchestrator{
		runs:               cfg.Runs,
		stores:             cfg.Stores,
		merges:             cfg.Merges,
		inbound:            cfg.Inbound,
		router:             cfg.Router,
		extractor:          cfg.Extractor,
		merger:             cfg.Merger,
		selector:           cfg.Selector,
		renderer:           cfg.Renderer,
		channels:           cfg.Channels,
		lockFactory:        cfg.LockFactory,
		fetcher:            cfg.Fetcher,
		rate:               cfg.Rate,
		policyGate:         cfg.PolicyGate,
		archiveDir:         cfg.ArchiveDir,
		timezone:           tz,
		cooldownDays:       cooldown,
		defaultMaxRequests: cfg.DefaultMaxRequests,
		defaultMaxBytes:    cfg.DefaultMaxBytes,
		defaultMaxDuration: cfg.DefaultMaxDuration,
	}
}

// Run executes one full pipeline pass for runType, honoring the
// send-once-per-day invariant via the advisory lock plus the unique
// (run_type, digest_date) constraint.
func (o *Orchestrator) Run(ctx context.Context, runType domain.RunType, dryRun bool, allowlist []string) (Outcome, domain.RunStats, error) {
	now := time.Now().In(o.timezone)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, o.timezone)
	todayStr := today.Format("2006-01-02")

	lock := o.lockFactory(string(runType))
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return OutcomeFailed, domain.RunStats{}, fmt.Errorf("orchestrator: acquire lock: %w", err)
	}
	if !acquired {
		return OutcomeConcurrent, domain.RunStats{}, nil
	}
	defer lock.Release(ctx)

	existing, found, err := o.runs.FindRun(ctx, runType, todayStr)
	if err != nil {
		return OutcomeFailed, domain.RunStats{}, fmt.Errorf("orchestrator: find run: %w", err)
	}
	if found && existing.DigestSentAt != nil {
		return OutcomeAlreadySent, existing.Stats, nil
	}

	runID := existing.ID
	if !found {
		runID, err = o.runs.CreateRun(ctx, domain.Run{RunType: runType, DigestDate: todayStr, Status: domain.RunRunning, StartedAt: time.Now()})
		if err != nil {
			return OutcomeFailed, domain.RunStats{}, fmt.Errorf("orchestrator: create run: %w", err)
		}
	}

	stats, outcome, runErr := o.execute(ctx, runID, runType, today, dryRun, allowlist)
	if runErr != nil {
		o.runs.FinishRun(ctx, runID, domain.RunFailed, runErr.Error(), nil)
		return OutcomeFailed, stats, &RunFailed{Cause: runErr}
	}
	return outcome, stats, nil
}

func (o *Orchestrator) execute(ctx context.Context, runID int64, runType domain.RunType, today time.Time, dryRun bool, allowlist []string) (domain.RunStats, Outcome, error) {
	stats := domain.RunStats{}

	// Ingest: run the tiered adapters for every active store, each under its
	// own per-store request budget (sequential across stores is sufficient
	// here; adapters within a store already run tier-ordered).
	stores, err := o.stores.ActiveStores(ctx, allowlist)
	if err != nil {
		return stats, OutcomeFailed, fmt.Errorf("seed: %w", err)
	}
	signalsNew, ingestErrors, tiersRun := 0, 0, 0
	for _, store := range stores {
		if err := ctx.Err(); err != nil {
			break
		}
		gates := adapters.Gates{
			Fetcher: o.fetcher,
			Rate:    o.rate,
			Policy:  o.policyGate,
			Budget:  ratelimit.NewRequestBudget(o.requestsFor(store), o.defaultMaxBytes, o.defaultMaxDuration),
		}
		result := o.router.RunStore(ctx, store, gates)
		signalsNew += result.NewSignals
		ingestErrors += len(result.Errors)
		tiersRun += len(result.TiersRun)
	}
	stats.Seed = map[string]interface{}{"stores_active": len(stores)}

	// Inbound: fold any .eml files dropped for mailbox-matched ingestion
	// into the same Ingest phase as the tiered adapters.
	var inboundStats inbound.Stats
	if o.inbound != nil {
		inboundStats, err = o.inbound.Run(ctx)
		if err != nil {
			return stats, OutcomeFailed, fmt.Errorf("ingest: inbound: %w", err)
		}
	}

	stats.Ingest = map[string]interface{}{
		"signals_new":     signalsNew,
		"errors":          ingestErrors,
		"tiers_run":       tiersRun,
		"inbound_enabled": inboundStats.Enabled,
		"inbound_files":   inboundStats.Files,
		"inbound_new":     inboundStats.New,
		"inbound_matched": inboundStats.Matched,
		"inbound_skipped": inboundStats.Skipped,
		"inbound_errors":  inboundStats.Errors,
	}

	// Extract: invoke the LLM for every pending Message.
	extractStats, err := o.extractor.Run(ctx)
	if err != nil {
		return stats, OutcomeFailed, fmt.Errorf("extract: %w", err)
	}
	stats.Extract = map[string]interface{}{
		"processed":         extractStats.Processed,
		"success":           extractStats.Success,
		"errors":            extractStats.Errors,
		"skipped_duplicate": extractStats.SkippedDuplicate,
	}

	// Merge: fold every not-yet-merged successful extraction into the
	// canonical Promo set.
	pending, err := o.merges.ListUnmergedExtractions(ctx)
	if err != nil {
		return stats, OutcomeFailed, fmt.Errorf("merge: list pending: %w", err)
	}
	created, updated, changes, mergeErrors, skipped := 0, 0, 0, 0, 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			break
		}
		mergeStats := o.merger.MergeExtraction(ctx, p.StoreID, p.MessageID, p.Result)
		created += mergeStats.Created
		updated += mergeStats.Updated
		changes += mergeStats.Changes
		mergeErrors += mergeStats.Errors
		skipped += mergeStats.Skipped
		if err := o.merges.MarkMerged(ctx, p.MessageID); err != nil {
			logger.Error("orchestrator: mark merged failed", "message_id", p.MessageID, "error", err)
		}
	}
	stats.Merge = map[string]interface{}{
		"promos_created": created,
		"promos_updated": updated,
		"changes":        changes,
		"errors":         mergeErrors,
		"skipped":        skipped,
	}

	entries, err := o.selector.Select(ctx, digestOptions(runType, o.cooldownDays, allowlist))
	if err != nil {
		return stats, OutcomeFailed, fmt.Errorf("select: %w", err)
	}
	stats.Select = map[string]interface{}{"entries": len(entries)}

	html, err := o.renderer.Render(string(runType), today.Format("2006-01-02"), entries)
	if err != nil {
		return stats, OutcomeFailed, fmt.Errorf("generate: %w", err)
	}

	if err := o.runs.UpdateRunStats(ctx, runID, stats); err != nil {
		logger.Error("orchestrator: update run stats failed", "run_id", runID, "error", err)
	}

	if dryRun {
		stats.Deliver = map[string]interface{}{"dry_run": true}
		if err := o.writePreview(html); err != nil {
			return stats, OutcomeFailed, fmt.Errorf("preview: %w", err)
		}
		o.runs.FinishRun(ctx, runID, domain.RunSuccess, "", nil)
		return stats, OutcomeSuccess, nil
	}

	if err := o.archive(runType, today, html); err != nil {
		return stats, OutcomeFailed, fmt.Errorf("archive: %w", err)
	}

	delivered, chanErrs := notify.FanOut(ctx, o.channels, string(runType), today.Format("2006-01-02"), html)
	chanErrStrs := make(map[string]string, len(chanErrs))
	for name, cerr := range chanErrs {
		chanErrStrs[name] = cerr.Error()
	}
	stats.Deliver = map[string]interface{}{"delivered": delivered, "channel_errors": chanErrStrs}
	if !delivered {
		o.runs.FinishRun(ctx, runID, domain.RunFailed, "delivery_failed", nil)
		return stats, OutcomeDeliveryFail, fmt.Errorf("delivery failed on all channels: %v", chanErrs)
	}

	sentAt := time.Now()
	o.runs.FinishRun(ctx, runID, domain.RunSuccess, "", &sentAt)

	promoIDs := make([]int64, 0, len(entries))
	for _, e := range entries {
		promoIDs = append(promoIDs, e.Promo.ID)
	}
	if err := o.runs.MarkNotified(ctx, promoIDs, sentAt); err != nil {
		logger.Error("orchestrator: mark_notified failed", "run_id", runID, "error", err)
	}

	return stats, OutcomeSuccess, nil
}

// requestsFor returns the per-store request budget: the store's own
// override when set, else the orchestrator-wide default.
func (o *Orchestrator) requestsFor(store domain.Store) int {
	if store.MaxRequestsPerRun > 0 {
		return store.MaxRequestsPerRun
	}
	return o.defaultMaxRequests
}

func digestOptions(runType domain.RunType, cooldownDays int, allowlist []string) digest.Options {
	return digest.Options{
		RunType:          runType,
		IncludeUnchanged: true,
		CooldownDays:     cooldownDays,
		StoreAllowlist:   allowlist,
	}
}

func (o *Orchestrator) writePreview(html string) error {
	if err := os.MkdirAll(o.archiveDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(o.archiveDir, "digest_preview.html"), []byte(html), 0o644)
}

func (o *Orchestrator) archive(runType domain.RunType, day time.Time, html string) error {
	dir := filepath.Join(o.archiveDir, "digest_archive", string(runType))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	base := day.Format("2006-01-02")
	path := filepath.Join(dir, base+".html")
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%d.html", base, n))
	}
	return os.WriteFile(path, []byte(html), 0o644)
}
