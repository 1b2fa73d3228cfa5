package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/promo-digest/internal/adapters"
	"github.com/ignite/promo-digest/internal/catalog"
	"github.com/ignite/promo-digest/internal/config"
	"github.com/ignite/promo-digest/internal/digest"
	"github.com/ignite/promo-digest/internal/extract"
	"github.com/ignite/promo-digest/internal/fetch"
	"github.com/ignite/promo-digest/internal/inbound"
	"github.com/ignite/promo-digest/internal/llm"
	"github.com/ignite/promo-digest/internal/notify"
	"github.com/ignite/promo-digest/internal/orchestrator"
	"github.com/ignite/promo-digest/internal/payload"
	"github.com/ignite/promo-digest/internal/pkg/distlock"
	"github.com/ignite/promo-digest/internal/policy"
	"github.com/ignite/promo-digest/internal/promos"
	"github.com/ignite/promo-digest/internal/ratelimit"
	"github.com/ignite/promo-digest/internal/repository/postgres"
	"github.com/ignite/promo-digest/internal/router"
	"github.com/ignite/promo-digest/internal/signals"
	"os"
	"time"
)

func newRunRepo(db *sql.DB) *postgres.RunRepo             { return postgres.NewRunRepo(db) }
func newStoreRepo(db *sql.DB) *postgres.StoreRepo          { return postgres.NewStoreRepo(db) }
func newPromoRepo(db *sql.DB) *postgres.PromoRepo          { return postgres.NewPromoRepo(db) }
func newSignalRepo(db *sql.DB) *postgres.SignalRepo        { return postgres.NewSignalRepo(db) }
func newExtractionRepo(db *sql.DB) *postgres.ExtractionRepo { return postgres.NewExtractionRepo(db) }
func newBlobRepo(db *sql.DB) *postgres.BlobRepo            { return postgres.NewBlobRepo(db) }

// noopBrowserRenderer is used when no external headless-browser service is
// configured; tier-4 browser sources simply fail closed with a clear
// error rather than panicking on a nil Renderer.
type noopBrowserRenderer struct{}

func (noopBrowserRenderer) Render(ctx context.Context, url string) adapters.BrowserResult {
	return adapters.BrowserResult{Err: fmt.Errorf("browser rendering not configured")}
}

func buildPayloadStore(ctx context.Context, cfg *config.Config, blobs *postgres.BlobRepo) (*payload.Store, error) {
	if cfg.PayloadUseS3 {
		backend, err := payload.NewS3Backend(ctx, cfg.PayloadS3Bucket, "payloads", cfg.PayloadS3Region)
		if err != nil {
			return nil, fmt.Errorf("s3 payload backend: %w", err)
		}
		return payload.New(backend, blobs, cfg.PayloadInlineCapKB*1024), nil
	}
	backend, err := payload.NewLocalBackend(cfg.PayloadDir)
	if err != nil {
		return nil, fmt.Errorf("local payload backend: %w", err)
	}
	return payload.New(backend, blobs, cfg.PayloadInlineCapKB*1024), nil
}

func buildExtractor(ctx context.Context, cfg *config.Config, repo extract.Repository, prefs extract.FlightPreferences) (*extract.Extractor, error) {
	var model llm.Extractor
	var modelID string
	switch cfg.ExtractionModel {
	case "bedrock":
		be, err := llm.NewBedrockExtractor(ctx, cfg.BedrockRegion, "anthropic.claude-3-5-sonnet-20241022-v2:0")
		if err != nil {
			return nil, fmt.Errorf("bedrock extractor: %w", err)
		}
		model, modelID = be, "bedrock"
	case "fake":
		model, modelID = llm.FakeExtractor{}, "fake"
	default:
		model, modelID = llm.NewAnthropicExtractor(cfg.AnthropicAPIKey, "claude-3-5-sonnet-20241022"), "anthropic"
	}
	return extract.New(repo, model, modelID, prefs, cfg.MaxEmailsPerRun), nil
}

func buildChannels(cfg *config.Config) []notify.Channel {
	channels := []notify.Channel{notify.NewDesktopChannel(cfg.DesktopDropDir)}
	if cfg.SparkPostAPIKey != "" {
		channels = append(channels, notify.NewEmailChannel(cfg.SparkPostAPIKey, cfg.SparkPostBaseURL, "digest@promo-digest.local", "Promo Digest", ""))
	}
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, notify.NewSlackChannel(cfg.SlackWebhookURL))
	}
	return channels
}

func buildOrchestrator(ctx context.Context, cfg *config.Config, db *sql.DB) (*orchestrator.Orchestrator, error) {
	storeRepo := newStoreRepo(db)
	promoRepo := newPromoRepo(db)
	signalRepo := newSignalRepo(db)
	extractionRepo := newExtractionRepo(db)
	runRepo := newRunRepo(db)
	blobRepo := newBlobRepo(db)

	payloadStore, err := buildPayloadStore(ctx, cfg, blobRepo)
	if err != nil {
		return nil, err
	}
	persister := signals.New(signalRepo, payloadStore)

	prefs := extract.FlightPreferences{}
	if p, err := catalog.LoadPreferences(preferencesPath()); err == nil {
		prefs = p.FlightPreferences()
	}

	extractor, err := buildExtractor(ctx, cfg, extractionRepo, prefs)
	if err != nil {
		return nil, err
	}

	merger := promos.New(promoRepo, prefs)
	selector := digest.New(promoRepo)
	renderer := digest.NewRenderer()

	fetcher := fetch.New(3)
	rateGate := ratelimit.NewRateGate()
	policyGate := policy.NewGate(fetcher, cfg.IgnoreRobots)

	rt := router.New(storeRepo, persister,
		adapters.SitemapAdapter{},
		adapters.RssAdapter{},
		adapters.JsonEndpointAdapter{},
		adapters.CategoryPageAdapter{},
		adapters.BrowserAdapter{Renderer: noopBrowserRenderer{}},
	)

	tz, err := time.LoadLocation(cfg.OperatorTimezone)
	if err != nil {
		tz = time.UTC
	}

	inboundIngester := inbound.New(signalRepo, storeRepo, payloadStore, cfg.InboundEMLDir)

	return orchestrator.New(orchestrator.Config{
		Runs:        runRepo,
		Stores:      storeRepo,
		Merges:      runRepo,
		Inbound:     inboundIngester,
		Router:      rt,
		Extractor:   extractor,
		Merger:      merger,
		Selector:    selector,
		Renderer:    renderer,
		Channels:    buildChannels(cfg),
		LockFactory: func(key string) distlock.DistLock { return distlock.NewLock(db, "promodigest:"+key) },
		Fetcher:     fetcher,
		Rate:        rateGate,
		PolicyGate:  policyGate,
		ArchiveDir:  cfg.DigestArchiveDir,
		Timezone:    tz,

		DefaultMaxRequests: cfg.DefaultMaxRequests,
		DefaultMaxBytes:    500 * 1024 * 1024,
		DefaultMaxDuration: 0,
		CooldownDays:       7,
	}), nil
}

func preferencesPath() string {
	if v := envOr("PREFERENCES_PATH", ""); v != "" {
		return v
	}
	return "./preferences.yaml"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
