package adapters

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/ignite/promo-digest/internal/domain"
)

// BrowserResult is what the external headless-browser service returns for
// one rendered fetch.
type BrowserResult struct {
	HTML            string
	Title           string
	CaptchaDetected bool
	Screenshot      []byte
	Trace           string
	Err             error
}

// BrowserRenderer is the opaque external collaborator driving a headless
// browser; out of scope to implement, modeled as an interface so
// BrowserAdapter can be exercised against a fake in tests.
type BrowserRenderer interface {
	Render(ctx context.Context, url string) BrowserResult
}

// BrowserAdapter delegates rendering to an external headless-browser
// service for pages that require JavaScript execution (tier 4, the last
// resort after sitemap/rss/json/category all fail or don't apply).
type BrowserAdapter struct {
	Renderer BrowserRenderer
}

func (BrowserAdapter) Tier() int                     { return 4 }
func (BrowserAdapter) SourceType() domain.SourceType { return domain.SourceBrowser }

func (a BrowserAdapter) Discover(ctx context.Context, store domain.Store, src domain.SourceConfig, gates Gates) SourceResult {
	pageURL := src.ConfigKey

	allowed, code := checkPolicy(ctx, gates, store, pageURL)
	if !allowed {
		return fail(code, "robots blocked "+pageURL)
	}
	if !waitAndBudget(gates, store, pageURL) {
		return fail(ErrCodeBudgetExhausted, "request budget exhausted")
	}

	result := a.Renderer.Render(ctx, pageURL)
	if result.Err != nil {
		return fail(ErrCodeFetchFailed, result.Err.Error())
	}
	if result.CaptchaDetected {
		return fail("captcha_detected", "human assist required for "+pageURL)
	}

	if w, h, ok := screenshotDimensions(result.Screenshot); ok {
		gates.Budget.RecordBytes(int64(len(result.Screenshot)))
		_ = fmt.Sprintf("%dx%d", w, h) // dimensions are not recorded anywhere; decoding only confirms a usable screenshot
	}

	signal, err := buildCategorySignal(store, a.SourceType(), pageURL, result.HTML)
	if err != nil {
		return fail(ErrCodeParseError, err.Error())
	}
	if signal.Metadata.Title == "" {
		signal.Metadata.Title = result.Title
	}

	return SourceResult{Status: StatusSuccess, Signals: []domain.RawSignal{signal}}
}

// screenshotDimensions decodes a screenshot's width/height without
// retaining the image bytes, used only to confirm the render actually
// produced a non-empty viewport.
func screenshotDimensions(screenshot []byte) (w, h int, ok bool) {
	if len(screenshot) == 0 {
		return 0, 0, false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(screenshot))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}
