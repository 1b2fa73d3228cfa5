package adapters

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/signalkey"
	"github.com/ignite/promo-digest/internal/webparse"
)

// CategoryPageAdapter fetches one HTML category/listing page. When the page
// is an apparel sale/clearance/outlet URL it uses SalePageParser to produce
// a structured summary instead of raw parsed body text.
type CategoryPageAdapter struct{}

func (CategoryPageAdapter) Tier() int                     { return 3 }
func (CategoryPageAdapter) SourceType() domain.SourceType { return domain.SourceCategory }

func (a CategoryPageAdapter) Discover(ctx context.Context, store domain.Store, src domain.SourceConfig, gates Gates) SourceResult {
	if requireBrowser, _ := src.Config["require_browser"].(bool); requireBrowser {
		return fail(ErrCodeRequiresBrowser, "category page requires a rendered browser fetch")
	}

	pageURL := src.ConfigKey

	allowed, code := checkPolicy(ctx, gates, store, pageURL)
	if !allowed {
		return fail(code, "robots blocked "+pageURL)
	}
	if !waitAndBudget(gates, store, pageURL) {
		return fail(ErrCodeBudgetExhausted, "request budget exhausted")
	}

	opts := fetchOpts()
	opts.ETag = src.ETag
	opts.LastModified = src.LastModified
	res := gates.Fetcher.Fetch(ctx, pageURL, opts)
	if res.Error != nil {
		return fail(ErrCodeFetchFailed, res.Error.Error())
	}
	if res.Status == 304 {
		return SourceResult{Status: StatusEmpty, ETag: src.ETag, LastModified: src.LastModified}
	}
	gates.Budget.RecordBytes(int64(len(res.Body)))

	signal, err := buildCategorySignal(store, a.SourceType(), pageURL, string(res.Body))
	if err != nil {
		return fail(ErrCodeParseError, err.Error())
	}

	return SourceResult{Status: StatusSuccess, Signals: []domain.RawSignal{signal}, ETag: res.ETag, LastModified: res.LastModified}
}

var saleURLHint = []string{"sale", "clearance", "outlet"}

func isSalePageURL(store domain.Store, rawURL string) bool {
	if !strings.EqualFold(store.Category, "apparel") {
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, hint := range saleURLHint {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// buildCategorySignal parses an HTML page body via WebParser, or via
// SalePageParser when the store/URL combination looks like an apparel
// sale page, and packages either as a RawSignal. Shared by
// CategoryPageAdapter and BrowserAdapter since both parse rendered HTML.
func buildCategorySignal(store domain.Store, sourceType domain.SourceType, pageURL, html string) (domain.RawSignal, error) {
	parsed, err := webparse.Parse(html)
	if err != nil {
		return domain.RawSignal{}, err
	}

	text := parsed.Text
	if isSalePageURL(store, pageURL) {
		if summary, serr := webparse.ParseSalePage(html); serr == nil {
			if rendered := renderSaleSummary(summary); rendered != "" {
				text = rendered
			}
		}
	}

	key := signalkey.Of(parsed.CanonicalURL, pageURL, "", string(sourceType), store.Slug)
	return domain.RawSignal{
		StoreID:       store.ID,
		SourceType:    sourceType,
		SignalKey:     key,
		URL:           pageURL,
		ObservedAt:    time.Now(),
		PayloadType:   domain.PayloadText,
		PayloadInline: text,
		Metadata: domain.SignalMetadata{
			Title:        parsed.Title,
			CanonicalURL: parsed.CanonicalURL,
			TopLinks:     parsed.TopLinks,
		},
	}, nil
}

func renderSaleSummary(s webparse.SaleSummary) string {
	var b strings.Builder
	if len(s.Banners) > 0 {
		b.WriteString("Banners: " + strings.Join(s.Banners, " | ") + "\n")
	}
	if len(s.Breadcrumbs) > 0 {
		b.WriteString("Breadcrumbs: " + strings.Join(s.Breadcrumbs, " > ") + "\n")
	}
	if s.MaxDiscount > 0 {
		b.WriteString("Observed discounts: up to " + formatPercent(s.MaxDiscount))
		if s.MinDiscount > 0 && s.MinDiscount != s.MaxDiscount {
			b.WriteString(" (range " + formatPercent(s.MinDiscount) + "-" + formatPercent(s.MaxDiscount) + ")")
		}
		b.WriteString("\n")
	}
	for _, p := range s.Products {
		b.WriteString("- " + p.Name + ": " + webparse.FormatPrice(p.SalePrice))
		if p.OriginalPrice > p.SalePrice {
			b.WriteString(" (was " + webparse.FormatPrice(p.OriginalPrice) + ")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatPercent(v float64) string {
	s := strconv.FormatFloat(v, 'f', 1, 64)
	s = strings.TrimSuffix(s, ".0")
	return s + "%"
}
