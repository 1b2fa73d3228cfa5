package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/fetch"
	"github.com/ignite/promo-digest/internal/policy"
	"github.com/ignite/promo-digest/internal/ratelimit"
)

func testGates() Gates {
	fetcher := fetch.New(0)
	return Gates{
		Fetcher: fetcher,
		Rate:    ratelimit.NewRateGate(),
		Budget:  ratelimit.NewRequestBudget(1000, 10_000_000, time.Hour),
		Policy:  policy.NewGate(fetcher, true),
	}
}

func testStore() domain.Store {
	return domain.Store{ID: 1, Slug: "acme", Name: "Acme", Category: "apparel"}
}

const sampleFeedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Acme Deals</title>
<item><title>50% off sale</title><link>https://acme.example.com/p1</link><guid>p1</guid><description>Half off everything</description></item>
<item><title>New arrivals</title><link>https://acme.example.com/p2</link><guid>p2</guid><description>Fresh stock</description></item>
</channel></rss>`

func TestRssAdapterDiscoversItemsFromFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeedXML))
	}))
	defer srv.Close()

	src := domain.SourceConfig{ConfigKey: srv.URL}
	res := RssAdapter{}.Discover(context.Background(), testStore(), src, testGates())

	if res.Status != StatusSuccess {
		t.Fatalf("Status = %v, want success (error=%s)", res.Status, res.ErrorMessage)
	}
	if len(res.Signals) != 2 {
		t.Fatalf("len(Signals) = %d, want 2", len(res.Signals))
	}
}

func TestRssAdapterReturnsEmptyOn304(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	src := domain.SourceConfig{ConfigKey: srv.URL, ETag: `"abc"`}
	res := RssAdapter{}.Discover(context.Background(), testStore(), src, testGates())
	if res.Status != StatusEmpty {
		t.Fatalf("Status = %v, want empty", res.Status)
	}
}

func TestJsonEndpointAdapterDiscoversSignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"offers":[{"headline":"40% off"}]}`))
	}))
	defer srv.Close()

	src := domain.SourceConfig{ConfigKey: srv.URL}
	res := JsonEndpointAdapter{}.Discover(context.Background(), testStore(), src, testGates())

	if res.Status != StatusSuccess {
		t.Fatalf("Status = %v, want success (error=%s)", res.Status, res.ErrorMessage)
	}
	if len(res.Signals) != 1 {
		t.Fatalf("len(Signals) = %d, want 1", len(res.Signals))
	}
	if res.Signals[0].PayloadType != domain.PayloadJSON {
		t.Errorf("PayloadType = %v, want json", res.Signals[0].PayloadType)
	}
}

func TestJsonEndpointAdapterFailsOnInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	src := domain.SourceConfig{ConfigKey: srv.URL}
	res := JsonEndpointAdapter{}.Discover(context.Background(), testStore(), src, testGates())
	if res.Status != StatusFailure || res.ErrorCode != ErrCodeParseError {
		t.Fatalf("expected parse_error failure, got status=%v code=%v", res.Status, res.ErrorCode)
	}
}

const samplePageHTML = `<html><head><title>Sale</title></head><body>
<div class="breadcrumb"><a href="/">Home</a> / <a href="/sale">Sale</a></div>
<div class="product"><span class="name">Jacket</span><span class="price">$40.00</span><del>$80.00</del></div>
</body></html>`

func TestCategoryPageAdapterDiscoversSignalFromSalePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePageHTML))
	}))
	defer srv.Close()

	src := domain.SourceConfig{ConfigKey: srv.URL + "/sale"}
	res := CategoryPageAdapter{}.Discover(context.Background(), testStore(), src, testGates())

	if res.Status != StatusSuccess {
		t.Fatalf("Status = %v, want success (error=%s)", res.Status, res.ErrorMessage)
	}
	if len(res.Signals) != 1 {
		t.Fatalf("len(Signals) = %d, want 1", len(res.Signals))
	}
}

func TestCategoryPageAdapterFailsWhenRequiresBrowserConfigured(t *testing.T) {
	src := domain.SourceConfig{ConfigKey: "https://acme.example.com/sale", Config: map[string]interface{}{"require_browser": true}}
	res := CategoryPageAdapter{}.Discover(context.Background(), testStore(), src, testGates())
	if res.Status != StatusFailure || res.ErrorCode != ErrCodeRequiresBrowser {
		t.Fatalf("expected requires_browser failure, got status=%v code=%v", res.Status, res.ErrorCode)
	}
}

type fakeBrowserRenderer struct {
	result BrowserResult
}

func (f fakeBrowserRenderer) Render(ctx context.Context, url string) BrowserResult {
	return f.result
}

func TestBrowserAdapterDiscoversSignalFromRenderedHTML(t *testing.T) {
	renderer := fakeBrowserRenderer{result: BrowserResult{HTML: samplePageHTML, Title: "Sale Page"}}
	a := BrowserAdapter{Renderer: renderer}

	src := domain.SourceConfig{ConfigKey: "https://acme.example.com/sale"}
	res := a.Discover(context.Background(), testStore(), src, testGates())

	if res.Status != StatusSuccess {
		t.Fatalf("Status = %v, want success (error=%s)", res.Status, res.ErrorMessage)
	}
	if len(res.Signals) != 1 {
		t.Fatalf("len(Signals) = %d, want 1", len(res.Signals))
	}
}

func TestBrowserAdapterFailsOnCaptcha(t *testing.T) {
	renderer := fakeBrowserRenderer{result: BrowserResult{CaptchaDetected: true}}
	a := BrowserAdapter{Renderer: renderer}

	src := domain.SourceConfig{ConfigKey: "https://acme.example.com/sale"}
	res := a.Discover(context.Background(), testStore(), src, testGates())
	if res.Status != StatusFailure || res.ErrorCode != "captcha_detected" {
		t.Fatalf("expected captcha_detected failure, got status=%v code=%v", res.Status, res.ErrorCode)
	}
}

func TestBrowserAdapterFailsOnRendererError(t *testing.T) {
	renderer := fakeBrowserRenderer{result: BrowserResult{Err: context.DeadlineExceeded}}
	a := BrowserAdapter{Renderer: renderer}

	src := domain.SourceConfig{ConfigKey: "https://acme.example.com/sale"}
	res := a.Discover(context.Background(), testStore(), src, testGates())
	if res.Status != StatusFailure || res.ErrorCode != ErrCodeFetchFailed {
		t.Fatalf("expected fetch_failed, got status=%v code=%v", res.Status, res.ErrorCode)
	}
}
