package scraper

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aluiziolira/go-scrape-storefronts/adapters"
	"github.com/aluiziolira/go-scrape-storefronts/config"
	"github.com/aluiziolira/go-scrape-storefronts/models"
	"github.com/jarcoal/httpmock"
)

type collectingSink struct {
	mu      sync.Mutex
	records []*models.ProductRecord
	err     error
}

func (s *collectingSink) Process(records ...*models.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *collectingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func newTestRunner(t *testing.T, cfg *config.Config, transport http.RoundTripper) *SiteRunner {
	t.Helper()
	metrics := NewMetrics()
	fetcher, err := NewFetcher(cfg, WithTransport(transport), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	return NewSiteRunner(cfg, fetcher, adapters.NewRegistry(), metrics, nil)
}

func TestRunAllEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://a.test/shop/", htmlResponder(buildListingPage(1, 5)))
	transport.RegisterResponder("GET", "http://a.test/shop/page/2/", htmlResponder(buildListingPage(0, 0)))
	transport.RegisterResponder("GET", `=~^http://b\.test/`, httpmock.NewErrorResponder(connRefused()))

	catalog := []models.CatalogEntry{
		wooEntry("site_a", "http://a.test", 5),
		wooEntry("site_b", "http://b.test", 5),
	}
	sink := &collectingSink{}
	coordinator := NewCoordinator(cfg, newTestRunner(t, cfg, transport), nil)

	result, err := coordinator.RunAll(context.Background(), catalog, sink)
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(result.Outcomes))
	}

	a, b := result.Outcomes[0], result.Outcomes[1]
	if a.SiteID != "site_a" || a.State != models.StateSuccess || len(a.Records) != 5 {
		t.Fatalf("site a = %+v", a)
	}
	if a.PagesFetched != 2 || a.StopReason != string(StopEmptyPage) || a.DiagnosticSaved {
		t.Fatalf("site a pagination = %+v", a)
	}
	if b.SiteID != "site_b" || b.State != models.StateError || len(b.Records) != 0 || b.Err == nil {
		t.Fatalf("site b = %+v", b)
	}
	if !b.DiagnosticSaved || b.DiagnosticPath != filepath.Join(cfg.OutputDir, "debug_site_b.html") {
		t.Fatalf("site b diagnostic = %v %q", b.DiagnosticSaved, b.DiagnosticPath)
	}
	if _, err := os.Stat(b.DiagnosticPath); err != nil {
		t.Fatalf("diagnostic file: %v", err)
	}

	if len(result.Records) != 5 || sink.Count() != 5 {
		t.Fatalf("records = %d sink = %d, want 5", len(result.Records), sink.Count())
	}
	first := result.Records[0]
	if first.SiteID != "site_a" || first.URL != "http://a.test/product/item-1/" || first.Price == nil || first.Price.Minor != 100000 {
		t.Fatalf("first record = %+v", first)
	}

	info := transport.GetCallCountInfo()
	if got := info[`GET =~^http://b\.test/`]; got != cfg.MaxAttempts*cfg.FailureThreshold {
		t.Fatalf("site b calls = %d, want %d", got, cfg.MaxAttempts*cfg.FailureThreshold)
	}
}

func TestRunAllDisabledEntries(t *testing.T) {
	cfg := testConfig(t)
	transport := httpmock.NewMockTransport()

	a := wooEntry("a", "http://a.test", 1)
	a.Enabled = false
	b := wooEntry("b", "http://b.test", 1)
	b.Enabled = false

	result, err := NewCoordinator(cfg, newTestRunner(t, cfg, transport), nil).RunAll(context.Background(), []models.CatalogEntry{a, b}, &collectingSink{})
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	if len(result.Outcomes) != 0 || len(result.Records) != 0 || result.Skipped != 2 {
		t.Fatalf("result = %+v", result)
	}
	if transport.GetTotalCallCount() != 0 {
		t.Fatalf("disabled entries were fetched")
	}
}

func TestRunAllZeroResultDiagnostic(t *testing.T) {
	cfg := testConfig(t)
	page := "<html><body><div class=\"grid\">Our products are loading...</div></body></html>"
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://js.test/shop/", htmlResponder(page))

	result, err := NewCoordinator(cfg, newTestRunner(t, cfg, transport), nil).
		RunAll(context.Background(), []models.CatalogEntry{wooEntry("js site!", "http://js.test", 3)}, nil)
	if err != nil {
		t.Fatalf("run all: %v", err)
	}

	o := result.Outcomes[0]
	if o.State != models.StateZeroResult || !o.DiagnosticSaved {
		t.Fatalf("outcome = %+v", o)
	}
	var noStrategy ErrNoStrategy
	if !errors.As(o.Err, &noStrategy) {
		t.Fatalf("err = %v, want ErrNoStrategy", o.Err)
	}
	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, "debug_js_site_.html"))
	if err != nil {
		t.Fatalf("read diagnostic: %v", err)
	}
	if string(data) != page {
		t.Fatalf("diagnostic content = %q", data)
	}
}

type panickingFetcher struct {
	PageFetcher
}

func (p panickingFetcher) Fetch(ctx context.Context, url string, h http.Header) FetchResult {
	if strings.Contains(url, "boom") {
		panic("selector table corrupted")
	}
	return p.PageFetcher.Fetch(ctx, url, h)
}

func TestRunAllIsolatesPanics(t *testing.T) {
	cfg := testConfig(t)
	stub := &stubFetcher{results: map[string]FetchResult{
		"http://ok.test/shop/": okPage(buildListingPage(1, 2)),
	}}
	runner := NewSiteRunner(cfg, panickingFetcher{stub}, adapters.NewRegistry(), nil, nil)

	catalog := []models.CatalogEntry{
		wooEntry("boom", "http://boom.test", 1),
		wooEntry("ok", "http://ok.test", 1),
	}
	result, err := NewCoordinator(cfg, runner, nil).RunAll(context.Background(), catalog, nil)
	if err != nil {
		t.Fatalf("run all: %v", err)
	}

	var fatal ErrSiteFatal
	if o := result.Outcomes[0]; o.State != models.StateError || !errors.As(o.Err, &fatal) {
		t.Fatalf("panicking site = %+v", o)
	}
	if o := result.Outcomes[1]; o.State != models.StateSuccess || len(o.Records) != 2 {
		t.Fatalf("healthy site = %+v", o)
	}

	o := result.Outcomes[0]
	if !o.DiagnosticSaved || o.DiagnosticPath != filepath.Join(cfg.OutputDir, "debug_boom.html") {
		t.Fatalf("panicking site diagnostic = %v %q", o.DiagnosticSaved, o.DiagnosticPath)
	}
	content, err := os.ReadFile(o.DiagnosticPath)
	if err != nil {
		t.Fatalf("read diagnostic: %v", err)
	}
	if !strings.Contains(string(content), "selector table corrupted") {
		t.Fatalf("diagnostic = %q, want the panic reason", content)
	}
	if result.Outcomes[1].DiagnosticSaved {
		t.Fatalf("healthy site left a diagnostic")
	}
}

func TestSiteRunnerPanicAfterFirstPageCapturesPage(t *testing.T) {
	cfg := testConfig(t)
	first := buildListingPage(1, 3)
	stub := &stubFetcher{results: map[string]FetchResult{
		"http://late.test/shop/": okPage(first),
	}}
	runner := NewSiteRunner(cfg, panickingFetcher{stub}, adapters.NewRegistry(), nil, nil)

	entry := wooEntry("late", "http://late.test", 3)
	entry.PaginationPattern = "boom-{page}/"
	outcome := runner.Run(context.Background(), entry)

	var fatal ErrSiteFatal
	if outcome.State != models.StateError || !errors.As(outcome.Err, &fatal) {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(outcome.Records) != 0 {
		t.Fatalf("records = %d, want none after a panic", len(outcome.Records))
	}
	content, err := os.ReadFile(filepath.Join(cfg.OutputDir, "debug_late.html"))
	if err != nil {
		t.Fatalf("read diagnostic: %v", err)
	}
	if string(content) != first {
		t.Fatalf("diagnostic should hold the first fetched page, got %q", content)
	}
}

func TestRunAllCancelled(t *testing.T) {
	cfg := testConfig(t)
	stub := &stubFetcher{results: map[string]FetchResult{}}
	runner := NewSiteRunner(cfg, stub, adapters.NewRegistry(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	catalog := []models.CatalogEntry{wooEntry("a", "http://a.test", 1), wooEntry("b", "http://b.test", 1)}
	result, err := NewCoordinator(cfg, runner, nil).RunAll(ctx, catalog, nil)
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want one per enabled entry", len(result.Outcomes))
	}
	for _, o := range result.Outcomes {
		if o.State != models.StateCancelled {
			t.Errorf("%s state = %s, want cancelled", o.SiteID, o.State)
		}
	}
	if stub.callCount() != 0 {
		t.Fatalf("sites were started after cancellation")
	}
}

func TestRunAllParallelKeepsCatalogOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Concurrency = 4
	results := map[string]FetchResult{}
	var catalog []models.CatalogEntry
	for _, id := range []string{"s1", "s2", "s3", "s4", "s5", "s6"} {
		base := "http://" + id + ".test"
		results[base+"/shop/"] = okPage(buildListingPage(1, 1))
		catalog = append(catalog, wooEntry(id, base, 1))
	}
	runner := NewSiteRunner(cfg, &stubFetcher{results: results}, adapters.NewRegistry(), nil, nil)

	sink := &collectingSink{}
	result, err := NewCoordinator(cfg, runner, nil).RunAll(context.Background(), catalog, sink)
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	for i, o := range result.Outcomes {
		if o.SiteID != catalog[i].SiteID || o.State != models.StateSuccess {
			t.Fatalf("outcome %d = %s/%s, want %s/success", i, o.SiteID, o.State, catalog[i].SiteID)
		}
		if result.Records[i].SiteID != catalog[i].SiteID {
			t.Fatalf("record %d from %s, want %s", i, result.Records[i].SiteID, catalog[i].SiteID)
		}
	}
	if sink.Count() != len(catalog) {
		t.Fatalf("sink = %d, want %d", sink.Count(), len(catalog))
	}
}

func TestRunAllReportsSinkFailure(t *testing.T) {
	cfg := testConfig(t)
	stub := &stubFetcher{results: map[string]FetchResult{"http://a.test/shop/": okPage(buildListingPage(1, 1))}}
	runner := NewSiteRunner(cfg, stub, adapters.NewRegistry(), nil, nil)

	sink := &collectingSink{err: errors.New("disk full")}
	result, err := NewCoordinator(cfg, runner, nil).RunAll(context.Background(), []models.CatalogEntry{wooEntry("a", "http://a.test", 1)}, sink)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v, want sink failure", err)
	}
	if result == nil || len(result.Outcomes) != 1 {
		t.Fatalf("result should still be returned: %+v", result)
	}
}

func TestSiteRunnerAppliesSettings(t *testing.T) {
	cfg := testConfig(t)
	var cookie, lang string
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://a.test/shop/", func(req *http.Request) (*http.Response, error) {
		cookie = req.Header.Get("Cookie")
		lang = req.Header.Get("Accept-Language")
		resp := httpmock.NewStringResponse(http.StatusOK, strings.ReplaceAll(buildListingPage(1, 1), "EGP ", ""))
		return resp, nil
	})

	runner := newTestRunner(t, cfg, transport)
	runner.Settings = &config.Settings{
		Defaults: config.SiteSettings{Headers: map[string]string{"Accept-Language": "ar-EG"}},
		Sites:    map[string]config.SiteSettings{"a": {Cookie: "currency=USD", Currency: "USD"}},
	}

	outcome := runner.Run(context.Background(), wooEntry("a", "http://a.test", 1))
	if cookie != "currency=USD" || lang != "ar-EG" {
		t.Fatalf("headers cookie=%q lang=%q", cookie, lang)
	}
	if outcome.State != models.StateSuccess || outcome.Records[0].Price.Currency != "USD" {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestSiteRunnerSkipsDisabled(t *testing.T) {
	cfg := testConfig(t)
	stub := &stubFetcher{results: map[string]FetchResult{}}
	entry := wooEntry("a", "http://a.test", 1)
	entry.Enabled = false

	outcome := NewSiteRunner(cfg, stub, adapters.NewRegistry(), nil, nil).Run(context.Background(), entry)
	if outcome.State != models.StateSkipped || stub.callCount() != 0 {
		t.Fatalf("outcome = %+v calls = %d", outcome, stub.callCount())
	}
}

func TestDiagnosticFileName(t *testing.T) {
	tests := []struct {
		siteID   string
		expected string
	}{
		{siteID: "shop_a", expected: "debug_shop_a.html"},
		{siteID: "Shop A / Cairo", expected: "debug_Shop_A_Cairo.html"},
		{siteID: strings.Repeat("x", 40), expected: "debug_" + strings.Repeat("x", 30) + ".html"},
		{siteID: "متجر", expected: "debug__.html"},
	}

	for _, tt := range tests {
		if got := DiagnosticFileName(tt.siteID); got != tt.expected {
			t.Errorf("DiagnosticFileName(%q) = %q, want %q", tt.siteID, got, tt.expected)
		}
	}
}
