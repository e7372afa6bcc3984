package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/go-scrape-storefronts/adapters"
	"github.com/aluiziolira/go-scrape-storefronts/config"
	"github.com/aluiziolira/go-scrape-storefronts/models"
	"github.com/jarcoal/httpmock"
)

const catalogHeader = "site_id,display_name,base_url,enabled,platform_hint,pagination_pattern,max_pages,category_path\n"

func testRunConfig(t *testing.T, catalog string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "Sites_Catalog.csv")
	if err := os.WriteFile(path, []byte(catalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.CatalogPath = path
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.MinDelay = 0
	cfg.MaxDelay = 0
	cfg.RetryBackoff = 0
	cfg.RetryBackoffMax = 0
	return cfg
}

func listing(names ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul class="products">`)
	for i, name := range names {
		fmt.Fprintf(&b, `<li class="product"><a class="woocommerce-LoopProduct-link" href="/product/%d/">`+
			`<h2 class="woocommerce-loop-product__title">%s</h2></a>`+
			`<span class="price"><span class="woocommerce-Price-amount">%d.00 ج.م</span></span></li>`, i+1, name, (i+1)*100)
	}
	b.WriteString(`</ul></body></html>`)
	return b.String()
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\ufeff")))).ReadAll()
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return rows
}

func TestRunScrapeAllSitesDisabled(t *testing.T) {
	cfg := testRunConfig(t, catalogHeader+
		"a,Shop A,https://a.example,false,woo,page/{page}/,2,/shop/\n"+
		"b,Shop B,https://b.example,0,shopify,?page={page},2,/collections/all\n")
	transport := httpmock.NewMockTransport()

	var stdout bytes.Buffer
	if err := runScrape(context.Background(), cfg, runDeps{stdout: &stdout, transport: transport}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if transport.GetTotalCallCount() != 0 {
		t.Fatalf("disabled sites were fetched")
	}
	for _, path := range []string{cfg.SnapshotPath(), cfg.HistoryPath()} {
		if rows := readRows(t, path); len(rows) != 1 {
			t.Fatalf("%s rows = %d, want header only", path, len(rows))
		}
	}
	if !strings.Contains(stdout.String(), "total records=0 sites=0 skipped=2") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunScrapeMixedOutcomes(t *testing.T) {
	cfg := testRunConfig(t, catalogHeader+
		"a,Shop A,http://a.test,true,woo,page/{page}/,5,/shop/\n"+
		"b,Shop B,http://b.test,true,woo,page/{page}/,5,/shop/\n")
	cfg.HistoryDB = filepath.Join(cfg.OutputDir, "history.db")
	cfg.SummaryFile = filepath.Join(t.TempDir(), "step_summary.md")
	cfg.MetricsFile = filepath.Join(t.TempDir(), "scraper.prom")

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://a.test/shop/",
		httpmock.NewStringResponder(200, listing("Galaxy A15", "Redmi 13", "هاتف نوكيا")))
	transport.RegisterResponder("GET", "http://a.test/shop/page/2/",
		httpmock.NewStringResponder(200, `<html><body><p class="woocommerce-info">No products</p></body></html>`))
	transport.RegisterResponder("GET", `=~^http://b\.test/`,
		httpmock.NewErrorResponder(errors.New("dial tcp: connection refused")))

	var stdout bytes.Buffer
	if err := runScrape(context.Background(), cfg, runDeps{stdout: &stdout, transport: transport}); err != nil {
		t.Fatalf("run: %v", err)
	}

	snapshot := readRows(t, cfg.SnapshotPath())
	if len(snapshot) != 4 {
		t.Fatalf("snapshot rows = %d, want header + 3", len(snapshot))
	}
	if snapshot[1][2] != "Galaxy A15" || snapshot[1][4] != "100.00" || snapshot[1][5] != "EGP" {
		t.Fatalf("first snapshot row = %v", snapshot[1])
	}
	if rows := readRows(t, cfg.HistoryPath()); len(rows) != 4 {
		t.Fatalf("history rows = %d, want header + 3", len(rows))
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "debug_b.html")); err != nil {
		t.Fatalf("diagnostic for failing site: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "debug_a.html")); !os.IsNotExist(err) {
		t.Fatalf("successful site should not leave a diagnostic")
	}

	summary, err := os.ReadFile(cfg.SummaryFile)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if !strings.Contains(string(summary), "Shop B") || !strings.Contains(string(summary), "1 of 2 sites returned no products.") {
		t.Fatalf("summary = %s", summary)
	}

	metrics, err := os.ReadFile(cfg.MetricsFile)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(metrics), `scraper_items_scraped_total{site_id="a"} 3`) {
		t.Fatalf("metrics textfile missing item count:\n%s", metrics)
	}

	if !strings.Contains(stdout.String(), "total records=3 sites=2 skipped=0") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if _, err := os.Stat(cfg.HistoryDB); err != nil {
		t.Fatalf("history db: %v", err)
	}
}

func TestRunScrapeSecondRunAppendsHistory(t *testing.T) {
	cfg := testRunConfig(t, catalogHeader+"a,Shop A,http://a.test,true,woo,,1,/shop/\n")
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://a.test/shop/", httpmock.NewStringResponder(200, listing("Galaxy A15")))

	for run := 0; run < 2; run++ {
		if err := runScrape(context.Background(), cfg, runDeps{transport: transport}); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
	}

	if rows := readRows(t, cfg.SnapshotPath()); len(rows) != 2 {
		t.Fatalf("snapshot rows = %d, want header + 1", len(rows))
	}
	if rows := readRows(t, cfg.HistoryPath()); len(rows) != 3 {
		t.Fatalf("history rows = %d, want header + 2", len(rows))
	}
}

func TestRunScrapeKeepsSnapshotWhenSiteFails(t *testing.T) {
	cfg := testRunConfig(t, catalogHeader+"a,Shop A,http://a.test,true,woo,,1,/shop/\n")

	healthy := httpmock.NewMockTransport()
	healthy.RegisterResponder("GET", "http://a.test/shop/", httpmock.NewStringResponder(200, listing("Galaxy A15")))
	if err := runScrape(context.Background(), cfg, runDeps{transport: healthy}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	down := httpmock.NewMockTransport()
	down.RegisterResponder("GET", `=~^http://a\.test/`, httpmock.NewErrorResponder(errors.New("dial tcp: connection refused")))
	if err := runScrape(context.Background(), cfg, runDeps{transport: down}); err != nil {
		t.Fatalf("second run: %v", err)
	}

	snapshot := readRows(t, cfg.SnapshotPath())
	if len(snapshot) != 2 || snapshot[1][2] != "Galaxy A15" {
		t.Fatalf("snapshot after failed run = %v, want the last known product", snapshot)
	}
	if rows := readRows(t, cfg.HistoryPath()); len(rows) != 2 {
		t.Fatalf("history rows = %d, want header + 1", len(rows))
	}
}

func TestRunScrapeInfrastructureFailures(t *testing.T) {
	t.Run("missing catalog", func(t *testing.T) {
		cfg := testRunConfig(t, catalogHeader)
		cfg.CatalogPath = filepath.Join(t.TempDir(), "missing.csv")
		err := runScrape(context.Background(), cfg, runDeps{})
		if !errors.Is(err, config.ErrCatalogNotFound) {
			t.Fatalf("err = %v, want ErrCatalogNotFound", err)
		}
	})

	t.Run("missing settings file", func(t *testing.T) {
		cfg := testRunConfig(t, catalogHeader)
		cfg.SettingsPath = filepath.Join(t.TempDir(), "nope.yaml")
		err := runScrape(context.Background(), cfg, runDeps{})
		if !errors.Is(err, config.ErrSettingsNotFound) {
			t.Fatalf("err = %v, want ErrSettingsNotFound", err)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testRunConfig(t, catalogHeader)
		cfg.Concurrency = 0
		if err := runScrape(context.Background(), cfg, runDeps{}); err == nil {
			t.Fatalf("expected configuration error")
		}
	})

	t.Run("output dir is a file", func(t *testing.T) {
		cfg := testRunConfig(t, catalogHeader)
		blocker := filepath.Join(t.TempDir(), "out")
		if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
			t.Fatalf("seed: %v", err)
		}
		cfg.OutputDir = blocker
		if err := runScrape(context.Background(), cfg, runDeps{}); err == nil {
			t.Fatalf("expected output error")
		}
	})
}

func TestBuildConfigPrecedence(t *testing.T) {
	t.Setenv("SITES_CSV_PATH", "legacy.csv")
	t.Setenv("SCRAPER_CONCURRENCY", "3")
	t.Setenv("OUT_DIR", "from-env")
	t.Setenv("GITHUB_STEP_SUMMARY", "/tmp/summary.md")

	cmd := NewRunCmd()
	if err := cmd.ParseFlags([]string{"--out-dir", "from-flag", "--max-attempts", "5", "--run-timeout", "10m"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := buildConfig(cmd)
	if err != nil {
		t.Fatalf("build config: %v", err)
	}

	if cfg.CatalogPath != "legacy.csv" {
		t.Errorf("catalog = %q, want env value", cfg.CatalogPath)
	}
	if cfg.Concurrency != 3 {
		t.Errorf("concurrency = %d, want 3", cfg.Concurrency)
	}
	if cfg.OutputDir != "from-flag" {
		t.Errorf("out dir = %q, flag should win over env", cfg.OutputDir)
	}
	if cfg.MaxAttempts != 5 || cfg.RunTimeout.Minutes() != 10 {
		t.Errorf("attempts=%d run timeout=%s", cfg.MaxAttempts, cfg.RunTimeout)
	}
	if cfg.SummaryFile != "/tmp/summary.md" {
		t.Errorf("summary = %q", cfg.SummaryFile)
	}
	if cfg.MinDelay != config.DefaultConfig().MinDelay {
		t.Errorf("untouched flag changed min delay to %s", cfg.MinDelay)
	}
}

func TestBuildConfigRejectsBadEnv(t *testing.T) {
	t.Setenv("SCRAPER_CONCURRENCY", "many")
	if _, err := buildConfig(NewRunCmd()); err == nil {
		t.Fatalf("expected error for non-numeric SCRAPER_CONCURRENCY")
	}
}

func TestRegisterStrategies(t *testing.T) {
	registry := adapters.NewRegistry()
	settings := &config.Settings{Strategies: []config.StrategySettings{{
		Platform:  "woocommerce",
		Name:      "woo-flatsome",
		Container: ".product-small.box",
		Fields:    map[string]string{"name": ".name a", "price": ".price .amount"},
	}}}
	if err := registerStrategies(registry, settings); err != nil {
		t.Fatalf("register: %v", err)
	}

	strategies := registry.StrategiesFor(models.PlatformWoo)
	found := false
	for _, s := range strategies {
		if s.Name == "woo-flatsome" {
			found = s.Selector(adapters.FieldPrice) == ".price .amount"
		}
	}
	if !found {
		t.Fatalf("strategy not registered: %+v", strategies)
	}
	if strategies[len(strategies)-1].Name != "woo-generic" {
		t.Fatalf("fallback should stay last, got %s", strategies[len(strategies)-1].Name)
	}

	bad := &config.Settings{Strategies: []config.StrategySettings{{Name: "broken", Container: "[", Fields: map[string]string{"name": "a"}}}}
	if err := registerStrategies(registry, bad); err == nil {
		t.Fatalf("expected invalid selector error")
	}
}

func TestCatalogValidateCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.csv")
	content := catalogHeader +
		"a,Shop A,https://a.example,true,woo,page/{page}/,2,/shop/\n" +
		"b,Shop B,not a url,true,woo,,2,\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"catalog", "validate", path})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "1 catalog rows rejected") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(stdout.String(), "1 entries, 1 enabled, 1 rejected") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "catalog row 2") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestStrategiesCmd(t *testing.T) {
	cmd := NewRootCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"strategies", "shopify"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "shopify-dawn") || !strings.Contains(out, "shopify-generic") {
		t.Fatalf("output = %q", out)
	}
	if strings.Contains(out, "woo-loop") {
		t.Fatalf("unrequested platform listed: %q", out)
	}
}

func TestRootCmdSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	want := []string{"run", "catalog", "strategies", "version"}
	for _, name := range want {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
	if flag := cmd.PersistentFlags().Lookup("verbose"); flag == nil || flag.Shorthand != "v" {
		t.Errorf("verbose flag not registered")
	}
}

func TestNewLoggerWritesJSONWhenNotATerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "stderr-*.log")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	defer f.Close()

	logger, level := newLogger(true, f)
	if level.Level() != slog.LevelDebug {
		t.Fatalf("level = %s, want debug", level.Level())
	}
	logger.Debug("page fetched", slog.String("site_id", "a"))

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", data)
	}
	if entry["msg"] != "page fetched" || entry["site_id"] != "a" {
		t.Fatalf("entry = %v", entry)
	}
}
