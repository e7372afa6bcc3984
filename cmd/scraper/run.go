package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/adapters"
	"github.com/aluiziolira/go-scrape-storefronts/config"
	"github.com/aluiziolira/go-scrape-storefronts/models"
	"github.com/aluiziolira/go-scrape-storefronts/pipeline"
	"github.com/aluiziolira/go-scrape-storefronts/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape every enabled storefront of the catalog",
		Long: `Run scrapes the enabled catalog entries and writes:

  <out-dir>/current_snapshot.csv   latest record per product, rewritten each run
  <out-dir>/products_history.csv   every record of every run, appended
  <out-dir>/debug_<site>.html      page capture of each site that returned nothing

Environment variables are read before flags: SCRAPER_CATALOG (or SITES_CSV_PATH),
SCRAPER_OUT_DIR (or OUT_DIR), SCRAPER_SETTINGS, SCRAPER_CONCURRENCY,
SCRAPER_MAX_ATTEMPTS, SCRAPER_RUN_TIMEOUT, SCRAPER_GLOBAL_RPS, SCRAPER_HISTORY_DB,
SCRAPER_METRICS_ADDR and GITHUB_STEP_SUMMARY.`,
		Args: cobra.NoArgs,
		RunE: runRunCmd,
	}

	defaults := config.DefaultConfig()
	flags := cmd.Flags()
	flags.StringP("catalog", "c", defaults.CatalogPath, "Catalog CSV path")
	flags.String("settings", "", "Settings YAML path (default .storefront.yaml, then the XDG config dir)")
	flags.StringP("out-dir", "o", defaults.OutputDir, "Output directory")
	flags.String("snapshot", defaults.SnapshotFile, "Snapshot file name, relative to the output directory")
	flags.String("history", defaults.HistoryFile, "History file name, relative to the output directory")
	flags.String("history-format", defaults.HistoryFormat, "History format: csv, json, or dual")
	flags.String("history-db", "", "Also append the run to this SQLite database")
	flags.String("diagnostics-dir", "", "Directory for zero-result page captures (default: output directory)")
	flags.String("summary", "", "Append a Markdown run summary to this file")
	flags.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	flags.String("metrics-file", "", "Write Prometheus metrics in text format to this file at the end of the run")
	flags.Int("concurrency", defaults.Concurrency, "Sites scraped in parallel")
	flags.Duration("min-delay", defaults.MinDelay, "Minimum delay before each request")
	flags.Duration("max-delay", defaults.MaxDelay, "Maximum delay before each request")
	flags.Duration("timeout", defaults.Timeout, "Per-request timeout")
	flags.Duration("run-timeout", 0, "Wall-clock limit for the whole run (0 = none)")
	flags.Int("max-attempts", defaults.MaxAttempts, "Attempts per page, first try included")
	flags.Duration("retry-backoff", defaults.RetryBackoff, "Initial retry backoff")
	flags.Duration("retry-backoff-max", defaults.RetryBackoffMax, "Maximum retry backoff")
	flags.Int("failure-threshold", defaults.FailureThreshold, "Consecutive failed pages that end a site")
	flags.Float64("global-rps", 0, "Requests per second shared by all sites (0 = unlimited)")
	flags.String("currency", defaults.DefaultCurrency, "Currency assumed when a price carries none")
	flags.String("user-agent", defaults.UserAgent, "User-Agent header")
	flags.Bool("respect-robots", false, "Respect robots.txt directives")

	return cmd
}

func runRunCmd(cmd *cobra.Command, _ []string) error {
	logger, level := newLogger(verboseFlag(cmd), os.Stderr)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Verbose {
		level.Set(slog.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received, waiting for in-flight sites to finish")
		case <-done:
		}
	}()

	return runScrape(ctx, cfg, runDeps{logger: logger, stdout: cmd.OutOrStdout()})
}

// buildConfig layers defaults, environment and explicitly set flags.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	var errs []error
	setString := func(name string, dst *string) {
		if flags.Changed(name) {
			v, err := flags.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if flags.Changed(name) {
			v, err := flags.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if flags.Changed(name) {
			v, err := flags.GetDuration(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	setString("catalog", &cfg.CatalogPath)
	setString("settings", &cfg.SettingsPath)
	setString("out-dir", &cfg.OutputDir)
	setString("snapshot", &cfg.SnapshotFile)
	setString("history", &cfg.HistoryFile)
	setString("history-format", &cfg.HistoryFormat)
	setString("history-db", &cfg.HistoryDB)
	setString("diagnostics-dir", &cfg.DiagnosticsDir)
	setString("summary", &cfg.SummaryFile)
	setString("metrics-addr", &cfg.MetricsAddr)
	setString("metrics-file", &cfg.MetricsFile)
	setString("currency", &cfg.DefaultCurrency)
	setString("user-agent", &cfg.UserAgent)
	setInt("concurrency", &cfg.Concurrency)
	setInt("max-attempts", &cfg.MaxAttempts)
	setInt("failure-threshold", &cfg.FailureThreshold)
	setDuration("min-delay", &cfg.MinDelay)
	setDuration("max-delay", &cfg.MaxDelay)
	setDuration("timeout", &cfg.Timeout)
	setDuration("run-timeout", &cfg.RunTimeout)
	setDuration("retry-backoff", &cfg.RetryBackoff)
	setDuration("retry-backoff-max", &cfg.RetryBackoffMax)
	if flags.Changed("global-rps") {
		v, err := flags.GetFloat64("global-rps")
		errs = append(errs, err)
		cfg.GlobalRPS = v
	}
	if flags.Changed("respect-robots") {
		v, err := flags.GetBool("respect-robots")
		errs = append(errs, err)
		cfg.RespectRobotsTxt = v
	}
	if verboseFlag(cmd) {
		cfg.Verbose = true
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("read flags: %w", err)
	}
	return cfg, nil
}

// applyEnv reads the environment overrides. The short names are the ones
// used by existing CI workflows.
func applyEnv(cfg *config.Config) error {
	for _, key := range []string{"SITES_CSV_PATH", "SCRAPER_CATALOG"} {
		if v, ok := config.EnvString(key); ok {
			cfg.CatalogPath = v
		}
	}
	for _, key := range []string{"OUT_DIR", "SCRAPER_OUT_DIR"} {
		if v, ok := config.EnvString(key); ok {
			cfg.OutputDir = v
		}
	}
	if v, ok := config.EnvString("SCRAPER_SETTINGS"); ok {
		cfg.SettingsPath = v
	}
	if v, ok := config.EnvString("SCRAPER_HISTORY_DB"); ok {
		cfg.HistoryDB = v
	}
	if v, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := config.EnvString("GITHUB_STEP_SUMMARY"); ok {
		cfg.SummaryFile = v
	}

	if v, ok, err := config.EnvInt("SCRAPER_CONCURRENCY"); err != nil {
		return err
	} else if ok {
		cfg.Concurrency = v
	}
	if v, ok, err := config.EnvInt("SCRAPER_MAX_ATTEMPTS"); err != nil {
		return err
	} else if ok {
		cfg.MaxAttempts = v
	}
	if v, ok, err := config.EnvDuration("SCRAPER_RUN_TIMEOUT"); err != nil {
		return err
	} else if ok {
		cfg.RunTimeout = v
	}
	if v, ok := config.EnvString("SCRAPER_GLOBAL_RPS"); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SCRAPER_GLOBAL_RPS: %w", err)
		}
		cfg.GlobalRPS = rps
	}
	if v, ok, err := config.EnvBool("SCRAPER_VERBOSE"); err != nil {
		return err
	} else if ok {
		cfg.Verbose = v
	}
	return nil
}

type runDeps struct {
	logger    *slog.Logger
	stdout    io.Writer
	transport http.RoundTripper
}

// runScrape executes one run. The returned error means shared
// infrastructure failed; per-site failures only show up in the summary.
func runScrape(ctx context.Context, cfg *config.Config, deps runDeps) error {
	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.stdout == nil {
		deps.stdout = io.Discard
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	settings, err := loadSettings(cfg, logger)
	if err != nil {
		return err
	}
	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	for _, invalid := range catalog.Invalid {
		logger.Warn("catalog row skipped", slog.Int("row", invalid.Row), slog.String("site_id", invalid.SiteID), slog.Any("error", invalid.Err))
	}

	registry := adapters.NewRegistry()
	if err := registerStrategies(registry, settings); err != nil {
		return err
	}

	metrics := scraper.NewMetrics()
	opts := []scraper.FetcherOption{scraper.WithMetrics(metrics), scraper.WithLogger(logger)}
	if deps.transport != nil {
		opts = append(opts, scraper.WithTransport(deps.transport))
	}
	fetcher, err := scraper.NewFetcher(cfg, opts...)
	if err != nil {
		return fmt.Errorf("initialising fetcher: %w", err)
	}
	runner := scraper.NewSiteRunner(cfg, fetcher, registry, metrics, logger)
	runner.Settings = settings

	writer, snapshot, err := pipeline.OpenOutputs(cfg.SnapshotPath(), cfg.HistoryPath(), cfg.HistoryFormat)
	if err != nil {
		return err
	}
	if loaded, skipped := snapshot.Seeded(); loaded+skipped > 0 {
		logger.Info("previous snapshot loaded", slog.Int("rows", loaded), slog.Int("unreadable_rows", skipped))
	}
	var store *pipeline.HistoryStore
	if cfg.HistoryDB != "" {
		store, err = pipeline.OpenHistoryStore(ctx, cfg.HistoryDB, time.Now())
		if err != nil {
			_ = writer.Close()
			return fmt.Errorf("open history db: %w", err)
		}
		writer.Add(pipeline.NamedWriter{Name: "history-db", Writer: store})
	}

	p, err := pipeline.NewPipeline(writer, pipeline.Options{
		Buffer:        cfg.PipelineBuffer,
		BatchSize:     cfg.BatchSize,
		DedupeMaxSize: cfg.DedupeMaxSize,
		Logger:        logger,
	})
	if err != nil {
		_ = writer.Close()
		return err
	}
	p.Start(1)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	stopMetrics := serveMetrics(cfg.MetricsAddr, metrics, logger)
	defer stopMetrics()

	logger.Info("starting scrape",
		slog.String("catalog", cfg.CatalogPath),
		slog.Int("entries", len(catalog.Entries)),
		slog.Int("concurrency", cfg.Concurrency),
		slog.String("out_dir", cfg.OutputDir),
	)

	var errs []error
	result, err := scraper.NewCoordinator(cfg, runner, logger).RunAll(ctx, catalog.Entries, p)
	if err != nil {
		errs = append(errs, fmt.Errorf("write records: %w", err))
	}
	if store != nil {
		// Detached from ctx so an interrupted run is still recorded.
		if err := store.FinishRun(context.WithoutCancel(ctx), result); err != nil {
			errs = append(errs, fmt.Errorf("record run: %w", err))
		}
	}
	if err := p.Close(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline shutdown failed: %w", err))
	} else if err := p.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("output validation failed: %w", err))
	}

	stats := p.Stats()
	logger.Info("outputs written",
		slog.String("snapshot", cfg.SnapshotPath()),
		slog.Int("snapshot_rows", snapshot.Rows()),
		slog.Int64("history_rows", stats.Processed),
		slog.Any("rejected", stats.Rejected),
	)

	if err := pipeline.WriteText(deps.stdout, result); err != nil {
		logger.Warn("printing summary failed", slog.Any("error", err))
	}
	if cfg.SummaryFile != "" {
		if err := appendSummary(cfg.SummaryFile, result); err != nil {
			logger.Warn("markdown summary failed", slog.String("path", cfg.SummaryFile), slog.Any("error", err))
		}
	}
	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("metrics textfile failed", slog.String("path", cfg.MetricsFile), slog.Any("error", err))
		}
	}

	return errors.Join(errs...)
}

func loadSettings(cfg *config.Config, logger *slog.Logger) (*config.Settings, error) {
	path := config.FindSettingsFile(cfg.SettingsPath)
	if path == "" {
		if cfg.SettingsPath != "" {
			return nil, fmt.Errorf("%w: %s", config.ErrSettingsNotFound, cfg.SettingsPath)
		}
		return nil, nil
	}
	settings, err := config.LoadSettings(path)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	logger.Info("settings loaded", slog.String("path", path), slog.Int("sites", len(settings.Sites)), slog.Int("strategies", len(settings.Strategies)))
	return settings, nil
}

// registerStrategies adds the strategies declared in the settings file.
func registerStrategies(registry *adapters.Registry, settings *config.Settings) error {
	if settings == nil {
		return nil
	}
	for _, st := range settings.Strategies {
		fields := make(map[adapters.Field]string, len(st.Fields))
		for name, selector := range st.Fields {
			fields[adapters.Field(name)] = selector
		}
		strategy := adapters.Strategy{
			Platform:  models.ParsePlatform(st.Platform),
			Name:      st.Name,
			Container: st.Container,
			Fields:    fields,
		}
		if err := registry.Register(strategy); err != nil {
			return fmt.Errorf("register strategy %s: %w", st.Name, err)
		}
	}
	return nil
}

func serveMetrics(addr string, metrics *scraper.Metrics, logger *slog.Logger) (stop func()) {
	if addr == "" {
		return func() {}
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	logger.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

// appendSummary appends so that several steps can share GITHUB_STEP_SUMMARY.
func appendSummary(path string, result *models.RunResult) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // operator-supplied path
	if err != nil {
		return err
	}
	if err := pipeline.WriteSummary(f, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
