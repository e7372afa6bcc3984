package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/adapters"
	"github.com/aluiziolira/go-scrape-storefronts/config"
	"github.com/aluiziolira/go-scrape-storefronts/models"
	"github.com/aluiziolira/go-scrape-storefronts/parser"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/aluiziolira/go-scrape-storefronts/scraper"

// SiteRunner scrapes one catalog entry end to end. Optional fields may be
// left nil.
type SiteRunner struct {
	Registry    *adapters.Registry
	Paginator   *Paginator
	Normalizer  *parser.Normalizer
	Diagnostics Diagnostics
	Settings    *config.Settings
	Metrics     *Metrics
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewSiteRunner wires a runner from cfg around fetcher. Diagnostics go to
// cfg.DiagnosticsPath().
func NewSiteRunner(cfg *config.Config, fetcher PageFetcher, registry *adapters.Registry, metrics *Metrics, logger *slog.Logger) *SiteRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &SiteRunner{
		Registry:    registry,
		Paginator:   NewPaginator(fetcher, parser.New(logger), cfg.FailureThreshold, metrics, logger),
		Normalizer:  parser.NewNormalizer(cfg.DefaultCurrency),
		Diagnostics: FileDiagnostics{Dir: cfg.DiagnosticsPath()},
		Metrics:     metrics,
		Logger:      logger,
		Now:         time.Now,
	}
}

// Run paginates, parses and normalises one site. It never panics and never
// returns an error directly: every failure ends up in the outcome.
func (r *SiteRunner) Run(ctx context.Context, entry models.CatalogEntry) (outcome models.SiteRunOutcome) {
	start := time.Now()
	outcome = models.SiteRunOutcome{SiteID: entry.SiteID, SiteName: entry.Name()}
	logger := r.logger().With(slog.String("site_id", entry.SiteID))

	ctx, span := otel.Tracer(tracerName).Start(ctx, "site.run", trace.WithAttributes(
		attribute.String("site.id", entry.SiteID),
		attribute.String("site.platform", string(entry.Platform)),
	))
	defer span.End()

	var firstBody []byte
	defer func() {
		if rec := recover(); rec != nil {
			outcome.Records = nil
			outcome.State = models.StateError
			outcome.Err = ErrSiteFatal{SiteID: entry.SiteID, Err: fmt.Errorf("panic: %v", rec)}
			logger.Error("site run panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			r.saveDiagnostic(logger, &outcome, entry.SiteID, firstBody)
		}
		outcome.Duration = time.Since(start)

		span.SetAttributes(
			attribute.String("site.state", string(outcome.State)),
			attribute.Int("site.records", len(outcome.Records)),
			attribute.Int("site.pages", outcome.PagesFetched),
		)
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
			span.SetStatus(codes.Error, outcome.Err.Error())
			r.Metrics.IncError(errorTypeLabel(outcome.Err))
		}
		r.Metrics.ObserveSite(string(outcome.State), outcome.Duration)
		r.Metrics.AddItems(entry.SiteID, len(outcome.Records))
		logOutcome(logger, &outcome)
	}()

	if !entry.Enabled {
		outcome.State = models.StateSkipped
		return outcome
	}

	entry, headers := r.applySettings(entry)
	strategies := r.Registry.ForEntry(entry)
	scrapedAt := r.now().UTC()

	var (
		firstFound bool
		answered   int
		lastErr    error
	)
	for page := range r.Paginator.Pages(ctx, entry, strategies, headers) {
		if page.Fetch.Attempts > 0 {
			outcome.PagesFetched++
		}
		if !firstFound && page.Fetch.Code > 0 {
			firstBody, firstFound = page.Fetch.Body, true
		}
		if page.Outcome == PageFailed {
			outcome.PagesFailed++
			lastErr = page.Fetch.Err
		} else {
			answered++
		}
		if outcome.Strategy == "" {
			outcome.Strategy = page.Strategy
		}
		if page.Stop != "" {
			outcome.StopReason = string(page.Stop)
		}

		for _, raw := range page.Records {
			if !r.Normalizer.Keep(raw) {
				outcome.Dropped++
				continue
			}
			record, issues := r.Normalizer.Normalize(raw, entry, scrapedAt)
			outcome.Issues += len(issues)
			for _, issue := range issues {
				logger.Debug("normalisation issue",
					slog.Int("page", raw.PageNumber),
					slog.String("field", issue.Field),
					slog.String("reason", issue.Reason),
				)
			}
			outcome.Records = append(outcome.Records, &record)
		}
	}

	switch {
	case len(outcome.Records) > 0:
		outcome.State = models.StateSuccess
		return outcome
	case outcome.StopReason == string(StopCancelled) || ctx.Err() != nil:
		outcome.State = models.StateCancelled
		outcome.Err = ctx.Err()
		return outcome
	case answered == 0 && outcome.PagesFailed > 0:
		outcome.State = models.StateError
		outcome.Err = lastErr
	default:
		outcome.State = models.StateZeroResult
		if outcome.Strategy == "" {
			outcome.Err = ErrNoStrategy{SiteID: entry.SiteID, Pages: outcome.PagesFetched}
		}
	}

	r.saveDiagnostic(logger, &outcome, entry.SiteID, firstBody)
	return outcome
}

// saveDiagnostic captures the first fetched page of a site that ended without
// records, or a marker naming the failure when no page was fetched.
func (r *SiteRunner) saveDiagnostic(logger *slog.Logger, outcome *models.SiteRunOutcome, siteID string, body []byte) {
	if r.Diagnostics == nil {
		return
	}
	content := body
	if len(content) == 0 {
		content = noPageMarker(siteID, outcome.Err)
	}
	path, err := r.Diagnostics.Save(siteID, content)
	if err != nil {
		logger.Warn("diagnostic capture failed", slog.Any("error", err))
		return
	}
	outcome.DiagnosticSaved = true
	outcome.DiagnosticPath = path
	r.Metrics.IncDiagnostics()
}

// applySettings merges the settings file into the entry and builds request headers.
func (r *SiteRunner) applySettings(entry models.CatalogEntry) (models.CatalogEntry, http.Header) {
	site := r.Settings.ForSite(entry.SiteID)
	if entry.CurrencyHint == "" && site.Currency != "" {
		entry.CurrencyHint = site.Currency
	}
	if site.MaxPages > 0 {
		entry.MaxPages = site.MaxPages
	}

	headers := make(http.Header, len(site.Headers)+1)
	for key, value := range site.Headers {
		headers.Set(key, value)
	}
	if site.Cookie != "" {
		headers.Set("Cookie", site.Cookie)
	}
	return entry, headers
}

func (r *SiteRunner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *SiteRunner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func logOutcome(logger *slog.Logger, o *models.SiteRunOutcome) {
	attrs := []any{
		slog.String("state", string(o.State)),
		slog.Int("records", len(o.Records)),
		slog.Int("pages", o.PagesFetched),
		slog.String("stop", o.StopReason),
		slog.String("strategy", o.Strategy),
		slog.Duration("duration", o.Duration),
	}
	if o.Err != nil {
		attrs = append(attrs, slog.Any("error", o.Err))
	}
	if o.DiagnosticSaved {
		attrs = append(attrs, slog.String("diagnostic", o.DiagnosticPath))
	}

	switch o.State {
	case models.StateSuccess, models.StateSkipped:
		logger.Info("site finished", attrs...)
	default:
		logger.Warn("site finished", attrs...)
	}
}
