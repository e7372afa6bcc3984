package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/config"
	"github.com/aluiziolira/go-scrape-storefronts/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// SiteRun runs one catalog entry. *SiteRunner implements it.
type SiteRun interface {
	Run(ctx context.Context, entry models.CatalogEntry) models.SiteRunOutcome
}

// RecordSink receives the records of each completed site. Calls are serialised.
type RecordSink interface {
	Process(records ...*models.ProductRecord) error
}

// Coordinator runs every enabled catalog entry and aggregates the outcomes.
type Coordinator struct {
	runner      SiteRun
	concurrency int
	runTimeout  time.Duration
	logger      *slog.Logger
}

// NewCoordinator returns a Coordinator bounded by cfg.Concurrency and cfg.RunTimeout.
func NewCoordinator(cfg *config.Config, runner SiteRun, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Coordinator{
		runner:      runner,
		concurrency: concurrency,
		runTimeout:  cfg.RunTimeout,
		logger:      logger,
	}
}

// RunAll runs the enabled entries of catalog, at most Concurrency at a time,
// and returns one outcome per enabled entry in catalog order. Disabled entries
// are counted as skipped and produce no outcome. Once ctx is done no further
// site is started; sites never started get a cancelled outcome.
//
// The returned error is non-nil only when the sink rejected records. Site
// failures are reported through the outcomes.
func (c *Coordinator) RunAll(ctx context.Context, catalog []models.CatalogEntry, sink RecordSink) (*models.RunResult, error) {
	result := &models.RunResult{StartTime: time.Now()}
	if c.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.runTimeout)
		defer cancel()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "run.all")
	defer span.End()

	enabled := make([]models.CatalogEntry, 0, len(catalog))
	for _, entry := range catalog {
		if entry.Enabled {
			enabled = append(enabled, entry)
		}
	}
	result.Skipped = len(catalog) - len(enabled)
	c.logger.Info("run started",
		slog.Int("sites", len(enabled)),
		slog.Int("skipped", result.Skipped),
		slog.Int("concurrency", c.concurrency),
	)

	outcomes := make([]*models.SiteRunOutcome, len(enabled))
	var (
		sinkMu   sync.Mutex
		sinkErrs []error
	)

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for i, entry := range enabled {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcome := c.runner.Run(ctx, entry)
			outcomes[i] = &outcome

			if sink == nil || len(outcome.Records) == 0 {
				return nil
			}
			sinkMu.Lock()
			defer sinkMu.Unlock()
			if err := sink.Process(outcome.Records...); err != nil {
				sinkErrs = append(sinkErrs, fmt.Errorf("site %s: %w", entry.SiteID, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, outcome := range outcomes {
		if outcome == nil {
			outcomes[i] = &models.SiteRunOutcome{
				SiteID:     enabled[i].SiteID,
				SiteName:   enabled[i].Name(),
				State:      models.StateCancelled,
				StopReason: string(StopCancelled),
				Err:        ctx.Err(),
			}
			continue
		}
		result.Records = append(result.Records, outcome.Records...)
	}
	result.Outcomes = outcomes
	result.EndTime = time.Now()

	counts := result.CountByState()
	span.SetAttributes(
		attribute.Int("run.sites", len(outcomes)),
		attribute.Int("run.records", len(result.Records)),
	)
	c.logger.Info("run finished",
		slog.Int("records", len(result.Records)),
		slog.Int("success", counts[models.StateSuccess]),
		slog.Int("zero_result", counts[models.StateZeroResult]),
		slog.Int("error", counts[models.StateError]),
		slog.Int("cancelled", counts[models.StateCancelled]),
		slog.Duration("duration", result.Duration()),
	)
	return result, errors.Join(sinkErrs...)
}
