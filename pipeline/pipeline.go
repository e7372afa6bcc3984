// Package pipeline validates, de-duplicates and writes product records.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/models"
	"github.com/aluiziolira/go-scrape-storefronts/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.ProductRecord) error
	Close() error
	Validate() error
}

// Options sizes the pipeline. Zero values fall back to defaults.
type Options struct {
	Buffer        int
	BatchSize     int
	DedupeMaxSize int
	Logger        *slog.Logger
}

// Pipeline coordinates validation, de-duplication, and output writing.
type Pipeline struct {
	writer    OutputWriter
	recordCh  chan *models.ProductRecord
	batchSize int
	logger    *slog.Logger

	wg sync.WaitGroup

	seen *lru.Cache[string, struct{}]

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once

	writerOnce sync.Once
	writerErr  error
}

// NewPipeline builds a pipeline around writer.
func NewPipeline(writer OutputWriter, opts Options) (*Pipeline, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = 512
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.DedupeMaxSize <= 0 {
		opts.DedupeMaxSize = 100000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	seen, err := lru.New[string, struct{}](opts.DedupeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	return &Pipeline{
		writer:    writer,
		recordCh:  make(chan *models.ProductRecord, opts.Buffer),
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
		seen:      seen,
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}, nil
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues records for downstream processing. It blocks while the
// buffer is full.
func (p *Pipeline) Process(records ...*models.ProductRecord) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, record := range records {
		if record == nil {
			continue
		}
		if err := p.enqueue(record); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to finish, prevents more submissions and closes
// the writer. The writer is closed even when a batch failed so that every
// output file is finalised.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})

	p.wg.Wait()

	p.writerOnce.Do(func() {
		if err := p.writer.Close(); err != nil {
			p.writerErr = fmt.Errorf("close writer: %w", err)
		}
	})
	return errors.Join(p.Err(), p.writerErr)
}

// Validate checks the finalised outputs. Call it after Close.
func (p *Pipeline) Validate() error {
	return p.writer.Validate()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Processed int64
	Rejected  map[string]int
}

// Stats returns a snapshot of the internal counters.
func (p *Pipeline) Stats() Stats {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := p.Stats()
				p.logger.Info("pipeline progress",
					slog.Int64("processed", stats.Processed),
					slog.Any("rejected", stats.Rejected),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.ProductRecord, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for record := range p.recordCh {
		prepared := p.prepare(record)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) prepare(record *models.ProductRecord) *models.ProductRecord {
	if err := parser.ValidateRecord(record); err != nil {
		p.metrics.addRejected("invalid_record")
		p.logger.Debug("record rejected", slog.String("site_id", record.SiteID), slog.Any("error", err))
		return nil
	}

	// ContainsOrAdd is atomic, so parallel workers cannot both admit a key.
	if found, _ := p.seen.ContainsOrAdd(record.Key(), struct{}{}); found {
		p.metrics.addRejected("duplicate_key")
		return nil
	}

	p.metrics.incrementProcessed()
	return record
}

func (p *Pipeline) enqueue(record *models.ProductRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.recordCh <- record:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu        sync.Mutex
	processed int64
	rejected  map[string]int
}

func newMetrics() metrics {
	return metrics{
		rejected: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addRejected(kind string) {
	m.mu.Lock()
	m.rejected[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Processed: m.processed,
		Rejected:  maps.Clone(m.rejected),
	}
}
