package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/models"
	_ "modernc.org/sqlite" // SQLite driver
)

const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	records INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	site_id TEXT NOT NULL,
	site_name TEXT NOT NULL,
	product_name TEXT NOT NULL,
	sku TEXT,
	price_minor INTEGER,
	currency TEXT,
	availability TEXT NOT NULL,
	url TEXT,
	image_url TEXT,
	raw_price_text TEXT,
	page INTEGER NOT NULL,
	strategy TEXT,
	scraped_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_key ON products(site_id, url);
CREATE INDEX IF NOT EXISTS idx_products_run ON products(run_id);

CREATE TABLE IF NOT EXISTS site_runs (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	site_id TEXT NOT NULL,
	state TEXT NOT NULL,
	records INTEGER NOT NULL,
	pages INTEGER NOT NULL,
	stop_reason TEXT,
	error TEXT,
	diagnostic TEXT,
	duration_ms INTEGER NOT NULL,
	PRIMARY KEY (run_id, site_id)
);
`

// HistoryStore appends every run to a SQLite database: one runs row, the
// products it wrote and the per-site outcomes.
type HistoryStore struct {
	db    *sql.DB
	path  string
	runID int64
	mu    sync.Mutex
}

// OpenHistoryStore opens or creates the database at path and starts a run.
func OpenHistoryStore(ctx context.Context, path string, started time.Time) (*HistoryStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history tables: %w", err)
	}

	res, err := db.ExecContext(ctx, `INSERT INTO runs (started_at) VALUES (?)`, started.UTC().Format(time.RFC3339Nano))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read run id: %w", err)
	}

	return &HistoryStore{db: db, path: path, runID: runID}, nil
}

// RunID is the id of the run opened by OpenHistoryStore.
func (s *HistoryStore) RunID() int64 {
	return s.runID
}

// Write inserts records in one transaction.
func (s *HistoryStore) Write(records []*models.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO products
		(run_id, site_id, site_name, product_name, sku, price_minor, currency, availability,
		 url, image_url, raw_price_text, page, strategy, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		var minor sql.NullInt64
		var currency sql.NullString
		if r.Price != nil {
			minor = sql.NullInt64{Int64: r.Price.Minor, Valid: true}
			currency = sql.NullString{String: r.Price.Currency, Valid: r.Price.Currency != ""}
		}
		if _, err := stmt.ExecContext(ctx,
			s.runID, r.SiteID, r.SiteName, r.ProductName, r.SKU, minor, currency, string(r.Availability),
			r.URL, r.ImageURL, r.RawPriceText, r.PageNumber, r.Strategy, r.ScrapedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert product %s: %w", r.Key(), err)
		}
	}
	return tx.Commit()
}

// FinishRun stores the per-site outcomes and closes the run row.
func (s *HistoryStore) FinishRun(ctx context.Context, result *models.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finish: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, o := range result.Outcomes {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO site_runs
			(run_id, site_id, state, records, pages, stop_reason, error, diagnostic, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.runID, o.SiteID, string(o.State), len(o.Records), o.PagesFetched,
			o.StopReason, o.ErrorText(), o.DiagnosticPath, o.Duration.Milliseconds(),
		); err != nil {
			return fmt.Errorf("insert site run %s: %w", o.SiteID, err)
		}
	}

	finished := result.EndTime
	if finished.IsZero() {
		finished = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET finished_at = ?, records = ?, skipped = ? WHERE id = ?`,
		finished.UTC().Format(time.RFC3339Nano), len(result.Records), result.Skipped, s.runID,
	); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return tx.Commit()
}

// CountProducts returns how many products the current run stored.
func (s *HistoryStore) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE run_id = ?`, s.runID).Scan(&n)
	return n, err
}

// Close closes the database connection.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// Validate checks that the database file exists.
func (s *HistoryStore) Validate() error {
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("stat history db: %w", err)
	}
	return nil
}
