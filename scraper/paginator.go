package scraper

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-storefronts/adapters"
	"github.com/aluiziolira/go-scrape-storefronts/config"
	"github.com/aluiziolira/go-scrape-storefronts/models"
	"github.com/aluiziolira/go-scrape-storefronts/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

// PageOutcome classifies one listing page.
type PageOutcome string

const (
	PageParsed      PageOutcome = "parsed"
	PageEmpty       PageOutcome = "empty"
	PageParseFailed PageOutcome = "parse_failed"
	PageRepeated    PageOutcome = "repeated"
	PageFailed      PageOutcome = "failed"
)

// StopReason says why pagination ended. It is empty on every page but the last.
type StopReason string

const (
	StopMaxPages         StopReason = "max_pages"
	StopEmptyPage        StopReason = "empty_page"
	StopFailureThreshold StopReason = "failure_threshold"
	StopRepeatedPage     StopReason = "repeated_page"
	StopNotFound         StopReason = "not_found"
	StopCancelled        StopReason = "cancelled"
	StopInvalidURL       StopReason = "invalid_url"
	StopSetupFailed      StopReason = "setup_failed"
)

// DefaultSeenCacheSize bounds the product URLs remembered for repeated-page detection.
const DefaultSeenCacheSize = 4096

// PageFetcher retrieves a page. *Fetcher implements it.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, headers http.Header) FetchResult
}

// PageResult is one step of a site's pagination.
type PageResult struct {
	Page     int
	URL      string
	Fetch    FetchResult
	Records  []models.RawRecord
	Strategy string
	Outcome  PageOutcome
	Stop     StopReason
}

// Paginator walks the listing pages of one site, fetching and parsing each in turn.
type Paginator struct {
	// SeenCacheSize bounds the product URLs remembered per walk.
	SeenCacheSize int

	fetcher   PageFetcher
	parser    *parser.Parser
	threshold int
	metrics   *Metrics
	logger    *slog.Logger
}

// NewPaginator returns a Paginator that gives up after threshold consecutive
// failed or unparsable pages.
func NewPaginator(fetcher PageFetcher, p *parser.Parser, threshold int, metrics *Metrics, logger *slog.Logger) *Paginator {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = 1
	}
	return &Paginator{
		SeenCacheSize: DefaultSeenCacheSize,
		fetcher:       fetcher,
		parser:        p,
		threshold:     threshold,
		metrics:       metrics,
		logger:        logger,
	}
}

// Pages returns the lazy sequence of pages for entry. Each range over the
// sequence starts again from page 1 and issues at most entry.MaxPages fetches.
//
// A page whose markup matches no container under any strategy is the end of
// the catalog. A page whose containers carry no names, or whose body is blank,
// counts toward the failure threshold like a failed fetch. A 404 after the
// first page, or a page listing only products already seen, also ends the walk.
func (p *Paginator) Pages(ctx context.Context, entry models.CatalogEntry, strategies []adapters.Strategy, headers http.Header) iter.Seq[PageResult] {
	return func(yield func(PageResult) bool) {
		seen, err := lru.New[string, struct{}](p.SeenCacheSize)
		if err != nil {
			res := PageResult{
				Page:    1,
				Outcome: PageFailed,
				Fetch:   FetchResult{Status: StatusNetworkError, Err: fmt.Errorf("create seen-page cache: %w", err)},
				Stop:    StopSetupFailed,
			}
			p.metrics.IncPage(res.Outcome)
			yield(res)
			return
		}
		maxPages := entry.MaxPages
		if maxPages <= 0 || entry.PaginationPattern == "" {
			maxPages = 1
		}

		failures := 0
		for page := 1; page <= maxPages; page++ {
			res := PageResult{Page: page}
			pageURL, err := BuildPageURL(entry, page)
			if err != nil {
				res.Outcome = PageFailed
				res.Fetch = FetchResult{Status: StatusNetworkError, Err: err}
				res.Stop = StopInvalidURL
				p.metrics.IncPage(res.Outcome)
				yield(res)
				return
			}
			res.URL = pageURL
			res.Fetch = p.fetcher.Fetch(ctx, pageURL, headers)

			if res.Fetch.OK() {
				failures = p.parsePage(&res, entry, strategies, seen, failures)
			} else {
				res.Outcome = PageFailed
				failures++
				switch {
				case ctx.Err() != nil:
					res.Stop = StopCancelled
				case page > 1 && res.Fetch.Code == http.StatusNotFound:
					res.Stop = StopNotFound
				case failures >= p.threshold:
					res.Stop = StopFailureThreshold
				}
			}
			if res.Stop == "" && page == maxPages {
				res.Stop = StopMaxPages
			}

			p.metrics.IncPage(res.Outcome)
			p.logger.Debug("page processed",
				slog.String("site_id", entry.SiteID),
				slog.Int("page", page),
				slog.String("url", pageURL),
				slog.String("outcome", string(res.Outcome)),
				slog.Int("records", len(res.Records)),
				slog.String("strategy", res.Strategy),
				slog.String("stop", string(res.Stop)),
			)
			if !yield(res) || res.Stop != "" {
				return
			}
		}
	}
}

// parsePage fills in the parse outcome of a fetched page and returns the new
// consecutive-failure count.
func (p *Paginator) parsePage(res *PageResult, entry models.CatalogEntry, strategies []adapters.Strategy, seen *lru.Cache[string, struct{}], failures int) int {
	parsed := p.parser.Parse(res.Fetch.Body, parser.Page{
		SiteID: entry.SiteID,
		Number: res.Page,
		URL:    res.Fetch.FinalURL,
	}, strategies)

	switch {
	case parsed.Matched():
		if res.Page > 1 && allSeen(seen, parsed.Records) {
			res.Outcome = PageRepeated
			res.Stop = StopRepeatedPage
			return 0
		}
		for _, raw := range parsed.Records {
			seen.Add(recordKey(raw), struct{}{})
		}
		res.Outcome = PageParsed
		res.Records = parsed.Records
		res.Strategy = parsed.Strategy
		return 0
	case parsed.Containers == 0 && len(bytes.TrimSpace(res.Fetch.Body)) > 0:
		res.Outcome = PageEmpty
		res.Stop = StopEmptyPage
		return failures
	default:
		res.Outcome = PageParseFailed
		failures++
		if failures >= p.threshold {
			res.Stop = StopFailureThreshold
		}
		return failures
	}
}

func recordKey(raw models.RawRecord) string {
	if raw.RawURL != "" {
		return raw.RawURL
	}
	return "name:" + raw.RawName
}

func allSeen(seen *lru.Cache[string, struct{}], records []models.RawRecord) bool {
	if len(records) == 0 {
		return false
	}
	for _, raw := range records {
		if !seen.Contains(recordKey(raw)) {
			return false
		}
	}
	return true
}

// BuildPageURL returns the listing URL for page. The listing is base_url
// joined with category_path; page 1 is the listing itself. Later pages
// substitute the number into pagination_pattern, which is either a query
// fragment ("?page={page}", "&p={page}") merged into the listing query, or a
// path resolved against the listing ("page/{page}/", "/shop/page/{page}").
func BuildPageURL(entry models.CatalogEntry, page int) (string, error) {
	listing, err := listingURL(entry)
	if err != nil {
		return "", err
	}
	if page <= 1 || entry.PaginationPattern == "" {
		return listing.String(), nil
	}

	pattern := strings.ReplaceAll(entry.PaginationPattern, config.PagePlaceholder, strconv.Itoa(page))
	if strings.HasPrefix(pattern, "?") || strings.HasPrefix(pattern, "&") {
		extra, err := url.ParseQuery(pattern[1:])
		if err != nil {
			return "", fmt.Errorf("pagination pattern %q: %w", entry.PaginationPattern, err)
		}
		query := listing.Query()
		for key, values := range extra {
			query[key] = values
		}
		listing.RawQuery = query.Encode()
		return listing.String(), nil
	}

	ref, err := url.Parse(pattern)
	if err != nil {
		return "", fmt.Errorf("pagination pattern %q: %w", entry.PaginationPattern, err)
	}
	if !ref.IsAbs() && !strings.HasPrefix(ref.Path, "/") && !strings.HasSuffix(listing.Path, "/") {
		listing.Path += "/"
	}
	next := listing.ResolveReference(ref)
	if ref.RawQuery == "" {
		next.RawQuery = listing.RawQuery
	}
	return next.String(), nil
}

func listingURL(entry models.CatalogEntry) (*url.URL, error) {
	base, err := url.Parse(entry.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("base url %q: %w", entry.BaseURL, err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("base url %q is not absolute", entry.BaseURL)
	}
	if entry.CategoryPath == "" {
		return base, nil
	}

	ref, err := url.Parse(entry.CategoryPath)
	if err != nil {
		return nil, fmt.Errorf("category path %q: %w", entry.CategoryPath, err)
	}
	if !ref.IsAbs() && !strings.HasPrefix(ref.Path, "/") && !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(ref), nil
}
