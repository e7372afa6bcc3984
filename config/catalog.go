package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-storefronts/adapters"
	"github.com/aluiziolira/go-scrape-storefronts/models"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// PagePlaceholder is substituted with the page number in pagination patterns.
const PagePlaceholder = "{page}"

// ErrCatalogNotFound is returned when the catalog file does not exist.
var ErrCatalogNotFound = errors.New("catalog file not found")

// columnAliases maps accepted header spellings to canonical column names.
// The short names come from catalogs written for the older single-page scraper.
var columnAliases = map[string]string{
	"site_id":              "site_id",
	"id":                   "site_id",
	"display_name":         "display_name",
	"site_name":            "display_name",
	"name":                 "display_name",
	"base_url":             "base_url",
	"url":                  "base_url",
	"enabled":              "enabled",
	"platform_hint":        "platform_hint",
	"platform":             "platform_hint",
	"pagination_pattern":   "pagination_pattern",
	"max_pages":            "max_pages",
	"category_path":        "category_path",
	"listing_path":         "category_path",
	"list_selector":        "list_selector",
	"name_selector":        "name_selector",
	"price_selector":       "price_selector",
	"status_selector":      "status_selector",
	"url_selector":         "url_selector",
	"product_url_selector": "url_selector",
	"image_selector":       "image_selector",
	"sku_selector":         "sku_selector",
	"price_attribute":      "price_attribute",
	"soldout_pattern":      "soldout_pattern",
	"status_soldout_text":  "soldout_pattern",
	"currency_hint":        "currency_hint",
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// RowError describes a catalog row rejected at load time.
type RowError struct {
	Row    int
	SiteID string
	Err    error
}

func (e RowError) Error() string {
	if e.SiteID != "" {
		return fmt.Sprintf("catalog row %d (%s): %v", e.Row, e.SiteID, e.Err)
	}
	return fmt.Sprintf("catalog row %d: %v", e.Row, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// Catalog is the validated list of storefronts for a run, in file order.
type Catalog struct {
	Entries []models.CatalogEntry
	Invalid []RowError
}

// Enabled returns the entries that should be fetched, preserving order.
func (c *Catalog) Enabled() []models.CatalogEntry {
	out := make([]models.CatalogEntry, 0, len(c.Entries))
	for _, e := range c.Entries {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// LoadCatalog reads and validates a catalog CSV file.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, path)
		}
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// ParseCatalog reads catalog rows from r. Rows that fail validation are
// collected in Catalog.Invalid rather than failing the whole load.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("catalog is empty")
		}
		return nil, fmt.Errorf("read catalog header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		key := strings.ToLower(strings.TrimSpace(col))
		if canonical, ok := columnAliases[key]; ok {
			if _, dup := index[canonical]; !dup {
				index[canonical] = i
			}
		}
	}
	if _, ok := index["base_url"]; !ok {
		return nil, fmt.Errorf("catalog header missing base_url column")
	}

	catalog := &Catalog{}
	seen := make(map[string]int)
	row := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			catalog.Invalid = append(catalog.Invalid, RowError{Row: row, Err: err})
			continue
		}
		if blankRecord(record) {
			continue
		}

		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		entry, err := buildEntry(get)
		entry.Row = row
		if err != nil {
			catalog.Invalid = append(catalog.Invalid, RowError{Row: row, SiteID: entry.SiteID, Err: err})
			continue
		}
		if first, dup := seen[entry.SiteID]; dup {
			catalog.Invalid = append(catalog.Invalid, RowError{Row: row, SiteID: entry.SiteID, Err: fmt.Errorf("duplicate site_id (first seen on row %d)", first)})
			continue
		}
		seen[entry.SiteID] = row
		catalog.Entries = append(catalog.Entries, entry)
	}

	return catalog, nil
}

func buildEntry(get func(string) string) (models.CatalogEntry, error) {
	entry := models.CatalogEntry{
		SiteID:            get("site_id"),
		DisplayName:       get("display_name"),
		BaseURL:           get("base_url"),
		Enabled:           true,
		Platform:          models.ParsePlatform(get("platform_hint")),
		PaginationPattern: get("pagination_pattern"),
		MaxPages:          1,
		CategoryPath:      get("category_path"),
		Selectors: models.SelectorOverride{
			List:      get("list_selector"),
			Name:      get("name_selector"),
			Price:     get("price_selector"),
			Status:    get("status_selector"),
			URL:       get("url_selector"),
			Image:     get("image_selector"),
			SKU:       get("sku_selector"),
			PriceAttr: get("price_attribute"),
		},
		SoldOutPattern: get("soldout_pattern"),
		CurrencyHint:   strings.ToUpper(get("currency_hint")),
	}

	if entry.SiteID == "" {
		entry.SiteID = strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(entry.DisplayName), "_"), "_")
	}
	if entry.SiteID == "" {
		return entry, fmt.Errorf("site_id is required")
	}

	if raw := get("enabled"); raw != "" {
		enabled, err := ParseBool(raw)
		if err != nil {
			return entry, fmt.Errorf("enabled: %w", err)
		}
		entry.Enabled = enabled
	}

	if raw := get("max_pages"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return entry, fmt.Errorf("max_pages: %w", err)
		}
		if n <= 0 {
			return entry, fmt.Errorf("max_pages must be positive, got %d", n)
		}
		entry.MaxPages = n
	}

	if err := validateBaseURL(entry.BaseURL); err != nil {
		return entry, err
	}
	if entry.PaginationPattern != "" && !strings.Contains(entry.PaginationPattern, PagePlaceholder) {
		return entry, fmt.Errorf("pagination_pattern %q lacks the %s placeholder", entry.PaginationPattern, PagePlaceholder)
	}
	if entry.SoldOutPattern != "" {
		if _, err := regexp.Compile("(?i)" + entry.SoldOutPattern); err != nil {
			return entry, fmt.Errorf("soldout_pattern: %w", err)
		}
	}
	if !entry.Selectors.Empty() {
		if err := adapters.CatalogStrategy(entry).Validate(); err != nil {
			return entry, fmt.Errorf("catalog selectors: %w", err)
		}
	}
	return entry, nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("base_url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("base_url must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("base_url must include a host")
	}
	return nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
