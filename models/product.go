// Package models defines data structures shared by the scraper stages.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Availability is the normalised stock state of a product.
type Availability string

const (
	InStock    Availability = "in_stock"
	OutOfStock Availability = "out_of_stock"
	Unknown    Availability = "unknown"
)

// Price is a decimal amount held as minor units (two decimal places).
type Price struct {
	Minor    int64  `json:"minor"`
	Currency string `json:"currency"`
}

// Amount returns the price as a float for display and arithmetic.
func (p Price) Amount() float64 {
	return float64(p.Minor) / 100
}

// Decimal renders the amount with exactly two decimals, e.g. "1250.00".
func (p Price) Decimal() string {
	sign := ""
	minor := p.Minor
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

func (p Price) String() string {
	if p.Currency == "" {
		return p.Decimal()
	}
	return p.Currency + " " + p.Decimal()
}

// RawRecord is one product card as extracted from a listing page, before normalisation.
type RawRecord struct {
	SiteID          string
	RawName         string
	RawPriceText    string
	RawCurrency     string
	RawURL          string
	RawImageURL     string
	RawAvailability string
	RawSKU          string
	PageNumber      int
	PageURL         string
	StrategyUsed    string
}

// ProductRecord is the canonical record written to the snapshot and history outputs.
type ProductRecord struct {
	SiteID       string       `csv:"site_id" json:"site_id"`
	SiteName     string       `csv:"site_name" json:"site_name"`
	ProductName  string       `csv:"product_name" json:"product_name"`
	SKU          string       `csv:"sku" json:"sku,omitempty"`
	Price        *Price       `csv:"price" json:"price"`
	URL          string       `csv:"url" json:"url"`
	ImageURL     string       `csv:"image_url" json:"image_url,omitempty"`
	Availability Availability `csv:"availability" json:"availability"`
	RawPriceText string       `csv:"raw_price_text" json:"raw_price_text,omitempty"`
	PageNumber   int          `csv:"page" json:"page"`
	Strategy     string       `csv:"strategy" json:"strategy"`
	ScrapedAt    time.Time    `csv:"scraped_at" json:"scraped_at"`
}

// Key identifies a product within the snapshot. Records without a URL fall back to their name.
func (r *ProductRecord) Key() string {
	if r.URL != "" {
		return r.SiteID + "|" + r.URL
	}
	return r.SiteID + "|name:" + r.ProductName
}

// CSVHeader is the column order shared by the snapshot and history tables.
var CSVHeader = []string{
	"site_id", "site_name", "product_name", "sku", "price", "currency",
	"availability", "url", "image_url", "raw_price_text", "page", "strategy", "scraped_at",
}

// CSVRow renders the record in CSVHeader order. A missing price leaves price and currency empty.
func (r *ProductRecord) CSVRow() []string {
	price, currency := "", ""
	if r.Price != nil {
		price = r.Price.Decimal()
		currency = r.Price.Currency
	}
	return []string{
		r.SiteID,
		r.SiteName,
		r.ProductName,
		r.SKU,
		price,
		currency,
		string(r.Availability),
		r.URL,
		r.ImageURL,
		r.RawPriceText,
		strconv.Itoa(r.PageNumber),
		r.Strategy,
		r.ScrapedAt.UTC().Format(time.RFC3339),
	}
}

// RecordFromCSV rebuilds a record from a snapshot or history row. columns maps
// CSVHeader names to their position in row; unknown or missing columns stay empty.
func RecordFromCSV(columns map[string]int, row []string) (*ProductRecord, error) {
	get := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	record := &ProductRecord{
		SiteID:       get("site_id"),
		SiteName:     get("site_name"),
		ProductName:  get("product_name"),
		SKU:          get("sku"),
		URL:          get("url"),
		ImageURL:     get("image_url"),
		Availability: Availability(get("availability")),
		RawPriceText: get("raw_price_text"),
		Strategy:     get("strategy"),
	}
	if record.SiteID == "" {
		return nil, fmt.Errorf("missing site_id")
	}
	if record.Availability == "" {
		record.Availability = Unknown
	}

	if raw := get("price"); raw != "" {
		minor, err := parseMinor(raw)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", raw, err)
		}
		record.Price = &Price{Minor: minor, Currency: get("currency")}
	}
	if raw := get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("page %q: %w", raw, err)
		}
		record.PageNumber = page
	}
	if raw := get("scraped_at"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("scraped_at %q: %w", raw, err)
		}
		record.ScrapedAt = ts
	}
	return record, nil
}

// parseMinor reads the output of Price.Decimal back into minor units.
func parseMinor(s string) (int64, error) {
	negative := strings.HasPrefix(s, "-")
	whole, frac, _ := strings.Cut(strings.TrimPrefix(s, "-"), ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("more than two decimals")
	}
	frac = (frac + "00")[:2]
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	minor := units*100 + cents
	if negative {
		minor = -minor
	}
	return minor, nil
}

// NormalizationIssue records a field that was downgraded to null or unknown.
type NormalizationIssue struct {
	Field  string
	Reason string
}

func (i NormalizationIssue) String() string {
	return i.Field + ": " + i.Reason
}
