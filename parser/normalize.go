package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/models"
	"golang.org/x/text/unicode/norm"
)

// Keyword tables for availability text. Out-of-stock phrases are checked
// first because several of them contain an in-stock phrase.
var (
	outOfStockKeywords = []string{
		"out of stock", "out-of-stock", "outofstock", "sold out", "sold-out", "soldout",
		"not in stock", "no stock", "unavailable", "not available", "no longer available", "backorder",
		"غير متوفر", "غير متاح", "نفدت", "نفد", "نفذ", "إنتهى", "انتهى",
	}
	inStockKeywords = []string{
		"in stock", "in-stock", "instock", "available", "add to cart", "add to basket", "buy now",
		"متوفر", "متاح", "أضف إلى السلة", "اضف الى السلة",
	}
)

// Normalizer turns raw records into canonical product records. It is safe for
// concurrent use.
type Normalizer struct {
	defaultCurrency string

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// NewNormalizer returns a Normalizer that falls back to defaultCurrency when a
// record carries no currency signal.
func NewNormalizer(defaultCurrency string) *Normalizer {
	return &Normalizer{
		defaultCurrency: strings.ToUpper(strings.TrimSpace(defaultCurrency)),
		patterns:        make(map[string]*regexp.Regexp),
	}
}

// Keep reports whether a raw record survives normalisation: it needs a name or a URL.
func (n *Normalizer) Keep(raw models.RawRecord) bool {
	return strings.TrimSpace(raw.RawName) != "" || strings.TrimSpace(raw.RawURL) != ""
}

// Normalize maps a raw record to a ProductRecord. It never fails: fields that
// cannot be interpreted become empty, nil or unknown and are reported as issues.
// The same input always yields the same output.
func (n *Normalizer) Normalize(raw models.RawRecord, entry models.CatalogEntry, scrapedAt time.Time) (models.ProductRecord, []models.NormalizationIssue) {
	var issues []models.NormalizationIssue
	issue := func(field, reason string) {
		issues = append(issues, models.NormalizationIssue{Field: field, Reason: reason})
	}

	record := models.ProductRecord{
		SiteID:       entry.SiteID,
		SiteName:     entry.Name(),
		ProductName:  CleanText(raw.RawName),
		SKU:          CleanText(raw.RawSKU),
		RawPriceText: CleanText(raw.RawPriceText),
		PageNumber:   raw.PageNumber,
		Strategy:     raw.StrategyUsed,
		ScrapedAt:    scrapedAt.UTC(),
	}
	if record.ProductName == "" {
		issue("product_name", "missing")
	}

	base := raw.PageURL
	if base == "" {
		base = entry.BaseURL
	}
	if raw.RawURL != "" {
		link, err := ResolveURL(base, raw.RawURL)
		if err != nil {
			issue("url", err.Error())
		}
		record.URL = link
	} else {
		issue("url", "missing")
	}
	if raw.RawImageURL != "" {
		image, err := ResolveURL(base, firstSrcsetCandidate(raw.RawImageURL))
		if err != nil {
			issue("image_url", err.Error())
		}
		record.ImageURL = image
	}

	switch minor, ok := ParsePrice(record.RawPriceText); {
	case record.RawPriceText == "":
		issue("price", "missing")
	case !ok:
		issue("price", "unparsable: "+record.RawPriceText)
	default:
		record.Price = &models.Price{Minor: minor, Currency: n.currencyFor(raw, entry, base)}
	}

	record.Availability = n.availability(raw.RawAvailability, entry.SoldOutPattern)
	if record.Availability == models.Unknown && strings.TrimSpace(raw.RawAvailability) != "" {
		issue("availability", "unrecognised: "+CleanText(raw.RawAvailability))
	}

	return record, issues
}

// currencyFor picks the first currency signal in order: the price text, the
// extracted currency field, the catalog hint, then the storefront's locale.
func (n *Normalizer) currencyFor(raw models.RawRecord, entry models.CatalogEntry, pageURL string) string {
	for _, candidate := range []string{raw.RawPriceText, raw.RawCurrency, entry.CurrencyHint} {
		if code := DetectCurrency(candidate); code != "" {
			return code
		}
	}
	for _, candidate := range []string{pageURL, entry.BaseURL} {
		if u, err := url.Parse(candidate); err == nil && strings.HasSuffix(strings.ToLower(u.Hostname()), ".eg") {
			return "EGP"
		}
	}
	return n.defaultCurrency
}

func (n *Normalizer) availability(text, soldOutPattern string) models.Availability {
	text = strings.ToLower(CleanText(text))
	if text == "" {
		return models.Unknown
	}
	if soldOutPattern != "" {
		if re := n.pattern(soldOutPattern); re != nil && re.MatchString(text) {
			return models.OutOfStock
		}
	}
	return AvailabilityFromText(text)
}

func (n *Normalizer) pattern(expr string) *regexp.Regexp {
	n.mu.Lock()
	defer n.mu.Unlock()
	if re, ok := n.patterns[expr]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		re = nil
	}
	n.patterns[expr] = re
	return re
}

// AvailabilityFromText maps availability text, CSS classes or schema.org
// availability URLs to an Availability using the keyword tables.
func AvailabilityFromText(text string) models.Availability {
	text = strings.ToLower(text)
	for _, kw := range outOfStockKeywords {
		if strings.Contains(text, kw) {
			return models.OutOfStock
		}
	}
	for _, kw := range inStockKeywords {
		if strings.Contains(text, kw) {
			return models.InStock
		}
	}
	return models.Unknown
}

// CleanText applies NFKC normalisation and collapses runs of whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// ResolveURL makes ref absolute against base. Script and mail links are rejected.
func ResolveURL(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)
	if ref == "" || ref == "#" || strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
		return "", fmt.Errorf("not a page link: %q", ref)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", ref, err)
	}
	if refURL.IsAbs() {
		return refURL.String(), nil
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return ref, fmt.Errorf("relative link %q without a usable base", ref)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// firstSrcsetCandidate keeps the first URL of a srcset-style attribute value.
func firstSrcsetCandidate(value string) string {
	value = strings.TrimSpace(value)
	if first, _, found := strings.Cut(value, ","); found && strings.ContainsAny(first, " \t") {
		value = first
	}
	if fields := strings.Fields(value); len(fields) > 0 {
		return fields[0]
	}
	return value
}

// ValidateRecord ensures a canonical record can be written to the outputs.
func ValidateRecord(r *models.ProductRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.SiteID) == "" {
		return fmt.Errorf("record missing site id")
	}
	if strings.TrimSpace(r.ProductName) == "" && strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("record for %s has neither name nor url", r.SiteID)
	}
	if r.Price != nil && r.Price.Minor < 0 {
		return fmt.Errorf("record %s has negative price", r.ProductName)
	}
	return nil
}
