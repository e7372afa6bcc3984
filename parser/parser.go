// Package parser extracts product cards from listing pages and normalises
// them into canonical records.
package parser

import (
	"bytes"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-storefronts/adapters"
	"github.com/aluiziolira/go-scrape-storefronts/models"
)

// ParseResult is the outcome of trying a strategy list against one page.
// Strategy is empty when no strategy produced a named product.
type ParseResult struct {
	Records    []models.RawRecord
	Strategy   string
	Containers int
}

// Matched reports whether a strategy succeeded.
func (r ParseResult) Matched() bool {
	return r.Strategy != ""
}

// Parser applies selector strategies to listing page HTML.
type Parser struct {
	logger *slog.Logger
}

// New returns a Parser. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse tries each strategy in order and returns the records of the first one
// that finds at least one container with a non-empty name. Results from
// different strategies are never merged. Containers counts the cards matched
// by any strategy, so callers can tell a page with no product markup from one
// whose markup did not yield names.
func (p *Parser) Parse(html []byte, page Page, strategies []adapters.Strategy) ParseResult {
	var result ParseResult
	if len(bytes.TrimSpace(html)) == 0 {
		return result
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		p.logger.Debug("unreadable page", slog.String("url", page.URL), slog.Any("error", err))
		return result
	}

	for _, strategy := range strategies {
		containers := doc.Find(strategy.Container)
		if containers.Length() == 0 {
			continue
		}
		result.Containers += containers.Length()

		records := make([]models.RawRecord, 0, containers.Length())
		named := 0
		containers.Each(func(_ int, card *goquery.Selection) {
			raw := extract(card, strategy)
			raw.SiteID = page.SiteID
			raw.PageNumber = page.Number
			raw.PageURL = page.URL
			raw.StrategyUsed = strategy.Name
			if strings.TrimSpace(raw.RawName) != "" {
				named++
			}
			records = append(records, raw)
		})

		if named == 0 {
			p.logger.Debug("strategy matched containers without names",
				slog.String("site_id", page.SiteID),
				slog.String("strategy", strategy.Name),
				slog.Int("containers", containers.Length()),
			)
			continue
		}

		result.Records = records
		result.Strategy = strategy.Name
		return result
	}

	return result
}

// Page identifies the listing page being parsed.
type Page struct {
	SiteID string
	Number int
	URL    string
}

func extract(card *goquery.Selection, s adapters.Strategy) models.RawRecord {
	return models.RawRecord{
		RawName:         selectValue(card, s.Selector(adapters.FieldName)),
		RawPriceText:    selectValue(card, s.Selector(adapters.FieldPrice)),
		RawCurrency:     selectValue(card, s.Selector(adapters.FieldCurrency)),
		RawURL:          selectValue(card, s.Selector(adapters.FieldURL)),
		RawImageURL:     selectValue(card, s.Selector(adapters.FieldImage)),
		RawAvailability: selectValue(card, s.Selector(adapters.FieldAvailability)),
		RawSKU:          selectValue(card, s.Selector(adapters.FieldSKU)),
	}
}
