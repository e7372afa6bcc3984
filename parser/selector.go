package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-storefronts/adapters"
)

// selectValue evaluates a field selector against a product card and returns
// the first non-empty value among its alternatives.
func selectValue(card *goquery.Selection, expr string) string {
	if strings.TrimSpace(expr) == "" {
		return ""
	}
	for _, alt := range adapters.ParseSelector(expr) {
		node := card
		if alt.CSS != "" {
			node = card.Find(alt.CSS).First()
		}
		if node.Length() == 0 {
			continue
		}

		var value string
		if alt.Attr != "" {
			value, _ = node.Attr(alt.Attr)
		} else {
			value = node.Text()
		}
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
