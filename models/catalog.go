package models

import "strings"

// Platform identifies the e-commerce engine a storefront runs on.
type Platform string

const (
	PlatformWoo      Platform = "woo"
	PlatformShopify  Platform = "shopify"
	PlatformOpenCart Platform = "opencart"
	PlatformMagento  Platform = "magento"
	PlatformGeneric  Platform = "generic"
)

// KnownPlatforms lists every platform with its own strategy table.
var KnownPlatforms = []Platform{PlatformWoo, PlatformShopify, PlatformOpenCart, PlatformMagento, PlatformGeneric}

// ParsePlatform maps a catalog hint to a Platform. Unknown or empty hints become PlatformGeneric.
func ParsePlatform(hint string) Platform {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "woo", "woocommerce", "wordpress":
		return PlatformWoo
	case "shopify":
		return PlatformShopify
	case "opencart":
		return PlatformOpenCart
	case "magento", "magento2", "adobe commerce":
		return PlatformMagento
	default:
		return PlatformGeneric
	}
}

// SelectorOverride carries per-site selectors supplied by the catalog.
type SelectorOverride struct {
	List      string `yaml:"list"`
	Name      string `yaml:"name"`
	Price     string `yaml:"price"`
	Status    string `yaml:"status"`
	URL       string `yaml:"url"`
	Image     string `yaml:"image"`
	SKU       string `yaml:"sku"`
	PriceAttr string `yaml:"price_attribute"`
}

// Empty reports whether no container selector was supplied.
func (s SelectorOverride) Empty() bool {
	return strings.TrimSpace(s.List) == ""
}

// CatalogEntry is one validated storefront row. It is immutable during a run.
type CatalogEntry struct {
	SiteID            string
	DisplayName       string
	BaseURL           string
	Enabled           bool
	Platform          Platform
	PaginationPattern string
	MaxPages          int
	CategoryPath      string

	Selectors      SelectorOverride
	SoldOutPattern string
	CurrencyHint   string

	// Row is the 1-based data row in the catalog file, for diagnostics.
	Row int
}

// Name returns the display name, falling back to the site id.
func (e CatalogEntry) Name() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.SiteID
}
