package adapters

import "github.com/aluiziolira/go-scrape-storefronts/models"

// Built-in strategy tables. Order matters: the most specific markup comes
// first so that a theme-level match wins over a loose one.
var builtinTables = map[models.Platform][]Strategy{
	models.PlatformWoo: {
		{
			Platform:  models.PlatformWoo,
			Name:      "woo-loop",
			Container: "ul.products li.product",
			Fields: map[Field]string{
				FieldName:         ".woocommerce-loop-product__title || h2 || h3",
				FieldPrice:        ".price ins .woocommerce-Price-amount || .price .woocommerce-Price-amount || .price",
				FieldURL:          "a.woocommerce-LoopProduct-link@href || a.woocommerce-loop-product__link@href || a@href",
				FieldImage:        "img@data-src || img@src",
				FieldAvailability: ".stock || .out-of-stock || @class",
				FieldSKU:          "[data-product_sku]@data-product_sku",
			},
		},
		{
			Platform:  models.PlatformWoo,
			Name:      "woo-blocks",
			Container: "li.wc-block-grid__product, li.wc-block-product",
			Fields: map[Field]string{
				FieldName:         ".wc-block-grid__product-title || .wc-block-components-product-name || h3",
				FieldPrice:        ".wc-block-grid__product-price ins .amount || .wc-block-grid__product-price .amount || .wc-block-components-product-price",
				FieldURL:          "a.wc-block-grid__product-link@href || a@href",
				FieldImage:        "img@src",
				FieldAvailability: ".wc-block-components-product-stock-indicator || .stock",
				FieldSKU:          "[data-product_sku]@data-product_sku",
			},
		},
	},
	models.PlatformShopify: {
		{
			Platform:  models.PlatformShopify,
			Name:      "shopify-dawn",
			Container: "#product-grid li.grid__item, ul.product-grid li.grid__item",
			Fields: map[Field]string{
				FieldName:         ".card__heading a || .card__heading || .card-information__text",
				FieldPrice:        ".price-item--sale || .price-item--regular || .price__regular",
				FieldURL:          ".card__heading a@href || a.full-unstyled-link@href || a@href",
				FieldImage:        ".card__media img@src || img@src",
				FieldAvailability: ".card__badge .badge || .badge",
			},
		},
		{
			Platform:  models.PlatformShopify,
			Name:      "shopify-classic",
			Container: ".grid-product, .product-card, .product-item, .grid-view-item",
			Fields: map[Field]string{
				FieldName:         ".grid-product__title || .product-card__title || .product-item__title || .grid-view-item__title",
				FieldPrice:        ".grid-product__price--current || .product-card__price || .product-item__price || .price",
				FieldURL:          "a.grid-product__link@href || a.product-card__link@href || a@href",
				FieldImage:        "img@data-src || img@src",
				FieldAvailability: ".grid-product__tag--sold-out || .product-card__availability || .sold-out || .badge",
			},
		},
	},
	models.PlatformOpenCart: {
		{
			Platform:  models.PlatformOpenCart,
			Name:      "opencart-thumb",
			Container: ".product-layout .product-thumb",
			Fields: map[Field]string{
				FieldName:         ".caption h4 a || .caption .name a || .caption h4",
				FieldPrice:        ".price .price-new || .price-new || .price",
				FieldURL:          ".image a@href || .caption h4 a@href || a@href",
				FieldImage:        ".image img@src || img@src",
				FieldAvailability: ".stock || .availability",
			},
		},
		{
			Platform:  models.PlatformOpenCart,
			Name:      "opencart-4",
			Container: "#product-list .product-thumb, .product-grid .product-thumb",
			Fields: map[Field]string{
				FieldName:         ".description h4 a || .content h4 a || h4",
				FieldPrice:        ".price .price-new || .price",
				FieldURL:          ".image a@href || h4 a@href || a@href",
				FieldImage:        "img@src",
				FieldAvailability: ".stock",
			},
		},
	},
	models.PlatformMagento: {
		{
			Platform:  models.PlatformMagento,
			Name:      "magento2-grid",
			Container: "li.product-item, li.item.product",
			Fields: map[Field]string{
				FieldName:         "a.product-item-link || .product-item-name",
				FieldPrice:        "[data-price-type=finalPrice] .price || .price-final_price .price || .price",
				FieldURL:          "a.product-item-link@href || a.product-item-photo@href || a@href",
				FieldImage:        "img.product-image-photo@src || img@src",
				FieldAvailability: ".stock || .unavailable || .available",
				FieldSKU:          "[data-product-sku]@data-product-sku || form[data-product-sku]@data-product-sku",
			},
		},
		{
			Platform:  models.PlatformMagento,
			Name:      "magento1-grid",
			Container: "ul.products-grid li.item, ol.products-list li.item",
			Fields: map[Field]string{
				FieldName:         ".product-name a || .product-name",
				FieldPrice:        ".price-box .special-price .price || .price-box .regular-price .price || .price-box .price",
				FieldURL:          ".product-name a@href || a.product-image@href || a@href",
				FieldImage:        "a.product-image img@src || img@src",
				FieldAvailability: ".availability span || .out-of-stock || .availability",
			},
		},
	},
	models.PlatformGeneric: {
		{
			Platform:  models.PlatformGeneric,
			Name:      "schema-product",
			Container: "[itemtype*='schema.org/Product']",
			Fields: map[Field]string{
				FieldName:         "[itemprop=name]@content || [itemprop=name]",
				FieldPrice:        "[itemprop=price]@content || [itemprop=price] || [itemprop=lowPrice]@content",
				FieldCurrency:     "[itemprop=priceCurrency]@content",
				FieldURL:          "a[itemprop=url]@href || [itemprop=url]@content || a@href",
				FieldImage:        "[itemprop=image]@src || [itemprop=image]@content || img@src",
				FieldAvailability: "[itemprop=availability]@href || [itemprop=availability]@content || [itemprop=availability]",
				FieldSKU:          "[itemprop=sku]@content || [itemprop=sku]",
			},
		},
	},
}

// Family fallbacks close every platform list. The generic one is also the
// universal fallback used for unrecognised platforms.
var builtinFallbacks = map[models.Platform]Strategy{
	models.PlatformWoo: {
		Platform:  models.PlatformWoo,
		Name:      "woo-generic",
		Container: ".product, .type-product",
		Fields: map[Field]string{
			FieldName:         "[class*=title] || h2 || h3 || a",
			FieldPrice:        ".price ins .amount || .amount || .price",
			FieldURL:          "a@href",
			FieldImage:        "img@data-src || img@src",
			FieldAvailability: ".stock || @class",
			FieldSKU:          "[data-product_sku]@data-product_sku",
		},
	},
	models.PlatformShopify: {
		Platform:  models.PlatformShopify,
		Name:      "shopify-generic",
		Container: "[class*=product-card], [class*=product-item], [class*=grid-product]",
		Fields: map[Field]string{
			FieldName:         "[class*=title] || [class*=name] || h3 || a",
			FieldPrice:        "[class*=price]",
			FieldURL:          "a[href*='/products/']@href || a@href",
			FieldImage:        "img@data-src || img@src",
			FieldAvailability: "[class*=sold] || [class*=badge]",
		},
	},
	models.PlatformOpenCart: {
		Platform:  models.PlatformOpenCart,
		Name:      "opencart-generic",
		Container: ".product-thumb, .product-layout",
		Fields: map[Field]string{
			FieldName:         "h4 || .name || a",
			FieldPrice:        ".price-new || .price",
			FieldURL:          "a@href",
			FieldImage:        "img@src",
			FieldAvailability: ".stock",
		},
	},
	models.PlatformMagento: {
		Platform:  models.PlatformMagento,
		Name:      "magento-generic",
		Container: ".product-item, .item.product, .products-grid .item",
		Fields: map[Field]string{
			FieldName:         ".product-item-link || .product-name || a",
			FieldPrice:        ".price",
			FieldURL:          "a@href",
			FieldImage:        "img@src",
			FieldAvailability: ".stock || .availability",
		},
	},
	models.PlatformGeneric: {
		Platform:  models.PlatformGeneric,
		Name:      "generic-card",
		Container: "[class*=product-card], [class*=product-item], .product, article.product, li.product",
		Fields: map[Field]string{
			FieldName:         "[class*=title] || [class*=name] || h2 || h3 || a",
			FieldPrice:        "[class*=price]",
			FieldURL:          "a@href",
			FieldImage:        "img@data-src || img@src",
			FieldAvailability: "[class*=stock] || [class*=availability] || [class*=sold]",
			FieldSKU:          "[class*=sku]",
		},
	},
}
