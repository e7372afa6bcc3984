package adapters

import (
	"reflect"
	"testing"

	"github.com/aluiziolira/go-scrape-storefronts/models"
)

func names(strategies []Strategy) []string {
	out := make([]string, len(strategies))
	for i, s := range strategies {
		out[i] = s.Name
	}
	return out
}

func TestStrategiesFor(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		platform models.Platform
		expected []string
	}{
		{platform: models.PlatformWoo, expected: []string{"woo-loop", "woo-blocks", "woo-generic"}},
		{platform: models.PlatformShopify, expected: []string{"shopify-dawn", "shopify-classic", "shopify-generic"}},
		{platform: models.PlatformOpenCart, expected: []string{"opencart-thumb", "opencart-4", "opencart-generic"}},
		{platform: models.PlatformMagento, expected: []string{"magento2-grid", "magento1-grid", "magento-generic"}},
		{platform: models.PlatformGeneric, expected: []string{"schema-product", "generic-card"}},
		{platform: models.Platform("prestashop"), expected: []string{"schema-product", "generic-card"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.platform), func(t *testing.T) {
			got := names(r.StrategiesFor(tt.platform))
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("StrategiesFor(%s) = %v, want %v", tt.platform, got, tt.expected)
			}
		})
	}
}

func TestStrategiesForReturnsCopy(t *testing.T) {
	r := NewRegistry()
	list := r.StrategiesFor(models.PlatformWoo)
	list[0].Name = "mutated"
	if got := r.StrategiesFor(models.PlatformWoo)[0].Name; got != "woo-loop" {
		t.Fatalf("registry table mutated through returned slice: %q", got)
	}
}

func TestBuiltinStrategiesValidate(t *testing.T) {
	r := NewRegistry()
	for _, platform := range r.Platforms() {
		for _, s := range r.StrategiesFor(platform) {
			if err := s.Validate(); err != nil {
				t.Errorf("builtin strategy %s: %v", s.Name, err)
			}
		}
	}
}

func TestForEntry(t *testing.T) {
	r := NewRegistry()

	plain := models.CatalogEntry{SiteID: "a", Platform: models.PlatformOpenCart}
	if got := names(r.ForEntry(plain)); got[0] != "opencart-thumb" {
		t.Fatalf("ForEntry without overrides = %v", got)
	}

	custom := plain
	custom.Selectors = models.SelectorOverride{List: "div.card", Price: "span.price", PriceAttr: "data-price", Status: ".badge"}
	list := r.ForEntry(custom)
	if len(list) != 4 || list[0].Name != CatalogStrategyName {
		t.Fatalf("ForEntry with overrides = %v", names(list))
	}
	catalog := list[0]
	if catalog.Container != "div.card" || catalog.Selector(FieldPrice) != "span.price@data-price" {
		t.Errorf("catalog strategy = %+v", catalog)
	}
	if catalog.Selector(FieldName) == "" || catalog.Selector(FieldURL) != "a@href" {
		t.Errorf("default name/url selectors not applied: %+v", catalog.Fields)
	}
	if _, ok := catalog.Fields[FieldSKU]; ok {
		t.Errorf("empty sku selector should be omitted")
	}
	if err := catalog.Validate(); err != nil {
		t.Errorf("catalog strategy invalid: %v", err)
	}
}

func TestRegister(t *testing.T) {
	r := NewRegistry()
	extra := Strategy{
		Platform:  models.PlatformWoo,
		Name:      "woo-flatsome",
		Container: ".product-small.box",
		Fields:    map[Field]string{FieldName: ".name a", FieldURL: ".name a@href"},
	}
	if err := r.Register(extra); err != nil {
		t.Fatalf("register: %v", err)
	}
	got := names(r.StrategiesFor(models.PlatformWoo))
	want := []string{"woo-loop", "woo-blocks", "woo-flatsome", "woo-generic"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("after Register = %v, want %v", got, want)
	}

	if err := r.Register(extra); err == nil {
		t.Errorf("duplicate name should be rejected")
	}

	tests := []struct {
		name     string
		strategy Strategy
	}{
		{name: "unknown platform", strategy: Strategy{Platform: "wix", Name: "x", Container: "li", Fields: map[Field]string{FieldName: "h2"}}},
		{name: "no container", strategy: Strategy{Platform: models.PlatformWoo, Name: "x", Fields: map[Field]string{FieldName: "h2"}}},
		{name: "no name selector", strategy: Strategy{Platform: models.PlatformWoo, Name: "x", Container: "li"}},
		{name: "bad css", strategy: Strategy{Platform: models.PlatformWoo, Name: "x", Container: "li[", Fields: map[Field]string{FieldName: "h2"}}},
		{name: "bad field css", strategy: Strategy{Platform: models.PlatformWoo, Name: "x", Container: "li", Fields: map[Field]string{FieldName: "h2:nope("}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Register(tt.strategy); err == nil {
				t.Errorf("Register(%+v) should fail", tt.strategy)
			}
		})
	}
}

func TestParseSelector(t *testing.T) {
	tests := []struct {
		expr     string
		expected []Alternative
	}{
		{expr: "h2", expected: []Alternative{{CSS: "h2"}}},
		{expr: "a@href", expected: []Alternative{{CSS: "a", Attr: "href"}}},
		{expr: "@class", expected: []Alternative{{Attr: "class"}}},
		{expr: "img@data-src || img@src", expected: []Alternative{{CSS: "img", Attr: "data-src"}, {CSS: "img", Attr: "src"}}},
		{expr: "a[href*='@']", expected: []Alternative{{CSS: "a[href*='@']"}}},
		{expr: " || ", expected: []Alternative{}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if got := ParseSelector(tt.expr); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ParseSelector(%q) = %+v, want %+v", tt.expr, got, tt.expected)
			}
		})
	}
}
