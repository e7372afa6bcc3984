// Package adapters maps storefront platforms to ordered selector strategies.
//
// The registry is pure lookup: strategies are static tables and adding a
// platform or a markup variant means appending a Strategy, never touching
// the parser.
package adapters

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-storefronts/models"
)

// Field names a value extracted from a product container.
type Field string

const (
	FieldName         Field = "name"
	FieldPrice        Field = "price"
	FieldCurrency     Field = "currency"
	FieldURL          Field = "url"
	FieldImage        Field = "image"
	FieldAvailability Field = "availability"
	FieldSKU          Field = "sku"
)

// CatalogStrategyName is the name given to strategies built from catalog selector overrides.
const CatalogStrategyName = "catalog"

// Strategy locates product containers and their fields on a listing page.
//
// Field selectors use the form "css", "css@attr" or "@attr" (attribute of the
// container itself). Several alternatives may be joined with "||"; the first
// one producing a non-empty value wins.
type Strategy struct {
	Platform  models.Platform
	Name      string
	Container string
	Fields    map[Field]string
}

// Selector returns the field selector, or an empty string.
func (s Strategy) Selector(f Field) string {
	return s.Fields[f]
}

// Validate reports structural problems that would make the strategy unusable.
func (s Strategy) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("strategy name cannot be empty")
	}
	if strings.TrimSpace(s.Container) == "" {
		return fmt.Errorf("strategy %s: container selector cannot be empty", s.Name)
	}
	if strings.TrimSpace(s.Fields[FieldName]) == "" {
		return fmt.Errorf("strategy %s: name selector cannot be empty", s.Name)
	}
	return compileSelectors(s)
}

// Registry holds the strategy tables per platform. The zero value is not usable; call NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	tables    map[models.Platform][]Strategy
	fallbacks map[models.Platform]Strategy
}

// NewRegistry returns a registry loaded with the built-in tables.
func NewRegistry() *Registry {
	r := &Registry{
		tables:    make(map[models.Platform][]Strategy, len(builtinTables)),
		fallbacks: make(map[models.Platform]Strategy, len(builtinFallbacks)),
	}
	for platform, table := range builtinTables {
		r.tables[platform] = slices.Clone(table)
	}
	for platform, fallback := range builtinFallbacks {
		r.fallbacks[platform] = fallback
	}
	return r
}

// StrategiesFor returns the ordered strategies for a platform. The list always
// ends with the platform family's fallback; generic or unrecognised platforms
// get the universal generic list. The returned slice is a copy.
func (r *Registry) StrategiesFor(platform models.Platform) []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.fallbacks[platform]; !ok {
		platform = models.PlatformGeneric
	}
	table := r.tables[platform]
	out := make([]Strategy, 0, len(table)+1)
	out = append(out, table...)
	out = append(out, r.fallbacks[platform])
	return out
}

// ForEntry returns the strategies for a catalog entry. When the entry carries
// its own container selector, a catalog strategy is tried first.
func (r *Registry) ForEntry(entry models.CatalogEntry) []Strategy {
	strategies := r.StrategiesFor(entry.Platform)
	if entry.Selectors.Empty() {
		return strategies
	}
	return append([]Strategy{CatalogStrategy(entry)}, strategies...)
}

// Register appends a strategy to its platform table, ahead of the family fallback.
func (r *Registry) Register(s Strategy) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.fallbacks[s.Platform]; !ok {
		return fmt.Errorf("strategy %s: unknown platform %q", s.Name, s.Platform)
	}
	for _, existing := range r.tables[s.Platform] {
		if existing.Name == s.Name {
			return fmt.Errorf("strategy %s already registered for %s", s.Name, s.Platform)
		}
	}
	r.tables[s.Platform] = append(r.tables[s.Platform], s)
	return nil
}

// Platforms lists the platforms with strategy tables, in a stable order.
func (r *Registry) Platforms() []models.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Platform, 0, len(r.fallbacks))
	for _, p := range models.KnownPlatforms {
		if _, ok := r.fallbacks[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// CatalogStrategy builds a strategy from the selectors declared in the catalog row.
// A price attribute turns the price selector into "css@attr"; missing name and
// URL selectors default to the card's first heading and link.
func CatalogStrategy(entry models.CatalogEntry) Strategy {
	sel := entry.Selectors
	price := sel.Price
	if price != "" && sel.PriceAttr != "" && !strings.Contains(price, "@") {
		price = price + "@" + sel.PriceAttr
	}
	link := sel.URL
	if link == "" {
		link = "a@href"
	}
	name := sel.Name
	if name == "" {
		name = "h2 || h3 || a"
	}
	fields := map[Field]string{
		FieldName:         name,
		FieldPrice:        price,
		FieldURL:          link,
		FieldImage:        sel.Image,
		FieldAvailability: sel.Status,
		FieldSKU:          sel.SKU,
	}
	for f, v := range fields {
		if strings.TrimSpace(v) == "" {
			delete(fields, f)
		}
	}
	return Strategy{
		Platform:  entry.Platform,
		Name:      CatalogStrategyName,
		Container: sel.List,
		Fields:    fields,
	}
}
