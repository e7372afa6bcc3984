package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	// AppName is used for XDG directory lookups.
	AppName = "storefront-scraper"

	// DefaultSettingsFile is looked up in the working directory.
	DefaultSettingsFile = ".storefront.yaml"
)

// ErrSettingsNotFound is returned when the settings file does not exist.
var ErrSettingsNotFound = errors.New("settings file not found")

// SiteSettings customises requests and normalisation for one site.
type SiteSettings struct {
	Headers  map[string]string `yaml:"headers,omitempty"`
	Cookie   string            `yaml:"cookie,omitempty"`
	Currency string            `yaml:"currency,omitempty"`
	MaxPages int               `yaml:"max_pages,omitempty"`
}

// StrategySettings declares an extra selector strategy appended to a platform table.
type StrategySettings struct {
	Platform  string            `yaml:"platform"`
	Name      string            `yaml:"name"`
	Container string            `yaml:"container"`
	Fields    map[string]string `yaml:"fields"`
}

// Settings is the optional YAML file next to the catalog.
//
//	defaults:
//	  headers:
//	    Accept-Language: ar-EG,ar;q=0.9
//	sites:
//	  shop-a:
//	    cookie: "currency=EGP"
//	    currency: EGP
//	strategies:
//	  - platform: woo
//	    name: woo-flatsome
//	    container: ".product-small.box"
//	    fields:
//	      name: ".name a"
//	      price: ".price ins .amount || .price .amount"
//	      url: ".name a@href"
type Settings struct {
	Defaults   SiteSettings            `yaml:"defaults,omitempty"`
	Sites      map[string]SiteSettings `yaml:"sites,omitempty"`
	Strategies []StrategySettings      `yaml:"strategies,omitempty"`
}

// LoadSettings parses a settings file. A missing file returns ErrSettingsNotFound.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if s.Sites == nil {
		s.Sites = make(map[string]SiteSettings)
	}
	for i, st := range s.Strategies {
		if st.Name == "" || st.Container == "" {
			return nil, fmt.Errorf("settings strategy %d: name and container are required", i)
		}
		if _, ok := st.Fields["name"]; !ok {
			return nil, fmt.Errorf("settings strategy %q: a name field selector is required", st.Name)
		}
	}
	return &s, nil
}

// FindSettingsFile resolves the settings file location: the explicit path,
// then DefaultSettingsFile in the working directory, then the XDG config dir.
// It returns an empty string when nothing is found.
func FindSettingsFile(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, DefaultSettingsFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	candidate := filepath.Join(xdg.ConfigHome, AppName, "settings.yaml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// ForSite merges the defaults with the site-specific block.
func (s *Settings) ForSite(siteID string) SiteSettings {
	if s == nil {
		return SiteSettings{}
	}
	result := s.Defaults
	result.Headers = maps.Clone(s.Defaults.Headers)

	site, ok := s.Sites[siteID]
	if !ok {
		return result
	}
	if len(site.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string, len(site.Headers))
		}
		maps.Copy(result.Headers, site.Headers)
	}
	if site.Cookie != "" {
		result.Cookie = site.Cookie
	}
	if site.Currency != "" {
		result.Currency = site.Currency
	}
	if site.MaxPages != 0 {
		result.MaxPages = site.MaxPages
	}
	return result
}
