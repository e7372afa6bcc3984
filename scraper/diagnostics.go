package scraper

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// Diagnostics stores the page capture of a site that produced no records.
type Diagnostics interface {
	Save(siteID string, content []byte) (string, error)
}

var unsafeNameChars = regexp.MustCompile(`\W+`)

// DiagnosticFileName is the deterministic capture name for a site:
// debug_<site id with non-word runs replaced by "_", at most 30 chars>.html.
func DiagnosticFileName(siteID string) string {
	safe := unsafeNameChars.ReplaceAllString(siteID, "_")
	if len(safe) > 30 {
		safe = safe[:30]
	}
	if safe == "" {
		safe = "site"
	}
	return "debug_" + safe + ".html"
}

// FileDiagnostics writes captures into Dir, replacing the previous capture of the same site.
type FileDiagnostics struct {
	Dir string
}

// Save writes content and returns the file path.
func (d FileDiagnostics) Save(siteID string, content []byte) (string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create diagnostics dir: %w", err)
	}
	path := filepath.Join(d.Dir, DiagnosticFileName(siteID))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write diagnostic %s: %w", path, err)
	}
	return path, nil
}

func noPageMarker(siteID string, err error) []byte {
	reason := "no page was fetched"
	if err != nil {
		reason = err.Error()
	}
	return fmt.Appendf(nil, "<!-- diagnostic for %s: no page content available (%s) -->\n", siteID, reason)
}
