package adapters

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
)

// Alternative is one branch of a field selector.
// An empty CSS addresses the container itself.
type Alternative struct {
	CSS  string
	Attr string
}

// ParseSelector splits a field selector into its ordered alternatives.
func ParseSelector(expr string) []Alternative {
	parts := strings.Split(expr, "||")
	out := make([]Alternative, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		alt := Alternative{CSS: part}
		if i := strings.LastIndex(part, "@"); i >= 0 && isAttrName(part[i+1:]) {
			alt.CSS = strings.TrimSpace(part[:i])
			alt.Attr = part[i+1:]
		}
		out = append(out, alt)
	}
	return out
}

func isAttrName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == ':':
		default:
			return false
		}
	}
	return true
}

func compileSelectors(s Strategy) error {
	if _, err := cascadia.Compile(s.Container); err != nil {
		return fmt.Errorf("strategy %s: container %q: %w", s.Name, s.Container, err)
	}
	for field, expr := range s.Fields {
		for _, alt := range ParseSelector(expr) {
			if alt.CSS == "" {
				continue
			}
			if _, err := cascadia.Compile(alt.CSS); err != nil {
				return fmt.Errorf("strategy %s: %s selector %q: %w", s.Name, field, alt.CSS, err)
			}
		}
	}
	return nil
}
