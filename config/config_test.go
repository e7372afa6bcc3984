package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "zero concurrency",
			mutate: func(cfg *Config) {
				cfg.Concurrency = 0
			},
			wantErr: "concurrency",
		},
		{
			name: "empty catalog",
			mutate: func(cfg *Config) {
				cfg.CatalogPath = ""
			},
			wantErr: "catalog path",
		},
		{
			name: "max delay below min delay",
			mutate: func(cfg *Config) {
				cfg.MinDelay = 2 * time.Second
				cfg.MaxDelay = time.Second
			},
			wantErr: "max delay",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "zero attempts",
			mutate: func(cfg *Config) {
				cfg.MaxAttempts = 0
			},
			wantErr: "max attempts",
		},
		{
			name: "backoff above cap",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = time.Minute
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name: "retry status outside http errors",
			mutate: func(cfg *Config) {
				cfg.RetryStatuses = []int{200}
			},
			wantErr: "retry status",
		},
		{
			name: "unknown history format",
			mutate: func(cfg *Config) {
				cfg.HistoryFormat = "xml"
			},
			wantErr: "history format",
		},
		{
			name: "invalid currency",
			mutate: func(cfg *Config) {
				cfg.DefaultCurrency = "XYZQ"
			},
			wantErr: "default currency",
		},
		{
			name: "zero failure threshold",
			mutate: func(cfg *Config) {
				cfg.FailureThreshold = 0
			},
			wantErr: "failure threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestOutputPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputDir = "out"

	if got, want := cfg.SnapshotPath(), filepath.Join("out", "current_snapshot.csv"); got != want {
		t.Fatalf("snapshot path = %q, want %q", got, want)
	}
	if got := cfg.DiagnosticsPath(); got != "out" {
		t.Fatalf("diagnostics path = %q, want out", got)
	}

	abs := filepath.Join(t.TempDir(), "history.csv")
	cfg.HistoryFile = abs
	if got := cfg.HistoryPath(); got != abs {
		t.Fatalf("absolute history path rewritten to %q", got)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SCRAPER_TEST_INT", "7")
	t.Setenv("SCRAPER_TEST_BAD_INT", "seven")
	t.Setenv("SCRAPER_TEST_BOOL", "yes")
	t.Setenv("SCRAPER_TEST_DURATION", "1500ms")
	t.Setenv("SCRAPER_TEST_BLANK", "   ")

	if n, ok, err := EnvInt("SCRAPER_TEST_INT"); err != nil || !ok || n != 7 {
		t.Fatalf("EnvInt = %d, %v, %v", n, ok, err)
	}
	if _, _, err := EnvInt("SCRAPER_TEST_BAD_INT"); err == nil {
		t.Fatalf("expected error for non-numeric value")
	}
	if b, ok, err := EnvBool("SCRAPER_TEST_BOOL"); err != nil || !ok || !b {
		t.Fatalf("EnvBool = %v, %v, %v", b, ok, err)
	}
	if d, ok, err := EnvDuration("SCRAPER_TEST_DURATION"); err != nil || !ok || d != 1500*time.Millisecond {
		t.Fatalf("EnvDuration = %v, %v, %v", d, ok, err)
	}
	if _, ok := EnvString("SCRAPER_TEST_BLANK"); ok {
		t.Fatalf("blank variable should be treated as unset")
	}
}

func TestParseBool(t *testing.T) {
	for _, in := range []string{"true", "TRUE", "1", " yes "} {
		if got, err := ParseBool(in); err != nil || !got {
			t.Errorf("ParseBool(%q) = %v, %v", in, got, err)
		}
	}
	for _, in := range []string{"false", "0", "No"} {
		if got, err := ParseBool(in); err != nil || got {
			t.Errorf("ParseBool(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseBool("maybe"); err == nil {
		t.Errorf("ParseBool(maybe) should fail")
	}
}
