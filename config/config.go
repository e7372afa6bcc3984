package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
)

// Config holds scraper run configuration.
type Config struct {
	CatalogPath    string
	SettingsPath   string
	OutputDir      string
	SnapshotFile   string
	HistoryFile    string
	HistoryFormat  string // csv, json, or dual
	HistoryDB      string
	DiagnosticsDir string
	SummaryFile    string
	MetricsAddr    string
	MetricsFile    string

	Concurrency      int
	MinDelay         time.Duration
	MaxDelay         time.Duration
	Timeout          time.Duration
	RunTimeout       time.Duration
	MaxAttempts      int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	RetryStatuses    []int
	FailureThreshold int
	GlobalRPS        float64

	UserAgent        string
	AcceptLanguage   string
	DefaultCurrency  string
	RespectRobotsTxt bool
	DedupeMaxSize    int
	PipelineBuffer   int
	BatchSize        int
	Verbose          bool
}

// DefaultConfig returns conservative defaults for a scheduled batch run.
func DefaultConfig() *Config {
	return &Config{
		CatalogPath:      "Sites_Catalog.csv",
		OutputDir:        "out",
		SnapshotFile:     "current_snapshot.csv",
		HistoryFile:      "products_history.csv",
		HistoryFormat:    "csv",
		DiagnosticsDir:   "",
		Concurrency:      1,
		MinDelay:         1 * time.Second,
		MaxDelay:         3 * time.Second,
		Timeout:          30 * time.Second,
		MaxAttempts:      3,
		RetryBackoff:     1 * time.Second,
		RetryBackoffMax:  15 * time.Second,
		RetryStatuses:    []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
		FailureThreshold: 2,
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		AcceptLanguage:   "en-US,en;q=0.9,ar;q=0.8",
		DefaultCurrency:  "EGP",
		DedupeMaxSize:    100000,
		PipelineBuffer:   64,
		BatchSize:        256,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.CatalogPath == "" {
		return fmt.Errorf("catalog path cannot be empty")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	if c.SnapshotFile == "" {
		return fmt.Errorf("snapshot file cannot be empty")
	}
	if c.HistoryFile == "" {
		return fmt.Errorf("history file cannot be empty")
	}
	if c.HistoryFormat != "csv" && c.HistoryFormat != "json" && c.HistoryFormat != "dual" {
		return fmt.Errorf("history format must be csv, json, or dual")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.MinDelay < 0 {
		return fmt.Errorf("min delay cannot be negative")
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("max delay (%s) cannot be below min delay (%s)", c.MaxDelay, c.MinDelay)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("run timeout cannot be negative")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	for _, code := range c.RetryStatuses {
		if code < 400 || code > 599 {
			return fmt.Errorf("retry status %d is not an HTTP error code", code)
		}
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive")
	}
	if c.GlobalRPS < 0 {
		return fmt.Errorf("global rps cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.DefaultCurrency != "" {
		if _, err := currency.ParseISO(c.DefaultCurrency); err != nil {
			return fmt.Errorf("default currency %q: %w", c.DefaultCurrency, err)
		}
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	return nil
}

// SnapshotPath is the snapshot table location inside OutputDir.
func (c *Config) SnapshotPath() string {
	return c.outputPath(c.SnapshotFile)
}

// HistoryPath is the history table location inside OutputDir.
func (c *Config) HistoryPath() string {
	return c.outputPath(c.HistoryFile)
}

// DiagnosticsPath is where zero-result page captures go; defaults to OutputDir.
func (c *Config) DiagnosticsPath() string {
	if c.DiagnosticsDir != "" {
		return c.DiagnosticsDir
	}
	return c.OutputDir
}

func (c *Config) outputPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.OutputDir, name)
}

// EnvString returns the value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return strings.TrimSpace(value), true
}

// EnvInt parses key as an integer. ok is false when the variable is unset.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvBool parses key with ParseBool.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

// EnvDuration parses key as a Go duration ("1500ms", "2s").
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// ParseBool accepts the boolean spellings found in hand-edited catalogs.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", value)
	}
}
