package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-storefronts/models"
)

// NamedWriter labels an OutputWriter for error messages.
type NamedWriter struct {
	Name   string
	Writer OutputWriter
}

// MultiWriter fans every batch out to several writers.
type MultiWriter struct {
	writers []NamedWriter
	mu      sync.Mutex
}

// NewMultiWriter combines writers in order.
func NewMultiWriter(writers ...NamedWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Add appends a writer. Call it before the first Write.
func (mw *MultiWriter) Add(w NamedWriter) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.writers = append(mw.writers, w)
}

// Write writes records to every writer and stops at the first failure.
func (mw *MultiWriter) Write(records []*models.ProductRecord) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for _, w := range mw.writers {
		if err := w.Writer.Write(records); err != nil {
			return fmt.Errorf("%s write failed: %w", w.Name, err)
		}
	}
	return nil
}

// Close closes every writer, even after a failure, and joins the errors.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for _, w := range mw.writers {
		if err := w.Writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close failed: %w", w.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate validates every output.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Writer.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s validation failed: %w", w.Name, err))
		}
	}
	return errors.Join(errs...)
}

// OpenOutputs builds the writers for one run: the snapshot plus the history
// in format "csv", "json" or "dual". An error closes whatever was opened.
func OpenOutputs(snapshotPath, historyPath, historyFormat string) (*MultiWriter, *SnapshotWriter, error) {
	snapshot, err := NewSnapshotWriter(snapshotPath)
	if err != nil {
		return nil, nil, fmt.Errorf("create snapshot writer: %w", err)
	}
	writers := []NamedWriter{{Name: "snapshot", Writer: snapshot}}

	if historyFormat == "csv" || historyFormat == "dual" {
		history, err := NewHistoryWriter(historyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("create history writer: %w", err)
		}
		writers = append(writers, NamedWriter{Name: "history", Writer: history})
	}
	if historyFormat == "json" || historyFormat == "dual" {
		jsonWriter, err := NewJSONWriter(JSONLPath(historyPath))
		if err != nil {
			closeAll(writers)
			return nil, nil, fmt.Errorf("create json writer: %w", err)
		}
		writers = append(writers, NamedWriter{Name: "json", Writer: jsonWriter})
	}
	if len(writers) == 1 {
		return nil, nil, fmt.Errorf("unknown history format %q", historyFormat)
	}
	return NewMultiWriter(writers...), snapshot, nil
}

// JSONLPath swaps a .csv extension for .jsonl.
func JSONLPath(csvPath string) string {
	if base, ok := strings.CutSuffix(csvPath, ".csv"); ok {
		return base + ".jsonl"
	}
	return csvPath + ".jsonl"
}

// closeAll releases writers opened before a failure. The snapshot writer
// produces a file on Close, so it is skipped.
func closeAll(writers []NamedWriter) {
	for _, w := range writers {
		if _, ok := w.Writer.(*SnapshotWriter); ok {
			continue
		}
		_ = w.Writer.Close()
	}
}
