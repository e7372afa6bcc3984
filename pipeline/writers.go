package pipeline

import (
	"bufio"
	"cmp"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/aluiziolira/go-scrape-storefronts/models"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// bomWriter prefixes w with a UTF-8 byte order mark so spreadsheet tools
// detect the encoding of Arabic product names.
func bomWriter(w io.Writer) *transform.Writer {
	return transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
}

// SnapshotWriter keeps the latest known record per product key and writes the
// snapshot table on Close, replacing the previous file atomically. It starts
// from the rows of the previous snapshot, so products of a site that failed
// this run keep their last observed state. The header is written even when
// there is no record at all.
type SnapshotWriter struct {
	path    string
	mu      sync.Mutex
	latest  map[string]*models.ProductRecord
	seeded  int
	skipped int
	closed  bool
	written int
}

// NewSnapshotWriter prepares a snapshot at filename and loads the previous
// snapshot, if any. Nothing is written until Close.
func NewSnapshotWriter(filename string) (*SnapshotWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	sw := &SnapshotWriter{
		path:   filename,
		latest: make(map[string]*models.ProductRecord),
	}
	if err := sw.load(); err != nil {
		return nil, err
	}
	return sw, nil
}

// load seeds the writer from the existing snapshot. A file without the
// site_id and url columns is not a snapshot and is ignored; rows that cannot
// be decoded are counted and dropped.
func (sw *SnapshotWriter) load() error {
	f, err := os.Open(sw.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open previous snapshot: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read previous snapshot header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}
	_, hasSite := columns["site_id"]
	_, hasURL := columns["url"]
	if !hasSite || !hasURL {
		return nil
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			sw.seeded = len(sw.latest)
			return nil
		}
		if err != nil {
			sw.skipped++
			continue
		}
		record, err := models.RecordFromCSV(columns, row)
		if err != nil {
			sw.skipped++
			continue
		}
		sw.latest[record.Key()] = record
	}
}

// Seeded reports how many previous snapshot rows were loaded and how many
// could not be decoded.
func (sw *SnapshotWriter) Seeded() (loaded, skipped int) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.seeded, sw.skipped
}

// Write stores records; a later record replaces an earlier one with the same key,
// including one loaded from the previous snapshot.
func (sw *SnapshotWriter) Write(records []*models.ProductRecord) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return ErrPipelineClosed
	}
	for _, record := range records {
		sw.latest[record.Key()] = record
	}
	return nil
}

// Close writes the snapshot sorted by site name then product name.
func (sw *SnapshotWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return nil
	}
	sw.closed = true

	rows := make([]*models.ProductRecord, 0, len(sw.latest))
	for _, record := range sw.latest {
		rows = append(rows, record)
	}
	slices.SortFunc(rows, func(a, b *models.ProductRecord) int {
		return cmp.Or(
			cmp.Compare(a.SiteName, b.SiteName),
			cmp.Compare(a.ProductName, b.ProductName),
			cmp.Compare(a.URL, b.URL),
		)
	})

	tmp, err := os.CreateTemp(filepath.Dir(sw.path), ".snapshot-*.csv")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod snapshot temp file: %w", err)
	}

	out := bomWriter(tmp)
	if err := writeCSV(out, true, rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), sw.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	sw.written = len(rows)
	return nil
}

// Validate ensures the snapshot exists and carries at least the header.
func (sw *SnapshotWriter) Validate() error {
	return validateNonEmpty(sw.path, "snapshot")
}

// Rows is the number of data rows written by Close, carried-over rows included.
func (sw *SnapshotWriter) Rows() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.written
}

// HistoryWriter appends records to the history table. The header (and the
// BOM) is only written when the file is new or empty.
type HistoryWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewHistoryWriter opens filename for appending.
func NewHistoryWriter(filename string) (*HistoryWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat history file: %w", err)
	}

	if info.Size() == 0 {
		out := bomWriter(f)
		if err := writeCSV(out, true, nil); err != nil {
			f.Close()
			return nil, fmt.Errorf("write history header: %w", err)
		}
		if err := out.Close(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flush history header: %w", err)
		}
	}

	return &HistoryWriter{
		file:   f,
		writer: csv.NewWriter(f),
	}, nil
}

// Write appends records to the history table.
func (hw *HistoryWriter) Write(records []*models.ProductRecord) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	for _, record := range records {
		if err := hw.writer.Write(record.CSVRow()); err != nil {
			return fmt.Errorf("write history record: %w", err)
		}
	}
	hw.writer.Flush()
	if err := hw.writer.Error(); err != nil {
		return fmt.Errorf("flush history records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (hw *HistoryWriter) Close() error {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	hw.writer.Flush()
	if err := hw.writer.Error(); err != nil {
		hw.file.Close()
		return fmt.Errorf("flush history writer: %w", err)
	}
	return hw.file.Close()
}

// Validate ensures the history file has at least its header.
func (hw *HistoryWriter) Validate() error {
	return validateNonEmpty(hw.file.Name(), "history")
}

// JSONWriter appends newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter opens filename for appending.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: encoder,
	}, nil
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(records []*models.ProductRecord) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, record := range records {
		if err := jw.encoder.Encode(record); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate checks that the JSONL file exists. A run without records leaves it empty.
func (jw *JSONWriter) Validate() error {
	if _, err := os.Stat(jw.file.Name()); err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	return nil
}

func writeCSV(w io.Writer, header bool, records []*models.ProductRecord) error {
	writer := csv.NewWriter(w)
	if header {
		if err := writer.Write(models.CSVHeader); err != nil {
			return err
		}
	}
	for _, record := range records {
		if err := writer.Write(record.CSVRow()); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func validateNonEmpty(path, kind string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return errors.New(kind + " file is empty")
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
