// Package pipeline writes snapshot rows: an append-only JSONL file fed
// during pagination and a wide CSV rebuilt from it at finalize time.
package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/retailsnap/go-scrape-iga/models"
)

// Lines carrying the full raw item JSON can get large.
const maxLineBytes = 4 * 1024 * 1024

// RowWriter appends rows to the run's JSONL file. Rows are never mutated
// once written. A seen-SKU cache, seeded from whatever the file already
// holds, guarantees at most one row per SKU per run file even when the
// process died between a row append and the next SKU index autosave.
type RowWriter struct {
	path    string
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	seen    *lru.Cache[string, struct{}]

	appended int
	skipped  int
}

// OpenRowWriter opens path for appending, scanning any existing content to
// seed the seen-SKU cache.
func OpenRowWriter(path string, dedupeSize int) (*RowWriter, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	seen, err := lru.New[string, struct{}](dedupeSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	if err := ReadRows(path, func(row models.Row) {
		if sku := row.SKU(); sku != "" {
			seen.Add(sku, struct{}{})
		}
	}); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("seed dedupe cache: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &RowWriter{
		path:    path,
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
		seen:    seen,
	}, nil
}

// Append writes one row unless its SKU was already written to this file.
// It reports whether the row was written. Each row is flushed immediately so
// an interrupted run still has usable partial output.
func (w *RowWriter) Append(row models.Row) (bool, error) {
	sku := row.SKU()
	if sku == "" {
		w.skipped++
		return false, nil
	}
	if _, ok := w.seen.Get(sku); ok {
		w.skipped++
		return false, nil
	}

	if err := w.encoder.Encode(row); err != nil {
		return false, fmt.Errorf("encode row: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return false, fmt.Errorf("flush row: %w", err)
	}

	w.seen.Add(sku, struct{}{})
	w.appended++
	return true, nil
}

// Appended returns the number of rows written through this writer.
func (w *RowWriter) Appended() int {
	return w.appended
}

// Skipped returns the number of rows dropped by the dedup guard.
func (w *RowWriter) Skipped() int {
	return w.skipped
}

// Path returns the JSONL file path.
func (w *RowWriter) Path() string {
	return w.path
}

// Close flushes buffers and closes the underlying file.
func (w *RowWriter) Close() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flush jsonl writer: %w", err)
	}
	return w.file.Close()
}

// ReadRows streams rows from a JSONL file, silently dropping malformed and
// blank lines. The file not existing is returned as-is for callers to test
// with os.IsNotExist.
func ReadRows(path string, fn func(models.Row)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row models.Row
		if err := json.Unmarshal(line, &row); err != nil {
			continue
		}
		fn(row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan jsonl: %w", err)
	}
	return nil
}
