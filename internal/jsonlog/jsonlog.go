// Package jsonlog provides a minimal append-only JSON-lines writer, the
// format both MissRowLogger (spec.md §4.O) and the replay Reporter
// (spec.md §4.P) use for their structured artifacts. None of the corpus's
// third-party stacks (zap, GORM, the subgraph/relay clients) cover "one
// JSON object per line to a file" as a first-class concern, so this one
// piece is deliberately built on encoding/json + os rather than forcing a
// dependency where none fits (see DESIGN.md).
package jsonlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Writer appends one JSON-encoded value per line to a file, flushing after
// every write so a crash mid-run loses at most the in-flight line.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

// Create opens (truncating) path for append-only JSONL writes.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("jsonlog: create %s: %w", path, err)
	}
	buf := bufio.NewWriter(f)
	return &Writer{f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// WriteLine encodes v as JSON and appends it as one line.
func (w *Writer) WriteLine(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("jsonlog: encode: %w", err)
	}
	return w.buf.Flush()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}
