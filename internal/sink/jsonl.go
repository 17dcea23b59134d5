package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// JSONL writes one JSON object per record. Run bookkeeping is not persisted.
type JSONL struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

// NewJSONL writes to w, or to standard output when w is nil.
func NewJSONL(w io.Writer) *JSONL {
	if w == nil {
		w = os.Stdout
	}
	return &JSONL{w: bufio.NewWriter(w)}
}

// OpenJSONLFile appends to the file at path, creating it when missing.
func OpenJSONLFile(path string) (*JSONL, error) {
	if path == "" {
		return nil, fmt.Errorf("output.path is required for jsonl output")
	}
	clean := filepath.Clean(path)
	// #nosec G304 -- output path is chosen by the operator
	f, err := os.OpenFile(clean, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	j := NewJSONL(f)
	j.closer = f
	return j, nil
}

func (j *JSONL) Begin(context.Context, *Run) error { return nil }

func (j *JSONL) Write(_ context.Context, _ *Run, records []Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	enc := json.NewEncoder(j.w)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode record %d of page %d: %w", r.Seq, r.Page, err)
		}
	}
	return j.w.Flush()
}

func (j *JSONL) Finish(context.Context, *Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.w.Flush()
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	err := j.w.Flush()
	if j.closer != nil {
		if cerr := j.closer.Close(); err == nil {
			err = cerr
		}
		j.closer = nil
	}
	return err
}
