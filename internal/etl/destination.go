package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ── Destination ────────────────────────────────────────────
// A Destination persists the accepted records of a run. It is called once,
// at the end, with the whole list.

// Destination writes the accepted records to a target system.
type Destination interface {
	Save(ctx context.Context, records []Record) error
}

// ── JSON File Destination ──────────────────────────────────

// JSONFileWriter writes records as an indented JSON array. The file is
// replaced wholesale: records go to a temp file that is renamed over Path,
// so a failed run never leaves a half-written output.
type JSONFileWriter struct {
	Path string
}

func (w *JSONFileWriter) Save(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if records == nil {
		records = []Record{}
	}

	dir := filepath.Dir(w.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.Path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		tmp.Close()
		return fmt.Errorf("encode records: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.Path); err != nil {
		return fmt.Errorf("replace output: %w", err)
	}
	return nil
}

// ── Discard Destination ────────────────────────────────────

// DiscardWriter drops the records. Used for dry runs.
type DiscardWriter struct{}

func (DiscardWriter) Save(ctx context.Context, records []Record) error { return nil }
