package etl

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StampLayout formats the run timestamp written into error log headers.
const StampLayout = "02-01-2006 15:04:05"

// RunStamp formats t for error log headers.
func RunStamp(t time.Time) string { return t.Format(StampLayout) }

// ErrorLog is an append-only sink for rendered validation errors.
type ErrorLog interface {
	Append(block string) error
}

// FileErrorLog appends to a file, opening and closing it on every call so
// no handle outlives a single entry.
type FileErrorLog struct {
	Path string
}

func (l *FileErrorLog) Append(block string) error {
	if dir := filepath.Dir(l.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open error log: %w", err)
	}
	if _, err := f.WriteString(block); err != nil {
		f.Close()
		return fmt.Errorf("write error log: %w", err)
	}
	return f.Close()
}

// MemoryErrorLog keeps blocks in memory. Used by tests and dry runs.
type MemoryErrorLog struct {
	mu     sync.Mutex
	Blocks []string
}

func (l *MemoryErrorLog) Append(block string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Blocks = append(l.Blocks, block)
	return nil
}
