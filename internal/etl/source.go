package etl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ── Source ──────────────────────────────────────────────────
// A Source loads a full product catalog snapshot.
// Implementations live in etl/sources/, one file per source type.

// SourceConfig is an opaque configuration map parsed per source type.
type SourceConfig map[string]any

// ConfigField describes a single configuration input for a source.
type ConfigField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
	Help     string `json:"help,omitempty"`
}

// SourceSpec describes a source type and the config keys it reads.
type SourceSpec struct {
	Type         string        `json:"type"`
	Label        string        `json:"label"`
	ConfigFields []ConfigField `json:"configFields"`
}

// Source is the interface every catalog source must implement.
type Source interface {
	// Spec returns metadata about this source type.
	Spec() SourceSpec

	// Load returns every record of the catalog in source order. Failures
	// are reported as *SourceError.
	Load(ctx context.Context, cfg SourceConfig) ([]Record, error)
}

// ── Source errors ──────────────────────────────────────────

// Failure kinds a source can report. All of them abort a run.
var (
	ErrSourceNotFound  = errors.New("source not found")
	ErrSourceMalformed = errors.New("malformed source")
	ErrSourceEmpty     = errors.New("no products found")
)

// SourceError is a load failure of a named source. errors.Is matches both
// the kind and the underlying cause.
type SourceError struct {
	Source string // "ERP" | "Eshop" or a file path
	Kind   error
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsFatal reports whether err aborts a whole run rather than a single
// record.
func IsFatal(err error) bool {
	var se *SourceError
	return errors.As(err, &se) || errors.Is(err, ErrNoFieldTypes) || errors.Is(err, ErrUnknownSource)
}

// ── Source Registry ────────────────────────────────────────
// Compile-time registration via init() in each source file.

// ErrUnknownSource is returned by GetSource for an unregistered type.
var ErrUnknownSource = errors.New("unknown source type")

var (
	registryMu sync.RWMutex
	registry   = map[string]Source{}
)

// RegisterSource registers a source by its spec type.
// Called from init() in each source implementation file.
func RegisterSource(s Source) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Spec().Type] = s
}

// GetSource returns a registered source by type, or an error if not found.
func GetSource(typ string) (Source, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, typ)
	}
	return s, nil
}

// ListSources returns the specs of all registered sources, sorted by type.
func ListSources() []SourceSpec {
	registryMu.RLock()
	defer registryMu.RUnlock()
	specs := make([]SourceSpec, 0, len(registry))
	for _, s := range registry {
		specs = append(specs, s.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}
