package etl

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// ── SyncJob ────────────────────────────────────────────────
// Orchestrates: load both catalogs → discover types → match → map →
// validate → collect. One run is a stateless batch transform.

// SourceBinding selects a registered source and its configuration.
type SourceBinding struct {
	Type   string       `yaml:"type" json:"type"`
	Config SourceConfig `yaml:"config" json:"config"`
}

// SyncJob holds everything a single sync needs. It is read-only for the
// duration of a run.
type SyncJob struct {
	ERP             SourceBinding
	Eshop           SourceBinding
	ERPIdentifier   string
	EshopIdentifier string
	Mappings        []FieldMapping
	Rules           RuleSet
	// AuditEshop validates the raw Eshop catalog before syncing and logs
	// what it finds. Nothing is dropped because of it.
	AuditEshop bool
}

// SyncResult is the outcome of running a sync job.
type SyncResult struct {
	RunID      string        `json:"runId"`
	Status     string        `json:"status"` // "success" | "error"
	Stamp      string        `json:"stamp"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	ERPRead    int           `json:"erpRead"`
	RowsRead   int           `json:"rowsRead"` // Eshop records seen
	Skipped    int           `json:"skipped"`  // no identifier
	Unmatched  int           `json:"unmatched"`
	Rejected   int           `json:"rejected"`
	Accepted   []Record      `json:"-"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// ── Engine ─────────────────────────────────────────────────

// Engine runs sync jobs against the registered sources. Rejected records
// are rendered into ErrorLog; everything else goes to Logger.
type Engine struct {
	ErrorLog ErrorLog
	Logger   *log.Logger
	// Now stamps the start and end of a run. Defaults to time.Now.
	Now func() time.Time
}

// RunSync executes a sync job end-to-end and returns the accepted records
// in Eshop input order. A non-nil error is always fatal for the run (see
// IsFatal); per-record problems never surface here.
func (e *Engine) RunSync(ctx context.Context, job *SyncJob) (*SyncResult, error) {
	logger := e.logger()
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	start := now()
	result := &SyncResult{
		RunID:     uuid.NewString(),
		Stamp:     RunStamp(start),
		StartedAt: start,
	}
	fail := func(err error) (*SyncResult, error) {
		logger.Printf("sync: %v", err)
		result.Status = "error"
		result.Error = err.Error()
		result.FinishedAt = now()
		result.Duration = result.FinishedAt.Sub(start)
		return result, err
	}

	// 1. Load both catalogs.
	erpProducts, err := loadSource(ctx, "ERP", job.ERP)
	if err != nil {
		return fail(err)
	}
	eshopProducts, err := loadSource(ctx, "Eshop", job.Eshop)
	if err != nil {
		return fail(err)
	}
	result.ERPRead = len(erpProducts)
	logger.Printf("sync: loaded %d ERP and %d Eshop products", len(erpProducts), len(eshopProducts))

	// 2. Discover field types from the first record of each side.
	erpTypes, err := DiscoverTypes(erpProducts)
	if err != nil {
		return fail(fmt.Errorf("ERP field types: %w", err))
	}
	eshopTypes, err := DiscoverTypes(eshopProducts)
	if err != nil {
		return fail(fmt.Errorf("Eshop field types: %w", err))
	}

	// 3. Build mapper + validator.
	mapper := NewFieldMapper(job.Mappings, erpTypes, eshopTypes, logger)
	validator := NewValidator(job.Rules)

	if job.AuditEshop {
		auditProducts(logger, validator, eshopProducts)
	}

	// 4. Match, map, validate each Eshop product.
	var accepted []Record
	for _, eshopProduct := range eshopProducts {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		result.RowsRead++

		sku := eshopProduct.Value(job.EshopIdentifier)
		if !IsPresent(sku) {
			result.Skipped++
			continue
		}

		erpProduct, ok := findMatch(erpProducts, job.ERPIdentifier, sku)
		if !ok {
			logger.Printf("sync: product with SKU %v found in Eshop but missing in ERP", sku)
			result.Unmatched++
			continue
		}

		updated := mapper.Map(erpProduct, eshopProduct)

		if errs := validator.Validate(updated); len(errs) > 0 {
			result.Rejected++
			if e.ErrorLog != nil {
				if err := validator.LogErrors(e.ErrorLog, updated, errs, result.Stamp); err != nil {
					logger.Printf("sync: failed to write error log for product %v: %v", updated.Value(FieldID), err)
				}
			}
			continue
		}

		accepted = append(accepted, updated)
	}

	result.Accepted = accepted
	result.Status = "success"
	result.FinishedAt = now()
	result.Duration = result.FinishedAt.Sub(start)
	return result, nil
}

// loadSource resolves and loads one side. An empty catalog is an error
// even if the source itself did not report it.
func loadSource(ctx context.Context, side string, b SourceBinding) ([]Record, error) {
	src, err := GetSource(b.Type)
	if err != nil {
		return nil, fmt.Errorf("%s source: %w", side, err)
	}
	records, err := src.Load(ctx, b.Config)
	if err != nil {
		return nil, fmt.Errorf("%s source: %w", side, err)
	}
	if len(records) == 0 {
		return nil, &SourceError{Source: side, Kind: ErrSourceEmpty}
	}
	return records, nil
}

// findMatch returns the first ERP record whose identifier equals sku.
// Catalogs are small enough that a linear scan per Eshop record is fine.
func findMatch(erpProducts []Record, field string, sku any) (Record, bool) {
	for _, p := range erpProducts {
		if v, ok := p.Get(field); ok && identEqual(v, sku) {
			return p, true
		}
	}
	return Record{}, false
}

// identEqual compares identifiers: numbers by value regardless of their
// integer/float representation, everything else structurally.
func identEqual(a, b any) bool {
	fa, aNum := numeric(a)
	fb, bNum := numeric(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// auditProducts reports rule violations already present in the target
// catalog, before any ERP data is applied.
func auditProducts(logger *log.Logger, v *Validator, products []Record) {
	for _, p := range products {
		if errs := v.Validate(p); len(errs) > 0 {
			logger.Printf("audit: validation errors for product %v: %v", p.Value(FieldID), errs)
		}
	}
}

func (e *Engine) logger() *log.Logger {
	if e.Logger == nil {
		return log.Default()
	}
	return e.Logger
}
