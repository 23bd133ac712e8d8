package etl

import (
	"log"
)

// ── Field mapping ──────────────────────────────────────────
// Combines one ERP record and one Eshop record into one Eshop-shaped
// record: identifiers from the Eshop side, mapped fields from the ERP side
// with the Eshop value as a fallback, each cast to the Eshop field type.

// FieldMapping is one row of the mapping table: the ERP field that
// populates an Eshop field.
type FieldMapping struct {
	ERP   string `yaml:"erp" json:"erp"`
	Eshop string `yaml:"eshop" json:"eshop"`
}

// Identifier fields copied verbatim from the Eshop record.
const (
	FieldID  = "id"
	FieldSKU = "sku"
)

// FieldMapper builds mapped records. It is safe to reuse for every pair
// in a run; it holds no per-record state.
type FieldMapper struct {
	table      []FieldMapping
	erpTypes   FieldTypes
	eshopTypes FieldTypes
	logger     *log.Logger
}

// NewFieldMapper captures the mapping table and the field types of both
// sides. A nil logger uses the standard logger.
func NewFieldMapper(table []FieldMapping, erpTypes, eshopTypes FieldTypes, logger *log.Logger) *FieldMapper {
	if logger == nil {
		logger = log.Default()
	}
	return &FieldMapper{
		table:      table,
		erpTypes:   erpTypes,
		eshopTypes: eshopTypes,
		logger:     logger,
	}
}

// Map returns a new record: id and sku from eshop, then one field per
// mapping row in table order.
func (m *FieldMapper) Map(erp, eshop Record) Record {
	out := NewRecord()
	out.Set(FieldID, eshop.Value(FieldID))
	out.Set(FieldSKU, eshop.Value(FieldSKU))

	for _, row := range m.table {
		value, ok := erp.Get(row.ERP)
		if !ok {
			value = eshop.Value(row.Eshop)
		}
		out.Set(row.Eshop, m.castToEshop(value, row.Eshop))
	}
	return out
}

// castToEshop coerces value to the type the Eshop catalog uses for field,
// keeping the original value when that fails.
func (m *FieldMapper) castToEshop(value any, field string) any {
	tag := m.eshopTypes.Lookup(field, value)
	res := Cast(value, tag)
	if !res.OK() {
		m.logger.Printf("mapper: failed to cast value %v to type %s for field %q: %v", value, tag, field, res.Err)
	}
	return res.Value
}
