package etl

import "errors"

// ── Type tags ──────────────────────────────────────────────
// The target type of a mapped field is not declared anywhere: it is read
// off the runtime values of a sample record, once per run.

// TypeTag names the type a field's value is coerced to.
type TypeTag int

const (
	TypeUnknown TypeTag = iota
	TypeText
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeList
	TypeMapping
)

func (t TypeTag) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeBoolean:
		return "boolean"
	case TypeList:
		return "list"
	case TypeMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// TagOf returns the tag of a runtime value. nil and unsupported values
// are TypeUnknown, which Cast passes through untouched.
func TagOf(v any) TypeTag {
	switch v.(type) {
	case string:
		return TypeText
	case int, int32, int64:
		return TypeInteger
	case float32, float64:
		return TypeFloat
	case bool:
		return TypeBoolean
	case []any:
		return TypeList
	case map[string]any:
		return TypeMapping
	default:
		return TypeUnknown
	}
}

// FieldTypes maps a field name to its target type.
type FieldTypes map[string]TypeTag

// Lookup returns the tag for name, or the tag of fallback when the field
// was not present in the sample record.
func (ft FieldTypes) Lookup(name string, fallback any) TypeTag {
	if t, ok := ft[name]; ok {
		return t
	}
	return TagOf(fallback)
}

// ErrNoFieldTypes is returned when there is no record to derive types from.
var ErrNoFieldTypes = errors.New("no products available to determine field types")

// DiscoverTypes derives field types from the first record only. Later
// records are assumed to share its shape; a field that is null in the
// first record ends up TypeUnknown and is never coerced.
func DiscoverTypes(records []Record) (FieldTypes, error) {
	if len(records) == 0 {
		return nil, ErrNoFieldTypes
	}
	first := records[0]
	types := make(FieldTypes, first.Len())
	for _, name := range first.Keys() {
		types[name] = TagOf(first.Value(name))
	}
	return types, nil
}

