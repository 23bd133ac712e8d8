package etl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ── Record ─────────────────────────────────────────────────
// Common intermediate data format. Sources emit Records, the mapper builds
// new Records from them and destinations serialize them.
// Field order is part of the record: it survives decoding and is kept
// on output.

// Record is a single product entry: an ordered field-name → value mapping.
// Values are nil, string, int64, float64, bool, []any or map[string]any.
//
// The zero Record is a valid empty, read-only record; use NewRecord or
// RecordOf to build one that can be written to.
type Record struct {
	fields *orderedmap.OrderedMap[string, any]
}

// NewRecord returns an empty writable record.
func NewRecord() Record {
	return Record{fields: orderedmap.New[string, any]()}
}

// RecordOf builds a record from alternating name, value pairs.
func RecordOf(pairs ...any) Record {
	if len(pairs)%2 != 0 {
		panic("etl.RecordOf: odd number of arguments")
	}
	r := NewRecord()
	for i := 0; i < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("etl.RecordOf: field name %v is not a string", pairs[i]))
		}
		r.Set(name, normalizeValue(pairs[i+1]))
	}
	return r
}

// Get returns the value stored under name and whether the field exists.
// A field that exists with a nil value reports true.
func (r Record) Get(name string) (any, bool) {
	if r.fields == nil {
		return nil, false
	}
	return r.fields.Get(name)
}

// Value returns the value stored under name, nil when absent.
func (r Record) Value(name string) any {
	v, _ := r.Get(name)
	return v
}

// Set stores v under name. Existing fields keep their position.
func (r Record) Set(name string, v any) {
	r.fields.Set(name, v)
}

// Len returns the number of fields.
func (r Record) Len() int {
	if r.fields == nil {
		return 0
	}
	return r.fields.Len()
}

// Keys returns the field names in order.
func (r Record) Keys() []string {
	keys := make([]string, 0, r.Len())
	if r.fields == nil {
		return keys
	}
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// MarshalJSON writes the fields in order without HTML escaping.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if r.fields != nil {
		for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
			if buf.Len() > 1 {
				buf.WriteByte(',')
			}
			key, err := encodeJSON(pair.Key)
			if err != nil {
				return nil, err
			}
			value, err := encodeValue(pair.Value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", pair.Key, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// encodeValue is encodeJSON with floats that always read back as floats:
// an integral float64 keeps a ".0" so 10.0 does not come back as int64.
func encodeValue(v any) ([]byte, error) {
	switch n := v.(type) {
	case float64:
		return formatFloat(n)
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range n {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := encodeValue(item)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := encodeJSON(k)
			if err != nil {
				return nil, err
			}
			b, err := encodeValue(n[k])
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(b)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return encodeJSON(v)
	}
}

// formatFloat writes f the way encoding/json does, plus ".0" when that
// form has no fraction or exponent. NaN and infinities are errors.
func formatFloat(f float64) ([]byte, error) {
	b, err := encodeJSON(f)
	if err != nil {
		return nil, err
	}
	if !bytes.ContainsAny(b, ".eE") {
		b = append(b, ".0"...)
	}
	return b, nil
}

// UnmarshalJSON decodes a JSON object keeping its key order. Integral
// numbers become int64, all other numbers float64.
func (r *Record) UnmarshalJSON(data []byte) error {
	raw := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, raw); err != nil {
		return err
	}
	out := NewRecord()
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		v, err := decodeValue(pair.Value)
		if err != nil {
			return fmt.Errorf("field %q: %w", pair.Key, err)
		}
		out.Set(pair.Key, v)
	}
	*r = out
	return nil
}

func decodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeValue(v), nil
}

// normalizeValue folds decoded JSON and Go literals onto the value set a
// Record carries.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return f
		}
		return n.String()
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float32:
		return float64(n)
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, item := range n {
			out[k] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
