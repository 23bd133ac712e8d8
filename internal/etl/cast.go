package etl

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// ── Type coercion ──────────────────────────────────────────
// Casting is best effort: a value that cannot be converted keeps its
// original form and the caller decides how loudly to complain.

// CastResult is the outcome of Cast. Value is always usable: on failure it
// holds the original, uncoerced value and Err says why.
type CastResult struct {
	Value any
	Err   error
}

// OK reports whether the conversion succeeded.
func (r CastResult) OK() bool { return r.Err == nil }

// Cast converts v to the type named by tag. nil stays nil and TypeUnknown
// leaves the value as is.
func Cast(v any, tag TypeTag) CastResult {
	if v == nil {
		return CastResult{}
	}

	var (
		out any
		err error
	)
	switch tag {
	case TypeText:
		out, err = toText(v)
	case TypeInteger:
		out, err = toInteger(v)
	case TypeFloat:
		out, err = toFloat(v)
	case TypeBoolean:
		out = IsPresent(v)
	case TypeList:
		out, err = cast.ToSliceE(v)
	case TypeMapping:
		out, err = cast.ToStringMapE(v)
	default:
		return CastResult{Value: v}
	}
	if err != nil {
		return CastResult{Value: v, Err: fmt.Errorf("cast %v to %s: %w", v, tag, err)}
	}
	return CastResult{Value: out}
}

// toInteger parses strings as base-10 only; everything else goes through
// cast, which truncates floats and maps booleans to 1/0.
func toInteger(v any) (int64, error) {
	switch n := v.(type) {
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("unable to cast %v to int64", n)
		}
	}
	return cast.ToInt64E(v)
}

// toFloat only yields finite numbers.
func toFloat(v any) (float64, error) {
	var (
		f   float64
		err error
	)
	switch n := v.(type) {
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	case []any, map[string]any:
		return 0, fmt.Errorf("unable to cast %#v of type %T to float64", v, v)
	default:
		f, err = cast.ToFloat64E(v)
	}
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("unable to cast %#v to a finite float64", v)
	}
	return f, nil
}

// toText renders floats, lists and mappings the way they are written to
// the output file; everything else goes through cast.
func toText(v any) (string, error) {
	switch n := v.(type) {
	case float64, []any, map[string]any:
		b, err := encodeValue(n)
		return string(b), err
	}
	return cast.ToStringE(v)
}

// IsPresent is the truthiness test used wherever a value has to be
// "really there": absent, nil, "", 0, 0.0, false and empty collections all
// count as missing. Note that this conflates a zero stock or price with a
// missing one.
func IsPresent(v any) bool {
	switch n := v.(type) {
	case nil:
		return false
	case string:
		return n != ""
	case bool:
		return n
	case int:
		return n != 0
	case int64:
		return n != 0
	case float64:
		return n != 0
	case []any:
		return len(n) > 0
	case map[string]any:
		return len(n) > 0
	default:
		return true
	}
}
