package etl

import (
	"fmt"
	"strings"
)

// ── Validation ─────────────────────────────────────────────
// Business rules checked on every mapped record before it is accepted.
// Each rule category runs independently and every violation is reported.

// RuleSet lists the fields each rule category applies to. A field may
// appear in more than one list.
type RuleSet struct {
	Required []string `yaml:"required_fields" json:"required_fields"`
	Positive []string `yaml:"positive_fields" json:"positive_fields"`
	NonNull  []string `yaml:"non_null_fields" json:"non_null_fields"`
}

// Validator evaluates a RuleSet against records.
type Validator struct {
	rules RuleSet
}

func NewValidator(rules RuleSet) *Validator {
	return &Validator{rules: rules}
}

// Validate returns one message per violation, empty when rec is valid.
// Order: required, non-null, positive.
func (v *Validator) Validate(rec Record) []string {
	var errs []string

	for _, field := range v.rules.Required {
		if !IsPresent(rec.Value(field)) {
			errs = append(errs, "Missing "+field)
		}
	}

	// Zero and "" pass here, only absence or null fails.
	for _, field := range v.rules.NonNull {
		if rec.Value(field) == nil {
			errs = append(errs, "Missing "+field)
		}
	}

	for _, field := range v.rules.Positive {
		value := rec.Value(field)
		if value == nil {
			errs = append(errs, "Missing "+field)
			continue
		}
		n, err := toFloat(value)
		if err != nil {
			errs = append(errs, fmt.Sprintf("Invalid %s format: %v", field, value))
			continue
		}
		if n <= 0 {
			errs = append(errs, fmt.Sprintf("Invalid %s: must be greater than 0", field))
		}
	}

	return errs
}

// LogErrors renders the errors of one rejected record as a text block and
// appends it to sink. stamp is the run start timestamp.
func (v *Validator) LogErrors(sink ErrorLog, rec Record, errs []string, stamp string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[ERP to Eshop at %s] Product with Eshop ID %v could not be updated due to these errors:\n",
		stamp, displayID(rec.Value(FieldID)))
	for _, e := range errs {
		fmt.Fprintf(&b, "    - %s\n", e)
	}
	b.WriteString("\n")
	return sink.Append(b.String())
}

// displayID renders a missing id as null, matching the output file.
func displayID(v any) any {
	if v == nil {
		return "null"
	}
	return v
}
