package dump

import (
	"math"
	"strconv"
)

// NotANumber is the sentinel stored when a declared integer field fails
// numeric coercion. Downstream code treats it as invalid instead of
// crashing; one malformed field never aborts a pass.
const NotANumber int64 = math.MinInt64

// Record is one parsed dump row: field name to scalar value, tagged with a
// RecordKind by the caller that produced it. After normalization, declared
// integer fields hold int64 and everything else holds string.
type Record map[string]any

// Int returns the named field as int64. Absent or non-integer fields
// return NotANumber.
func (r Record) Int(field string) int64 {
	v, ok := r[field]
	if !ok {
		return NotANumber
	}
	n, ok := v.(int64)
	if !ok {
		return NotANumber
	}
	return n
}

// Str returns the named field as a string, or "" when absent or non-string.
func (r Record) Str(field string) string {
	v, ok := r[field]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// ID returns the record's Id field.
func (r Record) ID() int64 {
	return r.Int("Id")
}

// HasValidID reports whether the record carries a usable non-negative Id.
func (r Record) HasValidID() bool {
	id := r.ID()
	return id != NotANumber && id >= 0
}

// Normalize applies the kind's schema to the record in place and returns
// it: undeclared fields are dropped and declared integer fields are coerced
// to int64 (NotANumber on failure). Normalize never fails on malformed
// input and is idempotent; every surviving field is declared in the schema.
func Normalize(r Record, kind RecordKind) Record {
	schema := SchemaFor(kind)
	for field, value := range r {
		ft, declared := schema[field]
		if !declared {
			delete(r, field)
			continue
		}
		if ft != FieldInteger {
			continue
		}
		switch v := value.(type) {
		case int64:
			// already coerced
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				n = NotANumber
			}
			r[field] = n
		default:
			r[field] = NotANumber
		}
	}
	return r
}
