package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel marks a percentage field holding an infinity marker instead of a
// number, e.g. "% PNL" on a position bought at zero cost.
type Sentinel string

const (
	PositiveInfinity Sentinel = "inf"
	NegativeInfinity Sentinel = "-inf"
)

// NormalizedRow maps canonical display names to coerced values. Values are
// one of string, decimal.Decimal, int64, time.Time, Sentinel or nil.
type NormalizedRow map[string]any

// Decimal returns the decimal stored under field.
func (r NormalizedRow) Decimal(field string) (decimal.Decimal, bool) {
	d, ok := r[field].(decimal.Decimal)
	return d, ok
}

// Time returns the time stored under field.
func (r NormalizedRow) Time(field string) (time.Time, bool) {
	t, ok := r[field].(time.Time)
	return t, ok
}

// Text returns the string stored under field, or "" when the field holds
// something else.
func (r NormalizedRow) Text(field string) string {
	s, _ := r[field].(string)
	return s
}

// Serialize converts the row into plain JSON-friendly values: decimals keep
// their parsed scale, dates render as ISO dates and date-times as
// "2006-01-02 15:04:05".
func (r NormalizedRow) Serialize() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = SerializeValue(v)
	}
	return out
}

// MarshalJSON renders the serialized form of the row.
func (r NormalizedRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Serialize())
}

// SerializeValue converts a single normalized value into its wire form.
func SerializeValue(v any) any {
	switch val := v.(type) {
	case decimal.Decimal:
		return FormatDecimal(val)
	case time.Time:
		return FormatDateTime(val)
	case Sentinel:
		return string(val)
	default:
		return val
	}
}

// FailedRow records a row that could not be normalized. RowIndex is 1-based
// with the header counted as row 1.
type FailedRow struct {
	RowIndex int               `json:"row_index"`
	Field    string            `json:"field,omitempty"`
	Error    string            `json:"error"`
	RawRow   map[string]string `json:"raw_row"`
}

// String returns a one-line description of the failure
func (f FailedRow) String() string {
	if f.Field != "" {
		return fmt.Sprintf("row %d, field %q: %s", f.RowIndex, f.Field, f.Error)
	}
	return fmt.Sprintf("row %d: %s", f.RowIndex, f.Error)
}

// RowResult is the outcome of normalizing one row: exactly one of Row,
// Failure or Skipped is set.
type RowResult struct {
	Row     NormalizedRow
	Failure *FailedRow
	Skipped bool
}

// Succeeded wraps a normalized row.
func Succeeded(row NormalizedRow) RowResult {
	return RowResult{Row: row}
}

// Failed wraps a failure.
func Failed(index int, field, message string, raw map[string]string) RowResult {
	return RowResult{Failure: &FailedRow{
		RowIndex: index,
		Field:    field,
		Error:    message,
		RawRow:   raw,
	}}
}

// Filtered marks a row excluded by the date range filter.
func Filtered() RowResult {
	return RowResult{Skipped: true}
}

// OK reports whether the row normalized successfully.
func (r RowResult) OK() bool {
	return r.Failure == nil && !r.Skipped
}
