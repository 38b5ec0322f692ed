package parsers

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-ingestion-service/internal/models"
	"portfolio-ingestion-service/internal/schema"
)

// NormalizeOptions controls per-request normalization behaviour.
type NormalizeOptions struct {
	// DateRange drops rows whose date falls outside it. Nil keeps all rows.
	DateRange *models.DateRange
	// AssignedDate is written into the date column of tables whose date is
	// assigned by the service.
	AssignedDate time.Time
}

// RowNormalizer converts raw records into normalized rows for one table and
// one header mapping. Normalize has no side effects, so a normalizer can be
// shared between goroutines.
type RowNormalizer struct {
	schema     *schema.TableSchema
	mapping    *HeaderMapping
	options    NormalizeOptions
	dateColumn string
}

// NewRowNormalizer creates a normalizer for rows laid out as described by
// mapping.
func NewRowNormalizer(ts *schema.TableSchema, mapping *HeaderMapping, options NormalizeOptions) *RowNormalizer {
	if ts.DateAssigned && options.AssignedDate.IsZero() {
		options.AssignedDate = time.Now()
	}
	return &RowNormalizer{
		schema:     ts,
		mapping:    mapping,
		options:    options,
		dateColumn: ts.DateColumn(),
	}
}

// Normalize converts one record. rowIndex is the 1-based position of the
// record in the file with the header as row 1.
func (n *RowNormalizer) Normalize(rowIndex int, record []string) models.RowResult {
	raw := make(map[string]string, len(n.mapping.Raw))
	row := make(models.NormalizedRow, len(n.schema.Columns))

	for i, header := range n.mapping.Raw {
		var value string
		if i < len(record) {
			value = record[i]
		}
		raw[header] = value

		name := n.mapping.Canonical[i]
		trimmed := strings.TrimSpace(value)
		// First non-empty value wins when two headers map to one column.
		if existing, seen := row[name]; seen && existing != "" {
			continue
		}
		row[name] = trimmed
	}

	for name, def := range n.schema.Defaults {
		if v, ok := row[name]; !ok || v == "" {
			row[name] = def
		}
	}

	if n.schema.DateAssigned {
		row[n.dateColumn] = models.CalendarDate(n.options.AssignedDate)
	} else {
		value := row.Text(n.dateColumn)
		if value == "" {
			return models.Failed(rowIndex, n.dateColumn,
				fmt.Sprintf("missing value for date column '%s'", n.dateColumn), raw)
		}
		parsed, err := models.ParseTimeWithLayouts(value, n.schema.DateFormats)
		if err != nil {
			return models.Failed(rowIndex, n.dateColumn,
				fmt.Sprintf("invalid date in '%s' at row %d: %v", n.dateColumn, rowIndex, err), raw)
		}
		if !n.options.DateRange.Contains(parsed) {
			return models.Filtered()
		}
		row[n.dateColumn] = parsed
	}

	for _, name := range n.schema.RequiredValues {
		if row.Text(name) == "" {
			return models.Failed(rowIndex, name,
				fmt.Sprintf("required value '%s' is empty at row %d", name, rowIndex), raw)
		}
	}

	for _, col := range n.schema.Columns {
		name := col.DisplayName
		if name == n.dateColumn {
			continue
		}
		value, present := row[name].(string)
		if !present {
			if _, set := row[name]; !set {
				row[name] = nil
			}
			continue
		}

		var err error
		switch {
		case n.schema.IsInteger(name):
			row[name], err = parseInteger(value)
		case n.schema.IsPercent(name):
			if s, ok := models.ParseSentinel(value); ok {
				row[name] = s
				continue
			}
			row[name], err = parseOptionalDecimal(value)
		case n.schema.IsNumeric(name):
			row[name], err = parseOptionalDecimal(value)
		}
		if err != nil {
			return models.Failed(rowIndex, name,
				fmt.Sprintf("invalid numeric value in '%s' at row %d: '%s'", name, rowIndex, value), raw)
		}
	}

	return models.Succeeded(row)
}

func parseOptionalDecimal(value string) (any, error) {
	if models.CleanNumeric(value) == "" {
		return nil, nil
	}
	return models.ParseDecimalFromString(value)
}

func parseInteger(value string) (any, error) {
	if models.CleanNumeric(value) == "" {
		return nil, nil
	}
	d, err := models.ParseDecimalFromString(value)
	if err != nil {
		return nil, err
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("%s is not a whole number", value)
	}
	if d.GreaterThan(maxInt64) || d.LessThan(minInt64) {
		return nil, fmt.Errorf("%s is out of range", value)
	}
	return d.IntPart(), nil
}

var (
	maxInt64 = decimal.NewFromInt(1<<63 - 1)
	minInt64 = decimal.NewFromInt(-1 << 63)
)
