// Package parsers turns uploaded files into normalized rows.
//
// An upload goes through three stages:
//   - format detection: decode the bytes (BOM aware) and sniff the delimiter,
//     or open the first sheet of a spreadsheet
//   - header reconciliation: map raw headers onto the table's canonical
//     display names using exact, case-insensitive and alias matching
//   - row normalization: trim, default, parse dates and decimals, and apply
//     the optional date range filter
//
// Rows that fail normalization are collected as models.FailedRow values; only
// file-level problems (unreadable content, missing columns) are returned as
// errors.
package parsers

import (
	"fmt"

	"portfolio-ingestion-service/internal/models"
)

// ParseConfig holds configuration for file parsing
type ParseConfig struct {
	// SampleSize is the number of bytes inspected by the delimiter sniffer.
	SampleSize       int  `json:"sample_size" mapstructure:"sample_size"`
	TrimLeadingSpace bool `json:"trim_leading_space" mapstructure:"trim_leading_space"`
	SkipEmptyRows    bool `json:"skip_empty_rows" mapstructure:"skip_empty_rows"`
	// MaxFieldSize rejects files containing a cell larger than this many
	// bytes. Zero disables the check.
	MaxFieldSize int `json:"max_field_size" mapstructure:"max_field_size"`
}

// DefaultSampleSize is the number of bytes the delimiter sniffer inspects.
const DefaultSampleSize = 2048

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		SampleSize:       DefaultSampleSize,
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1000000,
	}
}

// Validate checks the configuration
func (c *ParseConfig) Validate() error {
	if c.SampleSize <= 0 {
		return fmt.Errorf("sample size must be positive, got %d", c.SampleSize)
	}
	if c.MaxFieldSize < 0 {
		return fmt.Errorf("max field size cannot be negative")
	}
	return nil
}

// Table is the raw content of a file: one header row and the data rows that
// follow it, before any schema is applied.
type Table struct {
	Headers []string
	Rows    [][]string
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	Format    Format `json:"format"`
	Encoding  string `json:"encoding,omitempty"`
	Delimiter string `json:"delimiter,omitempty"`
	// Retried is set when the file was re-read with a comma after the
	// sniffed delimiter produced missing columns.
	Retried      bool               `json:"retried,omitempty"`
	TotalRows    int                `json:"total_rows"`
	RowsValid    int                `json:"rows_valid"`
	RowsFailed   int                `json:"rows_failed"`
	RowsFiltered int                `json:"rows_filtered"`
	Failures     []models.FailedRow `json:"-"`
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d rows (%d valid, %d failed, %d outside date range)",
		ps.TotalRows, ps.RowsValid, ps.RowsFailed, ps.RowsFiltered)
}

// HasErrors returns true if any row failed
func (ps *ParseStats) HasErrors() bool {
	return ps.RowsFailed > 0
}

// GetSampleErrors returns a sample of the row failures for logging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	if len(ps.Failures) == 0 {
		return nil
	}

	limit := len(ps.Failures)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Failures[i].String())
	}
	return samples
}
