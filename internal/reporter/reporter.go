// Package reporter renders ingestion results and metric series.
//
// Supported output formats:
//   - Console: human-readable summary for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: normalized rows or metric series for spreadsheet applications
//
// Example usage:
//
//	rg, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatCSV})
//	err = rg.WriteMetrics(records, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"portfolio-ingestion-service/internal/models"
	"portfolio-ingestion-service/internal/reconciler"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// IncludeFailures lists failed rows in console output.
	IncludeFailures bool `json:"include_failures"`
	// MaxFailures caps the failed rows listed in console output.
	MaxFailures int `json:"max_failures"`
	// IncludeStats prints parse statistics in console output.
	IncludeStats bool `json:"include_stats"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:          FormatConsole,
		IncludeFailures: true,
		MaxFailures:     10,
		IncludeStats:    true,
		CSVDelimiter:    ',',
		CSVHeaders:      true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxFailures < 0 {
		return fmt.Errorf("max failures cannot be negative, got %d", c.MaxFailures)
	}
	if c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n' {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates reports in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// WriteIngestion writes an ingestion result. CSV output contains the
// normalized rows in schema column order.
func (rg *ReportGenerator) WriteIngestion(resp *reconciler.IngestResponse, writer io.Writer) error {
	if resp == nil {
		return fmt.Errorf("ingestion result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.ingestionConsole(resp, writer)
	case FormatJSON:
		return writeJSON(resp, writer)
	case FormatCSV:
		return rg.rowsCSV(resp.ColumnNames, resp.Rows, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// WriteMetrics writes a metric series.
func (rg *ReportGenerator) WriteMetrics(records []models.MetricRecord, writer io.Writer) error {
	switch rg.config.Format {
	case FormatConsole:
		return rg.metricsConsole(records, writer)
	case FormatJSON:
		if records == nil {
			records = []models.MetricRecord{}
		}
		return writeJSON(records, writer)
	case FormatCSV:
		return rg.metricsCSV(records, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// WriteConsolidation writes a consolidation result. CSV output is the metric
// series alone.
func (rg *ReportGenerator) WriteConsolidation(resp *reconciler.ConsolidateResponse, writer io.Writer) error {
	if resp == nil {
		return fmt.Errorf("consolidation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		fmt.Fprintf(writer, "CONSOLIDATION REPORT\n")
		fmt.Fprintf(writer, "Processing Duration: %v\n\n", resp.Duration)
		fmt.Fprintf(writer, "=== SOURCES ===\n")
		for _, src := range []reconciler.SourceSummary{resp.Transactions, resp.Holdings} {
			fmt.Fprintf(writer, "%-20s %s: %d rows, %d failed\n", src.Table, src.Filename, src.ParsedRows, src.FailureCount)
			rg.printFailures(src.FailedRows, src.FailureCount, writer)
		}
		if resp.Saved > 0 {
			fmt.Fprintf(writer, "Saved Records: %d\n", resp.Saved)
		}
		fmt.Fprintf(writer, "\n")
		return rg.metricsConsole(resp.Records, writer)
	case FormatJSON:
		return writeJSON(resp, writer)
	case FormatCSV:
		return rg.metricsCSV(resp.Records, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) ingestionConsole(resp *reconciler.IngestResponse, writer io.Writer) error {
	fmt.Fprintf(writer, "INGESTION REPORT\n")
	fmt.Fprintf(writer, "Table:   %s\n", resp.Table)
	fmt.Fprintf(writer, "Account: %s\n", resp.Account)
	fmt.Fprintf(writer, "Processing Duration: %v\n\n", resp.Duration)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	fmt.Fprintf(writer, "%s\n", resp.Message)
	fmt.Fprintf(writer, "  Total Rows:  %d\n", resp.TotalRows)
	fmt.Fprintf(writer, "  Parsed:      %d (%.1f%%)\n", resp.ParsedRows, percentage(resp.ParsedRows, resp.TotalRows))
	if resp.Persisted {
		fmt.Fprintf(writer, "  Inserted:    %d\n", resp.InsertedRows)
		fmt.Fprintf(writer, "  Duplicates:  %d\n", resp.Duplicates)
		if resp.DeletedRows > 0 {
			fmt.Fprintf(writer, "  Replaced:    %d\n", resp.DeletedRows)
		}
	}
	fmt.Fprintf(writer, "  Failed:      %d\n", resp.FailureCount)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== COLUMNS ===\n")
	fmt.Fprintf(writer, "%s\n\n", strings.Join(resp.ColumnNames, ", "))

	if rg.config.IncludeFailures && resp.FailureCount > 0 {
		fmt.Fprintf(writer, "=== FAILED ROWS ===\n")
		fmt.Fprintf(writer, "First Error: %s\n", resp.FirstError)
		rg.printFailures(resp.FailedRows, resp.FailureCount, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeStats && resp.Stats != nil {
		fmt.Fprintf(writer, "=== PROCESSING STATISTICS ===\n")
		fmt.Fprintf(writer, "Format:     %s\n", resp.Stats.Format)
		if resp.Stats.Encoding != "" {
			fmt.Fprintf(writer, "Encoding:   %s\n", resp.Stats.Encoding)
		}
		if resp.Stats.Delimiter != "" {
			fmt.Fprintf(writer, "Delimiter:  %s", resp.Stats.Delimiter)
			if resp.Stats.Retried {
				fmt.Fprintf(writer, " (after retry)")
			}
			fmt.Fprintf(writer, "\n")
		}
		fmt.Fprintf(writer, "%s\n", resp.Stats)
	}
	return nil
}

func (rg *ReportGenerator) printFailures(failures []models.FailedRow, total int, writer io.Writer) {
	if !rg.config.IncludeFailures {
		return
	}
	for i, f := range failures {
		if i >= rg.config.MaxFailures {
			break
		}
		fmt.Fprintf(writer, "  %d. %s\n", i+1, f)
	}
	if shown := min(len(failures), rg.config.MaxFailures); total > shown {
		fmt.Fprintf(writer, "  ... and %d more\n", total-shown)
	}
}

func (rg *ReportGenerator) metricsConsole(records []models.MetricRecord, writer io.Writer) error {
	fmt.Fprintf(writer, "=== METRICS ===\n")
	if len(records) == 0 {
		fmt.Fprintf(writer, "No metrics\n")
		return nil
	}

	fmt.Fprintf(writer, "%-16s %-10s %18s %18s %18s %12s\n", "ACCOUNT", "DATE", "PORTFOLIO VALUE", "NAV", "PNL", "DRAWDOWN %")
	for _, r := range records {
		v := r.Values()
		fmt.Fprintf(writer, "%-16s %-10s %18s %18s %18s %12s\n", v[0], v[5], v[1], v[2], v[3], v[4])
	}
	fmt.Fprintf(writer, "\nTotal Records: %d\n", len(records))
	return nil
}

func (rg *ReportGenerator) metricsCSV(records []models.MetricRecord, writer io.Writer) error {
	csvWriter := rg.newCSVWriter(writer)

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(models.MetricColumns); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, r := range records {
		if err := csvWriter.Write(r.Values()); err != nil {
			return fmt.Errorf("failed to write metric record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) rowsCSV(columns []string, rows []models.NormalizedRow, writer io.Writer) error {
	csvWriter := rg.newCSVWriter(writer)

	// Columns outside the schema are appended in a stable order.
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	var extra []string
	seen := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			if !known[k] && !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	header := append(append([]string(nil), columns...), extra...)

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(header); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	record := make([]string, len(header))
	for i, row := range rows {
		for j, col := range header {
			record[j] = ""
			if v := models.SerializeValue(row[col]); v != nil {
				record[j] = fmt.Sprint(v)
			}
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) newCSVWriter(writer io.Writer) *csv.Writer {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	return csvWriter
}

func writeJSON(v any, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}
	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
