package parsers

import (
	"fmt"
	"time"

	"portfolio-ingestion-service/internal/models"
	"portfolio-ingestion-service/internal/schema"
	apperrors "portfolio-ingestion-service/pkg/errors"
	"portfolio-ingestion-service/pkg/logger"
)

// Request describes one file to ingest.
type Request struct {
	Table    string
	Filename string
	Content  []byte
	// DateRange optionally restricts rows to an inclusive date range.
	DateRange *models.DateRange
	// AssignedDate overrides the processing date for tables whose date is
	// assigned by the service.
	AssignedDate time.Time
}

// Result holds the outcome of ingesting one file.
type Result struct {
	Table      string
	Rows       []models.NormalizedRow
	// RowIndices holds the file row number of each entry of Rows.
	RowIndices []int
	Failures   []models.FailedRow
	Mapping    *HeaderMapping
	Stats      *ParseStats
}

// Columns returns the effective column names of the file.
func (r *Result) Columns() []string {
	if r.Mapping == nil {
		return nil
	}
	return r.Mapping.Columns()
}

// Ingester parses files against the tables of a schema registry.
type Ingester struct {
	registry *schema.Registry
	config   *ParseConfig
	logger   logger.Logger
	now      func() time.Time
}

// NewIngester creates an Ingester. A nil config uses DefaultParseConfig and a
// nil logger uses the global logger.
func NewIngester(registry *schema.Registry, config *ParseConfig, log logger.Logger) (*Ingester, error) {
	if registry == nil {
		return nil, fmt.Errorf("schema registry is required")
	}
	if config == nil {
		config = DefaultParseConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "parser", err.Error(), err)
	}

	return &Ingester{
		registry: registry,
		config:   config,
		logger:   logger.OrGlobal(log).WithComponent("ingester"),
		now:      time.Now,
	}, nil
}

// Ingest parses, reconciles and normalizes a file. File-level problems are
// returned as errors and produce no rows; row-level problems are collected in
// Result.Failures.
func (in *Ingester) Ingest(req *Request) (*Result, error) {
	ts, ok := in.registry.Get(req.Table)
	if !ok {
		return nil, apperrors.ValidationError(apperrors.CodeUnknownTable, "table", req.Table, nil)
	}
	if len(req.Content) == 0 {
		return nil, apperrors.FormatError(apperrors.CodeEmptyFile, req.Filename, nil)
	}

	log := in.logger.WithFields(logger.Fields{
		"table":    req.Table,
		"filename": req.Filename,
		"bytes":    len(req.Content),
	})

	stats := &ParseStats{Format: DetectFormat(req.Filename)}
	table, mapping, err := in.load(req, ts, stats, log)
	if err != nil {
		log.WithError(err).Warn("File rejected")
		return nil, err
	}

	if dups := mapping.Duplicates(); len(dups) > 0 {
		log.WithField("columns", dups).Warn("Several headers map to the same column; the first non-empty value is used")
	}

	assigned := req.AssignedDate
	if assigned.IsZero() {
		assigned = in.now()
	}
	normalizer := NewRowNormalizer(ts, mapping, NormalizeOptions{
		DateRange:    req.DateRange,
		AssignedDate: assigned,
	})

	result := &Result{
		Table:      req.Table,
		Rows:       make([]models.NormalizedRow, 0, len(table.Rows)),
		RowIndices: make([]int, 0, len(table.Rows)),
		Mapping:    mapping,
		Stats:      stats,
	}
	for i, record := range table.Rows {
		stats.TotalRows++
		index := i + 2
		outcome := normalizer.Normalize(index, record)
		switch {
		case outcome.Skipped:
			stats.RowsFiltered++
		case outcome.Failure != nil:
			stats.RowsFailed++
			result.Failures = append(result.Failures, *outcome.Failure)
		default:
			stats.RowsValid++
			result.Rows = append(result.Rows, outcome.Row)
			result.RowIndices = append(result.RowIndices, index)
		}
	}
	stats.Failures = result.Failures

	log.WithFields(logger.Fields{
		"format":        stats.Format,
		"delimiter":     stats.Delimiter,
		"total_rows":    stats.TotalRows,
		"valid_rows":    stats.RowsValid,
		"failed_rows":   stats.RowsFailed,
		"filtered_rows": stats.RowsFiltered,
	}).Info("File ingested")
	if stats.HasErrors() {
		log.WithField("sample_errors", stats.GetSampleErrors(3)).Debug("Row failures")
	}

	return result, nil
}

func (in *Ingester) load(req *Request, ts *schema.TableSchema, stats *ParseStats, log logger.Logger) (*Table, *HeaderMapping, error) {
	switch stats.Format {
	case FormatLegacySpreadsheet:
		return nil, nil, apperrors.FormatError(apperrors.CodeUnsupportedFormat, req.Filename, nil).
			WithSuggestion("re-save the workbook as .xlsx or export it as .csv")
	case FormatSpreadsheet:
		return in.loadSpreadsheet(req, ts, stats)
	case FormatDelimited:
		return in.loadDelimited(req, ts, stats, log)
	}

	// No usable extension: try delimited text first, then a spreadsheet.
	table, mapping, err := in.loadDelimited(req, ts, stats, log)
	if err == nil {
		stats.Format = FormatDelimited
		return table, mapping, nil
	}
	log.WithError(err).Debug("Delimited parse failed, trying spreadsheet")

	sheetStats := &ParseStats{}
	table, mapping, sheetErr := in.loadSpreadsheet(req, ts, sheetStats)
	if sheetErr == nil {
		*stats = *sheetStats
		stats.Format = FormatSpreadsheet
		return table, mapping, nil
	}
	if looksLikeZip(req.Content) {
		return nil, nil, sheetErr
	}
	return nil, nil, err
}

func (in *Ingester) loadSpreadsheet(req *Request, ts *schema.TableSchema, stats *ParseStats) (*Table, *HeaderMapping, error) {
	table, err := ReadSpreadsheet(req.Content, in.config)
	if err != nil {
		return nil, nil, unreadable(req.Filename, err)
	}
	if len(table.Headers) == 0 {
		return nil, nil, apperrors.FormatError(apperrors.CodeNoHeaders, req.Filename, nil)
	}

	mapping := ReconcileHeaders(table.Headers, ts)
	if missing := mapping.Missing(ts); len(missing) > 0 {
		return nil, nil, apperrors.MissingColumns(ts.Name, missing, mapping.Raw)
	}
	return table, mapping, nil
}

func (in *Ingester) loadDelimited(req *Request, ts *schema.TableSchema, stats *ParseStats, log logger.Logger) (*Table, *HeaderMapping, error) {
	text, encoding, err := Decode(req.Content)
	if err != nil {
		return nil, nil, apperrors.FormatError(apperrors.CodeEncodingError, req.Filename, err)
	}
	stats.Encoding = encoding

	delimiter := SniffDelimiter(text, in.config.SampleSize)
	stats.Delimiter = DelimiterName(delimiter)
	log.WithFields(logger.Fields{
		"encoding":  encoding,
		"delimiter": stats.Delimiter,
	}).Debug("Detected file layout")

	table, err := ReadDelimited(text, delimiter, in.config)
	if err != nil {
		return nil, nil, unreadable(req.Filename, err)
	}
	if len(table.Headers) == 0 {
		return nil, nil, apperrors.FormatError(apperrors.CodeNoHeaders, req.Filename, nil)
	}

	mapping := ReconcileHeaders(table.Headers, ts)
	missing := mapping.Missing(ts)
	if len(missing) > 0 && delimiter != ',' {
		log.WithField("missing_columns", missing).Info("Retrying parse with comma delimiter")
		retry, retryErr := ReadDelimited(text, ',', in.config)
		if retryErr == nil && len(retry.Headers) > 0 {
			retryMapping := ReconcileHeaders(retry.Headers, ts)
			table, mapping, missing = retry, retryMapping, retryMapping.Missing(ts)
			stats.Delimiter = DelimiterName(',')
			stats.Retried = true
		}
	}
	if len(missing) > 0 {
		return nil, nil, apperrors.MissingColumns(ts.Name, missing, mapping.Raw)
	}

	return table, mapping, nil
}
