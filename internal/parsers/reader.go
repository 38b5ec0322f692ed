package parsers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"

	"portfolio-ingestion-service/internal/models"
	apperrors "portfolio-ingestion-service/pkg/errors"
)

// Format identifies how a file's bytes are laid out.
type Format string

const (
	FormatDelimited         Format = "delimited"
	FormatSpreadsheet       Format = "spreadsheet"
	FormatLegacySpreadsheet Format = "legacy_spreadsheet"
	FormatUnknown           Format = "unknown"
)

// DetectFormat picks a format from the file extension.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".tsv", ".txt":
		return FormatDelimited
	case ".xlsx", ".xlsm":
		return FormatSpreadsheet
	case ".xls":
		return FormatLegacySpreadsheet
	default:
		return FormatUnknown
	}
}

var zipMagic = []byte("PK\x03\x04")

func looksLikeZip(content []byte) bool {
	return bytes.HasPrefix(content, zipMagic)
}

// ReadDelimited splits text into a header row and data rows. The first
// non-empty record is the header.
func ReadDelimited(text string, delimiter rune, config *ParseConfig) (*Table, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	// Trimming would swallow empty fields when the delimiter is a tab.
	reader.TrimLeadingSpace = config.TrimLeadingSpace && !unicode.IsSpace(delimiter)

	table := &Table{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}
		if err := checkFieldSizes(record, config); err != nil {
			return nil, err
		}
		if table.Headers == nil {
			table.Headers = record
			continue
		}
		table.Rows = append(table.Rows, record)
	}

	return table, nil
}

// ReadSpreadsheet reads the first sheet of an XLSX workbook. Cells styled as
// dates are rendered as ISO dates rather than with the workbook's display
// format.
func ReadSpreadsheet(content []byte, config *ParseConfig) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	formatted, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}

	table := &Table{}
	for i, record := range formatted {
		if i < len(raw) {
			record = resolveDateCells(record, raw[i])
		}
		if config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}
		if err := checkFieldSizes(record, config); err != nil {
			return nil, err
		}
		if table.Headers == nil {
			table.Headers = record
			continue
		}
		table.Rows = append(table.Rows, record)
	}

	return table, nil
}

// resolveDateCells replaces cells whose stored value is a serial number but
// whose displayed value is not a number, which is how date-styled cells look.
func resolveDateCells(formatted, raw []string) []string {
	out := make([]string, len(formatted))
	copy(out, formatted)
	for j := range out {
		if j >= len(raw) || out[j] == raw[j] {
			continue
		}
		serial, err := strconv.ParseFloat(raw[j], 64)
		if err != nil {
			continue
		}
		if _, err := models.ParseDecimalFromString(out[j]); err == nil {
			continue
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			continue
		}
		out[j] = models.FormatDateTime(t)
	}
	return out
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func checkFieldSizes(record []string, config *ParseConfig) error {
	if config.MaxFieldSize <= 0 {
		return nil
	}
	for i, field := range record {
		if len(field) > config.MaxFieldSize {
			return fmt.Errorf("field %d exceeds maximum size of %d bytes", i+1, config.MaxFieldSize)
		}
	}
	return nil
}

func unreadable(filename string, err error) error {
	return apperrors.FormatError(apperrors.CodeUnreadable, filename, err)
}
