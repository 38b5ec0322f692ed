package errors

import (
	"fmt"
	"strings"
)

// FormatError creates a file-level format error. Format errors abort the
// whole file; nothing partial is returned alongside them.
func FormatError(code ErrorCode, file string, err error) *IngestionError {
	return fromCatalogue(CategoryFormat, code, err, file, nil).WithContext("file", file)
}

// MissingColumns creates the error returned when required columns are absent
// after header reconciliation. Both lists are kept in the error context so
// callers can show the user what was found.
func MissingColumns(table string, missing, detected []string) *IngestionError {
	message := fmt.Sprintf("missing required columns for %s: %s. Detected columns: %s",
		table, strings.Join(missing, ", "), strings.Join(detected, ", "))

	return newError(CategoryFormat, CodeMissingColumn, message).
		WithSuggestion("rename the columns to match the table schema or add the missing ones").
		WithContext("table", table).
		WithContext("missing_columns", missing).
		WithContext("detected_columns", detected)
}

// MissingColumnsDetail returns the missing and detected column lists carried
// by a MissingColumns error.
func MissingColumnsDetail(err error) (missing, detected []string, ok bool) {
	ie, found := AsIngestionError(err)
	if !found || ie.Code != CodeMissingColumn {
		return nil, nil, false
	}
	missing, _ = ie.Context["missing_columns"].([]string)
	detected, _ = ie.Context["detected_columns"].([]string)
	return missing, detected, true
}

// GetDetailedError returns a multi-line description for terminal output
func GetDetailedError(e *IngestionError) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("ERROR: %s", e.Message))

	for _, key := range []string{"file", "file_path", "table", "field", "value", "setting", "operation"} {
		if v, ok := e.Context[key]; ok && fmt.Sprint(v) != "" {
			lines = append(lines, fmt.Sprintf("  -> %s: %v", key, v))
		}
	}
	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  -> Suggestion: %s", e.Suggestion))
	}
	if e.Cause != nil {
		lines = append(lines, fmt.Sprintf("  -> Cause: %v", e.Cause))
	}

	return strings.Join(lines, "\n")
}
