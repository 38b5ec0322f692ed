package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryFormat        ErrorCategory = "format"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryAggregation   ErrorCategory = "aggregation"
	CategoryStorage       ErrorCategory = "storage"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileTooLarge   ErrorCode = "file_too_large"

	// Format errors
	CodeEmptyFile         ErrorCode = "empty_file"
	CodeNoHeaders         ErrorCode = "no_headers"
	CodeMissingColumn     ErrorCode = "missing_column"
	CodeUnsupportedFormat ErrorCode = "unsupported_format"
	CodeUnreadable        ErrorCode = "unreadable"
	CodeEncodingError     ErrorCode = "encoding_error"

	// Validation errors
	CodeInvalidAmount  ErrorCode = "invalid_amount"
	CodeInvalidDate    ErrorCode = "invalid_date"
	CodeMissingField   ErrorCode = "missing_field"
	CodeInvalidAccount ErrorCode = "invalid_account"
	CodeInvalidRange   ErrorCode = "invalid_range"
	CodeUnknownTable   ErrorCode = "unknown_table"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"
	CodeInvalidSchema ErrorCode = "invalid_schema"

	// Aggregation errors
	CodeNoMetrics ErrorCode = "no_metrics"

	// Storage errors
	CodeStorageUnavailable ErrorCode = "storage_unavailable"
	CodeWriteFailed        ErrorCode = "write_failed"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// IngestionError is the base error type for all application errors
type IngestionError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *IngestionError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *IngestionError) Unwrap() error {
	return e.Cause
}

var exitCodes = map[ErrorCategory]int{
	CategoryFile:          2,
	CategoryFormat:        3,
	CategoryValidation:    3,
	CategoryConfiguration: 4,
	CategoryAggregation:   5,
	CategoryInternal:      5,
	CategoryStorage:       6,
}

// GetExitCode returns the process exit code for the error's category, or 1.
func (e *IngestionError) GetExitCode() int {
	if code, ok := exitCodes[e.Category]; ok {
		return code
	}
	return 1
}

// WithContext adds context information to the error
func (e *IngestionError) WithContext(key string, value interface{}) *IngestionError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *IngestionError) WithSuggestion(suggestion string) *IngestionError {
	e.Suggestion = suggestion
	return e
}

// newError creates an IngestionError without a cause.
func newError(category ErrorCategory, code ErrorCode, message string) *IngestionError {
	return &IngestionError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// wrap attaches category, code and message to err.
func wrap(err error, category ErrorCategory, code ErrorCode, message string) *IngestionError {
	if err == nil {
		return nil
	}

	return &IngestionError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *IngestionError {
	if err != nil {
		return wrap(err, category, code, message)
	}
	return newError(category, code, message)
}

// entry describes an error code. In message, %[1]v is the subject (path,
// field, setting or operation) and %[2]v the offending value.
type entry struct {
	category   ErrorCategory
	message    string
	suggestion string
}

var catalogue = map[ErrorCode]entry{
	CodeFileNotFound:   {CategoryFile, "file not found: %[1]v", "check if the file path is correct and the file exists"},
	CodeFilePermission: {CategoryFile, "permission denied accessing file: %[1]v", "check file permissions and ensure you have read access"},
	CodeFileTooLarge:   {CategoryFile, "file exceeds the upload size limit: %[1]v", "split the file or raise server.max_upload_bytes"},

	CodeEmptyFile:         {CategoryFormat, "file %[1]v is empty", "upload a file with a header row and at least one data row"},
	CodeNoHeaders:         {CategoryFormat, "no header row found in %[1]v", "the first non-empty row must contain the column names"},
	CodeUnsupportedFormat: {CategoryFormat, "unsupported file format: %[1]v", "save the file as .csv or .xlsx"},
	CodeUnreadable:        {CategoryFormat, "could not read %[1]v as delimited text or spreadsheet", "check that the file is a valid CSV or XLSX document"},
	CodeEncodingError:     {CategoryFormat, "could not decode %[1]v", "save the file as UTF-8"},

	CodeInvalidDate:    {CategoryValidation, "invalid date in field '%[1]v': %[2]v", "use date format YYYY-MM-DD"},
	CodeInvalidAmount:  {CategoryValidation, "invalid amount in field '%[1]v': %[2]v", "use a plain decimal number such as 1234.50"},
	CodeMissingField:   {CategoryValidation, "required field '%[1]v' is missing or empty", "provide a value for this required field"},
	CodeInvalidAccount: {CategoryValidation, "invalid account code '%[2]v'", "account codes may only contain letters, digits and underscores"},
	CodeInvalidRange:   {CategoryValidation, "invalid date range in '%[1]v': %[2]v", "provide both start and end dates, with start on or before end"},
	CodeUnknownTable:   {CategoryValidation, "unknown table '%[2]v'", "run 'ingestor schema list' to see the configured tables"},

	CodeInvalidConfig: {CategoryConfiguration, "invalid configuration for '%[1]v': %[2]v", "check the configuration documentation for valid values"},
	CodeMissingConfig: {CategoryConfiguration, "missing required configuration: %[1]v", "provide this configuration setting or use a config file"},
	CodeInvalidSchema: {CategoryConfiguration, "invalid schema definition for '%[1]v': %[2]v", "fix the schema file; every table needs unique display names and a valid date field"},

	CodeNoMetrics: {CategoryAggregation, "no metrics could be produced during %[1]v", "check that account codes and dates are populated in both files"},

	CodeStorageUnavailable: {CategoryStorage, "storage unavailable during %[1]v", "check database.path and that the directory is writable"},
	CodeWriteFailed:        {CategoryStorage, "write failed during %[1]v", "retry the upload; rows already written are skipped as duplicates"},

	CodeUnexpectedError: {CategoryInternal, "unexpected error during %[1]v", "this is likely a bug, please report it with the error details"},
}

// fallbacks are used for codes outside the catalogue or from another category.
var fallbacks = map[ErrorCategory]entry{
	CategoryFile:          {CategoryFile, "file error: %[1]v", "check the file and try again"},
	CategoryFormat:        {CategoryFormat, "invalid file format: %[1]v", "check the file format and data integrity"},
	CategoryValidation:    {CategoryValidation, "validation error in field '%[1]v': %[2]v", "check the field value and format"},
	CategoryConfiguration: {CategoryConfiguration, "configuration error: %[1]v", "check your configuration and try again"},
	CategoryAggregation:   {CategoryAggregation, "aggregation error during %[1]v", "review the input files"},
	CategoryStorage:       {CategoryStorage, "storage error during %[1]v", "check the database and try again"},
	CategoryInternal:      {CategoryInternal, "internal error during %[1]v", "try again or contact support if the problem persists"},
}

func fromCatalogue(category ErrorCategory, code ErrorCode, err error, subject, value interface{}) *IngestionError {
	e, ok := catalogue[code]
	if !ok || e.category != category {
		e = fallbacks[category]
	}
	return build(category, code, fmt.Sprintf(e.message, subject, value), err).WithSuggestion(e.suggestion)
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *IngestionError {
	return fromCatalogue(CategoryFile, code, err, path, nil).WithContext("file_path", path)
}

// ValidationError creates a validation-related error for request parameters
func ValidationError(code ErrorCode, field string, value interface{}, err error) *IngestionError {
	return fromCatalogue(CategoryValidation, code, err, field, value).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *IngestionError {
	return fromCatalogue(CategoryConfiguration, code, err, setting, value).
		WithContext("setting", setting).
		WithContext("value", value)
}

// AggregationError creates an aggregation-related error
func AggregationError(code ErrorCode, operation string, err error) *IngestionError {
	return fromCatalogue(CategoryAggregation, code, err, operation, nil).WithContext("operation", operation)
}

// StorageError creates a storage-related error
func StorageError(code ErrorCode, operation string, err error) *IngestionError {
	return fromCatalogue(CategoryStorage, code, err, operation, nil).WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *IngestionError {
	return fromCatalogue(CategoryInternal, code, err, operation, nil).WithContext("operation", operation)
}

// AsIngestionError extracts an IngestionError from an error chain
func AsIngestionError(err error) (*IngestionError, bool) {
	var ingestionErr *IngestionError
	if errors.As(err, &ingestionErr) {
		return ingestionErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries an IngestionError of one of the
// given categories.
func IsCategory(err error, categories ...ErrorCategory) bool {
	ie, ok := AsIngestionError(err)
	if !ok {
		return false
	}
	for _, c := range categories {
		if ie.Category == c {
			return true
		}
	}
	return false
}

// WrapIfNeeded wraps an error if it's not already an IngestionError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *IngestionError {
	if err == nil {
		return nil
	}

	if ingestionErr, ok := AsIngestionError(err); ok {
		return ingestionErr
	}

	return wrap(err, category, code, message)
}
