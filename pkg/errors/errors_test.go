package errors

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestIngestionError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
	}{
		{
			name:       "file error",
			category:   CategoryFile,
			code:       CodeFileNotFound,
			message:    "file not found",
			cause:      errors.New("no such file"),
			expectCode: 2,
		},
		{
			name:       "format error",
			category:   CategoryFormat,
			code:       CodeNoHeaders,
			message:    "no headers",
			expectCode: 3,
		},
		{
			name:       "configuration error",
			category:   CategoryConfiguration,
			code:       CodeInvalidSchema,
			message:    "duplicate display name",
			cause:      errors.New("duplicate"),
			expectCode: 4,
		},
		{
			name:       "storage error",
			category:   CategoryStorage,
			code:       CodeWriteFailed,
			message:    "write failed",
			expectCode: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *IngestionError
			if tt.cause != nil {
				err = wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = newError(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if err.Error() != tt.message {
				t.Errorf("expected error string %s, got %s", tt.message, err.Error())
			}
			if tt.cause != nil && err.Unwrap() != tt.cause {
				t.Errorf("expected to unwrap to %v, got %v", tt.cause, err.Unwrap())
			}
			if len(err.StackTrace) == 0 {
				t.Error("expected a stack trace to be captured")
			}
		})
	}
}

func TestIngestionErrorWithContext(t *testing.T) {
	err := newError(CategoryFile, CodeFileNotFound, "test error").
		WithContext("file", "/path/to/file").
		WithSuggestion("check file path")

	if err.Context["file"] != "/path/to/file" {
		t.Errorf("expected file context '/path/to/file', got %v", err.Context["file"])
	}

	expected := "test error (suggestion: check file path)"
	if err.Error() != expected {
		t.Errorf("expected error string '%s', got '%s'", expected, err.Error())
	}
}

func TestMissingColumns(t *testing.T) {
	err := MissingColumns("master_sheet", []string{"B"}, []string{"A", "C"})

	if err.Category != CategoryFormat {
		t.Errorf("expected format category, got %s", err.Category)
	}
	if !strings.Contains(err.Message, "B") || !strings.Contains(err.Message, "A, C") {
		t.Errorf("message should name missing and detected columns: %s", err.Message)
	}

	wrapped := fmt.Errorf("ingest: %w", err)
	missing, detected, ok := MissingColumnsDetail(wrapped)
	if !ok {
		t.Fatal("expected MissingColumnsDetail to find the error through wrapping")
	}
	if !reflect.DeepEqual(missing, []string{"B"}) {
		t.Errorf("unexpected missing columns %v", missing)
	}
	if !reflect.DeepEqual(detected, []string{"A", "C"}) {
		t.Errorf("unexpected detected columns %v", detected)
	}

	if _, _, ok := MissingColumnsDetail(FormatError(CodeNoHeaders, "x.csv", nil)); ok {
		t.Error("expected no detail for a different code")
	}
}

func TestIsCategory(t *testing.T) {
	err := fmt.Errorf("outer: %w", ValidationError(CodeInvalidAccount, "qcode", "Bad-Code", nil))

	if !IsCategory(err, CategoryFormat, CategoryValidation) {
		t.Error("expected validation category to match")
	}
	if IsCategory(err, CategoryStorage) {
		t.Error("did not expect storage category to match")
	}
	if IsCategory(errors.New("plain"), CategoryValidation) {
		t.Error("plain errors carry no category")
	}
}

func TestWrapIfNeeded(t *testing.T) {
	if WrapIfNeeded(nil, CategoryInternal, CodeUnexpectedError, "x") != nil {
		t.Error("expected nil for nil error")
	}

	original := StorageError(CodeWriteFailed, "insert", nil)
	if got := WrapIfNeeded(original, CategoryInternal, CodeUnexpectedError, "x"); got != original {
		t.Error("expected existing IngestionError to be returned as is")
	}

	plain := errors.New("boom")
	got := WrapIfNeeded(plain, CategoryInternal, CodeUnexpectedError, "wrapped")
	if got.Category != CategoryInternal || got.Cause != plain {
		t.Errorf("unexpected wrap result: %+v", got)
	}
}

func TestGetDetailedError(t *testing.T) {
	err := FormatError(CodeUnsupportedFormat, "legacy.xls", nil)
	detail := GetDetailedError(err)

	for _, want := range []string{"ERROR:", "legacy.xls", "Suggestion"} {
		if !strings.Contains(detail, want) {
			t.Errorf("expected detail to contain %q, got:\n%s", want, detail)
		}
	}
}

func TestCatalogueFallback(t *testing.T) {
	tests := []struct {
		name string
		err  *IngestionError
		want string
	}{
		{"known code", FileError(CodeFileNotFound, "/data/a.csv", nil), "file not found: /data/a.csv"},
		{"code from another category", FileError(CodeNoMetrics, "/data/a.csv", nil), "file error: /data/a.csv"},
		{"empty code", ValidationError("", "qcode", "x y", nil), "validation error in field 'qcode': x y"},
		{"value only", ValidationError(CodeUnknownTable, "table", "nope", nil), "unknown table 'nope'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Message != tt.want {
				t.Errorf("expected message %q, got %q", tt.want, tt.err.Message)
			}
			if tt.err.Suggestion == "" {
				t.Error("expected a suggestion")
			}
		})
	}
}
