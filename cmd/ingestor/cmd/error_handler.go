package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	apperrors "portfolio-ingestion-service/pkg/errors"
	"portfolio-ingestion-service/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler writing to out
func NewCLIErrorHandler(out io.Writer, verbose bool) *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     out,
		verbose: verbose,
	}
}

// HandleError prints err and returns the process exit code for it.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if ingestionErr, ok := apperrors.AsIngestionError(err); ok {
		return h.handleIngestionError(ingestionErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleIngestionError(err *apperrors.IngestionError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if missing, detected, ok := apperrors.MissingColumnsDetail(err); ok {
		fmt.Fprintf(h.out, "\nMissing columns:  %s\n", strings.Join(missing, ", "))
		fmt.Fprintf(h.out, "Detected columns: %s\n", strings.Join(detected, ", "))
	} else if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for k := range err.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, k := range keys {
			if err.Context[k] == nil {
				continue
			}
			fmt.Fprintf(h.out, "  %s: %v\n", k, err.Context[k])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	case isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 6
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "Run with --verbose for more detail, or 'ingestor --help' for usage\n")
	}
	return 1
}

// getCategoryHelp returns category-specific help text
func getCategoryHelp(category apperrors.ErrorCategory) string {
	switch category {
	case apperrors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Verify the file path is correct (use absolute paths if needed)
• Ensure you have proper permissions to access the file`

	case apperrors.CategoryFormat:
		return `Format error help:
• Upload .csv, .tsv or .xlsx files (save legacy .xls workbooks as .xlsx)
• Make sure the first non-empty row holds the column names
• Compare the headers with 'ingestor schema list <table>'`

	case apperrors.CategoryValidation:
		return `Validation error help:
• Check that all required flags have values
• Verify date formats use YYYY-MM-DD and that start is on or before end
• Account codes may only contain letters, digits and underscores`

	case apperrors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Check INGESTOR_* environment variables and the .env file
• Run 'ingestor schema validate' after editing a schema file`

	case apperrors.CategoryAggregation:
		return `Aggregation error help:
• Check that both files contain account codes and dates
• Make sure the holding file has market values for the dates of interest`

	case apperrors.CategoryStorage:
		return `Storage error help:
• Check database.path (or --database) points to a writable location
• Make sure no other process holds a write lock on the database
• Re-run the upload; rows already stored are skipped`

	default:
		return `For more help:
• Use 'ingestor --help' for general help
• Use 'ingestor <command> --help' for command-specific help`
	}
}

func isFileNotFoundError(err error) bool {
	return errors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return errors.Is(err, os.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func isDiskFullError(err error) bool {
	if errors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
