package reporter

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"portfolio-ingestion-service/internal/models"
	"portfolio-ingestion-service/internal/reconciler"
	"portfolio-ingestion-service/pkg/errors"
	"portfolio-ingestion-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with fallbacks: a JSON or CSV
// rendering that fails is retried as console output, and an output file that
// cannot be created is replaced by a backup file next to it.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator validates config and returns a generator whose
// failures are IngestionErrors.
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report_config", config, err).
			WithSuggestion("use one of: console, json, csv")
	}
	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          logger.OrGlobal(log).WithComponent("reporter"),
	}, nil
}

type renderFunc func(rg *ReportGenerator, w io.Writer) error

// renderer picks the rendering for an ingestion response, a consolidation
// response or a bare metric series.
func renderer(result interface{}) (renderFunc, error) {
	switch r := result.(type) {
	case *reconciler.IngestResponse:
		if r != nil {
			return func(rg *ReportGenerator, w io.Writer) error { return rg.WriteIngestion(r, w) }, nil
		}
	case *reconciler.ConsolidateResponse:
		if r != nil {
			return func(rg *ReportGenerator, w io.Writer) error { return rg.WriteConsolidation(r, w) }, nil
		}
	case []models.MetricRecord:
		return func(rg *ReportGenerator, w io.Writer) error { return rg.WriteMetrics(r, w) }, nil
	}
	return nil, errors.ValidationError(errors.CodeMissingField, "result", fmt.Sprintf("%T", result), nil).
		WithSuggestion("provide an ingestion result, a consolidation result or a metric series")
}

// GenerateReportSafely renders result to writer, falling back to console
// output if the configured format fails.
func (srg *SafeReportGenerator) GenerateReportSafely(result interface{}, writer io.Writer) error {
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil)
	}
	render, err := renderer(result)
	if err != nil {
		srg.logger.WithError(err).Error("Invalid result type for report generation")
		return err
	}

	log := srg.logger.WithField("format", srg.config.Format)
	log.Debug("Starting report generation")

	if err := srg.renderWithFallback(render, writer); err != nil {
		log.WithError(err).Error("Report generation failed")
		return err
	}
	return nil
}

// WriteFile renders result into path on fs. When path cannot be created the
// report goes to a backup file in the same directory and a warning is
// logged; the backup path is returned either way.
func (srg *SafeReportGenerator) WriteFile(fs afero.Fs, path string, result interface{}) (written string, err error) {
	render, err := renderer(result)
	if err != nil {
		return "", err
	}

	written = path
	f, err := fs.Create(path)
	if err != nil {
		written = backupPath(path)
		srg.logger.WithError(err).WithFields(logger.Fields{
			"output_file": path,
			"backup_file": written,
		}).Warn("Cannot create output file, writing backup")

		var berr error
		if f, berr = fs.Create(written); berr != nil {
			return "", errors.FileError(errors.CodeFilePermission, path, err).
				WithContext("backup_error", berr.Error())
		}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.FileError("", written, cerr)
		}
	}()

	if err := srg.renderWithFallback(render, f); err != nil {
		return written, err
	}
	return written, nil
}

func (srg *SafeReportGenerator) renderWithFallback(render renderFunc, w io.Writer) error {
	err := render(srg.ReportGenerator, w)
	if err == nil {
		return nil
	}
	if srg.config.Format == FormatConsole || isOutputError(err) {
		return wrapGenerationError(err)
	}

	srg.logger.WithError(err).WithField("fallback_format", FormatConsole).Warn("Report rendering failed, falling back to console format")

	fallback := *srg.config
	fallback.Format = FormatConsole
	fallbackGen := &ReportGenerator{config: &fallback}

	fmt.Fprintf(w, "NOTE: %s rendering failed (%v); console report follows\n\n", srg.config.Format, err)
	if ferr := render(fallbackGen, w); ferr != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report_fallback",
			fmt.Errorf("%s rendering failed: %v; console fallback failed: %w", srg.config.Format, err, ferr))
	}
	return nil
}

// isOutputError reports failures of the destination rather than of the
// rendering; rendering again into the same destination would not help.
func isOutputError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"no space left", "disk full", "permission denied", "bad file descriptor", "file already closed"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func backupPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_backup" + ext
}

func wrapGenerationError(err error) error {
	if ingestionErr, ok := errors.AsIngestionError(err); ok {
		return ingestionErr
	}
	return errors.InternalError(errors.CodeUnexpectedError, "report_generation", err).
		WithSuggestion("check the output destination and report format settings")
}
