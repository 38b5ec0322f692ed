// Package config assembles the ingestor's configuration from defaults, a
// config file, INGESTOR_* environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"portfolio-ingestion-service/internal/reconciler"
	"portfolio-ingestion-service/internal/reporter"
	"portfolio-ingestion-service/internal/schema"
	"portfolio-ingestion-service/internal/server"
	"portfolio-ingestion-service/internal/storage"
	apperrors "portfolio-ingestion-service/pkg/errors"
	"portfolio-ingestion-service/pkg/logger"
)

// EnvPrefix is the prefix of environment variables read by the CLI.
const EnvPrefix = "INGESTOR"

// ReportSettings holds the report options that are not chosen per command.
type ReportSettings struct {
	IncludeFailures bool `json:"include_failures" mapstructure:"include_failures"`
	MaxFailures     int  `json:"max_failures" mapstructure:"max_failures"`
	IncludeStats    bool `json:"include_stats" mapstructure:"include_stats"`
	CSVDelimiter    rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
}

// AppConfig is the complete configuration of the ingestor.
type AppConfig struct {
	// SchemaFile replaces the built-in table catalogue when set.
	SchemaFile string             `json:"schema_file" mapstructure:"schema_file"`
	Log        logger.Config      `json:"log" mapstructure:"log"`
	Database   storage.Config     `json:"database" mapstructure:"database"`
	Server     server.Config      `json:"server" mapstructure:"server"`
	Ingestion  *reconciler.Config `json:"ingestion" mapstructure:"ingestion"`
	Report     ReportSettings     `json:"report" mapstructure:"report"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *AppConfig {
	return &AppConfig{
		Log:       *logger.DefaultConfig(),
		Database:  storage.DefaultConfig(),
		Server:    server.DefaultConfig(),
		Ingestion: reconciler.DefaultConfig(),
		Report: ReportSettings{
			IncludeFailures: true,
			MaxFailures:     10,
			IncludeStats:    true,
			CSVDelimiter:    ',',
		},
	}
}

// SetDefaults registers every configuration key with v so that environment
// variables can override keys that appear in no config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("schema_file", d.SchemaFile)

	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("log.format", string(d.Log.Format))
	v.SetDefault("log.output", string(d.Log.Output))
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.caller_info", d.Log.CallerInfo)

	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.batch_size", d.Database.BatchSize)
	v.SetDefault("database.max_concurrency", d.Database.MaxConcurrency)
	v.SetDefault("database.batch_retries", d.Database.BatchRetries)
	v.SetDefault("database.busy_timeout", d.Database.BusyTimeout)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.max_upload_bytes", d.Server.MaxUploadBytes)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)
	v.SetDefault("server.cache_ttl", d.Server.CacheTTL)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("ingestion.failure_sample_size", d.Ingestion.FailureSampleSize)
	v.SetDefault("ingestion.transaction_table", d.Ingestion.TransactionTable)
	v.SetDefault("ingestion.holding_table", d.Ingestion.HoldingTable)
	v.SetDefault("ingestion.parse.sample_size", d.Ingestion.Parse.SampleSize)
	v.SetDefault("ingestion.parse.max_field_size", d.Ingestion.Parse.MaxFieldSize)

	v.SetDefault("report.include_failures", d.Report.IncludeFailures)
	v.SetDefault("report.max_failures", d.Report.MaxFailures)
	v.SetDefault("report.include_stats", d.Report.IncludeStats)
	v.SetDefault("report.csv_delimiter", string(d.Report.CSVDelimiter))
}

// ConfigureViper applies the ingestor's environment conventions to v:
// INGESTOR_ prefix, dots in keys become underscores, and reads go through fs.
func ConfigureViper(v *viper.Viper, fs afero.Fs) {
	v.SetFs(fs)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// Load decodes the settings held by v into an AppConfig and validates it.
func Load(v *viper.Viper) (*AppConfig, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "config", err.Error(), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "config", err.Error(), err)
	}
	return cfg, nil
}

// DecodeHook converts the string forms used in files and environment
// variables: durations ("5s"), comma separated lists and single-character
// delimiters ("\t" or ";").
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToRuneHook(),
	)
}

func stringToRuneHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Int32 {
			return data, nil
		}
		s := reflect.ValueOf(data).String()
		switch s {
		case `\t`, "tab":
			return '\t', nil
		case "":
			return rune(0), nil
		}
		if utf8.RuneCountInString(s) != 1 {
			return nil, fmt.Errorf("expected a single character, got %q", s)
		}
		r, _ := utf8.DecodeRuneInString(s)
		return r, nil
	}
}

// Validate checks every section and reports all problems together.
func (c *AppConfig) Validate() error {
	var errs error
	if err := c.Log.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log: %w", err))
	}
	if err := c.Database.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("database: %w", err))
	}
	if err := c.Server.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("server: %w", err))
	}
	if c.Ingestion == nil {
		errs = multierr.Append(errs, fmt.Errorf("ingestion: section is required"))
	} else if c.Ingestion.Parse != nil {
		if err := c.Ingestion.Parse.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("ingestion.parse: %w", err))
		}
	}
	if c.Report.MaxFailures < 0 {
		errs = multierr.Append(errs, fmt.Errorf("report: max failures cannot be negative, got %d", c.Report.MaxFailures))
	}
	return errs
}

// CreateReportConfig creates a report configuration for the specified output format
func (c *AppConfig) CreateReportConfig(format string) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))
	config.IncludeFailures = c.Report.IncludeFailures
	config.MaxFailures = c.Report.MaxFailures
	config.IncludeStats = c.Report.IncludeStats
	if c.Report.CSVDelimiter != 0 {
		config.CSVDelimiter = c.Report.CSVDelimiter
	}
	return config
}

// LoadRegistry returns the schema registry named by SchemaFile, or the
// built-in catalogue.
func (c *AppConfig) LoadRegistry(fs afero.Fs) (*schema.Registry, error) {
	if c.SchemaFile == "" {
		return schema.Default()
	}
	return schema.LoadFile(fs, c.SchemaFile)
}

// ReadInput reads an input file, mapping the usual failures onto file errors.
func ReadInput(fs afero.Fs, path string) ([]byte, error) {
	if path == "" {
		return nil, apperrors.ValidationError(apperrors.CodeMissingField, "file", nil, nil)
	}

	info, err := fs.Stat(path)
	switch {
	case os.IsNotExist(err):
		return nil, apperrors.FileError(apperrors.CodeFileNotFound, path, err)
	case os.IsPermission(err):
		return nil, apperrors.FileError(apperrors.CodeFilePermission, path, err)
	case err != nil:
		return nil, apperrors.FileError("", path, err)
	case info.IsDir():
		return nil, apperrors.FileError("", path, fmt.Errorf("%s is a directory, expected a file", path))
	}

	content, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, apperrors.FileError(apperrors.CodeFilePermission, path, err)
		}
		return nil, apperrors.FileError("", path, err)
	}
	return content, nil
}
