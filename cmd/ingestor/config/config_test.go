package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"portfolio-ingestion-service/internal/reporter"
	apperrors "portfolio-ingestion-service/pkg/errors"
	"portfolio-ingestion-service/pkg/logger"
)

func newViper(t *testing.T, fs afero.Fs) *viper.Viper {
	t.Helper()
	v := viper.New()
	ConfigureViper(v, fs)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper(t, afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Default()
	if diff := cmp.Diff(want.Database, cfg.Database); diff != "" {
		t.Errorf("database config mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Server, cfg.Server); diff != "" {
		t.Errorf("server config mismatch (-want +got):\n%s", diff)
	}
	if cfg.Ingestion.FailureSampleSize != 10 {
		t.Errorf("expected failure sample size 10, got %d", cfg.Ingestion.FailureSampleSize)
	}
	if cfg.Ingestion.Parse == nil || cfg.Ingestion.Parse.SampleSize != 2048 {
		t.Errorf("expected parse defaults to survive decoding, got %+v", cfg.Ingestion.Parse)
	}
	if cfg.Report.CSVDelimiter != ',' {
		t.Errorf("expected ',' delimiter, got %q", cfg.Report.CSVDelimiter)
	}
}

func TestLoadConfigFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := `
log:
  level: debug
  format: json
database:
  path: /data/portfolio.db
  batch_size: 100
  busy_timeout: 250ms
server:
  addr: ":9090"
  cache_ttl: 1m
ingestion:
  failure_sample_size: 3
report:
  csv_delimiter: ";"
`
	if err := afero.WriteFile(fs, "/etc/ingestor.yaml", []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	v := newViper(t, fs)
	v.SetConfigFile("/etc/ingestor.yaml")
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("failed to read config: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Log.Level != logger.DebugLevel || cfg.Log.Format != logger.JSONFormat {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.Database.Path != "/data/portfolio.db" || cfg.Database.BatchSize != 100 {
		t.Errorf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Database.BusyTimeout != 250*time.Millisecond {
		t.Errorf("expected busy timeout 250ms, got %v", cfg.Database.BusyTimeout)
	}
	if cfg.Database.MaxConcurrency != 4 {
		t.Errorf("expected unset keys to keep defaults, got max concurrency %d", cfg.Database.MaxConcurrency)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.CacheTTL != time.Minute {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Ingestion.FailureSampleSize != 3 {
		t.Errorf("expected failure sample size 3, got %d", cfg.Ingestion.FailureSampleSize)
	}
	if cfg.Report.CSVDelimiter != ';' {
		t.Errorf("expected ';' delimiter, got %q", cfg.Report.CSVDelimiter)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("INGESTOR_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("INGESTOR_SERVER_RATE_BURST", "7")
	t.Setenv("INGESTOR_REPORT_CSV_DELIMITER", `\t`)

	cfg, err := Load(newViper(t, afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("expected env database path, got %q", cfg.Database.Path)
	}
	if cfg.Server.RateBurst != 7 {
		t.Errorf("expected rate burst 7, got %d", cfg.Server.RateBurst)
	}
	if cfg.Report.CSVDelimiter != '\t' {
		t.Errorf("expected tab delimiter, got %q", cfg.Report.CSVDelimiter)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := map[string]map[string]interface{}{
		"log level":      {"log.level": "loud"},
		"batch size":     {"database.batch_size": 0},
		"server addr":    {"server.addr": ""},
		"delimiter":      {"report.csv_delimiter": "ab"},
		"max failures":   {"report.max_failures": -1},
		"parse sampling": {"ingestion.parse.sample_size": 0},
	}

	for name, overrides := range tests {
		t.Run(name, func(t *testing.T) {
			v := newViper(t, afero.NewMemMapFs())
			for k, val := range overrides {
				v.Set(k, val)
			}
			_, err := Load(v)
			if err == nil {
				t.Fatal("expected error but got none")
			}
			if !apperrors.IsCategory(err, apperrors.CategoryConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestCreateReportConfig(t *testing.T) {
	cfg := Default()
	cfg.Report.MaxFailures = 3
	cfg.Report.CSVDelimiter = ';'

	for _, format := range []string{"console", "JSON", "csv"} {
		rc := cfg.CreateReportConfig(format)
		if err := rc.Validate(); err != nil {
			t.Errorf("report config for %s should be valid: %v", format, err)
		}
		if rc.MaxFailures != 3 || rc.CSVDelimiter != ';' {
			t.Errorf("settings not applied for %s: %+v", format, rc)
		}
	}
	if got := cfg.CreateReportConfig("JSON").Format; got != reporter.FormatJSON {
		t.Errorf("expected json format, got %s", got)
	}
	if err := cfg.CreateReportConfig("xml").Validate(); err == nil {
		t.Error("expected xml to be rejected")
	}
}

func TestLoadRegistry(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := Default()

	registry, err := cfg.LoadRegistry(fs)
	if err != nil {
		t.Fatalf("built-in registry should load: %v", err)
	}
	if _, ok := registry.Get("master_sheet"); !ok {
		t.Error("expected master_sheet in the built-in registry")
	}

	cfg.SchemaFile = "/missing.yaml"
	if _, err := cfg.LoadRegistry(fs); !apperrors.IsCategory(err, apperrors.CategoryConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestReadInput(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/in/a.csv", []byte("x,y\n"), 0o644); err != nil {
		t.Fatalf("failed to write input: %v", err)
	}

	content, err := ReadInput(fs, "/in/a.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(content) != "x,y\n" {
		t.Errorf("unexpected content %q", content)
	}

	tests := []struct {
		name string
		path string
		code apperrors.ErrorCode
	}{
		{"empty path", "", apperrors.CodeMissingField},
		{"missing file", "/in/b.csv", apperrors.CodeFileNotFound},
		{"directory", "/in", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadInput(fs, tt.path)
			ie, ok := apperrors.AsIngestionError(err)
			if !ok {
				t.Fatalf("expected ingestion error, got %v", err)
			}
			if ie.Code != tt.code {
				t.Errorf("expected code %q, got %q", tt.code, ie.Code)
			}
		})
	}
}
