// Package storage persists normalized rows and metric series in SQLite.
//
// Rows from every table share one ingested_rows table keyed by table name,
// account code and a hash of the row content, so re-uploading a file skips
// rows that are already stored. Metric series are upserted by account and
// date into portfolio_metrics.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	_ "modernc.org/sqlite"

	apperrors "portfolio-ingestion-service/pkg/errors"
	"portfolio-ingestion-service/pkg/logger"
)

// Config controls the database location and the shape of batch inserts.
type Config struct {
	Path           string        `json:"path" mapstructure:"path"`
	BatchSize      int           `json:"batch_size" mapstructure:"batch_size"`
	MaxConcurrency int           `json:"max_concurrency" mapstructure:"max_concurrency"`
	BatchRetries   int           `json:"batch_retries" mapstructure:"batch_retries"`
	BusyTimeout    time.Duration `json:"busy_timeout" mapstructure:"busy_timeout"`
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig() Config {
	return Config{
		Path:           "ingestor.db",
		BatchSize:      500,
		MaxConcurrency: 4,
		BatchRetries:   1,
		BusyTimeout:    5 * time.Second,
	}
}

// Validate validates the storage configuration
func (c Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.BatchRetries < 0 {
		return fmt.Errorf("batch retries cannot be negative, got %d", c.BatchRetries)
	}
	return nil
}

// Store is a SQLite-backed row and metric store. It is safe for concurrent
// use.
type Store struct {
	db     *sql.DB
	config Config
	logger logger.Logger
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS ingested_rows (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id TEXT NOT NULL,
	table_name TEXT NOT NULL,
	account_code TEXT NOT NULL,
	row_date TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(table_name, account_code, content_hash)
);

CREATE INDEX IF NOT EXISTS idx_ingested_rows_account_date
	ON ingested_rows(table_name, account_code, row_date);

CREATE TABLE IF NOT EXISTS portfolio_metrics (
	account_code TEXT NOT NULL,
	date TEXT NOT NULL,
	portfolio_value TEXT NOT NULL,
	nav TEXT NOT NULL,
	pnl TEXT NOT NULL,
	drawdown_pct TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY(account_code, date)
);
`

// Open opens (creating if needed) the database at config.Path and ensures
// the tables exist.
func Open(ctx context.Context, config Config, log logger.Logger) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "database", config.Path, err)
	}

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperrors.StorageError(apperrors.CodeStorageUnavailable, "open", err).
				WithContext("path", config.Path)
		}
	}

	db, err := sql.Open("sqlite", dsn(config))
	if err != nil {
		return nil, apperrors.StorageError(apperrors.CodeStorageUnavailable, "open", err).
			WithContext("path", config.Path)
	}
	db.SetMaxOpenConns(config.MaxConcurrency)

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return nil, apperrors.StorageError(apperrors.CodeStorageUnavailable, "migrate",
			multierr.Append(err, db.Close())).WithContext("path", config.Path)
	}

	store := &Store{
		db:     db,
		config: config,
		logger: logger.OrGlobal(log).WithComponent("storage"),
	}
	store.logger.WithField("path", config.Path).Info("Database tables ensured")
	return store, nil
}

func dsn(config Config) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", config.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_txlock", "immediate")
	return "file:" + config.Path + "?" + q.Encode()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.StorageError(apperrors.CodeStorageUnavailable, "ping", err)
	}
	return nil
}
