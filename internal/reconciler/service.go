// Package reconciler coordinates ingestion workflows: single-table uploads
// that reconcile a file against its schema and persist the rows, and
// consolidations that fold a transaction file and a holding file into a
// per-account metric series.
//
// Example usage:
//
//	svc, err := reconciler.NewService(registry, reconciler.DefaultConfig(), store, log)
//	resp, err := svc.Ingest(ctx, &reconciler.IngestRequest{
//		Table:    "master_sheet",
//		Account:  "acc1",
//		Filename: "master.csv",
//		Content:  content,
//	})
package reconciler

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"portfolio-ingestion-service/internal/metrics"
	"portfolio-ingestion-service/internal/models"
	"portfolio-ingestion-service/internal/parsers"
	"portfolio-ingestion-service/internal/schema"
	"portfolio-ingestion-service/internal/storage"
	apperrors "portfolio-ingestion-service/pkg/errors"
	"portfolio-ingestion-service/pkg/logger"
)

// RowStore persists normalized rows.
type RowStore interface {
	InsertRows(ctx context.Context, req *storage.InsertRequest) (*storage.InsertResult, error)
	Replace(ctx context.Context, req *storage.InsertRequest) (*storage.InsertResult, error)
	DeleteRange(ctx context.Context, table, account string, r *models.DateRange) (int64, error)
}

// MetricStore persists metric series.
type MetricStore interface {
	SaveMetrics(ctx context.Context, records []models.MetricRecord) (int, error)
}

// Store is everything the service persists. *storage.Store implements it.
type Store interface {
	RowStore
	MetricStore
}

// Config holds configuration options for the service
type Config struct {
	// FailureSampleSize caps the failed rows returned with a response.
	FailureSampleSize int `json:"failure_sample_size" mapstructure:"failure_sample_size"`

	TransactionTable string `json:"transaction_table" mapstructure:"transaction_table"`
	HoldingTable     string `json:"holding_table" mapstructure:"holding_table"`

	Parse       *parsers.ParseConfig `json:"parse" mapstructure:"parse"`
	Aggregation metrics.Config       `json:"aggregation" mapstructure:"aggregation"`
}

// DefaultConfig returns a default configuration for the service
func DefaultConfig() *Config {
	return &Config{
		FailureSampleSize: 10,
		TransactionTable:  "transaction_class",
		HoldingTable:      "holding_asset_class",
		Parse:             parsers.DefaultParseConfig(),
		Aggregation:       metrics.DefaultConfig(),
	}
}

// Validate validates the configuration
func (c *Config) Validate(registry *schema.Registry) error {
	if c.FailureSampleSize < 0 {
		return fmt.Errorf("failure sample size cannot be negative, got %d", c.FailureSampleSize)
	}
	for _, table := range []string{c.TransactionTable, c.HoldingTable} {
		if _, ok := registry.Get(table); !ok {
			return fmt.Errorf("consolidation table %q is not defined in the schema", table)
		}
	}
	return nil
}

var accountPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidateAccount checks an account code. Codes are matched case-insensitively
// against letters, digits and underscores.
func ValidateAccount(account string) error {
	if !accountPattern.MatchString(strings.ToLower(account)) {
		return apperrors.ValidationError(apperrors.CodeInvalidAccount, "qcode", account, nil)
	}
	return nil
}

// TableID maps a route-style table name such as "master-sheet" to its
// schema identifier.
func TableID(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

// Service runs ingestion and consolidation workflows.
type Service struct {
	registry   *schema.Registry
	ingester   *parsers.Ingester
	aggregator *metrics.Aggregator
	store      Store
	config     *Config
	logger     logger.Logger
	now        func() time.Time
}

// NewService creates a Service. store may be nil, in which case nothing is
// persisted and responses describe parsed rows only.
func NewService(registry *schema.Registry, config *Config, store Store, log logger.Logger) (*Service, error) {
	if registry == nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeMissingConfig, "schema registry", nil, nil)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(registry); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "reconciler", err.Error(), err)
	}

	log = logger.OrGlobal(log)
	ingester, err := parsers.NewIngester(registry, config.Parse, log)
	if err != nil {
		return nil, err
	}

	return &Service{
		registry:   registry,
		ingester:   ingester,
		aggregator: metrics.NewAggregator(config.Aggregation, log),
		store:      store,
		config:     config,
		logger:     log.WithComponent("reconciler"),
		now:        time.Now,
	}, nil
}

// Registry returns the schema registry the service was built with.
func (s *Service) Registry() *schema.Registry {
	return s.registry
}

// Persistent reports whether the service writes to a store.
func (s *Service) Persistent() bool {
	return s.store != nil
}

func (s *Service) sample(failures []models.FailedRow) []models.FailedRow {
	if len(failures) <= s.config.FailureSampleSize {
		return failures
	}
	return failures[:s.config.FailureSampleSize]
}

func (s *Service) requireStore(operation string) error {
	if s.store == nil {
		return apperrors.StorageError(apperrors.CodeStorageUnavailable, operation, nil).
			WithSuggestion("configure database.path or pass --store")
	}
	return nil
}
