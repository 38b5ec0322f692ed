package reconciler

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"portfolio-ingestion-service/internal/models"
	"portfolio-ingestion-service/internal/parsers"
	apperrors "portfolio-ingestion-service/pkg/errors"
	"portfolio-ingestion-service/pkg/logger"
)

// ConsolidateRequest carries the two files of a consolidation.
type ConsolidateRequest struct {
	TransactionFilename string
	TransactionContent  []byte
	HoldingFilename     string
	HoldingContent      []byte
	// Persist saves the metric series when the service has a store.
	Persist bool
}

// SourceSummary describes how one input file parsed.
type SourceSummary struct {
	Filename     string             `json:"filename"`
	Table        string             `json:"table"`
	ParsedRows   int                `json:"parsed_rows"`
	FailureCount int                `json:"failure_count"`
	FailedRows   []models.FailedRow `json:"failed_rows,omitempty"`
}

// ConsolidateResponse holds the metric series and per-file summaries.
type ConsolidateResponse struct {
	Records      []models.MetricRecord `json:"records"`
	Transactions SourceSummary         `json:"transactions"`
	Holdings     SourceSummary         `json:"holdings"`
	Saved        int                   `json:"saved"`
	Duration     time.Duration         `json:"duration"`
}

// Consolidate ingests a transaction file and a holding file and folds them
// into a metric series ordered by account and date. An empty series is an
// aggregation error.
func (s *Service) Consolidate(ctx context.Context, req *ConsolidateRequest) (*ConsolidateResponse, error) {
	op := logger.NewOperationLogger("consolidate", s.logger).WithFields(logger.Fields{
		"transaction_file": req.TransactionFilename,
		"holding_file":     req.HoldingFilename,
	})

	resp, err := s.consolidate(ctx, req, op)
	if err != nil {
		op.Error(err, "Consolidation failed")
		return nil, err
	}
	resp.Duration = op.Elapsed()
	op.WithField("records", len(resp.Records)).Success("Consolidation completed")
	return resp, nil
}

func (s *Service) consolidate(ctx context.Context, req *ConsolidateRequest, op *logger.OperationLogger) (*ConsolidateResponse, error) {
	if req.Persist {
		if err := s.requireStore("save metrics"); err != nil {
			return nil, err
		}
	}

	op.Step("parse")
	var flows, positions *parsers.Result
	p := pool.New().WithErrors().WithFirstError()
	p.Go(func() error {
		var err error
		flows, err = s.ingester.Ingest(&parsers.Request{
			Table:    s.config.TransactionTable,
			Filename: req.TransactionFilename,
			Content:  req.TransactionContent,
		})
		return err
	})
	p.Go(func() error {
		var err error
		positions, err = s.ingester.Ingest(&parsers.Request{
			Table:    s.config.HoldingTable,
			Filename: req.HoldingFilename,
			Content:  req.HoldingContent,
		})
		return err
	})
	if err := p.Wait(); err != nil {
		return nil, err
	}

	op.Step("aggregate")
	records := s.aggregator.Aggregate(flows.Rows, positions.Rows)
	if len(records) == 0 {
		return nil, apperrors.AggregationError(apperrors.CodeNoMetrics, "consolidation", nil)
	}

	resp := &ConsolidateResponse{
		Records:      records,
		Transactions: s.summarise(req.TransactionFilename, flows),
		Holdings:     s.summarise(req.HoldingFilename, positions),
	}
	if failed := resp.Transactions.FailureCount + resp.Holdings.FailureCount; failed > 0 {
		op.WithFields(logger.Fields{
			"transaction_failures": resp.Transactions.FailureCount,
			"holding_failures":     resp.Holdings.FailureCount,
		}).Warning("Some rows were left out of the metrics")
	}

	if req.Persist {
		op.Step("store")
		saved, err := s.store.SaveMetrics(ctx, records)
		if err != nil {
			return nil, err
		}
		resp.Saved = saved
	}
	return resp, nil
}

func (s *Service) summarise(filename string, result *parsers.Result) SourceSummary {
	return SourceSummary{
		Filename:     filename,
		Table:        result.Table,
		ParsedRows:   len(result.Rows),
		FailureCount: len(result.Failures),
		FailedRows:   s.sample(result.Failures),
	}
}
