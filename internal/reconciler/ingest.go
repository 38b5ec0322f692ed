package reconciler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"portfolio-ingestion-service/internal/models"
	"portfolio-ingestion-service/internal/parsers"
	"portfolio-ingestion-service/internal/storage"
	apperrors "portfolio-ingestion-service/pkg/errors"
	"portfolio-ingestion-service/pkg/logger"
)

// IngestRequest describes one single-table upload.
type IngestRequest struct {
	Table     string
	Account   string
	Filename  string
	Content   []byte
	StartDate string
	EndDate   string
	// Replace removes the account's stored rows for the table before
	// inserting.
	Replace bool
}

// IngestResponse summarises an upload. Rows holds every normalized row;
// FailedRows holds at most Config.FailureSampleSize failures.
type IngestResponse struct {
	Message      string                 `json:"message"`
	Table        string                 `json:"table"`
	Account      string                 `json:"account"`
	TotalRows    int                    `json:"total_rows"`
	ParsedRows   int                    `json:"parsed_rows"`
	InsertedRows int64                  `json:"inserted_rows"`
	Duplicates   int64                  `json:"duplicate_rows"`
	DeletedRows  int64                  `json:"deleted_rows,omitempty"`
	FailureCount int                    `json:"failure_count"`
	ColumnNames  []string               `json:"column_names"`
	FirstError   *models.FailedRow      `json:"first_error"`
	FailedRows   []models.FailedRow     `json:"failed_rows"`
	BatchID      string                 `json:"batch_id,omitempty"`
	Persisted    bool                   `json:"persisted"`
	Stats        *parsers.ParseStats    `json:"stats"`
	Duration     time.Duration          `json:"duration"`
	Rows         []models.NormalizedRow `json:"-"`
}

// Ingest parses, reconciles and normalizes one file and, when the service has
// a store, persists the rows. Row failures from parsing and from storage are
// reported together; file-level problems are returned as errors.
func (s *Service) Ingest(ctx context.Context, req *IngestRequest) (*IngestResponse, error) {
	table := TableID(req.Table)
	op := logger.NewOperationLogger("ingest", s.logger).WithFields(logger.Fields{
		"table":    table,
		"account":  req.Account,
		"filename": req.Filename,
		"replace":  req.Replace,
	})

	resp, err := s.ingest(ctx, table, req, op)
	if err != nil {
		op.Error(err, "Ingestion failed")
		return nil, err
	}
	resp.Duration = op.Elapsed()

	op.WithFields(logger.Fields{
		"parsed":   resp.ParsedRows,
		"inserted": resp.InsertedRows,
		"failed":   resp.FailureCount,
	}).Success("Ingestion completed")
	return resp, nil
}

func (s *Service) ingest(ctx context.Context, table string, req *IngestRequest, op *logger.OperationLogger) (*IngestResponse, error) {
	if err := ValidateAccount(req.Account); err != nil {
		return nil, err
	}
	if req.Replace {
		if err := s.requireStore("replace"); err != nil {
			return nil, err
		}
	}
	ts, ok := s.registry.Get(table)
	if !ok {
		return nil, apperrors.ValidationError(apperrors.CodeUnknownTable, "table", req.Table, nil)
	}
	dateRange, err := models.NewDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	op.Step("parse")
	result, err := s.ingester.Ingest(&parsers.Request{
		Table:        table,
		Filename:     req.Filename,
		Content:      req.Content,
		DateRange:    dateRange,
		AssignedDate: s.now(),
	})
	if err != nil {
		return nil, err
	}

	failures := append([]models.FailedRow(nil), result.Failures...)
	resp := &IngestResponse{
		Table:       table,
		Account:     req.Account,
		TotalRows:   result.Stats.TotalRows,
		ParsedRows:  len(result.Rows),
		ColumnNames: ts.DisplayNames(),
		Stats:       result.Stats,
		Rows:        result.Rows,
	}

	if s.store != nil {
		op.Step("store")
		insert := &storage.InsertRequest{
			Table:      table,
			Account:    req.Account,
			DateColumn: ts.DateColumn(),
			Rows:       result.Rows,
		}
		var stored *storage.InsertResult
		if req.Replace {
			stored, err = s.store.Replace(ctx, insert)
		} else {
			stored, err = s.store.InsertRows(ctx, insert)
		}
		if err != nil {
			return nil, err
		}

		resp.Persisted = true
		resp.BatchID = stored.BatchID
		resp.InsertedRows = stored.Inserted
		resp.Duplicates = stored.Duplicates
		resp.DeletedRows = stored.Deleted
		failures = append(failures, fileRows(stored.Failures, result.RowIndices)...)
		sort.SliceStable(failures, func(i, j int) bool { return failures[i].RowIndex < failures[j].RowIndex })
	}

	resp.FailureCount = len(failures)
	if len(failures) > 0 {
		first := failures[0]
		resp.FirstError = &first
	}
	resp.FailedRows = s.sample(failures)

	if resp.Persisted {
		resp.Message = fmt.Sprintf("%d rows inserted, %d failed", resp.InsertedRows, resp.FailureCount)
	} else {
		resp.Message = fmt.Sprintf("%d rows parsed, %d failed", resp.ParsedRows, resp.FailureCount)
	}

	if resp.FailureCount > 0 {
		op.WithField("first_error", resp.FirstError.String()).Warning("Some rows failed")
	}
	return resp, nil
}

// fileRows maps storage failures, numbered by position among the inserted
// rows, back to the row numbers of the uploaded file.
func fileRows(failures []models.FailedRow, indices []int) []models.FailedRow {
	mapped := make([]models.FailedRow, len(failures))
	for i, f := range failures {
		if f.RowIndex >= 1 && f.RowIndex <= len(indices) {
			f.RowIndex = indices[f.RowIndex-1]
		}
		mapped[i] = f
	}
	return mapped
}

// DeleteRequest selects stored rows to remove.
type DeleteRequest struct {
	Table     string
	Account   string
	StartDate string
	EndDate   string
}

// Delete removes an account's stored rows of one table within an inclusive
// date range. Both bounds are required.
func (s *Service) Delete(ctx context.Context, req *DeleteRequest) (int64, error) {
	if err := s.requireStore("delete"); err != nil {
		return 0, err
	}
	if err := ValidateAccount(req.Account); err != nil {
		return 0, err
	}
	table := TableID(req.Table)
	if _, ok := s.registry.Get(table); !ok {
		return 0, apperrors.ValidationError(apperrors.CodeUnknownTable, "table", req.Table, nil)
	}
	dateRange, err := models.NewDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return 0, err
	}
	if dateRange == nil {
		return 0, apperrors.ValidationError(apperrors.CodeInvalidRange, "date_range", "start and end dates are required", nil)
	}

	var deleted int64
	err = logger.TimedOperation("delete "+table, s.logger, func() error {
		var err error
		deleted, err = s.store.DeleteRange(ctx, table, req.Account, dateRange)
		return err
	})
	return deleted, err
}
