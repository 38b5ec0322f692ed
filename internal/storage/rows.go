package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"portfolio-ingestion-service/internal/models"
	apperrors "portfolio-ingestion-service/pkg/errors"
	"portfolio-ingestion-service/pkg/logger"
)

// InsertRequest describes rows of one table for one account.
type InsertRequest struct {
	Table      string
	Account    string
	DateColumn string
	Rows       []models.NormalizedRow
}

// InsertResult summarises an insert. Failures carry the 1-based position of
// the row within the request.
type InsertResult struct {
	BatchID    string
	Attempted  int
	Inserted   int64
	Duplicates int64
	Deleted    int64
	Failures   []models.FailedRow
}

const insertRowSQL = `INSERT OR IGNORE INTO ingested_rows
	(batch_id, table_name, account_code, row_date, content_hash, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

type encodedRow struct {
	position int
	date     string
	hash     string
	payload  string
}

type insertState struct {
	batchID   string
	req       *InsertRequest
	createdAt string
	inserted  *atomic.Int64
	dupes     *atomic.Int64
	mu        sync.Mutex
	failures  []models.FailedRow
}

func (st *insertState) fail(position int, row models.NormalizedRow, err error) {
	raw := make(map[string]string, len(row))
	for k, v := range row.Serialize() {
		if v != nil {
			raw[k] = fmt.Sprint(v)
		}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.failures = append(st.failures, models.FailedRow{
		RowIndex: position,
		Error:    err.Error(),
		RawRow:   raw,
	})
}

// InsertRows writes rows in batches of config.BatchSize, running up to
// config.MaxConcurrency batches at once. Rows already stored for the same
// table and account are counted as duplicates. A batch that fails is retried
// config.BatchRetries times and then written row by row so that one bad row
// does not lose its neighbours.
func (s *Store) InsertRows(ctx context.Context, req *InsertRequest) (*InsertResult, error) {
	st := &insertState{
		batchID:   uuid.NewString(),
		req:       req,
		createdAt: time.Now().UTC().Format(time.RFC3339),
		inserted:  atomic.NewInt64(0),
		dupes:     atomic.NewInt64(0),
	}
	log := s.logger.WithFields(logger.Fields{
		"batch_id": st.batchID,
		"table":    req.Table,
		"account":  req.Account,
	})

	encoded := make([]encodedRow, 0, len(req.Rows))
	for i, row := range req.Rows {
		e, err := encodeRow(i+1, row, req.DateColumn)
		if err != nil {
			st.fail(i+1, row, err)
			continue
		}
		encoded = append(encoded, e)
	}

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "insert " + req.Table,
		Total:     int64(len(encoded)),
		Logger:    log,
	})

	p := pool.New().WithMaxGoroutines(s.config.MaxConcurrency).WithContext(ctx)
	for start := 0; start < len(encoded); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(encoded) {
			end = len(encoded)
		}
		batch := encoded[start:end]
		p.Go(func(ctx context.Context) error {
			err := s.insertBatch(ctx, st, batch, log)
			progress.Add(int64(len(batch)))
			return err
		})
	}

	if err := p.Wait(); err != nil {
		progress.CompleteWithError(err)
		return nil, apperrors.StorageError(apperrors.CodeWriteFailed, "insert "+req.Table, err)
	}
	progress.Complete()

	sort.Slice(st.failures, func(i, j int) bool { return st.failures[i].RowIndex < st.failures[j].RowIndex })
	return &InsertResult{
		BatchID:    st.batchID,
		Attempted:  len(req.Rows),
		Inserted:   st.inserted.Load(),
		Duplicates: st.dupes.Load(),
		Failures:   st.failures,
	}, nil
}

// insertBatch returns an error only when the context is done; write failures
// are recorded on st.
func (s *Store) insertBatch(ctx context.Context, st *insertState, batch []encodedRow, log logger.Logger) error {
	var err error
	for attempt := 0; attempt <= s.config.BatchRetries; attempt++ {
		var inserted int64
		if inserted, err = s.writeBatch(ctx, st, batch); err == nil {
			st.inserted.Add(inserted)
			st.dupes.Add(int64(len(batch)) - inserted)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).WithFields(logger.Fields{
			"attempt":  attempt + 1,
			"rows":     len(batch),
			"first_at": batch[0].position,
		}).Warn("Batch insert failed")
	}

	log.WithField("first_at", batch[0].position).Warn("Falling back to row-by-row insert")
	for _, row := range batch {
		res, err := s.db.ExecContext(ctx, insertRowSQL,
			st.batchID, st.req.Table, st.req.Account, row.date, row.hash, row.payload, st.createdAt)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			st.fail(row.position, st.req.Rows[row.position-1], err)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			st.inserted.Inc()
		} else {
			st.dupes.Inc()
		}
	}
	return nil
}

func (s *Store) writeBatch(ctx context.Context, st *insertState, batch []encodedRow) (inserted int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertRowSQL)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, row := range batch {
		var res sql.Result
		res, err = stmt.ExecContext(ctx, st.batchID, st.req.Table, st.req.Account, row.date, row.hash, row.payload, st.createdAt)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", row.position, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func encodeRow(position int, row models.NormalizedRow, dateColumn string) (encodedRow, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return encodedRow{}, fmt.Errorf("encode row: %w", err)
	}
	sum := sha256.Sum256(payload)

	var date string
	if t, ok := row.Time(dateColumn); ok {
		date = models.CalendarDate(t).Format(models.ISODate)
	}
	return encodedRow{
		position: position,
		date:     date,
		hash:     hex.EncodeToString(sum[:]),
		payload:  string(payload),
	}, nil
}

// DeleteRange removes an account's rows of one table whose date falls in r.
// A nil range removes all of them.
func (s *Store) DeleteRange(ctx context.Context, table, account string, r *models.DateRange) (int64, error) {
	query := `DELETE FROM ingested_rows WHERE table_name = ? AND account_code = ?`
	args := []any{table, account}
	if r != nil {
		query += ` AND row_date >= ? AND row_date <= ?`
		args = append(args, r.Start.Format(models.ISODate), r.End.Format(models.ISODate))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperrors.StorageError(apperrors.CodeWriteFailed, "delete "+table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.StorageError(apperrors.CodeWriteFailed, "delete "+table, err)
	}

	s.logger.WithFields(logger.Fields{
		"table":   table,
		"account": account,
		"range":   r.String(),
		"deleted": n,
	}).Info("Deleted rows")
	return n, nil
}

// Replace removes every stored row of the account for the table and then
// inserts req.Rows.
func (s *Store) Replace(ctx context.Context, req *InsertRequest) (*InsertResult, error) {
	deleted, err := s.DeleteRange(ctx, req.Table, req.Account, nil)
	if err != nil {
		return nil, err
	}
	result, err := s.InsertRows(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Deleted = deleted
	return result, nil
}

// CountRows returns the number of stored rows of the account for the table.
func (s *Store) CountRows(ctx context.Context, table, account string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ingested_rows WHERE table_name = ? AND account_code = ?`,
		table, account).Scan(&n)
	if err != nil {
		return 0, apperrors.StorageError(apperrors.CodeStorageUnavailable, "count "+table, err)
	}
	return n, nil
}
