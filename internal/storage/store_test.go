package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-ingestion-service/internal/models"
	apperrors "portfolio-ingestion-service/pkg/errors"
)

func openTestStore(t *testing.T, mutate func(*Config)) *Store {
	t.Helper()
	config := DefaultConfig()
	config.Path = filepath.Join(t.TempDir(), "test.db")
	config.BatchSize = 3
	if mutate != nil {
		mutate(&config)
	}
	store, err := Open(context.Background(), config, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func capitalRows(n int) []models.NormalizedRow {
	rows := make([]models.NormalizedRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, models.NormalizedRow{
			"Date":           time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
			"Account":        "acc1",
			"Capital In/Out": decimal.NewFromInt(int64(100 * (i + 1))),
		})
	}
	return rows
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "empty path", mutate: func(c *Config) { c.Path = "" }, wantErr: true},
		{name: "zero batch", mutate: func(c *Config) { c.BatchSize = 0 }, wantErr: true},
		{name: "zero concurrency", mutate: func(c *Config) { c.MaxConcurrency = 0 }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.BatchRetries = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)
			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.BatchSize = 0
	_, err := Open(context.Background(), config, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryConfiguration))
}

func TestInsertRowsBatchesAndSkipsDuplicates(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	req := &InsertRequest{Table: "capital_in_out", Account: "acc1", DateColumn: "Date", Rows: capitalRows(10)}
	result, err := store.InsertRows(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, 10, result.Attempted)
	assert.EqualValues(t, 10, result.Inserted)
	assert.EqualValues(t, 0, result.Duplicates)
	assert.Empty(t, result.Failures)

	again, err := store.InsertRows(ctx, req)
	require.NoError(t, err)
	assert.EqualValues(t, 0, again.Inserted)
	assert.EqualValues(t, 10, again.Duplicates)

	count, err := store.CountRows(ctx, "capital_in_out", "acc1")
	require.NoError(t, err)
	assert.EqualValues(t, 10, count)

	other, err := store.CountRows(ctx, "capital_in_out", "acc2")
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestInsertRowsEmpty(t *testing.T) {
	store := openTestStore(t, nil)

	result, err := store.InsertRows(context.Background(), &InsertRequest{Table: "slippage", Account: "acc1", DateColumn: "Date"})
	require.NoError(t, err)
	assert.Zero(t, result.Attempted)
	assert.Zero(t, result.Inserted)
}

func TestInsertRowsCancelledContext(t *testing.T) {
	store := openTestStore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.InsertRows(ctx, &InsertRequest{Table: "capital_in_out", Account: "acc1", DateColumn: "Date", Rows: capitalRows(4)})
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryStorage))
}

func TestDeleteRangeIsInclusive(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	_, err := store.InsertRows(ctx, &InsertRequest{Table: "capital_in_out", Account: "acc1", DateColumn: "Date", Rows: capitalRows(10)})
	require.NoError(t, err)

	r, err := models.NewDateRange("2024-01-03", "2024-01-05")
	require.NoError(t, err)

	deleted, err := store.DeleteRange(ctx, "capital_in_out", "acc1", r)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	count, err := store.CountRows(ctx, "capital_in_out", "acc1")
	require.NoError(t, err)
	assert.EqualValues(t, 7, count)
}

func TestReplace(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	_, err := store.InsertRows(ctx, &InsertRequest{Table: "capital_in_out", Account: "acc1", DateColumn: "Date", Rows: capitalRows(5)})
	require.NoError(t, err)
	_, err = store.InsertRows(ctx, &InsertRequest{Table: "capital_in_out", Account: "acc2", DateColumn: "Date", Rows: capitalRows(2)})
	require.NoError(t, err)

	result, err := store.Replace(ctx, &InsertRequest{Table: "capital_in_out", Account: "acc1", DateColumn: "Date", Rows: capitalRows(2)})
	require.NoError(t, err)
	assert.EqualValues(t, 5, result.Deleted)
	assert.EqualValues(t, 2, result.Inserted)

	for account, want := range map[string]int64{"acc1": 2, "acc2": 2} {
		count, err := store.CountRows(ctx, "capital_in_out", account)
		require.NoError(t, err)
		assert.Equal(t, want, count, account)
	}
}

func TestInsertRowsConcurrentBatches(t *testing.T) {
	store := openTestStore(t, func(c *Config) {
		c.BatchSize = 7
		c.MaxConcurrency = 4
	})

	rows := make([]models.NormalizedRow, 0, 200)
	for i := 0; i < 200; i++ {
		rows = append(rows, models.NormalizedRow{
			"Date":   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			"Ticker": fmt.Sprintf("T%03d", i),
		})
	}

	result, err := store.InsertRows(context.Background(), &InsertRequest{Table: "tradebook", Account: "acc1", DateColumn: "Date", Rows: rows})
	require.NoError(t, err)
	assert.EqualValues(t, 200, result.Inserted)
	assert.Empty(t, result.Failures)
}

func TestSaveAndLoadMetrics(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	records := []models.MetricRecord{
		{AccountCode: "A1", Date: day(1), PortfolioValue: decimal.NewFromInt(1000), NAV: decimal.NewFromInt(1000), PnL: decimal.NewFromInt(1000)},
		{AccountCode: "A1", Date: day(2), PortfolioValue: decimal.NewFromInt(1100), NAV: decimal.NewFromInt(1100), PnL: decimal.NewFromInt(50)},
	}

	n, err := store.SaveMetrics(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Upsert replaces the existing day.
	records[1].PnL = decimal.NewFromInt(60)
	_, err = store.SaveMetrics(ctx, records[1:])
	require.NoError(t, err)

	loaded, err := store.LoadMetrics(ctx, "A1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, day(1), loaded[0].Date)
	assert.Equal(t, "60.0000", loaded[1].PnL.StringFixed(4))
	assert.Equal(t, "1100.0000", loaded[1].NAV.StringFixed(4))
}
