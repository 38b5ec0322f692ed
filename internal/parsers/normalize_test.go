package parsers

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-ingestion-service/internal/models"
	"portfolio-ingestion-service/internal/schema"
)

func newNormalizer(t *testing.T, table string, headers []string, opts NormalizeOptions) *RowNormalizer {
	t.Helper()
	ts, ok := schema.MustDefault().Get(table)
	require.True(t, ok, "table %s", table)
	return NewRowNormalizer(ts, ReconcileHeaders(headers, ts), opts)
}

func TestNormalizeCapitalRow(t *testing.T) {
	n := newNormalizer(t, "capital_in_out", []string{"Date", "Account", "System Tag", "Capital In Out"}, NormalizeOptions{})

	res := n.Normalize(2, []string{" 2024-01-15 ", "acc1", " tag1 ", "1,234.50"})
	require.True(t, res.OK(), "failure: %+v", res.Failure)

	row := res.Row
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), row["Date"])
	assert.Equal(t, "tag1", row["System Tag"])
	assert.Equal(t, "P", row["Status"], "status defaults to P")

	amount, ok := row.Decimal("Capital In/Out")
	require.True(t, ok)
	assert.True(t, amount.Equal(decimal.RequireFromString("1234.50")))
	assert.Equal(t, "1234.50", models.FormatDecimal(amount))
}

func TestNormalizeFailures(t *testing.T) {
	headers := []string{"Date", "Account", "System Tag", "Capital In/Out"}

	tests := []struct {
		name  string
		cells []string
		field string
	}{
		{"missing date", []string{"", "acc", "tag", "1"}, "Date"},
		{"bad date", []string{"15/01/2024", "acc", "tag", "1"}, "Date"},
		{"bad number", []string{"2024-01-15", "acc", "tag", "12abc"}, "Capital In/Out"},
		{"empty required value", []string{"2024-01-15", "acc", "  ", "1"}, "System Tag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newNormalizer(t, "capital_in_out", headers, NormalizeOptions{})
			res := n.Normalize(7, tt.cells)
			require.NotNil(t, res.Failure)
			assert.Equal(t, 7, res.Failure.RowIndex)
			assert.Equal(t, tt.field, res.Failure.Field)
			assert.Equal(t, tt.cells[0], res.Failure.RawRow["Date"], "raw row keeps original values")
		})
	}
}

func TestNormalizeEmptyNumericIsNull(t *testing.T) {
	n := newNormalizer(t, "capital_in_out", []string{"Date", "Account", "System Tag", "Capital In/Out", "Status"}, NormalizeOptions{})

	res := n.Normalize(2, []string{"2024-01-15", "acc", "tag", "", "C"})
	require.True(t, res.OK())
	assert.Nil(t, res.Row["Capital In/Out"])
	assert.Equal(t, "C", res.Row["Status"], "supplied status is kept")
}

func TestNormalizeShortRowsArePadded(t *testing.T) {
	n := newNormalizer(t, "capital_in_out", []string{"Date", "Account", "System Tag", "Capital In/Out"}, NormalizeOptions{})

	res := n.Normalize(2, []string{"2024-01-15", "acc", "tag"})
	require.True(t, res.OK())
	assert.Nil(t, res.Row["Capital In/Out"])
}

func TestNormalizeDateRange(t *testing.T) {
	r, err := models.NewDateRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	n := newNormalizer(t, "capital_in_out", []string{"Date", "Account", "System Tag", "Capital In/Out"}, NormalizeOptions{DateRange: r})

	tests := map[string]bool{
		"2023-12-31": false,
		"2024-01-01": true,
		"2024-01-31": true,
		"2024-02-01": false,
	}
	for date, kept := range tests {
		res := n.Normalize(2, []string{date, "acc", "tag", "1"})
		assert.Equal(t, kept, res.OK(), date)
		assert.Equal(t, !kept, res.Skipped, date)
		assert.Nil(t, res.Failure, date)
	}
}

func TestNormalizeTradebookDateTimes(t *testing.T) {
	headers := []string{
		"Timestamp Entry", "System Tag Entry", "Action Entry", "Symbol Entry", "Price Entry", "Qty Entry",
		"Contract Value Entry", "Timestamp Exit", "System Tag Exit", "Action Exit", "Symbol Exit", "Price Exit",
		"Qty Exit", "Contract Value Exit", "Pnl Amount", "Pnl Amount Settlement", "Status",
	}
	r, err := models.NewDateRange("2024-03-15", "2024-03-15")
	require.NoError(t, err)
	n := newNormalizer(t, "tradebook", headers, NormalizeOptions{DateRange: r})

	res := n.Normalize(2, []string{
		"15/03/2024 09:30:00", "sys", "BUY", "NIFTY", "22,000.5", "50",
		"1100025", "", "", "", "", "",
		"", "", "", "", "",
	})
	require.True(t, res.OK(), "failure: %+v", res.Failure)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC), res.Row["Timestamp Entry"])
	assert.Equal(t, int64(50), res.Row["Qty Entry"])
	assert.Nil(t, res.Row["Qty Exit"])
	assert.Equal(t, "P", res.Row["Status"])

	bad := n.Normalize(3, []string{
		"2024-03-15 10:00:00", "sys", "BUY", "NIFTY", "1", "1.5",
		"1", "", "", "", "", "", "", "", "", "", "",
	})
	require.NotNil(t, bad.Failure)
	assert.Equal(t, "Qty Entry", bad.Failure.Field)
}

func TestNormalizeEquityHolding(t *testing.T) {
	assigned := time.Date(2024, 6, 30, 18, 45, 0, 0, time.UTC)
	headers := []string{"Symbol", "Exchange", "Quantity", "Avg Price", "LTP", "Buy Value", "Value as of Today", "PNL Amount", "% PNL"}
	n := newNormalizer(t, "equity_holding", headers, NormalizeOptions{AssignedDate: assigned})

	tests := []struct {
		pnl  string
		want any
	}{
		{"inf", models.PositiveInfinity},
		{"-INF", models.NegativeInfinity},
		{"12.5%", decimal.RequireFromString("12.5")},
	}
	for _, tt := range tests {
		t.Run(tt.pnl, func(t *testing.T) {
			res := n.Normalize(2, []string{"INFY", "NSE", "10", "0", "1500", "0", "15000", "15000", tt.pnl})
			require.True(t, res.OK(), "failure: %+v", res.Failure)
			assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), res.Row["Date"])
			assert.Equal(t, "P", res.Row["Status"])
			if d, ok := tt.want.(decimal.Decimal); ok {
				got, isDecimal := res.Row.Decimal("% PNL")
				require.True(t, isDecimal)
				assert.True(t, d.Equal(got))
				return
			}
			assert.Equal(t, tt.want, res.Row["% PNL"])
		})
	}

	res := n.Normalize(3, []string{"INFY", "NSE", "10", "0", "1500", "0", "15000", "15000", "n/a"})
	require.NotNil(t, res.Failure)
	assert.Equal(t, "% PNL", res.Failure.Field)
}
