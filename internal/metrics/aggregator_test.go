package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-ingestion-service/internal/models"
)

func position(account string, date any, value any) models.NormalizedRow {
	return models.NormalizedRow{"WS ACCOUNT CODE": account, "HOLDINGDATE": date, "MKTVALUE": value}
}

func flow(account string, date any, amount any) models.NormalizedRow {
	return models.NormalizedRow{"WS ACCOUNT CODE": account, "TRANDATE": date, "NET AMOUNT": amount}
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(models.MetricPlaces), field)
}

func TestAggregateNavPnlDrawdown(t *testing.T) {
	t.Parallel()

	positions := []models.NormalizedRow{
		position("A1", day(1), "1000"),
		position("A1", day(2), "600"),
		position("A1", day(2), "500"),
		position("A1", day(3), "900"),
	}
	flows := []models.NormalizedRow{
		flow("A1", day(2), "50"),
	}

	records := NewAggregator(DefaultConfig(), nil).Aggregate(flows, positions)
	require.Len(t, records, 3)

	assert.Equal(t, day(1), records[0].Date)
	assertDecimal(t, "1000.0000", records[0].NAV, "nav day 1")
	assertDecimal(t, "1000.0000", records[0].PnL, "pnl day 1")
	assertDecimal(t, "0.0000", records[0].DrawdownPct, "drawdown day 1")

	assertDecimal(t, "1100.0000", records[1].PortfolioValue, "value day 2")
	assertDecimal(t, "50.0000", records[1].PnL, "pnl day 2")
	assertDecimal(t, "0.0000", records[1].DrawdownPct, "drawdown day 2")

	assertDecimal(t, "900.0000", records[2].NAV, "nav day 3")
	assertDecimal(t, "-200.0000", records[2].PnL, "pnl day 3")
	assertDecimal(t, "18.1818", records[2].DrawdownPct, "drawdown day 3")
}

func TestAggregateOrdersByAccountThenDate(t *testing.T) {
	t.Parallel()

	positions := []models.NormalizedRow{
		position("B2", day(2), "10"),
		position("A1", day(3), "30"),
		position("B2", day(1), "20"),
		position("A1", day(1), "10"),
	}

	records := NewAggregator(DefaultConfig(), nil).Aggregate(nil, positions)
	require.Len(t, records, 4)

	got := make([]string, 0, len(records))
	for _, r := range records {
		got = append(got, r.AccountCode+"@"+r.Date.Format(models.ISODate))
	}
	assert.Equal(t, []string{"A1@2024-01-01", "A1@2024-01-03", "B2@2024-01-01", "B2@2024-01-02"}, got)

	// Running state resets per account: B2's first day has no baseline.
	assertDecimal(t, "20.0000", records[2].PnL, "first B2 pnl")
	assertDecimal(t, "50.0000", records[3].DrawdownPct, "B2 drawdown")
}

func TestAggregateFlowOnlyDate(t *testing.T) {
	t.Parallel()

	positions := []models.NormalizedRow{position("A1", day(1), "1000")}
	flows := []models.NormalizedRow{flow("A1", day(2), "-100")}

	records := NewAggregator(DefaultConfig(), nil).Aggregate(flows, positions)
	require.Len(t, records, 2)

	assertDecimal(t, "0.0000", records[1].PortfolioValue, "flows alone do not create value")
	assertDecimal(t, "-900.0000", records[1].PnL, "0 - 1000 - (-100)")
	assertDecimal(t, "100.0000", records[1].DrawdownPct, "full drawdown")
}

func TestAggregateToleratesDirtyInput(t *testing.T) {
	t.Parallel()

	positions := []models.NormalizedRow{
		position("A1", "2024-01-01", "1,000.50"),
		position("A1", "01/01/2024", "abc"),
		position("A1", "not a date", "500"),
		position("", day(1), "500"),
		position("A1", "2024-01-02 10:30:00", "-20"),
		position("A1", "03-Jan-2024", nil),
	}

	records := NewAggregator(DefaultConfig(), nil).Aggregate(nil, positions)
	require.Len(t, records, 3)

	assertDecimal(t, "1000.5000", records[0].PortfolioValue, "unparseable value counts as zero")
	assert.Equal(t, day(2), records[1].Date, "date-time collapses to its calendar day")
	assertDecimal(t, "0.0000", records[1].PortfolioValue, "negative market value is clamped")
	assertDecimal(t, "0.0000", records[2].PortfolioValue, "missing value is zero")
}

func TestAggregateKeepsIntegerPrecision(t *testing.T) {
	t.Parallel()

	positions := []models.NormalizedRow{
		position("A1", day(1), int64(9007199254740993)),
		position("A1", day(1), int32(7)),
	}
	records := NewAggregator(DefaultConfig(), nil).Aggregate(nil, positions)
	require.Len(t, records, 1)

	assertDecimal(t, "9007199254741000.0000", records[0].PortfolioValue, "integers above 2^53 stay exact")
}

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()

	records := NewAggregator(DefaultConfig(), nil).Aggregate(nil, nil)
	assert.Empty(t, records)
}

func TestAggregateMetricSerialization(t *testing.T) {
	t.Parallel()

	positions := []models.NormalizedRow{
		position("A1", day(1), decimal.RequireFromString("1100")),
		position("A1", day(2), decimal.RequireFromString("900")),
	}
	records := NewAggregator(DefaultConfig(), nil).Aggregate(nil, positions)
	require.Len(t, records, 2)

	assert.Equal(t,
		[]string{"A1", "900.0000", "900.0000", "-200.0000", "18.1818", "2024-01-02"},
		records[1].Values())
}
