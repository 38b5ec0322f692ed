// Package fixtures generates synthetic transaction and holding files for
// exercising ingestion and consolidation end to end.
package fixtures

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-ingestion-service/internal/models"
)

// TransactionHeader and HoldingHeader are the columns written by the
// generator, laid out as the transaction_class and holding_asset_class
// tables expect them.
var (
	TransactionHeader = []string{
		"WS CLIENT ID", "WS ACCOUNT CODE", "CLIENT NAME", "TRANDATE", "QTY",
		"RATE", "NET AMOUNT", "SECURITY NAME", "SECURITY TYPE", "ISIN",
	}
	HoldingHeader = []string{
		"WS CLIENT ID", "WS ACCOUNT CODE", "CLIENT NAME", "HOLDINGDATE", "HOLDING QTY",
		"UNITCOST", "MKTVALUE", "SECURITY NAME", "ASTCLS",
	}
)

// unitCost prices every generated holding.
var unitCost = decimal.NewFromInt(10)

// CorruptDate replaces the date of rows chosen by DirtyRatio.
const CorruptDate = "not-a-date"

// Generator produces one holding row per account, asset class and day, and
// an occasional cash flow.
type Generator struct {
	Accounts     int
	StartDate    time.Time
	Days         int
	StartValue   decimal.Decimal
	AssetClasses []string
	// FlowRatio is the probability of a cash flow on a given day.
	FlowRatio float64
	// Volatility bounds the daily market move as a fraction of value.
	Volatility float64
	// DirtyRatio is the probability that a row gets an unparseable date.
	DirtyRatio float64
	Seed       int64
}

// DefaultGenerator returns a generator for three accounts over January 2024.
func DefaultGenerator() *Generator {
	return &Generator{
		Accounts:     3,
		StartDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Days:         31,
		StartValue:   decimal.NewFromInt(100000),
		AssetClasses: []string{"Equity", "Debt", "Cash"},
		FlowRatio:    0.1,
		Volatility:   0.02,
		Seed:         1,
	}
}

// Validate checks the generator settings
func (g *Generator) Validate() error {
	if g.Accounts <= 0 || g.Days <= 0 {
		return fmt.Errorf("accounts and days must be positive, got %d and %d", g.Accounts, g.Days)
	}
	if len(g.AssetClasses) == 0 {
		return fmt.Errorf("at least one asset class is required")
	}
	if !g.StartValue.IsPositive() {
		return fmt.Errorf("start value must be positive, got %s", g.StartValue)
	}
	for name, ratio := range map[string]float64{"flow": g.FlowRatio, "dirty": g.DirtyRatio, "volatility": g.Volatility} {
		if ratio < 0 || ratio > 1 {
			return fmt.Errorf("%s ratio must be between 0 and 1, got %v", name, ratio)
		}
	}
	return nil
}

// Dataset is the generated content. Row slices exclude the header.
type Dataset struct {
	Transactions [][]string
	Holdings     [][]string
	// Corrupted counts the rows whose date was replaced with CorruptDate.
	Corrupted int
}

// Generate builds a dataset. The same seed always yields the same dataset.
func (g *Generator) Generate() (*Dataset, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(g.Seed))
	ds := &Dataset{}

	for a := 0; a < g.Accounts; a++ {
		account := fmt.Sprintf("ACC%03d", a+1)
		client := fmt.Sprintf("CL%03d", a+1)
		name := fmt.Sprintf("Client %03d", a+1)
		value := g.StartValue

		for d := 0; d < g.Days; d++ {
			date := g.StartDate.AddDate(0, 0, d).Format(models.ISODate)

			if d > 0 && rng.Float64() < g.FlowRatio {
				// Inflows are twice as likely as withdrawals.
				pct := decimal.NewFromFloat(rng.Float64()*0.15 - 0.05)
				flow := value.Mul(pct).Round(2)
				value = value.Add(flow)
				ds.Transactions = append(ds.Transactions, []string{
					client, account, name, g.dirty(rng, ds, date), "", "",
					flow.StringFixed(2), "CASH", "CASH", "",
				})
			}

			move := decimal.NewFromFloat((rng.Float64()*2 - 1) * g.Volatility)
			value = value.Add(value.Mul(move)).Round(2)

			for _, row := range g.split(rng, value) {
				ds.Holdings = append(ds.Holdings, []string{
					client, account, name, g.dirty(rng, ds, date),
					row.amount.Div(unitCost).StringFixed(4), unitCost.StringFixed(2),
					row.amount.StringFixed(2), row.class + " Fund", row.class,
				})
			}
		}
	}
	return ds, nil
}

type allocation struct {
	class  string
	amount decimal.Decimal
}

// split spreads value over the asset classes; the amounts sum to value.
func (g *Generator) split(rng *rand.Rand, value decimal.Decimal) []allocation {
	out := make([]allocation, len(g.AssetClasses))
	remaining := value
	for i, class := range g.AssetClasses {
		amount := remaining
		if i < len(g.AssetClasses)-1 {
			share := decimal.NewFromFloat(0.2 + rng.Float64()*0.4)
			amount = remaining.Mul(share).Round(2)
		}
		remaining = remaining.Sub(amount)
		out[i] = allocation{class: class, amount: amount}
	}
	return out
}

func (g *Generator) dirty(rng *rand.Rand, ds *Dataset, date string) string {
	if g.DirtyRatio > 0 && rng.Float64() < g.DirtyRatio {
		ds.Corrupted++
		return CorruptDate
	}
	return date
}

// WriteCSV writes header followed by rows.
func WriteCSV(w io.Writer, header []string, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write CSV rows: %w", err)
	}
	return nil
}
