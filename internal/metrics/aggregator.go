// Package metrics derives per-account portfolio metrics from holding and
// transaction rows.
package metrics

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"portfolio-ingestion-service/internal/models"
	"portfolio-ingestion-service/pkg/logger"
)

// StreamFields names the columns read from one input stream.
type StreamFields struct {
	Account string `json:"account" mapstructure:"account"`
	Date    string `json:"date" mapstructure:"date"`
	Amount  string `json:"amount" mapstructure:"amount"`
}

// Config selects the columns of the position and flow streams.
type Config struct {
	Positions StreamFields `json:"positions" mapstructure:"positions"`
	Flows     StreamFields `json:"flows" mapstructure:"flows"`
}

// DefaultConfig reads holdings and transactions as laid out by the
// holding_asset_class and transaction_class tables.
func DefaultConfig() Config {
	return Config{
		Positions: StreamFields{Account: "WS ACCOUNT CODE", Date: "HOLDINGDATE", Amount: "MKTVALUE"},
		Flows:     StreamFields{Account: "WS ACCOUNT CODE", Date: "TRANDATE", Amount: "NET AMOUNT"},
	}
}

// dateLayouts are tried in order for dates that arrive as text. Day-first
// layouts come before month-first ones.
var dateLayouts = []string{
	models.ISODate,
	models.ISODateTime,
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02/01/2006",
	"02-01-2006",
	"02/01/2006 15:04:05",
	"02-01-2006 15:04:05",
	"02-Jan-2006",
	"02 Jan 2006",
	"2006/01/02",
}

type bucketKey struct {
	account string
	date    time.Time
}

type bucket struct {
	portfolioValue decimal.Decimal
	capitalFlows   decimal.Decimal
}

// Aggregator folds position and flow rows into a metric series.
type Aggregator struct {
	config Config
	logger logger.Logger
}

// NewAggregator creates an Aggregator. A nil logger uses the global logger.
func NewAggregator(config Config, log logger.Logger) *Aggregator {
	return &Aggregator{
		config: config,
		logger: logger.OrGlobal(log).WithComponent("aggregator"),
	}
}

// Aggregate groups both streams by account and calendar date and walks each
// account's dates in order:
//
//	nav      = portfolio value
//	pnl      = nav - previous nav - capital flows
//	drawdown = 100 * (peak - portfolio value) / peak, or 0 when peak is 0
//
// Rows with an empty account or an unparseable date are skipped; unparseable
// amounts count as zero. The result is ordered by account, then date.
func (a *Aggregator) Aggregate(flows, positions []models.NormalizedRow) []models.MetricRecord {
	buckets := make(map[bucketKey]*bucket)

	skipped := a.fold(buckets, positions, a.config.Positions, "position", func(b *bucket, v decimal.Decimal) {
		b.portfolioValue = b.portfolioValue.Add(v)
	})
	skipped += a.fold(buckets, flows, a.config.Flows, "flow", func(b *bucket, v decimal.Decimal) {
		b.capitalFlows = b.capitalFlows.Add(v)
	})

	keys := make([]bucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].account != keys[j].account {
			return keys[i].account < keys[j].account
		}
		return keys[i].date.Before(keys[j].date)
	})

	records := make([]models.MetricRecord, 0, len(keys))
	var (
		account string
		prevNAV decimal.Decimal
		peak    decimal.Decimal
	)
	for i, k := range keys {
		if i == 0 || k.account != account {
			account = k.account
			prevNAV = decimal.Zero
			peak = decimal.Zero
		}

		b := buckets[k]
		nav := b.portfolioValue
		pnl := nav.Sub(prevNAV).Sub(b.capitalFlows)
		if b.portfolioValue.GreaterThan(peak) {
			peak = b.portfolioValue
		}
		drawdown := decimal.Zero
		if !peak.IsZero() {
			drawdown = peak.Sub(b.portfolioValue).Mul(decimal.NewFromInt(100)).Div(peak)
		}

		records = append(records, models.MetricRecord{
			AccountCode:    k.account,
			Date:           k.date,
			PortfolioValue: b.portfolioValue,
			NAV:            nav,
			PnL:            pnl,
			DrawdownPct:    drawdown,
		})
		prevNAV = nav
	}

	a.logger.WithFields(logger.Fields{
		"positions":    len(positions),
		"flows":        len(flows),
		"skipped_rows": skipped,
		"records":      len(records),
	}).Info("Aggregated metrics")

	return records
}

func (a *Aggregator) fold(buckets map[bucketKey]*bucket, rows []models.NormalizedRow, fields StreamFields, stream string,
	add func(*bucket, decimal.Decimal)) int {
	skipped := 0
	for i, row := range rows {
		log := a.logger.WithFields(logger.Fields{"stream": stream, "row": i})

		account := strings.TrimSpace(cast.ToString(row[fields.Account]))
		if account == "" {
			log.Warn("Skipping row without account code")
			skipped++
			continue
		}

		date, ok := toDate(row[fields.Date])
		if !ok {
			log.WithField("value", row[fields.Date]).Warn("Skipping row with unparseable date")
			skipped++
			continue
		}

		amount, ok := toDecimal(row[fields.Amount])
		if !ok {
			log.WithField("value", row[fields.Amount]).Warn("Treating unparseable amount as zero")
		}
		if stream == "position" && amount.IsNegative() {
			log.WithField("value", amount.String()).Warn("Treating negative market value as zero")
			amount = decimal.Zero
		}

		key := bucketKey{account: account, date: date}
		b, exists := buckets[key]
		if !exists {
			b = &bucket{}
			buckets[key] = b
		}
		add(b, amount)
	}
	return skipped
}

func toDate(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return models.CalendarDate(val), !val.IsZero()
	case nil:
		return time.Time{}, false
	}

	s := strings.TrimSpace(cast.ToString(v))
	if s == "" {
		return time.Time{}, false
	}
	t, err := models.ParseTimeWithLayouts(s, dateLayouts)
	if err != nil {
		return time.Time{}, false
	}
	return models.CalendarDate(t), true
}

// toDecimal coerces a cell to a decimal. Missing values are zero without
// complaint; values that cannot be read are zero and reported.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case nil:
		return decimal.Zero, true
	case decimal.Decimal:
		return val, true
	case int, int8, int16, int32, int64:
		i, err := cast.ToInt64E(val)
		if err != nil {
			return decimal.Zero, false
		}
		return decimal.NewFromInt(i), true
	case float32:
		return decimal.NewFromFloat32(val), true
	case float64:
		return decimal.NewFromFloat(val), true
	}

	s := cast.ToString(v)
	if models.CleanNumeric(s) == "" {
		return decimal.Zero, true
	}
	d, err := models.ParseDecimalFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
