package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MetricPlaces is the number of decimal places metric values are rounded to
// when serialized.
const MetricPlaces = 4

// MetricColumns is the stable column order of a serialized metric series.
var MetricColumns = []string{"account_code", "portfolio_value", "nav", "pnl", "drawdown_pct", "date"}

// MetricRecord is one account's derived figures for one calendar date.
type MetricRecord struct {
	AccountCode    string
	Date           time.Time
	PortfolioValue decimal.Decimal
	NAV            decimal.Decimal
	PnL            decimal.Decimal
	DrawdownPct    decimal.Decimal
}

// Values returns the record in MetricColumns order, rounded for output.
func (m MetricRecord) Values() []string {
	return []string{
		m.AccountCode,
		FormatFixed(m.PortfolioValue, MetricPlaces),
		FormatFixed(m.NAV, MetricPlaces),
		FormatFixed(m.PnL, MetricPlaces),
		FormatFixed(m.DrawdownPct, MetricPlaces),
		m.Date.Format(ISODate),
	}
}

// MarshalJSON implements custom JSON marshaling for MetricRecord
func (m MetricRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AccountCode    string `json:"account_code"`
		PortfolioValue string `json:"portfolio_value"`
		NAV            string `json:"nav"`
		PnL            string `json:"pnl"`
		DrawdownPct    string `json:"drawdown_pct"`
		Date           string `json:"date"`
	}{
		AccountCode:    m.AccountCode,
		PortfolioValue: FormatFixed(m.PortfolioValue, MetricPlaces),
		NAV:            FormatFixed(m.NAV, MetricPlaces),
		PnL:            FormatFixed(m.PnL, MetricPlaces),
		DrawdownPct:    FormatFixed(m.DrawdownPct, MetricPlaces),
		Date:           m.Date.Format(ISODate),
	})
}
