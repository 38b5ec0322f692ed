package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "portfolio-ingestion-service/pkg/errors"
)

const (
	// ISODate is the layout of calendar dates on the wire.
	ISODate = "2006-01-02"
	// ISODateTime is the layout of date-times on the wire.
	ISODateTime = "2006-01-02 15:04:05"
)

// CleanNumeric strips thousands separators, percent signs and surrounding
// whitespace from a numeric cell.
func CleanNumeric(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "%", "")
	return strings.TrimSpace(s)
}

// ParseDecimalFromString parses a decimal value from a spreadsheet cell.
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	cleaned := CleanNumeric(s)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseSentinel recognises the infinity markers accepted in percentage fields.
func ParseSentinel(s string) (Sentinel, bool) {
	switch strings.ToLower(CleanNumeric(s)) {
	case "inf", "+inf", "infinity":
		return PositiveInfinity, true
	case "-inf", "-infinity":
		return NegativeInfinity, true
	}
	return "", false
}

// FormatDecimal renders d keeping the scale it was parsed with, so "1234.50"
// stays "1234.50".
func FormatDecimal(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.StringFixed(0)
}

// FormatFixed renders d rounded to places decimal places.
func FormatFixed(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

// FormatDateTime renders midnight values as an ISO date and anything else as
// an ISO date-time.
func FormatDateTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(ISODate)
	}
	return t.Format(ISODateTime)
}

// ParseTimeWithLayouts tries each layout in order and returns the first
// successful parse.
func ParseTimeWithLayouts(s string, layouts []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date '%s' with any of the formats: %s",
		s, strings.Join(layouts, ", "))
}

// CalendarDate truncates t to midnight UTC of its calendar day.
func CalendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DateRange is an inclusive calendar-date filter.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange builds a range from ISO date strings. Both empty means no
// filter and returns nil; supplying only one bound is rejected.
func NewDateRange(start, end string) (*DateRange, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, apperrors.ValidationError(apperrors.CodeInvalidRange, "date_range",
			fmt.Sprintf("start=%q end=%q", start, end), nil)
	}

	s, err := time.Parse(ISODate, start)
	if err != nil {
		return nil, apperrors.ValidationError(apperrors.CodeInvalidDate, "start_date", start, err)
	}
	e, err := time.Parse(ISODate, end)
	if err != nil {
		return nil, apperrors.ValidationError(apperrors.CodeInvalidDate, "end_date", end, err)
	}
	if s.After(e) {
		return nil, apperrors.ValidationError(apperrors.CodeInvalidRange, "date_range",
			fmt.Sprintf("%s is after %s", start, end), nil)
	}

	return &DateRange{Start: s, End: e}, nil
}

// Contains reports whether t falls on a calendar day within the range. A nil
// range contains everything.
func (r *DateRange) Contains(t time.Time) bool {
	if r == nil {
		return true
	}
	d := CalendarDate(t)
	return !d.Before(CalendarDate(r.Start)) && !d.After(CalendarDate(r.End))
}

// String renders the range as "start..end".
func (r *DateRange) String() string {
	if r == nil {
		return ""
	}
	return r.Start.Format(ISODate) + ".." + r.End.Format(ISODate)
}
