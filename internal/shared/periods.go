package shared

import (
	"errors"
	"time"
)

// periodLayout is the calendar-month key that scopes document number streams.
const periodLayout = "2006-01"

// ErrInvalidPeriod indicates a period key that is not YYYY-MM.
var ErrInvalidPeriod = errors.New("shared: period must be formatted YYYY-MM")

// PeriodOf returns the period key the instant falls into, in UTC.
func PeriodOf(t time.Time) string {
	return t.UTC().Format(periodLayout)
}

// ValidatePeriod checks a period key supplied from outside.
func ValidatePeriod(period string) error {
	if _, err := time.Parse(periodLayout, period); err != nil {
		return ErrInvalidPeriod
	}
	return nil
}
