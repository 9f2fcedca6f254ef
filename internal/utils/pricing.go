package utils

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DateLayout is the wire format for booking dates.
const DateLayout = "2006-01-02"

const secondsPerDay = 24 * 60 * 60

// ErrCostOverflow is returned when days × rate does not fit in int64.
var ErrCostOverflow = errors.New("rental cost exceeds the representable amount")

// ParseDate converts a yyyy-mm-dd formatted string into a UTC midnight time
func ParseDate(dateStr string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, dateStr, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format, expected yyyy-mm-dd: %q", dateStr)
	}
	return t, nil
}

// FormatDate renders t in DateLayout
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// TruncateDay drops the time of day, keeping the UTC calendar date
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RentalDays returns ceil((end-start)/1day) for the half-open range [start, end).
// It counts on Unix seconds so ranges longer than a time.Duration still work.
func RentalDays(start, end time.Time) (int64, error) {
	if !start.Before(end) {
		return 0, fmt.Errorf("end date must be after start date")
	}
	secs := end.Unix() - start.Unix()
	days := secs / secondsPerDay
	if rem := secs % secondsPerDay; rem > 0 || end.Nanosecond() > start.Nanosecond() {
		days++
	}
	return days, nil
}

// CalculateRentalCost returns days × dailyRate for [start, end).
// Rates and results are minor currency units.
func CalculateRentalCost(start, end time.Time, dailyRate int64) (int64, error) {
	if dailyRate < 0 {
		return 0, fmt.Errorf("daily rate must not be negative")
	}
	days, err := RentalDays(start, end)
	if err != nil {
		return 0, err
	}
	if dailyRate > 0 && days > math.MaxInt64/dailyRate {
		return 0, fmt.Errorf("%w: %d days at %d", ErrCostOverflow, days, dailyRate)
	}
	return days * dailyRate, nil
}
