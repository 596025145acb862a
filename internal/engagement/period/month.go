package period

import (
	"fmt"
	"strconv"
	"time"

	pkgerrors "github.com/angelmondragon/engagement-metrics/pkg/errors"
)

// Month is a calendar year-month.
type Month struct {
	Year  int
	Month time.Month
}

// ParseMonth reads the first 7 characters of value as "YYYY-MM". Longer
// date-like values ("2023-04-17") are accepted.
func ParseMonth(value string) (Month, error) {
	if len(value) < 7 || value[4] != '-' || !digits(value[:4]) || !digits(value[5:7]) {
		return Month{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid month %q (expected YYYY-MM)", value))
	}
	year, err := strconv.Atoi(value[:4])
	if err != nil || year < 1 {
		return Month{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid year in %q", value))
	}
	month, err := strconv.Atoi(value[5:7])
	if err != nil || month < 1 || month > 12 {
		return Month{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid month in %q", value))
	}
	return Month{Year: year, Month: time.Month(month)}, nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MonthOf returns the calendar month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// String formats the month as "YYYY-MM".
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Compare returns -1, 0 or +1 depending on chronological order.
func (m Month) Compare(other Month) int {
	switch {
	case m.Year < other.Year:
		return -1
	case m.Year > other.Year:
		return 1
	case m.Month < other.Month:
		return -1
	case m.Month > other.Month:
		return 1
	default:
		return 0
	}
}

// AddMonths shifts the month by n calendar months.
func (m Month) AddMonths(n int) Month {
	t := time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return MonthOf(t)
}

// Contains reports whether t falls inside the month.
func (m Month) Contains(t time.Time) bool {
	return t.Year() == m.Year && t.Month() == m.Month
}

// Canonical re-formats a month string, failing on malformed input.
func Canonical(value string) (string, error) {
	m, err := ParseMonth(value)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

// LastCompleteMonth is the month before the one containing now.
func LastCompleteMonth(now time.Time) Month {
	return MonthOf(now.UTC()).AddMonths(-1)
}
