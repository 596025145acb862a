package period

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/engagement-metrics/pkg/errors"
)

// HalfYear is a six-month period: H1 covers January-June, H2 July-December.
type HalfYear struct {
	Year int
	Half int
}

// HalfYearOf returns the half-year containing m.
func HalfYearOf(m Month) HalfYear {
	half := 1
	if m.Month > 6 {
		half = 2
	}
	return HalfYear{Year: m.Year, Half: half}
}

// String formats the period as "H1 2023".
func (h HalfYear) String() string {
	return fmt.Sprintf("H%d %d", h.Half, h.Year)
}

// Less orders half-years by year, then half.
func (h HalfYear) Less(other HalfYear) bool {
	if h.Year != other.Year {
		return h.Year < other.Year
	}
	return h.Half < other.Half
}

// ParseHalfYear reads a label produced by HalfYear.String.
func ParseHalfYear(label string) (HalfYear, error) {
	parts := strings.Fields(label)
	if len(parts) != 2 || (parts[0] != "H1" && parts[0] != "H2") {
		return HalfYear{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid half-year label %q", label))
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return HalfYear{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid half-year label %q", label))
	}
	half := 1
	if parts[0] == "H2" {
		half = 2
	}
	return HalfYear{Year: year, Half: half}, nil
}

// HalfYearLabel maps a month string ("YYYY-MM" or a longer date) to its
// half-year label.
func HalfYearLabel(value string) (string, error) {
	m, err := ParseMonth(value)
	if err != nil {
		return "", err
	}
	return HalfYearOf(m).String(), nil
}

// OrderedHalfYears returns the distinct labels in chronological order. The
// result does not depend on input order or on how often a label repeats.
func OrderedHalfYears(labels []string) ([]string, error) {
	seen := make(map[HalfYear]struct{}, len(labels))
	periods := make([]HalfYear, 0, len(labels))
	for _, label := range labels {
		h, err := ParseHalfYear(label)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		periods = append(periods, h)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Less(periods[j]) })

	out := make([]string, len(periods))
	for i, h := range periods {
		out[i] = h.String()
	}
	return out, nil
}
