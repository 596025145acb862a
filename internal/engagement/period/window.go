package period

import "time"

// AdjustedStart rounds a start month up to the next half-year boundary so
// that the window only contains complete half-years. January is already
// aligned; February-July snap to July; August-December snap to next January.
func AdjustedStart(value string) (string, error) {
	m, err := ParseMonth(value)
	if err != nil {
		return "", err
	}
	switch {
	case m.Month == time.January:
		return m.String(), nil
	case m.Month <= time.July:
		return Month{Year: m.Year, Month: time.July}.String(), nil
	default:
		return Month{Year: m.Year + 1, Month: time.January}.String(), nil
	}
}

// AdjustedEnd rounds an end month down to the previous half-year boundary.
// December is already aligned; June-November snap to June; January-May snap
// to the previous December.
func AdjustedEnd(value string) (string, error) {
	m, err := ParseMonth(value)
	if err != nil {
		return "", err
	}
	switch {
	case m.Month == time.December:
		return m.String(), nil
	case m.Month >= time.June:
		return Month{Year: m.Year, Month: time.June}.String(), nil
	default:
		return Month{Year: m.Year - 1, Month: time.December}.String(), nil
	}
}

// Window is an inclusive month range in "YYYY-MM" form.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// CompleteHalfYearWindow adjusts a user range to the largest sub-range made of
// complete half-years. The result may be empty (Start > End) when the range is
// too short; callers detect that through the filtered data and fall back.
func CompleteHalfYearWindow(start, end string) (Window, error) {
	s, err := AdjustedStart(start)
	if err != nil {
		return Window{}, err
	}
	e, err := AdjustedEnd(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

// Empty reports whether no month can satisfy the window.
func (w Window) Empty() bool {
	return w.Start > w.End
}

// Contains reports whether the canonical month string lies inside the window.
func (w Window) Contains(month string) bool {
	return month >= w.Start && month <= w.End
}
