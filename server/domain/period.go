package domain

import (
	"fmt"
	"time"
)

// Month identifies a calendar month in UTC, the rating period granularity
// the core recomputes over (spec.md §3).
type Month struct {
	Year  int
	Month int // 1-12
}

// MonthOf returns the Month containing t, in UTC.
func MonthOf(t time.Time) Month {
	t = t.UTC()
	return Month{Year: t.Year(), Month: int(t.Month())}
}

// PreviousMonth returns the calendar month immediately before m.
func (m Month) PreviousMonth() Month {
	if m.Month == 1 {
		return Month{Year: m.Year - 1, Month: 12}
	}
	return Month{Year: m.Year, Month: m.Month - 1}
}

// NextMonth returns the calendar month immediately after m.
func (m Month) NextMonth() Month {
	if m.Month == 12 {
		return Month{Year: m.Year + 1, Month: 1}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// Start returns the first instant of the month, UTC.
func (m Month) Start() time.Time {
	return time.Date(m.Year, time.Month(m.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant of the following month, UTC — the
// half-open upper bound of the period (spec.md §3).
func (m Month) End() time.Time {
	return m.NextMonth().Start()
}

// String renders the canonical "YYYY-MM" form.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Month)
}

// ParseMonth parses the canonical "YYYY-MM" form used by the control API.
func ParseMonth(s string) (Month, error) {
	var y, mo int
	if _, err := fmt.Sscanf(s, "%04d-%02d", &y, &mo); err != nil {
		return Month{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	if mo < 1 || mo > 12 {
		return Month{}, fmt.Errorf("invalid period %q: month out of range", s)
	}
	return Month{Year: y, Month: mo}, nil
}

// Before reports whether m is strictly before other.
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// Equal reports value equality.
func (m Month) Equal(other Month) bool { return m.Year == other.Year && m.Month == other.Month }
