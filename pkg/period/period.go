// Package period provides calendar-date arithmetic for the rolling
// day/week/month windows the summary endpoints aggregate over.
package period

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects the aggregation window.
type Kind int

const (
	Day Kind = iota
	Week
	Month
)

func (k Kind) String() string {
	switch k {
	case Day:
		return "day"
	case Week:
		return "week"
	case Month:
		return "month"
	default:
		panic(fmt.Sprintf("unknown period kind %d", k))
	}
}

// ParseKind parses a period kind from its string form.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "day", "daily":
		return Day, nil
	case "week", "weekly":
		return Week, nil
	case "month", "monthly":
		return Month, nil
	default:
		return Day, fmt.Errorf("unknown period kind %q", s)
	}
}

// ParseWeekStart maps a settings value ("sunday" or "monday") to a weekday.
func ParseWeekStart(s string) (time.Weekday, error) {
	switch strings.ToLower(s) {
	case "", "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	default:
		return time.Sunday, fmt.Errorf("unknown week start %q", s)
	}
}

// DayOf returns the single-day range containing d.
func DayOf(d Date) Range { return Range{From: d, To: d} }

// WeekOf returns the seven-day range containing d for a week beginning on
// weekStart.
func WeekOf(d Date, weekStart time.Weekday) Range {
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	from := d.Add(-offset)
	return Range{From: from, To: from.Add(6)}
}

// MonthOf returns the calendar-month range containing d.
func MonthOf(d Date) Range {
	from := New(d.Year(), d.Month(), 1)
	return Range{From: from, To: New(d.Year(), d.Month()+1, 1).Add(-1)}
}

// Of returns the range of the given kind containing d.
func Of(kind Kind, d Date, weekStart time.Weekday) Range {
	switch kind {
	case Week:
		return WeekOf(d, weekStart)
	case Month:
		return MonthOf(d)
	default:
		return DayOf(d)
	}
}
