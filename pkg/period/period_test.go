package period

import (
	"testing"
	"time"
)

func TestParseRoundTrip(t *testing.T) {
	d, err := Parse("2024-05-01")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.String() != "2024-05-01" {
		t.Errorf("String() = %q, want 2024-05-01", d.String())
	}
	// lenient read format
	d2, err := Parse("2024-5-1")
	if err != nil {
		t.Fatalf("Parse lenient: %v", err)
	}
	if d != d2 {
		t.Errorf("lenient parse gave %v, want %v", d2, d)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "yesterday", "2024-13-40-1", "01/05/2024"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", in)
		}
	}
}

func TestDayOf(t *testing.T) {
	d := New(2025, time.September, 8)
	want := Range{From: d, To: d}
	if got := DayOf(d); got != want {
		t.Errorf("DayOf() = %v, want %v", got, want)
	}
}

func TestWeekOf(t *testing.T) {
	testCases := []struct {
		name  string
		in    Date
		start time.Weekday
		want  Range
	}{
		{
			name:  "wednesday, monday start",
			in:    New(2025, time.September, 10),
			start: time.Monday,
			want:  Range{From: New(2025, time.September, 8), To: New(2025, time.September, 14)},
		},
		{
			name:  "wednesday, sunday start",
			in:    New(2025, time.September, 10),
			start: time.Sunday,
			want:  Range{From: New(2025, time.September, 7), To: New(2025, time.September, 13)},
		},
		{
			name:  "on the week start itself",
			in:    New(2025, time.September, 8),
			start: time.Monday,
			want:  Range{From: New(2025, time.September, 8), To: New(2025, time.September, 14)},
		},
		{
			name:  "sunday with monday start falls in previous week",
			in:    New(2025, time.September, 14),
			start: time.Monday,
			want:  Range{From: New(2025, time.September, 8), To: New(2025, time.September, 14)},
		},
		{
			name:  "week spanning a month boundary",
			in:    New(2025, time.September, 1),
			start: time.Sunday,
			want:  Range{From: New(2025, time.August, 31), To: New(2025, time.September, 6)},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := WeekOf(tc.in, tc.start); got != tc.want {
				t.Errorf("WeekOf() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMonthOf(t *testing.T) {
	testCases := []struct {
		name string
		in   Date
		want Range
	}{
		{
			name: "leap february",
			in:   New(2024, time.February, 15),
			want: Range{From: New(2024, time.February, 1), To: New(2024, time.February, 29)},
		},
		{
			name: "december rolls into next year",
			in:   New(2025, time.December, 31),
			want: Range{From: New(2025, time.December, 1), To: New(2025, time.December, 31)},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MonthOf(tc.in); got != tc.want {
				t.Errorf("MonthOf() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAddMonths(t *testing.T) {
	if got := New(2024, time.November, 15).AddMonths(3); got != New(2025, time.February, 15) {
		t.Errorf("AddMonths(3) = %v, want 2025-02-15", got)
	}
	// days past the end of the target month roll over
	if got := New(2025, time.January, 31).AddMonths(1); got != New(2025, time.March, 3) {
		t.Errorf("AddMonths(1) from Jan 31 = %v, want 2025-03-03", got)
	}
	if got := New(2025, time.March, 10).AddMonths(-4); got != New(2024, time.November, 10) {
		t.Errorf("AddMonths(-4) = %v, want 2024-11-10", got)
	}
}

func TestRangeContains(t *testing.T) {
	r := Range{From: New(2024, time.May, 1), To: New(2024, time.May, 7)}
	if !r.Contains(New(2024, time.May, 1)) || !r.Contains(New(2024, time.May, 7)) {
		t.Errorf("range should contain its own bounds")
	}
	if r.Contains(New(2024, time.April, 30)) || r.Contains(New(2024, time.May, 8)) {
		t.Errorf("range should not contain dates outside its bounds")
	}
	if r.Days() != 7 {
		t.Errorf("Days() = %d, want 7", r.Days())
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"day": Day, "weekly": Week, "Month": Month} {
		got, err := ParseKind(in)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseKind(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseKind("fortnight"); err == nil {
		t.Errorf("ParseKind(fortnight) succeeded, want error")
	}
}

func TestParseWeekStart(t *testing.T) {
	if wd, err := ParseWeekStart(""); err != nil || wd != time.Sunday {
		t.Errorf("empty week start should default to Sunday, got %v err %v", wd, err)
	}
	if wd, err := ParseWeekStart("monday"); err != nil || wd != time.Monday {
		t.Errorf("ParseWeekStart(monday) = %v err %v", wd, err)
	}
	if _, err := ParseWeekStart("friday"); err == nil {
		t.Errorf("ParseWeekStart(friday) succeeded, want error")
	}
}
