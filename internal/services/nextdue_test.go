package services

import (
	"testing"
	"time"

	"tally/internal/core"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDailyComputer(t *testing.T) {
	c := DailyComputer{}
	created := date(2026, 8, 31)
	if got := c.FirstDue(created, 0); !got.Equal(date(2026, 9, 1)) {
		t.Fatalf("FirstDue = %v, want 2026-09-01", got)
	}
	if got := c.Advance(date(2026, 9, 1), 0); !got.Equal(date(2026, 9, 2)) {
		t.Fatalf("Advance = %v, want 2026-09-02", got)
	}
}

func TestWeeklyComputer_FirstDue(t *testing.T) {
	c := WeeklyComputer{}
	// 2026-08-31 is a Monday (weekday 1).
	monday := date(2026, 8, 31)

	tests := []struct {
		name string
		day  int
		want time.Time
	}{
		{"same weekday rolls a full week", 1, date(2026, 9, 7)},
		{"next day", 2, date(2026, 9, 1)},
		{"sunday wraps", 0, date(2026, 9, 6)},
		{"saturday", 6, date(2026, 9, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.FirstDue(monday, tt.day)
			if !got.Equal(tt.want) {
				t.Fatalf("FirstDue(day=%d) = %v, want %v", tt.day, got, tt.want)
			}
			if !got.After(monday) {
				t.Fatal("first due must be strictly after creation")
			}
		})
	}
}

func TestWeeklyComputer_Advance(t *testing.T) {
	c := WeeklyComputer{}
	if got := c.Advance(date(2026, 9, 7), 1); !got.Equal(date(2026, 9, 14)) {
		t.Fatalf("Advance = %v, want 2026-09-14", got)
	}
}

func TestMonthlyComputer_FirstDue(t *testing.T) {
	c := MonthlyComputer{}

	tests := []struct {
		name    string
		created time.Time
		day     int
		want    time.Time
	}{
		{"created mid-month, day already passed", date(2026, 8, 15), 1, date(2026, 9, 1)},
		{"created on the anchor day rolls to next month", date(2026, 8, 1), 1, date(2026, 9, 1)},
		{"anchor later this month", date(2026, 8, 15), 20, date(2026, 8, 20)},
		{"31st clamps in september", date(2026, 8, 31), 31, date(2026, 9, 30)},
		{"31st clamps in february", date(2026, 1, 31), 31, date(2026, 2, 28)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.FirstDue(tt.created, tt.day)
			if !got.Equal(tt.want) {
				t.Fatalf("FirstDue(%v, day=%d) = %v, want %v", tt.created, tt.day, got, tt.want)
			}
			if !got.After(tt.created) {
				t.Fatal("first due must be strictly after creation")
			}
		})
	}
}

func TestMonthlyComputer_Advance(t *testing.T) {
	c := MonthlyComputer{}

	tests := []struct {
		name string
		from time.Time
		day  int
		want time.Time
	}{
		{"simple month step", date(2026, 9, 1), 1, date(2026, 10, 1)},
		{"clamped month returns to anchor", date(2026, 2, 28), 31, date(2026, 3, 31)},
		{"into short month clamps", date(2026, 1, 31), 31, date(2026, 2, 28)},
		{"leap february", date(2028, 1, 31), 31, date(2028, 2, 29)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Advance(tt.from, tt.day)
			if !got.Equal(tt.want) {
				t.Fatalf("Advance(%v, day=%d) = %v, want %v", tt.from, tt.day, got, tt.want)
			}
		})
	}
}

func TestYearlyComputer(t *testing.T) {
	c := YearlyComputer{}
	if got := c.FirstDue(date(2026, 8, 31), 0); !got.Equal(date(2027, 8, 31)) {
		t.Fatalf("FirstDue = %v, want 2027-08-31", got)
	}
	if got := c.Advance(date(2027, 8, 31), 0); !got.Equal(date(2028, 8, 31)) {
		t.Fatalf("Advance = %v, want 2028-08-31", got)
	}
}

func TestGetNextDueComputer(t *testing.T) {
	for _, kind := range []core.RecurrenceKind{core.Daily, core.Weekly, core.Monthly, core.Yearly} {
		if _, err := GetNextDueComputer(kind); err != nil {
			t.Fatalf("GetNextDueComputer(%s) returned %v", kind, err)
		}
	}
	if _, err := GetNextDueComputer("fortnightly"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
