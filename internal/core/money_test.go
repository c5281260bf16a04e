package core

import "testing"

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{" 60 ", 6000, true},
		{"-1", 0, false},
		{"+1", 0, false},
		{"0", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestMoneyString(t *testing.T) {
	cases := []struct {
		m    Money
		want string
	}{
		{Money{Cents: 0}, "0.00"},
		{Money{Cents: 1234}, "12.34"},
		{Money{Cents: -5}, "-0.05"},
		{Money{Cents: 100}, "1.00"},
	}
	for _, tc := range cases {
		if got := tc.m.String(); got != tc.want {
			t.Fatalf("Money{%d}.String() = %q, want %q", tc.m.Cents, got, tc.want)
		}
	}
}

func TestMoneyAbsNeg(t *testing.T) {
	if got := (Money{Cents: -30}).Abs(); got.Cents != 30 {
		t.Fatalf("Abs = %d, want 30", got.Cents)
	}
	if got := (Money{Cents: 30}).Neg(); got.Cents != -30 {
		t.Fatalf("Neg = %d, want -30", got.Cents)
	}
	if !(Money{}).IsZero() {
		t.Fatal("zero money should report IsZero")
	}
}
