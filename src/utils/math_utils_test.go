package utils

import "testing"

func TestRoundFloat(t *testing.T) {
	tests := []struct {
		val       float64
		precision uint
		want      float64
	}{
		{1.23456, 2, 1.23},
		{1.2567, 2, 1.26},
		{-1.237, 1, -1.2},
		{100, 2, 100},
		{0.1234, 0, 0},
	}
	for _, tc := range tests {
		if got := RoundFloat(tc.val, tc.precision); got != tc.want {
			t.Errorf("RoundFloat(%v, %d) = %v, want %v", tc.val, tc.precision, got, tc.want)
		}
	}
}

func TestFloatEquals(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		want bool
	}{
		{"identical", 1.5, 1.5, true},
		{"tiny absolute difference", 0.0, 1e-9, true},
		{"scaled tolerance on large values", 1e9, 1e9 + 100, true},
		{"clearly different", 1.0, 1.1, false},
		{"market value cross-check", 0.5 * 60000.0, 30000.0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FloatEquals(tc.a, tc.b); got != tc.want {
				t.Errorf("FloatEquals(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}
