package money

import "testing"

func TestRoundHalfUpBasisPoints(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		bp     int64
		want   int64
	}{
		{name: "ten percent exact", amount: 12000, bp: 1000, want: 1200},
		{name: "twenty percent exact", amount: 12000, bp: 2000, want: 2400},
		{name: "half rounds up", amount: 25, bp: 1000, want: 3},
		{name: "above half rounds up", amount: 24, bp: 2000, want: 5},
		{name: "below half rounds down", amount: 22, bp: 2000, want: 4},
		{name: "zero rate", amount: 99999, bp: 0, want: 0},
		{name: "full rate", amount: 777, bp: 10000, want: 777},
		{name: "zero amount", amount: 0, bp: 5000, want: 0},
		{name: "one cent smallest rate", amount: 1, bp: 1, want: 0},
		{name: "half cent boundary", amount: 5, bp: 1000, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundHalfUpBasisPoints(tt.amount, tt.bp)
			if got != tt.want {
				t.Fatalf("RoundHalfUpBasisPoints(%d, %d) = %d, want %d", tt.amount, tt.bp, got, tt.want)
			}
		})
	}
}

func TestRoundHalfUpBasisPointsDeterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		a := RoundHalfUpBasisPoints(123457, 1250)
		b := RoundHalfUpBasisPoints(123457, 1250)
		if a != b {
			t.Fatalf("rounding must be deterministic, got %d and %d", a, b)
		}
	}
}

func TestValidBasisPoints(t *testing.T) {
	if !ValidBasisPoints(0) || !ValidBasisPoints(10000) || !ValidBasisPoints(1500) {
		t.Fatalf("values inside [0, 10000] must be valid")
	}
	if ValidBasisPoints(-1) || ValidBasisPoints(10001) {
		t.Fatalf("values outside [0, 10000] must be invalid")
	}
}

func TestFormatMinor(t *testing.T) {
	tests := []struct {
		amount int64
		want   string
	}{
		{16200, "162.00"},
		{5, "0.05"},
		{100, "1.00"},
		{-2450, "-24.50"},
		{0, "0.00"},
	}

	for _, tt := range tests {
		if got := FormatMinor(tt.amount); got != tt.want {
			t.Fatalf("FormatMinor(%d) = %q, want %q", tt.amount, got, tt.want)
		}
	}
}
