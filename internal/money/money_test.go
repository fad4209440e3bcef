package money

import (
	"math"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantFen int64
		wantErr bool
	}{
		{"whole yuan", "10", 1000, false},
		{"two decimals", "10.50", 1050, false},
		{"one decimal", "10.5", 1050, false},
		{"zero", "0", 0, false},
		{"zero with decimals", "0.00", 0, false},
		{"single fen", "0.01", 1, false},
		{"large amount", "999999.99", 99999999, false},
		{"negative", "-10.50", -1050, false},
		{"explicit plus", "+10.50", 1050, false},
		{"leading dot", ".50", 50, false},
		{"whitespace trimmed", " 10.50 ", 1050, false},
		{"three decimals rejected", "10.505", 0, true},
		{"empty", "", 0, true},
		{"sign only", "-", 0, true},
		{"dot only", ".", 0, true},
		{"two dots", "1.2.3", 0, true},
		{"letters", "ten", 0, true},
		{"number with letters", "10.5x", 0, true},
		{"scientific notation", "1e3", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got.Fen != tt.wantFen {
				t.Errorf("Parse(%q) = %d fen, want %d", tt.input, got.Fen, tt.wantFen)
			}
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		name string
		fen  int64
		want string
	}{
		{"whole yuan", 1000, "10.00"},
		{"with fen", 1050, "10.50"},
		{"single fen", 1, "0.01"},
		{"ten fen", 10, "0.10"},
		{"zero", 0, "0.00"},
		{"negative", -1050, "-10.50"},
		{"negative fen", -5, "-0.05"},
		{"large", 99999999, "999999.99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromFen(tt.fen).String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseStringRoundTrip(t *testing.T) {
	for _, s := range []string{"0.00", "0.01", "10.50", "100.00", "999999.99", "-3.30"} {
		a, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", s, err)
		}
		if got := a.String(); got != s {
			t.Errorf("Parse(%q).String() = %q", s, got)
		}
	}
}

func TestAdd(t *testing.T) {
	a := MustParse("10.50")
	b := MustParse("5.25")

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if sum.String() != "15.75" {
		t.Errorf("Add() = %s, want 15.75", sum)
	}

	if _, err := FromFen(math.MaxInt64).Add(FromFen(1)); err != ErrOverflow {
		t.Errorf("Add() overflow error = %v, want ErrOverflow", err)
	}
}

func TestSub(t *testing.T) {
	a := MustParse("10.50")
	b := MustParse("5.25")

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("Sub() error = %v", err)
	}
	if diff.String() != "5.25" {
		t.Errorf("Sub() = %s, want 5.25", diff)
	}

	// Subtraction may go negative; the caller enforces balance floors.
	neg, err := b.Sub(a)
	if err != nil {
		t.Fatalf("Sub() error = %v", err)
	}
	if neg.String() != "-5.25" {
		t.Errorf("Sub() = %s, want -5.25", neg)
	}

	if _, err := FromFen(math.MinInt64).Sub(FromFen(1)); err != ErrOverflow {
		t.Errorf("Sub() underflow error = %v, want ErrOverflow", err)
	}
}

func TestMulCount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		count   int64
		want    string
		wantErr bool
	}{
		{"unit price times players", "10.00", 5, "50.00", false},
		{"single player", "8.80", 1, "8.80", false},
		{"zero count", "10.00", 0, "0.00", false},
		{"fractional price", "0.01", 100, "1.00", false},
		{"overflow", "92233720368547758.07", 100, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MustParse(tt.amount).MulCount(tt.count)
			if (err != nil) != tt.wantErr {
				t.Fatalf("MulCount() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("MulCount() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestComparisons(t *testing.T) {
	small := MustParse("5.00")
	large := MustParse("10.00")

	if !small.LessThan(large) {
		t.Error("LessThan() = false, want true")
	}
	if !large.GreaterThan(small) {
		t.Error("GreaterThan() = false, want true")
	}
	if !small.Equal(MustParse("5.00")) {
		t.Error("Equal() = false, want true")
	}
	if small.Equal(large) {
		t.Error("Equal() = true, want false")
	}
}

func TestSignPredicates(t *testing.T) {
	if !MustParse("0.01").IsPositive() {
		t.Error("IsPositive() = false for 0.01")
	}
	if !MustParse("-0.01").IsNegative() {
		t.Error("IsNegative() = false for -0.01")
	}
	if !Zero().IsZero() {
		t.Error("IsZero() = false for zero")
	}
	if Zero().IsPositive() || Zero().IsNegative() {
		t.Error("zero must be neither positive nor negative")
	}
}

func TestNegateAbs(t *testing.T) {
	a := MustParse("10.50")

	if got := a.Negate().String(); got != "-10.50" {
		t.Errorf("Negate() = %s, want -10.50", got)
	}
	if got := a.Negate().Abs().String(); got != "10.50" {
		t.Errorf("Abs() = %s, want 10.50", got)
	}
	if got := a.Abs().String(); got != "10.50" {
		t.Errorf("Abs() of positive = %s, want 10.50", got)
	}
}

func TestScanValue(t *testing.T) {
	v, err := MustParse("12.34").Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}
	if v != int64(1234) {
		t.Errorf("Value() = %v, want 1234", v)
	}

	var a Amount
	if err := a.Scan(int64(-505)); err != nil {
		t.Fatalf("Scan(int64) error: %v", err)
	}
	if got := a.String(); got != "-5.05" {
		t.Errorf("scanned amount = %s, want -5.05", got)
	}

	if err := a.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if !a.IsZero() {
		t.Errorf("Scan(nil) = %s, want 0.00", a)
	}

	if err := a.Scan("12.34"); err == nil {
		t.Error("Scan(string) should fail")
	}
}
