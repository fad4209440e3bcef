package money

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Amount represents a CNY amount in fen (1 yuan = 100 fen).
// All arithmetic is performed on int64 to avoid floating-point precision issues.
//
// Examples:
//   - ¥10.50 = Amount{Fen: 1050}
//   - ¥0.01  = Amount{Fen: 1}
type Amount struct {
	Fen int64 // Amount in fen (smallest CNY unit)
}

// fenPerYuan is the number of atomic units per major unit (2 decimal places).
const fenPerYuan = 100

var (
	// ErrOverflow occurs when an operation would exceed int64 capacity.
	ErrOverflow = errors.New("money: arithmetic overflow")

	// ErrNegativeAmount occurs when a negative amount is invalid for an operation.
	ErrNegativeAmount = errors.New("money: negative amount not allowed")

	// ErrInvalidFormat occurs when parsing fails.
	ErrInvalidFormat = errors.New("money: invalid format")
)

// Zero returns a zero amount.
func Zero() Amount {
	return Amount{}
}

// FromFen creates an Amount from fen.
func FromFen(fen int64) Amount {
	return Amount{Fen: fen}
}

// Parse creates an Amount from a yuan decimal string (e.g. "10.50").
// At most two fraction digits are accepted; anything finer is rejected
// rather than rounded, so a ledger amount is never silently altered.
//
// Examples:
//   - Parse("10.50") → 1050 fen
//   - Parse("10.5")  → 1050 fen
//   - Parse("10")    → 1000 fen
//   - Parse("10.505") → ErrInvalidFormat
func Parse(major string) (Amount, error) {
	s := strings.TrimSpace(major)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty amount", ErrInvalidFormat)
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" {
		return Amount{}, fmt.Errorf("%w: missing digits", ErrInvalidFormat)
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Amount{}, fmt.Errorf("%w: too many decimal points", ErrInvalidFormat)
	}

	integerPart := parts[0]
	fractionalPart := ""
	if len(parts) == 2 {
		fractionalPart = parts[1]
	}
	if integerPart == "" && fractionalPart == "" {
		return Amount{}, fmt.Errorf("%w: missing digits", ErrInvalidFormat)
	}
	if integerPart == "" {
		integerPart = "0"
	}
	if len(fractionalPart) > 2 {
		return Amount{}, fmt.Errorf("%w: more than two fraction digits", ErrInvalidFormat)
	}

	integerVal, err := strconv.ParseInt(integerPart, 10, 64)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	// Pad "5" → "50" so "10.5" means ¥10.50.
	for len(fractionalPart) < 2 {
		fractionalPart += "0"
	}
	fractionalVal, err := strconv.ParseInt(fractionalPart, 10, 64)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	if integerVal > (math.MaxInt64-fractionalVal)/fenPerYuan {
		return Amount{}, ErrOverflow
	}

	fen := integerVal*fenPerYuan + fractionalVal
	if negative {
		fen = -fen
	}

	return Amount{Fen: fen}, nil
}

// MustParse parses a yuan string and panics on failure (for tests and constants).
func MustParse(major string) Amount {
	a, err := Parse(major)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the amount as a yuan decimal string with exactly two
// fraction digits, the only money format used on the wire.
//
// Examples:
//   - Amount{1050}.String() → "10.50"
//   - Amount{-5}.String()   → "-0.05"
func (a Amount) String() string {
	fen := a.Fen
	negative := fen < 0
	if negative {
		fen = -fen
	}

	integerPart := fen / fenPerYuan
	fractionalPart := fen % fenPerYuan

	var buf strings.Builder
	buf.Grow(24)
	if negative {
		buf.WriteByte('-')
	}
	buf.WriteString(strconv.FormatInt(integerPart, 10))
	buf.WriteByte('.')
	if fractionalPart < 10 {
		buf.WriteByte('0')
	}
	buf.WriteString(strconv.FormatInt(fractionalPart, 10))

	return buf.String()
}

// Add returns the sum of two amounts with overflow detection.
func (a Amount) Add(other Amount) (Amount, error) {
	result := a.Fen + other.Fen
	if (result > a.Fen) != (other.Fen > 0) {
		return Amount{}, ErrOverflow
	}
	return Amount{Fen: result}, nil
}

// Sub returns the difference of two amounts with underflow detection.
func (a Amount) Sub(other Amount) (Amount, error) {
	result := a.Fen - other.Fen
	if (result < a.Fen) != (other.Fen > 0) {
		return Amount{}, ErrOverflow
	}
	return Amount{Fen: result}, nil
}

// MulCount multiplies the amount by an integer count (e.g. unit price by
// player count). Overflow is detected via big.Int.
func (a Amount) MulCount(count int64) (Amount, error) {
	if count == 0 {
		return Zero(), nil
	}

	bigResult := new(big.Int).Mul(big.NewInt(a.Fen), big.NewInt(count))
	if !bigResult.IsInt64() {
		return Amount{}, ErrOverflow
	}

	return Amount{Fen: bigResult.Int64()}, nil
}

// IsPositive returns true if the amount is greater than zero.
func (a Amount) IsPositive() bool {
	return a.Fen > 0
}

// IsNegative returns true if the amount is less than zero.
func (a Amount) IsNegative() bool {
	return a.Fen < 0
}

// IsZero returns true if the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.Fen == 0
}

// LessThan returns true if a < other.
func (a Amount) LessThan(other Amount) bool {
	return a.Fen < other.Fen
}

// GreaterThan returns true if a > other.
func (a Amount) GreaterThan(other Amount) bool {
	return a.Fen > other.Fen
}

// Equal returns true if the amounts match exactly.
func (a Amount) Equal(other Amount) bool {
	return a.Fen == other.Fen
}

// Abs returns the absolute value.
func (a Amount) Abs() Amount {
	if a.Fen < 0 {
		return Amount{Fen: -a.Fen}
	}
	return a
}

// Negate returns the negated amount.
func (a Amount) Negate() Amount {
	return Amount{Fen: -a.Fen}
}
