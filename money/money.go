/*
money.go - fixed-point currency amount

PURPOSE:
  Money is an opaque fixed-point decimal with exactly four fractional
  digits, matching the precision the ledger's CSV interface and account
  balances are specified in. It wraps shopspring/decimal rather than a
  raw float64 so that arithmetic never accumulates binary-rounding error
  across a long transaction stream.

INVARIANTS:
  - A Money value always carries exactly four digits after the decimal
    point once normalized (Parse, Add, Sub all normalize).
  - Rounding, where it occurs (parsing a value with more than four
    fractional digits), is midpoint-toward-zero: 1.23455 -> 1.2346 is
    wrong; 1.23455 -> 1.2345 and -1.23455 -> -1.2345 are both correct,
    because "toward zero" on an exact tie means the smaller-magnitude
    neighbor wins regardless of sign.

EXAMPLE:
  m, err := money.Parse("12.5")
  m2 := m.Add(money.MustParse("0.0001"))
  fmt.Println(m2.String()) // "12.5001"

SEE ALSO:
  - ledger/types.go: Account fields expressed in Money.
  - original_source/src/decimal.rs: the Decimal4 this type is modeled on.
*/
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const scale = 4

// Money is a signed fixed-point value with four fractional digits.
// The zero value is zero.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// ErrOverflow is returned by Parse when its input cannot be represented,
// e.g. a string that is not a valid decimal literal. Add and Sub return
// no error.
type ErrOverflow struct {
	Input string
}

func (e *ErrOverflow) Error() string {
	return fmt.Sprintf("money: value %q is not representable", e.Input)
}

// Parse reads a decimal literal (e.g. "12.3400", "-0.5", "7") and
// rounds it to four fractional digits using midpoint-toward-zero.
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, &ErrOverflow{Input: s}
	}
	return Money{d: roundMidpointTowardZero(d)}, nil
}

// MustParse is Parse but panics on error; intended for literals in
// tests and constant tables, never for untrusted input.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromInt builds a Money from a whole-unit integer, e.g. FromInt(5)
// is "5.0000".
func FromInt(v int64) Money {
	return Money{d: decimal.NewFromInt(v)}
}

// roundMidpointTowardZero rounds d to `scale` fractional digits such
// that an exact tie (the digit immediately past the cutoff is 5 with
// nothing nonzero after it) resolves toward zero rather than away from
// it. decimal.Decimal.Round implements round-half-away-from-zero, so
// the tie case is detected and handled explicitly; all other cases
// defer to Round, which agrees with midpoint-toward-zero away from the
// exact halfway point.
func roundMidpointTowardZero(d decimal.Decimal) decimal.Decimal {
	rounded := d.Round(scale)
	diff := rounded.Sub(d).Abs()
	half := decimal.New(5, -int32(scale)-1) // 0.00005
	if diff.Equal(half) {
		// Exact tie: away-from-zero rounding just moved magnitude up.
		// Toward-zero wants the smaller-magnitude neighbor instead.
		if d.Sign() >= 0 && rounded.GreaterThan(d) {
			return rounded.Sub(decimal.New(1, -int32(scale)))
		}
		if d.Sign() < 0 && rounded.LessThan(d) {
			return rounded.Add(decimal.New(1, -int32(scale)))
		}
	}
	return rounded
}

// Add returns m+other, rounded to four fractional digits.
func (m Money) Add(other Money) Money {
	return Money{d: roundMidpointTowardZero(m.d.Add(other.d))}
}

// Sub returns m-other, rounded to four fractional digits.
func (m Money) Sub(other Money) Money {
	return Money{d: roundMidpointTowardZero(m.d.Sub(other.d))}
}

// Neg returns -m.
func (m Money) Neg() Money {
	return Money{d: m.d.Neg()}
}

// IsZero reports whether m is exactly zero.
func (m Money) IsZero() bool { return m.d.IsZero() }

// IsPositive reports whether m is strictly greater than zero.
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// IsNegative reports whether m is strictly less than zero.
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// GreaterThan reports whether m > other.
func (m Money) GreaterThan(other Money) bool { return m.d.GreaterThan(other.d) }

// LessThan reports whether m < other.
func (m Money) LessThan(other Money) bool { return m.d.LessThan(other.d) }

// Equal reports exact equality on the four-digit representation.
func (m Money) Equal(other Money) bool { return m.d.Equal(other.d) }

// String formats m with exactly four fractional digits, e.g. "12.3400".
func (m Money) String() string {
	return m.d.StringFixed(scale)
}

// MarshalText implements encoding.TextMarshaler for CSV/JSON output.
func (m Money) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Money) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
