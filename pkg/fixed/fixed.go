// Package fixed implements signed 64.64 fixed-point arithmetic.
//
// A 64.64 number keeps 64 bits of integer (plus sign) and 64 bits of
// fraction, the representation every price, strike and rate in the vault
// is quoted in. Values are backed by big.Int and range-checked against
// the 128-bit envelope, so arithmetic is deterministic across platforms.
package fixed

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow        = errors.New("fixed: overflow")
	ErrDivisionByZero  = errors.New("fixed: division by zero")
	ErrInvalidArgument = errors.New("fixed: invalid argument")
)

// scale = 2^64, the weight of one whole unit.
var scale = new(big.Int).Lsh(big.NewInt(1), 64)

// int128 envelope
var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Q is an immutable signed 64.64 fixed-point number.
// The zero value is the number 0.
type Q struct {
	i *big.Int
}

var (
	// Zero is the 64.64 number 0.
	Zero = Q{}
	// One is the 64.64 number 1.
	One = Q{i: new(big.Int).Set(scale)}
	// Max is the largest representable value (int128 max). The auction
	// engine uses it as the cancelled-price sentinel.
	Max = Q{i: new(big.Int).Set(maxInt128)}
)

func (q Q) big() *big.Int {
	if q.i == nil {
		return new(big.Int)
	}
	return q.i
}

// wrap range-checks a raw 2^64-scaled integer and panics on overflow.
// Overflow is a programming error in this codebase, not an input error.
func wrap(i *big.Int) Q {
	if i.Cmp(maxInt128) > 0 || i.Cmp(minInt128) < 0 {
		panic(ErrOverflow)
	}
	return Q{i: i}
}

// FromInt converts an integer to 64.64.
func FromInt(v int64) Q {
	return wrap(new(big.Int).Mul(big.NewInt(v), scale))
}

// FromRat converts num/den to 64.64, truncating toward zero.
func FromRat(num, den int64) Q {
	if den == 0 {
		panic(ErrDivisionByZero)
	}
	n := new(big.Int).Mul(big.NewInt(num), scale)
	return wrap(n.Quo(n, big.NewInt(den)))
}

// FromBig wraps a raw 2^64-scaled integer. The value is copied.
func FromBig(i *big.Int) Q {
	return wrap(new(big.Int).Set(i))
}

// FromUint converts an unsigned integer amount to 64.64.
func FromUint(v *uint256.Int) Q {
	return wrap(new(big.Int).Mul(v.ToBig(), scale))
}

// Big returns a copy of the raw 2^64-scaled integer.
func (q Q) Big() *big.Int { return new(big.Int).Set(q.big()) }

// Int truncates to a signed integer (toward zero).
func (q Q) Int() int64 { return new(big.Int).Quo(q.big(), scale).Int64() }

// Sign reports -1, 0 or +1.
func (q Q) Sign() int { return q.big().Sign() }

// IsZero reports whether q == 0.
func (q Q) IsZero() bool { return q.big().Sign() == 0 }

// Cmp compares q and r: -1 if q < r, 0 if equal, +1 if q > r.
func (q Q) Cmp(r Q) int { return q.big().Cmp(r.big()) }

// Eq reports q == r.
func (q Q) Eq(r Q) bool { return q.Cmp(r) == 0 }

func (q Q) Add(r Q) Q { return wrap(new(big.Int).Add(q.big(), r.big())) }

func (q Q) Sub(r Q) Q { return wrap(new(big.Int).Sub(q.big(), r.big())) }

func (q Q) Neg() Q { return wrap(new(big.Int).Neg(q.big())) }

func (q Q) Abs() Q { return wrap(new(big.Int).Abs(q.big())) }

// Mul returns q*r, truncating the extra 64 fraction bits toward
// negative infinity (arithmetic shift, matching two's-complement hardware).
func (q Q) Mul(r Q) Q {
	p := new(big.Int).Mul(q.big(), r.big())
	return wrap(p.Rsh(p, 64))
}

// Div returns q/r truncated toward zero.
func (q Q) Div(r Q) Q {
	if r.big().Sign() == 0 {
		panic(ErrDivisionByZero)
	}
	n := new(big.Int).Lsh(q.big(), 64)
	return wrap(n.Quo(n, r.big()))
}

// Muli multiplies a non-negative price by an unsigned amount, returning
// the amount scaled by the price: floor(q * v). Used for price×size.
func (q Q) Muli(v *uint256.Int) *uint256.Int {
	if q.big().Sign() < 0 {
		panic(ErrInvalidArgument)
	}
	p := new(big.Int).Mul(q.big(), v.ToBig())
	p.Rsh(p, 64)
	out, overflow := uint256.FromBig(p)
	if overflow {
		panic(ErrOverflow)
	}
	return out
}

// Divu divides an unsigned amount by a positive price: floor(v / q).
func (q Q) Divu(v *uint256.Int) *uint256.Int {
	if q.big().Sign() <= 0 {
		panic(ErrInvalidArgument)
	}
	n := new(big.Int).Lsh(v.ToBig(), 64)
	n.Quo(n, q.big())
	out, overflow := uint256.FromBig(n)
	if overflow {
		panic(ErrOverflow)
	}
	return out
}

// String renders q as a decimal with up to 18 fraction digits, for logs.
func (q Q) String() string {
	i := q.big()
	neg := i.Sign() < 0
	a := new(big.Int).Abs(i)
	whole, frac := new(big.Int), new(big.Int)
	whole.QuoRem(a, scale, frac)
	if frac.Sign() == 0 {
		if neg {
			return "-" + whole.String()
		}
		return whole.String()
	}
	// frac/2^64 scaled to 18 decimal digits, trailing zeros trimmed
	d := new(big.Int).Mul(frac, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	d.Quo(d, scale)
	s := fmt.Sprintf("%018s", d.String())
	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if neg {
		return "-" + whole.String() + "." + s
	}
	return whole.String() + "." + s
}

// MarshalText implements encoding.TextMarshaler (gob/json snapshots).
func (q Q) MarshalText() ([]byte, error) {
	return []byte(q.big().String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Q) UnmarshalText(b []byte) error {
	i, ok := new(big.Int).SetString(string(b), 10)
	if !ok {
		return fmt.Errorf("fixed: bad literal %q", b)
	}
	if i.Cmp(maxInt128) > 0 || i.Cmp(minInt128) < 0 {
		return ErrOverflow
	}
	q.i = i
	return nil
}

// FromDec parses a decimal literal ("0.3275911") into 64.64,
// truncating toward zero.
func FromDec(s string) (Q, error) {
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg, s = true, s[1:]
	}
	whole, frac := s, ""
	for j := 0; j < len(s); j++ {
		if s[j] == '.' {
			whole, frac = s[:j], s[j+1:]
			break
		}
	}
	w, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return Zero, fmt.Errorf("%w: bad decimal %q", ErrInvalidArgument, s)
	}
	n := new(big.Int).Mul(w, scale)
	if frac != "" {
		f, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return Zero, fmt.Errorf("%w: bad decimal %q", ErrInvalidArgument, s)
		}
		den := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(len(frac))), nil)
		f.Mul(f, scale)
		f.Quo(f, den)
		n.Add(n, f)
	}
	if neg {
		n.Neg(n)
	}
	if n.Cmp(maxInt128) > 0 || n.Cmp(minInt128) < 0 {
		return Zero, ErrOverflow
	}
	return Q{i: n}, nil
}

// mustFromDec is FromDec for compile-time constants.
func mustFromDec(s string) Q {
	q, err := FromDec(s)
	if err != nil {
		panic(err)
	}
	return q
}
