package fixed

import "math/big"

// CeilTwoSig and FloorTwoSig round a positive 64.64 number up or down
// to two significant decimal digits. The strike grid the pricer snaps
// to is built from these.
//
// Policy: pick the largest power of ten p with p <= x/10, round x/p to
// an integer, multiply back. The quotient is carried as an exact
// rational so repeated application is stable: values within one
// representation ulp of a grid point stay on that grid point.

// CeilTwoSig rounds x > 0 up to two significant decimal digits.
func (q Q) CeilTwoSig() (Q, error) { return q.roundTwoSig(true) }

// FloorTwoSig rounds x > 0 down to two significant decimal digits.
func (q Q) FloorTwoSig() (Q, error) { return q.roundTwoSig(false) }

var bigTen = big.NewInt(10)

func (q Q) roundTwoSig(up bool) (Q, error) {
	n := q.big()
	if n.Sign() <= 0 {
		return Zero, ErrInvalidArgument
	}

	// m = smallest integer with 10^m > x; the scale is p = 10^(m-2).
	m := 0
	if tenPowCmp(n, 0) >= 0 {
		for tenPowCmp(n, m) >= 0 { // while x >= 10^m
			m++
		}
	} else {
		for tenPowCmp(n, m-1) < 0 { // while x < 10^(m-1)
			m--
		}
	}
	k := m - 2

	// y = x / 10^k as an exact rational num/den.
	num := new(big.Int).Set(n)
	den := new(big.Int).Set(scale)
	tol := big.NewInt(1)
	if k >= 0 {
		den.Mul(den, new(big.Int).Exp(bigTen, big.NewInt(int64(k)), nil))
	} else {
		p := new(big.Int).Exp(bigTen, big.NewInt(int64(-k)), nil)
		num.Mul(num, p)
		tol = p // one input ulp, scaled
	}

	d, r := new(big.Int).QuoRem(num, den, new(big.Int))
	switch {
	case r.Sign() == 0:
		// already on the grid
	case up:
		if r.Cmp(tol) > 0 {
			d.Add(d, big.NewInt(1))
		}
	default: // floor
		if new(big.Int).Sub(den, r).Cmp(tol) <= 0 {
			d.Add(d, big.NewInt(1))
		}
	}

	// back to 64.64: d * 10^k
	res := new(big.Int).Mul(d, scale)
	if k >= 0 {
		res.Mul(res, new(big.Int).Exp(bigTen, big.NewInt(int64(k)), nil))
	} else {
		res.Quo(res, new(big.Int).Exp(bigTen, big.NewInt(int64(-k)), nil))
	}
	return wrap(res), nil
}

// tenPowCmp compares x (raw 2^64-scaled) against 10^m: -1, 0, +1.
func tenPowCmp(n *big.Int, m int) int {
	if m >= 0 {
		p := new(big.Int).Exp(bigTen, big.NewInt(int64(m)), nil)
		return n.Cmp(p.Mul(p, scale))
	}
	l := new(big.Int).Mul(n, new(big.Int).Exp(bigTen, big.NewInt(int64(-m)), nil))
	return l.Cmp(scale)
}
