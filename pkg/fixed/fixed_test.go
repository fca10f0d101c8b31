package fixed

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func TestArithmetic(t *testing.T) {
	a := FromInt(6)
	b := FromInt(4)

	if got := a.Add(b); !got.Eq(FromInt(10)) {
		t.Errorf("6+4 = %s, want 10", got)
	}
	if got := a.Sub(b); !got.Eq(FromInt(2)) {
		t.Errorf("6-4 = %s, want 2", got)
	}
	if got := a.Mul(b); !got.Eq(FromInt(24)) {
		t.Errorf("6*4 = %s, want 24", got)
	}
	if got := a.Div(b); !got.Eq(FromRat(3, 2)) {
		t.Errorf("6/4 = %s, want 1.5", got)
	}
	if got := FromRat(1, 2).Mul(FromRat(1, 2)); !got.Eq(FromRat(1, 4)) {
		t.Errorf("0.5*0.5 = %s, want 0.25", got)
	}
}

func TestMuli(t *testing.T) {
	price := FromRat(1, 4) // 0.25, exact in binary
	size := uint256.NewInt(1000)
	if got := price.Muli(size); got.Uint64() != 250 {
		t.Errorf("0.25 * 1000 = %d, want 250", got.Uint64())
	}
	// price*size then /price restores size for exact prices
	if got := price.Divu(price.Muli(size)); got.Uint64() != 1000 {
		t.Errorf("round trip = %d, want 1000", got.Uint64())
	}
}

// dec builds a 64.64 from a decimal literal, the same way the rounding
// scenarios in the product are produced.
func dec(s string) Q { return mustFromDec(s) }

func TestCeilTwoSig(t *testing.T) {
	tests := []struct{ in, want string }{
		{"1", "1"},
		{"90", "90"},
		{"53510034427", "54000000000"},
		{"24450", "25000"},
		{"9999", "10000"},
		{"8863", "8900"},
		{"521", "530"},
		{"12.211", "13"},
		{"24.55", "25"},
		{"1.419", "1.5"},
		{"9.9994", "10"},
		{"0.07745", "0.078"},
		{"0.00994", "0.01"},
		{"0.0000068841", "0.0000069"},
		{"45", "45"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := dec(tt.in).CeilTwoSig()
			if err != nil {
				t.Fatalf("ceil(%s): %v", tt.in, err)
			}
			want := dec(tt.want)
			if !close64x64(got, want) {
				t.Errorf("ceil(%s) = %s, want %s", tt.in, got, want)
			}
			// idempotent on its own output
			again, err := got.CeilTwoSig()
			if err != nil {
				t.Fatalf("ceil^2(%s): %v", tt.in, err)
			}
			if !got.Eq(again) {
				t.Errorf("ceil not idempotent on %s: %s -> %s", tt.in, got, again)
			}
		})
	}
}

func TestFloorTwoSig(t *testing.T) {
	tests := []struct{ in, want string }{
		{"1", "1"},
		{"90", "90"},
		{"53510034427", "53000000000"},
		{"24450", "24000"},
		{"9999", "9900"},
		{"8863", "8800"},
		{"521", "520"},
		{"12.211", "12"},
		{"24.55", "24"},
		{"1.419", "1.4"},
		{"9.9994", "9.9"},
		{"0.07745", "0.077"},
		{"0.00994", "0.0099"},
		{"0.0000068841", "0.0000068"},
		{"45", "45"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := dec(tt.in).FloorTwoSig()
			if err != nil {
				t.Fatalf("floor(%s): %v", tt.in, err)
			}
			want := dec(tt.want)
			if !close64x64(got, want) {
				t.Errorf("floor(%s) = %s, want %s", tt.in, got, want)
			}
			again, err := got.FloorTwoSig()
			if err != nil {
				t.Fatalf("floor^2(%s): %v", tt.in, err)
			}
			if !got.Eq(again) {
				t.Errorf("floor not idempotent on %s: %s -> %s", tt.in, got, again)
			}
		})
	}
}

func TestRoundTwoSigRejectsZero(t *testing.T) {
	if _, err := Zero.CeilTwoSig(); err != ErrInvalidArgument {
		t.Errorf("ceil(0) err = %v, want ErrInvalidArgument", err)
	}
	if _, err := FromInt(-3).FloorTwoSig(); err != ErrInvalidArgument {
		t.Errorf("floor(-3) err = %v, want ErrInvalidArgument", err)
	}
}

// close64x64 compares within two ulps, absorbing the truncation of
// decimal literals that have no exact binary representation.
func close64x64(a, b Q) bool {
	d := new(big.Int).Sub(a.Big(), b.Big())
	d.Abs(d)
	return d.Cmp(big.NewInt(2)) <= 0
}

// approx compares within 1e-5, for transcendental results.
func approx(a, b Q) bool {
	return a.Sub(b).Abs().Cmp(FromRat(1, 100000)) <= 0
}

func TestSqrt(t *testing.T) {
	if got := FromInt(9).Sqrt(); !got.Eq(FromInt(3)) {
		t.Errorf("sqrt(9) = %s, want 3", got)
	}
	if got := FromInt(2).Sqrt(); !approx(got, dec("1.41421356")) {
		t.Errorf("sqrt(2) = %s", got)
	}
}

func TestExpLn(t *testing.T) {
	if got := Zero.Exp(); !approx(got, One) {
		t.Errorf("exp(0) = %s, want 1", got)
	}
	if got := One.Exp(); !approx(got, dec("2.718281828")) {
		t.Errorf("exp(1) = %s", got)
	}
	if got := One.Exp().Ln(); !approx(got, One) {
		t.Errorf("ln(e) = %s, want 1", got)
	}
	for _, v := range []string{"0.25", "1", "7", "123.456"} {
		x := dec(v)
		if got := x.Ln().Exp(); !approx(got, x) {
			t.Errorf("exp(ln(%s)) = %s", v, got)
		}
	}
	if got := FromInt(-100).Exp(); !got.IsZero() {
		t.Errorf("exp(-100) = %s, want 0", got)
	}
}

func TestNormal(t *testing.T) {
	if got := Zero.CDF(); !approx(got, FromRat(1, 2)) {
		t.Errorf("N(0) = %s, want 0.5", got)
	}
	if got := dec("1.96").CDF(); !approx(got, dec("0.9750")) {
		t.Errorf("N(1.96) = %s, want ~0.975", got)
	}
	if got := FromRat(1, 2).InvCDF(); !approx(got, Zero) {
		t.Errorf("InvCDF(0.5) = %s, want 0", got)
	}
	for _, p := range []string{"0.01", "0.3", "0.5", "0.7", "0.99"} {
		q := dec(p)
		if got := q.InvCDF().CDF(); !approx(got, q) {
			t.Errorf("N(InvCDF(%s)) = %s", p, got)
		}
	}
}

func TestToBaseTokenAmount(t *testing.T) {
	v := uint256.NewInt(1_000_000)
	if got := ToBaseTokenAmount(6, 18, v); got.Cmp(uint256.MustFromDecimal("1000000000000000000")) != 0 {
		t.Errorf("6->18 = %s", got)
	}
	if got := ToBaseTokenAmount(18, 6, uint256.MustFromDecimal("1000000000000000000")); got.Uint64() != 1_000_000 {
		t.Errorf("18->6 = %s", got)
	}
	if got := ToBaseTokenAmount(18, 18, v); got.Cmp(v) != 0 {
		t.Errorf("identity = %s", got)
	}
}

func TestContractCollateralConversion(t *testing.T) {
	strike := FromInt(2000)
	oneEth := uint256.MustFromDecimal("1000000000000000000")

	// calls: collateral is the underlying, identity both ways
	if got := FromContractsToCollateral(oneEth, true, 18, 18, strike); got.Cmp(oneEth) != 0 {
		t.Errorf("call contracts->collateral = %s", got)
	}
	if got := FromCollateralToContracts(oneEth, true, 18, strike); got.Cmp(oneEth) != 0 {
		t.Errorf("call collateral->contracts = %s", got)
	}

	// puts: one contract at strike 2000 is 2000 base
	coll := FromContractsToCollateral(oneEth, false, 18, 18, strike)
	if want := uint256.MustFromDecimal("2000000000000000000000"); coll.Cmp(want) != 0 {
		t.Errorf("put contracts->collateral = %s, want %s", coll, want)
	}
	back := FromCollateralToContracts(coll, false, 18, strike)
	if back.Cmp(oneEth) != 0 {
		t.Errorf("put round trip = %s, want %s", back, oneEth)
	}

	// puts with 6-decimal base
	coll6 := FromContractsToCollateral(oneEth, false, 18, 6, strike)
	if want := uint256.NewInt(2000_000000); coll6.Cmp(want) != 0 {
		t.Errorf("put 6-dec collateral = %s, want %s", coll6, want)
	}
	if got := FromCollateralToContracts(coll6, false, 6, strike); got.Cmp(oneEth) != 0 {
		t.Errorf("put 6-dec round trip = %s", got)
	}
}
