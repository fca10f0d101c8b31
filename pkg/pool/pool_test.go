package pool

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/optionvault/pkg/fixed"
	"github.com/uhyunpark/optionvault/pkg/token"
)

var (
	poolAddr = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	writer   = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	holder   = common.HexToAddress("0x00000000000000000000000000000000000000e3")
)

func eth(n int64) *uint256.Int {
	v := uint256.NewInt(uint64(n))
	return v.Mul(v, uint256.NewInt(1_000_000_000_000_000_000))
}

func newPool() (*Pool, *token.Ledger, *token.Ledger) {
	underlying := token.NewLedger("ETH", 18)
	base := token.NewLedger("DAI", 18)
	return New(poolAddr, Settings{Base: base, Underlying: underlying}), underlying, base
}

func TestTokenIDRoundTrip(t *testing.T) {
	strike := fixed.FromInt(2000)
	id := FormatTokenID(ShortCall, 1663315200, strike)
	tt, maturity, s := ParseTokenID(id)
	if tt != ShortCall || maturity != 1663315200 || !s.Eq(strike) {
		t.Errorf("parse = (%d, %d, %s)", tt, maturity, s)
	}
}

func TestReservedLiquidityIDs(t *testing.T) {
	// the bucket ids are the protocol constants 2<<248 and 3<<248
	want := new(uint256.Int).Lsh(uint256.NewInt(2), 248)
	if got := ReservedLiqTokenID(true).Uint(); got.Cmp(want) != 0 {
		t.Errorf("underlying reserved id = %s, want 2<<248", got)
	}
	want = new(uint256.Int).Lsh(uint256.NewInt(3), 248)
	if got := ReservedLiqTokenID(false).Uint(); got.Cmp(want) != 0 {
		t.Errorf("base reserved id = %s, want 3<<248", got)
	}
	if got := FreeLiqTokenID(true).Uint(); !got.IsZero() {
		t.Errorf("underlying free id = %s, want 0", got)
	}
}

func TestWriteFromMintsBothSides(t *testing.T) {
	p, underlying, _ := newPool()
	strike := fixed.FromInt(2000)
	expiry := int64(1663315200)

	underlying.Mint(writer, eth(100))
	underlying.Approve(writer, poolAddr, eth(100))

	if err := p.WriteFrom(writer, holder, expiry, strike, eth(100), true); err != nil {
		t.Fatalf("write: %v", err)
	}
	longID := FormatTokenID(LongCall, expiry, strike)
	shortID := FormatTokenID(ShortCall, expiry, strike)
	if got := p.BalanceOf(holder, longID); got.Cmp(eth(100)) != 0 {
		t.Errorf("long balance = %s, want 100e18", got)
	}
	if got := p.BalanceOf(writer, shortID); got.Cmp(eth(100)) != 0 {
		t.Errorf("short balance = %s, want 100e18", got)
	}
	// the call collateral moved into the pool
	if got := underlying.BalanceOf(poolAddr); got.Cmp(eth(100)) != 0 {
		t.Errorf("pool collateral = %s, want 100e18", got)
	}
	if !underlying.BalanceOf(writer).IsZero() {
		t.Error("writer must be fully collateralized")
	}
}

func TestWriteFromPutPullsBaseCollateral(t *testing.T) {
	p, _, base := newPool()
	strike := fixed.FromInt(2000)
	expiry := int64(1663315200)

	base.Mint(writer, eth(200_000))
	base.Approve(writer, poolAddr, eth(200_000))

	if err := p.WriteFrom(writer, holder, expiry, strike, eth(100), false); err != nil {
		t.Fatalf("write: %v", err)
	}
	// 100 contracts at strike 2000 lock 200k base
	if got := base.BalanceOf(poolAddr); got.Cmp(eth(200_000)) != 0 {
		t.Errorf("pool collateral = %s, want 200000e18", got)
	}
}

func TestExerciseCallITM(t *testing.T) {
	p, underlying, _ := newPool()
	strike := fixed.FromInt(2000)
	expiry := int64(1663315200)

	underlying.Mint(writer, eth(100))
	underlying.Approve(writer, poolAddr, eth(100))
	if err := p.WriteFrom(writer, holder, expiry, strike, eth(100), true); err != nil {
		t.Fatalf("write: %v", err)
	}
	longID := FormatTokenID(LongCall, expiry, strike)

	if _, err := p.ExerciseValue(longID, eth(100)); err != ErrNoSettlementPrice {
		t.Errorf("value before settlement err = %v, want ErrNoSettlementPrice", err)
	}
	p.SetPriceAfter64x64(expiry, fixed.FromInt(2100))

	want := fixed.FromInt(100).Div(fixed.FromInt(2100)).Muli(eth(100))
	value, err := p.ExerciseValue(longID, eth(100))
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value.Cmp(want) != 0 {
		t.Errorf("value = %s, want %s", value, want)
	}

	paid, err := p.Exercise(holder, longID, eth(100))
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if paid.Cmp(want) != 0 {
		t.Errorf("paid = %s, want %s", paid, want)
	}
	if got := underlying.BalanceOf(holder); got.Cmp(want) != 0 {
		t.Errorf("holder collateral = %s, want %s", got, want)
	}
	if !p.BalanceOf(holder, longID).IsZero() {
		t.Error("longs must burn on exercise")
	}
}

func TestExerciseOTMIsWorthless(t *testing.T) {
	p, underlying, _ := newPool()
	strike := fixed.FromInt(2000)
	expiry := int64(1663315200)

	underlying.Mint(writer, eth(10))
	underlying.Approve(writer, poolAddr, eth(10))
	if err := p.WriteFrom(writer, holder, expiry, strike, eth(10), true); err != nil {
		t.Fatalf("write: %v", err)
	}
	p.SetPriceAfter64x64(expiry, fixed.FromInt(1900))

	longID := FormatTokenID(LongCall, expiry, strike)
	value, err := p.ExerciseValue(longID, eth(10))
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if !value.IsZero() {
		t.Errorf("OTM value = %s, want 0", value)
	}
}

func TestSettleShortBooksResidualToReserved(t *testing.T) {
	p, underlying, _ := newPool()
	strike := fixed.FromInt(2000)
	expiry := int64(1663315200)

	underlying.Mint(writer, eth(100))
	underlying.Approve(writer, poolAddr, eth(100))
	if err := p.WriteFrom(writer, holder, expiry, strike, eth(100), true); err != nil {
		t.Fatalf("write: %v", err)
	}
	p.SetPriceAfter64x64(expiry, fixed.FromInt(2100))

	shortID := FormatTokenID(ShortCall, expiry, strike)
	if err := p.SettleShort(writer, shortID, eth(100)); err != nil {
		t.Fatalf("settle: %v", err)
	}

	exercised := fixed.FromInt(100).Div(fixed.FromInt(2100)).Muli(eth(100))
	residual := new(uint256.Int).Sub(eth(100), exercised)
	reserved := p.BalanceOf(writer, ReservedLiqTokenID(true))
	if reserved.Cmp(residual) != 0 {
		t.Errorf("reserved = %s, want residual %s", reserved, residual)
	}
	if !p.BalanceOf(writer, shortID).IsZero() {
		t.Error("shorts must burn on settlement")
	}

	// the reserved bucket sweeps back into collateral
	if err := p.Withdraw(writer, reserved, true); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := underlying.BalanceOf(writer); got.Cmp(residual) != 0 {
		t.Errorf("swept collateral = %s, want %s", got, residual)
	}
}
