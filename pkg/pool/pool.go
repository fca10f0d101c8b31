// Package pool models the external options pool the vault underwrites
// against. It mints the long and short sides of an option as per-id
// fungible tokens, holds the written collateral, and settles both sides
// against a post-expiry price. The vault core only touches it through
// the narrow surface consumed in the auction and epoch paths.
package pool

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/optionvault/pkg/fixed"
	"github.com/uhyunpark/optionvault/pkg/token"
)

// TokenType occupies the top 8 bits of a pool token id.
type TokenType uint8

const (
	UnderlyingFreeLiq TokenType = iota
	BaseFreeLiq
	UnderlyingReservedLiq
	BaseReservedLiq
	LongCall
	ShortCall
	LongPut
	ShortPut
)

var (
	ErrNoSettlementPrice = errors.New("pool: no settlement price for expiry")
	ErrNotExpired        = errors.New("pool: option not expired")
)

// FormatTokenID packs (tokenType, maturity, strike) into a 256-bit id:
// type in the top 8 bits, maturity in bits 128..191, strike64x64 in the
// low 128 bits.
func FormatTokenID(tt TokenType, maturity int64, strike fixed.Q) token.ID {
	id := new(uint256.Int).Lsh(uint256.NewInt(uint64(tt)), 248)
	m := new(uint256.Int).Lsh(uint256.NewInt(uint64(maturity)), 128)
	id.Or(id, m)
	s, _ := uint256.FromBig(strike.Big()) // strike > 0, fits 128 bits
	id.Or(id, s)
	return token.IDFromUint(id)
}

// ParseTokenID unpacks a pool token id.
func ParseTokenID(id token.ID) (TokenType, int64, fixed.Q) {
	v := id.Uint()
	tt := TokenType(new(uint256.Int).Rsh(v, 248).Uint64())
	maturity := int64(new(uint256.Int).Rsh(v, 128).Uint64()) // low 64 bits of the shifted word
	strike := fixed.FromBig(new(uint256.Int).And(v, maxUint128).ToBig())
	return tt, maturity, strike
}

var maxUint128 = func() *uint256.Int {
	one := uint256.NewInt(1)
	v := new(uint256.Int).Lsh(one, 128)
	return v.Sub(v, one)
}()

// ReservedLiqTokenID returns the reserved-liquidity bucket id for the
// collateral side.
func ReservedLiqTokenID(isCall bool) token.ID {
	if isCall {
		return FormatTokenID(UnderlyingReservedLiq, 0, fixed.Zero)
	}
	return FormatTokenID(BaseReservedLiq, 0, fixed.Zero)
}

// FreeLiqTokenID returns the free-liquidity bucket id.
func FreeLiqTokenID(isCall bool) token.ID {
	if isCall {
		return FormatTokenID(UnderlyingFreeLiq, 0, fixed.Zero)
	}
	return FormatTokenID(BaseFreeLiq, 0, fixed.Zero)
}

// Settings mirrors the pool's asset wiring.
type Settings struct {
	Base       *token.Ledger
	Underlying *token.Ledger
}

// Pool is the in-process options pool.
type Pool struct {
	addr     common.Address
	settings Settings
	tokens   *token.MultiLedger

	underlyingDecimals uint8
	baseDecimals       uint8

	// post-expiry settlement prices, keyed by expiry
	settlement map[int64]fixed.Q

	// divestment timestamps per collateral side
	divestment map[bool]int64
}

func New(addr common.Address, settings Settings) *Pool {
	return &Pool{
		addr:               addr,
		settings:           settings,
		tokens:             token.NewMultiLedger(),
		underlyingDecimals: settings.Underlying.Decimals(),
		baseDecimals:       settings.Base.Decimals(),
		settlement:         make(map[int64]fixed.Q),
		divestment:         make(map[bool]int64),
	}
}

func (p *Pool) Addr() common.Address      { return p.addr }
func (p *Pool) GetPoolSettings() Settings { return p.settings }

func (p *Pool) collateral(isCall bool) *token.Ledger {
	if isCall {
		return p.settings.Underlying
	}
	return p.settings.Base
}

// WriteFrom underwrites size contracts: the writer funds the full
// collateral requirement, the pool mints long tokens to `to` and short
// tokens to `from`. The writer must have approved the pool beforehand.
func (p *Pool) WriteFrom(from, to common.Address, expiry int64, strike fixed.Q, size *uint256.Int, isCall bool) error {
	collateral := fixed.FromContractsToCollateral(size, isCall, p.underlyingDecimals, p.baseDecimals, strike)
	if err := p.collateral(isCall).TransferFrom(p.addr, from, p.addr, collateral); err != nil {
		return fmt.Errorf("pool write: %w", err)
	}
	longType, shortType := LongCall, ShortCall
	if !isCall {
		longType, shortType = LongPut, ShortPut
	}
	p.tokens.Mint(to, FormatTokenID(longType, expiry, strike), size)
	p.tokens.Mint(from, FormatTokenID(shortType, expiry, strike), size)
	return nil
}

// SetDivestmentTimestamp records the divestment timestamp for the call
// or put side. Settlement does not read it: SettleShort books residual
// collateral into the reserved-liquidity bucket in every case.
func (p *Pool) SetDivestmentTimestamp(ts int64, isCall bool) {
	p.divestment[isCall] = ts
}

// SetPriceAfter64x64 records the settlement price for an expiry.
// Driven by the settlement oracle.
func (p *Pool) SetPriceAfter64x64(expiry int64, spot fixed.Q) {
	p.settlement[expiry] = spot
}

// GetPriceAfter64x64 returns the post-expiry settlement spot.
func (p *Pool) GetPriceAfter64x64(expiry int64) (fixed.Q, error) {
	spot, ok := p.settlement[expiry]
	if !ok {
		return fixed.Zero, ErrNoSettlementPrice
	}
	return spot, nil
}

func (p *Pool) BalanceOf(holder common.Address, id token.ID) *uint256.Int {
	return p.tokens.BalanceOf(holder, id)
}

func (p *Pool) SafeTransferFrom(operator, from, to common.Address, id token.ID, amount *uint256.Int) error {
	return p.tokens.SafeTransferFrom(operator, from, to, id, amount)
}

// ExerciseValue returns the collateral a holder of size long tokens
// would receive at settlement: calls pay (spot-strike)/spot in
// underlying, puts pay (strike-spot) in base, zero out of the money.
func (p *Pool) ExerciseValue(id token.ID, size *uint256.Int) (*uint256.Int, error) {
	tt, expiry, strike := ParseTokenID(id)
	spot, ok := p.settlement[expiry]
	if !ok {
		return nil, ErrNoSettlementPrice
	}
	switch tt {
	case LongCall:
		if spot.Cmp(strike) <= 0 {
			return new(uint256.Int), nil
		}
		return spot.Sub(strike).Div(spot).Muli(size), nil
	case LongPut:
		if strike.Cmp(spot) <= 0 {
			return new(uint256.Int), nil
		}
		v := strike.Sub(spot).Muli(size)
		return fixed.ToBaseTokenAmount(p.underlyingDecimals, p.baseDecimals, v), nil
	default:
		return nil, fmt.Errorf("pool: token type %d has no exercise value", tt)
	}
}

// Exercise burns the caller's long tokens and pays out their settlement
// value in collateral.
func (p *Pool) Exercise(caller common.Address, id token.ID, size *uint256.Int) (*uint256.Int, error) {
	value, err := p.ExerciseValue(id, size)
	if err != nil {
		return nil, err
	}
	if err := p.tokens.Burn(caller, id, size); err != nil {
		return nil, err
	}
	tt, _, _ := ParseTokenID(id)
	isCall := tt == LongCall
	if !value.IsZero() {
		if err := p.collateral(isCall).Transfer(p.addr, caller, value); err != nil {
			return nil, err
		}
	}
	return value, nil
}

// SettleShort burns the holder's short tokens and books the residual
// collateral (written collateral minus exercise value) into the
// holder's reserved-liquidity bucket, whatever divestment timestamp is set.
func (p *Pool) SettleShort(holder common.Address, id token.ID, size *uint256.Int) error {
	if size.IsZero() {
		return nil
	}
	tt, expiry, strike := ParseTokenID(id)
	if tt != ShortCall && tt != ShortPut {
		return fmt.Errorf("pool: token type %d is not a short", tt)
	}
	spot, ok := p.settlement[expiry]
	if !ok {
		return ErrNoSettlementPrice
	}
	isCall := tt == ShortCall
	locked := fixed.FromContractsToCollateral(size, isCall, p.underlyingDecimals, p.baseDecimals, strike)

	var exercised *uint256.Int
	if isCall && spot.Cmp(strike) > 0 {
		exercised = spot.Sub(strike).Div(spot).Muli(size)
	} else if !isCall && strike.Cmp(spot) > 0 {
		exercised = fixed.ToBaseTokenAmount(p.underlyingDecimals, p.baseDecimals, strike.Sub(spot).Muli(size))
	} else {
		exercised = new(uint256.Int)
	}

	if err := p.tokens.Burn(holder, id, size); err != nil {
		return err
	}
	residual := new(uint256.Int).Sub(locked, exercised)
	if exercised.Gt(locked) {
		residual.Clear()
	}
	p.tokens.Mint(holder, ReservedLiqTokenID(isCall), residual)
	return nil
}

// Withdraw sweeps up to amount of the caller's reserved liquidity back
// into collateral.
func (p *Pool) Withdraw(caller common.Address, amount *uint256.Int, isCall bool) error {
	id := ReservedLiqTokenID(isCall)
	if err := p.tokens.Burn(caller, id, amount); err != nil {
		return err
	}
	return p.collateral(isCall).Transfer(p.addr, caller, amount)
}
