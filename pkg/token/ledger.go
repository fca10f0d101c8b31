// Package token provides the in-process fungible-balance substrates the
// vault settles against: an ERC20-like ledger, a wrapped-native ledger
// and an ERC1155-like per-id ledger. Balances are unsigned 256-bit and
// every mutation is atomic under the vault driver's serialized execution.
package token

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// Ledger is an ERC20-like fungible balance store.
type Ledger struct {
	symbol    string
	decimals  uint8
	balances  map[common.Address]*uint256.Int
	allowance map[common.Address]map[common.Address]*uint256.Int
	supply    *uint256.Int
}

func NewLedger(symbol string, decimals uint8) *Ledger {
	return &Ledger{
		symbol:    symbol,
		decimals:  decimals,
		balances:  make(map[common.Address]*uint256.Int),
		allowance: make(map[common.Address]map[common.Address]*uint256.Int),
		supply:    new(uint256.Int),
	}
}

func (l *Ledger) Symbol() string  { return l.symbol }
func (l *Ledger) Decimals() uint8 { return l.decimals }

func (l *Ledger) BalanceOf(a common.Address) *uint256.Int {
	if b, ok := l.balances[a]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (l *Ledger) TotalSupply() *uint256.Int { return new(uint256.Int).Set(l.supply) }

// Mint credits amount to a, growing supply. Test and bridge entry point.
func (l *Ledger) Mint(a common.Address, amount *uint256.Int) {
	l.credit(a, amount)
	l.supply.Add(l.supply, amount)
}

// Burn debits amount from a, shrinking supply.
func (l *Ledger) Burn(a common.Address, amount *uint256.Int) error {
	if err := l.debit(a, amount); err != nil {
		return err
	}
	l.supply.Sub(l.supply, amount)
	return nil
}

func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if err := l.debit(from, amount); err != nil {
		return fmt.Errorf("%s transfer: %w", l.symbol, err)
	}
	l.credit(to, amount)
	return nil
}

// Approve sets spender's allowance over owner's balance.
func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) {
	m, ok := l.allowance[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		l.allowance[owner] = m
	}
	m[spender] = new(uint256.Int).Set(amount)
}

func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	if m, ok := l.allowance[owner]; ok {
		if a, ok := m[spender]; ok {
			return new(uint256.Int).Set(a)
		}
	}
	return new(uint256.Int)
}

// TransferFrom moves amount from owner to recipient on behalf of
// spender, consuming allowance.
func (l *Ledger) TransferFrom(spender, owner, to common.Address, amount *uint256.Int) error {
	a := l.allowanceRef(owner, spender)
	if a == nil || a.Lt(amount) {
		return fmt.Errorf("%s transferFrom: %w", l.symbol, ErrInsufficientAllowance)
	}
	if err := l.debit(owner, amount); err != nil {
		return fmt.Errorf("%s transferFrom: %w", l.symbol, err)
	}
	a.Sub(a, amount)
	l.credit(to, amount)
	return nil
}

func (l *Ledger) allowanceRef(owner, spender common.Address) *uint256.Int {
	if m, ok := l.allowance[owner]; ok {
		return m[spender]
	}
	return nil
}

func (l *Ledger) credit(a common.Address, amount *uint256.Int) {
	b, ok := l.balances[a]
	if !ok {
		b = new(uint256.Int)
		l.balances[a] = b
	}
	b.Add(b, amount)
}

func (l *Ledger) debit(a common.Address, amount *uint256.Int) error {
	b, ok := l.balances[a]
	if !ok || b.Lt(amount) {
		return ErrInsufficientBalance
	}
	b.Sub(b, amount)
	return nil
}

// WrappedNative is a Ledger whose supply grows by depositing native
// value, mirroring wETH.
type WrappedNative struct {
	*Ledger
}

func NewWrappedNative(symbol string) *WrappedNative {
	return &WrappedNative{Ledger: NewLedger(symbol, 18)}
}

// Deposit wraps native value sent by a into ledger balance.
func (w *WrappedNative) Deposit(a common.Address, value *uint256.Int) {
	w.Mint(a, value)
}
