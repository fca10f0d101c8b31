package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ID is a 256-bit token id in an ERC1155-like ledger.
type ID [32]byte

// IDFromUint converts a uint256 id to its fixed-size key form.
func IDFromUint(v *uint256.Int) ID { return v.Bytes32() }

// Uint returns the id as a uint256.
func (id ID) Uint() *uint256.Int { return new(uint256.Int).SetBytes32(id[:]) }

func (id ID) String() string { return id.Uint().Hex() }

// MultiLedger is an ERC1155-like store: fungible balances per token id.
type MultiLedger struct {
	balances map[ID]map[common.Address]*uint256.Int
	// ids each holder has ever been credited, for owned-id iteration
	held map[common.Address]map[ID]struct{}
}

func NewMultiLedger() *MultiLedger {
	return &MultiLedger{
		balances: make(map[ID]map[common.Address]*uint256.Int),
		held:     make(map[common.Address]map[ID]struct{}),
	}
}

func (m *MultiLedger) BalanceOf(a common.Address, id ID) *uint256.Int {
	if hb, ok := m.balances[id]; ok {
		if b, ok := hb[a]; ok {
			return new(uint256.Int).Set(b)
		}
	}
	return new(uint256.Int)
}

// TotalSupply returns the aggregate balance of id across all holders.
func (m *MultiLedger) TotalSupply(id ID) *uint256.Int {
	total := new(uint256.Int)
	for _, b := range m.balances[id] {
		total.Add(total, b)
	}
	return total
}

// HeldIDs returns every id the holder has a positive balance of.
// Order is not defined; callers needing determinism sort.
func (m *MultiLedger) HeldIDs(a common.Address) []ID {
	var ids []ID
	for id := range m.held[a] {
		if b := m.balances[id][a]; b != nil && !b.IsZero() {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *MultiLedger) Mint(a common.Address, id ID, amount *uint256.Int) {
	m.credit(a, id, amount)
}

func (m *MultiLedger) Burn(a common.Address, id ID, amount *uint256.Int) error {
	return m.debit(a, id, amount)
}

// SafeTransferFrom moves amount of id from one holder to another.
// The operator must be the holder itself; operator approvals are not
// part of this substrate.
func (m *MultiLedger) SafeTransferFrom(operator, from, to common.Address, id ID, amount *uint256.Int) error {
	if operator != from {
		return fmt.Errorf("multi transfer: operator %s is not holder %s", operator, from)
	}
	if err := m.debit(from, id, amount); err != nil {
		return err
	}
	m.credit(to, id, amount)
	return nil
}

func (m *MultiLedger) credit(a common.Address, id ID, amount *uint256.Int) {
	hb, ok := m.balances[id]
	if !ok {
		hb = make(map[common.Address]*uint256.Int)
		m.balances[id] = hb
	}
	b, ok := hb[a]
	if !ok {
		b = new(uint256.Int)
		hb[a] = b
	}
	b.Add(b, amount)

	ids, ok := m.held[a]
	if !ok {
		ids = make(map[ID]struct{})
		m.held[a] = ids
	}
	ids[id] = struct{}{}
}

func (m *MultiLedger) debit(a common.Address, id ID, amount *uint256.Int) error {
	hb, ok := m.balances[id]
	if !ok {
		return ErrInsufficientBalance
	}
	b, ok := hb[a]
	if !ok || b.Lt(amount) {
		return ErrInsufficientBalance
	}
	b.Sub(b, amount)
	return nil
}
