// Package queue buffers deposits between epochs.
//
// Collateral deposited mid-epoch cannot be underwritten until the next
// roll, so the queue holds it and issues fungible claim tokens, one id
// per epoch, one token per collateral unit. When the vault rolls the
// epoch the queue converts everything at a single price-per-share, and
// claim holders redeem their shares at any later time.
package queue

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/optionvault/pkg/token"
	"github.com/uhyunpark/optionvault/pkg/vault/event"
)

var (
	ErrPaused                = errors.New("queue: deposits paused")
	ErrValueBelowMinimum     = errors.New("queue: amount must be positive")
	ErrMaxTVLExceeded        = errors.New("queue: deposit exceeds max TVL")
	ErrNotVault              = errors.New("queue: caller is not the vault")
	ErrCurrentClaimToken     = errors.New("queue: current epoch claim token is not redeemable")
	ErrForeignClaimToken     = errors.New("queue: claim token was not issued by this queue")
	ErrWrappedNativeMismatch = errors.New("queue: collateral is not the wrapped native token")
)

// pricePerShareScale is the 10^18 fixed-point scale of pricePerShare.
var pricePerShareScale = uint256.MustFromDecimal("1000000000000000000")

// ShareVault is the slice of the vault the queue drives: share minting
// at epoch roll, share custody transfer on redemption, and TVL
// reporting for the deposit cap.
type ShareVault interface {
	// Deposit pulls assets from the queue and mints vault shares to it,
	// returning the share count.
	Deposit(from common.Address, assets *uint256.Int) (*uint256.Int, error)
	// TransferShares moves vault shares held by the queue.
	TransferShares(from, to common.Address, amount *uint256.Int) error
	// TotalAssets reports vault TVL for the deposit cap.
	TotalAssets() *uint256.Int
}

// Queue is one vault's deposit buffer.
type Queue struct {
	self  common.Address
	vault common.Address

	paused bool
	maxTVL *uint256.Int

	epoch      uint64
	collateral *token.Ledger
	wrapped    *token.WrappedNative
	exchange   *token.ExchangeHelper
	claims     *token.MultiLedger
	shares     ShareVault
	sink       event.Sink

	pricePerShare map[token.ID]*uint256.Int
}

// Config wires a Queue.
type Config struct {
	Self       common.Address
	Vault      common.Address
	MaxTVL     *uint256.Int
	Collateral *token.Ledger
	Wrapped    *token.WrappedNative // nil unless the collateral wraps native value
	Exchange   *token.ExchangeHelper
	Shares     ShareVault
	Sink       event.Sink
}

func New(cfg Config) *Queue {
	sink := cfg.Sink
	if sink == nil {
		sink = event.Discard{}
	}
	return &Queue{
		self:          cfg.Self,
		vault:         cfg.Vault,
		maxTVL:        cfg.MaxTVL,
		collateral:    cfg.Collateral,
		wrapped:       cfg.Wrapped,
		exchange:      cfg.Exchange,
		claims:        token.NewMultiLedger(),
		shares:        cfg.Shares,
		sink:          sink,
		pricePerShare: make(map[token.ID]*uint256.Int),
	}
}

func (q *Queue) Addr() common.Address { return q.self }

// SetPaused halts or resumes new deposits. Cancels and redemptions are
// never paused.
func (q *Queue) SetPaused(p bool) { q.paused = p }

// SetMaxTVL updates the deposit cap.
func (q *Queue) SetMaxTVL(v *uint256.Int) { q.maxTVL = new(uint256.Int).Set(v) }

// FormatClaimTokenID packs (queue address, epoch) into a claim-token
// id: address in the high 20 bytes, epoch in the next 8.
func FormatClaimTokenID(queue common.Address, epoch uint64) token.ID {
	var id token.ID
	copy(id[:20], queue[:])
	binary.BigEndian.PutUint64(id[20:28], epoch)
	return id
}

// ParseClaimTokenID recovers (queue address, epoch) from a claim id.
func ParseClaimTokenID(id token.ID) (common.Address, uint64) {
	var addr common.Address
	copy(addr[:], id[:20])
	return addr, binary.BigEndian.Uint64(id[20:28])
}

// CurrentTokenID returns the claim id deposits mint right now.
func (q *Queue) CurrentTokenID() token.ID {
	return FormatClaimTokenID(q.self, q.epoch)
}

// Epoch returns the queue's epoch counter.
func (q *Queue) Epoch() uint64 { return q.epoch }

// TotalQueuedCollateral returns the collateral waiting for the next roll.
func (q *Queue) TotalQueuedCollateral() *uint256.Int {
	return q.collateral.BalanceOf(q.self)
}

// ClaimBalance returns holder's balance of a claim id.
func (q *Queue) ClaimBalance(holder common.Address, id token.ID) *uint256.Int {
	return q.claims.BalanceOf(holder, id)
}

// Deposit queues amount of collateral and mints claim tokens 1:1.
// Stale claim tokens from already-processed epochs are swept into vault
// shares first, so a depositor only ever holds claims of one
// unprocessed epoch.
func (q *Queue) Deposit(depositor common.Address, amount *uint256.Int) error {
	if q.paused {
		return ErrPaused
	}
	if amount.IsZero() {
		return ErrValueBelowMinimum
	}
	tvl := new(uint256.Int).Add(q.shares.TotalAssets(), q.TotalQueuedCollateral())
	tvl.Add(tvl, amount)
	if q.maxTVL != nil && tvl.Gt(q.maxTVL) {
		return fmt.Errorf("%w: %s > %s", ErrMaxTVLExceeded, tvl, q.maxTVL)
	}
	if err := q.RedeemMax(depositor, depositor); err != nil {
		return err
	}
	if err := q.collateral.TransferFrom(q.self, depositor, q.self, amount); err != nil {
		return fmt.Errorf("queue deposit: %w", err)
	}
	q.claims.Mint(depositor, q.CurrentTokenID(), amount)
	return nil
}

// DepositNative wraps native value sent with the call and queues it.
func (q *Queue) DepositNative(depositor common.Address, value *uint256.Int) error {
	if q.wrapped == nil || q.wrapped.Ledger != q.collateral {
		return ErrWrappedNativeMismatch
	}
	if q.paused {
		return ErrPaused
	}
	if value.IsZero() {
		return ErrValueBelowMinimum
	}
	tvl := new(uint256.Int).Add(q.shares.TotalAssets(), q.TotalQueuedCollateral())
	tvl.Add(tvl, value)
	if q.maxTVL != nil && tvl.Gt(q.maxTVL) {
		return fmt.Errorf("%w: %s > %s", ErrMaxTVLExceeded, tvl, q.maxTVL)
	}
	if err := q.RedeemMax(depositor, depositor); err != nil {
		return err
	}
	q.wrapped.Deposit(q.self, value)
	q.claims.Mint(depositor, q.CurrentTokenID(), value)
	return nil
}

// SwapAndDeposit converts an arbitrary input token to collateral and
// queues the proceeds.
func (q *Queue) SwapAndDeposit(depositor common.Address, args token.SwapArgs) error {
	out, err := q.exchange.SwapWithToken(depositor, depositor, q.collateral, args)
	if err != nil {
		return err
	}
	return q.Deposit(depositor, out)
}

// Cancel burns amount of the current epoch's claim tokens and returns
// the same amount of collateral. Claims of processed epochs are vault
// shares already and must be redeemed instead.
func (q *Queue) Cancel(depositor common.Address, amount *uint256.Int) error {
	if err := q.claims.Burn(depositor, q.CurrentTokenID(), amount); err != nil {
		return fmt.Errorf("queue cancel: %w", err)
	}
	if err := q.collateral.Transfer(q.self, depositor, amount); err != nil {
		return fmt.Errorf("queue cancel: %w", err)
	}
	return nil
}

// ProcessDeposits converts the queued collateral into vault shares at
// the epoch roll and fixes the epoch's price-per-share. Vault only.
func (q *Queue) ProcessDeposits(caller common.Address) error {
	if caller != q.vault {
		return ErrNotVault
	}
	current := q.CurrentTokenID()
	queued := q.TotalQueuedCollateral()
	supply := q.claims.TotalSupply(current)

	shares := new(uint256.Int)
	if !queued.IsZero() {
		minted, err := q.shares.Deposit(q.self, queued)
		if err != nil {
			return fmt.Errorf("queue process: %w", err)
		}
		shares = minted
	}

	pps := new(uint256.Int)
	if !supply.IsZero() {
		pps.Mul(shares, pricePerShareScale)
		pps.Div(pps, supply)
	}
	q.pricePerShare[current] = pps
	q.epoch++
	return nil
}

// PricePerShare returns the fixed conversion rate of a processed
// epoch's claims, 10^18-scaled. Zero for unprocessed ids.
func (q *Queue) PricePerShare(id token.ID) *uint256.Int {
	if pps, ok := q.pricePerShare[id]; ok {
		return new(uint256.Int).Set(pps)
	}
	return new(uint256.Int)
}

// Redeem burns the caller's whole balance of a processed claim id and
// sends the corresponding vault shares to receiver.
// Claim redemption only moves already-minted vault shares out of the
// queue's custody, so it stays open during the withdrawal lock.
func (q *Queue) Redeem(caller common.Address, id token.ID, receiver common.Address) error {
	return q.redeem(caller, id, receiver)
}

func (q *Queue) redeem(caller common.Address, id token.ID, receiver common.Address) error {
	if owner, _ := ParseClaimTokenID(id); owner != q.self {
		return ErrForeignClaimToken
	}
	if id == q.CurrentTokenID() {
		return ErrCurrentClaimToken
	}
	balance := q.claims.BalanceOf(caller, id)
	if balance.IsZero() {
		return nil
	}
	shares := q.shareValue(id, balance)
	if err := q.claims.Burn(caller, id, balance); err != nil {
		return err
	}
	if shares.IsZero() {
		return nil
	}
	return q.shares.TransferShares(q.self, receiver, shares)
}

// RedeemMax redeems every processed claim id the caller holds.
func (q *Queue) RedeemMax(caller, receiver common.Address) error {
	current := q.CurrentTokenID()
	ids := q.claims.HeldIDs(caller)
	sort.Slice(ids, func(i, j int) bool {
		_, ei := ParseClaimTokenID(ids[i])
		_, ej := ParseClaimTokenID(ids[j])
		return ei < ej
	})
	for _, id := range ids {
		if id == current {
			continue
		}
		if owner, _ := ParseClaimTokenID(id); owner != q.self {
			continue
		}
		if err := q.redeem(caller, id, receiver); err != nil {
			return err
		}
	}
	return nil
}

// PreviewUnredeemed returns the shares Redeem would deliver for the
// holder's balance of id. Zero for the current epoch's id.
func (q *Queue) PreviewUnredeemed(id token.ID, holder common.Address) *uint256.Int {
	if id == q.CurrentTokenID() {
		return new(uint256.Int)
	}
	return q.shareValue(id, q.claims.BalanceOf(holder, id))
}

func (q *Queue) shareValue(id token.ID, balance *uint256.Int) *uint256.Int {
	out := new(uint256.Int).Mul(balance, q.PricePerShare(id))
	return out.Div(out, pricePerShareScale)
}
