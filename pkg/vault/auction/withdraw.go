package auction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/optionvault/pkg/fixed"
	"github.com/uhyunpark/optionvault/pkg/vault/event"
	"github.com/uhyunpark/optionvault/pkg/vault/orderbook"
)

// settleOrders walks the whole book head to tail and splits the
// caller's orders into refund collateral and filled contracts.
//
// Every order above the clearing price consumes contracts, whoever
// placed it, so the walk accumulates fills globally and caps the tail
// order at the remainder. Orders below the clearing price (or any order
// of a cancelled auction, whose lastPrice is the int128 max sentinel)
// refund in full.
func (a *state) settleOrders(buyer common.Address) (refund, fill *uint256.Int, mine []uint64) {
	refund = new(uint256.Int)
	fill = new(uint256.Int)
	sold := new(uint256.Int)
	live := a.lastPrice.Cmp(fixed.Max) < 0

	a.book.Ascend(func(o orderbook.Order) bool {
		eligible := live && o.Price.Cmp(a.lastPrice) >= 0
		var take *uint256.Int
		if eligible {
			remainder := new(uint256.Int).Sub(a.totalContracts, sold)
			if sold.Gt(a.totalContracts) {
				remainder.Clear()
			}
			take = new(uint256.Int).Set(o.Size)
			if take.Gt(remainder) {
				take = remainder
			}
			sold.Add(sold, take)
		}
		if o.Buyer != buyer {
			return true
		}
		mine = append(mine, o.ID)
		paid := o.Price.Muli(o.Size)
		if eligible {
			cost := a.lastPrice.Muli(take)
			fill.Add(fill, take)
			refund.Add(refund, new(uint256.Int).Sub(paid, cost))
		} else {
			refund.Add(refund, paid)
		}
		return true
	})
	return refund, fill, mine
}

func (e *Engine) withdrawable(a *state) error {
	switch a.status {
	case Processed:
		if e.now() < a.processedTime+holdPeriod {
			return ErrHoldPeriodActive
		}
		return nil
	case Cancelled:
		return nil
	default:
		return fmt.Errorf("%w: have %s, want %s or %s", ErrBadStatus, a.status, Processed, Cancelled)
	}
}

// Withdraw settles all of the buyer's orders for an epoch: refunds the
// unspent collateral, delivers filled long tokens (or their exercise
// value once expired), and removes the orders from the book.
func (e *Engine) Withdraw(buyer common.Address, epoch uint64) (*uint256.Int, *uint256.Int, error) {
	a := e.get(epoch)
	if err := e.withdrawable(a); err != nil {
		return nil, nil, err
	}
	refund, fill, mine := a.settleOrders(buyer)
	for _, id := range mine {
		a.book.Remove(id)
	}
	e.removeBuyerEpoch(buyer, epoch)

	if e.now() >= a.expiry && a.status == Processed {
		// expired: longs settle to cash, nothing is delivered
		if !fill.IsZero() {
			proceeds, err := e.pool.Exercise(e.self, a.longTokenID, fill)
			if err != nil {
				return nil, nil, fmt.Errorf("auction withdraw exercise: %w", err)
			}
			refund.Add(refund, proceeds)
		}
		fill = new(uint256.Int)
	} else if !fill.IsZero() {
		if err := e.pool.SafeTransferFrom(e.self, e.self, buyer, a.longTokenID, fill); err != nil {
			return nil, nil, fmt.Errorf("auction withdraw longs: %w", err)
		}
	}

	if !refund.IsZero() {
		if err := e.collateral.Transfer(e.self, buyer, refund); err != nil {
			return nil, nil, fmt.Errorf("auction withdraw refund: %w", err)
		}
	}
	e.sink.Emit(event.OrderWithdrawn{
		Epoch: epoch, Buyer: buyer,
		Refund: new(uint256.Int).Set(refund), Fill: new(uint256.Int).Set(fill),
	})
	return refund, fill, nil
}

// PreviewWithdraw computes what Withdraw would pay out, without
// mutating the book or moving tokens.
func (e *Engine) PreviewWithdraw(epoch uint64, buyer common.Address) (*uint256.Int, *uint256.Int, error) {
	a := e.get(epoch)
	refund, fill, _ := a.settleOrders(buyer)
	if e.now() >= a.expiry && a.status == Processed {
		if !fill.IsZero() {
			value, err := e.pool.ExerciseValue(a.longTokenID, fill)
			if err != nil {
				return nil, nil, fmt.Errorf("auction preview exercise: %w", err)
			}
			refund.Add(refund, value)
		}
		fill = new(uint256.Int)
	}
	return refund, fill, nil
}
