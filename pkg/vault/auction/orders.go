package auction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/optionvault/pkg/fixed"
	"github.com/uhyunpark/optionvault/pkg/token"
	"github.com/uhyunpark/optionvault/pkg/vault/event"
	"github.com/uhyunpark/optionvault/pkg/vault/orderbook"
)

// PriceCurve64x64 returns the Dutch price at time t: maxPrice before
// the start, minPrice at and after the end, a linear descent between.
func (e *Engine) PriceCurve64x64(epoch uint64) fixed.Q {
	return e.get(epoch).priceCurve(e.now())
}

func (a *state) priceCurve(t int64) fixed.Q {
	if t <= a.startTime || a.endTime <= a.startTime {
		return a.maxPrice
	}
	if t >= a.endTime {
		return a.minPrice
	}
	elapsed := fixed.FromInt(t - a.startTime).Div(fixed.FromInt(a.endTime - a.startTime))
	return a.maxPrice.Sub(a.maxPrice.Sub(a.minPrice).Mul(elapsed))
}

// ClearingPrice64x64 returns the settled clearing price once the
// auction has left Initialized, and the live curve price before that.
func (e *Engine) ClearingPrice64x64(epoch uint64) fixed.Q {
	a := e.get(epoch)
	return a.clearingPrice(e.now())
}

func (a *state) clearingPrice(t int64) fixed.Q {
	switch a.status {
	case Finalized, Processed, Cancelled:
		return a.lastPrice
	default:
		return a.priceCurve(t)
	}
}

// AddLimitOrder places a resting bid at the buyer's price. The full
// cost is pulled from the buyer up front; it comes back through
// Withdraw as refund, fill, or both.
func (e *Engine) AddLimitOrder(buyer common.Address, epoch uint64, price fixed.Q, size *uint256.Int) (uint64, error) {
	a := e.get(epoch)
	if err := e.validateOrder(a, size); err != nil {
		return 0, err
	}
	if price.Sign() <= 0 {
		return 0, fmt.Errorf("%w: limit price must be positive", ErrValueBelowMinimum)
	}
	cost := price.Muli(size)
	if err := e.collateral.TransferFrom(e.self, buyer, e.self, cost); err != nil {
		return 0, fmt.Errorf("auction limit order: %w", err)
	}
	return e.placeOrder(epoch, a, buyer, price, size, true), nil
}

// AddLimitOrderNative funds the order by wrapping native value sent
// with the call. Value beyond the order cost stays with the buyer as
// wrapped balance.
func (e *Engine) AddLimitOrderNative(buyer common.Address, value *uint256.Int, epoch uint64, price fixed.Q, size *uint256.Int) (uint64, error) {
	if e.wrapped == nil || e.wrapped.Ledger != e.collateral {
		return 0, ErrWrappedNativeMismatch
	}
	a := e.get(epoch)
	if err := e.validateOrder(a, size); err != nil {
		return 0, err
	}
	if price.Sign() <= 0 {
		return 0, fmt.Errorf("%w: limit price must be positive", ErrValueBelowMinimum)
	}
	cost := price.Muli(size)
	if value.Lt(cost) {
		return 0, fmt.Errorf("%w: value %s < cost %s", ErrValueBelowMinimum, value, cost)
	}
	e.wrapped.Deposit(buyer, value)
	if err := e.collateral.Transfer(buyer, e.self, cost); err != nil {
		return 0, fmt.Errorf("auction native order: %w", err)
	}
	return e.placeOrder(epoch, a, buyer, price, size, true), nil
}

// SwapAndAddLimitOrder converts an arbitrary input token into
// collateral first, then places the limit order with it.
func (e *Engine) SwapAndAddLimitOrder(buyer common.Address, args token.SwapArgs, epoch uint64, price fixed.Q, size *uint256.Int) (uint64, error) {
	if _, err := e.exchange.SwapWithToken(buyer, buyer, e.collateral, args); err != nil {
		return 0, err
	}
	return e.AddLimitOrder(buyer, epoch, price, size)
}

// AddMarketOrder takes the current curve price. The declared maxCost
// bounds slippage between quote and execution.
func (e *Engine) AddMarketOrder(buyer common.Address, epoch uint64, size, maxCost *uint256.Int) (uint64, error) {
	a := e.get(epoch)
	if err := e.validateOrder(a, size); err != nil {
		return 0, err
	}
	now := e.now()
	if now < a.startTime {
		return 0, ErrWindowClosed
	}
	price := a.priceCurve(now)
	cost := price.Muli(size)
	if maxCost != nil && cost.Gt(maxCost) {
		return 0, fmt.Errorf("%w: cost %s > max %s", ErrCostExceedsMax, cost, maxCost)
	}
	if err := e.collateral.TransferFrom(e.self, buyer, e.self, cost); err != nil {
		return 0, fmt.Errorf("auction market order: %w", err)
	}
	return e.placeOrder(epoch, a, buyer, price, size, false), nil
}

// SwapAndAddMarketOrder converts an input token into collateral first,
// then places the market order.
func (e *Engine) SwapAndAddMarketOrder(buyer common.Address, args token.SwapArgs, epoch uint64, size, maxCost *uint256.Int) (uint64, error) {
	if _, err := e.exchange.SwapWithToken(buyer, buyer, e.collateral, args); err != nil {
		return 0, err
	}
	return e.AddMarketOrder(buyer, epoch, size, maxCost)
}

func (e *Engine) validateOrder(a *state, size *uint256.Int) error {
	if a.status != Initialized {
		return fmt.Errorf("%w: have %s, want %s", ErrBadStatus, a.status, Initialized)
	}
	if e.now() > a.endTime {
		return ErrWindowClosed
	}
	if size.Lt(e.minSize) {
		return fmt.Errorf("%w: %s < %s", ErrSizeBelowMinimum, size, e.minSize)
	}
	return nil
}

func (e *Engine) placeOrder(epoch uint64, a *state, buyer common.Address, price fixed.Q, size *uint256.Int, isLimit bool) uint64 {
	id := a.book.Insert(price, size, buyer)
	e.addBuyerEpoch(buyer, epoch)
	e.sink.Emit(event.OrderAdded{
		Epoch: epoch, OrderID: id, Buyer: buyer,
		Price: price, Size: new(uint256.Int).Set(size), IsLimit: isLimit,
	})
	if e.now() >= a.startTime {
		e.finalizeCheck(epoch, a)
	}
	return id
}

// CancelLimitOrder removes a resting order and refunds its cost.
func (e *Engine) CancelLimitOrder(buyer common.Address, epoch uint64, id uint64) error {
	a := e.get(epoch)
	if a.status != Initialized {
		return fmt.Errorf("%w: have %s, want %s", ErrBadStatus, a.status, Initialized)
	}
	o := a.book.GetOrderByID(id)
	if o.ID == 0 {
		return ErrOrderNotFound
	}
	if o.Buyer != buyer {
		return ErrBuyerMismatch
	}
	a.book.Remove(id)
	if !e.buyerHasOrders(a, buyer) {
		e.removeBuyerEpoch(buyer, epoch)
	}
	refund := o.Price.Muli(o.Size)
	if err := e.collateral.Transfer(e.self, buyer, refund); err != nil {
		return fmt.Errorf("auction cancel refund: %w", err)
	}
	e.sink.Emit(event.OrderCanceled{Epoch: epoch, OrderID: id, Buyer: buyer})
	if e.now() >= a.startTime {
		e.finalizeCheck(epoch, a)
	}
	return nil
}

func (e *Engine) buyerHasOrders(a *state, buyer common.Address) bool {
	found := false
	a.book.Ascend(func(o orderbook.Order) bool {
		if o.Buyer == buyer {
			found = true
			return false
		}
		return true
	})
	return found
}

// finalizeCheck walks the book against the live clearing price. The
// contract count is frozen from vault collateral on first evaluation.
// A walk that covers the full size finalizes immediately at the price
// of the covering order; a partial cover finalizes only after the
// window closes.
func (e *Engine) finalizeCheck(epoch uint64, a *state) {
	if a.status != Initialized {
		return
	}
	if a.totalContracts.IsZero() {
		a.totalContracts = fixed.FromCollateralToContracts(
			e.source.TotalCollateral(), e.isCall, e.baseDecimals, a.strike)
	}
	now := e.now()
	cp := a.clearingPrice(now)

	acc := new(uint256.Int)
	lastVisited := fixed.Zero
	full := false
	a.book.Ascend(func(o orderbook.Order) bool {
		if o.Price.Cmp(cp) < 0 {
			return false
		}
		if !a.totalContracts.IsZero() &&
			!new(uint256.Int).Add(acc, o.Size).Lt(a.totalContracts) {
			a.lastPrice = o.Price
			a.totalContractsSold = new(uint256.Int).Set(a.totalContracts)
			full = true
			return false
		}
		acc.Add(acc, o.Size)
		lastVisited = o.Price
		return true
	})

	if full {
		e.setStatus(epoch, a, Finalized)
		return
	}
	a.lastPrice = lastVisited
	a.totalContractsSold = acc
	if now > a.endTime {
		e.setStatus(epoch, a, Finalized)
	}
}
