package token

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrSwapShortfall is returned when a swap produces less output than
// the caller's declared minimum.
var ErrSwapShortfall = errors.New("token: swap output below minimum")

// SwapArgs describes a swap of an arbitrary input token into a target
// token before depositing or bidding. Mirrors the exchange-helper call
// shape of the settlement layer.
type SwapArgs struct {
	TokenIn      *Ledger
	AmountIn     *uint256.Int
	AmountOutMin *uint256.Int
	Refund       common.Address
}

// ExchangeHelper swaps between ledgers at configured fixed rates.
// Rates are price-of-in-denominated-in-out, 18-decimal scaled.
type ExchangeHelper struct {
	rates map[string]map[string]*uint256.Int // in symbol -> out symbol -> rate(1e18)
}

var rateScale = uint256.MustFromDecimal("1000000000000000000")

func NewExchangeHelper() *ExchangeHelper {
	return &ExchangeHelper{rates: make(map[string]map[string]*uint256.Int)}
}

// SetRate configures the in->out conversion rate, 1e18-scaled.
func (e *ExchangeHelper) SetRate(in, out string, rate *uint256.Int) {
	m, ok := e.rates[in]
	if !ok {
		m = make(map[string]*uint256.Int)
		e.rates[in] = m
	}
	m[out] = new(uint256.Int).Set(rate)
}

// SwapWithToken pulls amountIn of the input token from the caller,
// converts it and credits the output token to the recipient. Output
// below amountOutMin fails the whole swap.
func (e *ExchangeHelper) SwapWithToken(caller, recipient common.Address, out *Ledger, args SwapArgs) (*uint256.Int, error) {
	rate := e.rate(args.TokenIn.Symbol(), out.Symbol())
	if rate == nil {
		return nil, fmt.Errorf("exchange: no route %s -> %s", args.TokenIn.Symbol(), out.Symbol())
	}
	// adjust for decimal difference between legs, then apply the rate
	in := ToBase(args.TokenIn.Decimals(), out.Decimals(), args.AmountIn)
	amountOut := new(uint256.Int).Mul(in, rate)
	amountOut.Div(amountOut, rateScale)
	if args.AmountOutMin != nil && amountOut.Lt(args.AmountOutMin) {
		return nil, fmt.Errorf("exchange %s->%s: %w", args.TokenIn.Symbol(), out.Symbol(), ErrSwapShortfall)
	}
	if err := args.TokenIn.Transfer(caller, common.Address{}, args.AmountIn); err != nil {
		return nil, err
	}
	out.Mint(recipient, amountOut)
	return amountOut, nil
}

func (e *ExchangeHelper) rate(in, out string) *uint256.Int {
	if m, ok := e.rates[in]; ok {
		return m[out]
	}
	return nil
}

// ToBase rescales an amount between token decimal conventions.
func ToBase(fromDecimals, toDecimals uint8, v *uint256.Int) *uint256.Int {
	out := new(uint256.Int).Set(v)
	if toDecimals > fromDecimals {
		out.Mul(out, new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(toDecimals-fromDecimals))))
	} else if fromDecimals > toDecimals {
		out.Div(out, new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(fromDecimals-toDecimals))))
	}
	return out
}
