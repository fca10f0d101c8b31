package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/optionvault/pkg/calendar"
	"github.com/uhyunpark/optionvault/pkg/fixed"
	"github.com/uhyunpark/optionvault/pkg/pool"
	"github.com/uhyunpark/optionvault/pkg/vault/auction"
	"github.com/uhyunpark/optionvault/pkg/vault/event"
)

// The weekly keeper cycle:
//
//	initializeAuction   pick next option, open the next epoch's auction
//	initializeEpoch     settle last week, roll deposits, price the auction
//	processAuction      route premiums, underwrite sold contracts
//
// Each step checks the state the previous one left behind, so replayed
// or out-of-order keeper commands fail deterministically.

// InitializeAuction selects the next epoch's option and initializes its
// auction. It also arms the withdrawal lock: from the auction's start
// time until processAuction, depositor withdrawals are frozen.
func (v *Vault) InitializeAuction(caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireKeeper(caller); err != nil {
		return err
	}
	next := v.epoch + 1
	if _, exists := v.options[next]; exists {
		return fmt.Errorf("%w: auction for epoch %d already initialized", ErrBadStatus, next)
	}
	now := v.now()

	expiry := calendar.NextFriday(now)
	rawStrike, err := v.pricer.GetDeltaStrikePrice64x64(v.isCall, expiry, v.delta)
	if err != nil {
		return fmt.Errorf("vault strike selection: %w", err)
	}
	strike, err := v.pricer.SnapToGrid64x64(v.isCall, rawStrike)
	if err != nil {
		return fmt.Errorf("vault strike selection: %w", err)
	}

	longType, shortType := pool.LongCall, pool.ShortCall
	if !v.isCall {
		longType, shortType = pool.LongPut, pool.ShortPut
	}
	opt := Option{
		Expiry:       expiry,
		Strike:       strike,
		LongTokenID:  pool.FormatTokenID(longType, expiry, strike),
		ShortTokenID: pool.FormatTokenID(shortType, expiry, strike),
	}
	v.options[next] = opt

	friday := calendar.Friday(now)
	startTime := friday + v.startOffset
	endTime := friday + v.endOffset

	// arm the withdrawal lock for the coming auction
	v.startTime = startTime
	v.auctionProcessed = false

	v.sink.Emit(event.OptionParametersSet{
		Epoch:        next,
		Expiry:       opt.Expiry,
		Strike:       opt.Strike,
		LongTokenID:  opt.LongTokenID.String(),
		ShortTokenID: opt.ShortTokenID.String(),
	})
	return v.auction.Initialize(v.addr, auction.InitPayload{
		Epoch:       next,
		Expiry:      expiry,
		Strike:      strike,
		LongTokenID: opt.LongTokenID,
		StartTime:   startTime,
		EndTime:     endTime,
	})
}

// InitializeEpoch settles the previous epoch, rolls queued deposits
// into shares and prices the next auction. The ordering is load
// bearing: the performance fee must see withdrawals added back before
// fresh deposits land, and the price bounds need the post-roll strike.
func (v *Vault) InitializeEpoch(caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireKeeper(caller); err != nil {
		return err
	}
	if _, exists := v.options[v.epoch+1]; !exists {
		return fmt.Errorf("%w: initializeAuction has not run for epoch %d", ErrBadStatus, v.epoch+1)
	}

	if v.epoch > 0 {
		if err := v.settleExpiredShort(); err != nil {
			return err
		}
		if err := v.withdrawReservedLiquidity(); err != nil {
			return err
		}
		if err := v.collectPerformanceFee(); err != nil {
			return err
		}
	}
	if err := v.queue.ProcessDeposits(v.addr); err != nil {
		return err
	}
	v.epoch++
	return v.setAuctionPrices()
}

// settleExpiredShort converts the previous epoch's expired short
// position into reserved liquidity at the pool.
func (v *Vault) settleExpiredShort() error {
	opt, ok := v.options[v.epoch]
	if !ok || v.now() < opt.Expiry {
		return nil
	}
	balance := v.pool.BalanceOf(v.addr, opt.ShortTokenID)
	if balance.IsZero() {
		return nil
	}
	if err := v.pool.SettleShort(v.addr, opt.ShortTokenID, balance); err != nil {
		return fmt.Errorf("vault settle short: %w", err)
	}
	return nil
}

// withdrawReservedLiquidity sweeps the pool's reserved-liquidity bucket
// back into vault collateral.
func (v *Vault) withdrawReservedLiquidity() error {
	id := pool.ReservedLiqTokenID(v.isCall)
	amount := v.pool.BalanceOf(v.addr, id)
	if amount.IsZero() {
		return nil
	}
	if err := v.pool.Withdraw(v.addr, amount, v.isCall); err != nil {
		return fmt.Errorf("vault reserved liquidity: %w", err)
	}
	v.sink.Emit(event.ReservedLiquidityWithdrawn{Epoch: v.epoch, Amount: amount})
	return nil
}

// setAuctionPrices derives the auction's price bounds from the
// Black-Scholes value of the option at its own strike (the richer
// bound) and at the offset strike further out of the money (the
// cheaper bound).
func (v *Vault) setAuctionPrices() error {
	opt := v.options[v.epoch]
	if opt.Strike.Sign() <= 0 {
		return fmt.Errorf("%w: strike not set for epoch %d", ErrValueBelowMinimum, v.epoch)
	}
	offsetDelta := v.delta.Sub(v.deltaOffset)
	offsetStrike, err := v.pricer.GetDeltaStrikePrice64x64(v.isCall, opt.Expiry, offsetDelta)
	if err != nil {
		return fmt.Errorf("vault auction prices: %w", err)
	}
	spot := v.pricer.LatestAnswer64x64()
	tau := v.pricer.GetTimeToMaturity64x64(opt.Expiry)

	maxPrice := v.pricer.GetBlackScholesPrice64x64(spot, opt.Strike, tau, v.isCall)
	minPrice := v.pricer.GetBlackScholesPrice64x64(spot, offsetStrike, tau, v.isCall)
	if v.isCall {
		// call premiums are denominated in underlying collateral
		maxPrice = maxPrice.Div(spot)
		minPrice = minPrice.Div(spot)
	}

	v.sink.Emit(event.AuctionPricesSet{
		Epoch:        v.epoch,
		Strike:       opt.Strike,
		OffsetStrike: offsetStrike,
		Spot:         spot,
		TimeToExpiry: tau,
		MaxPrice:     maxPrice,
		MinPrice:     minPrice,
	})
	return v.auction.SetAuctionPrices(v.addr, v.epoch, maxPrice, minPrice)
}

// ProcessAuction settles the current epoch's finalized auction: it
// snapshots assets for the next performance-fee measurement, pulls the
// premiums in, underwrites the sold contracts at the pool and releases
// the withdrawal lock.
func (v *Vault) ProcessAuction(caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireKeeper(caller); err != nil {
		return err
	}
	epoch := v.epoch
	finalized := v.auction.IsFinalized(epoch)
	cancelled := v.auction.IsCancelled(epoch)
	if finalized == cancelled {
		return fmt.Errorf("%w: auction must be exactly one of finalized or cancelled", ErrBadStatus)
	}

	v.lastTotalAssets = v.TotalAssets()

	premiums := new(uint256.Int)
	sold := new(uint256.Int)
	collateralUsed := new(uint256.Int)
	if finalized {
		p, err := v.auction.TransferPremium(v.addr, epoch)
		if err != nil {
			return err
		}
		premiums = p
		sold = v.auction.GetTotalContractsSold(epoch)

		if !sold.IsZero() {
			opt := v.options[epoch]
			collateralUsed = fixed.FromContractsToCollateral(
				sold, v.isCall, v.underlyingDecimals, v.baseDecimals, opt.Strike)
			approval := new(uint256.Int).Add(collateralUsed, v.TotalReserves())
			v.collateral.Approve(v.addr, v.pool.Addr(), approval)
			if err := v.pool.WriteFrom(v.addr, v.auction.Addr(), opt.Expiry, opt.Strike, sold, v.isCall); err != nil {
				return fmt.Errorf("vault underwrite: %w", err)
			}
			// locked collateral flows to reserved liquidity, not re-lent
			v.pool.SetDivestmentTimestamp(v.now()+24*3600, v.isCall)
		}
		if err := v.auction.ProcessAuction(v.addr, epoch); err != nil {
			return err
		}
	}

	v.auctionProcessed = true
	v.sink.Emit(event.AuctionProcessed{
		Epoch:          epoch,
		CollateralUsed: collateralUsed,
		ShortContracts: sold,
		Premiums:       premiums,
	})
	return nil
}
