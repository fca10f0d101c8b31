package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/optionvault/pkg/fixed"
	"github.com/uhyunpark/optionvault/pkg/vault/event"
)

// Share and collateral accounting. The vault's assets are its free
// collateral plus the collateral value of the short contracts it has
// open; shares price against that total, and a withdrawal pays out a
// pro-rata slice of both legs.

// TotalReserves returns the reserve carve-out: reserveRate of the
// vault's collateral balance, kept aside for the pool's utilization fee.
func (v *Vault) TotalReserves() *uint256.Int {
	return v.reserveRate.Muli(v.collateral.BalanceOf(v.addr))
}

// TotalCollateral returns the vault's collateral balance net of
// reserves.
func (v *Vault) TotalCollateral() *uint256.Int {
	balance := v.collateral.BalanceOf(v.addr)
	return balance.Sub(balance, v.TotalReserves())
}

// TotalShortAsContracts returns the vault's open short position in
// contracts.
func (v *Vault) TotalShortAsContracts() *uint256.Int {
	opt, ok := v.options[v.epoch]
	if !ok {
		return new(uint256.Int)
	}
	return v.pool.BalanceOf(v.addr, opt.ShortTokenID)
}

// TotalShortAsCollateral values the open short position in collateral
// units at its strike.
func (v *Vault) TotalShortAsCollateral() *uint256.Int {
	opt, ok := v.options[v.epoch]
	if !ok {
		return new(uint256.Int)
	}
	return fixed.FromContractsToCollateral(
		v.pool.BalanceOf(v.addr, opt.ShortTokenID),
		v.isCall, v.underlyingDecimals, v.baseDecimals, opt.Strike)
}

// TotalAssets returns collateral plus short-as-collateral.
func (v *Vault) TotalAssets() *uint256.Int {
	total := v.TotalCollateral()
	return total.Add(total, v.TotalShortAsCollateral())
}

// mulDiv computes a*b/c without intermediate overflow, rounding down.
func mulDiv(a, b, c *uint256.Int) *uint256.Int {
	if c.IsZero() {
		panic(fixed.ErrDivisionByZero)
	}
	p := new(big.Int).Mul(a.ToBig(), b.ToBig())
	p.Quo(p, c.ToBig())
	out, overflow := uint256.FromBig(p)
	if overflow {
		panic(fixed.ErrOverflow)
	}
	return out
}

// mulDivUp is mulDiv rounding up.
func mulDivUp(a, b, c *uint256.Int) *uint256.Int {
	if c.IsZero() {
		panic(fixed.ErrDivisionByZero)
	}
	p := new(big.Int).Mul(a.ToBig(), b.ToBig())
	q, r := new(big.Int).QuoRem(p, c.ToBig(), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	out, overflow := uint256.FromBig(q)
	if overflow {
		panic(fixed.ErrOverflow)
	}
	return out
}

// PreviewDeposit returns the shares minted for depositing assets.
func (v *Vault) PreviewDeposit(assets *uint256.Int) *uint256.Int {
	supply := v.shares.TotalSupply()
	if supply.IsZero() {
		return new(uint256.Int).Set(assets)
	}
	return mulDiv(assets, supply, v.TotalAssets())
}

// PreviewWithdraw returns the shares burned to withdraw assets,
// rounding against the withdrawer.
func (v *Vault) PreviewWithdraw(assets *uint256.Int) *uint256.Int {
	supply := v.shares.TotalSupply()
	if supply.IsZero() {
		return new(uint256.Int).Set(assets)
	}
	return mulDivUp(assets, supply, v.TotalAssets())
}

// PreviewRedeem returns the assets released by burning shares.
func (v *Vault) PreviewRedeem(shares *uint256.Int) *uint256.Int {
	supply := v.shares.TotalSupply()
	if supply.IsZero() {
		return new(uint256.Int).Set(shares)
	}
	return mulDiv(shares, v.TotalAssets(), supply)
}

// deposit converts queued collateral into shares. Queue only: user
// deposits always travel through the deposit queue, so share pricing
// happens exactly once per epoch.
func (v *Vault) deposit(from common.Address, assets *uint256.Int) (*uint256.Int, error) {
	if from != v.queue.Addr() {
		return nil, ErrNotQueue
	}
	minted := v.PreviewDeposit(assets) // price before the transfer lands
	if err := v.collateral.Transfer(from, v.addr, assets); err != nil {
		return nil, fmt.Errorf("vault deposit: %w", err)
	}
	v.shares.Mint(from, minted)
	return minted, nil
}

// Withdraw burns the shares equivalent to assetAmount and distributes
// collateral plus short contracts to receiver. Locked while the weekly
// auction is unprocessed.
func (v *Vault) Withdraw(caller, receiver, owner common.Address, assetAmount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.CheckWithdrawalLock(); err != nil {
		return err
	}
	shares := v.PreviewWithdraw(assetAmount)
	return v.withdraw(caller, receiver, owner, assetAmount, shares)
}

// Redeem burns shareAmount shares and distributes the corresponding
// assets. Locked while the weekly auction is unprocessed.
func (v *Vault) Redeem(caller, receiver, owner common.Address, shareAmount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.CheckWithdrawalLock(); err != nil {
		return err
	}
	assets := v.PreviewRedeem(shareAmount)
	return v.withdraw(caller, receiver, owner, assets, shareAmount)
}

func (v *Vault) withdraw(caller, receiver, owner common.Address, assets, shareAmount *uint256.Int) error {
	if receiver == (common.Address{}) || owner == (common.Address{}) {
		return ErrAddressNotProvided
	}
	if caller != owner {
		// spending someone else's shares consumes share allowance
		allowance := v.shares.Allowance(owner, caller)
		if allowance.Lt(shareAmount) {
			return fmt.Errorf("vault withdraw: %w", ErrInsufficientShares)
		}
		v.shares.Approve(owner, caller, new(uint256.Int).Sub(allowance, shareAmount))
	}
	if v.shares.BalanceOf(owner).Lt(shareAmount) {
		return ErrInsufficientShares
	}

	totalAssets := v.TotalAssets()
	if totalAssets.IsZero() || assets.Gt(totalAssets) {
		return fmt.Errorf("%w: withdrawal exceeds total assets", ErrValueExceedsMaximum)
	}

	// pro-rata split between the collateral and short legs
	collateralPart := mulDiv(v.TotalCollateral(), assets, totalAssets)
	shortCollateral := mulDiv(v.TotalShortAsCollateral(), assets, totalAssets)
	opt := v.options[v.epoch]
	shortContracts := new(uint256.Int)
	if !shortCollateral.IsZero() {
		shortContracts = fixed.FromCollateralToContracts(shortCollateral, v.isCall, v.baseDecimals, opt.Strike)
	}

	if err := v.shares.Burn(owner, shareAmount); err != nil {
		return fmt.Errorf("vault withdraw: %w", err)
	}

	feeCollateral := v.withdrawalFee.Muli(collateralPart)
	feeShort := v.withdrawalFee.Muli(shortContracts)
	netCollateral := new(uint256.Int).Sub(collateralPart, feeCollateral)
	netShort := new(uint256.Int).Sub(shortContracts, feeShort)

	if !feeCollateral.IsZero() {
		if err := v.collateral.Transfer(v.addr, v.feeRecipient, feeCollateral); err != nil {
			return fmt.Errorf("vault withdrawal fee: %w", err)
		}
	}
	if !feeShort.IsZero() {
		if err := v.pool.SafeTransferFrom(v.addr, v.addr, v.feeRecipient, opt.ShortTokenID, feeShort); err != nil {
			return fmt.Errorf("vault withdrawal fee: %w", err)
		}
	}
	if !feeCollateral.IsZero() || !feeShort.IsZero() {
		v.sink.Emit(event.WithdrawalFeeCollected{
			Epoch:               v.epoch,
			FeeInCollateral:     feeCollateral,
			FeeInShortContracts: feeShort,
		})
	}

	if !netCollateral.IsZero() {
		if err := v.collateral.Transfer(v.addr, receiver, netCollateral); err != nil {
			return fmt.Errorf("vault distribution: %w", err)
		}
	}
	if !netShort.IsZero() {
		if err := v.pool.SafeTransferFrom(v.addr, v.addr, receiver, opt.ShortTokenID, netShort); err != nil {
			return fmt.Errorf("vault distribution: %w", err)
		}
	}
	// both legs count toward withdrawals: the performance fee adds them
	// back when measuring the epoch's income
	v.totalWithdrawals.Add(v.totalWithdrawals, assets)

	v.sink.Emit(event.DistributionSent{
		Epoch:          v.epoch,
		Collateral:     netCollateral,
		ShortContracts: netShort,
		Receiver:       receiver,
	})
	v.sink.Emit(event.Withdraw{
		Caller:   caller,
		Receiver: receiver,
		Owner:    owner,
		Assets:   new(uint256.Int).Set(assets),
		Shares:   new(uint256.Int).Set(shareAmount),
	})
	return nil
}

// collectPerformanceFee charges the fee on the epoch's net income.
// Withdrawals during the epoch are added back so leaving depositors do
// not mask income; queued deposits have not landed yet, which is why
// this runs before processDeposits in initializeEpoch.
func (v *Vault) collectPerformanceFee() error {
	adjusted := v.TotalAssets()
	adjusted.Add(adjusted, v.totalWithdrawals)

	if adjusted.Gt(v.lastTotalAssets) && !v.performanceFee.IsZero() {
		netIncome := new(uint256.Int).Sub(adjusted, v.lastTotalAssets)
		fee := v.performanceFee.Muli(netIncome)
		if !fee.IsZero() {
			if err := v.collateral.Transfer(v.addr, v.feeRecipient, fee); err != nil {
				return fmt.Errorf("vault performance fee: %w", err)
			}
		}
		v.sink.Emit(event.PerformanceFeeCollected{
			Epoch:           v.epoch,
			NetIncome:       netIncome,
			FeeInCollateral: fee,
		})
	}
	v.totalWithdrawals = new(uint256.Int)
	return nil
}
