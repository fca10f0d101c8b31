// Package vault is the epoch controller and share accounting core of a
// weekly covered-call / cash-secured-put vault.
//
// A Vault owns one auction engine, one deposit queue and one share
// ledger. The keeper advances it through the weekly cycle
// (initializeAuction, initializeEpoch, processAuction); depositors
// enter through the queue and leave through Withdraw/Redeem, receiving
// a pro-rata slice of collateral and open short contracts.
package vault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/optionvault/pkg/fixed"
	"github.com/uhyunpark/optionvault/pkg/token"
	"github.com/uhyunpark/optionvault/pkg/util"
	"github.com/uhyunpark/optionvault/pkg/vault/auction"
	"github.com/uhyunpark/optionvault/pkg/vault/event"
	"github.com/uhyunpark/optionvault/pkg/vault/queue"
)

var (
	ErrNotOwner            = errors.New("vault: caller is not the owner")
	ErrNotKeeper           = errors.New("vault: caller is not the keeper")
	ErrNotQueue            = errors.New("vault: caller is not the queue")
	ErrAuctionNotProcessed = errors.New("vault: withdrawals locked until auction is processed")
	ErrBadStatus           = errors.New("vault: auction status does not allow this operation")
	ErrAddressNotProvided  = errors.New("vault: address not provided")
	ErrAddressUnchanged    = errors.New("vault: address unchanged")
	ErrValueExceedsMaximum = errors.New("vault: value exceeds maximum")
	ErrValueBelowMinimum   = errors.New("vault: value below minimum")
	ErrInsufficientShares  = errors.New("vault: insufficient shares")
)

// Option is the per-epoch option the vault underwrites.
type Option struct {
	Expiry       int64
	Strike       fixed.Q
	LongTokenID  token.ID
	ShortTokenID token.ID
}

// Pool is the slice of the options pool the vault consumes. It is a
// superset of the auction engine's pool surface, so one value serves
// both.
type Pool interface {
	Addr() common.Address
	WriteFrom(from, to common.Address, expiry int64, strike fixed.Q, size *uint256.Int, isCall bool) error
	SetDivestmentTimestamp(ts int64, isCall bool)
	Withdraw(caller common.Address, amount *uint256.Int, isCall bool) error
	BalanceOf(holder common.Address, id token.ID) *uint256.Int
	SafeTransferFrom(operator, from, to common.Address, id token.ID, amount *uint256.Int) error
	SettleShort(holder common.Address, id token.ID, size *uint256.Int) error
	ExerciseValue(id token.ID, size *uint256.Int) (*uint256.Int, error)
	Exercise(caller common.Address, id token.ID, size *uint256.Int) (*uint256.Int, error)
}

// Pricer is the strike and premium oracle surface.
type Pricer interface {
	LatestAnswer64x64() fixed.Q
	GetTimeToMaturity64x64(expiry int64) fixed.Q
	GetDeltaStrikePrice64x64(isCall bool, expiry int64, delta fixed.Q) (fixed.Q, error)
	SnapToGrid64x64(isCall bool, x fixed.Q) (fixed.Q, error)
	GetBlackScholesPrice64x64(spot, strike, tau fixed.Q, isCall bool) fixed.Q
}

// Config wires a Vault and its subsystems.
type Config struct {
	Addr         common.Address
	AuctionAddr  common.Address
	QueueAddr    common.Address
	Owner        common.Address
	Keeper       common.Address
	FeeRecipient common.Address

	IsCall             bool
	UnderlyingDecimals uint8
	BaseDecimals       uint8

	ReserveRate    fixed.Q
	PerformanceFee fixed.Q
	WithdrawalFee  fixed.Q
	Delta          fixed.Q
	DeltaOffset    fixed.Q

	// offsets from the Friday 08:00 UTC mark to the auction window
	StartOffset int64
	EndOffset   int64

	MinSize *uint256.Int
	MaxTVL  *uint256.Int

	Collateral *token.Ledger
	Wrapped    *token.WrappedNative // nil unless the collateral wraps native value
	Exchange   *token.ExchangeHelper
	Pool       Pool
	Pricer     Pricer
	Clock      util.Clock
	Sink       event.Sink
}

const (
	defaultStartOffset = 2 * 3600
	defaultEndOffset   = 4 * 3600
)

// Vault is the per-instance state machine. All public mutators run
// under a single non-reentrant lock; the driver serializes calls on top
// of it.
type Vault struct {
	mu sync.Mutex

	addr         common.Address
	owner        common.Address
	keeper       common.Address
	feeRecipient common.Address

	isCall             bool
	underlyingDecimals uint8
	baseDecimals       uint8

	reserveRate    fixed.Q
	performanceFee fixed.Q
	withdrawalFee  fixed.Q
	delta          fixed.Q
	deltaOffset    fixed.Q
	startOffset    int64
	endOffset      int64

	epoch            uint64
	startTime        int64
	auctionProcessed bool
	lastTotalAssets  *uint256.Int
	totalWithdrawals *uint256.Int

	options map[uint64]Option

	collateral *token.Ledger
	shares     *token.Ledger
	pool       Pool
	pricer     Pricer
	clock      util.Clock
	sink       event.Sink

	auction *auction.Engine
	queue   *queue.Queue
}

func New(cfg Config) (*Vault, error) {
	if cfg.Addr == (common.Address{}) || cfg.Keeper == (common.Address{}) {
		return nil, ErrAddressNotProvided
	}
	for _, f := range []fixed.Q{cfg.ReserveRate, cfg.PerformanceFee, cfg.WithdrawalFee} {
		if f.Sign() < 0 || f.Cmp(fixed.One) >= 0 {
			return nil, fmt.Errorf("%w: fees must be in [0, 1)", ErrValueExceedsMaximum)
		}
	}
	if cfg.Delta.Sign() <= 0 || cfg.Delta.Cmp(fixed.One) >= 0 {
		return nil, fmt.Errorf("%w: delta must be in (0, 1)", ErrValueExceedsMaximum)
	}
	if cfg.Delta.Sub(cfg.DeltaOffset).Sign() <= 0 {
		return nil, fmt.Errorf("%w: delta offset must leave a positive offset delta", ErrValueBelowMinimum)
	}
	startOffset, endOffset := cfg.StartOffset, cfg.EndOffset
	if startOffset == 0 {
		startOffset = defaultStartOffset
	}
	if endOffset == 0 {
		endOffset = defaultEndOffset
	}
	if startOffset >= endOffset {
		return nil, fmt.Errorf("%w: start offset must precede end offset", ErrValueExceedsMaximum)
	}
	sink := cfg.Sink
	if sink == nil {
		sink = event.Discard{}
	}

	v := &Vault{
		addr:               cfg.Addr,
		owner:              cfg.Owner,
		keeper:             cfg.Keeper,
		feeRecipient:       cfg.FeeRecipient,
		isCall:             cfg.IsCall,
		underlyingDecimals: cfg.UnderlyingDecimals,
		baseDecimals:       cfg.BaseDecimals,
		reserveRate:        cfg.ReserveRate,
		performanceFee:     cfg.PerformanceFee,
		withdrawalFee:      cfg.WithdrawalFee,
		delta:              cfg.Delta,
		deltaOffset:        cfg.DeltaOffset,
		startOffset:        startOffset,
		endOffset:          endOffset,
		lastTotalAssets:    new(uint256.Int),
		totalWithdrawals:   new(uint256.Int),
		options:            make(map[uint64]Option),
		collateral:         cfg.Collateral,
		shares:             token.NewLedger("vSHARE", cfg.Collateral.Decimals()),
		pool:               cfg.Pool,
		pricer:             cfg.Pricer,
		clock:              cfg.Clock,
		sink:               sink,
	}

	v.auction = auction.New(auction.Config{
		Self:               cfg.AuctionAddr,
		Vault:              cfg.Addr,
		IsCall:             cfg.IsCall,
		UnderlyingDecimals: cfg.UnderlyingDecimals,
		BaseDecimals:       cfg.BaseDecimals,
		MinSize:            cfg.MinSize,
		Collateral:         cfg.Collateral,
		Wrapped:            cfg.Wrapped,
		Exchange:           cfg.Exchange,
		Pool:               cfg.Pool,
		Source:             collateralSource{v},
		Clock:              cfg.Clock,
		Sink:               sink,
	})
	v.queue = queue.New(queue.Config{
		Self:       cfg.QueueAddr,
		Vault:      cfg.Addr,
		MaxTVL:     cfg.MaxTVL,
		Collateral: cfg.Collateral,
		Wrapped:    cfg.Wrapped,
		Exchange:   cfg.Exchange,
		Shares:     shareVault{v},
		Sink:       sink,
	})
	return v, nil
}

// collateralSource lets the auction freeze totalContracts without a
// package cycle.
type collateralSource struct{ v *Vault }

func (s collateralSource) TotalCollateral() *uint256.Int { return s.v.TotalCollateral() }

// shareVault is the queue's view of the vault.
type shareVault struct{ v *Vault }

func (s shareVault) Deposit(from common.Address, assets *uint256.Int) (*uint256.Int, error) {
	return s.v.deposit(from, assets)
}

func (s shareVault) TransferShares(from, to common.Address, amount *uint256.Int) error {
	return s.v.shares.Transfer(from, to, amount)
}

func (s shareVault) TotalAssets() *uint256.Int { return s.v.TotalAssets() }

// Addr returns the vault's account address.
func (v *Vault) Addr() common.Address { return v.addr }

// Auction exposes the auction engine for buyer operations and views.
func (v *Vault) Auction() *auction.Engine { return v.auction }

// Queue exposes the deposit queue for depositor operations.
func (v *Vault) Queue() *queue.Queue { return v.queue }

// Shares exposes the vault share ledger.
func (v *Vault) Shares() *token.Ledger { return v.shares }

// GetEpoch returns the current epoch counter.
func (v *Vault) GetEpoch() uint64 { return v.epoch }

// IsCall reports whether this is the covered-call variant.
func (v *Vault) IsCall() bool { return v.isCall }

// GetOption returns the option underwritten in the given epoch.
func (v *Vault) GetOption(epoch uint64) Option { return v.options[epoch] }

func (v *Vault) now() int64 { return v.clock.Now().Unix() }

// CheckWithdrawalLock fails while the weekly auction is pending: from
// the auction's start time until processAuction completes, share
// withdrawals would double-spend collateral earmarked for underwriting.
func (v *Vault) CheckWithdrawalLock() error {
	if v.startTime != 0 && v.now() >= v.startTime && !v.auctionProcessed {
		return ErrAuctionNotProcessed
	}
	return nil
}

// ---- admin ----

func (v *Vault) requireOwner(caller common.Address) error {
	if caller != v.owner {
		return ErrNotOwner
	}
	return nil
}

func (v *Vault) requireKeeper(caller common.Address) error {
	if caller != v.keeper {
		return ErrNotKeeper
	}
	return nil
}

// SetKeeper rotates the keeper role.
func (v *Vault) SetKeeper(caller, keeper common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if keeper == (common.Address{}) {
		return ErrAddressNotProvided
	}
	if keeper == v.keeper {
		return ErrAddressUnchanged
	}
	v.keeper = keeper
	return nil
}

// SetFeeRecipient rotates the fee recipient.
func (v *Vault) SetFeeRecipient(caller, recipient common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return ErrAddressNotProvided
	}
	if recipient == v.feeRecipient {
		return ErrAddressUnchanged
	}
	v.feeRecipient = recipient
	return nil
}

// SetPerformanceFee updates the performance fee, bounded below 100%.
func (v *Vault) SetPerformanceFee(caller common.Address, fee fixed.Q) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if fee.Sign() < 0 || fee.Cmp(fixed.One) >= 0 {
		return ErrValueExceedsMaximum
	}
	v.performanceFee = fee
	return nil
}

// SetWithdrawalFee updates the withdrawal fee, bounded below 100%.
func (v *Vault) SetWithdrawalFee(caller common.Address, fee fixed.Q) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if fee.Sign() < 0 || fee.Cmp(fixed.One) >= 0 {
		return ErrValueExceedsMaximum
	}
	v.withdrawalFee = fee
	return nil
}
