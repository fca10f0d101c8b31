// Package auction implements the descending-price Dutch auction a vault
// runs once per epoch.
//
// Each epoch owns an independent auction record and order book. The
// auction sells a fixed number of option contracts: the price starts at
// maxPrice, decays linearly to minPrice over the auction window, and
// every filled order settles at the single clearing price discovered
// when the book first covers the full size (or the window closes).
package auction

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/optionvault/pkg/fixed"
	"github.com/uhyunpark/optionvault/pkg/token"
	"github.com/uhyunpark/optionvault/pkg/util"
	"github.com/uhyunpark/optionvault/pkg/vault/event"
	"github.com/uhyunpark/optionvault/pkg/vault/orderbook"
)

// Status is the lifecycle state of one epoch's auction.
type Status uint8

const (
	Uninitialized Status = iota
	Initialized
	Finalized
	Processed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Finalized:
		return "finalized"
	case Processed:
		return "processed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	ErrNotVault                   = errors.New("auction: caller is not the vault")
	ErrBadStatus                  = errors.New("auction: status does not allow this operation")
	ErrSizeBelowMinimum           = errors.New("auction: order size below minimum")
	ErrValueBelowMinimum          = errors.New("auction: value below minimum")
	ErrCostExceedsMax             = errors.New("auction: cost exceeds declared maximum")
	ErrOrderNotFound              = errors.New("auction: order not found")
	ErrBuyerMismatch              = errors.New("auction: order belongs to another buyer")
	ErrPremiumsAlreadyTransferred = errors.New("auction: premiums already transferred")
	ErrPremiumsNotTransferred     = errors.New("auction: premiums not transferred")
	ErrLongTokensMissing          = errors.New("auction: long token balance below contracts sold")
	ErrHoldPeriodActive           = errors.New("auction: long-token hold period active")
	ErrWindowClosed               = errors.New("auction: outside the order window")
	ErrWrappedNativeMismatch      = errors.New("auction: collateral is not the wrapped native token")
)

// Pool is the slice of the options pool the auction consumes: long
// token custody and post-expiry settlement.
type Pool interface {
	BalanceOf(holder common.Address, id token.ID) *uint256.Int
	SafeTransferFrom(operator, from, to common.Address, id token.ID, amount *uint256.Int) error
	ExerciseValue(id token.ID, size *uint256.Int) (*uint256.Int, error)
	Exercise(caller common.Address, id token.ID, size *uint256.Int) (*uint256.Int, error)
}

// CollateralSource reports the vault collateral backing an epoch, used
// once per auction to freeze the contract count.
type CollateralSource interface {
	TotalCollateral() *uint256.Int
}

// InitPayload carries the option parameters the vault writes at epoch
// start.
type InitPayload struct {
	Epoch       uint64
	Expiry      int64
	Strike      fixed.Q
	LongTokenID token.ID
	StartTime   int64
	EndTime     int64
}

// state is one epoch's auction record.
type state struct {
	status        Status
	expiry        int64
	strike        fixed.Q
	maxPrice      fixed.Q
	minPrice      fixed.Q
	lastPrice     fixed.Q
	startTime     int64
	endTime       int64
	processedTime int64

	totalContracts     *uint256.Int
	totalContractsSold *uint256.Int
	totalPremiums      *uint256.Int
	longTokenID        token.ID

	book *orderbook.Book
}

func newState() *state {
	return &state{
		totalContracts:     new(uint256.Int),
		totalContractsSold: new(uint256.Int),
		totalPremiums:      new(uint256.Int),
		book:               orderbook.New(),
	}
}

// Engine runs the per-epoch auctions of a single vault.
type Engine struct {
	self  common.Address // custody account for buyer funds and long tokens
	vault common.Address

	isCall             bool
	underlyingDecimals uint8
	baseDecimals       uint8
	minSize            *uint256.Int

	collateral *token.Ledger
	wrapped    *token.WrappedNative
	exchange   *token.ExchangeHelper
	pool       Pool
	source     CollateralSource
	clock      util.Clock
	sink       event.Sink

	epochs  map[uint64]*state
	byBuyer map[common.Address]map[uint64]struct{}
}

// Config wires an Engine.
type Config struct {
	Self               common.Address
	Vault              common.Address
	IsCall             bool
	UnderlyingDecimals uint8
	BaseDecimals       uint8
	MinSize            *uint256.Int
	Collateral         *token.Ledger
	Wrapped            *token.WrappedNative // nil unless the collateral wraps native value
	Exchange           *token.ExchangeHelper
	Pool               Pool
	Source             CollateralSource
	Clock              util.Clock
	Sink               event.Sink
}

func New(cfg Config) *Engine {
	sink := cfg.Sink
	if sink == nil {
		sink = event.Discard{}
	}
	minSize := cfg.MinSize
	if minSize == nil {
		minSize = new(uint256.Int)
	}
	return &Engine{
		self:               cfg.Self,
		vault:              cfg.Vault,
		isCall:             cfg.IsCall,
		underlyingDecimals: cfg.UnderlyingDecimals,
		baseDecimals:       cfg.BaseDecimals,
		minSize:            minSize,
		collateral:         cfg.Collateral,
		wrapped:            cfg.Wrapped,
		exchange:           cfg.Exchange,
		pool:               cfg.Pool,
		source:             cfg.Source,
		clock:              cfg.Clock,
		sink:               sink,
		epochs:             make(map[uint64]*state),
		byBuyer:            make(map[common.Address]map[uint64]struct{}),
	}
}

// Addr returns the auction's custody address.
func (e *Engine) Addr() common.Address { return e.self }

func (e *Engine) now() int64 { return e.clock.Now().Unix() }

func (e *Engine) get(epoch uint64) *state {
	a, ok := e.epochs[epoch]
	if !ok {
		a = newState()
		e.epochs[epoch] = a
	}
	return a
}

func (e *Engine) setStatus(epoch uint64, a *state, s Status) {
	a.status = s
	e.sink.Emit(event.AuctionStatusSet{Epoch: epoch, Status: s.String()})
}

// cancel is the terminal validation-failure transition: the sentinel
// lastPrice marks every resting order refundable in full.
func (e *Engine) cancel(epoch uint64, a *state) {
	a.lastPrice = fixed.Max
	a.totalPremiums = new(uint256.Int)
	e.setStatus(epoch, a, Cancelled)
}

// Initialize starts an epoch's auction. Parameter validation failures
// transition to Cancelled rather than erroring so buyer refunds stay
// reachable.
func (e *Engine) Initialize(caller common.Address, p InitPayload) error {
	if caller != e.vault {
		return ErrNotVault
	}
	a := e.get(p.Epoch)
	if a.status != Uninitialized {
		return fmt.Errorf("%w: have %s, want %s", ErrBadStatus, a.status, Uninitialized)
	}
	now := e.now()
	if p.StartTime >= p.EndTime ||
		now > p.StartTime ||
		now > p.Expiry ||
		p.Strike.Sign() <= 0 ||
		p.LongTokenID.Uint().IsZero() {
		e.cancel(p.Epoch, a)
		return nil
	}
	a.expiry = p.Expiry
	a.strike = p.Strike
	a.startTime = p.StartTime
	a.endTime = p.EndTime
	a.longTokenID = p.LongTokenID
	e.setStatus(p.Epoch, a, Initialized)
	return nil
}

// SetAuctionPrices stores the price bounds computed by the vault.
// Degenerate bounds cancel the auction.
func (e *Engine) SetAuctionPrices(caller common.Address, epoch uint64, maxPrice, minPrice fixed.Q) error {
	if caller != e.vault {
		return ErrNotVault
	}
	a := e.get(epoch)
	if a.status != Initialized {
		return fmt.Errorf("%w: have %s, want %s", ErrBadStatus, a.status, Initialized)
	}
	a.maxPrice = maxPrice
	a.minPrice = minPrice
	if maxPrice.Sign() <= 0 || minPrice.Sign() <= 0 || maxPrice.Cmp(minPrice) <= 0 {
		e.cancel(epoch, a)
	}
	return nil
}

// FinalizeAuction is callable by anyone once the start time passes. An
// auction left unprocessed 24 hours past its end time is cancelled so
// buyers can recover their funds.
func (e *Engine) FinalizeAuction(epoch uint64) error {
	a := e.get(epoch)
	now := e.now()
	if (a.status == Initialized || a.status == Finalized) && now >= a.endTime+rescueDelay && a.endTime > 0 {
		e.cancel(epoch, a)
		return nil
	}
	if a.status != Initialized {
		return fmt.Errorf("%w: have %s, want %s", ErrBadStatus, a.status, Initialized)
	}
	if now <= a.startTime {
		return ErrWindowClosed
	}
	e.finalizeCheck(epoch, a)
	return nil
}

const (
	rescueDelay = 24 * 3600
	holdPeriod  = 24 * 3600
)

// TransferPremium moves the clearing proceeds to the vault, exactly
// once per epoch.
func (e *Engine) TransferPremium(caller common.Address, epoch uint64) (*uint256.Int, error) {
	if caller != e.vault {
		return nil, ErrNotVault
	}
	a := e.get(epoch)
	if a.status != Finalized {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrBadStatus, a.status, Finalized)
	}
	if !a.totalPremiums.IsZero() {
		return nil, ErrPremiumsAlreadyTransferred
	}
	premiums := a.lastPrice.Muli(a.totalContractsSold)
	a.totalPremiums = premiums
	if !premiums.IsZero() {
		if err := e.collateral.Transfer(e.self, e.vault, premiums); err != nil {
			return nil, fmt.Errorf("auction premium transfer: %w", err)
		}
	}
	return new(uint256.Int).Set(premiums), nil
}

// ProcessAuction marks the epoch's auction terminally processed. The
// vault must have routed premiums out and long tokens in first.
func (e *Engine) ProcessAuction(caller common.Address, epoch uint64) error {
	if caller != e.vault {
		return ErrNotVault
	}
	a := e.get(epoch)
	if a.status != Finalized {
		return fmt.Errorf("%w: have %s, want %s", ErrBadStatus, a.status, Finalized)
	}
	if !a.totalContractsSold.IsZero() {
		if a.totalPremiums.IsZero() {
			return ErrPremiumsNotTransferred
		}
		if e.pool.BalanceOf(e.self, a.longTokenID).Lt(a.totalContractsSold) {
			return ErrLongTokensMissing
		}
	}
	a.processedTime = e.now()
	e.setStatus(epoch, a, Processed)
	return nil
}

// ---- views ----

// Snapshot is the public read model of one epoch's auction.
type Snapshot struct {
	Status             Status
	Expiry             int64
	Strike             fixed.Q
	MaxPrice           fixed.Q
	MinPrice           fixed.Q
	LastPrice          fixed.Q
	StartTime          int64
	EndTime            int64
	ProcessedTime      int64
	TotalContracts     *uint256.Int
	TotalContractsSold *uint256.Int
	TotalPremiums      *uint256.Int
	LongTokenID        token.ID
}

func (e *Engine) GetAuction(epoch uint64) Snapshot {
	a := e.get(epoch)
	return Snapshot{
		Status:             a.status,
		Expiry:             a.expiry,
		Strike:             a.strike,
		MaxPrice:           a.maxPrice,
		MinPrice:           a.minPrice,
		LastPrice:          a.lastPrice,
		StartTime:          a.startTime,
		EndTime:            a.endTime,
		ProcessedTime:      a.processedTime,
		TotalContracts:     new(uint256.Int).Set(a.totalContracts),
		TotalContractsSold: new(uint256.Int).Set(a.totalContractsSold),
		TotalPremiums:      new(uint256.Int).Set(a.totalPremiums),
		LongTokenID:        a.longTokenID,
	}
}

func (e *Engine) GetStatus(epoch uint64) Status { return e.get(epoch).status }

func (e *Engine) IsCancelled(epoch uint64) bool { return e.get(epoch).status == Cancelled }

func (e *Engine) IsFinalized(epoch uint64) bool { return e.get(epoch).status == Finalized }

func (e *Engine) GetTotalContracts(epoch uint64) *uint256.Int {
	return new(uint256.Int).Set(e.get(epoch).totalContracts)
}

func (e *Engine) GetTotalContractsSold(epoch uint64) *uint256.Int {
	return new(uint256.Int).Set(e.get(epoch).totalContractsSold)
}

func (e *Engine) GetOrderByID(epoch uint64, id uint64) orderbook.Order {
	return e.get(epoch).book.GetOrderByID(id)
}

// GetEpochsByBuyer lists the epochs the buyer has live orders in.
func (e *Engine) GetEpochsByBuyer(buyer common.Address) []uint64 {
	set := e.byBuyer[buyer]
	out := make([]uint64, 0, len(set))
	for epoch := range set {
		out = append(out, epoch)
	}
	sortUint64(out)
	return out
}

func sortUint64(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func (e *Engine) addBuyerEpoch(buyer common.Address, epoch uint64) {
	set, ok := e.byBuyer[buyer]
	if !ok {
		set = make(map[uint64]struct{})
		e.byBuyer[buyer] = set
	}
	set[epoch] = struct{}{}
}

func (e *Engine) removeBuyerEpoch(buyer common.Address, epoch uint64) {
	if set, ok := e.byBuyer[buyer]; ok {
		delete(set, epoch)
		if len(set) == 0 {
			delete(e.byBuyer, buyer)
		}
	}
}
