// Package event defines the externally observable events the vault and
// its subsystems emit. Events flow to a Sink in the order their state
// transitions occur; the API layer fans them out to websocket
// subscribers and the daemon logs them.
package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/optionvault/pkg/fixed"
)

// Sink receives events as they are emitted.
type Sink interface {
	Emit(Event)
}

// Event is implemented by every event type below.
type Event interface {
	Name() string
}

// Discard drops all events. Used where no observer is wired.
type Discard struct{}

func (Discard) Emit(Event) {}

// Sinks tees events to several sinks in order.
type Sinks []Sink

func (s Sinks) Emit(e Event) {
	for _, sink := range s {
		sink.Emit(e)
	}
}

type AuctionStatusSet struct {
	Epoch  uint64
	Status string
}

type OrderAdded struct {
	Epoch   uint64
	OrderID uint64
	Buyer   common.Address
	Price   fixed.Q
	Size    *uint256.Int
	IsLimit bool
}

type OrderCanceled struct {
	Epoch   uint64
	OrderID uint64
	Buyer   common.Address
}

type OrderWithdrawn struct {
	Epoch  uint64
	Buyer  common.Address
	Refund *uint256.Int
	Fill   *uint256.Int
}

type AuctionPricesSet struct {
	Epoch        uint64
	Strike       fixed.Q
	OffsetStrike fixed.Q
	Spot         fixed.Q
	TimeToExpiry fixed.Q
	MaxPrice     fixed.Q
	MinPrice     fixed.Q
}

type OptionParametersSet struct {
	Epoch        uint64
	Expiry       int64
	Strike       fixed.Q
	LongTokenID  string
	ShortTokenID string
}

type AuctionProcessed struct {
	Epoch          uint64
	CollateralUsed *uint256.Int
	ShortContracts *uint256.Int
	Premiums       *uint256.Int
}

type PerformanceFeeCollected struct {
	Epoch           uint64
	NetIncome       *uint256.Int
	FeeInCollateral *uint256.Int
}

type WithdrawalFeeCollected struct {
	Epoch               uint64
	FeeInCollateral     *uint256.Int
	FeeInShortContracts *uint256.Int
}

type ReservedLiquidityWithdrawn struct {
	Epoch  uint64
	Amount *uint256.Int
}

type DistributionSent struct {
	Epoch          uint64
	Collateral     *uint256.Int
	ShortContracts *uint256.Int
	Receiver       common.Address
}

type Withdraw struct {
	Caller   common.Address
	Receiver common.Address
	Owner    common.Address
	Assets   *uint256.Int
	Shares   *uint256.Int
}

func (AuctionStatusSet) Name() string           { return "AuctionStatusSet" }
func (OrderAdded) Name() string                 { return "OrderAdded" }
func (OrderCanceled) Name() string              { return "OrderCanceled" }
func (OrderWithdrawn) Name() string             { return "OrderWithdrawn" }
func (AuctionPricesSet) Name() string           { return "AuctionPricesSet" }
func (OptionParametersSet) Name() string        { return "OptionParametersSet" }
func (AuctionProcessed) Name() string           { return "AuctionProcessed" }
func (PerformanceFeeCollected) Name() string    { return "PerformanceFeeCollected" }
func (WithdrawalFeeCollected) Name() string     { return "WithdrawalFeeCollected" }
func (ReservedLiquidityWithdrawn) Name() string { return "ReservedLiquidityWithdrawn" }
func (DistributionSent) Name() string           { return "DistributionSent" }
func (Withdraw) Name() string                   { return "Withdraw" }
