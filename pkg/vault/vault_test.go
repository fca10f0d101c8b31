package vault

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/optionvault/pkg/fixed"
	"github.com/uhyunpark/optionvault/pkg/pool"
	"github.com/uhyunpark/optionvault/pkg/pricer"
	"github.com/uhyunpark/optionvault/pkg/token"
	"github.com/uhyunpark/optionvault/pkg/util"
)

var (
	vaultAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	auctionAddr  = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	queueAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f3")
	poolAddr     = common.HexToAddress("0x00000000000000000000000000000000000000f4")
	ownerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f5")
	keeperAddr   = common.HexToAddress("0x00000000000000000000000000000000000000f6")
	feeRecipient = common.HexToAddress("0x00000000000000000000000000000000000000f7")
	depositor    = common.HexToAddress("0x00000000000000000000000000000000000000f8")
	buyer        = common.HexToAddress("0x00000000000000000000000000000000000000f9")
)

func eth(n int64) *uint256.Int {
	v := uint256.NewInt(uint64(n))
	return v.Mul(v, uint256.NewInt(1_000_000_000_000_000_000))
}

func mustDec(t *testing.T, s string) fixed.Q {
	t.Helper()
	q, err := fixed.FromDec(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return q
}

type harness struct {
	v          *Vault
	pool       *pool.Pool
	feed       *pricer.StaticFeed
	clock      *util.ManualClock
	underlying *token.Ledger
	base       *token.Ledger
}

// newHarness wires a covered-call vault with the given reserve rate on a
// Thursday noon before the 2022-09-09 auction Friday.
func newHarness(t *testing.T, reserveRate string) *harness {
	t.Helper()

	clock := util.NewManualClock(time.Date(2022, 9, 8, 12, 0, 0, 0, time.UTC))
	underlying := token.NewLedger("ETH", 18)
	base := token.NewLedger("DAI", 18)

	pl := pool.New(poolAddr, pool.Settings{Base: base, Underlying: underlying})
	feed := &pricer.StaticFeed{Spot: fixed.FromInt(2000)}
	pr := pricer.New(feed, mustDec(t, "0.8"), clock)

	v, err := New(Config{
		Addr:               vaultAddr,
		AuctionAddr:        auctionAddr,
		QueueAddr:          queueAddr,
		Owner:              ownerAddr,
		Keeper:             keeperAddr,
		FeeRecipient:       feeRecipient,
		IsCall:             true,
		UnderlyingDecimals: 18,
		BaseDecimals:       18,
		ReserveRate:        mustDec(t, reserveRate),
		PerformanceFee:     mustDec(t, "0.2"),
		WithdrawalFee:      mustDec(t, "0.02"),
		Delta:              mustDec(t, "0.2"),
		DeltaOffset:        mustDec(t, "0.1"),
		MinSize:            uint256.NewInt(100),
		MaxTVL:             eth(1_000_000),
		Collateral:         underlying,
		Exchange:           token.NewExchangeHelper(),
		Pool:               pl,
		Pricer:             pr,
		Clock:              clock,
	})
	if err != nil {
		t.Fatalf("vault: %v", err)
	}

	underlying.Mint(depositor, eth(10_000))
	underlying.Approve(depositor, queueAddr, eth(10_000))
	underlying.Mint(buyer, eth(10_000))
	underlying.Approve(buyer, auctionAddr, eth(10_000))
	return &harness{v: v, pool: pl, feed: feed, clock: clock, underlying: underlying, base: base}
}

func (h *harness) at(t time.Time) { h.clock.Set(t) }

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

// checkAssetsIdentity asserts totalAssets = totalCollateral +
// totalShortAsCollateral, the accounting identity every mutator must
// preserve.
func checkAssetsIdentity(t *testing.T, v *Vault) {
	t.Helper()
	want := new(uint256.Int).Add(v.TotalCollateral(), v.TotalShortAsCollateral())
	if got := v.TotalAssets(); got.Cmp(want) != 0 {
		t.Fatalf("totalAssets = %s, want %s", got, want)
	}
}

func TestKeeperAccess(t *testing.T) {
	h := newHarness(t, "0")
	if err := h.v.InitializeAuction(depositor); !errors.Is(err, ErrNotKeeper) {
		t.Errorf("initializeAuction err = %v, want ErrNotKeeper", err)
	}
	if err := h.v.InitializeEpoch(depositor); !errors.Is(err, ErrNotKeeper) {
		t.Errorf("initializeEpoch err = %v, want ErrNotKeeper", err)
	}
	if err := h.v.ProcessAuction(depositor); !errors.Is(err, ErrNotKeeper) {
		t.Errorf("processAuction err = %v, want ErrNotKeeper", err)
	}
	// the epoch roll requires an initialized auction first
	if err := h.v.InitializeEpoch(keeperAddr); !errors.Is(err, ErrBadStatus) {
		t.Errorf("epoch before auction err = %v, want ErrBadStatus", err)
	}
}

// TestEpochLifecycle drives two full weekly cycles end to end:
// deposit, roll, auction, underwrite, distribute, expire, settle.
func TestEpochLifecycle(t *testing.T) {
	h := newHarness(t, "0")
	v := h.v

	// --- week 1, Thursday: deposit and roll ---
	if err := v.Queue().Deposit(depositor, eth(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id0 := v.Queue().CurrentTokenID()

	if err := v.InitializeAuction(keeperAddr); err != nil {
		t.Fatalf("initializeAuction: %v", err)
	}
	if err := v.InitializeEpoch(keeperAddr); err != nil {
		t.Fatalf("initializeEpoch: %v", err)
	}
	if v.GetEpoch() != 1 {
		t.Fatalf("epoch = %d, want 1", v.GetEpoch())
	}
	checkAssetsIdentity(t, v)

	// first depositor converts 1:1
	if err := v.Queue().Redeem(depositor, id0, depositor); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got := v.Shares().BalanceOf(depositor); got.Cmp(eth(1000)) != 0 {
		t.Fatalf("shares = %s, want 1000e18", got)
	}

	// the auction must be live with sane bounds
	snap := v.Auction().GetAuction(1)
	if snap.MaxPrice.Sign() <= 0 || snap.MaxPrice.Cmp(snap.MinPrice) <= 0 {
		t.Fatalf("auction bounds = (%s, %s)", snap.MaxPrice, snap.MinPrice)
	}
	opt := v.GetOption(1)
	if opt.Expiry != utc(2022, 9, 16, 8, 0).Unix() {
		t.Fatalf("expiry = %d, want Friday 2022-09-16 08:00", opt.Expiry)
	}
	if snap.StartTime != utc(2022, 9, 9, 10, 0).Unix() || snap.EndTime != utc(2022, 9, 9, 12, 0).Unix() {
		t.Fatalf("window = (%d, %d)", snap.StartTime, snap.EndTime)
	}

	// --- Friday: lock window, auction, underwrite ---
	h.at(utc(2022, 9, 9, 10, 1))
	if err := v.Withdraw(depositor, depositor, depositor, eth(10)); !errors.Is(err, ErrAuctionNotProcessed) {
		t.Fatalf("locked withdraw err = %v, want ErrAuctionNotProcessed", err)
	}
	if err := v.Redeem(depositor, depositor, depositor, eth(10)); !errors.Is(err, ErrAuctionNotProcessed) {
		t.Fatalf("locked redeem err = %v, want ErrAuctionNotProcessed", err)
	}
	// queue deposits stay open during the lock
	if err := v.Queue().Deposit(depositor, eth(5)); err != nil {
		t.Fatalf("queue deposit during lock: %v", err)
	}

	if _, err := v.Auction().AddMarketOrder(buyer, 1, eth(1000), nil); err != nil {
		t.Fatalf("market order: %v", err)
	}
	if !v.Auction().IsFinalized(1) {
		t.Fatalf("status = %s, want finalized", v.Auction().GetStatus(1))
	}

	if err := v.ProcessAuction(keeperAddr); err != nil {
		t.Fatalf("processAuction: %v", err)
	}
	checkAssetsIdentity(t, v)

	premiums := v.Auction().GetAuction(1).TotalPremiums
	if premiums.IsZero() {
		t.Fatal("premiums must be transferred")
	}
	if got := v.TotalShortAsContracts(); got.Cmp(eth(1000)) != 0 {
		t.Fatalf("short contracts = %s, want 1000e18", got)
	}
	// sold never exceeds the frozen total
	if v.Auction().GetAuction(1).TotalContractsSold.Gt(v.Auction().GetAuction(1).TotalContracts) {
		t.Fatal("sold exceeds total contracts")
	}

	// --- lock released: pro-rata distribution with fees ---
	sharesBefore := v.Shares().BalanceOf(depositor)
	if err := v.Withdraw(depositor, depositor, depositor, eth(100)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	checkAssetsIdentity(t, v)
	if !v.Shares().BalanceOf(depositor).Lt(sharesBefore) {
		t.Fatal("withdraw must burn shares")
	}
	if h.pool.BalanceOf(depositor, opt.ShortTokenID).IsZero() {
		t.Fatal("withdraw must deliver short contracts")
	}
	if h.pool.BalanceOf(feeRecipient, opt.ShortTokenID).IsZero() {
		t.Fatal("withdrawal fee must include short contracts")
	}

	// --- week 2: next auction, expiry settlement, performance fee ---
	h.at(utc(2022, 9, 15, 12, 0))
	if err := v.InitializeAuction(keeperAddr); err != nil {
		t.Fatalf("initializeAuction 2: %v", err)
	}

	h.at(utc(2022, 9, 16, 9, 0))
	h.pool.SetPriceAfter64x64(opt.Expiry, fixed.FromInt(1900)) // expired OTM
	feeBefore := h.underlying.BalanceOf(feeRecipient)
	if err := v.InitializeEpoch(keeperAddr); err != nil {
		t.Fatalf("initializeEpoch 2: %v", err)
	}
	checkAssetsIdentity(t, v)
	if v.GetEpoch() != 2 {
		t.Fatalf("epoch = %d, want 2", v.GetEpoch())
	}
	// the expired shorts settled and their collateral came home
	if !v.TotalShortAsContracts().IsZero() {
		t.Fatal("expired shorts must settle at the roll")
	}
	if !h.pool.BalanceOf(vaultAddr, pool.ReservedLiqTokenID(true)).IsZero() {
		t.Fatal("reserved liquidity must be swept")
	}
	// the premium income was charged a performance fee
	if !h.underlying.BalanceOf(feeRecipient).Gt(feeBefore) {
		t.Fatal("performance fee must be collected on premium income")
	}

	// --- an empty auction still processes cleanly ---
	h.at(utc(2022, 9, 16, 12, 1))
	if err := v.Auction().FinalizeAuction(2); err != nil {
		t.Fatalf("finalize 2: %v", err)
	}
	if err := v.ProcessAuction(keeperAddr); err != nil {
		t.Fatalf("processAuction 2: %v", err)
	}
	if !v.Auction().GetTotalContractsSold(2).IsZero() {
		t.Fatal("empty auction must sell nothing")
	}
	if err := v.CheckWithdrawalLock(); err != nil {
		t.Fatalf("lock must release after processing: %v", err)
	}
}

func TestProcessCancelledAuction(t *testing.T) {
	h := newHarness(t, "0")
	v := h.v

	if err := v.Queue().Deposit(depositor, eth(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := v.InitializeAuction(keeperAddr); err != nil {
		t.Fatalf("initializeAuction: %v", err)
	}
	if err := v.InitializeEpoch(keeperAddr); err != nil {
		t.Fatalf("initializeEpoch: %v", err)
	}

	// processing before the auction resolves is a status error
	if err := v.ProcessAuction(keeperAddr); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("early process err = %v, want ErrBadStatus", err)
	}

	// park a bid, let the auction rot past the rescue window
	h.at(utc(2022, 9, 9, 10, 30))
	if _, err := v.Auction().AddLimitOrder(buyer, 1, fixed.FromRat(1, 100), eth(10)); err != nil {
		t.Fatalf("limit order: %v", err)
	}
	h.at(utc(2022, 9, 10, 12, 30))
	if err := v.Auction().FinalizeAuction(1); err != nil {
		t.Fatalf("rescue: %v", err)
	}
	if !v.Auction().IsCancelled(1) {
		t.Fatal("auction must cancel after the rescue window")
	}

	// the cancelled path still releases the withdrawal lock
	if err := v.ProcessAuction(keeperAddr); err != nil {
		t.Fatalf("process cancelled: %v", err)
	}
	if err := v.CheckWithdrawalLock(); err != nil {
		t.Fatalf("lock: %v", err)
	}
	// and the buyer recovers the full bid
	refund, fill, err := v.Auction().Withdraw(buyer, 1)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !fill.IsZero() || refund.Cmp(fixed.FromRat(1, 100).Muli(eth(10))) != 0 {
		t.Errorf("refund = (%s, %s)", refund, fill)
	}
}

func TestReserves(t *testing.T) {
	h := newHarness(t, "0.01")
	v := h.v

	if err := v.Queue().Deposit(depositor, eth(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := v.InitializeAuction(keeperAddr); err != nil {
		t.Fatalf("initializeAuction: %v", err)
	}
	if err := v.InitializeEpoch(keeperAddr); err != nil {
		t.Fatalf("initializeEpoch: %v", err)
	}

	// 1% of the balance is reserved (to within fixed-point truncation)
	// and collateral is exactly the complement
	reserves := v.TotalReserves()
	diff := new(uint256.Int).Sub(eth(10), reserves)
	if reserves.Gt(eth(10)) || diff.Gt(uint256.NewInt(100)) {
		t.Errorf("reserves = %s, want ~10e18", reserves)
	}
	sum := new(uint256.Int).Add(v.TotalCollateral(), reserves)
	if sum.Cmp(eth(1000)) != 0 {
		t.Errorf("collateral + reserves = %s, want 1000e18", sum)
	}
	checkAssetsIdentity(t, v)
}

func TestAdminSetters(t *testing.T) {
	h := newHarness(t, "0")
	v := h.v

	if err := v.SetKeeper(depositor, depositor); !errors.Is(err, ErrNotOwner) {
		t.Errorf("non-owner setKeeper err = %v, want ErrNotOwner", err)
	}
	if err := v.SetKeeper(ownerAddr, common.Address{}); !errors.Is(err, ErrAddressNotProvided) {
		t.Errorf("zero keeper err = %v, want ErrAddressNotProvided", err)
	}
	if err := v.SetKeeper(ownerAddr, keeperAddr); !errors.Is(err, ErrAddressUnchanged) {
		t.Errorf("same keeper err = %v, want ErrAddressUnchanged", err)
	}
	if err := v.SetKeeper(ownerAddr, depositor); err != nil {
		t.Fatalf("setKeeper: %v", err)
	}
	if err := v.InitializeAuction(keeperAddr); !errors.Is(err, ErrNotKeeper) {
		t.Error("old keeper must lose access")
	}

	if err := v.SetPerformanceFee(ownerAddr, fixed.FromInt(2)); !errors.Is(err, ErrValueExceedsMaximum) {
		t.Errorf("200%% fee err = %v, want ErrValueExceedsMaximum", err)
	}
}
