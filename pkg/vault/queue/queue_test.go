package queue

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/optionvault/pkg/token"
)

var (
	queueAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	vaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000d2")
)

func amount(n uint64) *uint256.Int { return uint256.NewInt(n) }

// stubVault mints shares for queued collateral at a configurable ratio
// (shares = assets * num / den), standing in for the vault's
// share-accounting during queue tests.
type stubVault struct {
	collateral *token.Ledger
	shares     *token.Ledger
	num, den   uint64
}

func (s *stubVault) Deposit(from common.Address, assets *uint256.Int) (*uint256.Int, error) {
	if err := s.collateral.Transfer(from, vaultAddr, assets); err != nil {
		return nil, err
	}
	minted := new(uint256.Int).Mul(assets, uint256.NewInt(s.num))
	minted.Div(minted, uint256.NewInt(s.den))
	s.shares.Mint(from, minted)
	return minted, nil
}

func (s *stubVault) TransferShares(from, to common.Address, a *uint256.Int) error {
	return s.shares.Transfer(from, to, a)
}

func (s *stubVault) TotalAssets() *uint256.Int {
	return s.collateral.BalanceOf(vaultAddr)
}

func newQueue(t *testing.T, maxTVL *uint256.Int) (*Queue, *stubVault) {
	t.Helper()
	collateral := token.NewLedger("DAI", 18)
	sv := &stubVault{
		collateral: collateral,
		shares:     token.NewLedger("vSHARE", 18),
		num:        1, den: 1,
	}
	q := New(Config{
		Self:       queueAddr,
		Vault:      vaultAddr,
		MaxTVL:     maxTVL,
		Collateral: collateral,
		Exchange:   token.NewExchangeHelper(),
		Shares:     sv,
	})
	for _, user := range []common.Address{alice, bob} {
		collateral.Mint(user, amount(1_000_000))
		collateral.Approve(user, queueAddr, amount(1_000_000))
	}
	return q, sv
}

func TestDepositMintsClaims(t *testing.T) {
	q, _ := newQueue(t, nil)

	if err := q.Deposit(alice, amount(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id := q.CurrentTokenID()
	if got := q.ClaimBalance(alice, id); got.Uint64() != 10_000 {
		t.Errorf("claim balance = %s, want 10000", got)
	}
	if got := q.TotalQueuedCollateral(); got.Uint64() != 10_000 {
		t.Errorf("queued = %s, want 10000", got)
	}

	if err := q.Deposit(alice, new(uint256.Int)); !errors.Is(err, ErrValueBelowMinimum) {
		t.Errorf("zero deposit err = %v, want ErrValueBelowMinimum", err)
	}
}

func TestDepositCancelRoundTrip(t *testing.T) {
	q, _ := newQueue(t, nil)
	before := amount(1_000_000)

	if err := q.Deposit(alice, amount(5_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := q.Cancel(alice, amount(5_000)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// collateral restored exactly, claim balance zeroed
	got := q.collateral.BalanceOf(alice)
	if got.Cmp(before) != 0 {
		t.Errorf("balance = %s, want %s", got, before)
	}
	if !q.ClaimBalance(alice, q.CurrentTokenID()).IsZero() {
		t.Error("claim balance must return to zero")
	}

	if err := q.Cancel(alice, amount(1)); !errors.Is(err, token.ErrInsufficientBalance) {
		t.Errorf("over-cancel err = %v, want ErrInsufficientBalance", err)
	}
}

func TestPaused(t *testing.T) {
	q, _ := newQueue(t, nil)
	q.SetPaused(true)
	if err := q.Deposit(alice, amount(1)); !errors.Is(err, ErrPaused) {
		t.Errorf("paused deposit err = %v, want ErrPaused", err)
	}
	q.SetPaused(false)
	if err := q.Deposit(alice, amount(1)); err != nil {
		t.Errorf("unpaused deposit err = %v", err)
	}
}

func TestMaxTVL(t *testing.T) {
	q, _ := newQueue(t, amount(1_000))
	if err := q.Deposit(alice, amount(900)); err != nil {
		t.Fatalf("deposit under cap: %v", err)
	}
	if err := q.Deposit(bob, amount(200)); !errors.Is(err, ErrMaxTVLExceeded) {
		t.Errorf("deposit over cap err = %v, want ErrMaxTVLExceeded", err)
	}
	if err := q.Deposit(bob, amount(100)); err != nil {
		t.Errorf("deposit at cap err = %v", err)
	}
}

func TestProcessDepositsSetsPricePerShare(t *testing.T) {
	q, sv := newQueue(t, nil)
	sv.num, sv.den = 1, 2 // vault mints half a share per asset

	if err := q.Deposit(alice, amount(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id0 := q.CurrentTokenID()

	if err := q.ProcessDeposits(alice); !errors.Is(err, ErrNotVault) {
		t.Errorf("non-vault process err = %v, want ErrNotVault", err)
	}
	if err := q.ProcessDeposits(vaultAddr); err != nil {
		t.Fatalf("process: %v", err)
	}

	// 10000 claims -> 5000 shares: price per share 0.5e18
	if got := q.PricePerShare(id0); got.Cmp(uint256.MustFromDecimal("500000000000000000")) != 0 {
		t.Errorf("pps = %s, want 0.5e18", got)
	}
	if q.CurrentTokenID() == id0 {
		t.Error("current token id must advance")
	}
	if q.Epoch() != 1 {
		t.Errorf("epoch = %d, want 1", q.Epoch())
	}
	if !q.TotalQueuedCollateral().IsZero() {
		t.Error("queued collateral must be swept to the vault")
	}
}

func TestRedeem(t *testing.T) {
	q, sv := newQueue(t, nil)

	if err := q.Deposit(alice, amount(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id0 := q.CurrentTokenID()

	// the live epoch's claims cannot be redeemed
	if err := q.Redeem(alice, id0, alice); !errors.Is(err, ErrCurrentClaimToken) {
		t.Errorf("redeem current err = %v, want ErrCurrentClaimToken", err)
	}

	if err := q.ProcessDeposits(vaultAddr); err != nil {
		t.Fatalf("process: %v", err)
	}

	want := q.PreviewUnredeemed(id0, alice)
	if want.Uint64() != 10_000 { // 1:1 stub vault
		t.Fatalf("preview = %s, want 10000", want)
	}
	if err := q.Redeem(alice, id0, alice); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got := sv.shares.BalanceOf(alice); got.Cmp(want) != 0 {
		t.Errorf("shares = %s, want %s", got, want)
	}
	if !q.ClaimBalance(alice, id0).IsZero() {
		t.Error("claims must burn on redeem")
	}
	// preview of the now-empty balance is zero
	if !q.PreviewUnredeemed(id0, alice).IsZero() {
		t.Error("preview after redeem must be zero")
	}
}

// TestDepositSweepsStaleClaims: a second deposit in a later epoch
// auto-redeems the processed epoch's claims, so a depositor never
// holds claims of more than one unprocessed epoch.
func TestDepositSweepsStaleClaims(t *testing.T) {
	q, sv := newQueue(t, nil)

	if err := q.Deposit(alice, amount(4_000)); err != nil {
		t.Fatalf("deposit 1: %v", err)
	}
	id0 := q.CurrentTokenID()
	if err := q.ProcessDeposits(vaultAddr); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := q.Deposit(alice, amount(6_000)); err != nil {
		t.Fatalf("deposit 2: %v", err)
	}
	if !q.ClaimBalance(alice, id0).IsZero() {
		t.Error("stale claims must be swept on the next deposit")
	}
	if got := sv.shares.BalanceOf(alice); got.Uint64() != 4_000 {
		t.Errorf("swept shares = %s, want 4000", got)
	}
	if got := q.ClaimBalance(alice, q.CurrentTokenID()); got.Uint64() != 6_000 {
		t.Errorf("fresh claims = %s, want 6000", got)
	}
}

func TestRedeemMaxAcrossEpochs(t *testing.T) {
	q, sv := newQueue(t, nil)

	var ids []token.ID
	for i := 0; i < 3; i++ {
		// deposit via bob so alice's sweep doesn't interfere
		if err := q.Deposit(bob, amount(1_000)); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
		ids = append(ids, q.CurrentTokenID())
		if err := q.ProcessDeposits(vaultAddr); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	// deposits 2 and 3 swept the prior epoch's claims automatically
	if got := sv.shares.BalanceOf(bob); got.Uint64() != 2_000 {
		t.Fatalf("swept shares = %s, want 2000", got)
	}
	if err := q.RedeemMax(bob, bob); err != nil {
		t.Fatalf("redeem max: %v", err)
	}
	if got := sv.shares.BalanceOf(bob); got.Uint64() != 3_000 {
		t.Errorf("shares = %s, want 3000 across all epochs", got)
	}
	for _, id := range ids {
		if !q.ClaimBalance(bob, id).IsZero() {
			t.Errorf("claim %s not burned", id)
		}
	}
}

func TestDepositNative(t *testing.T) {
	// an ERC20-collateral queue rejects native value
	q, _ := newQueue(t, nil)
	if err := q.DepositNative(alice, amount(100)); !errors.Is(err, ErrWrappedNativeMismatch) {
		t.Errorf("native into ERC20 queue err = %v, want ErrWrappedNativeMismatch", err)
	}

	// a wrapped-native queue wraps and queues the value
	wrapped := token.NewWrappedNative("WETH")
	sv := &stubVault{collateral: wrapped.Ledger, shares: token.NewLedger("vSHARE", 18), num: 1, den: 1}
	wq := New(Config{
		Self:       queueAddr,
		Vault:      vaultAddr,
		Collateral: wrapped.Ledger,
		Wrapped:    wrapped,
		Exchange:   token.NewExchangeHelper(),
		Shares:     sv,
	})
	if err := wq.DepositNative(alice, amount(250)); err != nil {
		t.Fatalf("native deposit: %v", err)
	}
	if got := wq.TotalQueuedCollateral(); got.Uint64() != 250 {
		t.Errorf("queued = %s, want 250", got)
	}
	if got := wq.ClaimBalance(alice, wq.CurrentTokenID()); got.Uint64() != 250 {
		t.Errorf("claims = %s, want 250", got)
	}
}

func TestClaimTokenIDFormat(t *testing.T) {
	id := FormatClaimTokenID(queueAddr, 42)
	addr, epoch := ParseClaimTokenID(id)
	if addr != queueAddr || epoch != 42 {
		t.Errorf("parse = (%s, %d), want (%s, 42)", addr.Hex(), epoch, queueAddr.Hex())
	}
	// distinct epochs produce distinct ids
	if FormatClaimTokenID(queueAddr, 1) == FormatClaimTokenID(queueAddr, 2) {
		t.Error("ids must differ per epoch")
	}
}
