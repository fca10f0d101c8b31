package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/optionvault/params"
	"github.com/uhyunpark/optionvault/pkg/api"
	"github.com/uhyunpark/optionvault/pkg/driver"
	"github.com/uhyunpark/optionvault/pkg/fixed"
	"github.com/uhyunpark/optionvault/pkg/pool"
	"github.com/uhyunpark/optionvault/pkg/pricer"
	"github.com/uhyunpark/optionvault/pkg/storage"
	"github.com/uhyunpark/optionvault/pkg/token"
	"github.com/uhyunpark/optionvault/pkg/util"
	"github.com/uhyunpark/optionvault/pkg/vault"
	"github.com/uhyunpark/optionvault/pkg/vault/event"
)

// namedAddr derives a stable in-process account address from a label.
func namedAddr(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("optionvault/" + label))[12:])
}

func envAddr(key string, fallback common.Address) common.Address {
	if v := os.Getenv(key); common.IsHexAddress(v) {
		return common.HexToAddress(v)
	}
	return fallback
}

func mustDec(s string) fixed.Q {
	q, err := fixed.FromDec(s)
	if err != nil {
		log.Fatalf("bad decimal %q: %v", s, err)
	}
	return q
}

func mustAmount(s string) *uint256.Int {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		log.Fatalf("bad amount %q: %v", s, err)
	}
	return v
}

// zapSink mirrors every core event into the structured log.
type zapSink struct {
	log *zap.SugaredLogger
}

func (s zapSink) Emit(ev event.Event) {
	s.log.Infow("vault_event", "event", ev.Name(), "data", ev)
}

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	clock := util.NewMonotonic(util.RealClock{})

	// token substrates; a wrapped-native underlying keeps its deposit
	// entry point
	var wrapped *token.WrappedNative
	var underlying *token.Ledger
	if cfg.Vault.UnderlyingSymbol == "WETH" {
		wrapped = token.NewWrappedNative(cfg.Vault.UnderlyingSymbol)
		underlying = wrapped.Ledger
	} else {
		underlying = token.NewLedger(cfg.Vault.UnderlyingSymbol, uint8(cfg.Vault.UnderlyingDecimals))
	}
	base := token.NewLedger(cfg.Vault.BaseSymbol, uint8(cfg.Vault.BaseDecimals))
	collateral := underlying
	if !cfg.Vault.IsCall {
		collateral = base
		wrapped = nil
	}
	exchange := token.NewExchangeHelper()

	// external collaborators
	pl := pool.New(namedAddr("pool"), pool.Settings{Base: base, Underlying: underlying})
	spot := mustDec(getEnv("VAULT_SPOT", "2000"))
	feed := &pricer.StaticFeed{Spot: spot}
	pr := pricer.New(feed, mustDec(cfg.Vault.Volatility), clock)

	// persistence + event fan-out
	store, err := storage.Open(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	journal := storage.JournalSink{
		Store: store,
		Now:   func() int64 { return clock.Now().Unix() },
		OnErr: func(err error) { sugar.Errorw("journal_append_failed", "err", err) },
	}

	owner := envAddr("VAULT_OWNER", namedAddr("owner"))
	keeper := envAddr("VAULT_KEEPER", namedAddr("keeper"))

	vaultCfg := vault.Config{
		Addr:               namedAddr("vault"),
		AuctionAddr:        namedAddr("auction"),
		QueueAddr:          namedAddr("queue"),
		Owner:              owner,
		Keeper:             keeper,
		FeeRecipient:       envAddr("VAULT_FEE_RECIPIENT", namedAddr("fees")),
		IsCall:             cfg.Vault.IsCall,
		UnderlyingDecimals: uint8(cfg.Vault.UnderlyingDecimals),
		BaseDecimals:       uint8(cfg.Vault.BaseDecimals),
		ReserveRate:        mustDec(cfg.Vault.ReserveRate),
		PerformanceFee:     mustDec(cfg.Vault.PerformanceFee),
		WithdrawalFee:      mustDec(cfg.Vault.WithdrawalFee),
		Delta:              mustDec(cfg.Vault.Delta),
		DeltaOffset:        mustDec(cfg.Vault.DeltaOffset),
		StartOffset:        cfg.Vault.StartOffset,
		EndOffset:          cfg.Vault.EndOffset,
		MinSize:            mustAmount(cfg.Vault.MinSize),
		MaxTVL:             mustAmount(cfg.Vault.MaxTVL),
		Collateral:         collateral,
		Wrapped:            wrapped,
		Exchange:           exchange,
		Pool:               pl,
		Pricer:             pr,
		Clock:              clock,
	}

	// sinks: durable journal, structured log, then the websocket feed
	// (appended below once the server exists)
	sinks := event.Sinks{journal, zapSink{log: sugar}}

	vaultCfg.Sink = &lateSink{inner: &sinks}
	v, err := vault.New(vaultCfg)
	if err != nil {
		sugar.Fatalw("vault_init_failed", "err", err)
	}

	drv := driver.New(v, sugar)
	server := api.NewServer(drv, store)
	sinks = append(sinks, server.EventSink())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go drv.Run(ctx)

	sugar.Infow("vaultd_started",
		"is_call", cfg.Vault.IsCall,
		"collateral", collateral.Symbol(),
		"keeper", keeper.Hex(),
		"listen", cfg.Node.ListenAddr,
	)

	go func() {
		if err := server.Start(cfg.Node.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	sugar.Infow("vaultd_stopping")
	cancel()
}

// lateSink lets the event fan-out grow after the vault is constructed
// (the websocket sink needs the server, which needs the driver).
type lateSink struct {
	inner *event.Sinks
}

func (s *lateSink) Emit(ev event.Event) { s.inner.Emit(ev) }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
