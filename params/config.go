package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Vault holds the per-vault financial parameters. Rates are decimal
// strings ("0.02" = 2%) parsed into 64.64 by the daemon so the config
// layer stays dependency-free.
type Vault struct {
	IsCall             bool
	UnderlyingSymbol   string
	BaseSymbol         string
	UnderlyingDecimals int
	BaseDecimals       int

	ReserveRate    string
	PerformanceFee string
	WithdrawalFee  string
	Delta          string
	DeltaOffset    string
	Volatility     string

	// offsets in seconds from the Friday 08:00 UTC mark
	StartOffset int64
	EndOffset   int64

	MinSize string // minimum auction order size, in collateral-decimal units
	MaxTVL  string // deposit cap, in collateral-decimal units
}

type Node struct {
	ListenAddr string
	DBPath     string
	LogFile    string
}

type Config struct {
	Vault Vault
	Node  Node
}

func Default() Config {
	return Config{
		Vault: Vault{
			IsCall:             true,
			UnderlyingSymbol:   "ETH",
			BaseSymbol:         "DAI",
			UnderlyingDecimals: 18,
			BaseDecimals:       18,
			ReserveRate:        "0.001",
			PerformanceFee:     "0.20",
			WithdrawalFee:      "0.02",
			Delta:              "0.20",
			DeltaOffset:        "0.10",
			Volatility:         "0.80",
			StartOffset:        2 * 3600,
			EndOffset:          4 * 3600,
			MinSize:            "100000000000000000", // 0.1 in 18 decimals
			MaxTVL:             "10000000000000000000000",
		},
		Node: Node{
			ListenAddr: ":8550",
			DBPath:     "data/vault.db",
			LogFile:    "data/vault.log",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("VAULT_IS_CALL"); v != "" {
		cfg.Vault.IsCall = v == "true"
	}
	setStr(&cfg.Vault.UnderlyingSymbol, "VAULT_UNDERLYING_SYMBOL")
	setStr(&cfg.Vault.BaseSymbol, "VAULT_BASE_SYMBOL")
	setInt(&cfg.Vault.UnderlyingDecimals, "VAULT_UNDERLYING_DECIMALS")
	setInt(&cfg.Vault.BaseDecimals, "VAULT_BASE_DECIMALS")
	setStr(&cfg.Vault.ReserveRate, "VAULT_RESERVE_RATE")
	setStr(&cfg.Vault.PerformanceFee, "VAULT_PERFORMANCE_FEE")
	setStr(&cfg.Vault.WithdrawalFee, "VAULT_WITHDRAWAL_FEE")
	setStr(&cfg.Vault.Delta, "VAULT_DELTA")
	setStr(&cfg.Vault.DeltaOffset, "VAULT_DELTA_OFFSET")
	setStr(&cfg.Vault.Volatility, "VAULT_VOLATILITY")
	setInt64(&cfg.Vault.StartOffset, "VAULT_START_OFFSET_SEC")
	setInt64(&cfg.Vault.EndOffset, "VAULT_END_OFFSET_SEC")
	setStr(&cfg.Vault.MinSize, "VAULT_MIN_SIZE")
	setStr(&cfg.Vault.MaxTVL, "VAULT_MAX_TVL")

	setStr(&cfg.Node.ListenAddr, "NODE_LISTEN_ADDR")
	setStr(&cfg.Node.DBPath, "NODE_DB_PATH")
	setStr(&cfg.Node.LogFile, "NODE_LOG_FILE")

	return cfg
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
