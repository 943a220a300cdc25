// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application settings loaded from config.json and SWEEPER_* env vars.
type Config struct {
	RPCList      []string `mapstructure:"rpc_list"`
	Keypair      string   `mapstructure:"keypair"`
	PrivateKey   string   `mapstructure:"private_key"`
	QuoteAPIURL  string   `mapstructure:"quote_api_url"`
	SlippageBps  int      `mapstructure:"slippage_bps"`
	IgnoreMints  []string `mapstructure:"ignore_mints"`
	FeeRecipient string   `mapstructure:"fee_recipient"`
	DebugLogging bool     `mapstructure:"debug_logging"`
	LogFile      string   `mapstructure:"log_file"`
	PostgresURL  string   `mapstructure:"postgres_url"`
	MetricsAddr  string   `mapstructure:"metrics_addr"`

	// Batch packing
	MaxTxSize          int    `mapstructure:"max_tx_size"`
	SafetyMargin       int    `mapstructure:"safety_margin"`
	MinBalanceLamports uint64 `mapstructure:"min_balance_lamports"`
	AccountRent        uint64 `mapstructure:"account_rent_lamports"`
	FeeBps             uint64 `mapstructure:"fee_bps"`
	TxCostLamports     uint64 `mapstructure:"tx_cost_lamports"`

	// Dust thresholds
	MinValueSOL float64 `mapstructure:"min_value_sol"`
	MaxDustUSD  float64 `mapstructure:"max_dust_usd"`

	Retry RetryConfig `mapstructure:"retry"`
	Quote QuoteConfig `mapstructure:"quote"`

	TxPause        time.Duration `mapstructure:"-"`
	TxPauseMS      int           `mapstructure:"tx_pause_ms"`
	SettleDelay    time.Duration `mapstructure:"-"`
	SettleDelayMS  int           `mapstructure:"settle_delay_ms"`
	ConfirmPoll    time.Duration `mapstructure:"-"`
	ConfirmPollMS  int           `mapstructure:"confirm_poll_ms"`
	ConfirmTimeout time.Duration `mapstructure:"-"`
	ConfirmTimeMS  int           `mapstructure:"confirm_timeout_ms"`

	// Keygen.sh configuration
	License            string `mapstructure:"license"`
	KeygenAccountID    string `mapstructure:"keygen_account_id"`
	KeygenProductToken string `mapstructure:"keygen_product_token"`
	KeygenProductID    string `mapstructure:"keygen_product_id"`
}

// RetryConfig describes the shared transport retry policy.
type RetryConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BaseDelay   time.Duration `mapstructure:"-"`
	BaseDelayMS int           `mapstructure:"base_delay_ms"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

// QuoteConfig describes how quote requests are paced.
type QuoteConfig struct {
	GroupSize    int           `mapstructure:"group_size"`
	Stagger      time.Duration `mapstructure:"-"`
	StaggerMS    int           `mapstructure:"stagger_ms"`
	GroupPause   time.Duration `mapstructure:"-"`
	GroupPauseMS int           `mapstructure:"group_pause_ms"`
}

const (
	DefaultQuoteAPIURL   = "https://lite-api.jup.ag/swap/v1"
	DefaultMaxTxSize     = 1232
	DefaultSafetyMargin  = 100
	DefaultFeeBps        = 1000
	DefaultTxCost        = 5000
	DefaultSlippageBps   = 100
	DefaultMinValueSOL   = 0.001
	DefaultMaxDustUSD    = 10.0
	DefaultMaxRetries    = 3
	DefaultBaseDelayMS   = 500
	DefaultMultiplier    = 2.0
	DefaultGroupSize     = 3
	DefaultStaggerMS     = 300
	DefaultGroupPauseMS  = 1000
	DefaultTxPauseMS     = 500
	DefaultSettleDelayMS = 2000
	DefaultConfirmPollMS = 500
	DefaultConfirmTimeMS = 90000
	DefaultLogFile       = "sweeper.log"
	envPrefix            = "SWEEPER"
)

// Defaults returns the default values keyed by their config names.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"quote_api_url":         DefaultQuoteAPIURL,
		"slippage_bps":          DefaultSlippageBps,
		"log_file":              DefaultLogFile,
		"max_tx_size":           DefaultMaxTxSize,
		"safety_margin":         DefaultSafetyMargin,
		"min_balance_lamports":  0,
		"account_rent_lamports": 0,
		"fee_bps":               DefaultFeeBps,
		"tx_cost_lamports":      DefaultTxCost,
		"min_value_sol":         DefaultMinValueSOL,
		"max_dust_usd":          DefaultMaxDustUSD,
		"retry.max_retries":     DefaultMaxRetries,
		"retry.base_delay_ms":   DefaultBaseDelayMS,
		"retry.multiplier":      DefaultMultiplier,
		"quote.group_size":      DefaultGroupSize,
		"quote.stagger_ms":      DefaultStaggerMS,
		"quote.group_pause_ms":  DefaultGroupPauseMS,
		"tx_pause_ms":           DefaultTxPauseMS,
		"settle_delay_ms":       DefaultSettleDelayMS,
		"confirm_poll_ms":       DefaultConfirmPollMS,
		"confirm_timeout_ms":    DefaultConfirmTimeMS,
	}
}

// LoadConfig reads configuration from the specified file path and performs validation.
// A .env file next to the working directory is loaded first if present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config error: %w", err)
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}

	loadEnvironmentVariables(v, &cfg)

	// Convert ms to Duration
	cfg.TxPause = time.Duration(cfg.TxPauseMS) * time.Millisecond
	cfg.SettleDelay = time.Duration(cfg.SettleDelayMS) * time.Millisecond
	cfg.ConfirmPoll = time.Duration(cfg.ConfirmPollMS) * time.Millisecond
	cfg.ConfirmTimeout = time.Duration(cfg.ConfirmTimeMS) * time.Millisecond
	cfg.Retry.BaseDelay = time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond
	cfg.Quote.Stagger = time.Duration(cfg.Quote.StaggerMS) * time.Millisecond
	cfg.Quote.GroupPause = time.Duration(cfg.Quote.GroupPauseMS) * time.Millisecond

	return &cfg, validateConfig(&cfg)
}

// IgnoredMints parses the ignore list into public keys.
func (c *Config) IgnoredMints() ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(c.IgnoreMints))
	for _, m := range c.IgnoreMints {
		pk, err := solana.PublicKeyFromBase58(strings.TrimSpace(m))
		if err != nil {
			return nil, fmt.Errorf("invalid ignore mint %q: %w", m, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

// FeeRecipientKey returns the fee recipient, or the zero key when fees are disabled.
func (c *Config) FeeRecipientKey() (solana.PublicKey, error) {
	if c.FeeRecipient == "" {
		return solana.PublicKey{}, nil
	}
	return solana.PublicKeyFromBase58(c.FeeRecipient)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if err := validateURLWithCache(cfg.QuoteAPIURL, "http"); err != nil {
		return errors.New("invalid quote_api_url")
	}
	if cfg.FeeRecipient != "" {
		if _, err := solana.PublicKeyFromBase58(cfg.FeeRecipient); err != nil {
			return errors.New("invalid fee_recipient")
		}
	}
	if _, err := cfg.IgnoredMints(); err != nil {
		return err
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.MaxTxSize <= 0 {
		return errors.New("invalid max_tx_size")
	}
	if cfg.SafetyMargin < 0 || cfg.SafetyMargin >= cfg.MaxTxSize {
		return errors.New("invalid safety_margin")
	}
	if cfg.FeeBps > 10000 {
		return errors.New("fee_bps must not exceed 10000")
	}
	if cfg.MinValueSOL < 0 || cfg.MaxDustUSD < 0 {
		return errors.New("invalid dust thresholds")
	}
	if cfg.SlippageBps < 0 {
		return errors.New("invalid slippage_bps")
	}
	if cfg.Retry.MaxRetries < 0 {
		return errors.New("invalid retry.max_retries")
	}
	if cfg.Retry.BaseDelayMS < 0 || cfg.Retry.Multiplier < 1 {
		return errors.New("invalid retry backoff")
	}
	if cfg.Quote.GroupSize <= 0 {
		return errors.New("invalid quote.group_size")
	}
	if cfg.Quote.StaggerMS < 0 || cfg.Quote.GroupPauseMS < 0 {
		return errors.New("invalid quote pacing")
	}
	if cfg.TxPauseMS < 0 || cfg.SettleDelayMS < 0 {
		return errors.New("invalid pause durations")
	}
	if cfg.ConfirmPollMS <= 0 || cfg.ConfirmTimeMS <= 0 {
		return errors.New("invalid confirmation timings")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	v.AutomaticEnv()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envKey := v.GetString("PRIVATE_KEY"); envKey != "" {
		cfg.PrivateKey = envKey
	}
	if envLicense := v.GetString("LICENSE"); envLicense != "" {
		cfg.License = envLicense
	}
	if envPG := v.GetString("POSTGRES_URL"); envPG != "" {
		cfg.PostgresURL = envPG
	}

	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
}
