// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validConfigJSON = `{
    "rpc_list": [
        "https://api.mainnet-beta.solana.com",
        "https://solana-rpc.publicnode.com"
    ],
    "quote_api_url": "https://lite-api.jup.ag/swap/v1",
    "fee_recipient": "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
    "ignore_mints": ["EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"],
    "fee_bps": 500,
    "retry": {"max_retries": 2, "base_delay_ms": 250},
    "quote": {"group_size": 4},
    "tx_pause_ms": 0
}`

var invalidConfigJSON = `{
    "rpc_list": [],
    "max_tx_size": -1
}`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "valid config with overrides",
			content: validConfigJSON,
			check: func(t *testing.T, cfg *Config) {
				assert.Len(t, cfg.RPCList, 2)
				assert.Equal(t, uint64(500), cfg.FeeBps)
				assert.Equal(t, 2, cfg.Retry.MaxRetries)
				assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
				assert.Equal(t, DefaultMultiplier, cfg.Retry.Multiplier)
				assert.Equal(t, 4, cfg.Quote.GroupSize)
				assert.Equal(t, 300*time.Millisecond, cfg.Quote.Stagger)
				assert.Equal(t, time.Second, cfg.Quote.GroupPause)
				assert.Equal(t, time.Duration(0), cfg.TxPause)
				assert.Equal(t, DefaultMaxTxSize, cfg.MaxTxSize)
				assert.Equal(t, DefaultSafetyMargin, cfg.SafetyMargin)

				mints, err := cfg.IgnoredMints()
				require.NoError(t, err)
				assert.Len(t, mints, 1)

				fee, err := cfg.FeeRecipientKey()
				require.NoError(t, err)
				assert.False(t, fee.IsZero())
			},
		},
		{
			name:    "empty required fields",
			content: invalidConfigJSON,
			wantErr: true,
		},
		{
			name:    "bad rpc scheme",
			content: `{"rpc_list": ["ftp://example.com"]}`,
			wantErr: true,
		},
		{
			name:    "fee above 100 percent",
			content: `{"rpc_list": ["https://api.mainnet-beta.solana.com"], "fee_bps": 20000}`,
			wantErr: true,
		},
		{
			name:    "malformed ignore mint",
			content: `{"rpc_list": ["https://api.mainnet-beta.solana.com"], "ignore_mints": ["not-a-key"]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeTestConfig(t, tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SWEEPER_RPC_LIST", "https://a.example.com, https://b.example.com,")
	t.Setenv("SWEEPER_PRIVATE_KEY", "secret")

	cfg, err := LoadConfig(writeTestConfig(t, validConfigJSON))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.RPCList)
	assert.Equal(t, "secret", cfg.PrivateKey)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
