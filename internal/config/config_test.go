package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PLATFORM_FEE_BPS", "")
	t.Setenv("LEDGER_BACKEND", "")
	t.Setenv("ACCESS_TTL", "")

	cfg := Load()
	require.Equal(t, int64(1000), cfg.PlatformFeeBps)
	require.Equal(t, int64(1), cfg.PaymentToleranceUnits)
	require.Equal(t, LedgerSolana, cfg.LedgerBackend)
	require.Equal(t, 5*time.Minute, cfg.AccessTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PLATFORM_FEE_BPS", "250")
	t.Setenv("LEDGER_BACKEND", "TonAPI")
	t.Setenv("TONAPI_BASE_URL", "https://example.test/v2/")
	t.Setenv("ACCESS_TTL", "90s")
	t.Setenv("LISTEN_PORT", "not-a-number")

	cfg := Load()
	require.Equal(t, int64(250), cfg.PlatformFeeBps)
	require.Equal(t, LedgerTonAPI, cfg.LedgerBackend)
	require.Equal(t, "https://example.test/v2", cfg.TonAPIBaseURL)
	require.Equal(t, 90*time.Second, cfg.AccessTTL)
	require.Equal(t, 8080, cfg.ListenPort)
}

func validConfig() *Config {
	return &Config{
		LedgerBackend:         LedgerSolana,
		SolanaRPCURL:          "http://localhost:8899",
		LedgerRPS:             4,
		PaymentAssetID:        "mint",
		PlatformWallet:        "platform",
		PlatformFeeBps:        1000,
		PaymentToleranceUnits: 1,
		AccessSigningKey:      "secret",
		AccessTTL:             time.Minute,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := map[string]func(c *Config){
		"missing platform wallet": func(c *Config) { c.PlatformWallet = "" },
		"missing asset":           func(c *Config) { c.PaymentAssetID = "" },
		"missing signing key":     func(c *Config) { c.AccessSigningKey = "" },
		"fee above 100%":          func(c *Config) { c.PlatformFeeBps = 10001 },
		"negative tolerance":      func(c *Config) { c.PaymentToleranceUnits = -1 },
		"too many decimals":       func(c *Config) { c.PaymentAssetDecimals = 19 },
		"unknown backend":         func(c *Config) { c.LedgerBackend = "bitcoin" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrConfiguration))
		})
	}
}
