package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfiguration marks a configuration problem that must stop the process at startup.
var ErrConfiguration = errors.New("configuration error")

// Ledger backends
const (
	LedgerSolana = "solana"
	LedgerTonAPI = "tonapi"
)

type Config struct {
	// HTTP
	ListenPort int

	// Database
	DBDSN string

	// Ledger
	LedgerBackend    string
	SolanaRPCURL     string
	TonAPIKey        string
	TonAPIBaseURL    string
	LedgerRPS        float64
	LedgerMaxRetries int

	// Payment
	PaymentAssetID        string
	PaymentAssetDecimals  int
	PaymentAssetSymbol    string
	PlatformWallet        string
	PlatformFeeBps        int64
	PaymentToleranceUnits int64

	// Access links
	AccessBaseURL    string
	AccessSigningKey string
	AccessTTL        time.Duration

	// Caller identity
	AuthJWTSecret string
	AuthIssuer    string
	AuthAudience  string

	// Telegram
	BotToken       string
	NotifyInterval time.Duration

	// Logging
	LogLevel string
	LogFile  string
}

func Load() *Config {
	return &Config{
		// HTTP
		ListenPort: getEnvInt("LISTEN_PORT", 8080),

		// Database
		DBDSN: getEnv("DB_DSN", "./unlock.db"),

		// Ledger
		LedgerBackend:    strings.ToLower(getEnv("LEDGER_BACKEND", LedgerSolana)),
		SolanaRPCURL:     getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		TonAPIKey:        getEnv("TONAPI_API_KEY", ""),
		TonAPIBaseURL:    strings.TrimSuffix(getEnv("TONAPI_BASE_URL", "https://tonapi.io/v2"), "/"),
		LedgerRPS:        getEnvFloat("LEDGER_RPS", 4),
		LedgerMaxRetries: getEnvInt("LEDGER_MAX_RETRIES", 3),

		// Payment
		PaymentAssetID:        getEnv("PAYMENT_ASSET_ID", ""),
		PaymentAssetDecimals:  getEnvInt("PAYMENT_ASSET_DECIMALS", 6),
		PaymentAssetSymbol:    getEnv("PAYMENT_ASSET_SYMBOL", "USDC"),
		PlatformWallet:        getEnv("PLATFORM_WALLET", ""),
		PlatformFeeBps:        getEnvInt64("PLATFORM_FEE_BPS", 1000),
		PaymentToleranceUnits: getEnvInt64("PAYMENT_TOLERANCE_UNITS", 1),

		// Access links
		AccessBaseURL:    strings.TrimSuffix(getEnv("ACCESS_BASE_URL", "http://localhost:8080/content"), "/"),
		AccessSigningKey: getEnv("ACCESS_SIGNING_KEY", ""),
		AccessTTL:        getEnvDuration("ACCESS_TTL", 5*time.Minute),

		// Caller identity
		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		AuthIssuer:    getEnv("AUTH_ISSUER", ""),
		AuthAudience:  getEnv("AUTH_AUDIENCE", ""),

		// Telegram
		BotToken:       getEnv("BOT_TOKEN", ""),
		NotifyInterval: getEnvDuration("NOTIFY_INTERVAL", 10*time.Second),

		// Logging
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// Validate reports every missing or out-of-range setting at once.
func (c *Config) Validate() error {
	var problems []string

	if c.PlatformWallet == "" {
		problems = append(problems, "PLATFORM_WALLET is required")
	}
	if c.PaymentAssetID == "" {
		problems = append(problems, "PAYMENT_ASSET_ID is required")
	}
	if c.AccessSigningKey == "" {
		problems = append(problems, "ACCESS_SIGNING_KEY is required")
	}
	if c.PlatformFeeBps < 0 || c.PlatformFeeBps > 10000 {
		problems = append(problems, "PLATFORM_FEE_BPS must be between 0 and 10000")
	}
	if c.PaymentToleranceUnits < 0 {
		problems = append(problems, "PAYMENT_TOLERANCE_UNITS must not be negative")
	}
	if c.PaymentAssetDecimals < 0 || c.PaymentAssetDecimals > 18 {
		problems = append(problems, "PAYMENT_ASSET_DECIMALS must be between 0 and 18")
	}
	if c.AccessTTL <= 0 {
		problems = append(problems, "ACCESS_TTL must be positive")
	}
	if c.LedgerRPS <= 0 {
		problems = append(problems, "LEDGER_RPS must be positive")
	}

	switch c.LedgerBackend {
	case LedgerSolana:
		if c.SolanaRPCURL == "" {
			problems = append(problems, "SOLANA_RPC_URL is required for the solana ledger")
		}
	case LedgerTonAPI:
		if c.TonAPIBaseURL == "" {
			problems = append(problems, "TONAPI_BASE_URL is required for the tonapi ledger")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown LEDGER_BACKEND %q", c.LedgerBackend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
