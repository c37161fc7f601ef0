package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/suspectuso/content-unlock/internal/access"
	"github.com/suspectuso/content-unlock/internal/api"
	"github.com/suspectuso/content-unlock/internal/config"
	"github.com/suspectuso/content-unlock/internal/ledger"
	"github.com/suspectuso/content-unlock/internal/ledger/solana"
	"github.com/suspectuso/content-unlock/internal/metrics"
	"github.com/suspectuso/content-unlock/internal/notifier"
	"github.com/suspectuso/content-unlock/internal/payment"
	"github.com/suspectuso/content-unlock/internal/storage"
	"github.com/suspectuso/content-unlock/internal/telegram"
	"github.com/suspectuso/content-unlock/internal/tonapi"
	"github.com/suspectuso/content-unlock/internal/unlock"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	// Load config
	cfg := config.Load()

	// Setup logger
	log := newLogger(cfg)
	slog.SetDefault(log)
	if envErr != nil {
		log.Debug("no .env file found")
	}

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Initialize storage
	store, err := storage.New(cfg.DBDSN)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized")

	// Initialize ledger client
	ledgerClient, err := newLedger(cfg, log)
	if err != nil {
		log.Error("init ledger", "error", err)
		os.Exit(1)
	}

	verifier := payment.NewVerifier(ledgerClient, payment.Config{
		PlatformWallet: cfg.PlatformWallet,
		AssetID:        cfg.PaymentAssetID,
		FeeBps:         cfg.PlatformFeeBps,
		Tolerance:      cfg.PaymentToleranceUnits,
	})

	issuer, err := access.NewIssuer(cfg.AccessBaseURL, cfg.AccessSigningKey, cfg.AccessTTL)
	if err != nil {
		log.Error("init access issuer", "error", err)
		os.Exit(1)
	}

	orchestrator := unlock.New(store, verifier, issuer, cfg.AccessTTL, log)
	metrics.Register()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start telegram bot and notification dispatcher
	if cfg.BotToken != "" {
		bot, err := telegram.New(cfg.BotToken, log)
		if err != nil {
			log.Error("init telegram bot", "error", err)
			os.Exit(1)
		}
		log.Info("telegram bot initialized")

		asset := notifier.Asset{
			Symbol:   cfg.PaymentAssetSymbol,
			Decimals: cfg.PaymentAssetDecimals,
		}
		if cfg.LedgerBackend == config.LedgerTonAPI {
			asset.FormatAddress = tonapi.RawToFriendly
		}
		dispatcher := notifier.NewDispatcher(store, bot, asset, log)
		go dispatcher.Start(ctx, cfg.NotifyInterval)
		go bot.Start(ctx)
	} else {
		log.Info("sale notifications disabled: BOT_TOKEN not set")
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	auth := api.NewAuthenticator(api.AuthConfig{
		HMACSecret: cfg.AuthJWTSecret,
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
	}, log)
	if cfg.AuthJWTSecret == "" {
		log.Warn("AUTH_JWT_SECRET not set: grant endpoint will reject every request")
	}

	server := api.NewServer(orchestrator, store, auth, log)
	if err := server.Start(ctx, cfg.ListenPort); err != nil {
		log.Error("api server", "error", err)
		os.Exit(1)
	}
}

func newLedger(cfg *config.Config, log *slog.Logger) (ledger.Client, error) {
	var client ledger.Client

	switch cfg.LedgerBackend {
	case config.LedgerTonAPI:
		client = tonapi.NewLedger(tonapi.NewClient(cfg.TonAPIBaseURL, cfg.TonAPIKey, cfg.LedgerRPS))
		log.Info("tonapi ledger initialized", "base_url", cfg.TonAPIBaseURL, "asset", cfg.PaymentAssetID)
	default:
		if !solana.ValidAddress(cfg.PlatformWallet) {
			return nil, fmt.Errorf("%w: PLATFORM_WALLET is not a solana address", config.ErrConfiguration)
		}
		client = solana.NewClient(cfg.SolanaRPCURL, cfg.LedgerRPS)
		log.Info("solana ledger initialized", "rpc_url", cfg.SolanaRPCURL, "mint", cfg.PaymentAssetID)
	}

	return ledger.WithRetry(client, ledger.DefaultRetryPolicy(cfg.LedgerMaxRetries), log), nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
