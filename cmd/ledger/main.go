package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"ledger/internal/backend"
	"ledger/internal/cache"
	"ledger/internal/config"
	"ledger/internal/core"
	apphttp "ledger/internal/http"
	"ledger/internal/log"
	"ledger/internal/ports"
	"ledger/internal/receipt"
	"ledger/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: log.ComponentApp,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	result, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Warn("Backend cleanup failed", log.FieldError, err)
		}
	}()

	alerter := services.NewBudgetAlerter(result.Store, result.Notifier, logger,
		services.WithAlertTimeout(cfg.AlertTimeout))

	receipts, closeReceipts, err := newReceiptExtractor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeReceipts()

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Ledger:   services.NewLedgerService(result.Store, alerter, logger),
		Query:    services.NewTransactionQuery(result.Store, logger),
		Accounts: services.NewAccountService(result.Store, result.Store, logger),
		Receipts: receipts,
		Identity: apphttp.NewJWTResolver(cfg.JWTSecret),
		Health:   result.Store,
	}, apphttp.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		ReceiptMaxBytes:    int64(cfg.ReceiptMaxBytes),
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting ledger server",
			log.FieldOperation, log.OpStartup,
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"receipt_scanning", receipts != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newReceiptExtractor returns nil when no Gemini key is configured.
func newReceiptExtractor(ctx context.Context, cfg *config.Config, logger *log.Logger) (ports.ReceiptExtractor, func(), error) {
	if !cfg.ReceiptScanningEnabled() {
		logger.Info("Receipt scanning disabled - no GEMINI_API_KEY provided")
		return nil, func() {}, nil
	}

	gemini, err := receipt.NewGeminiExtractor(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		return nil, nil, err
	}
	results, err := cache.NewRistretto[core.ReceiptFields](1000, 24*time.Hour)
	if err != nil {
		return nil, nil, err
	}
	return receipt.NewCachedExtractor(gemini, results), results.Close, nil
}
