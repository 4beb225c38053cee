package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mysterypack/internal/auth"
	"mysterypack/internal/bot"
	"mysterypack/internal/catalog"
	"mysterypack/internal/config"
	"mysterypack/internal/handlers"
	"mysterypack/internal/lock"
	"mysterypack/internal/logger"
	"mysterypack/internal/service"
	"mysterypack/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize SQLite database
	log.Infof("Initializing database at: %s", cfg.DatabasePath)
	if err := storage.InitDB(cfg.DatabasePath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer storage.CloseDB()

	f, err := catalog.LoadFile(cfg.CatalogFile)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	if err := storage.LoadCatalog(ctx, f); err != nil {
		log.Fatalf("Failed to publish catalog: %v", err)
	}
	log.Infof("Catalog loaded: %d prizes, %d packs, %d gem packages", len(f.Prizes), len(f.Packs), len(f.GemPackages))

	// Per-user locks are in-process unless Redis is configured
	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.RedisAddr != "" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client, cfg.LockTTL)
		log.Infof("Using redis locks at %s", cfg.RedisAddr)
	}

	retry := service.RetryPolicy{Attempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff}
	ledger := service.NewLedgerService(locker, retry)
	seeds := service.NewSeedService(locker, retry, cfg.DefaultClientSeed, cfg.MaxClientSeedLength)
	packs := service.NewPackService(locker, retry, seeds, cfg.ResellPercent)
	verify := service.NewVerificationService()
	payments := service.NewPaymentService(locker, retry, packs)

	// Start the bot when a token is configured; it also delivers notifications
	if cfg.TelegramBotToken != "" {
		b, err := bot.New(cfg.TelegramBotToken, bot.Deps{
			Ledger:    ledger,
			Seeds:     seeds,
			Packs:     packs,
			Verify:    verify,
			WebAppURL: cfg.WebAppURL,
		})
		if err != nil {
			log.Fatalf("Failed to create bot: %v", err)
		}
		packs.SetNotifier(service.NewNotificationService(b.Telebot(), cfg.AdminTelegramIDs()))
		go b.Start()
		defer b.Stop()
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN not set, bot and notifications disabled")
	}

	// Periodic ledger reconciliation
	if cfg.ReconcileInterval > 0 {
		worker := service.NewReconcileWorker(ledger, cfg.ReconcileInterval)
		worker.Start()
		defer worker.Stop()
	}

	if cfg.PaymentWebhookSecret == "" {
		log.Warn("PAYMENT_WEBHOOK_SECRET not set, payment webhooks will be rejected")
	}

	api := (&handlers.Server{
		Ledger:        ledger,
		Seeds:         seeds,
		Packs:         packs,
		Verify:        verify,
		Payments:      payments,
		Auth:          auth.NewAuthenticator(cfg.TelegramBotToken, cfg.AuthTrustedHeader),
		IsAdmin:       cfg.IsAdmin,
		OpenLimiter:   handlers.NewRateLimiter(cfg.OpenRatePerSecond, cfg.OpenRateBurst),
		WebhookSecret: cfg.PaymentWebhookSecret,
		Timeout:       cfg.RequestTimeout,
	}).Routes()

	mux := http.NewServeMux()
	mux.Handle("/api/", api)
	mux.Handle("/metrics", api)

	// Static file serving (web directory)
	if st, err := os.Stat("./web"); err == nil && st.IsDir() {
		mux.Handle("/", http.FileServer(http.Dir("./web")))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Graceful shutdown failed: %v", err)
	}
}
