package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/havenvest/engine/internal/accrual"
	"github.com/havenvest/engine/internal/config"
	"github.com/havenvest/engine/internal/database"
	"github.com/havenvest/engine/internal/journal"
	"github.com/havenvest/engine/internal/ledger"
	"github.com/havenvest/engine/internal/logger"
	"github.com/havenvest/engine/internal/notify"
	"github.com/havenvest/engine/internal/queue"
	"github.com/havenvest/engine/internal/retry"
	"github.com/havenvest/engine/internal/store"
	"github.com/havenvest/engine/internal/worker"
)

func main() {
	envFile := flag.String("envFile", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("No .env file found at %s, using environment variables", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog := logger.New(cfg.LogLevel)
	zlog.Info().Msg("starting havenvest engine")

	db, err := database.Connect(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to database")
	}

	queueClient, err := queue.NewClient(cfg.RedisURL, zlog)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer queueClient.Close()

	st := store.New(db)
	var notifier notify.Notifier = notify.NewLogNotifier(zlog)
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.WebhookURL, zlog)
	}
	led := ledger.New(st.Wallets, zlog)
	jnl := journal.New(st.Transactions, zlog)
	runner := accrual.New(st.Investments, jnl, notifier, zlog)
	retrier := retry.New(st.Transactions, jnl, led, notifier, zlog)

	manager := worker.NewManager(cfg, queueClient, runner, retrier, st.Investments, zlog)
	if err := manager.Start(); err != nil {
		zlog.Fatal().Err(err).Msg("failed to start worker manager")
	}

	go func() {
		addr := ":" + cfg.MetricsPort
		zlog.Info().Str("addr", addr).Msg("metrics server listening")
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, nil); err != nil {
			zlog.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	zlog.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	if err := manager.Stop(); err != nil {
		zlog.Error().Err(err).Msg("worker manager shutdown failed")
	}
	zlog.Info().Msg("engine stopped")
}
