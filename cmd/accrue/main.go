// Command accrue performs a single synchronous pass of the accrual runner
// and/or the retry processor, for cron-style deployments and manual
// catch-up after downtime.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/havenvest/engine/internal/accrual"
	"github.com/havenvest/engine/internal/config"
	"github.com/havenvest/engine/internal/database"
	"github.com/havenvest/engine/internal/journal"
	"github.com/havenvest/engine/internal/ledger"
	"github.com/havenvest/engine/internal/logger"
	"github.com/havenvest/engine/internal/notify"
	"github.com/havenvest/engine/internal/retry"
	"github.com/havenvest/engine/internal/store"
)

func main() {
	envFile := flag.String("envFile", ".env", "Path to .env file")
	runAccrual := flag.Bool("accrual", true, "Run an accrual pass")
	runRetry := flag.Bool("retry", false, "Run a retry pass")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("No .env file found at %s, using environment variables", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to database")
	}

	st := store.New(db)
	notifier := notify.NewLogNotifier(zlog)
	led := ledger.New(st.Wallets, zlog)
	jnl := journal.New(st.Transactions, zlog)

	ctx := context.Background()

	if *runAccrual {
		runner := accrual.New(st.Investments, jnl, notifier, zlog)
		if err := runner.Run(ctx); err != nil {
			zlog.Fatal().Err(err).Msg("accrual pass failed")
		}
	}
	if *runRetry {
		retrier := retry.New(st.Transactions, jnl, led, notifier, zlog)
		if err := retrier.Run(ctx); err != nil {
			zlog.Fatal().Err(err).Msg("retry pass failed")
		}
	}

	zlog.Info().Msg("pass completed")
}
