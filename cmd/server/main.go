package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akontos/tradeledger/internal/config"
	"github.com/akontos/tradeledger/internal/database"
	"github.com/akontos/tradeledger/internal/events"
	"github.com/akontos/tradeledger/internal/modules/accounts"
	"github.com/akontos/tradeledger/internal/modules/auth"
	"github.com/akontos/tradeledger/internal/modules/feed"
	"github.com/akontos/tradeledger/internal/modules/insights"
	"github.com/akontos/tradeledger/internal/modules/ledger"
	"github.com/akontos/tradeledger/internal/modules/trades"
	"github.com/akontos/tradeledger/internal/modules/transactions"
	"github.com/akontos/tradeledger/internal/scheduler"
	"github.com/akontos/tradeledger/internal/server"
	"github.com/akontos/tradeledger/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info"})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Trade Ledger")

	// Initialize database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Wire up modules
	ev := events.NewManager(log)
	engine := ledger.NewEngine(db, log)

	authRepo := auth.NewRepository(db.Conn(), log)
	accountsRepo := accounts.NewRepository(db.Conn(), log)
	transactionsRepo := transactions.NewRepository(db.Conn(), log)
	tradesRepo := trades.NewRepository(db.Conn(), log)

	accountsService := accounts.NewService(accountsRepo, db, engine, ev, log)
	transactionsService := transactions.NewService(transactionsRepo, accountsRepo, db, engine, ev, log)
	tradesService := trades.NewService(tradesRepo, accountsRepo, db, engine, ev, log)
	insightsService := insights.NewService(tradesRepo, accountsRepo, log)

	authHandler := auth.NewHandler(authRepo, cfg.JWTSecret, cfg.TokenExpiry, log)
	accountsHandler := accounts.NewHandler(accountsService, log)
	transactionsHandler := transactions.NewHandler(transactionsService, log)
	tradesHandler := trades.NewHandler(tradesService, log)
	insightsHandler := insights.NewHandler(insightsService, log)
	feedHandler := feed.NewHandler(tradesService, accountsRepo, cfg.FeedSecret, cfg.FeedMaxSkew, log)

	// Initialize scheduler
	sched := scheduler.New(log)

	// Nightly integrity sweep at 03:00
	integrity := scheduler.NewIntegrityJob(accountsRepo, engine, ev, log)
	if err := sched.AddJob("0 0 3 * * *", integrity); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}

	sched.Start()
	defer sched.Stop()

	// Initialize HTTP server
	srv := server.New(server.Config{
		Port:    cfg.Port,
		Log:     log,
		DB:      db,
		Config:  cfg,
		DevMode: cfg.DevMode,

		Auth:         authHandler,
		Accounts:     accountsHandler,
		Transactions: transactionsHandler,
		Trades:       tradesHandler,
		Insights:     insightsHandler,
		Feed:         feedHandler,
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
