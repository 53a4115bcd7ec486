package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hfacundo/crypto-listener-rest-sub000/config"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/adjust"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/api"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/database"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/fleet"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/guard"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/guardian"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/livetrade"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/price"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/rules"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/symbols"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:     cfg.LoggingConfig.Level,
		Output:    cfg.LoggingConfig.Output,
		AlertPath: cfg.LoggingConfig.AlertPath,
		Component: "main",
	})
	logging.SetDefault(logger)
	logger.Info("structured logging initialized", "level", cfg.LoggingConfig.Level)

	ctx := context.Background()

	// Database: trade records, history, user rules
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	// Redis: live-trade mirror and shared price cache. Optional; the
	// stores degrade to process-local memory without it.
	var rdb *redis.Client
	if cfg.RedisConfig.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, stores fall back to memory", "error", err)
		}
	}

	// Credentials: Vault when enabled, environment pairs otherwise
	secrets, err := vault.NewClient(vault.Config{
		Enabled:    cfg.VaultConfig.Enabled,
		Address:    cfg.VaultConfig.Address,
		Token:      cfg.VaultConfig.Token,
		MountPath:  cfg.VaultConfig.MountPath,
		SecretPath: cfg.VaultConfig.SecretPath,
	})
	if err != nil {
		logger.Error("vault client failed", "error", err)
		os.Exit(1)
	}
	for _, id := range cfg.UsersConfig.IDs {
		if apiKey, secretKey := config.EnvCredentials(id); apiKey != "" && secretKey != "" {
			secrets.Seed(fleet.Credentials{UserID: id, APIKey: apiKey, SecretKey: secretKey})
		}
	}
	creds, err := secrets.FleetCredentials(ctx, cfg.UsersConfig.IDs)
	if err != nil {
		logger.Error("credential load failed", "error", err)
		os.Exit(1)
	}

	fl, err := fleet.New(creds, cfg.VenueConfig.TestNet, logger.WithComponent("venue"))
	if err != nil {
		logger.Error("fleet init failed", "error", err)
		os.Exit(1)
	}
	logger.Info("fleet ready", "users", fl.Size(), "testnet", cfg.VenueConfig.TestNet)

	// Market data and symbol specs are shared across users; the first
	// user's client carries the public endpoints.
	marketClient := fl.Users[0].Client
	specs := symbols.NewCache(marketClient, logger.WithComponent("symbols"))
	prices := price.NewView(marketClient, rdb, logger.WithComponent("price"))

	tradeRepo := database.NewTradeRepo(db)
	historyRepo := database.NewHistoryRepo(db)
	rulesRepo := rules.NewRepo(db)
	live := livetrade.NewStore(rdb, logger.WithComponent("livetrade"))

	engine := rules.NewEngine(historyRepo, logger.WithComponent("rules"))
	positionGuard := guard.New(specs, prices, tradeRepo, live, logger.WithComponent("guard"))
	adjuster := adjust.New(specs, prices, live, logger.WithComponent("adjust"))
	dispatcher := guardian.New(fl, rulesRepo, prices, positionGuard, adjuster, logger.WithComponent("guardian"))

	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		ProductionMode: cfg.ServerConfig.ProductionMode,
	}, fl, rulesRepo, engine, positionGuard, dispatcher, db, rdb, logger.WithComponent("api"))

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logger.Warn("redis close failed", "error", err)
		}
	}
	logger.Info("shutdown complete")
}
