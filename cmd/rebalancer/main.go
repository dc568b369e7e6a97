package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/aeither/AptosDeFiHub/internal/allocator"
	"github.com/aeither/AptosDeFiHub/internal/config"
	"github.com/aeither/AptosDeFiHub/internal/dex"
	"github.com/aeither/AptosDeFiHub/internal/executor"
	"github.com/aeither/AptosDeFiHub/internal/logger"
	"github.com/aeither/AptosDeFiHub/internal/orchestrator"
	"github.com/aeither/AptosDeFiHub/internal/ratio"
	"github.com/aeither/AptosDeFiHub/internal/reader"
	"github.com/aeither/AptosDeFiHub/internal/scheduler"
	"github.com/aeither/AptosDeFiHub/internal/state"
	"github.com/aeither/AptosDeFiHub/internal/wallet"
	"github.com/aeither/AptosDeFiHub/internal/web"
)

const DEFAULT_LOOP_INTERVAL = 10 * time.Minute

// main is the entry point for the rebalancer service.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("CLMM Rebalancer Starting...")

	// Initialize Database Connection (run history, cycle counter, scheduler flag)
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	params := config.DefaultParameters

	// Load per-pool policies
	poolConfigs, err := config.LoadPoolConfigs()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load pool configurations")
	}
	log.Info().Int("pools", len(poolConfigs)).Msg("Pool configurations loaded")

	// --- 2. Chain Clients (with Safety Switch) ---
	fullnode := dex.NewFullnodeClient(config.FullnodeURL, config.AggregatorURL, config.DexContract, params)

	var txExecutor dex.TxExecutor
	mode := os.Getenv("REBALANCER_MODE")
	if mode == "live" {
		log.Warn().Msg("Initializing in LIVE mode. Real transactions will be broadcast.")
		signer, err := wallet.NewLocalSignerFromEnv(config.AccountAddress)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load signing key")
		}
		txClient := executor.NewClient(config.FullnodeURL, signer)
		txExecutor = executor.NewDedupExecutor(txClient, params.TxDedupCooldown)
	} else {
		log.Fatal().Msg("REBALANCER_MODE is not set to 'live'. Halting to prevent accidental execution. Set REBALANCER_MODE=live to run.")
	}

	var notifier dex.Notifier
	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		notifier = dex.NewWebhookNotifier(url)
	} else {
		notifier = dex.NewLogNotifier()
	}

	// --- 3. Core Components with Dependency Injection ---
	calc := ratio.New(fullnode, params)
	search := allocator.New(fullnode, params)
	rdr := reader.New(fullnode, params)

	orch, err := orchestrator.New(orchestrator.Config{
		Source:   fullnode,
		Builder:  fullnode,
		Executor: txExecutor,
		Notifier: notifier,
		Calc:     calc,
		Search:   search,
		Account:  config.AccountAddress,
		Params:   params,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create orchestrator")
	}

	controller, err := scheduler.New(scheduler.Config{
		Reader:       rdr,
		Orchestrator: orch,
		Source:       fullnode,
		Notifier:     notifier,
		PoolConfigs:  poolConfigs,
		Account:      config.AccountAddress,
		Params:       params,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create batch controller")
	}

	// --- 4. Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}
	webServer := web.NewWebServer(webPort, controller)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server stopped")
		}
	}()

	// --- 5. Scheduler Loop with Graceful Shutdown ---
	interval := DEFAULT_LOOP_INTERVAL
	if raw := os.Getenv("LOOP_INTERVAL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			log.Warn().Str("value", raw).Msg("Invalid LOOP_INTERVAL, using default")
		} else {
			interval = parsed
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("interval", interval.String()).Msg("Starting scheduler loop")
	controller.RunLoop(ctx, interval)

	// Context cancelled: drain the web server before the DB closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Web server shutdown error")
	}
	log.Info().Msg("Shutdown complete")
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
