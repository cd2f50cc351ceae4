package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kilnworks/kiln/api"
	"github.com/kilnworks/kiln/cache"
	"github.com/kilnworks/kiln/config"
	"github.com/kilnworks/kiln/db"
	"github.com/kilnworks/kiln/middleware"
	"github.com/kilnworks/kiln/providers"
	"github.com/kilnworks/kiln/services"
	"github.com/kilnworks/kiln/stores"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func printStep(step, message string) {
	fmt.Printf("%s[%s]%s %s%s%s\n", colorBlue, step, colorReset, colorBold, message, colorReset)
}

func printSuccess(message string) {
	fmt.Printf("%s✓%s %s\n", colorGreen, colorReset, message)
}

func printWarning(message string) {
	fmt.Printf("%s⚠%s %s\n", colorYellow, colorReset, message)
}

func printError(message string) {
	fmt.Printf("%s✗%s %s\n", colorRed, colorReset, message)
}

func main() {
	fmt.Printf("%s%sKiln: mint reservation and settlement engine%s\n\n", colorCyan, colorBold, colorReset)

	printStep("1/8", "Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		printError(fmt.Sprintf("Failed to load configuration: %v", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		printError(fmt.Sprintf("Configuration validation failed: %v", err))
		os.Exit(1)
	}
	printSuccess("Configuration loaded")

	printStep("2/8", "Connecting to database...")
	// TranslateError maps driver errors onto gorm's sentinel errors; the
	// stores match gorm.ErrDuplicatedKey to detect idempotency-key races.
	gdb, err := gorm.Open(postgres.Open(cfg.GetDatabaseURL()), &gorm.Config{TranslateError: true})
	if err != nil {
		printError(fmt.Sprintf("Failed to connect to database: %v", err))
		os.Exit(1)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		printError(fmt.Sprintf("Failed to get database instance: %v", err))
		os.Exit(1)
	}
	defer sqlDB.Close()
	printSuccess(fmt.Sprintf("Connected to PostgreSQL at %s:%d", cfg.Database.Host, cfg.Database.Port))

	printStep("3/8", "Applying schema migrations...")
	migrator := db.CreateMigrator(gdb)
	db.RegisterMigrations(migrator)
	if err := migrator.Up(); err != nil {
		printError(fmt.Sprintf("Migrations failed: %v", err))
		os.Exit(1)
	}
	printSuccess("Schema is current")

	printStep("4/8", "Connecting to Redis...")
	redisCache, err := cache.CreateRedisCache(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	})
	if err != nil {
		printWarning(fmt.Sprintf("Failed to connect to Redis: %v (continuing without cache)", err))
		redisCache = nil
	} else {
		defer redisCache.Close()
		printSuccess(fmt.Sprintf("Connected to Redis at %s:%d", cfg.Redis.Host, cfg.Redis.Port))
	}

	printStep("5/8", "Initializing payment network and price oracle...")
	network := providers.CreateSolanaNetwork(cfg.Solana.RPCURL, cfg.Solana.Treasury)

	var oracleClient *redis.Client
	if redisCache != nil {
		oracleClient = redisCache.Client()
	}
	oracle := providers.CreateHTTPOracle(cfg.Oracle.Endpoint, cfg.Oracle.Timeout, oracleClient)
	printSuccess(fmt.Sprintf("Network RPC %s, oracle %s", cfg.Solana.RPCURL, cfg.Oracle.Endpoint))

	printStep("6/8", "Initializing stores and services...")
	itemStore := stores.CreateItemStore(gdb)
	requestStore := stores.CreateMintRequestStore(gdb)
	collectionStore := stores.CreateCollectionStore(gdb)
	transactionStore := stores.CreateMintTransactionStore(gdb)

	fees := services.CreateFeeCalculator(oracle, cfg.Oracle.FallbackRate, cfg.Fees.Floor, cfg.Fees.Ceiling)
	mintService := services.CreateMintService(itemStore, requestStore, collectionStore, network, fees, cfg.Solana.Treasury, cfg.Mint.MaxBatch)
	settlementService := services.CreateSettlementService(itemStore, requestStore, collectionStore, transactionStore, itemStore, network)
	sweepService := services.CreateSweepService(requestStore, itemStore, settlementService, network, itemStore, services.SweepConfig{
		Interval:       cfg.Sweep.Interval,
		VerifyTimeout:  cfg.Sweep.VerifyTimeout,
		AbandonTimeout: cfg.Sweep.AbandonTimeout,
		BatchSize:      cfg.Sweep.BatchSize,
	})
	printSuccess("Services initialized")

	printStep("7/8", "Starting reconciliation sweep...")
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweepService.Run(sweepCtx)
	printSuccess(fmt.Sprintf("Sweep running every %s", cfg.Sweep.Interval))

	printStep("8/8", "Setting up HTTP server...")
	mintHandler := api.CreateMintHandler(mintService, settlementService)
	collectionHandler := api.CreateCollectionHandler(collectionStore, redisCache)
	historyHandler := api.CreateHistoryHandler(transactionStore)
	healthHandler := api.CreateHealthHandler(gdb, redisCache, network)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.RecoveryMiddleware)
	allowedOrigins := []string{"http://localhost:3000", "http://localhost:8080"}
	router.Use(middleware.CORSMiddleware(allowedOrigins))

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.RateLimitMiddleware(rate.Limit(50), 100))

	apiRouter.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	apiRouter.HandleFunc("/mint", mintHandler.HandleMint).Methods("POST")
	apiRouter.HandleFunc("/mint/confirm", mintHandler.HandleConfirm).Methods("POST")
	apiRouter.HandleFunc("/collections/{id}", collectionHandler.HandleGetCollection).Methods("GET")
	apiRouter.HandleFunc("/buyers/{address}/mints", historyHandler.HandleListByBuyer).Methods("GET")
	apiRouter.HandleFunc("/mints/{key}", historyHandler.HandleGetByKey).Methods("GET")

	server := &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	printSuccess("HTTP server configured")

	go func() {
		fmt.Printf("%sℹ%s Listening on port %s\n", colorCyan, colorReset, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			printError(fmt.Sprintf("Server failed to start: %v", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println()
	printWarning("Shutting down...")

	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		printError(fmt.Sprintf("Server forced to shutdown: %v", err))
		os.Exit(1)
	}

	printSuccess("Stopped cleanly")
}
