package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/conduit/internal/api"
	"github.com/edvin/conduit/internal/config"
	"github.com/edvin/conduit/internal/core"
	"github.com/edvin/conduit/internal/db"
	"github.com/edvin/conduit/internal/health"
	"github.com/edvin/conduit/internal/logging"
	"github.com/edvin/conduit/internal/metrics"
	"github.com/edvin/conduit/internal/model"
	"github.com/edvin/conduit/internal/pool"
	"github.com/edvin/conduit/internal/router"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) >= 2 && os.Args[1] == "create-api-key" {
		createAPIKey(os.Args[2:])
		return
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations/core", "Migration files directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	encryptionKey, err := hex.DecodeString(cfg.EncryptionKeyHex)
	if err != nil || len(encryptionKey) != 32 {
		logger.Fatal().Msg("ENCRYPTION_KEY must be 32 bytes of hex")
	}

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer dbPool.Close()
	metrics.RegisterPgxPoolMetrics(dbPool)

	prober := health.NewProbeClient(10*time.Second, logger)
	services := core.NewServices(dbPool, encryptionKey, prober, logger)

	if cfg.CatalogSeedPath != "" {
		n, err := services.Catalog.SeedFromFile(ctx, cfg.CatalogSeedPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.CatalogSeedPath).Msg("catalog seed failed")
		}
		logger.Info().Int("definitions", n).Msg("catalog seeded")
	}

	var executor pool.ActionExecutor
	if cfg.SimulateExecution {
		logger.Warn().Msg("execution is simulated; no connector processes will be spawned")
		executor = &pool.SimulatedExecutor{}
	} else {
		executor = pool.NewMCPExecutor(logger)
	}

	execPool := pool.New(executor, pool.Options{
		MaxUnitsPerUser:  cfg.MaxUnitsPerUser,
		MaxTotalUnits:    cfg.MaxTotalUnits,
		IdleTimeout:      cfg.UnitIdleTimeout,
		SweepInterval:    cfg.PoolSweepEvery,
		ExecutionTimeout: cfg.ExecutionTimeout,
	}, logger)

	broker := router.New(services.APIKey, services.Catalog, services.Vault, services.Usage, execPool, logger)
	srv := api.NewServer(logger, services, broker, dbPool, cfg)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := execPool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting broker API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func createAPIKey(args []string) {
	fs := flag.NewFlagSet("create-api-key", flag.ExitOnError)
	userID := fs.String("user", "", "Owner user ID (required)")
	name := fs.String("name", "", "Name for the API key (required)")
	fs.Parse(args)

	if *userID == "" || *name == "" {
		fmt.Fprintln(os.Stderr, "error: --user and --name are required")
		fmt.Fprintln(os.Stderr, "usage: broker-api create-api-key --user <id> --name <name>")
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbPool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	logger := logging.NewLogger(cfg)
	svc := core.NewAPIKeyService(dbPool, logger)
	key, secret, err := svc.Create(ctx, core.CreateKeyRequest{
		UserID:    *userID,
		Name:      *name,
		ScopeType: model.ScopeAll,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key created successfully.\n\n")
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Printf("  ID:     %s\n", key.ID)
	fmt.Printf("  Key:    %s\n\n", secret)
	fmt.Printf("Save this key — it will not be shown again.\n")
}
