package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BardiaPzK/ribooster/internal/api"
	"github.com/BardiaPzK/ribooster/internal/archive"
	"github.com/BardiaPzK/ribooster/internal/config"
	"github.com/BardiaPzK/ribooster/internal/core"
	"github.com/BardiaPzK/ribooster/internal/db"
	"github.com/BardiaPzK/ribooster/internal/events"
	"github.com/BardiaPzK/ribooster/internal/logging"
	"github.com/BardiaPzK/ribooster/internal/metrics"
	"github.com/BardiaPzK/ribooster/internal/model"
	"github.com/BardiaPzK/ribooster/internal/rib"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "issue-token":
			issueToken(os.Args[2:])
			return
		case "migrate":
			migrate(os.Args[2:])
			return
		}
	}

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]api.Pinger{}

	var store core.JobStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations")
		if err := db.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}

		pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.BackupMaxConcurrent*2+4))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		metrics.RegisterPgxPoolMetrics(prometheus.DefaultRegisterer, pool)
		checks["db"] = pool
		store = core.NewPostgresJobStore(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, backup jobs are kept in memory")
		store = core.NewMemoryJobStore()
	}

	archives, err := newArchiveStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up archive storage")
	}

	source := rib.NewClient(rib.Config{
		Host:             cfg.RIBHost,
		Company:          cfg.RIBCompany,
		Username:         cfg.RIBUsername,
		Password:         cfg.RIBPassword,
		Token:            cfg.RIBToken,
		SecureClientRole: cfg.RIBSecureClientRole,
		Timeout:          cfg.RIBTimeout,
		PageSize:         cfg.BackupPageSize,
	}, logger)

	var runnerOpts []core.RunnerOption
	if cfg.RedisAddr != "" {
		notifier, err := events.NewRedisNotifier(ctx, cfg.RedisAddr, cfg.RedisChannel, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer notifier.Close()
		checks["redis"] = notifier
		runnerOpts = append(runnerOpts, core.WithNotifier(notifier))
	}

	runner := core.NewRunner(store, source, archives, logger, core.RunnerConfig{
		MaxConcurrent:  cfg.BackupMaxConcurrent,
		FetchAttempts:  cfg.BackupFetchAttempts,
		RetryBaseDelay: cfg.BackupRetryBaseDelay,
		JobTimeout:     cfg.BackupJobTimeout,
	}, runnerOpts...)

	if err := runner.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to recover backup jobs")
	}

	auth := core.NewAuthService(cfg.JWTSecret, cfg.JWTIssuer)
	services := core.NewServices(store, runner, archives, source, auth, logger)
	srv := api.NewServer(logger, services, checks, cfg)

	// No WriteTimeout: archive downloads can take longer than any fixed limit.
	httpServer := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting portal API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsListenAddr != "" {
		metricsServer = metrics.NewServer(cfg.MetricsListenAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("runner shutdown")
	}
}

func newArchiveStore(cfg *config.Config) (archive.Store, error) {
	if cfg.ArchiveS3Bucket == "" {
		return archive.NewLocalStore(cfg.ArchiveDir)
	}
	client := archive.NewS3Client(archive.S3Options{
		Endpoint:  cfg.ArchiveS3Endpoint,
		Region:    cfg.ArchiveS3Region,
		AccessKey: cfg.ArchiveS3AccessKey,
		SecretKey: cfg.ArchiveS3SecretKey,
	})
	return archive.NewS3Store(client, cfg.ArchiveS3Bucket, cfg.ArchiveS3Prefix, ""), nil
}

func issueToken(args []string) {
	fs := flag.NewFlagSet("issue-token", flag.ExitOnError)
	org := fs.String("org", "", "Organization ID (required)")
	company := fs.String("company", "", "Company ID (required)")
	user := fs.String("user", "", "User ID (required)")
	ttl := fs.Duration("ttl", 12*time.Hour, "Token lifetime")
	fs.Parse(args)

	if *org == "" || *company == "" || *user == "" {
		fmt.Fprintln(os.Stderr, "error: --org, --company and --user are required")
		fmt.Fprintln(os.Stderr, "usage: portal-api issue-token --org <id> --company <id> --user <id> [--ttl 12h]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if len(cfg.JWTSecret) < 32 {
		fmt.Fprintln(os.Stderr, "error: JWT_SECRET must be set and at least 32 bytes")
		os.Exit(1)
	}

	auth := core.NewAuthService(cfg.JWTSecret, cfg.JWTIssuer)
	token, err := auth.IssueToken(model.Scope{OrgID: *org, CompanyID: *company, UserID: *user}, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func migrate(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: portal-api migrate <up|down|status|version|redo|reset> [args]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "error: DATABASE_URL is required")
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.RunGoose(ctx, cfg.DatabaseURL, args[0], args[1:]...); err != nil {
		logger.Fatal().Err(err).Str("command", args[0]).Msg("migration failed")
	}
	logger.Info().Str("command", args[0]).Msg("migration finished")
}
