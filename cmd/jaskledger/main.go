package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jask/jaskledger/internal/api"
	"github.com/jask/jaskledger/internal/config"
	"github.com/jask/jaskledger/internal/database"
	"github.com/jask/jaskledger/internal/importer"
	"github.com/jask/jaskledger/internal/jobs"
	"github.com/jask/jaskledger/internal/ledger"
	"github.com/jask/jaskledger/internal/logger"
	"github.com/jask/jaskledger/internal/notify"
	"github.com/jask/jaskledger/internal/secrets"
	"github.com/jask/jaskledger/internal/service"
)

func main() {
	bootLog := logger.New()
	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}
	log, err := logger.NewWithOptions(os.Stdout, logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Invalid log settings")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	jwtSecret, err := resolveJWTSecret(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("auth.jwt_secret is required (set JASKLEDGER_AUTH_JWT_SECRET or run jaskledger-seed -token)")
	}
	loc, _ := cfg.Import.Location()

	ctx := context.Background()

	db, err := database.OpenMigrated(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open database")
	}
	defer db.Close()

	runner := jobs.NewRunner(log)

	// jobs whose task died stop sending heartbeats; close them now and
	// keep checking while the server runs
	maintenance := &service.MaintenanceService{DB: db, Log: log, StaleAfter: cfg.Import.StaleAfter}
	if _, err := maintenance.RecoverStuckImports(ctx, runner); err != nil {
		log.Fatal().Err(err).Msg("Failed to recover import jobs")
	}
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go maintenance.WatchStuckImports(watchCtx, runner, cfg.Import.StaleAfter)

	notifier, closeNotifier := buildNotifier(ctx, cfg, log)
	defer closeNotifier()

	ledgerSvc := ledger.NewService(db, log)
	importSvc := importer.NewService(db, ledgerSvc, runner, notifier, log, importer.Config{
		PreviewRows:   cfg.Import.PreviewRows,
		MaxRows:       cfg.Import.MaxRows,
		DateLayouts:   cfg.Import.DateLayouts,
		Location:      loc,
		NotifyTimeout: cfg.Import.NotifyTimeout,
	})

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.Deps{
		Ledger:    ledgerSvc,
		Accounts:  ledger.NewAccounts(db),
		Imports:   importSvc,
		JWTSecret: []byte(jwtSecret),
		Log:       log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// running imports stop at their next row boundary and end failed
	if err := runner.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Import tasks did not stop in time")
	}

	log.Info().Msg("Server exited")
}

// resolveJWTSecret prefers the configured secret and falls back to the local
// secret store.
func resolveJWTSecret(cfg config.Config) (string, error) {
	if v := strings.TrimSpace(cfg.Auth.JWTSecret); v != "" {
		return v, nil
	}
	store, err := secrets.DefaultStore()
	if err != nil {
		return "", err
	}
	return store.Get(secrets.JWTSecretName)
}

// buildNotifier always logs events and also publishes them to Redis when an
// address is configured.
func buildNotifier(ctx context.Context, cfg config.Config, log zerolog.Logger) (notify.Notifier, func()) {
	logNotifier := notify.Log{Logger: log}
	if cfg.Notify.RedisAddr == "" {
		return logNotifier, func() {}
	}
	client, err := notify.Dial(ctx, cfg.Notify.RedisAddr)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Notify.RedisAddr).Msg("Redis unavailable; notifications are logged only")
		return logNotifier, func() {}
	}
	log.Info().Str("addr", cfg.Notify.RedisAddr).Str("channel", cfg.Notify.RedisChannel).Msg("Publishing notifications to Redis")
	return notify.Multi{logNotifier, notify.NewRedis(client, cfg.Notify.RedisChannel)}, func() { _ = client.Close() }
}
