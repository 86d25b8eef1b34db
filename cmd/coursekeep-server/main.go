package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coursekeep/coursekeep/internal/adapters/httpapi"
	"github.com/coursekeep/coursekeep/internal/adapters/memorybus"
	"github.com/coursekeep/coursekeep/internal/adapters/platforms"
	"github.com/coursekeep/coursekeep/internal/adapters/sqlite"
	"github.com/coursekeep/coursekeep/internal/app"
	"github.com/coursekeep/coursekeep/internal/buildinfo"
	"github.com/coursekeep/coursekeep/internal/config"
	"github.com/coursekeep/coursekeep/internal/domain"
)

func main() {
	def := config.Default()
	addr := flag.String("addr", def.Addr, "Adresse d'écoute (ex: 127.0.0.1:8080)")
	dbPath := flag.String("db", def.DBPath, "Chemin SQLite (ex: coursekeep.db)")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", "coursekeep-server").Logger()
	log.Logger = logger

	logger.Info().Interface("build", buildinfo.Current()).Str("db", *dbPath).Msg("starting")

	ctx := context.Background()
	db, err := sqlite.Open(ctx, *dbPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open db")
	}
	defer func() { _ = db.Close() }()

	bus := memorybus.New()
	defer bus.Close()

	cipher := sqlite.NewSecretCipher(def.SecretKey)
	if def.SecretKey == "" {
		logger.Warn().Msg("CK_SECRET_KEY empty, account secrets stored unencrypted")
	}

	accountsRepo := sqlite.NewAccountsRepository(db.SQL, cipher)
	jobsRepo := sqlite.NewJobsRepository(db.SQL)
	settingsRepo := sqlite.NewSettingsRepository(db.SQL)
	settingsSvc := app.NewSettingsService(settingsRepo)

	settings := domain.DefaultSettings()
	if s, err := settingsSvc.Get(ctx); err == nil {
		settings = s
	}

	registry := platforms.NewRegistry(platforms.Options{
		UserAgent: func() string {
			if s, err := settingsSvc.Get(context.Background()); err == nil {
				return s.UserAgent
			}
			return ""
		},
		BrowserHelper: func() string {
			if s, err := settingsSvc.Get(context.Background()); err == nil {
				return s.BrowserHelper
			}
			return ""
		},
	})

	accountsSvc := app.NewAccountService(accountsRepo, registry)
	treeResolver := app.NewTreeResolver(accountsSvc, registry)
	downloadsSvc := app.NewDownloadService(jobsRepo, accountsSvc, settingsSvc, bus)

	// Limiteur par compte, partagé par tous les workers, réglable à chaud.
	limiter := app.NewAccountLimiter(settings.AccountRatePerSec, settings.AccountBurst)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := app.DefaultWorkerOptions()
	opts.Limiter = limiter
	opts.SettingsFunc = settingsSvc.Get

	deps := app.WorkerDeps{
		Jobs:     jobsRepo,
		Accounts: accountsSvc,
		Registry: registry,
		Pipeline: app.NewPipeline(logger.With().Str("component", "pipeline").Logger()),
		Bus:      bus,
	}

	pool := app.NewWorkerPool(shutdownCtx, logger, deps, opts)
	pool.SetCount(settings.MaxWorkers)
	defer pool.Close()
	logger.Info().Int("workers", pool.Count()).Msg("workers started")

	srv := httpapi.NewServer(logger, accountsSvc, treeResolver, downloadsSvc, settingsSvc, registry, bus, func(updated domain.Settings) {
		if updated.MaxWorkers > 0 {
			pool.SetCount(updated.MaxWorkers)
		}
		limiter.SetRate(updated.AccountRatePerSec, updated.AccountBurst)
	})
	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", *addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server crashed")
			stop()
		}
	}()

	<-shutdownCtx.Done()
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	logger.Info().Msg("bye")
}
