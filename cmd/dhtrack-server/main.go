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
	_ "time/tzdata"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/adapters/httpapi"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/adapters/sqlite"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/app"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/auth"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/buildinfo"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/config"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/logging"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/schedule"
)

func main() {
	configPath := flag.String("config", "", "Fichier de configuration TOML (défaut: $DHT_CONFIG)")
	addr := flag.String("addr", "", "Adresse d'écoute (ex: 127.0.0.1:8080)")
	dbPath := flag.String("db", "", "Chemin SQLite (ex: dhtrack.db)")
	sweepCron := flag.String("sweep-cron", "", "Balayage serveur (ex: @every 1m); vide = désactivé")
	showVersion := flag.Bool("version", false, "Affiche la version et quitte")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Current().String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}
	if *sweepCron != "" {
		cfg.Server.SweepCron = *sweepCron
	}

	logger, closer := logging.New(logging.Options{
		App:        "dhtrack-server",
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	defer func() { _ = closer.Close() }()

	if cfg.Server.JWTSecret == "" {
		logger.Fatal().Msg("server.jwt_secret (DHT_JWT_SECRET) is required")
	}

	logger.Info().Interface("build", buildinfo.Current()).Str("db", cfg.Server.DBPath).Msg("starting")

	ctx := context.Background()
	db, err := sqlite.Open(ctx, cfg.Server.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open db")
	}
	defer func() { _ = db.Close() }()

	bus := memorybus.New()
	defer bus.Close()
	clock := schedule.SystemClock{}
	seriesRepo := sqlite.NewSeriesRepository(db.SQL)
	settingsRepo := sqlite.NewSettingsRepository(db.SQL)
	settingsRepo.Clock = clock
	settingsSvc := app.NewSettingsService(settingsRepo)
	seriesSvc := app.NewSeriesService(seriesRepo, settingsSvc, bus, clock)
	scheduleSvc := app.NewScheduleService(logging.Component(logger, "schedule"), seriesRepo, settingsSvc, bus, clock)
	verifier := auth.NewVerifier(cfg.Server.JWTSecret)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sweeper serveur optionnel: le client déclenche déjà un balayage à chaque chargement.
	sweeper := app.NewSweepScheduler(logging.Component(logger, "sweeper"), scheduleSvc, cfg.Server.SweepCron)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		if err := sweeper.Run(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("spec", cfg.Server.SweepCron).Msg("invalid sweep schedule")
			stop()
		}
	}()

	srv := httpapi.NewServer(logger, seriesSvc, scheduleSvc, settingsSvc, bus, verifier)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("listening")
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
	<-sweepDone
	logger.Info().Msg("bye")
}
