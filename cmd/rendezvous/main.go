package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camlink/internal/core/services"
	httphandlers "camlink/internal/handlers/http"
	"camlink/internal/infrastructure/monitoring"
	"camlink/internal/infrastructure/rendezvous"
	repositories "camlink/internal/infrastructure/repositories"
	"camlink/pkg/config"
	"camlink/pkg/logger"
	"camlink/pkg/tracing"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real env vars win either way
	_ = godotenv.Load()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/camlink/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "camlink-rendezvous",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	storeFactory, err := repositories.NewStoreFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create store factory", "error", err)
	}

	sessionStore := storeFactory.CreateSessionStore()
	collector := monitoring.NewPrometheusCollector()

	// The UDP path only consults the store when access control is on.
	accessStore := sessionStore
	if !cfg.Rendezvous.AccessControl {
		accessStore = nil
	}

	server := rendezvous.NewServer(cfg, accessStore, collector, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := server.Start(ctx); err != nil {
		log.Fatalw("failed to start rendezvous server", "error", err)
	}

	// Optional issuance API for the credential-handing collaborator.
	var srv *http.Server
	serverErr := make(chan error, 1)
	if cfg.HTTP.Enabled {
		sessionService := services.NewSessionService(sessionStore, log)
		authService := services.NewAuthService(cfg.HTTP.JWTSecret)

		health := monitoring.NewHealthChecker()
		health.AddCheck("store", storeFactory.HealthCheck, 2*time.Second)

		router := httphandlers.NewRouter(cfg, sessionService, authService, health, log)

		srv = &http.Server{
			Addr:         cfg.HTTP.Address,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			log.Infow("starting issuance API", "address", cfg.HTTP.Address)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("issuance API failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down")

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during issuance API shutdown", "error", err)
		}
		shutdownCancel()
	}

	server.Stop()

	if err := storeFactory.Close(); err != nil {
		log.Errorw("error closing store factory", "error", err)
	}
	if err := tracerProvider.Shutdown(context.Background()); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	log.Info("rendezvous server stopped")
}
