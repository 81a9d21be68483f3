package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shortlink/internal/allocator"
	"shortlink/internal/analytics"
	"shortlink/internal/auth"
	"shortlink/internal/cache"
	"shortlink/internal/config"
	"shortlink/internal/database"
	"shortlink/internal/domain"
	"shortlink/internal/enrichment"
	httpHandler "shortlink/internal/handler/http"
	"shortlink/internal/jobs"
	"shortlink/internal/quota"
	"shortlink/internal/reaper"
	"shortlink/internal/repository/postgres"
	"shortlink/internal/resolver"
	"shortlink/internal/service"
	"shortlink/pkg/geo"
	"shortlink/pkg/useragent"
)

const version = "1.0.0"

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, redirect endpoint and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, sync := bootstrap()
			defer sync()
			return serve(cfg, log)
		},
	}
}

func serve(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting shortlink service", zap.String("env", cfg.Env), zap.String("version", version))

	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			log.Error("failed to close database connection", zap.Error(err))
		}
	}()

	if cfg.Database.AutoMigrate {
		log.Info("running database migrations (auto_migrate: true)")
		if err := database.AutoMigrate(db, log); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	} else {
		log.Info("skipping database migrations (auto_migrate: false)")
	}

	c, closeCache, err := openCache(&cfg.Cache, log)
	if err != nil {
		return err
	}
	defer closeCache()

	storage := postgres.New(db, log)
	policies := domain.NewPolicies(cfg.Quota.FreeMaxLinks, cfg.Quota.PremiumMaxLinks)
	enforcer := quota.NewEnforcer(policies, log)
	alloc := allocator.New(&cfg.Allocator, policies, log)

	// Click pipeline: redirect -> processor -> transport -> recorder -> store
	devices, err := useragent.NewParser(cfg.Analytics.UARegexesPath, log)
	if err != nil {
		return fmt.Errorf("failed to initialize User-Agent parser: %w", err)
	}
	geoResolver, err := geo.Open(cfg.Geo.DatabasePath, log)
	if err != nil {
		return fmt.Errorf("failed to open geo database: %w", err)
	}
	defer geoResolver.Close()

	recorder := analytics.NewRecorder(storage, devices, geoResolver, log)
	transport, err := newClickTransport(cfg, recorder.Handle, log)
	if err != nil {
		return err
	}
	processor := analytics.NewProcessor(&cfg.Analytics, transport, log)
	if err := processor.Start(); err != nil {
		return fmt.Errorf("failed to start analytics processor: %w", err)
	}
	defer func() {
		if err := processor.Stop(); err != nil {
			log.Error("failed to stop analytics processor", zap.Error(err))
		}
		if err := transport.Close(); err != nil {
			log.Error("failed to close click transport", zap.Error(err))
		}
	}()

	var enricher service.Enricher
	if cfg.Enrichment.Enabled {
		orchestrator := enrichment.NewOrchestrator(&cfg.Enrichment, enrichment.NewPreviewClient(&cfg.Enrichment), storage, c, log)
		if err := orchestrator.Start(); err != nil {
			return fmt.Errorf("failed to start enrichment orchestrator: %w", err)
		}
		defer func() {
			if err := orchestrator.Stop(); err != nil {
				log.Error("failed to stop enrichment orchestrator", zap.Error(err))
			}
		}()
		enricher = orchestrator
	}

	if cfg.Reaper.Enabled {
		runner := jobs.NewRunner(log, reaper.New(storage, c, enforcer, &cfg.Reaper, log))
		if err := runner.Start(); err != nil {
			return fmt.Errorf("failed to start job runner: %w", err)
		}
		defer runner.Stop()
	}

	links := service.NewLinkService(storage, c, alloc, enforcer, enricher, &cfg.Links, log)
	res := resolver.New(c, storage, &cfg.Cache, log)
	authMiddleware := auth.NewMiddleware(auth.NewJWTService(&cfg.Auth), cfg.HTTPServer.AllowedOrigins, log)
	health := httpHandler.NewHealthHandler(storage, c, processor, version, log)

	server := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      httpHandler.NewServer(links, res, processor, health, authMiddleware, log, cfg.HTTPServer.BaseURL).SetupRoutes(),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down shortlink service", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("HTTP server failed", zap.Error(err))
	}

	// Stop accepting redirects first so the click queue can drain
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown HTTP server", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	return nil
}

func newClickTransport(cfg *config.Config, handle analytics.Handler, log *zap.Logger) (analytics.Transport, error) {
	switch cfg.Analytics.Transport {
	case "jetstream":
		t, err := analytics.NewJetStreamTransport(&cfg.NATS, handle, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect click transport: %w", err)
		}
		return t, nil
	case "local", "":
		return analytics.NewLocalTransport(&cfg.Analytics, handle, log), nil
	default:
		return nil, fmt.Errorf("unsupported analytics transport %q", cfg.Analytics.Transport)
	}
}

func openCache(cfg *config.Cache, log *zap.Logger) (cache.Cache, func(), error) {
	switch cfg.Backend {
	case "memory":
		log.Info("using in-process link cache")
		return cache.NewMemoryCache(cfg.CleanupInterval), func() {}, nil
	case "redis", "":
		client := cache.NewRedisClient(cfg)
		rc := cache.NewRedisCache(client)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rc.Ping(ctx); err != nil {
			_ = rc.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("connected to redis link cache", zap.String("addr", cfg.RedisAddr))
		return rc, func() {
			if err := rc.Close(); err != nil {
				log.Error("failed to close redis client", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}
