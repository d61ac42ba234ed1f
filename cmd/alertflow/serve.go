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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/akmatori/alertflow/internal/alerts/adapters"
	"github.com/akmatori/alertflow/internal/config"
	"github.com/akmatori/alertflow/internal/events"
	"github.com/akmatori/alertflow/internal/handlers"
	"github.com/akmatori/alertflow/internal/ingest"
	"github.com/akmatori/alertflow/internal/jobs"
	"github.com/akmatori/alertflow/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(getConfig func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook intake and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, getConfig())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.WithField("version", handlers.Version).Info("Starting alertflow")

	hub := events.NewHub()
	defer hub.Close()

	a, err := newApp(cfg, hub)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.CatalogFile != "" {
		if err := a.seedCatalog(ctx, cfg.CatalogFile); err != nil {
			return fmt.Errorf("failed to seed catalog: %w", err)
		}
	}

	handler, err := buildHTTPHandler(a)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	escalationWorker := jobs.NewEscalationWorker(a.svc.Escalation, cfg.EscalationWorkers)
	reaper := jobs.NewGroupReaper(a.db, a.svc.Grouping, a.metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("Shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		escalationWorker.Start(cfg.EscalationInterval, gctx.Done())
		return nil
	})
	g.Go(func() error {
		reaper.Start(cfg.GroupReaperInterval, gctx.Done())
		return nil
	})
	if cfg.MQTTBroker != "" {
		source := ingest.NewMQTTSource(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic, a.svc.Grouping, a.metrics)
		g.Go(func() error {
			return source.Run(gctx)
		})
	}

	err = g.Wait()
	log.Info("alertflow stopped")
	return err
}

func buildHTTPHandler(a *app) (http.Handler, error) {
	cfg := a.cfg
	var passwordHash string
	if cfg.AuthEnabled {
		hash, err := middleware.HashPassword(cfg.AdminPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to hash admin password: %w", err)
		}
		passwordHash = hash
		log.WithField("username", cfg.AdminUsername).Info("JWT authentication enabled")
	} else {
		log.Warn("Authentication is disabled; the management API is open")
	}

	jwtAuth := middleware.NewJWTAuthMiddleware(middleware.JWTAuthConfig{
		Enabled:           cfg.AuthEnabled,
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: passwordHash,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiryHours:    cfg.JWTExpiryHours,
		SkipPaths: []string{
			"/health",
			"/metrics",
			"/auth/login",
			"/webhook/*",
		},
	})

	alertHandler := handlers.NewAlertHandler(a.svc.Sources, a.svc.Grouping, a.metrics)
	alertHandler.RegisterAdapter(adapters.NewAlertmanagerAdapter())
	alertHandler.RegisterAdapter(adapters.NewGrafanaAdapter())
	alertHandler.RegisterAdapter(adapters.NewZabbixAdapter())
	alertHandler.RegisterAdapter(adapters.NewDatadogAdapter())

	mux := http.NewServeMux()
	handlers.NewHTTPHandler(alertHandler, a.metrics.Handler(), func(ctx context.Context) error {
		sqlDB, err := a.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}).SetupRoutes(mux)
	handlers.NewAuthHandler(jwtAuth).SetupRoutes(mux)
	handlers.NewAPIHandler(a.db, a.svc, a.hub, cfg.AuthEnabled).SetupRoutes(mux)

	var handler http.Handler = mux
	handler = jwtAuth.Wrap(handler)
	handler = middleware.NewCORS(cfg.CORSAllowedOrigins)(handler)
	handler = middleware.AccessLog(handler)
	handler = middleware.RequestIDMiddleware(handler)
	return handler, nil
}
