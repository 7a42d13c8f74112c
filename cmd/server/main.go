// @title           Mergington High School Activities API
// @version         0.1.0
// @description     Browse extracurricular activities and manage their rosters.
// @basePath        /
// @schemes         http https
//
// @tag.name         Activities
// @tag.description  Activity listing, signup and unregistration.
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated side-channel port (default: 9090), separate from the main listener, so scrapes are never rate limited. Configure the port with MHS_TELEMETRY_METRICS_PROMETHEUS_PORT. The path is always GET /metrics.

// Package main is the entry point for the activities server binary. It dispatches two
// subcommands, serve and version, via a switch on os.Args.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/mergington/activities/internal/api"
	"github.com/mergington/activities/internal/audit"
	"github.com/mergington/activities/internal/config"
	"github.com/mergington/activities/internal/registry"
	"github.com/mergington/activities/internal/safego"
	"github.com/mergington/activities/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		configPath := os.Getenv("CONFIG_PATH")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return serve(cfg, configPath)
	case "version":
		fmt.Printf("Mergington Activities v%s\n", api.Version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, version", command)
	}
}

func serve(cfg *config.Config, configPath string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if configPath != "" {
		err := config.Watch(configPath, func(next *config.Config, e fsnotify.Event) {
			telemetry.SetupLogger(next.Logging.Format, next.Logging.Level)
			slog.Info("logging configuration reloaded", "file", e.Name, "level", next.Logging.Level)
		})
		if err != nil {
			log.Printf("Warning: config hot reload disabled: %v", err)
		}
	}

	reg := registry.New(registry.Seed(),
		registry.WithEmailDomain(cfg.Registry.EmailDomain),
		registry.WithObserver(telemetry.RosterObserver()),
	)
	telemetry.RecordRegistry(reg.List())
	log.Printf("Loaded %d activities (email domain %s)", reg.Len(), reg.EmailDomain())

	var shipper audit.Shipper
	if cfg.Audit.Enabled {
		ms, err := audit.NewMultiShipper(audit.ShipperConfigs(cfg.Audit))
		if err != nil {
			return fmt.Errorf("failed to create audit shippers: %w", err)
		}
		defer ms.Close()
		shipper = ms
		log.Printf("Audit logging enabled with %d shipper(s)", ms.Len())
	}

	// Metrics live on their own port so they are never reachable through the public listener.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		safego.Go("metrics-server", func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	router, bgServices, err := api.NewRouter(cfg, reg, shipper)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", cfg.Server.GetAddress())
		log.Printf("Static files: %s", cfg.Static.Dir)
		log.Printf("Rate limiting: enabled=%v backend=%s", cfg.Security.RateLimiting.Enabled, cfg.Security.RateLimiting.Backend)

		var err error
		if cfg.Security.TLS.Enabled {
			log.Printf("TLS enabled: cert=%s, key=%s", cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		bgServices.Shutdown()
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	shutdownErr := server.Shutdown(ctx)
	// Drains in-flight audit entries; the deferred shipper Close runs after this.
	bgServices.Shutdown()
	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}

	log.Println("Server stopped gracefully")
	return nil
}
