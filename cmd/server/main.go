// myDrive Server
//
// Features:
// - Per-tenant file browser API (list, upload, folders, rename, move, delete)
// - Public share links (files and zipped folders)
// - SSE and WebSocket change notifications
// - WebDAV access to each tenant's tree
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/AlexanderSatryo135/myDrive/internal/api"
	"github.com/AlexanderSatryo135/myDrive/internal/auth"
	"github.com/AlexanderSatryo135/myDrive/internal/config"
	"github.com/AlexanderSatryo135/myDrive/internal/database"
	"github.com/AlexanderSatryo135/myDrive/internal/diskusage"
	"github.com/AlexanderSatryo135/myDrive/internal/events"
	"github.com/AlexanderSatryo135/myDrive/internal/fileops"
	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/metrics"
	"github.com/AlexanderSatryo135/myDrive/internal/retry"
	"github.com/AlexanderSatryo135/myDrive/internal/sharing"
	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
)

func main() {
	configPath := flag.String("config", os.Getenv("MYDRIVE_CONFIG"), "Path to a YAML config file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("myDrive server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("storage", cfg.StorageRoot))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot-reload the log level when the config file changes
	if cfg.Watch(func(next *config.Config) {
		if next.LogLevel != logging.Level() {
			logging.SetLevel(next.LogLevel)
			logging.Info("log level changed", zap.String("level", next.LogLevel))
		}
	}, func(err error) {
		logging.Warn("ignoring invalid config change", zap.Error(err))
	}) {
		logging.Info("watching config file", zap.String("file", cfg.FileUsed()))
	}

	// Storage roots
	roots, err := vfs.NewRoots(cfg.StorageRoot)
	if err != nil {
		logging.Fatal("storage root init failed", zap.Error(err))
	}

	// Database
	logging.Info("opening database...")
	store, err := database.Connect(ctx, cfg.DatabaseURL, retry.DefaultBackoff())
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	logging.Info("running migrations...", zap.String("driver", store.Driver()))
	if err := store.Migrate(ctx); err != nil {
		logging.Fatal("migration failed", zap.Error(err))
	}

	db := store.DB()
	authHandler := auth.New(db, cfg.JWTSecret, cfg.TokenTTL)

	// Change notifications fan out to SSE and WebSocket subscribers
	broadcaster := events.NewBroadcaster()
	logging.Info("event broadcaster initialized")

	files := fileops.New(roots, broadcaster)
	shareLinks := sharing.NewStore(db)

	srv := api.NewServer(cfg, store, roots, files, shareLinks, authHandler, broadcaster)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	if cfg.MetricsAddr != "" {
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("forcing server close", zap.Error(err))
			httpServer.Close()
		}
		metricsServer.Close()
	}()

	// Start periodic metrics update
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			store.UpdateConnectionMetrics()
			diskusage.Of(roots.Base())
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	if useTLS {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}
