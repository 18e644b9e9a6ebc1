package server

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/idbridge/idbridge/internal/api"
	"github.com/idbridge/idbridge/internal/audit"
	"github.com/idbridge/idbridge/internal/config"
)

// RunServer loads configuration and runs the API server until interrupted
func RunServer(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := newLogger(cfg)

	// Prefer the latest configuration from the storage backend when one
	// is configured, so rollbacks take effect without touching the file.
	if cfg.Storage != nil {
		backend, err := config.NewStorageBackend(cfg.Storage)
		if err != nil {
			log.WithError(err).Warn("failed to create storage backend, using file config")
		} else if latest, err := backend.Load(); err != nil {
			log.WithError(err).Warn("failed to load config from storage backend, using file config")
		} else {
			latest.Storage = cfg.Storage
			cfg = latest
		}
	}

	srv, err := api.NewServer(cfg, log)
	if err != nil {
		logrus.Fatalf("Failed to create server: %v", err)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(); err != nil {
			log.WithError(err).Error("Error during shutdown")
		}
		audit.Close()
		os.Exit(0)
	}()

	log.WithField("port", cfg.Server.Port).Info("Starting API server")
	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		logrus.Fatalf("Server error: %v", err)
	}

	return nil
}

// newLogger builds the process logger from the logging configuration
func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Logging.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
