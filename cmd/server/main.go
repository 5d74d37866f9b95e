package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vlsi/ksar/internal/api"
	"github.com/vlsi/ksar/internal/config"
	"github.com/vlsi/ksar/internal/logging"
	"github.com/vlsi/ksar/internal/models"
	"github.com/vlsi/ksar/internal/parser"
	"github.com/vlsi/ksar/internal/session"
	"github.com/vlsi/ksar/internal/storage"
	"github.com/vlsi/ksar/internal/upload"
	"go.uber.org/zap"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	// Load XML configuration
	configPath := filepath.Join(exeDir, "ksar.config.xml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Advanced.LogLevel, cfg.Advanced.LogFile)
	if err != nil {
		fmt.Printf("Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, configPath, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, configPath string, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	var persist *session.PersistentParsedStore
	if cfg.Storage.EnablePersistence {
		persist, err = session.NewPersistentParsedStore(cfg.Storage.ParsedDataDirectory, log)
		if err != nil {
			return fmt.Errorf("failed to initialize parsed store: %w", err)
		}
	}

	registry := session.NewRegistry(fileStore, persist, session.Options{
		DateFormat:          cfg.Parsing.DateFormat,
		MaxReportedErrors:   cfg.Parsing.MaxReportedLineErrors,
		MaxConcurrentParses: cfg.Processing.MaxConcurrentParses,
	}, log)

	restored, err := registry.Restore(ctx)
	if err != nil {
		log.Warn("failed to restore parsed reports", zap.Error(err))
	} else if restored > 0 {
		log.Info("restored parsed reports", zap.Int("count", restored))
	}

	// Chunked uploads are parsed once assembled
	uploadMgr := upload.NewManager(fileStore, func(info *models.FileInfo) {
		if _, err := registry.StartParse(info.ID); err != nil {
			log.Warn("failed to start parse", zap.String("file_id", info.ID), zap.Error(err))
		}
	}, log)

	go cleanupLoop(ctx, cfg, registry, uploadMgr)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.SetupMiddleware(e, cfg, log)
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:    fileStore,
		Registry: registry,
		Jobs:     uploadMgr,
		Config:   cfg,
		Version:  Version,
		Logger:   log,
	}))

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      e,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	log.Info("ksar server starting",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("config", configPath),
		zap.String("listen", "http://"+cfg.GetServerAddr()),
		zap.String("data_dir", cfg.Storage.DataDirectory),
		zap.Strings("dialects", parser.GetGlobalRegistry().Names()),
		zap.Bool("persistence", persist != nil),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	registry.Wait()
	return nil
}

// cleanupLoop drops finished parse sessions and upload jobs past the session timeout.
func cleanupLoop(ctx context.Context, cfg *config.AppConfig, registry *session.Registry, uploads *upload.Manager) {
	interval := time.Duration(cfg.Processing.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	maxAge := time.Duration(cfg.Processing.SessionTimeoutMinutes) * time.Minute
	if maxAge <= 0 {
		maxAge = session.SessionMaxAge
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			registry.CleanupOldSessions(maxAge)
			uploads.CleanupOldJobs(maxAge)
		case <-ctx.Done():
			return
		}
	}
}
