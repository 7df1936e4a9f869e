package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/floorwise/collab/internal/api"
	"github.com/floorwise/collab/internal/app"
	iauth "github.com/floorwise/collab/internal/auth"
	"github.com/floorwise/collab/internal/collab"
	"github.com/floorwise/collab/internal/database"
	"github.com/floorwise/collab/internal/history"
	"github.com/floorwise/collab/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("collab-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	var recorder *history.Recorder
	if cfg.History.Enabled {
		db, dbErr := openHistoryDatabase(cfg)
		if dbErr != nil {
			return dbErr
		}
		defer closeDatabase(db, log)

		recorder, err = history.NewRecorder(db)
		if err != nil {
			return fmt.Errorf("initialise history recorder: %w", err)
		}
		defer recorder.Close()
		log.Info("history persistence enabled",
			zap.String("driver", strings.ToLower(strings.TrimSpace(cfg.History.Database.Driver))),
		)
	}

	var coordinatorRecorder collab.Recorder
	if recorder != nil {
		coordinatorRecorder = recorder
	}

	coordinator := collab.NewCoordinator(collab.CoordinatorOptions{
		LockLease:           cfg.Collab.LockLease,
		InactivityThreshold: cfg.Collab.InactivityThreshold,
		Recorder:            coordinatorRecorder,
	})
	defer coordinator.Shutdown()

	sweeper, err := collab.NewSweeper(coordinator, collab.WithSchedule(cfg.Collab.SweepSchedule()))
	if err != nil {
		return fmt.Errorf("initialise sweeper: %w", err)
	}
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sweeper.Stop()

	var jwtService *iauth.JWTService
	if cfg.Auth.Enabled {
		jwtService, err = iauth.NewJWTService(iauth.JWTConfig{
			Secret:   cfg.Auth.JWT.Secret,
			Issuer:   cfg.Auth.JWT.Issuer,
			TokenTTL: cfg.Auth.JWT.TTL,
		})
		if err != nil {
			return fmt.Errorf("initialise jwt service: %w", err)
		}
	} else {
		log.Warn("auth disabled; identity is taken from query parameters")
	}

	router, err := api.NewRouter(cfg, coordinator, jwtService, recorder)
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func openHistoryDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := database.Open(convertDatabaseConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.History.Database.Driver)),
		Path:   strings.TrimSpace(cfg.History.Database.Path),
		DSN:    strings.TrimSpace(cfg.History.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.History.Database.Postgres.Host)
		dbCfg.Port = cfg.History.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.History.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.History.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.History.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.History.Database.MySQL.Host)
		dbCfg.Port = cfg.History.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.History.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.History.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.History.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
