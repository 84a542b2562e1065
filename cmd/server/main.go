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

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Darkvarin/Learnyzer-sub003/internal/api"
	"github.com/Darkvarin/Learnyzer-sub003/internal/app"
	"github.com/Darkvarin/Learnyzer-sub003/internal/app/maintenance"
	iauth "github.com/Darkvarin/Learnyzer-sub003/internal/auth"
	"github.com/Darkvarin/Learnyzer-sub003/internal/battle"
	"github.com/Darkvarin/Learnyzer-sub003/internal/database"
	"github.com/Darkvarin/Learnyzer-sub003/internal/realtime"
	"github.com/Darkvarin/Learnyzer-sub003/internal/services"
	"github.com/Darkvarin/Learnyzer-sub003/pkg/logger"
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
	fs := flag.NewFlagSet("learnyzer-battle", flag.ContinueOnError)
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

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	cfg.Auth.JWT.Secret = strings.TrimSpace(cfg.Auth.JWT.Secret)
	if cfg.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}

	resultSvc, err := services.NewBattleResultService(db)
	if err != nil {
		return fmt.Errorf("initialise battle result service: %w", err)
	}

	registry := realtime.NewRegistry()
	manager := battle.NewManager(
		battleConfig(cfg),
		registry,
		services.NewEntitlementService(),
		services.NewCompletionJudge(),
		resultSvc,
	)

	cleaner := maintenance.NewCleaner(registry, manager,
		maintenance.WithIdleTimeout(cfg.Battle.IdleTimeout))
	if err := cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		stopCtx := cleaner.Stop()
		if err := cleaner.RunOnce(stopCtx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}()

	router, err := api.NewRouter(db, jwtService, cfg, registry, manager, resultSvc)
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

	var errs error
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = multierr.Append(errs, fmt.Errorf("graceful shutdown: %w", err))
	}

	if err, ok := <-serverErr; ok && err != nil {
		errs = multierr.Append(errs, fmt.Errorf("server error: %w", err))
	}
	if errs != nil {
		return errs
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

func battleConfig(cfg *app.Config) battle.Config {
	out := battle.DefaultConfig()
	if cfg.Battle.Deadline > 0 {
		out.Deadline = cfg.Battle.Deadline
	}
	if cfg.Battle.GracePeriod > 0 {
		out.GracePeriod = cfg.Battle.GracePeriod
	}
	if cfg.Battle.StaleFormingAge > 0 {
		out.StaleFormingAge = cfg.Battle.StaleFormingAge
	}
	if cfg.Battle.MaxParticipants > 0 {
		out.MaxParticipants = cfg.Battle.MaxParticipants
	}
	if cfg.Battle.ChatHistory > 0 {
		out.ChatHistory = cfg.Battle.ChatHistory
	}
	if cfg.Battle.FanoutConcurrency > 0 {
		out.FanoutConcurrency = cfg.Battle.FanoutConcurrency
	}
	if cfg.Battle.JudgeTimeout > 0 {
		out.JudgeTimeout = cfg.Battle.JudgeTimeout
	}
	out.StrictProgress = cfg.Battle.StrictProgress
	return out
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := database.Config{
		Driver:   strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:     strings.TrimSpace(cfg.Database.Path),
		DSN:      strings.TrimSpace(cfg.Database.DSN),
		Host:     strings.TrimSpace(cfg.Database.Host),
		Port:     cfg.Database.Port,
		Name:     strings.TrimSpace(cfg.Database.Name),
		User:     strings.TrimSpace(cfg.Database.Username),
		Password: strings.TrimSpace(cfg.Database.Password),
	}

	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("database close failed", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}
