package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anoa.com/fellowship/internal/bootstrap"
	"anoa.com/fellowship/internal/config"
	profileRepo "anoa.com/fellowship/internal/modules/profile/repository"
	"anoa.com/fellowship/internal/server"
	"anoa.com/fellowship/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLog, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Filename:   cfg.LogFilename,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   true,
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends, err := bootstrap.Open(ctx, cfg, appLog.Named("bootstrap"))
	if err != nil {
		appLog.Fatal("open document store", zap.Error(err))
	}
	defer backends.Close(appLog)

	if cfg.IsDevelopment() {
		repo := profileRepo.NewProfileRepository(backends.Store)
		if err := bootstrap.SeedProfiles(ctx, repo, bootstrap.DevProfiles, appLog.Named("seed")); err != nil {
			appLog.Fatal("seed profiles", zap.Error(err))
		}
	}

	srv := server.NewServer(cfg, backends.Store, backends.Redis)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
		appLog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			appLog.Error("http server exited", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("graceful shutdown failed", zap.Error(err))
	}
}
