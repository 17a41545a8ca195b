package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/park285/gtp-ogs-bot/internal/botbuilder"
	appcfg "github.com/park285/gtp-ogs-bot/internal/config"
	"github.com/park285/gtp-ogs-bot/internal/obslog"
)

func main() {
	// .env is optional; real environment wins
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	err := run()
	obslog.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run() error {
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Error("config_error", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := botbuilder.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("init_error", zap.Error(err))
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("close_error", zap.Error(err))
		}
	}()

	logger.Info("bot_starting",
		zap.String("bot_type", cfg.BotType),
		zap.String("ogs", cfg.OGSBaseURL),
		zap.Bool("checkpoints", deps.Store != nil),
	)
	if err := deps.Manager.Run(ctx); err != nil {
		logger.Error("bot_exited", zap.Error(err))
		return err
	}
	logger.Info("bot_stopped")
	return nil
}
