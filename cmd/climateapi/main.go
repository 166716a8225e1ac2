package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lox/climateapi/internal/api"
	"github.com/lox/climateapi/internal/config"
	"github.com/lox/climateapi/internal/logging"
	"github.com/lox/climateapi/internal/store"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "climateapi: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "climateapi: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("climateapi exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, store.Options{
		Path:            cfg.DB,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		OpenRetries:     cfg.DBOpenRetries,
		Logger:          logger.Named("store"),
	})
	if err != nil {
		return err
	}
	defer st.Close()

	server := api.NewServer(st, logger.Named("api"), api.Options{
		Addr:            cfg.Addr,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	return server.Run(ctx)
}
