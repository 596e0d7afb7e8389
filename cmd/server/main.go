// Package main runs the in-memory sandbox backend: REST under /api, room
// events on /ws, graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qbox-live/qbox/config"
	"github.com/qbox-live/qbox/internal/auth"
	"github.com/qbox-live/qbox/internal/realtime"
	"github.com/qbox-live/qbox/internal/sandbox"
	"github.com/qbox-live/qbox/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	opts := sandbox.Options{
		JWT:                auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours),
		Logger:             logger,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}

	// Redis is optional: with it, several sandbox instances share room events.
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		opts.Hub = realtime.NewHub(logger, pubsub, pubsub)
		opts.Redis = rdb
	} else {
		opts.Hub = realtime.NewHub(logger, nil, nil)
		logger.Info("redis disabled, room events stay in this process")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      sandbox.NewRouter(opts),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
