package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/roomchat/internal/api"
	"github.com/npezzotti/roomchat/internal/auth"
	"github.com/npezzotti/roomchat/internal/chat"
	"github.com/npezzotti/roomchat/internal/config"
	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/server"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/npezzotti/roomchat/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 10 * time.Second

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development() {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

func newPhotoStore(ctx context.Context, cfg *config.Config) (storage.PhotoStore, error) {
	if cfg.Upload.Backend == config.UploadS3 {
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    cfg.Upload.S3.Bucket,
			Region:    cfg.Upload.S3.Region,
			Endpoint:  cfg.Upload.S3.Endpoint,
			AccessKey: cfg.Upload.S3.AccessKey,
			SecretKey: cfg.Upload.S3.SecretKey,
		})
	}

	return storage.NewDiskStore(cfg.Upload.Dir, cfg.Upload.BaseURL)
}

func main() {
	// a missing .env file is fine
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := database.NewPgChatRepository(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("db close", zap.Error(err))
		}
	}()

	if err := dbConn.ApplyMigrations(); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	hasher, err := auth.NewPasswordHasher(cfg.PasswordHasher)
	if err != nil {
		return err
	}

	photos, err := newPhotoStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("photo store: %w", err)
	}

	statsUpdater := stats.NewStatsUpdater()

	opts := []server.Option{server.WithVerboseErrors(cfg.Development())}

	var relay *server.RedisRelay
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}

		relay = server.NewRedisRelay(rdb, server.DefaultRelayChannel, logger)
		opts = append(opts, server.WithRelay(relay))
	}

	chatServer, err := server.NewChatServer(logger, chat.NewService(dbConn), statsUpdater, opts...)
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}

	if relay != nil {
		if err := relay.Start(ctx, chatServer.Deliver); err != nil {
			return fmt.Errorf("relay start: %w", err)
		}
		defer relay.Close()
	}

	app, err := api.NewGoChatApp(api.Deps{
		Logger:     logger,
		DB:         dbConn,
		ChatServer: chatServer,
		Codec:      auth.NewJWTCodec(cfg.SigningKey, cfg.TokenTTL),
		Hasher:     hasher,
		Photos:     photos,
		Stats:      statsUpdater,
	}, cfg)
	if err != nil {
		return fmt.Errorf("new app: %w", err)
	}

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", zap.Error(err))
		}
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		return err
	}

	logger.Info("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("chat server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
