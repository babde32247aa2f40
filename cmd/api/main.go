package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"matjip-chat/config"
	"matjip-chat/internal/events"
	"matjip-chat/internal/handler"
	"matjip-chat/internal/redis"
	"matjip-chat/internal/repository"
	"matjip-chat/internal/server"
	"matjip-chat/internal/services"
	"matjip-chat/pkg/database"
	"matjip-chat/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		log.Fatalf("Relay stopped: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, l *logger.Logger) error {
	var (
		repos  repository.Repositories
		checks []func(context.Context) error
	)

	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		repos = repository.NewPostgres(pool)
		checks = append(checks, pool.Ping)
	} else {
		l.Warnf("DATABASE_URL not set, chat state is kept in memory")
		repos = repository.NewMemory().Repositories()
	}

	var (
		bus     events.Bus
		limiter *redis.RateLimiter
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()

		if err := redis.Ping(ctx, client, 5*time.Second); err != nil {
			return err
		}
		bus = events.NewRedisBus(client, l.Named("bus"))
		limiter = redis.NewRateLimiter(client, redis.DefaultRateLimitConfig())
		checks = append(checks, func(ctx context.Context) error {
			return redis.Ping(ctx, client, 2*time.Second)
		})
	} else {
		l.Warnf("REDIS_ADDR not set, fan-out is limited to this node")
		bus = events.NewLocalBus()
	}

	authService := services.NewAuthService(cfg)
	chatService := services.NewChatService(repos, bus, l.Named("chat"))

	hub := server.NewHub(chatService, server.HubOptions{
		Heartbeat: cfg.WSHeartbeat,
		Reconnect: cfg.WSReconnect,
	}, l.Named("ws"))
	bridge := server.NewBridge(bus, hub)

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Auth:      handler.NewAuthHandler(authService),
		Chat:      handler.NewChatHandler(chatService),
		WebSocket: server.NewWebSocketHandler(hub),
	}, server.Dependencies{
		AuthService: authService,
		Users:       chatService,
		Limiter:     limiter,
		Health: func(ctx context.Context) error {
			for _, check := range checks {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := bridge.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			l.Logger.Error("bus bridge stopped", zap.Error(err))
			return err
		}
		return nil
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	return g.Wait()
}
