package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"whchat/internal/chat"
	"whchat/internal/config"
	"whchat/internal/db"
	"whchat/internal/httpapi"
	"whchat/internal/logger"
	"whchat/internal/memstore"
	"whchat/internal/metrics"
	"whchat/internal/middleware"
	"whchat/internal/presence"
	"whchat/internal/seed"
	"whchat/internal/user"
	"whchat/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config & Logger
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Setup(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage
	var (
		userRepo  user.Repo
		chatStore chat.Store
		presStore user.PresenceStore
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if err := db.RunMigrations(cfg.DatabaseDSN); err != nil {
			return err
		}
		database, err := db.NewDatabase(ctx, cfg.DatabaseDSN, db.DefaultPoolConfig())
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			_ = database.Close()
		}()
		log.Info("connected to PostgreSQL")
		userRepo = user.NewRepository(database.Conn)
		chatStore = chat.NewRepository(database.Conn)

		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer func() { _ = redisClient.Close() }()
		log.Info("connected to Redis", slog.String("addr", cfg.RedisAddr))
		redisPresence := presence.NewRedisStore(redisClient)
		reset, err := redisPresence.ResetOnline(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		log.Info("stale presence cleared", slog.Int("users", reset))
		presStore = redisPresence

	case config.DriverMemory:
		log.Warn("using in-memory storage, nothing survives a restart")
		userRepo = memstore.NewUsers()
		chatStore = memstore.New()
		presStore = presence.NewMemoryStore()
	}

	if cfg.SeedDemo {
		if err := seed.New(userRepo, chatStore, log).Run(ctx); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	// 3. Metrics & background tasks
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	tasks := worker.NewQueue(worker.Config{
		NumWorkers:     cfg.Workers,
		QueueSize:      cfg.TaskQueueSize,
		MaxRetries:     cfg.TaskMaxRetries,
		BaseRetryDelay: 100 * time.Millisecond,
		MaxRetryDelay:  5 * time.Second,
		TaskTimeout:    cfg.TaskTimeout,
	}, log, collector)
	if err := tasks.Start(context.Background()); err != nil {
		return err
	}

	// 4. Features
	userService := user.NewService(userRepo, presStore, cfg.JWTSecret, cfg.TokenTTL, log)
	userHandler := user.NewHandler(userService, log)

	hub := chat.NewHub(chat.NewRegistry(), userService, collector, log)
	router := chat.NewRouter(hub, chatStore, tasks, collector, log)
	aggregator := chat.NewAggregator(chatStore, userService)
	chatService := chat.NewService(chatStore, userService, router, aggregator, collector, log)

	sendLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(cfg.SendRate),
		Burst:           cfg.SendBurst,
		CleanupInterval: 5 * time.Minute,
	})
	defer sendLimiter.Stop()

	chatHandler := chat.NewHandler(chatService, hub, sendLimiter, cfg.AllowedOrigins(), log)

	// 5. HTTP
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Users:          userHandler,
			Chat:           chatHandler,
			Auth:           middleware.NewAuthMiddleware(userService),
			SendLimiter:    sendLimiter,
			Metrics:        metrics.Handler(reg),
			AllowedOrigins: cfg.AllowedOrigins(),
			Log:            log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	// 6. Graceful shutdown: stop accepting, close live sockets, drain tasks.
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", slog.Any("error", err))
	}
	hub.Shutdown(shutdownCtx)
	if err := tasks.Stop(shutdownCtx); err != nil {
		log.Error("task queue did not drain", slog.Any("error", err))
	}
	log.Info("shutdown complete")
	return nil
}
