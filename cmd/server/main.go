package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/insider-one/notification-dispatcher/internal/config"
	"github.com/insider-one/notification-dispatcher/internal/delivery"
	"github.com/insider-one/notification-dispatcher/internal/domain"
	"github.com/insider-one/notification-dispatcher/internal/eventbus"
	"github.com/insider-one/notification-dispatcher/internal/handler"
	"github.com/insider-one/notification-dispatcher/internal/middleware"
	"github.com/insider-one/notification-dispatcher/internal/projection"
	"github.com/insider-one/notification-dispatcher/internal/provider"
	"github.com/insider-one/notification-dispatcher/internal/ratelimit"
	"github.com/insider-one/notification-dispatcher/internal/repository/postgres"
	"github.com/insider-one/notification-dispatcher/internal/repository/redis"
	"github.com/insider-one/notification-dispatcher/internal/service"
	"github.com/insider-one/notification-dispatcher/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("notification dispatcher stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.App.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting notification dispatcher",
		"env", cfg.App.Env,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := postgres.Migrate(cfg.Database.URL, logger); err != nil {
		return err
	}

	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	notificationRepo := postgres.NewNotificationRepository(db)
	batchRepo := postgres.NewBatchRepository(db)
	historyRepo := postgres.NewHistoryRepository(db)
	statsRepo := redis.NewStatsRepository(redisClient)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := projection.NewMetrics(registry)

	limiter, err := newRateLimiter(cfg.RateLimit, redisClient, metrics, logger)
	if err != nil {
		return err
	}

	bus := eventbus.New(cfg.Worker.PoolSize*4, logger)
	hub := handler.NewWebSocketHub(logger)

	strategies, err := newStrategies(cfg, limiter, hub, logger)
	if err != nil {
		return err
	}

	processor := worker.NewProcessor(batchRepo, notificationRepo, strategies, bus, logger, cfg.Worker)
	metrics.RegisterQueue(registry, processor)
	sweeper := worker.NewSweeper(batchRepo, processor, logger, cfg.Worker)
	dispatcher := service.NewDispatcher(notificationRepo, batchRepo, strategies, bus, processor, logger)

	var forwarder *eventbus.KafkaForwarder
	if cfg.Kafka.Enabled() {
		forwarder = eventbus.NewKafkaForwarder(cfg.Kafka)
		logger.Info("forwarding events to Kafka", "brokers", strings.Join(cfg.Kafka.Brokers, ","), "topic", cfg.Kafka.Topic)
	}
	if err := subscribe(bus, historyRepo, statsRepo, metrics, hub, forwarder, logger); err != nil {
		return err
	}

	healthHandler := handler.NewHealthHandler()
	healthHandler.AddChecker("postgres", db)
	healthHandler.AddChecker("redis", redisClient)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.Correlation)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger, metrics))

	router.Get("/health", healthHandler.Health)
	router.Get("/health/live", healthHandler.Liveness)
	router.Get("/health/ready", healthHandler.Readiness)

	metricsHandler := handler.NewMetricsHandler(registry, processor, limiter, strategies.Channels(), logger)
	router.Handle("/metrics", metricsHandler.Handler())
	router.Get("/metrics/realtime", metricsHandler.RealtimeMetrics)

	router.Get("/ws", handler.NewWebSocketHandler(hub).HandleWebSocket)

	router.Route("/api/v1", func(r chi.Router) {
		handler.NewNotificationHandler(dispatcher, historyRepo, statsRepo, logger).RegisterRoutes(r)
		handler.NewRateLimitHandler(limiter, logger).RegisterRoutes(r)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// the processor is stopped explicitly so in-flight batches finish after the signal
	if err := processor.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start processor: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := sweeper.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		sweeper.Stop()
		return nil
	})

	g.Go(func() error {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}

		processor.Stop()
		if err := bus.Close(); err != nil {
			logger.Error("event bus close error", "error", err)
		}
		if forwarder != nil {
			if err := forwarder.Close(); err != nil {
				logger.Error("failed to close Kafka writer", "error", err)
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

func newRateLimiter(cfg config.RateLimitConfig, client *redis.Client, metrics *projection.Metrics, logger *slog.Logger) (*ratelimit.RateLimiter, error) {
	overrides, err := ratelimit.ParseOverrides(cfg.Overrides)
	if err != nil {
		return nil, err
	}

	var store ratelimit.WindowStore = ratelimit.NewMemoryStore()
	if strings.EqualFold(cfg.Store, "redis") {
		store = redis.NewWindowStore(client)
	}

	limiter, err := ratelimit.New(store, ratelimit.Config{
		Default:   ratelimit.Limit{MaxRequests: cfg.MaxRequests, Window: cfg.Window},
		Overrides: overrides,
	}, ratelimit.WithObserver(metrics), ratelimit.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	logger.Info("rate limiter configured",
		"store", strings.ToLower(cfg.Store),
		"default", limiter.LimitFor(""),
		"overrides", len(overrides),
	)
	return limiter, nil
}

func newStrategies(cfg *config.Config, limiter delivery.Limiter, pusher provider.InAppPusher, logger *slog.Logger) (*delivery.Registry, error) {
	var email domain.Vendor
	if strings.EqualFold(cfg.Email.Provider, "postmark") {
		pm, err := provider.NewPostmarkProvider(cfg.Email)
		if err != nil {
			return nil, err
		}
		email = pm
	} else {
		email = provider.NewSMTPProvider(cfg.Email)
	}

	channels := []struct {
		channel domain.Channel
		caps    domain.Capabilities
		vendor  domain.Vendor
	}{
		{
			channel: domain.ChannelSystem,
			caps:    domain.DefaultCapabilities(domain.ChannelSystem),
			vendor:  provider.NewSystemProvider(pusher),
		},
		{
			channel: domain.ChannelWhatsApp,
			caps: domain.Capabilities{
				SupportsBatchDelivery: cfg.Channels.WhatsAppBatch,
				RequiresRateLimiting:  cfg.Channels.WhatsAppRateLimit,
			},
			vendor: provider.NewWhatsAppProvider(cfg.WhatsApp),
		},
		{
			channel: domain.ChannelEmail,
			caps: domain.Capabilities{
				SupportsBatchDelivery: cfg.Channels.EmailBatch,
				RequiresRateLimiting:  cfg.Channels.EmailRateLimit,
			},
			vendor: email,
		},
	}

	registry, err := delivery.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, c := range channels {
		s, err := delivery.NewChannelStrategy(c.channel, c.caps, c.vendor, limiter, logger)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(s); err != nil {
			return nil, err
		}
		logger.Info("channel registered",
			"channel", c.channel,
			"batch", c.caps.SupportsBatchDelivery,
			"rate_limited", c.caps.RequiresRateLimiting,
		)
	}
	return registry, nil
}

func subscribe(
	bus *eventbus.Bus,
	history domain.HistoryRepository,
	stats domain.StatsRepository,
	metrics *projection.Metrics,
	hub *handler.WebSocketHub,
	forwarder *eventbus.KafkaForwarder,
	logger *slog.Logger,
) error {
	historyProjection := projection.NewHistoryProjection(history, logger)
	statsProjection := projection.NewStatsProjection(stats)

	for _, t := range []domain.EventType{
		domain.EventNotificationSent,
		domain.EventNotificationFailed,
		domain.EventNotificationDelivered,
	} {
		if err := bus.Subscribe(t, "history", historyProjection.Handle); err != nil {
			return err
		}
		if err := bus.Subscribe(t, "stats", statsProjection.Handle); err != nil {
			return err
		}
	}

	if err := bus.SubscribeAll("metrics", metrics.Handle); err != nil {
		return err
	}
	if err := bus.SubscribeAll("websocket", hub.HandleEvent); err != nil {
		return err
	}
	if forwarder != nil {
		if err := bus.SubscribeAll("kafka", forwarder.Handle); err != nil {
			return err
		}
	}
	return nil
}
