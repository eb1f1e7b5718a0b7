package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/good-food-maalsi/franchise-service/internal/cache"
	"github.com/good-food-maalsi/franchise-service/internal/client"
	"github.com/good-food-maalsi/franchise-service/internal/config"
	"github.com/good-food-maalsi/franchise-service/internal/consumer"
	"github.com/good-food-maalsi/franchise-service/internal/db"
	"github.com/good-food-maalsi/franchise-service/internal/discovery"
	"github.com/good-food-maalsi/franchise-service/internal/handlers"
	"github.com/good-food-maalsi/franchise-service/internal/logger"
	"github.com/good-food-maalsi/franchise-service/internal/messaging"
	"github.com/good-food-maalsi/franchise-service/internal/metrics"
	"github.com/good-food-maalsi/franchise-service/internal/publisher"
	"github.com/good-food-maalsi/franchise-service/internal/resolver"
	"github.com/good-food-maalsi/franchise-service/internal/stock"
	"github.com/good-food-maalsi/franchise-service/internal/telemetry"
)

const attemptsTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync() //nolint:errcheck

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("Stock consumer stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	if err := telemetry.SetupSentry(cfg); err != nil {
		zlog.Warn("⚠️ Sentry disabled", zap.Error(err))
	}
	defer telemetry.SentryFlush()

	m := metrics.NewRegistry()

	// Connect to PostgreSQL
	database, err := db.NewPostgresDB(ctx, cfg.DatabaseURL, zlog)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(ctx, database, zlog); err != nil {
		return err
	}

	// Redis is optional: catalog cache and shared attempt counter
	var (
		redisCache *cache.RedisCache
		attempts   consumer.Attempts = consumer.NewMemoryAttempts()
	)
	if cfg.RedisURL != "" {
		redisCache, err = cache.NewRedisCache(ctx, cfg.RedisURL, cfg.CatalogCacheTTL, zlog)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		attempts = cache.NewRedisAttempts(redisCache.Client(), attemptsTTL)
	}

	// Consul is optional: catalog discovery and self registration
	catalogURL := cfg.CatalogURL
	var consul *discovery.ConsulClient
	if cfg.ConsulAddr != "" {
		consul, err = discovery.NewConsulClient(cfg.ConsulAddr, zlog)
		if err != nil {
			return err
		}
		catalogURL = consul.ServiceURLOr(cfg.CatalogServiceName, cfg.CatalogURL)
	}

	var catalog resolver.ItemCatalog = client.NewCatalogClient(catalogURL, cfg.CatalogTimeout)
	if redisCache != nil {
		catalog = client.NewCachedCatalogClient(client.NewCatalogClient(catalogURL, cfg.CatalogTimeout), redisCache, zlog)
	}

	// RabbitMQ: one session for consuming, one for publishing
	consumerMQ := messaging.NewRabbitMQ(rabbitOptions(cfg, "stock-consumer", cfg.Prefetch, m), zlog)
	if err := consumerMQ.DeclareTopology(messaging.Topology{
		Exchange:   cfg.ConsumerExchange,
		Queue:      cfg.ConsumerQueue,
		RoutingKey: cfg.OrderCreatedKey,
	}); err != nil {
		return err
	}
	if cfg.MaxDeliveries > 0 {
		if err := consumerMQ.DeclareTopology(messaging.Topology{
			Exchange:   cfg.DeadLetterExchange,
			Queue:      cfg.DeadLetterQueue,
			RoutingKey: cfg.OrderCreatedKey,
		}); err != nil {
			return err
		}
	}
	if err := consumerMQ.Start(ctx); err != nil {
		return err
	}
	defer consumerMQ.Close()

	publisherMQ := messaging.NewRabbitMQ(rabbitOptions(cfg, "franchise-publisher", 0, m), zlog)
	if err := publisherMQ.DeclareTopology(messaging.Topology{Exchange: cfg.PublisherExchange}); err != nil {
		return err
	}
	// Publishing is best effort: events are dropped until the session is up
	publisherMQ.StartAsync(ctx)
	defer publisherMQ.Close()

	events := publisher.NewEventPublisher(publisherMQ, cfg.PublisherExchange, m, zlog)
	stockConsumer := consumer.NewStockConsumer(
		consumerMQ,
		resolver.New(catalog, zlog),
		stock.NewLedger(db.NewStockRepository(database, cfg.StockTable), zlog),
		events,
		attempts,
		m,
		zlog,
		consumer.Options{
			Queue:                cfg.ConsumerQueue,
			Idempotent:           cfg.IdempotentOrders,
			MaxDeliveries:        cfg.MaxDeliveries,
			DeadLetterExchange:   cfg.DeadLetterExchange,
			DeadLetterRoutingKey: cfg.OrderCreatedKey,
		},
	)

	// Health and metrics
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handlers.NewRouter(handlers.NewHealthHandler(database, consumerMQ, publisherMQ), m),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zlog.Info("🚀 Health server starting", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error("❌ Health server failed", zap.Error(err))
		}
	}()

	if consul != nil {
		id := serviceID()
		if err := consul.Register(discovery.ServiceConfig{
			Name: config.ServiceName,
			ID:   id,
			Port: cfg.Port,
			Tags: []string{"worker", "stock"},
		}); err != nil {
			zlog.Warn("⚠️ Consul registration failed", zap.Error(err))
		} else {
			defer consul.Deregister(id) //nolint:errcheck
		}
	}

	zlog.Info("🚀 Stock consumer started",
		zap.String("queue", cfg.ConsumerQueue),
		zap.String("catalog_url", catalogURL),
		zap.Bool("idempotent", cfg.IdempotentOrders),
		zap.Int("max_deliveries", cfg.MaxDeliveries),
	)

	err = stockConsumer.Run(ctx)

	zlog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	return err
}

func rabbitOptions(cfg *config.Config, name string, prefetch int, m *metrics.Registry) messaging.Options {
	return messaging.Options{
		URL:          cfg.RabbitMQURL,
		Name:         name,
		Heartbeat:    cfg.Heartbeat,
		Prefetch:     prefetch,
		ReconnectMax: cfg.ReconnectMaxInterval,
		OnReconnect:  m.BrokerReconnects.Inc,
	}
}

func serviceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "local"
	}
	return config.ServiceName + "-" + host
}
