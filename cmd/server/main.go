package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xsamir/ProductCompare/internal/clients/aliexpress"
	"github.com/xsamir/ProductCompare/internal/clients/paapi"
	redisclient "github.com/xsamir/ProductCompare/internal/clients/redis"
	"github.com/xsamir/ProductCompare/internal/config"
	"github.com/xsamir/ProductCompare/internal/handlers/web"
	"github.com/xsamir/ProductCompare/internal/logging"
	"github.com/xsamir/ProductCompare/internal/middleware"
	"github.com/xsamir/ProductCompare/internal/repository/product"
	"github.com/xsamir/ProductCompare/internal/services/cache"
	"github.com/xsamir/ProductCompare/internal/services/circuitbreaker"
	"github.com/xsamir/ProductCompare/internal/services/metrics"
	"github.com/xsamir/ProductCompare/internal/services/ratelimit"
	"github.com/xsamir/ProductCompare/internal/services/refresh"
	"github.com/xsamir/ProductCompare/internal/services/throttle"
	"github.com/xsamir/ProductCompare/internal/services/tracing"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()
	tracer := tracing.NewService(cfg.Tracing.ServiceName)

	db, err := openPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := redisclient.NewClient(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	metricsSvc := metrics.NewService(prometheus.DefaultRegisterer)
	products := product.NewRepository(db, metricsSvc, logger)

	searchClient, err := newSearchClient(cfg, rdb, metricsSvc, tracer, logger)
	if err != nil {
		return err
	}

	refreshOpts := []refresh.Option{refresh.WithMetrics(metricsSvc), refresh.WithTracing(tracer)}
	if cfg.AliExpress.Enabled {
		breaker := circuitbreaker.NewCircuitBreaker("aliexpress", circuitbreaker.DefaultConfig(),
			func(name string, from, to circuitbreaker.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("dependency", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
				metricsSvc.SetCircuitBreakerState(name, int(to))
			})
		refreshOpts = append(refreshOpts, refresh.WithMatcher(aliexpress.NewClient(cfg.AliExpress, breaker, logger)))
	}
	refresher := refresh.NewService(searchClient, products, cfg.Refresh, logger, refreshOpts...)

	sessions := throttle.NewService(rdb, cfg.Redis.KeyPrefix, cfg.Refresh.Interval, logger)
	page := web.NewPageHandler(refresher, products, sessions, tracer, cfg, logger)
	health := web.NewHealthHandler(map[string]web.Pinger{"postgres": products, "redis": rdb}, logger)

	gin.SetMode(gin.ReleaseMode)
	router, err := web.NewRouter(page, health, metricsSvc, promhttp.Handler(), middleware.RequestLogger(logger))
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("price comparison server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnectionMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// newSearchClient wires the signed search client with its rate gate. With
// DistributedRateLimit every replica shares one Redis-held slot; otherwise
// the limit is per process.
func newSearchClient(cfg *config.Config, rdb *redisclient.Client, metricsSvc *metrics.Service, tracer *tracing.Service, logger *zap.Logger) (*paapi.Client, error) {
	var gate ratelimit.Gate = ratelimit.NewIntervalLimiter(cfg.PAAPI.MinRequestInterval, logger)
	if cfg.PAAPI.DistributedRateLimit {
		gate = ratelimit.NewRedisGate(rdb, rdb.Key(cfg.PAAPI.RateLimitKey), cfg.PAAPI.MinRequestInterval, gate, logger)
	}

	opts := []paapi.Option{paapi.WithMetrics(metricsSvc), paapi.WithTracing(tracer)}
	if cfg.Cache.SearchTTL > 0 {
		searchCache := cache.NewService(rdb, "paapi_search", cfg.Cache.SearchTTL, metricsSvc, logger)
		opts = append(opts, paapi.WithCache(searchCache, rdb.Key("search")))
	}

	dispatcher := paapi.NewHTTPDispatcher(cfg.PAAPI.HTTPTimeout, logger)
	return paapi.NewClient(cfg.PAAPI, dispatcher, gate, logger, opts...)
}
