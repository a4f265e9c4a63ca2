/**
 * @description
 * This is the main entry point for the settlement-service. It loads configuration,
 * connects to PostgreSQL, Redis and RabbitMQ, wires the credential gate and the
 * settlement orchestrator, starts the housekeeping scheduler and serves the HTTP API.
 *
 * @dependencies
 * - github.com/joho/godotenv: To load .env files for local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Token cache backend.
 * - go.uber.org/zap: Structured logging.
 * - internal/*, pkg/*: The service's own packages.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/transfa/settlement-service/internal/api"
	"github.com/transfa/settlement-service/internal/app"
	"github.com/transfa/settlement-service/internal/config"
	"github.com/transfa/settlement-service/internal/logging"
	"github.com/transfa/settlement-service/internal/store"
	"github.com/transfa/settlement-service/pkg/fundsclient"
	"github.com/transfa/settlement-service/pkg/rabbitmq"
	"github.com/transfa/settlement-service/pkg/tokencache"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"logger init failed\" err=%v", err)
	}
	defer logger.Sync()
	bootLog := logging.Component(logger, "bootstrap")

	for _, warning := range cfg.Warnings {
		bootLog.Warn("configuration", zap.String("detail", warning))
	}
	if cfg.InternalAPIKey == "" {
		bootLog.Fatal("internal api key must be configured", zap.String("env", "INTERNAL_API_KEY"))
	}
	bootLog.Info("starting settlement-service",
		zap.String("port", cfg.ServerPort),
		zap.String("reference_mode", cfg.SettlementReferenceMode),
		zap.Strings("commission_codes", cfg.CommissionCodes()),
	)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		bootLog.Fatal("database url parse failed", zap.Error(err))
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		bootLog.Fatal("database connection failed", zap.Error(err))
	}
	defer dbpool.Close()
	bootLog.Info("database connected")

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.SettlementEventsExchange, logger)
		if err != nil {
			bootLog.Warn("rabbitmq producer unavailable; using fallback", zap.Error(err))
		} else {
			publisher = producer
			defer producer.Close()
			bootLog.Info("rabbitmq producer connected", zap.String("exchange", cfg.SettlementEventsExchange))
		}
	}

	var cache tokencache.Cache
	var memoryCache *tokencache.MemoryCache
	if redisClient := connectRedis(cfg.RedisURL, bootLog); redisClient != nil {
		defer redisClient.Close()
		cache = tokencache.NewRedisCache(redisClient, cfg.TokenCachePrefix)
	} else {
		memoryCache = tokencache.NewMemoryCache()
		cache = memoryCache
	}

	var sweeper app.Sweeper
	if memoryCache != nil {
		sweeper = memoryCache
	}
	scheduler := app.NewScheduler(sweeper, cfg.TokenCacheSweepSchedule, logger)
	if err := scheduler.Start(); err != nil {
		bootLog.Fatal("scheduler start failed", zap.Error(err))
	}
	defer scheduler.Stop()

	repository := store.NewPostgresRepository(dbpool)
	gate := app.NewCredentialGate(repository, cfg.PINHashSalt, logger)

	fundsClient := fundsclient.NewClient(cfg.FundTransferAPIURL, cfg.FundTransferUsername, time.Duration(cfg.FundTransferTimeoutSeconds)*time.Second)
	orchestrator := app.NewSettlementOrchestrator(app.SettlementConfig{
		SecretKey:           cfg.EncryptionSecretKey,
		CreditAccount:       cfg.SettlementCreditAccount,
		CommissionCode:      cfg.SettlementCommissionCode,
		Commissions:         cfg.Commissions,
		T24TransactionType:  cfg.T24TransactionType,
		T24DistributionName: cfg.T24DistributionName,
	}, fundsClient, app.NewReferenceGenerator(cfg.SettlementReferenceMode), publisher, logger)

	handler := api.NewHandler(gate, orchestrator, cache, time.Duration(cfg.SettledMarkerTTLHours)*time.Hour, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		InternalAPIKey: cfg.InternalAPIKey,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Component(logger, "http").Info("server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Component(logger, "http").Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	bootLog.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		bootLog.Error("shutdown failed", zap.Error(err))
	}

	bootLog.Info("shutdown complete")
}

// connectRedis returns a pinged client, or nil when Redis is not configured or unreachable.
func connectRedis(redisURL string, logger *zap.Logger) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		logger.Info("redis url missing; using in-process token cache", zap.String("env", "REDIS_URL"))
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; using in-process token cache", zap.Error(err))
		return nil
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; using in-process token cache", zap.Error(err))
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
