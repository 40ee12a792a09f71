package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"fulfillment-ledger/internal/api"
	"fulfillment-ledger/internal/cache"
	"fulfillment-ledger/internal/config"
	"fulfillment-ledger/internal/consumer"
	"fulfillment-ledger/internal/events"
	"fulfillment-ledger/internal/pricing"
	"fulfillment-ledger/internal/repository"
	"fulfillment-ledger/internal/repository/memstore"
	"fulfillment-ledger/internal/service"
	"fulfillment-ledger/migrations"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

func connectDB(cfg config.DBConfig) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 0; i < 10; i++ {
		db, err = sql.Open("mysql", cfg.DSN())
		if err == nil {
			err = db.Ping()
			if err == nil {
				logger.Info().Msgf("Connected to DB %s", cfg.Name)
				return db, nil
			}
		}
		logger.Warn().Err(err).Msgf("Retry %d: failed to connect to DB %s (%s:%s)", i+1, cfg.Name, cfg.Host, cfg.Port)
		time.Sleep(3 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to DB %s at %s:%s after retries: %v", cfg.Name, cfg.Host, cfg.Port, err)
}

func openStore(cfg *config.Config) (repository.Store, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		store, err := memstore.New()
		if err != nil {
			return nil, nil, err
		}
		logger.Warn().Msg("Using the in-memory store; nothing survives a restart")
		return store, func() {}, nil
	}

	db, err := connectDB(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.AutoMigrate(3, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate ledger tables: %w", err)
	}
	return repository.NewMySQLStore(db), func() { db.Close() }, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()

	opts := []service.Option{
		service.WithPricing(pricing.NewCalculator(cfg.RushSurcharge)),
	}

	if cfg.RedisAddr != "" {
		rdb := cache.NewRedisClient(cfg.RedisAddr)
		defer rdb.Close()
		opts = append(opts,
			service.WithIdempotencyGuard(cache.NewIdempotencyGuard(rdb)),
			service.WithStockCache(cache.NewStockCache(rdb)),
		)
	}

	var publisher *events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewPublisher(config.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		defer publisher.Close()
		opts = append(opts, service.WithPublisher(publisher))
	}

	ledger := service.NewFulfillmentService(store, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if publisher != nil && cfg.RedisAddr != "" {
		reader := config.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
		go consumer.NewConsumer(reader, ledger).Run(ctx)
	}

	e := api.NewServer(ledger, api.ServerConfig{
		JWTSecret: cfg.JWTSecret,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	})

	go func() {
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}
}
