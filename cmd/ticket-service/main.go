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

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"ms-admission/internal/auth"
	"ms-admission/internal/cleanup/cleanup_api"
	cleanupdb "ms-admission/internal/cleanup/db"
	cleanupredis "ms-admission/internal/cleanup/redis"
	"ms-admission/internal/cleanup/scheduler"
	cleanup "ms-admission/internal/cleanup/service"
	"ms-admission/internal/codec"
	"ms-admission/internal/config"
	"ms-admission/internal/database"
	"ms-admission/internal/database/migrations"
	"ms-admission/internal/kafka"
	"ms-admission/internal/logger"
	ticketdb "ms-admission/internal/tickets/db"
	qr "ms-admission/internal/tickets/qr_generator"
	tickets "ms-admission/internal/tickets/service"
	"ms-admission/internal/tickets/ticket_api"
	wristbanddb "ms-admission/internal/wristbands/db"
	wristbands "ms-admission/internal/wristbands/service"
	"ms-admission/internal/wristbands/wristband_api"
)

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var (
		bunDB *bun.DB
		err   error
	)
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Connecting to %s (attempt %d/%d)", cfg.Driver, i+1, maxRetries))
		bunDB, err = database.Open(ctx, cfg)
		if err == nil {
			break
		}
		log.Error("DATABASE", err.Error())
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect after %d attempts: %v", maxRetries, err))
	}

	if cfg.Driver == database.DriverSQLite {
		if err := database.CreateSchema(ctx, bunDB); err != nil {
			log.Fatal("DATABASE", err.Error())
		}
		return bunDB
	}

	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{AutoMigrate: cfg.AutoMigrate}, log)
	if err := runner.Initialize(); err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
	return bunDB
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) auth.TokenVerifier {
	switch {
	case cfg.OIDCIssuer != "":
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
		if err != nil {
			log.Fatal("AUTH", fmt.Sprintf("OIDC discovery failed: %v", err))
		}
		log.Info("AUTH", "Verifying bearer tokens against "+cfg.OIDCIssuer)
		return v
	case cfg.JWTSecret != "":
		log.Info("AUTH", "Verifying HS256 bearer tokens")
		return &auth.HMACVerifier{Secret: []byte(cfg.JWTSecret)}
	default:
		log.Warn("AUTH", "No OIDC_ISSUER or AUTH_JWT_SECRET set, admission API is unauthenticated")
		return nil
	}
}

func main() {
	log := logger.NewLogger("admission")
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := codec.New(cfg.Codec.EncryptionKey, codec.WithExpiryGrace(cfg.Codec.ExpiryGrace))
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("CODE_ENCRYPTION_KEY: %v", err))
	}

	bunDB := openDatabase(ctx, cfg.Database, log)
	defer bunDB.Close()

	var (
		publisher tickets.Publisher
		producer  *kafka.Producer
	)
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.AllTopics(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		publisher = producer
	}

	ticketService := tickets.NewTicketService(&ticketdb.DB{Bun: bunDB}, c, publisher, cfg.Kafka.Topics, log)
	wristbandService := wristbands.NewWristbandService(&wristbanddb.DB{Bun: bunDB}, c, publisher, cfg.Kafka.Topics, log)
	cleanupService := cleanup.NewService(&cleanupdb.DB{Bun: bunDB}, log)

	rt := routes{
		Tickets:    ticket_api.NewHandler(ticketService, qr.NewQRGenerator(qr.DefaultSize), log, cfg.Server.RequestTimeout),
		Wristbands: wristband_api.NewHandler(wristbandService, log, cfg.Server.RequestTimeout),
		Cleanup:    cleanup_api.NewHandler(cleanupService, cfg.Cleanup, log),
		Verifier:   newVerifier(ctx, cfg.Auth, log),
		CronSecret: cfg.Auth.CronSecret,
		Logger:     log,
	}
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      rt.handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP", "Admission service running on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Kafka.Enabled {
		consumer := kafka.NewSettlementConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentSettled, cfg.Kafka.GroupID, ticketService, log)
		defer consumer.Close()
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if cfg.Cleanup.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
		}

		var cleanupPublisher scheduler.Publisher
		if producer != nil {
			cleanupPublisher = producer
		}
		sched := scheduler.New(cleanupService, cleanupredis.NewRedis(redisClient, log), cleanupPublisher,
			cfg.Kafka.Topics.CleanupCompleted, cfg.Cleanup, log)
		sched.Expirer = ticketService
		sched.ExpiryGrace = cfg.Codec.ExpiryGrace
		g.Go(func() error { return sched.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error("APP", err.Error())
		os.Exit(1)
	}
	log.Info("APP", "Admission service shutdown complete")
}
