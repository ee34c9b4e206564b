package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mkhasanov/tutorbook/internal/app"
	"github.com/mkhasanov/tutorbook/internal/config"
	"github.com/mkhasanov/tutorbook/internal/lock"
	"github.com/mkhasanov/tutorbook/internal/obs"
	"github.com/mkhasanov/tutorbook/internal/outbox"
	"github.com/mkhasanov/tutorbook/internal/payment"
	"github.com/mkhasanov/tutorbook/internal/repository"
	"github.com/mkhasanov/tutorbook/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting booking worker", zap.String("environment", cfg.Environment))

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("Failed to create database pool", zap.Error(err))
	}
	defer pool.Close()

	migrator, err := app.NewMigrator(pool, "migrations")
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}
	if err := migrator.Run(ctx); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	_ = migrator.Close()

	shutdownMeter, err := obs.InitMeter(ctx, "tutorbook-worker", cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		logger.Fatal("Failed to init metrics exporter", zap.Error(err))
	}
	defer shutdownMeter(context.Background())

	metrics, err := obs.NewMetrics()
	if err != nil {
		logger.Fatal("Failed to create metrics", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	locker := lock.NewRedisLocker(redisClient)

	availabilityRepo := repository.NewAvailabilityRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool)
	settingsRepo := repository.NewSettingsRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)
	videoRepo := repository.NewVideoSessionRepository(pool)
	profileRepo := repository.NewPaymentProfileRepository(pool)

	provider, err := payment.NewOmiseProvider(cfg.OmisePublicKey, cfg.OmiseSecretKey, profileRepo)
	if err != nil {
		logger.Fatal("Failed to create payment provider", zap.Error(err))
	}

	publisher, err := outbox.NewPublisher(cfg.AMQPURL, "tutorbook.events")
	if err != nil {
		logger.Fatal("Failed to connect to rabbitmq", zap.Error(err))
	}
	defer publisher.Close()
	relay := outbox.NewRelay(outboxRepo, publisher, logger)

	guard := service.NewConflictGuard(availabilityRepo, bookingRepo, settingsRepo, metrics, logger)
	lifecycle := service.NewBookingLifecycle(bookingRepo, outboxRepo, settingsRepo, guard, locker, provider, metrics, logger)
	payments := service.NewPaymentScheduler(bookingRepo, outboxRepo, lifecycle, locker, provider, videoRepo, metrics, logger)

	scheduler := app.NewScheduler(payments, relay, logger)
	scheduler.Start(ctx)

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	scheduler.Stop()
	logger.Info("Booking worker stopped")
}
