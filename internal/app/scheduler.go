package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mkhasanov/tutorbook/internal/outbox"
	"github.com/mkhasanov/tutorbook/internal/service"
)

// Интервалы фоновых свипов. Окна свипов разных воркеров могут пересекаться,
// корректность обеспечивает замок бронирования, а не расписание.
const (
	authSweepInterval    = 5 * time.Minute
	captureSweepInterval = 15 * time.Minute
	settleSweepInterval  = time.Hour
	noShowSweepInterval  = 2 * time.Minute
	outboxRelayInterval  = 10 * time.Second
)

// Scheduler управляет фоновыми задачами
type Scheduler struct {
	payments *service.PaymentScheduler
	relay    *outbox.Relay
	logger   *zap.Logger
	stopChan chan struct{}
}

// NewScheduler создаёт новый планировщик
func NewScheduler(payments *service.PaymentScheduler, relay *outbox.Relay, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		payments: payments,
		relay:    relay,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start запускает фоновые задачи
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler")

	go s.runTask(ctx, "payment authorization sweep", authSweepInterval, s.payments.ProcessScheduledAuthorizations)
	go s.runTask(ctx, "payment capture sweep", captureSweepInterval, s.payments.CaptureCompletedLessons)
	go s.runTask(ctx, "payment settlement sweep", settleSweepInterval, s.payments.SettleCapturedPayments)
	go s.runTask(ctx, "no-show detection sweep", noShowSweepInterval, s.payments.DetectVideoNoShows)
	go s.runTask(ctx, "outbox relay", outboxRelayInterval, s.relay.Run)
}

// Stop останавливает фоновые задачи
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background scheduler")
	close(s.stopChan)
}

// runTask гоняет задачу по тикеру до остановки планировщика.
// Первый запуск - сразу при старте.
func (s *Scheduler) runTask(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context) error) {
	s.runOnce(ctx, name, fn)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx, name, fn)
		case <-s.stopChan:
			s.logger.Info("Background task stopped", zap.String("task", name))
			return
		case <-ctx.Done():
			s.logger.Info("Background task cancelled", zap.String("task", name))
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		s.logger.Error("Background task failed", zap.String("task", name), zap.Error(err))
	}
}
