package obs

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InitMeter настраивает OTLP-экспорт метрик и глобальный MeterProvider.
// Возвращает shutdown-функцию.
func InitMeter(ctx context.Context, serviceName, endpoint, env string) (func(context.Context) error, error) {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("otlp dial: %w", err)
	}

	exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("0.1.0"),
			semconv.DeploymentEnvironmentKey.String(env),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}

// Metrics - счётчики ядра бронирования
type Metrics struct {
	Conflicts      metric.Int64Counter // отклонённые по конфликту запросы
	LockContention metric.Int64Counter // невзятые мьютексы бронирований
	SweepOutcomes  metric.Int64Counter // результаты фоновых свипов
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("tutorbook/booking")

	conflicts, err := meter.Int64Counter("booking.conflicts",
		metric.WithDescription("booking requests rejected due to a conflict"))
	if err != nil {
		return nil, err
	}

	contention, err := meter.Int64Counter("booking.lock_contention",
		metric.WithDescription("booking mutex acquisitions that timed out"))
	if err != nil {
		return nil, err
	}

	sweeps, err := meter.Int64Counter("payment.sweep_outcomes",
		metric.WithDescription("per-booking outcomes of payment sweeps"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Conflicts:      conflicts,
		LockContention: contention,
		SweepOutcomes:  sweeps,
	}, nil
}
