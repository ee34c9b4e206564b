// Package outbox доставляет события мутаций нотификатору через RabbitMQ.
// Гарантия at-least-once: потребитель дедуплицирует по MessageId.
package outbox

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mkhasanov/tutorbook/internal/model"
	"github.com/mkhasanov/tutorbook/internal/repository"
)

type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish отправляет событие, routing key - тип события,
// MessageId - ключ дедупликации
func (p *Publisher) Publish(ctx context.Context, event *model.OutboxEvent) error {
	return p.ch.PublishWithContext(ctx, p.exchange, event.EventType, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   event.DedupeKey,
		Body:        event.Payload,
	})
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Relay перекладывает неопубликованные события из outbox в брокер.
// Сбой публикации не помечает событие доставленным, его подберёт
// следующий проход.
type Relay struct {
	repo      *repository.OutboxRepository
	publisher *Publisher
	logger    *zap.Logger
}

func NewRelay(repo *repository.OutboxRepository, publisher *Publisher, logger *zap.Logger) *Relay {
	return &Relay{repo: repo, publisher: publisher, logger: logger}
}

// Run публикует одну партию событий
func (r *Relay) Run(ctx context.Context) error {
	events, err := r.repo.FetchUnpublished(ctx, 100)
	if err != nil {
		return fmt.Errorf("fetch outbox batch: %w", err)
	}

	for _, event := range events {
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Error("Failed to publish outbox event",
				zap.Int64("event_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.Error(err))
			continue
		}
		if err := r.repo.MarkPublished(ctx, event.ID); err != nil {
			// Событие уедет повторно, потребитель отсеет по MessageId
			r.logger.Warn("Failed to mark outbox event published",
				zap.Int64("event_id", event.ID),
				zap.Error(err))
		}
	}

	return nil
}
