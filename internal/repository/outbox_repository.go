package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkhasanov/tutorbook/internal/model"
	"github.com/mkhasanov/tutorbook/internal/repository/base"
)

type OutboxRepository struct {
	*base.Repository
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{Repository: base.NewRepository(pool)}
}

// Insert добавляет событие в outbox. Ключ дедупликации уникален:
// повторная вставка того же события молча игнорируется,
// поэтому переигранная мутация не породит дубликат нотификации.
func (r *OutboxRepository) Insert(ctx context.Context, q Querier, event *model.OutboxEvent) error {
	query := `
		INSERT INTO outbox_events (event_type, dedupe_key, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (dedupe_key) DO NOTHING
	`

	_, err := r.Q(q).Exec(ctx, query, event.EventType, event.DedupeKey, event.Payload)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

// FetchUnpublished выбирает неопубликованные события для релея, старые первыми
func (r *OutboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	query := `
		SELECT id, event_type, dedupe_key, payload, created_at, published_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id ASC
		LIMIT $1
	`

	rows, err := r.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unpublished events: %w", err)
	}
	defer rows.Close()

	var events []*model.OutboxEvent
	for rows.Next() {
		var e model.OutboxEvent
		err := rows.Scan(&e.ID, &e.EventType, &e.DedupeKey, &e.Payload, &e.CreatedAt, &e.PublishedAt)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &e)
	}

	return events, rows.Err()
}

// MarkPublished помечает событие доставленным
func (r *OutboxRepository) MarkPublished(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = $1 AND published_at IS NULL
	`

	_, err := r.ExecAffected(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}

	return nil
}
