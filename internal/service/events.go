package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mkhasanov/tutorbook/internal/model"
)

// newOutboxEvent собирает событие с детерминированным ключом дедупликации:
// sha256 от типа и полезной нагрузки. Повторная публикация того же события
// после редоставки даёт тот же ключ, потребитель обрабатывает его один раз.
func newOutboxEvent(eventType string, payload any) (*model.OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	sum := sha256.Sum256(append([]byte(eventType+":"), body...))
	return &model.OutboxEvent{
		EventType: eventType,
		DedupeKey: hex.EncodeToString(sum[:]),
		Payload:   body,
	}, nil
}
