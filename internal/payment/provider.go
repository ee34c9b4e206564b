// Package payment - клиент платёжного провайдера.
// Все вызовы идемпотентны: ключ детерминированно выводится из
// (операция, бронирование, сумма), повторённый сетевой вызов
// не спишет и не вернёт деньги дважды.
package payment

import (
	"context"
	"fmt"
)

// Операции провайдера, входящие в ключ идемпотентности
const (
	OpAuthorize = "authorize"
	OpCapture   = "capture"
	OpRefund    = "refund"
)

// Provider - внешний платёжный коллаборатор
type Provider interface {
	// Authorize блокирует сумму на карте ученика, возвращает id авторизации
	Authorize(ctx context.Context, idempotencyKey string, bookingID, amountCents int64) (string, error)
	// Capture списывает ранее авторизованную сумму
	Capture(ctx context.Context, idempotencyKey, chargeID string) error
	// Refund возвращает сумму полностью или частично
	Refund(ctx context.Context, idempotencyKey, chargeID string, amountCents int64) error
}

// IdempotencyKey строит детерминированный ключ вызова провайдера
func IdempotencyKey(op string, bookingID, amountCents int64) string {
	return fmt.Sprintf("%s:%d:%d", op, bookingID, amountCents)
}
