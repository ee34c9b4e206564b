package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkhasanov/tutorbook/internal/apperr"
	"github.com/mkhasanov/tutorbook/internal/repository/base"
)

// PaymentProfileRepository хранит привязку ученика к клиенту платёжного
// провайдера. Профиль создаётся при первом сохранении карты, ядро его
// только читает при авторизации.
type PaymentProfileRepository struct {
	*base.Repository
}

func NewPaymentProfileRepository(pool *pgxpool.Pool) *PaymentProfileRepository {
	return &PaymentProfileRepository{Repository: base.NewRepository(pool)}
}

// CustomerFor возвращает id клиента у провайдера для ученика бронирования
func (r *PaymentProfileRepository) CustomerFor(ctx context.Context, bookingID int64) (string, error) {
	query := `
		SELECT p.provider_customer_id
		FROM payment_profiles p
		JOIN bookings b ON b.student_id = p.student_id
		WHERE b.id = $1
	`

	var customerID string
	err := r.QueryRow(ctx, query, bookingID).Scan(&customerID)
	if err != nil {
		if base.IsNotFound(err) {
			return "", apperr.NotFound("payment profile for booking %d not found", bookingID)
		}
		return "", fmt.Errorf("get payment profile: %w", err)
	}

	return customerID, nil
}
