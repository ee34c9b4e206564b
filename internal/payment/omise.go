package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/sethvargo/go-retry"

	"github.com/mkhasanov/tutorbook/internal/apperr"
)

const currency = "thb"

// transientAttempts - повторы сетевого вызова внутри одной попытки свипа.
// Долгие ретраи со счётчиком живут в PaymentScheduler.
const transientAttempts = 3

// CustomerSource отдаёт сохранённого покупателя Omise для бронирования.
// Реализуется профильным сервисом, хранящим привязанные карты.
type CustomerSource interface {
	CustomerFor(ctx context.Context, bookingID int64) (string, error)
}

// OmiseProvider - реализация Provider поверх Omise
type OmiseProvider struct {
	client    *omise.Client
	customers CustomerSource
}

func NewOmiseProvider(publicKey, secretKey string, customers CustomerSource) (*OmiseProvider, error) {
	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, err
	}
	client.SetDebug(false)
	return &OmiseProvider{client: client, customers: customers}, nil
}

func backoff() retry.Backoff {
	b := retry.NewExponential(200 * time.Millisecond)
	return retry.WithMaxRetries(transientAttempts-1, b)
}

// Authorize создаёт charge без списания (dont_capture);
// ключ идемпотентности уходит в метаданные charge
func (p *OmiseProvider) Authorize(ctx context.Context, idempotencyKey string, bookingID, amountCents int64) (string, error) {
	customer, err := p.customers.CustomerFor(ctx, bookingID)
	if err != nil {
		return "", apperr.PaymentProvider(OpAuthorize, err)
	}

	var chargeID string
	err = retry.Do(ctx, backoff(), func(ctx context.Context) error {
		charge := &omise.Charge{}
		err := p.client.Do(charge, &operations.CreateCharge{
			Amount:      amountCents,
			Currency:    currency,
			Customer:    customer,
			DontCapture: true,
			Metadata: map[string]interface{}{
				"booking_id":      bookingID,
				"idempotency_key": idempotencyKey,
			},
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		if string(charge.Status) == "failed" {
			// Отказ провайдера окончателен, ретраить бессмысленно
			return chargeError(charge)
		}
		chargeID = charge.ID
		return nil
	})
	if err != nil {
		return "", apperr.PaymentProvider(OpAuthorize, err)
	}
	return chargeID, nil
}

// Capture списывает авторизованный charge
func (p *OmiseProvider) Capture(ctx context.Context, idempotencyKey, chargeID string) error {
	err := retry.Do(ctx, backoff(), func(ctx context.Context) error {
		charge := &omise.Charge{}
		if err := p.client.Do(charge, &operations.CaptureCharge{ChargeID: chargeID}); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return apperr.PaymentProvider(OpCapture, err)
	}
	return nil
}

// Refund возвращает amountCents по charge
func (p *OmiseProvider) Refund(ctx context.Context, idempotencyKey, chargeID string, amountCents int64) error {
	err := retry.Do(ctx, backoff(), func(ctx context.Context) error {
		refund := &omise.Refund{}
		err := p.client.Do(refund, &operations.CreateRefund{
			ChargeID: chargeID,
			Amount:   amountCents,
			Metadata: map[string]interface{}{
				"idempotency_key": idempotencyKey,
			},
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return apperr.PaymentProvider(OpRefund, err)
	}
	return nil
}

func chargeError(charge *omise.Charge) error {
	msg := "charge failed"
	if charge.FailureMessage != nil {
		msg = *charge.FailureMessage
	}
	return fmt.Errorf("%s", msg)
}
