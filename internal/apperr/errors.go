package apperr

import (
	"errors"
	"fmt"
)

// Code - стабильный машинный код ошибки для внешних слоёв
type Code string

const (
	CodeValidation      Code = "validation_error"
	CodeConflictSlot    Code = "slot_unavailable"  // запрошенное время вне опубликованной доступности
	CodeConflictBooking Code = "slot_booked"       // время занято другим бронированием
	CodeLockBusy        Code = "operation_in_progress"
	CodeNotFound        Code = "not_found"
	CodePaymentProvider Code = "payment_provider_error"
	CodeTerminalState   Code = "terminal_state"
)

// Error - доменная ошибка с машинным кодом и человекочитаемым сообщением
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is сравнивает ошибки по коду, чтобы работал errors.Is с шаблонами ниже
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Шаблоны для errors.Is
var (
	ErrValidation      = &Error{Code: CodeValidation}
	ErrSlotUnavailable = &Error{Code: CodeConflictSlot}
	ErrSlotBooked      = &Error{Code: CodeConflictBooking}
	ErrLockBusy        = &Error{Code: CodeLockBusy}
	ErrNotFound        = &Error{Code: CodeNotFound}
	ErrPaymentProvider = &Error{Code: CodePaymentProvider}
	ErrTerminalState   = &Error{Code: CodeTerminalState}
)

// Validation - некорректные входные данные (start >= end, выход за границы дня)
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// SlotUnavailable - время не входит в опубликованную доступность инструктора
func SlotUnavailable(format string, args ...any) *Error {
	return &Error{Code: CodeConflictSlot, Message: fmt.Sprintf(format, args...)}
}

// SlotBooked - время уже занято другим бронированием
func SlotBooked(format string, args ...any) *Error {
	return &Error{Code: CodeConflictBooking, Message: fmt.Sprintf(format, args...)}
}

// LockBusy - не удалось взять мьютекс бронирования за отведённый таймаут.
// Транзиентная ошибка, вызывающий обязан отдать её как retryable-сигнал.
func LockBusy(key string) *Error {
	return &Error{Code: CodeLockBusy, Message: fmt.Sprintf("operation on %s is already in progress", key)}
}

// NotFound - сущность не найдена
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// PaymentProvider оборачивает ошибку платёжного провайдера
func PaymentProvider(op string, cause error) *Error {
	return &Error{Code: CodePaymentProvider, Message: fmt.Sprintf("payment provider %s failed", op), cause: cause}
}

// TerminalState - попытка изменить бронирование в конечном статусе
func TerminalState(bookingID int64, status string) *Error {
	return &Error{Code: CodeTerminalState, Message: fmt.Sprintf("booking %d is already %s", bookingID, status)}
}

// UserMessage возвращает пользовательское сообщение для ошибки
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Произошла ошибка, попробуйте позже"
	}
	switch e.Code {
	case CodeValidation:
		return "Некорректный интервал времени"
	case CodeConflictSlot:
		return "Это время не входит в расписание инструктора"
	case CodeConflictBooking:
		return "Это время уже занято другим учеником"
	case CodeLockBusy:
		return "Операция с этим бронированием уже выполняется, повторите через пару секунд"
	case CodeNotFound:
		return "Запись не найдена"
	case CodePaymentProvider:
		return "Платёжный сервис временно недоступен"
	case CodeTerminalState:
		return "Бронирование уже завершено или отменено"
	default:
		return "Произошла ошибка, попробуйте позже"
	}
}
