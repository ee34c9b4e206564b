package model

// InstructorSettings - политика бронирования из профиля инструктора.
// Читается внешним коллаборатором (профильный сервис), здесь только контракт.
type InstructorSettings struct {
	InstructorID            int64 `json:"instructor_id"`
	AdvanceBookingHours     int   `json:"advance_booking_hours"`     // минимум часов до начала занятия
	BufferMinutes           int   `json:"buffer_minutes"`            // буфер между занятиями
	AutoAccept              bool  `json:"auto_accept"`               // подтверждать бронирования без участия инструктора
	CancellationWindowHours int   `json:"cancellation_window_hours"` // за сколько часов ещё можно отменить без санкций
}
