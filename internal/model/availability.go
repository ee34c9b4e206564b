package model

import "time"

// TimeWindow - открытое для записи окно внутри дня.
// Минуты от полуночи, полуинтервал [StartMin, EndMin).
// EndMin == 1440 означает "до конца дня".
type TimeWindow struct {
	StartMin int `json:"start_min"`
	EndMin   int `json:"end_min"`
}

// DayAvailability - доступность инструктора на одну дату.
// Bits - битовая карта дня: один бит на гранулу, установленный бит
// означает "открыто для записи". Существующие бронирования карта не знает,
// конфликты проверяются при мутации.
type DayAvailability struct {
	InstructorID int64     `json:"instructor_id"`
	Date         time.Time `json:"date"`
	Bits         []byte    `json:"bits"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DaySchedule - окна одного дня при батчевой записи недели
type DaySchedule struct {
	Date    time.Time    `json:"date"`
	Windows []TimeWindow `json:"windows"`
}
