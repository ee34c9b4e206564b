// Package bitset кодирует дневную доступность инструктора в битовую карту
// фиксированной длины: один бит на гранулу в 5 минут, 288 бит (36 байт) на день.
// Кодирование детерминировано, блобы двух инструкторов сравнимы побайтово.
package bitset

import (
	"sort"

	"github.com/mkhasanov/tutorbook/internal/apperr"
	"github.com/mkhasanov/tutorbook/internal/model"
)

const (
	// GranuleMinutes - минимальная планируемая единица времени
	GranuleMinutes = 5
	// MinutesPerDay - границы дня [00:00, 24:00)
	MinutesPerDay = 24 * 60
	// GranulesPerDay - количество бит в карте дня
	GranulesPerDay = MinutesPerDay / GranuleMinutes
	// BlobSize - размер блоба в байтах
	BlobSize = GranulesPerDay / 8
)

// Encode переводит набор окон в битовую карту дня.
// Окна валидируются: start < end, выравнивание по грануле, границы [00:00, 24:00].
// Окно с концом в полночь кодируется sentinel-смещением, равным длине вектора,
// иначе полуночный конец завернулся бы в начало дня.
func Encode(windows []model.TimeWindow) ([]byte, error) {
	bits := make([]byte, BlobSize)
	for _, w := range windows {
		if err := SetRange(bits, w.StartMin, w.EndMin); err != nil {
			return nil, err
		}
	}
	return bits, nil
}

// SetRange устанавливает биты полуинтервала [startMin, endMin)
func SetRange(bits []byte, startMin, endMin int) error {
	if err := validateWindow(startMin, endMin); err != nil {
		return err
	}
	start := startMin / GranuleMinutes
	end := endMin / GranuleMinutes // для endMin == 1440 это sentinel == GranulesPerDay
	for g := start; g < end; g++ {
		bits[g/8] |= 1 << (g % 8)
	}
	return nil
}

// ClearRange сбрасывает биты полуинтервала [startMin, endMin)
func ClearRange(bits []byte, startMin, endMin int) error {
	if err := validateWindow(startMin, endMin); err != nil {
		return err
	}
	start := startMin / GranuleMinutes
	end := endMin / GranuleMinutes
	for g := start; g < end; g++ {
		bits[g/8] &^= 1 << (g % 8)
	}
	return nil
}

// Decode сканирует карту и возвращает максимальные серии установленных бит
// как отсортированные непересекающиеся окна. Смежные биты всегда сливаются
// в одно окно.
func Decode(bits []byte) []model.TimeWindow {
	var windows []model.TimeWindow
	runStart := -1
	for g := 0; g < GranulesPerDay && g/8 < len(bits); g++ {
		set := bits[g/8]&(1<<(g%8)) != 0
		switch {
		case set && runStart < 0:
			runStart = g
		case !set && runStart >= 0:
			windows = append(windows, model.TimeWindow{
				StartMin: runStart * GranuleMinutes,
				EndMin:   g * GranuleMinutes,
			})
			runStart = -1
		}
	}
	if runStart >= 0 {
		windows = append(windows, model.TimeWindow{
			StartMin: runStart * GranuleMinutes,
			EndMin:   MinutesPerDay,
		})
	}
	return windows
}

// Merge возвращает побитовое объединение двух карт (режим "добавить к существующему")
func Merge(a, b []byte) []byte {
	out := make([]byte, BlobSize)
	copy(out, a)
	for i := 0; i < len(out) && i < len(b); i++ {
		out[i] |= b[i]
	}
	return out
}

// RangeSet сообщает, установлены ли все гранулы полуинтервала [startMin, endMin)
func RangeSet(bits []byte, startMin, endMin int) bool {
	if validateWindow(startMin, endMin) != nil {
		return false
	}
	start := startMin / GranuleMinutes
	end := endMin / GranuleMinutes
	for g := start; g < end; g++ {
		if g/8 >= len(bits) || bits[g/8]&(1<<(g%8)) == 0 {
			return false
		}
	}
	return true
}

// Canonical приводит набор окон к каноническому виду:
// сортировка, слияние смежных и пересекающихся, отбрасывание дублей.
// Для любого валидного набора W: Decode(Encode(W)) == Canonical(W).
func Canonical(windows []model.TimeWindow) []model.TimeWindow {
	if len(windows) == 0 {
		return nil
	}
	sorted := make([]model.TimeWindow, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMin < sorted[j].StartMin })

	out := []model.TimeWindow{sorted[0]}
	for _, w := range sorted[1:] {
		last := &out[len(out)-1]
		if w.StartMin <= last.EndMin {
			if w.EndMin > last.EndMin {
				last.EndMin = w.EndMin
			}
			continue
		}
		out = append(out, w)
	}
	return out
}

// validateWindow отклоняет некорректные окна без какого-либо клампинга
func validateWindow(startMin, endMin int) error {
	if startMin >= endMin {
		return apperr.Validation("window start %d must be before end %d", startMin, endMin)
	}
	if startMin < 0 || endMin > MinutesPerDay {
		return apperr.Validation("window [%d, %d) is outside of day bounds", startMin, endMin)
	}
	if startMin%GranuleMinutes != 0 || endMin%GranuleMinutes != 0 {
		return apperr.Validation("window [%d, %d) is not aligned to %d-minute granule", startMin, endMin, GranuleMinutes)
	}
	return nil
}
