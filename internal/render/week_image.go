// Package render рисует недельную сетку доступности инструктора:
// открытые окна и занятые слоты, колонка часов слева, легенда справа.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"time"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/mkhasanov/tutorbook/internal/model"
)

// Размеры и отступы холста
const (
	imageWidth      = 1400
	imageHeight     = 900
	headerHeight    = 100
	leftLabelsWidth = 80
	legendWidth     = 120
	dayPaddingX     = 8
	slotRadius      = 6.0
	totalDays       = 7
	hourPaddingTop  = 2
	hourPaddingBot  = 2
	defaultMinHour  = 0
	defaultMaxHour  = 23
)

// Цветовая схема
var (
	bgColor        = color.RGBA{245, 246, 248, 255}
	textColor      = color.RGBA{80, 85, 90, 220}
	hourLabelColor = color.RGBA{110, 115, 120, 200}
	hourLineColor  = color.NRGBA{150, 150, 150, 255}
	evenDayColor   = color.NRGBA{240, 240, 240, 255}
	oddDayColor    = color.NRGBA{220, 220, 220, 255}
	todayBgColor   = color.NRGBA{255, 99, 71, 125}

	openColor     = color.RGBA{133, 193, 85, 220}  // Открытое окно
	bookedColor   = color.RGBA{255, 182, 193, 255} // Занятый слот
	slotTextColor = color.RGBA{20, 24, 28, 230}
	legendColor   = color.RGBA{90, 95, 100, 220}
)

// hourRange - диапазон отображаемых часов
type hourRange struct {
	start int
	end   int
	total int
}

// WeekPNG рисует неделю: days несёт оставшиеся открытые окна по датам,
// bookings - активные бронирования той же недели
func WeekPNG(weekStart time.Time, days []model.DaySchedule, bookings []*model.Booking) ([]byte, error) {
	hours := calculateHourRange(days, bookings)

	dc := gg.NewContext(imageWidth, imageHeight)
	dc.SetColor(bgColor)
	dc.Clear()
	dc.SetFontFace(basicfont.Face7x13)

	dayWidth := (imageWidth - leftLabelsWidth - legendWidth) / totalDays
	dayHeight := imageHeight - headerHeight
	cellHeight := float64(dayHeight) / float64(hours.total)

	drawHeader(dc, weekStart)
	drawHourLabels(dc, hours, cellHeight)

	windowsByDay := make(map[string][]model.TimeWindow, len(days))
	for _, d := range days {
		windowsByDay[d.Date.Format("2006-01-02")] = d.Windows
	}
	bookingsByDay := make(map[string][]*model.Booking, len(bookings))
	for _, b := range bookings {
		key := b.Date.Format("2006-01-02")
		bookingsByDay[key] = append(bookingsByDay[key], b)
	}

	today := time.Now()
	todayKey := today.Format("2006-01-02")

	for dayIndex := 0; dayIndex < totalDays; dayIndex++ {
		date := weekStart.AddDate(0, 0, dayIndex)
		key := date.Format("2006-01-02")
		x := float64(leftLabelsWidth + dayIndex*dayWidth)

		dayColor := evenDayColor
		if dayIndex%2 == 1 {
			dayColor = oddDayColor
		}
		if key == todayKey {
			dayColor = todayBgColor
		}
		dc.SetColor(dayColor)
		dc.DrawRectangle(x, headerHeight, float64(dayWidth), float64(dayHeight))
		dc.Fill()

		dc.SetColor(textColor)
		label := fmt.Sprintf("%s %02d", weekdayShortRussian(date.Weekday()), date.Day())
		dc.DrawStringAnchored(label, x+float64(dayWidth)/2, float64(headerHeight)-20, 0.5, 0.5)

		for _, w := range windowsByDay[key] {
			drawSlot(dc, x, w.StartMin, w.EndMin, hours, cellHeight, float64(dayWidth), openColor,
				fmt.Sprintf("%s - %s", minutesToClock(w.StartMin), minutesToClock(w.EndMin)))
		}
		for _, b := range bookingsByDay[key] {
			drawSlot(dc, x, b.StartMin, b.EndMin, hours, cellHeight, float64(dayWidth), bookedColor,
				fmt.Sprintf("%s - %s", minutesToClock(b.StartMin), minutesToClock(b.EndMin)))
		}
	}

	drawHourLines(dc, hours, cellHeight)
	drawLegend(dc)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// calculateHourRange подбирает диапазон часов так, чтобы все окна
// и бронирования попали в кадр с небольшим запасом сверху и снизу
func calculateHourRange(days []model.DaySchedule, bookings []*model.Booking) hourRange {
	minHour := 24
	maxHour := 0

	extend := func(startMin, endMin int) {
		startH := startMin / 60
		endH := endMin / 60
		if endMin%60 > 0 {
			endH++
		}
		if startH < minHour {
			minHour = startH
		}
		if endH > maxHour {
			maxHour = endH
		}
	}

	for _, d := range days {
		for _, w := range d.Windows {
			extend(w.StartMin, w.EndMin)
		}
	}
	for _, b := range bookings {
		extend(b.StartMin, b.EndMin)
	}

	if minHour == 24 {
		minHour = defaultMinHour
		maxHour = defaultMaxHour
	}

	startHour := minHour - hourPaddingTop
	endHour := maxHour + hourPaddingBot
	if startHour < 0 {
		startHour = 0
	}
	if endHour > 23 {
		endHour = 23
	}

	return hourRange{start: startHour, end: endHour, total: endHour - startHour + 1}
}

func drawHeader(dc *gg.Context, weekStart time.Time) {
	weekEnd := weekStart.AddDate(0, 0, 6)
	var title string
	if weekStart.Month() == weekEnd.Month() {
		title = monthNameRussian(weekStart.Month())
	} else {
		title = monthNameRussian(weekStart.Month()) + " - " + monthNameRussian(weekEnd.Month())
	}

	dc.SetColor(textColor)
	dc.DrawStringAnchored(title, imageWidth/2, float64(headerHeight)/3, 0.5, 0.5)
}

func drawHourLabels(dc *gg.Context, hours hourRange, cellHeight float64) {
	dc.SetColor(hourLabelColor)
	for hIdx := 0; hIdx < hours.total; hIdx++ {
		y := float64(headerHeight) + float64(hIdx)*cellHeight
		dc.DrawStringAnchored(fmt.Sprintf("%02d:00", hours.start+hIdx), float64(leftLabelsWidth)-10, y, 1, 0.5)
	}
}

func drawHourLines(dc *gg.Context, hours hourRange, cellHeight float64) {
	dc.SetColor(hourLineColor)
	dc.SetLineWidth(0.5)
	for hIdx := 0; hIdx <= hours.total; hIdx++ {
		y := float64(headerHeight) + float64(hIdx)*cellHeight
		dc.DrawLine(leftLabelsWidth, y, imageWidth-legendWidth, y)
		dc.Stroke()
	}
}

func drawSlot(dc *gg.Context, dayX float64, startMin, endMin int, hours hourRange, cellHeight, dayWidth float64, fill color.Color, label string) {
	gridStart := hours.start * 60
	y := float64(headerHeight) + float64(startMin-gridStart)/60*cellHeight
	h := float64(endMin-startMin) / 60 * cellHeight

	dc.SetColor(fill)
	dc.DrawRoundedRectangle(dayX+dayPaddingX, y, dayWidth-2*dayPaddingX, h, slotRadius)
	dc.Fill()

	if h >= 14 {
		dc.SetColor(slotTextColor)
		dc.DrawStringAnchored(label, dayX+dayWidth/2, y+h/2, 0.5, 0.5)
	}
}

func drawLegend(dc *gg.Context) {
	x := float64(imageWidth - legendWidth + 10)
	items := []struct {
		c    color.Color
		name string
	}{
		{openColor, "Свободно"},
		{bookedColor, "Занято"},
	}
	for i, item := range items {
		y := float64(headerHeight) + float64(i)*30
		dc.SetColor(item.c)
		dc.DrawRoundedRectangle(x, y, 18, 18, 4)
		dc.Fill()
		dc.SetColor(legendColor)
		dc.DrawStringAnchored(item.name, x+26, y+9, 0, 0.5)
	}
}

func minutesToClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func monthNameRussian(m time.Month) string {
	names := [...]string{
		"Январь", "Февраль", "Март", "Апрель", "Май", "Июнь",
		"Июль", "Август", "Сентябрь", "Октябрь", "Ноябрь", "Декабрь",
	}
	return names[m-1]
}

func weekdayShortRussian(d time.Weekday) string {
	names := [...]string{"Вс", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб"}
	return names[d]
}
