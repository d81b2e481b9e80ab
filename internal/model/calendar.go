package model

import "time"

// CalendarDay is one grid cell.
type CalendarDay struct {
	Date                  time.Time         `json:"date"`
	IsToday               bool              `json:"is_today"`
	IsWeekend             bool              `json:"is_weekend"`
	IsOutsideCurrentMonth bool              `json:"is_outside_current_month"`
	Occurrences           []EventOccurrence `json:"occurrences"`
}

// CalendarWeek always holds exactly seven days, starting on the configured
// week-start day.
type CalendarWeek [7]CalendarDay

// CalendarMonth covers the full weeks containing the first and last day of
// the month.
type CalendarMonth struct {
	Year  int            `json:"year"`
	Month time.Month     `json:"month"`
	Weeks []CalendarWeek `json:"weeks"`
}

// Days flattens the month grid in display order.
func (m CalendarMonth) Days() []CalendarDay {
	out := make([]CalendarDay, 0, len(m.Weeks)*7)
	for _, w := range m.Weeks {
		out = append(out, w[:]...)
	}
	return out
}
