package scheduler

import (
	"time"
	_ "time/tzdata" // exchange timezone must resolve in minimal containers
)

// TradingCalendar answers whether and when the exchange trades on a date
type TradingCalendar interface {
	IsTradingDay(date time.Time) bool
	SessionBounds(date time.Time) (openAt, closeAt time.Time)
}

// WeekdayCalendar treats every weekday as a full 09:30-16:00 session in the
// exchange timezone. Holidays and early closes are not modelled.
type WeekdayCalendar struct {
	loc *time.Location
}

func NewWeekdayCalendar(loc *time.Location) *WeekdayCalendar {
	if loc == nil {
		loc = time.UTC
	}
	return &WeekdayCalendar{loc: loc}
}

// NewWeekdayCalendarIn loads the named timezone, e.g. America/New_York
func NewWeekdayCalendarIn(tz string) (*WeekdayCalendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	return NewWeekdayCalendar(loc), nil
}

func (c *WeekdayCalendar) IsTradingDay(date time.Time) bool {
	switch date.In(c.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

func (c *WeekdayCalendar) SessionBounds(date time.Time) (time.Time, time.Time) {
	d := date.In(c.loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, c.loc),
		time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, c.loc)
}

// CheckMarketHours reports whether now falls inside a regular session
func CheckMarketHours(cal TradingCalendar, now time.Time) bool {
	if !cal.IsTradingDay(now) {
		return false
	}
	openAt, closeAt := cal.SessionBounds(now)
	return !now.Before(openAt) && now.Before(closeAt)
}
