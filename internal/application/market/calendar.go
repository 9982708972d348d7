// Package market implements the NSE/BSE trading session calendar the
// scheduler consults before firing a cadence tick (spec §2).
package market

import "time"

// IST is the fixed exchange timezone. India does not observe DST so a
// static offset is safe.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// SessionCalendar reports whether now falls inside the NSE/BSE cash
// session (09:15-15:30 IST, Monday-Friday), minus a configurable holiday
// set for exchange-declared closures.
type SessionCalendar struct {
	Holidays map[string]struct{} // "2006-01-02" in IST
}

// NewSessionCalendar builds a calendar with the given holiday dates
// ("YYYY-MM-DD", IST).
func NewSessionCalendar(holidays []string) *SessionCalendar {
	h := make(map[string]struct{}, len(holidays))
	for _, d := range holidays {
		h[d] = struct{}{}
	}
	return &SessionCalendar{Holidays: h}
}

// IsOpen implements scheduler.MarketCalendar.
func (c *SessionCalendar) IsOpen(t time.Time) bool {
	t = t.In(IST)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	if _, closed := c.Holidays[t.Format("2006-01-02")]; closed {
		return false
	}
	open := time.Date(t.Year(), t.Month(), t.Day(), 9, 15, 0, 0, IST)
	close := time.Date(t.Year(), t.Month(), t.Day(), 15, 30, 0, 0, IST)
	return !t.Before(open) && !t.After(close)
}
