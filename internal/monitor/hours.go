package monitor

import (
	"fmt"
	"time"
)

// MarketHours answers whether the exchange session is open at a given
// instant, in the exchange's own timezone.
type MarketHours struct {
	loc      *time.Location
	openMin  int
	closeMin int
}

// NewMarketHours builds a MarketHours for the given IANA timezone and
// "HH:MM" open/close times.
func NewMarketHours(timezone, open, close string) (*MarketHours, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("monitor: load timezone %q: %w", timezone, err)
	}
	openMin, err := parseHHMM(open)
	if err != nil {
		return nil, fmt.Errorf("monitor: open time: %w", err)
	}
	closeMin, err := parseHHMM(close)
	if err != nil {
		return nil, fmt.Errorf("monitor: close time: %w", err)
	}
	if closeMin <= openMin {
		return nil, fmt.Errorf("monitor: close %s must be after open %s", close, open)
	}
	return &MarketHours{loc: loc, openMin: openMin, closeMin: closeMin}, nil
}

// Open reports whether t falls inside the trading session. Weekends are
// always closed; exchange holidays are not modeled.
func (h *MarketHours) Open(t time.Time) bool {
	lt := t.In(h.loc)
	if wd := lt.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	m := lt.Hour()*60 + lt.Minute()
	return m >= h.openMin && m <= h.closeMin
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
