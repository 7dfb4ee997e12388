package persistence

import (
	"fmt"
	"time"

	"manhole-inspection/internal/model"
)

// Period selects how far back an inspection history reaches.
type Period string

const (
	PeriodAll     Period = "all"
	Period1Month  Period = "1month"
	Period3Months Period = "3months"
	Period6Months Period = "6months"
	Period1Year   Period = "1year"
)

var periodDays = map[Period]int{
	PeriodAll:     0,
	Period1Month:  30,
	Period3Months: 90,
	Period6Months: 180,
	Period1Year:   365,
}

// Days returns the window length; 0 means unbounded.
func (p Period) Days() (int, error) {
	if p == "" {
		return 0, nil
	}
	d, ok := periodDays[p]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, string(p))
	}
	return d, nil
}

// withinDays keeps inspections dated on or after now minus days.
// Inspections with an unparseable date never match a bounded window.
func withinDays(list []model.Inspection, days int, now time.Time) []model.Inspection {
	if days <= 0 {
		return list
	}
	cutoff := now.AddDate(0, 0, -days)
	out := list[:0]
	for _, insp := range list {
		if d, ok := insp.Date(); ok && !d.Before(cutoff) {
			out = append(out, insp)
		}
	}
	return out
}

func inMonth(list []model.Inspection, year int, month time.Month) []model.Inspection {
	out := make([]model.Inspection, 0)
	for _, insp := range list {
		if d, ok := insp.Date(); ok && d.Year() == year && d.Month() == month {
			out = append(out, insp)
		}
	}
	return out
}
