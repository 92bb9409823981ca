package queue

import (
	"time"
)

// SmartWindowFunc picks the next delivery instant for SMART_TIMING.
//
// It returns false when no suitable window exists in the near term, in which
// case the queue falls back to a fixed forward offset. The heuristic is
// deliberately pluggable; DefaultSmartWindow is the documented default.
type SmartWindowFunc func(now time.Time, preferredHours []int) (time.Time, bool)

// DefaultSmartWindow returns now when the current hour is already a
// preferred delivery hour, otherwise the first top-of-hour within the next
// 24 hours whose hour is preferred.
func DefaultSmartWindow(now time.Time, preferredHours []int) (time.Time, bool) {
	if len(preferredHours) == 0 {
		return time.Time{}, false
	}
	if hourPreferred(now.Hour(), preferredHours) {
		return now, true
	}
	t := nextTopOfHour(now)
	for i := 0; i < 24; i++ {
		if hourPreferred(t.Hour(), preferredHours) {
			return t, true
		}
		t = t.Add(time.Hour)
	}
	return time.Time{}, false
}

func hourPreferred(h int, preferred []int) bool {
	for _, p := range preferred {
		if p == h {
			return true
		}
	}
	return false
}

// nextTopOfHour is the next hour boundary strictly after now.
func nextTopOfHour(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location()).
		Add(time.Hour)
}

// nextMidnight is the next midnight strictly after now.
func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		AddDate(0, 0, 1)
}
