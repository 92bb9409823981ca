package dnd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid marks validation failures (malformed times, out-of-range
// durations, empty weekday sets). Check with errors.Is.
var ErrInvalid = errors.New("invalid dnd input")

// Type distinguishes recurring schedule kinds.
type Type string

const (
	TypeDaily  Type = "daily"
	TypeWeekly Type = "weekly"
)

// Exception allows specific notifications to bypass an active DND window.
type Exception string

const (
	AllowCritical  Exception = "allow_critical"
	AllowFavorites Exception = "allow_favorites"
)

// Schedule is one recurring quiet-hours window owned by a user.
//
// Start/End are "HH:MM" local times. Start > End means the window wraps past
// midnight and spans two calendar days. Days is required for weekly schedules
// and ignored for daily ones.
type Schedule struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Start      string         `json:"start"`
	End        string         `json:"end"`
	Days       []time.Weekday `json:"days,omitempty"`
	Exceptions []Exception    `json:"exceptions,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (s Schedule) hasException(e Exception) bool {
	for _, x := range s.Exceptions {
		if x == e {
			return true
		}
	}
	return false
}

func (s Schedule) hasDay(d time.Weekday) bool {
	for _, x := range s.Days {
		if x == d {
			return true
		}
	}
	return false
}

// activeAt reports whether the window contains t, and if so the instant the
// window next closes.
func (s Schedule) activeAt(t time.Time) (bool, time.Time) {
	start, err := parseClock(s.Start)
	if err != nil {
		return false, time.Time{}
	}
	end, err := parseClock(s.End)
	if err != nil {
		return false, time.Time{}
	}

	cur := t.Hour()*60 + t.Minute()

	if start < end {
		// Same-day window.
		in := cur >= start && cur < end
		if !in {
			return false, time.Time{}
		}
		if s.Type == TypeWeekly && !s.hasDay(t.Weekday()) {
			return false, time.Time{}
		}
		return true, clockToday(t, end)
	}
	if start == end {
		return false, time.Time{}
	}

	// Overnight wrap: active from start today until end tomorrow.
	switch {
	case cur >= start:
		// Evening half; the window began today.
		if s.Type == TypeWeekly && !s.hasDay(t.Weekday()) {
			return false, time.Time{}
		}
		return true, clockToday(t, end).AddDate(0, 0, 1)
	case cur < end:
		// Morning half; the window began yesterday.
		if s.Type == TypeWeekly && !s.hasDay(t.AddDate(0, 0, -1).Weekday()) {
			return false, time.Time{}
		}
		return true, clockToday(t, end)
	default:
		return false, time.Time{}
	}
}

func (s Schedule) validate() error {
	if s.Type != TypeDaily && s.Type != TypeWeekly {
		return fmt.Errorf("%w: unknown schedule type %q", ErrInvalid, string(s.Type))
	}
	if _, err := parseClock(s.Start); err != nil {
		return fmt.Errorf("%w: start: %v", ErrInvalid, err)
	}
	if _, err := parseClock(s.End); err != nil {
		return fmt.Errorf("%w: end: %v", ErrInvalid, err)
	}
	if s.Type == TypeWeekly {
		if len(s.Days) == 0 {
			return fmt.Errorf("%w: weekly schedule requires a non-empty weekday set", ErrInvalid)
		}
		for _, d := range s.Days {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("%w: weekday %d out of range", ErrInvalid, int(d))
			}
		}
	}
	for _, e := range s.Exceptions {
		if e != AllowCritical && e != AllowFavorites {
			return fmt.Errorf("%w: unknown exception %q", ErrInvalid, string(e))
		}
	}
	return nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("time %q has invalid hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q has invalid minute", s)
	}
	return h*60 + m, nil
}

// clockToday places a minutes-since-midnight clock value on t's calendar day.
func clockToday(t time.Time, minutes int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), minutes/60, minutes%60, 0, 0, t.Location())
}
