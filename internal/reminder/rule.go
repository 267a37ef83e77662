package reminder

import (
	"fmt"
	"time"
)

// Rule is a pure recurrence rule. Next is the only scheduling math in the
// program; everything else (timers, persistence, delivery) consumes its
// output.
type Rule struct {
	Kind     Kind
	Hour     int
	Minute   int
	Weekdays []time.Weekday // weekly only
	Date     time.Time      // once only, date part in any location
}

// Next computes the next fire instant strictly after now, evaluated in loc
// and returned in UTC.
//
// KindOnce is the exception to "strictly after": it returns its single
// instant even when that instant is already in the past. Whether a past
// one-time instant fires immediately (missed fire on restart) or is a user
// error (creation of a reminder in the past) is a boundary decision, not a
// rule decision.
//
// ok is false only when the rule can produce no instant at all
// (weekly with an empty weekday set).
func (ru Rule) Next(now time.Time, loc *time.Location) (at time.Time, ok bool, err error) {
	if loc == nil {
		loc = time.UTC
	}
	switch ru.Kind {
	case KindOnce:
		if ru.Date.IsZero() {
			return time.Time{}, false, ErrNoDate
		}
		y, m, d := ru.Date.Date()
		return time.Date(y, m, d, ru.Hour, ru.Minute, 0, 0, loc).UTC(), true, nil

	case KindDaily:
		local := now.In(loc)
		cand := time.Date(local.Year(), local.Month(), local.Day(), ru.Hour, ru.Minute, 0, 0, loc)
		if !cand.After(local) {
			cand = cand.Add(24 * time.Hour)
		}
		return cand.UTC(), true, nil

	case KindWeekly:
		if len(ru.Weekdays) == 0 {
			return time.Time{}, false, nil
		}
		want := map[time.Weekday]bool{}
		for _, wd := range ru.Weekdays {
			want[wd] = true
		}
		local := now.In(loc)
		// Day 7 revisits today's weekday one week out, so a match is
		// guaranteed within the scan.
		for off := 0; off <= 7; off++ {
			day := local.AddDate(0, 0, off)
			if !want[day.Weekday()] {
				continue
			}
			cand := time.Date(day.Year(), day.Month(), day.Day(), ru.Hour, ru.Minute, 0, 0, loc)
			if cand.After(local) {
				return cand.UTC(), true, nil
			}
		}
		return time.Time{}, false, nil

	default:
		return time.Time{}, false, fmt.Errorf("%w: %q", ErrUnexpectedKind, ru.Kind)
	}
}
