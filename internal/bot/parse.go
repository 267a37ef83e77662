package bot

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"remindo/internal/reminder"
)

// Spec is a parsed /remind argument: the recurrence fields plus the
// message text. It carries no timezone; the caller resolves one and feeds
// both into the rule.
//
// Resolution is whole minutes. Relative forms ("in 1m") land on the target
// minute with seconds dropped, so a fire can come up to 59s before the
// literal duration elapses. Reminders are clock-time appointments, not
// stopwatches.
type Spec struct {
	Kind     reminder.Kind
	Hour     int
	Minute   int
	Weekdays []time.Weekday
	OnDate   time.Time
	Message  string
}

var ErrBadSpec = errors.New("unrecognized reminder format")

var (
	reIn       = regexp.MustCompile(`^in\s+(\d+)\s*(m|min|mins|minutes?|h|hr|hrs|hours?|d|days?)\s+(.+)$`)
	reAt       = regexp.MustCompile(`^(?:today\s+)?at\s+(\d{1,2}):(\d{2})\s+(.+)$`)
	reTomorrow = regexp.MustCompile(`^tomorrow\s+at\s+(\d{1,2}):(\d{2})\s+(.+)$`)
	reOnDate   = regexp.MustCompile(`^(?:on\s+)?(\d{4})-(\d{2})-(\d{2})\s+(?:at\s+)?(\d{1,2}):(\d{2})\s+(.+)$`)
	reDaily    = regexp.MustCompile(`^every\s+day\s+at\s+(\d{1,2}):(\d{2})\s+(.+)$`)
	reWeekly   = regexp.MustCompile(`^every\s+week\s+on\s+([a-z,\s]+?)\s+at\s+(\d{1,2}):(\d{2})\s+(.+)$`)
)

var weekdayNames = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
}

// ParseSpec turns a /remind argument into a Spec. now and loc anchor the
// relative forms ("in 10m", "today", "tomorrow") to the user's local
// calendar.
func ParseSpec(text string, now time.Time, loc *time.Location) (*Spec, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := strings.TrimSpace(text)
	lower := strings.ToLower(s)
	local := now.In(loc)

	if m := reIn.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: bad duration %q", ErrBadSpec, m[1])
		}
		var d time.Duration
		switch m[2][0] {
		case 'm':
			d = time.Duration(n) * time.Minute
		case 'h':
			d = time.Duration(n) * time.Hour
		case 'd':
			d = time.Duration(n) * 24 * time.Hour
		}
		target := local.Add(d)
		return &Spec{
			Kind:    reminder.KindOnce,
			Hour:    target.Hour(),
			Minute:  target.Minute(),
			OnDate:  dateOf(target),
			Message: originalTail(s, m[3]),
		}, nil
	}

	if m := reTomorrow.FindStringSubmatch(lower); m != nil {
		hh, mm, err := parseClock(m[1], m[2])
		if err != nil {
			return nil, err
		}
		return &Spec{
			Kind:    reminder.KindOnce,
			Hour:    hh,
			Minute:  mm,
			OnDate:  dateOf(local.AddDate(0, 0, 1)),
			Message: originalTail(s, m[3]),
		}, nil
	}

	if m := reOnDate.FindStringSubmatch(lower); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		hh, mm, err := parseClock(m[4], m[5])
		if err != nil {
			return nil, err
		}
		date := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
		if date.Year() != y || date.Month() != time.Month(mo) || date.Day() != d {
			return nil, fmt.Errorf("%w: invalid date %s-%s-%s", ErrBadSpec, m[1], m[2], m[3])
		}
		return &Spec{
			Kind:    reminder.KindOnce,
			Hour:    hh,
			Minute:  mm,
			OnDate:  date,
			Message: originalTail(s, m[6]),
		}, nil
	}

	if m := reDaily.FindStringSubmatch(lower); m != nil {
		hh, mm, err := parseClock(m[1], m[2])
		if err != nil {
			return nil, err
		}
		return &Spec{Kind: reminder.KindDaily, Hour: hh, Minute: mm, Message: originalTail(s, m[3])}, nil
	}

	if m := reWeekly.FindStringSubmatch(lower); m != nil {
		days, err := parseWeekdayList(m[1])
		if err != nil {
			return nil, err
		}
		hh, mm, err := parseClock(m[2], m[3])
		if err != nil {
			return nil, err
		}
		return &Spec{Kind: reminder.KindWeekly, Hour: hh, Minute: mm, Weekdays: days, Message: originalTail(s, m[4])}, nil
	}

	if m := reAt.FindStringSubmatch(lower); m != nil {
		hh, mm, err := parseClock(m[1], m[2])
		if err != nil {
			return nil, err
		}
		// "at 08:00" means today if still ahead, otherwise tomorrow.
		target := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, loc)
		if !target.After(local) {
			target = target.AddDate(0, 0, 1)
		}
		return &Spec{
			Kind:    reminder.KindOnce,
			Hour:    hh,
			Minute:  mm,
			OnDate:  dateOf(target),
			Message: originalTail(s, m[3]),
		}, nil
	}

	return nil, ErrBadSpec
}

func parseClock(hs, ms string) (int, int, error) {
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: hour %q", ErrBadSpec, hs)
	}
	m, err := strconv.Atoi(ms)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: minute %q", ErrBadSpec, ms)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%w: time %02d:%02d out of range", ErrBadSpec, h, m)
	}
	return h, m, nil
}

func parseWeekdayList(s string) ([]time.Weekday, error) {
	var out []time.Weekday
	seen := map[time.Weekday]bool{}
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		wd, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown weekday %q", ErrBadSpec, name)
		}
		if !seen[wd] {
			seen[wd] = true
			out = append(out, wd)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no weekdays given", ErrBadSpec)
	}
	return out, nil
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// originalTail recovers the message in its original casing. The regexes run
// on the lowercased input, so the tail is sliced from the original by
// length.
func originalTail(original, lowerTail string) string {
	if len(lowerTail) > len(original) {
		return lowerTail
	}
	return strings.TrimSpace(original[len(original)-len(lowerTail):])
}
