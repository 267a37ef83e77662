package reminder

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind describes how a reminder repeats.
type Kind string

const (
	KindOnce   Kind = "once"
	KindDaily  Kind = "daily"
	KindWeekly Kind = "weekly"
)

// Status is the reminder lifecycle state.
//
// fired and cancelled are terminal. failed is terminal too and marks a
// permanent delivery failure (target chat/topic gone), so listings can
// surface "delivery failed" instead of the reminder silently vanishing.
type Status string

const (
	StatusActive    Status = "active"
	StatusFired     Status = "fired"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no future fire may ever be armed for st.
func (st Status) Terminal() bool { return st != StatusActive }

// Reminder is a single scheduled notification, one-time or recurring.
//
// Hour/Minute are local wall-clock values. They are interpreted against the
// owner's timezone offset at fire-computation time, never at creation time,
// so changing the offset moves all future fires.
type Reminder struct {
	ID      int64
	UserID  int64
	ChatID  int64
	TopicID int // forum topic thread id; 0 means the general topic

	Message string
	Kind    Kind
	Hour    int
	Minute  int

	// Weekdays is set only for KindWeekly and is never empty then.
	Weekdays []time.Weekday

	// OnDate is set only for KindOnce (date part only, location ignored).
	OnDate time.Time

	// NextFireUTC is the single source of truth the scheduler acts on.
	// It is recomputed on every mutation of the fields above and on
	// timezone changes.
	NextFireUTC time.Time

	Status    Status
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	ErrEmptyMessage   = errors.New("reminder message is empty")
	ErrBadTimeOfDay   = errors.New("time of day out of range")
	ErrNoWeekdays     = errors.New("weekly reminder needs at least one weekday")
	ErrNoDate         = errors.New("one-time reminder needs a date")
	ErrUnexpectedKind = errors.New("unknown reminder kind")
)

// Validate enforces the kind/field pairing at the creation and edit
// boundary. Reminders that fail validation must never reach the scheduler.
func (r *Reminder) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("%w: %02d:%02d", ErrBadTimeOfDay, r.Hour, r.Minute)
	}
	switch r.Kind {
	case KindOnce:
		if r.OnDate.IsZero() {
			return ErrNoDate
		}
	case KindDaily:
		// No extra fields.
	case KindWeekly:
		if len(r.Weekdays) == 0 {
			return ErrNoWeekdays
		}
		for _, wd := range r.Weekdays {
			if wd < time.Sunday || wd > time.Saturday {
				return fmt.Errorf("invalid weekday %d", int(wd))
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnexpectedKind, r.Kind)
	}
	return nil
}

// Rule extracts the recurrence rule from the reminder's fields.
func (r *Reminder) Rule() Rule {
	return Rule{
		Kind:     r.Kind,
		Hour:     r.Hour,
		Minute:   r.Minute,
		Weekdays: r.Weekdays,
		Date:     r.OnDate,
	}
}

// Recurring reports whether the reminder re-arms after a successful fire.
func (r *Reminder) Recurring() bool { return r.Kind == KindDaily || r.Kind == KindWeekly }

// ---- weekday encoding ----
//
// Weekdays are persisted and displayed in ISO order (Mon=1 .. Sun=7),
// matching what users type ("every week on mon,fri at 09:00").

// ISOWeekday converts time.Weekday to ISO-8601 numbering.
func ISOWeekday(wd time.Weekday) int {
	if wd == time.Sunday {
		return 7
	}
	return int(wd)
}

// WeekdayFromISO converts ISO-8601 numbering back to time.Weekday.
func WeekdayFromISO(n int) (time.Weekday, error) {
	if n < 1 || n > 7 {
		return 0, fmt.Errorf("invalid ISO weekday %d", n)
	}
	if n == 7 {
		return time.Sunday, nil
	}
	return time.Weekday(n), nil
}

// EncodeWeekdays renders a weekday set as a sorted ISO CSV, e.g. "1,3,5".
func EncodeWeekdays(days []time.Weekday) string {
	if len(days) == 0 {
		return ""
	}
	iso := make([]int, 0, len(days))
	seen := map[int]bool{}
	for _, d := range days {
		n := ISOWeekday(d)
		if !seen[n] {
			seen[n] = true
			iso = append(iso, n)
		}
	}
	sort.Ints(iso)
	parts := make([]string, len(iso))
	for i, n := range iso {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// DecodeWeekdays parses the ISO CSV produced by EncodeWeekdays.
func DecodeWeekdays(s string) ([]time.Weekday, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("weekdays %q: %w", s, err)
		}
		wd, err := WeekdayFromISO(n)
		if err != nil {
			return nil, err
		}
		out = append(out, wd)
	}
	return out, nil
}
