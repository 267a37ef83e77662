package reminder

import (
	"testing"
	"time"
)

func fixedZone(offset string) *time.Location {
	switch offset {
	case "+05:00":
		return time.FixedZone("UTC+05:00", 5*3600)
	case "-03:30":
		return time.FixedZone("UTC-03:30", -(3*3600 + 30*60))
	default:
		return time.UTC
	}
}

func TestRuleNextDaily(t *testing.T) {
	t.Parallel()

	loc := fixedZone("+05:00")
	rule := Rule{Kind: KindDaily, Hour: 8, Minute: 0}

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before target fires today",
			now:  time.Date(2026, 3, 10, 7, 59, 0, 0, loc),
			want: time.Date(2026, 3, 10, 8, 0, 0, 0, loc),
		},
		{
			name: "exactly at target rolls to tomorrow",
			now:  time.Date(2026, 3, 10, 8, 0, 0, 0, loc),
			want: time.Date(2026, 3, 11, 8, 0, 0, 0, loc),
		},
		{
			name: "after target rolls to tomorrow",
			now:  time.Date(2026, 3, 10, 8, 1, 0, 0, loc),
			want: time.Date(2026, 3, 11, 8, 0, 0, 0, loc),
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok, err := rule.Next(tc.now, loc)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !ok {
				t.Fatalf("Next returned ok=false")
			}
			if !got.Equal(tc.want) {
				t.Fatalf("Next = %v, want %v", got, tc.want.UTC())
			}
			if got.Location() != time.UTC {
				t.Fatalf("Next must return UTC, got %v", got.Location())
			}
		})
	}
}

func TestRuleNextWeekly(t *testing.T) {
	t.Parallel()

	loc := fixedZone("+05:00")
	// 2026-03-11 is a Wednesday.
	wed0900 := time.Date(2026, 3, 11, 9, 0, 0, 0, loc)

	cases := []struct {
		name string
		rule Rule
		now  time.Time
		want time.Time
	}{
		{
			name: "today qualifies when time not yet passed",
			rule: Rule{Kind: KindWeekly, Hour: 10, Minute: 0, Weekdays: []time.Weekday{time.Wednesday}},
			now:  wed0900,
			want: time.Date(2026, 3, 11, 10, 0, 0, 0, loc),
		},
		{
			name: "today skipped when time already passed",
			rule: Rule{Kind: KindWeekly, Hour: 8, Minute: 0, Weekdays: []time.Weekday{time.Monday, time.Wednesday}},
			now:  wed0900,
			want: time.Date(2026, 3, 16, 8, 0, 0, 0, loc), // next Monday
		},
		{
			name: "single day wraps a full week",
			rule: Rule{Kind: KindWeekly, Hour: 8, Minute: 0, Weekdays: []time.Weekday{time.Wednesday}},
			now:  wed0900,
			want: time.Date(2026, 3, 18, 8, 0, 0, 0, loc),
		},
		{
			name: "sunday handled despite go numbering",
			rule: Rule{Kind: KindWeekly, Hour: 12, Minute: 30, Weekdays: []time.Weekday{time.Sunday}},
			now:  wed0900,
			want: time.Date(2026, 3, 15, 12, 30, 0, 0, loc),
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok, err := tc.rule.Next(tc.now, loc)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !ok {
				t.Fatalf("Next returned ok=false")
			}
			if !got.Equal(tc.want) {
				t.Fatalf("Next = %v, want %v", got, tc.want.UTC())
			}
		})
	}
}

func TestRuleNextWeeklyEmptySet(t *testing.T) {
	t.Parallel()

	rule := Rule{Kind: KindWeekly, Hour: 8}
	_, ok, err := rule.Next(time.Now(), time.UTC)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ok {
		t.Fatal("empty weekday set must yield no instant")
	}
}

func TestRuleNextOnce(t *testing.T) {
	t.Parallel()

	loc := fixedZone("-03:30")
	rule := Rule{
		Kind:   KindOnce,
		Hour:   21,
		Minute: 15,
		Date:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}

	now := time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)
	got, ok, err := rule.Next(now, loc)
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	want := time.Date(2026, 5, 1, 21, 15, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want.UTC())
	}

	// Past instants are still returned; the caller decides what a missed
	// one-time fire means.
	past := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	got2, ok2, err := rule.Next(past, loc)
	if err != nil || !ok2 {
		t.Fatalf("Next(past): ok=%v err=%v", ok2, err)
	}
	if !got2.Equal(want) {
		t.Fatalf("Next(past) = %v, want %v", got2, want.UTC())
	}
}

func TestRuleNextOffsetSensitivity(t *testing.T) {
	t.Parallel()

	rule := Rule{Kind: KindDaily, Hour: 8, Minute: 0}
	now := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)

	plus5, ok, err := rule.Next(now, fixedZone("+05:00"))
	if err != nil || !ok {
		t.Fatalf("Next(+05:00): ok=%v err=%v", ok, err)
	}
	utc, ok, err := rule.Next(now, time.UTC)
	if err != nil || !ok {
		t.Fatalf("Next(UTC): ok=%v err=%v", ok, err)
	}

	// 08:00 at +05:00 is 03:00 UTC; 08:00 at UTC is 08:00 UTC.
	if want := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC); !plus5.Equal(want) {
		t.Fatalf("Next(+05:00) = %v, want %v", plus5, want)
	}
	if want := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC); !utc.Equal(want) {
		t.Fatalf("Next(UTC) = %v, want %v", utc, want)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		r       Reminder
		wantErr bool
	}{
		{"valid daily", Reminder{Message: "standup", Kind: KindDaily, Hour: 9}, false},
		{"valid weekly", Reminder{Message: "report", Kind: KindWeekly, Hour: 17, Weekdays: []time.Weekday{time.Friday}}, false},
		{"valid once", Reminder{Message: "dentist", Kind: KindOnce, Hour: 11, OnDate: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)}, false},
		{"empty message", Reminder{Message: "  ", Kind: KindDaily, Hour: 9}, true},
		{"hour out of range", Reminder{Message: "x", Kind: KindDaily, Hour: 24}, true},
		{"minute out of range", Reminder{Message: "x", Kind: KindDaily, Hour: 0, Minute: 60}, true},
		{"weekly without days", Reminder{Message: "x", Kind: KindWeekly, Hour: 9}, true},
		{"once without date", Reminder{Message: "x", Kind: KindOnce, Hour: 9}, true},
		{"unknown kind", Reminder{Message: "x", Kind: "monthly", Hour: 9}, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.r.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestWeekdayCodec(t *testing.T) {
	t.Parallel()

	in := []time.Weekday{time.Sunday, time.Monday, time.Friday, time.Monday}
	enc := EncodeWeekdays(in)
	if enc != "1,5,7" {
		t.Fatalf("EncodeWeekdays = %q, want %q", enc, "1,5,7")
	}
	out, err := DecodeWeekdays(enc)
	if err != nil {
		t.Fatalf("DecodeWeekdays: %v", err)
	}
	want := []time.Weekday{time.Monday, time.Friday, time.Sunday}
	if len(out) != len(want) {
		t.Fatalf("DecodeWeekdays = %v, want %v", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("DecodeWeekdays = %v, want %v", out, want)
		}
	}

	if _, err := DecodeWeekdays("0,2"); err == nil {
		t.Fatal("ISO weekday 0 must be rejected")
	}
	if _, err := DecodeWeekdays("mon"); err == nil {
		t.Fatal("non-numeric weekday must be rejected")
	}
}
