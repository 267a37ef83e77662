package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"remindo/internal/notes"
	"remindo/internal/reminder"
	logx "remindo/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "remindo.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestReminderLifecycle(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	next := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	r := &reminder.Reminder{
		UserID:      10,
		ChatID:      -100,
		TopicID:     7,
		Message:     "standup",
		Kind:        reminder.KindWeekly,
		Hour:        8,
		Minute:      30,
		Weekdays:    []time.Weekday{time.Monday, time.Friday},
		NextFireUTC: next,
	}
	id, err := st.CreateReminder(ctx, r)
	if err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	if id == 0 || r.ID != id {
		t.Fatalf("CreateReminder id = %d, r.ID = %d", id, r.ID)
	}

	got, err := st.ReminderByID(ctx, id)
	if err != nil {
		t.Fatalf("ReminderByID: %v", err)
	}
	if got.Message != "standup" || got.Kind != reminder.KindWeekly || got.Status != reminder.StatusActive {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.NextFireUTC.Equal(next) {
		t.Fatalf("NextFireUTC = %v, want %v", got.NextFireUTC, next)
	}
	if len(got.Weekdays) != 2 || got.Weekdays[0] != time.Monday || got.Weekdays[1] != time.Friday {
		t.Fatalf("Weekdays = %v", got.Weekdays)
	}

	active, err := st.ActiveReminders(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("ActiveReminders = %d items, err %v", len(active), err)
	}

	later := next.AddDate(0, 0, 7)
	if err := st.UpdateReminderNextFire(ctx, id, later); err != nil {
		t.Fatalf("UpdateReminderNextFire: %v", err)
	}
	if err := st.UpdateReminderStatus(ctx, id, reminder.StatusFailed, "target gone"); err != nil {
		t.Fatalf("UpdateReminderStatus: %v", err)
	}

	got, err = st.ReminderByID(ctx, id)
	if err != nil {
		t.Fatalf("ReminderByID: %v", err)
	}
	if !got.NextFireUTC.Equal(later) || got.Status != reminder.StatusFailed || got.LastError != "target gone" {
		t.Fatalf("after updates: %+v", got)
	}

	active, err = st.ActiveReminders(ctx)
	if err != nil || len(active) != 0 {
		t.Fatalf("ActiveReminders after fail = %d items, err %v", len(active), err)
	}

	// Failed rows stay visible in listings when asked for.
	list, err := st.ListReminders(ctx, ReminderFilter{UserID: 10, ChatID: -100, TopicID: 7, IncludeFailed: true})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListReminders(include failed) = %d items, err %v", len(list), err)
	}
	list, err = st.ListReminders(ctx, ReminderFilter{UserID: 10, ChatID: -100, TopicID: 7})
	if err != nil || len(list) != 0 {
		t.Fatalf("ListReminders(active only) = %d items, err %v", len(list), err)
	}
}

func TestReminderNotFound(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.ReminderByID(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReminderByID(missing) err = %v, want ErrNotFound", err)
	}
	if err := st.UpdateReminderStatus(ctx, 9999, reminder.StatusCancelled, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateReminderStatus(missing) err = %v, want ErrNotFound", err)
	}
}

func TestListRemindersAnyTopic(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	for _, topic := range []int{5, 9} {
		if _, err := st.CreateReminder(ctx, &reminder.Reminder{
			UserID: 10, ChatID: -100, TopicID: topic, Message: "m",
			Kind: reminder.KindDaily, Hour: 8,
		}); err != nil {
			t.Fatalf("CreateReminder(topic %d): %v", topic, err)
		}
	}

	list, err := st.ListReminders(ctx, ReminderFilter{ChatID: -100, TopicID: 5})
	if err != nil || len(list) != 1 {
		t.Fatalf("topic-scoped list = %d items, err %v", len(list), err)
	}
	list, err = st.ListReminders(ctx, ReminderFilter{ChatID: -100, AnyTopic: true})
	if err != nil || len(list) != 2 {
		t.Fatalf("chat-wide list = %d items, err %v", len(list), err)
	}
}

func TestPruneReminders(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	mk := func(status reminder.Status) int64 {
		r := &reminder.Reminder{UserID: 1, ChatID: 2, Message: "m", Kind: reminder.KindDaily, Hour: 9}
		id, err := st.CreateReminder(ctx, r)
		if err != nil {
			t.Fatalf("CreateReminder: %v", err)
		}
		if status != reminder.StatusActive {
			if err := st.UpdateReminderStatus(ctx, id, status, ""); err != nil {
				t.Fatalf("UpdateReminderStatus: %v", err)
			}
		}
		return id
	}
	activeID := mk(reminder.StatusActive)
	mk(reminder.StatusFired)
	mk(reminder.StatusCancelled)

	n, err := st.PruneReminders(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneReminders: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned %d rows, want 2", n)
	}
	if _, err := st.ReminderByID(ctx, activeID); err != nil {
		t.Fatalf("active reminder must survive prune: %v", err)
	}
}

func TestTimezonePrefs(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	_, found, err := st.TimezoneOffset(ctx, 1, "user")
	if err != nil || found {
		t.Fatalf("TimezoneOffset(empty) = found=%v err=%v", found, err)
	}

	if err := st.SetTimezoneOffset(ctx, 1, "user", "+03:00"); err != nil {
		t.Fatalf("SetTimezoneOffset: %v", err)
	}
	// Upsert replaces.
	if err := st.SetTimezoneOffset(ctx, 1, "user", "-04:00"); err != nil {
		t.Fatalf("SetTimezoneOffset(upsert): %v", err)
	}
	off, found, err := st.TimezoneOffset(ctx, 1, "user")
	if err != nil || !found || off != "-04:00" {
		t.Fatalf("TimezoneOffset = %q found=%v err=%v", off, found, err)
	}

	// user and chat entries with the same id are distinct.
	if err := st.SetTimezoneOffset(ctx, 1, "chat", "+08:00"); err != nil {
		t.Fatalf("SetTimezoneOffset(chat): %v", err)
	}
	off, _, _ = st.TimezoneOffset(ctx, 1, "user")
	if off != "-04:00" {
		t.Fatalf("user offset clobbered by chat write: %q", off)
	}
}

func TestNotesCRUDAndSearch(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	ids := make([]int64, 0, 3)
	for _, text := range []string{"buy milk", "Call the Plumber", "milk the deadline"} {
		n := &notes.Note{UserID: 5, ChatID: 6, TopicID: 0, MessageID: 100, Text: text}
		id, err := st.CreateNote(ctx, n)
		if err != nil {
			t.Fatalf("CreateNote(%q): %v", text, err)
		}
		ids = append(ids, id)
	}

	all, err := st.ListNotes(ctx, 5, 6, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListNotes = %d items, err %v", len(all), err)
	}

	hits, err := st.SearchNotes(ctx, 5, 6, 0, "MILK")
	if err != nil {
		t.Fatalf("SearchNotes: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("SearchNotes(MILK) = %d hits, want 2", len(hits))
	}

	if err := st.UpdateNoteText(ctx, ids[0], "buy oat milk"); err != nil {
		t.Fatalf("UpdateNoteText: %v", err)
	}
	n, err := st.NoteByID(ctx, ids[0])
	if err != nil || n.Text != "buy oat milk" {
		t.Fatalf("NoteByID after edit = %+v, err %v", n, err)
	}

	if err := st.DeleteNote(ctx, ids[1]); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if _, err := st.NoteByID(ctx, ids[1]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("NoteByID(deleted) err = %v, want ErrNotFound", err)
	}

	if _, err := st.CreateNote(ctx, &notes.Note{UserID: 5, ChatID: 6, Text: "   "}); err == nil {
		t.Fatal("CreateNote must reject empty text")
	}
}
