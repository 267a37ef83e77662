package storage

import (
	"context"
	"errors"
	"time"

	"remindo/internal/notes"
	"remindo/internal/reminder"
)

// ErrNotFound is returned for lookups of rows that do not exist.
var ErrNotFound = errors.New("not found")

type Config struct {
	// Path to the sqlite database file. Parent directories are created.
	Path string
	// BusyTimeout for sqlite lock contention.
	BusyTimeout time.Duration
}

// ReminderFilter narrows listing queries. Zero values mean "any" except
// TopicID, which only applies when AnyTopic is false.
type ReminderFilter struct {
	UserID   int64
	ChatID   int64
	TopicID  int
	AnyTopic bool
	// IncludeFailed keeps permanently failed reminders in listings so users
	// can see why a reminder stopped.
	IncludeFailed bool
}

// Store is the persistence surface of the bot. Consumers should depend on
// the narrow slice they need (tz.Store, scheduler.Store, notes.Store);
// this interface exists for wiring and tests.
type Store interface {
	// Reminders.
	CreateReminder(ctx context.Context, r *reminder.Reminder) (int64, error)
	ReminderByID(ctx context.Context, id int64) (*reminder.Reminder, error)
	ActiveReminders(ctx context.Context) ([]*reminder.Reminder, error)
	ActiveRemindersByUser(ctx context.Context, userID int64) ([]*reminder.Reminder, error)
	ListReminders(ctx context.Context, f ReminderFilter) ([]*reminder.Reminder, error)
	UpdateReminder(ctx context.Context, r *reminder.Reminder) error
	UpdateReminderNextFire(ctx context.Context, id int64, at time.Time) error
	UpdateReminderStatus(ctx context.Context, id int64, st reminder.Status, lastErr string) error
	PruneReminders(ctx context.Context, olderThan time.Time) (int64, error)

	// Timezone preferences.
	TimezoneOffset(ctx context.Context, entityID int64, entityType string) (string, bool, error)
	SetTimezoneOffset(ctx context.Context, entityID int64, entityType, offset string) error

	// Notes.
	CreateNote(ctx context.Context, n *notes.Note) (int64, error)
	NoteByID(ctx context.Context, id int64) (*notes.Note, error)
	ListNotes(ctx context.Context, userID, chatID int64, topicID int) ([]*notes.Note, error)
	SearchNotes(ctx context.Context, userID, chatID int64, topicID int, query string) ([]*notes.Note, error)
	UpdateNoteText(ctx context.Context, id int64, text string) error
	DeleteNote(ctx context.Context, id int64) error

	Close() error
}
