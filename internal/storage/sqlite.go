package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindo/internal/notes"
	"remindo/internal/reminder"
	logx "remindo/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339Nano
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open creates or opens the sqlite database and applies migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if log.IsZero() {
		log = logx.Nop()
	}
	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- reminders ----

const reminderCols = `id, user_id, chat_id, topic_id, message, kind, hour, minute,
	weekdays, on_date, next_fire_utc, status, last_error, created_at, updated_at`

func (s *sqliteStore) CreateReminder(ctx context.Context, r *reminder.Reminder) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = reminder.StatusActive
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(user_id, chat_id, topic_id, message, kind, hour, minute,
			weekdays, on_date, next_fire_utc, status, last_error, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.UserID, r.ChatID, r.TopicID, r.Message, string(r.Kind), r.Hour, r.Minute,
		reminder.EncodeWeekdays(r.Weekdays), encodeDate(r.OnDate), encodeInstant(r.NextFireUTC),
		string(r.Status), r.LastError, r.CreatedAt.Format(timeLayout), r.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

func (s *sqliteStore) ReminderByID(ctx context.Context, id int64) (*reminder.Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *sqliteStore) ActiveReminders(ctx context.Context) ([]*reminder.Reminder, error) {
	return s.queryReminders(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE status = ? ORDER BY next_fire_utc`,
		string(reminder.StatusActive))
}

func (s *sqliteStore) ActiveRemindersByUser(ctx context.Context, userID int64) ([]*reminder.Reminder, error) {
	return s.queryReminders(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE status = ? AND user_id = ? ORDER BY next_fire_utc`,
		string(reminder.StatusActive), userID)
}

func (s *sqliteStore) ListReminders(ctx context.Context, f ReminderFilter) ([]*reminder.Reminder, error) {
	var (
		where []string
		args  []any
	)
	if f.IncludeFailed {
		where = append(where, "status IN (?, ?)")
		args = append(args, string(reminder.StatusActive), string(reminder.StatusFailed))
	} else {
		where = append(where, "status = ?")
		args = append(args, string(reminder.StatusActive))
	}
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ChatID != 0 {
		where = append(where, "chat_id = ?")
		args = append(args, f.ChatID)
	}
	if !f.AnyTopic {
		where = append(where, "topic_id = ?")
		args = append(args, f.TopicID)
	}
	q := `SELECT ` + reminderCols + ` FROM reminders WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY next_fire_utc`
	return s.queryReminders(ctx, q, args...)
}

func (s *sqliteStore) UpdateReminder(ctx context.Context, r *reminder.Reminder) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET message=?, kind=?, hour=?, minute=?, weekdays=?, on_date=?,
			next_fire_utc=?, status=?, last_error=?, updated_at=?
		 WHERE id=?`,
		r.Message, string(r.Kind), r.Hour, r.Minute, reminder.EncodeWeekdays(r.Weekdays),
		encodeDate(r.OnDate), encodeInstant(r.NextFireUTC), string(r.Status), r.LastError,
		r.UpdatedAt.Format(timeLayout), r.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) UpdateReminderNextFire(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET next_fire_utc=?, updated_at=? WHERE id=?`,
		encodeInstant(at), time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) UpdateReminderStatus(ctx context.Context, id int64, st reminder.Status, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status=?, last_error=?, updated_at=? WHERE id=?`,
		string(st), lastErr, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// PruneReminders removes terminal rows last touched before olderThan.
func (s *sqliteStore) PruneReminders(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE status IN (?,?,?) AND updated_at < ?`,
		string(reminder.StatusFired), string(reminder.StatusCancelled), string(reminder.StatusFailed),
		olderThan.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) queryReminders(ctx context.Context, q string, args ...any) ([]*reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*reminder.Reminder, error) {
	var (
		r                    reminder.Reminder
		kind, status         string
		weekdays, onDate     string
		nextFire             int64
		createdAt, updatedAt string
	)
	err := row.Scan(&r.ID, &r.UserID, &r.ChatID, &r.TopicID, &r.Message, &kind, &r.Hour, &r.Minute,
		&weekdays, &onDate, &nextFire, &status, &r.LastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.Kind = reminder.Kind(kind)
	r.Status = reminder.Status(status)
	if r.Weekdays, err = reminder.DecodeWeekdays(weekdays); err != nil {
		return nil, fmt.Errorf("reminder %d: %w", r.ID, err)
	}
	if r.OnDate, err = decodeDate(onDate); err != nil {
		return nil, fmt.Errorf("reminder %d: %w", r.ID, err)
	}
	r.NextFireUTC = decodeInstant(nextFire)
	if r.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("reminder %d: %w", r.ID, err)
	}
	if r.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, fmt.Errorf("reminder %d: %w", r.ID, err)
	}
	return &r, nil
}

// ---- timezone preferences ----

func (s *sqliteStore) TimezoneOffset(ctx context.Context, entityID int64, entityType string) (string, bool, error) {
	var off string
	err := s.db.QueryRowContext(ctx,
		`SELECT utc_offset FROM timezone_prefs WHERE entity_id = ? AND entity_type = ?`,
		entityID, entityType).Scan(&off)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return off, true, nil
}

func (s *sqliteStore) SetTimezoneOffset(ctx context.Context, entityID int64, entityType, offset string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timezone_prefs(entity_id, entity_type, utc_offset, updated_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(entity_id, entity_type) DO UPDATE SET
			utc_offset=excluded.utc_offset, updated_at=excluded.updated_at`,
		entityID, entityType, offset, time.Now().UTC().Format(timeLayout))
	return err
}

// ---- notes ----

const noteCols = `id, user_id, chat_id, topic_id, message_id, text, link, created_at, updated_at`

func (s *sqliteStore) CreateNote(ctx context.Context, n *notes.Note) (int64, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notes(user_id, chat_id, topic_id, message_id, text, link, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		n.UserID, n.ChatID, n.TopicID, n.MessageID, n.Text, n.Link,
		n.CreatedAt.Format(timeLayout), n.UpdatedAt.Format(timeLayout))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	n.ID = id
	return id, nil
}

func (s *sqliteStore) NoteByID(ctx context.Context, id int64) (*notes.Note, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+noteCols+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

func (s *sqliteStore) ListNotes(ctx context.Context, userID, chatID int64, topicID int) ([]*notes.Note, error) {
	return s.queryNotes(ctx,
		`SELECT `+noteCols+` FROM notes WHERE user_id=? AND chat_id=? AND topic_id=? ORDER BY id`,
		userID, chatID, topicID)
}

func (s *sqliteStore) SearchNotes(ctx context.Context, userID, chatID int64, topicID int, query string) ([]*notes.Note, error) {
	// Case-insensitive substring match. instr avoids LIKE wildcard escaping.
	return s.queryNotes(ctx,
		`SELECT `+noteCols+` FROM notes
		 WHERE user_id=? AND chat_id=? AND topic_id=? AND instr(lower(text), lower(?)) > 0
		 ORDER BY id`,
		userID, chatID, topicID, query)
}

func (s *sqliteStore) UpdateNoteText(ctx context.Context, id int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return notes.ErrEmptyNote
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE notes SET text=?, updated_at=? WHERE id=?`,
		text, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) DeleteNote(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) queryNotes(ctx context.Context, q string, args ...any) ([]*notes.Note, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*notes.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNote(row rowScanner) (*notes.Note, error) {
	var (
		n                    notes.Note
		createdAt, updatedAt string
	)
	err := row.Scan(&n.ID, &n.UserID, &n.ChatID, &n.TopicID, &n.MessageID, &n.Text, &n.Link,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if n.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("note %d: %w", n.ID, err)
	}
	if n.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, fmt.Errorf("note %d: %w", n.ID, err)
	}
	return &n, nil
}

// ---- encoding helpers ----

func encodeInstant(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func decodeInstant(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func encodeDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func decodeDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
