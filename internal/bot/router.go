package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindo/internal/delivery"
	"remindo/internal/notes"
	"remindo/internal/reminder"
	"remindo/internal/reminder/scheduler"
	"remindo/internal/storage"
	"remindo/internal/tz"
	kit "remindo/internal/transport"
	logx "remindo/pkg/logx"
)

// anonymousAdminID is Telegram's GroupAnonymousBot. Commands from it cannot
// be attributed to a person, so reminders and notes would be orphaned;
// reject them outright.
const anonymousAdminID = 1087968824

const handleTimeout = 30 * time.Second

// Router turns incoming updates into reminder, note and timezone
// operations. It is the only component that speaks "command language"; the
// services behind it know nothing about Telegram syntax.
type Router struct {
	adapter kit.Adapter
	gw      *delivery.Gateway
	store   storage.Store
	core    *scheduler.Core
	zones   *tz.Resolver
	notes   *notes.Service
	log     logx.Logger
}

func NewRouter(adapter kit.Adapter, gw *delivery.Gateway, store storage.Store, core *scheduler.Core, zones *tz.Resolver, noteSvc *notes.Service, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		adapter: adapter,
		gw:      gw,
		store:   store,
		core:    core,
		zones:   zones,
		notes:   noteSvc,
		log:     log,
	}
}

// Run consumes updates until ctx is done or the channel closes. Each update
// is handled in its own goroutine so one slow Telegram call cannot stall
// the queue.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			go r.dispatch(ctx, up)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, up kit.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler panic", logx.Any("panic", rec))
		}
	}()
	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(hctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(hctx, up.Callback)
		}
	}
}

// topicOf normalizes the forum thread id. Telegram's "General" topic is
// thread 1 but messages sent with thread 0 land there, so both collapse to
// 0 and one reminder scope covers the general conversation.
func topicOf(m *kit.Message) int {
	if m.IsForum && m.ThreadID == 1 {
		return 0
	}
	return m.ThreadID
}

func (r *Router) reply(ctx context.Context, m *kit.Message, text string, opt *kit.SendOptions) {
	target := kit.ChatTarget{ChatID: m.ChatID, ThreadID: topicOf(m)}
	if _, err := r.gw.Send(ctx, target, text, opt); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}

func splitCommand(text string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text, " ")
	// Group commands may carry the bot mention: /remind@remindo_bot.
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(strings.TrimPrefix(head, "/")), strings.TrimSpace(rest), true
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	if m.FromID == anonymousAdminID || (m.FromIsBot && m.FromUsername == "GroupAnonymousBot") {
		if cmd, _, ok := splitCommand(m.Text); ok && cmd != "" {
			r.reply(ctx, m, "Anonymous admins can't use me: I wouldn't know whose reminder this is. Please switch to your own account.", nil)
		}
		return
	}
	if m.FromIsBot {
		return
	}
	cmd, args, ok := splitCommand(m.Text)
	if !ok {
		return
	}

	switch cmd {
	case "start", "help":
		r.reply(ctx, m, helpText, nil)
	case "settimezone":
		r.cmdSetTimezone(ctx, m, args)
	case "remind":
		r.cmdRemind(ctx, m, args)
	case "list":
		r.cmdList(ctx, m, args)
	case "delete":
		r.cmdDelete(ctx, m, args)
	case "edit":
		r.cmdEdit(ctx, m, args)
	case "note":
		r.cmdNote(ctx, m, args)
	case "notes":
		r.cmdNotes(ctx, m)
	case "searchnotes":
		r.cmdSearchNotes(ctx, m, args)
	case "editnote":
		r.cmdEditNote(ctx, m, args)
	case "delnote":
		r.cmdDelNote(ctx, m, args)
	}
}

func (r *Router) isAdmin(ctx context.Context, chatID, userID int64) bool {
	ok, err := r.adapter.IsChatAdmin(ctx, chatID, userID)
	if err != nil {
		r.log.Warn("admin check failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return false
	}
	return ok
}

// ---- timezone ----

func (r *Router) cmdSetTimezone(ctx context.Context, m *kit.Message, args string) {
	scope := tz.EntityUser
	if strings.EqualFold(args, "chat") {
		if !m.IsGroup {
			r.reply(ctx, m, "The chat timezone only makes sense in a group.", nil)
			return
		}
		if !r.isAdmin(ctx, m.ChatID, m.FromID) {
			r.reply(ctx, m, "Only chat admins can set the chat timezone.", nil)
			return
		}
		scope = tz.EntityChat
	}
	prompt := "Pick your UTC offset:"
	if scope == tz.EntityChat {
		prompt = "Pick the chat's default UTC offset:"
	}
	r.reply(ctx, m, prompt, &kit.SendOptions{ReplyMarkupAdapter: timezoneKeyboard(scope)})
}

// ---- reminders ----

func (r *Router) cmdRemind(ctx context.Context, m *kit.Message, args string) {
	if args == "" {
		r.reply(ctx, m, "Tell me when and what, e.g. /remind in 30m take a break. See /help for the formats.", nil)
		return
	}
	loc, offset := r.zones.Resolve(ctx, m.FromID, m.ChatID)
	now := time.Now()
	spec, err := ParseSpec(args, now, loc)
	if err != nil {
		r.reply(ctx, m, "I didn't understand that schedule. See /help for the formats.", nil)
		return
	}

	rec := &reminder.Reminder{
		UserID:   m.FromID,
		ChatID:   m.ChatID,
		TopicID:  topicOf(m),
		Message:  spec.Message,
		Kind:     spec.Kind,
		Hour:     spec.Hour,
		Minute:   spec.Minute,
		Weekdays: spec.Weekdays,
		OnDate:   spec.OnDate,
		Status:   reminder.StatusActive,
	}
	// A one-time reminder whose instant already passed is a user mistake,
	// not a missed fire.
	if rec.Kind == reminder.KindOnce {
		at, ok, err := rec.Rule().Next(now, loc)
		if err != nil || !ok || !at.After(now) {
			r.reply(ctx, m, "That time is already in the past.", nil)
			return
		}
	}

	id, err := r.store.CreateReminder(ctx, rec)
	if err != nil {
		r.log.Error("create reminder", logx.Err(err))
		r.reply(ctx, m, "Couldn't save that reminder, try again.", nil)
		return
	}
	next, err := r.core.Schedule(ctx, id)
	if err != nil {
		r.log.Error("schedule reminder", logx.Int64("id", id), logx.Err(err))
		r.reply(ctx, m, "Saved but couldn't schedule it. Try /delete and create it again.", nil)
		return
	}
	r.reply(ctx, m, fmt.Sprintf("Reminder #%d set (%s).\nNext: %s",
		id, describeSchedule(rec), formatWhen(next, loc, offset)), nil)
}

func (r *Router) cmdList(ctx context.Context, m *kit.Message, args string) {
	filter := storage.ReminderFilter{
		ChatID:        m.ChatID,
		TopicID:       topicOf(m),
		IncludeFailed: true,
	}
	if strings.EqualFold(args, "all") {
		if !m.IsGroup || !r.isAdmin(ctx, m.ChatID, m.FromID) {
			r.reply(ctx, m, "Only chat admins can list everyone's reminders.", nil)
			return
		}
		// "all" spans the whole chat, not just the current forum topic.
		filter.AnyTopic = true
	} else {
		filter.UserID = m.FromID
	}
	rs, err := r.store.ListReminders(ctx, filter)
	if err != nil {
		r.log.Error("list reminders", logx.Err(err))
		r.reply(ctx, m, "Couldn't load reminders, try again.", nil)
		return
	}
	loc, offset := r.zones.Resolve(ctx, m.FromID, m.ChatID)
	r.reply(ctx, m, formatReminderList(rs, loc, offset), nil)
}

// reminderForWrite loads a reminder and checks the caller may modify it:
// the owner always can, chat admins can inside their chat when adminOK.
func (r *Router) reminderForWrite(ctx context.Context, m *kit.Message, args string, adminOK bool) (*reminder.Reminder, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		r.reply(ctx, m, "Give me the reminder number, e.g. /delete 12.", nil)
		return nil, false
	}
	rec, err := r.store.ReminderByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		r.reply(ctx, m, fmt.Sprintf("No reminder #%d here.", id), nil)
		return nil, false
	}
	if err != nil {
		r.log.Error("load reminder", logx.Int64("id", id), logx.Err(err))
		r.reply(ctx, m, "Couldn't load that reminder, try again.", nil)
		return nil, false
	}
	if rec.ChatID != m.ChatID {
		r.reply(ctx, m, fmt.Sprintf("No reminder #%d here.", id), nil)
		return nil, false
	}
	if rec.UserID != m.FromID {
		if !(adminOK && m.IsGroup && r.isAdmin(ctx, m.ChatID, m.FromID)) {
			r.reply(ctx, m, "That reminder belongs to someone else.", nil)
			return nil, false
		}
	}
	return rec, true
}

func (r *Router) cmdDelete(ctx context.Context, m *kit.Message, args string) {
	if strings.TrimSpace(args) == "" {
		rs, err := r.store.ListReminders(ctx, storage.ReminderFilter{
			UserID: m.FromID, ChatID: m.ChatID, TopicID: topicOf(m),
		})
		if err != nil {
			r.log.Error("list reminders", logx.Err(err))
			r.reply(ctx, m, "Couldn't load reminders, try again.", nil)
			return
		}
		if len(rs) == 0 {
			r.reply(ctx, m, "No reminders here.", nil)
			return
		}
		r.reply(ctx, m, "Pick a reminder to cancel:", &kit.SendOptions{ReplyMarkupAdapter: deleteKeyboard(rs)})
		return
	}
	rec, ok := r.reminderForWrite(ctx, m, args, true)
	if !ok {
		return
	}
	if err := r.core.Cancel(ctx, rec.ID); err != nil {
		r.log.Error("cancel reminder", logx.Int64("id", rec.ID), logx.Err(err))
		r.reply(ctx, m, "Couldn't cancel that reminder, try again.", nil)
		return
	}
	r.reply(ctx, m, fmt.Sprintf("Reminder #%d cancelled.", rec.ID), nil)
}

func (r *Router) cmdEdit(ctx context.Context, m *kit.Message, args string) {
	idStr, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		r.reply(ctx, m, "Usage: /edit <id> <new schedule and text>, e.g. /edit 12 every day at 09:00 drink water.", nil)
		return
	}
	rec, ok := r.reminderForWrite(ctx, m, idStr, false)
	if !ok {
		return
	}
	if rec.Status.Terminal() {
		r.reply(ctx, m, fmt.Sprintf("Reminder #%d is %s and can't be edited.", rec.ID, rec.Status), nil)
		return
	}

	loc, offset := r.zones.Resolve(ctx, m.FromID, m.ChatID)
	spec, err := ParseSpec(rest, time.Now(), loc)
	if err != nil {
		r.reply(ctx, m, "I didn't understand that schedule. See /help for the formats.", nil)
		return
	}
	rec.Message = spec.Message
	rec.Kind = spec.Kind
	rec.Hour = spec.Hour
	rec.Minute = spec.Minute
	rec.Weekdays = spec.Weekdays
	rec.OnDate = spec.OnDate
	rec.LastError = ""
	if err := r.store.UpdateReminder(ctx, rec); err != nil {
		r.log.Error("update reminder", logx.Int64("id", rec.ID), logx.Err(err))
		r.reply(ctx, m, "Couldn't save the change, try again.", nil)
		return
	}
	next, err := r.core.Schedule(ctx, rec.ID)
	if err != nil {
		r.log.Error("reschedule after edit", logx.Int64("id", rec.ID), logx.Err(err))
		r.reply(ctx, m, "Saved but couldn't reschedule it, try editing again.", nil)
		return
	}
	r.reply(ctx, m, fmt.Sprintf("Reminder #%d updated (%s).\nNext: %s",
		rec.ID, describeSchedule(rec), formatWhen(next, loc, offset)), nil)
}

// ---- notes ----

func (r *Router) cmdNote(ctx context.Context, m *kit.Message, args string) {
	text := args
	messageID := m.ID
	if text == "" && m.ReplyTo != nil {
		text = m.ReplyTo.Text
		messageID = m.ReplyTo.ID
	}
	if strings.TrimSpace(text) == "" {
		r.reply(ctx, m, "Write the note after /note, or reply to a message with /note.", nil)
		return
	}
	n := &notes.Note{
		UserID:    m.FromID,
		ChatID:    m.ChatID,
		TopicID:   topicOf(m),
		MessageID: messageID,
		Text:      text,
	}
	id, err := r.notes.Capture(ctx, n)
	if err != nil {
		r.log.Error("capture note", logx.Err(err))
		r.reply(ctx, m, "Couldn't save that note, try again.", nil)
		return
	}
	r.reply(ctx, m, fmt.Sprintf("Note #%d saved.", id), nil)
}

func (r *Router) cmdNotes(ctx context.Context, m *kit.Message) {
	ns, err := r.notes.List(ctx, m.FromID, m.ChatID, topicOf(m))
	if err != nil {
		r.log.Error("list notes", logx.Err(err))
		r.reply(ctx, m, "Couldn't load notes, try again.", nil)
		return
	}
	r.reply(ctx, m, formatNoteList(ns), &kit.SendOptions{DisablePreview: true})
}

func (r *Router) cmdSearchNotes(ctx context.Context, m *kit.Message, args string) {
	if strings.TrimSpace(args) == "" {
		r.reply(ctx, m, "Tell me what to search for: /searchnotes milk", nil)
		return
	}
	ns, err := r.notes.Search(ctx, m.FromID, m.ChatID, topicOf(m), args)
	if err != nil {
		r.log.Error("search notes", logx.Err(err))
		r.reply(ctx, m, "Couldn't search notes, try again.", nil)
		return
	}
	if len(ns) == 0 {
		r.reply(ctx, m, "No notes match.", nil)
		return
	}
	r.reply(ctx, m, formatNoteList(ns), &kit.SendOptions{DisablePreview: true})
}

func (r *Router) cmdEditNote(ctx context.Context, m *kit.Message, args string) {
	idStr, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimSpace(rest)
	id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
	if err != nil || rest == "" {
		r.reply(ctx, m, "Usage: /editnote <id> <new text>, e.g. /editnote 3 buy oat milk.", nil)
		return
	}
	err = r.notes.Edit(ctx, id, m.FromID, rest)
	switch {
	case errors.Is(err, notes.ErrForbidden):
		r.reply(ctx, m, "That note belongs to someone else.", nil)
	case errors.Is(err, storage.ErrNotFound):
		r.reply(ctx, m, fmt.Sprintf("No note #%d here.", id), nil)
	case err != nil:
		r.log.Error("edit note", logx.Int64("id", id), logx.Err(err))
		r.reply(ctx, m, "Couldn't update that note, try again.", nil)
	default:
		r.reply(ctx, m, fmt.Sprintf("Note #%d updated.", id), nil)
	}
}

func (r *Router) cmdDelNote(ctx context.Context, m *kit.Message, args string) {
	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		r.reply(ctx, m, "Give me the note number, e.g. /delnote 3.", nil)
		return
	}
	admin := m.IsGroup && r.isAdmin(ctx, m.ChatID, m.FromID)
	err = r.notes.Delete(ctx, id, m.FromID, admin)
	switch {
	case errors.Is(err, notes.ErrForbidden):
		r.reply(ctx, m, "That note belongs to someone else.", nil)
	case errors.Is(err, storage.ErrNotFound):
		r.reply(ctx, m, fmt.Sprintf("No note #%d here.", id), nil)
	case err != nil:
		r.log.Error("delete note", logx.Int64("id", id), logx.Err(err))
		r.reply(ctx, m, "Couldn't delete that note, try again.", nil)
	default:
		r.reply(ctx, m, fmt.Sprintf("Note #%d deleted.", id), nil)
	}
}

// ---- callbacks ----

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	parts := strings.Split(cb.Data, "|")
	switch parts[0] {
	case cbCancel:
		r.answer(ctx, cb.ID, "Cancelled")
		r.editCallbackMessage(ctx, cb, "Cancelled.")
	case cbTimezone:
		if len(parts) != 3 {
			r.answer(ctx, cb.ID, "Malformed selection")
			return
		}
		r.callbackTimezone(ctx, cb, parts[1], parts[2])
	case cbDeleteReminder:
		if len(parts) != 2 {
			r.answer(ctx, cb.ID, "Malformed selection")
			return
		}
		r.callbackDeleteReminder(ctx, cb, parts[1])
	}
}

func (r *Router) callbackDeleteReminder(ctx context.Context, cb *kit.Callback, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		r.answer(ctx, cb.ID, "Malformed selection")
		return
	}
	rec, err := r.store.ReminderByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		r.answer(ctx, cb.ID, "Already gone")
		return
	}
	if err != nil {
		r.log.Error("load reminder", logx.Int64("id", id), logx.Err(err))
		r.answer(ctx, cb.ID, "Couldn't load that, try again")
		return
	}
	// The button may be tapped by anyone who can see the message; re-check
	// chat and ownership the same way /delete does.
	if rec.ChatID != cb.ChatID {
		r.answer(ctx, cb.ID, "That reminder lives in another chat")
		return
	}
	if rec.UserID != cb.FromID && !r.isAdmin(ctx, cb.ChatID, cb.FromID) {
		r.answer(ctx, cb.ID, "That reminder belongs to someone else")
		return
	}
	if err := r.core.Cancel(ctx, rec.ID); err != nil {
		r.log.Error("cancel reminder", logx.Int64("id", rec.ID), logx.Err(err))
		r.answer(ctx, cb.ID, "Couldn't cancel it, try again")
		return
	}
	r.answer(ctx, cb.ID, "Cancelled")
	r.editCallbackMessage(ctx, cb, fmt.Sprintf("Reminder #%d cancelled.", rec.ID))
}

func (r *Router) callbackTimezone(ctx context.Context, cb *kit.Callback, scope, offset string) {
	switch scope {
	case tz.EntityUser:
		if err := r.zones.Set(ctx, cb.FromID, tz.EntityUser, offset); err != nil {
			r.log.Error("set user timezone", logx.Int64("user_id", cb.FromID), logx.Err(err))
			r.answer(ctx, cb.ID, "Couldn't save that, try again")
			return
		}
		if err := r.core.RescheduleOwner(ctx, cb.FromID); err != nil {
			r.log.Warn("reschedule after user timezone change", logx.Int64("user_id", cb.FromID), logx.Err(err))
		}
	case tz.EntityChat:
		if !r.isAdmin(ctx, cb.ChatID, cb.FromID) {
			r.answer(ctx, cb.ID, "Admins only")
			return
		}
		if err := r.zones.Set(ctx, cb.ChatID, tz.EntityChat, offset); err != nil {
			r.log.Error("set chat timezone", logx.Int64("chat_id", cb.ChatID), logx.Err(err))
			r.answer(ctx, cb.ID, "Couldn't save that, try again")
			return
		}
		if err := r.core.RescheduleAll(ctx); err != nil {
			r.log.Warn("reschedule after chat timezone change", logx.Int64("chat_id", cb.ChatID), logx.Err(err))
		}
	default:
		r.answer(ctx, cb.ID, "Malformed selection")
		return
	}
	r.answer(ctx, cb.ID, "Saved")
	r.editCallbackMessage(ctx, cb, "Timezone set to UTC"+offset+". Existing reminders now follow it.")
}

func (r *Router) answer(ctx context.Context, callbackID, text string) {
	if err := r.adapter.AnswerCallback(ctx, callbackID, text); err != nil {
		r.log.Debug("answer callback", logx.Err(err))
	}
}

func (r *Router) editCallbackMessage(ctx context.Context, cb *kit.Callback, text string) {
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	if err := r.gw.Edit(ctx, ref, text, nil); err != nil {
		r.log.Debug("edit callback message", logx.Err(err))
	}
}
