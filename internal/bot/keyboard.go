package bot

import (
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"remindo/internal/reminder"
	"remindo/internal/tz"
)

// Callback data is "verb|field|field". Telebot strips its own "\f" prefix
// in the transport layer, so these arrive verbatim.
const (
	cbTimezone       = "tz"
	cbCancel         = "cancel"
	cbDeleteReminder = "rmdel"
)

// timezoneKeyboard lays out every known UTC offset four per row, plus a
// cancel row. scope is "user" or "chat" and rides along in the callback
// data so one handler serves both.
func timezoneKeyboard(scope string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	var rows []tele.Row
	var row tele.Row
	for _, off := range tz.Offsets {
		row = append(row, rm.Data("UTC"+off, cbTimezone, scope, off))
		if len(row) == 4 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tele.Row{rm.Data("✖ Cancel", cbCancel)})
	rm.Inline(rows...)
	return rm
}

// deleteKeyboard lists reminders one per row for one-tap cancellation.
func deleteKeyboard(rs []*reminder.Reminder) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	var rows []tele.Row
	for _, r := range rs {
		label := fmt.Sprintf("✖ #%d %s", r.ID, truncate(r.Message, 32))
		rows = append(rows, tele.Row{rm.Data(label, cbDeleteReminder, strconv.FormatInt(r.ID, 10))})
	}
	rows = append(rows, tele.Row{rm.Data("Keep them all", cbCancel)})
	rm.Inline(rows...)
	return rm
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
