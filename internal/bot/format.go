package bot

import (
	"fmt"
	"strings"
	"time"

	"remindo/internal/notes"
	"remindo/internal/reminder"
)

const helpText = `I keep reminders and notes for you.

Reminders:
/remind in 30m take a break
/remind at 18:00 call home
/remind tomorrow at 07:15 catch the train
/remind 2026-05-01 at 12:00 pay rent
/remind every day at 08:00 morning pages
/remind every week on mon,fri at 17:30 weekly report
/list — your reminders here (/list all for the whole chat, admins only)
/delete <id> — cancel a reminder (/delete alone shows buttons)
/edit <id> <new schedule and text>

Notes:
/note <text> — save a note (or reply to a message with /note)
/notes — your notes here
/searchnotes <text>
/editnote <id> <new text>
/delnote <id>

Timezone:
/settimezone — pick your UTC offset (/settimezone chat sets the chat default, admins only)

All times use your UTC offset, falling back to the chat's, then the default.`

func formatWhen(at time.Time, loc *time.Location, offset string) string {
	return at.In(loc).Format("Mon, 02 Jan 2006 15:04") + " (UTC" + offset + ")"
}

func describeSchedule(r *reminder.Reminder) string {
	clock := fmt.Sprintf("%02d:%02d", r.Hour, r.Minute)
	switch r.Kind {
	case reminder.KindDaily:
		return "every day at " + clock
	case reminder.KindWeekly:
		names := make([]string, len(r.Weekdays))
		for i, wd := range r.Weekdays {
			names[i] = wd.String()[:3]
		}
		return "every " + strings.Join(names, ", ") + " at " + clock
	default:
		return "once on " + r.OnDate.Format("2006-01-02") + " at " + clock
	}
}

func formatReminderList(rs []*reminder.Reminder, loc *time.Location, offset string) string {
	if len(rs) == 0 {
		return "No reminders here."
	}
	var b strings.Builder
	for _, r := range rs {
		fmt.Fprintf(&b, "#%d — %s\n    %s", r.ID, r.Message, describeSchedule(r))
		if r.Status == reminder.StatusFailed {
			b.WriteString("\n    ⚠ delivery failed: " + r.LastError)
		} else if !r.NextFireUTC.IsZero() {
			b.WriteString("\n    next: " + formatWhen(r.NextFireUTC, loc, offset))
			if r.LastError != "" {
				b.WriteString("\n    ⚠ last attempt failed: " + r.LastError)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatNoteList(ns []*notes.Note) string {
	if len(ns) == 0 {
		return "No notes here."
	}
	var b strings.Builder
	for _, n := range ns {
		fmt.Fprintf(&b, "#%d — %s", n.ID, n.Text)
		if n.Link != "" {
			b.WriteString("\n    " + n.Link)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
