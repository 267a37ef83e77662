package telegram

import (
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "remindo/internal/transport"
)

// classify maps Telegram API errors onto the transport error taxonomy.
//
// Permanent (target gone, do not retry):
//   - 403: bot blocked by the user / kicked from the group
//   - chat not found / group deactivated
//   - forum topic closed or deleted
//
// Everything else (network errors, 5xx, flood waits) is transient.
func classify(err error) error {
	if err == nil {
		return nil
	}

	// Flood waits are the canonical transient error; keep them retryable.
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return err
	}

	var te *tele.Error
	if errors.As(err, &te) {
		if te.Code == 403 {
			return kit.PermanentError(err)
		}
		if permanentDescription(te.Description) {
			return kit.PermanentError(err)
		}
		return err
	}

	// Some API failures surface as plain error strings.
	if permanentDescription(err.Error()) {
		return kit.PermanentError(err)
	}
	return err
}

func permanentDescription(desc string) bool {
	d := strings.ToLower(desc)
	for _, marker := range []string{
		"topic_closed",
		"topic closed",
		"topic_deleted",
		"topic deleted",
		"message thread not found",
		"chat not found",
		"group chat was deactivated",
		"bot was kicked",
		"bot was blocked",
		"user is deactivated",
	} {
		if strings.Contains(d, marker) {
			return true
		}
	}
	return false
}
