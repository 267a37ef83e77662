package transport

import (
	"context"
	"errors"
	"fmt"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromIsBot    bool
	Text         string
	IsGroup      bool
	IsForum      bool
	ReplyTo      *Message
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// ChatTarget addresses a chat, optionally narrowed to a forum topic.
// ThreadID 0 means the general topic / plain chat.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyTo            int // message id to reply to (0 = none)
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// ErrTargetGone marks permanent delivery failures: the destination chat or
// topic no longer accepts messages (topic closed/deleted, chat not found,
// bot kicked or blocked). Senders must not retry and must not reschedule.
var ErrTargetGone = errors.New("target gone")

// PermanentError wraps err so that errors.Is(err, ErrTargetGone) holds while
// the underlying platform error stays inspectable via errors.Unwrap.
func PermanentError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTargetGone, err)
}

// IsPermanent reports whether a delivery error is in the permanent class.
func IsPermanent(err error) bool { return errors.Is(err, ErrTargetGone) }

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// IsChatAdmin reports whether the user is an administrator (or creator)
	// of the given chat. Used for moderation commands in groups.
	IsChatAdmin(ctx context.Context, chatID int64, userID int64) (bool, error)
}
