package notes

import (
	"errors"
	"strings"
	"time"
)

// Note is a message saved for later. Link points back at the original
// message when the chat type supports deep links, so "show my notes" can
// jump to the conversation context instead of only replaying the text.
type Note struct {
	ID        int64
	UserID    int64
	ChatID    int64
	TopicID   int // forum topic thread id; 0 means the general topic
	MessageID int
	Text      string
	Link      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

var ErrEmptyNote = errors.New("note text is empty")

func (n *Note) Validate() error {
	if strings.TrimSpace(n.Text) == "" {
		return ErrEmptyNote
	}
	return nil
}
