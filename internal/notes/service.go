package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logx "remindo/pkg/logx"
)

// Store is the persistence slice the service needs.
type Store interface {
	CreateNote(ctx context.Context, n *Note) (int64, error)
	NoteByID(ctx context.Context, id int64) (*Note, error)
	ListNotes(ctx context.Context, userID, chatID int64, topicID int) ([]*Note, error)
	SearchNotes(ctx context.Context, userID, chatID int64, topicID int, query string) ([]*Note, error)
	UpdateNoteText(ctx context.Context, id int64, text string) error
	DeleteNote(ctx context.Context, id int64) error
}

// ErrForbidden means the caller does not own the note and lacks the
// privilege the operation needs.
var ErrForbidden = errors.New("not allowed")

type Service struct {
	store Store
	log   logx.Logger
}

func NewService(store Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log}
}

// Capture saves a note. Link is derived for supergroups so listings can
// jump back to the original message; private chats have no stable deep
// link, so it stays empty there.
func (s *Service) Capture(ctx context.Context, n *Note) (int64, error) {
	n.Text = strings.TrimSpace(n.Text)
	if err := n.Validate(); err != nil {
		return 0, err
	}
	if n.Link == "" {
		n.Link = MessageLink(n.ChatID, n.TopicID, n.MessageID)
	}
	id, err := s.store.CreateNote(ctx, n)
	if err != nil {
		return 0, err
	}
	s.log.Debug("note captured", logx.Int64("id", id), logx.Int64("user_id", n.UserID))
	return id, nil
}

func (s *Service) List(ctx context.Context, userID, chatID int64, topicID int) ([]*Note, error) {
	return s.store.ListNotes(ctx, userID, chatID, topicID)
}

func (s *Service) Search(ctx context.Context, userID, chatID int64, topicID int, query string) ([]*Note, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("empty search query")
	}
	return s.store.SearchNotes(ctx, userID, chatID, topicID, query)
}

// Edit replaces the note text. Only the owner may edit.
func (s *Service) Edit(ctx context.Context, id, userID int64, text string) error {
	n, err := s.store.NoteByID(ctx, id)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return ErrForbidden
	}
	return s.store.UpdateNoteText(ctx, id, strings.TrimSpace(text))
}

// Delete removes a note. The owner may always delete; admin allows chat
// administrators to clean up other users' notes.
func (s *Service) Delete(ctx context.Context, id, userID int64, admin bool) error {
	n, err := s.store.NoteByID(ctx, id)
	if err != nil {
		return err
	}
	if n.UserID != userID && !admin {
		return ErrForbidden
	}
	return s.store.DeleteNote(ctx, id)
}

// MessageLink builds a t.me deep link for a supergroup message. Telegram
// links use the chat id without the -100 prefix. Returns "" for chats that
// have no stable link form.
func MessageLink(chatID int64, topicID, messageID int) string {
	const superGroupPrefix = -1000000000000
	if chatID > superGroupPrefix || messageID == 0 {
		return ""
	}
	short := -chatID + superGroupPrefix // strip the -100 prefix
	if topicID > 0 {
		return fmt.Sprintf("https://t.me/c/%d/%d/%d", short, topicID, messageID)
	}
	return fmt.Sprintf("https://t.me/c/%d/%d", short, messageID)
}
