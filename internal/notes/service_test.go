package notes

import (
	"context"
	"errors"
	"testing"

	logx "remindo/pkg/logx"
)

type fakeStore struct {
	notes   map[int64]*Note
	nextID  int64
	deleted []int64
}

func newFakeStore() *fakeStore { return &fakeStore{notes: map[int64]*Note{}} }

func (s *fakeStore) CreateNote(_ context.Context, n *Note) (int64, error) {
	s.nextID++
	n.ID = s.nextID
	cp := *n
	s.notes[n.ID] = &cp
	return n.ID, nil
}

func (s *fakeStore) NoteByID(_ context.Context, id int64) (*Note, error) {
	n, ok := s.notes[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *n
	return &cp, nil
}

func (s *fakeStore) ListNotes(_ context.Context, userID, chatID int64, topicID int) ([]*Note, error) {
	var out []*Note
	for _, n := range s.notes {
		if n.UserID == userID && n.ChatID == chatID && n.TopicID == topicID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) SearchNotes(_ context.Context, userID, chatID int64, topicID int, _ string) ([]*Note, error) {
	return s.ListNotes(context.Background(), userID, chatID, topicID)
}

func (s *fakeStore) UpdateNoteText(_ context.Context, id int64, text string) error {
	n, ok := s.notes[id]
	if !ok {
		return errors.New("not found")
	}
	n.Text = text
	return nil
}

func (s *fakeStore) DeleteNote(_ context.Context, id int64) error {
	if _, ok := s.notes[id]; !ok {
		return errors.New("not found")
	}
	delete(s.notes, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func TestCaptureDerivesLink(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := NewService(store, logx.Nop())
	ctx := context.Background()

	// Supergroup message gets a deep link.
	n := &Note{UserID: 1, ChatID: -1001234567890, TopicID: 0, MessageID: 42, Text: "  remember this  "}
	id, err := svc.Capture(ctx, n)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	got := store.notes[id]
	if got.Text != "remember this" {
		t.Fatalf("text = %q, want trimmed", got.Text)
	}
	if want := "https://t.me/c/1234567890/42"; got.Link != want {
		t.Fatalf("link = %q, want %q", got.Link, want)
	}

	// Topic messages link through the topic.
	n2 := &Note{UserID: 1, ChatID: -1001234567890, TopicID: 7, MessageID: 43, Text: "x"}
	if _, err := svc.Capture(ctx, n2); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if want := "https://t.me/c/1234567890/7/43"; store.notes[n2.ID].Link != want {
		t.Fatalf("topic link = %q, want %q", store.notes[n2.ID].Link, want)
	}

	// Private chats have no stable link.
	n3 := &Note{UserID: 1, ChatID: 555, MessageID: 44, Text: "y"}
	if _, err := svc.Capture(ctx, n3); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if store.notes[n3.ID].Link != "" {
		t.Fatalf("private chat link = %q, want empty", store.notes[n3.ID].Link)
	}

	// Empty notes are rejected.
	if _, err := svc.Capture(ctx, &Note{UserID: 1, ChatID: 555, Text: "   "}); err == nil {
		t.Fatal("Capture must reject empty text")
	}
}

func TestEditAndDeleteOwnership(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := NewService(store, logx.Nop())
	ctx := context.Background()

	id, err := svc.Capture(ctx, &Note{UserID: 1, ChatID: 2, Text: "mine"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	if err := svc.Edit(ctx, id, 99, "hijacked"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Edit by stranger err = %v, want ErrForbidden", err)
	}
	if err := svc.Edit(ctx, id, 1, "updated"); err != nil {
		t.Fatalf("Edit by owner: %v", err)
	}
	if store.notes[id].Text != "updated" {
		t.Fatalf("text = %q", store.notes[id].Text)
	}

	if err := svc.Delete(ctx, id, 99, false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Delete by stranger err = %v, want ErrForbidden", err)
	}
	// Chat admins may delete other users' notes.
	if err := svc.Delete(ctx, id, 99, true); err != nil {
		t.Fatalf("Delete by admin: %v", err)
	}
	if len(store.notes) != 0 {
		t.Fatal("note not deleted")
	}
}
