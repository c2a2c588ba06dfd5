package chat

import (
	"errors"
	"testing"

	"github.com/dkeye/Huddle/internal/domain"
)

func TestNewMessage(t *testing.T) {
	from := domain.Identity{UserID: "alice", Email: "alice@example.com"}

	m, err := NewMessage(from, "hello", "", 42)
	if err != nil {
		t.Fatal(err)
	}
	if m.ID == "" || m.Kind != KindText || m.UserEmail != from.Email || m.Timestamp != 42 {
		t.Errorf("unexpected message %+v", m)
	}

	if _, err := NewMessage(from, "   ", KindText, 1); !errors.Is(err, domain.ErrBadRequest) {
		t.Errorf("blank text err = %v", err)
	}
	if _, err := NewMessage(from, "hi", "sticker", 1); !errors.Is(err, domain.ErrBadRequest) {
		t.Errorf("unknown kind err = %v", err)
	}
}

func TestLogKeepsOrder(t *testing.T) {
	var l Log
	from := domain.Identity{UserID: "bob"}
	for _, text := range []string{"one", "two", "three"} {
		m, err := NewMessage(from, text, KindText, 0)
		if err != nil {
			t.Fatal(err)
		}
		l.Append(m)
	}
	msgs := l.Messages()
	if len(msgs) != 3 || msgs[0].Text != "one" || msgs[2].Text != "three" {
		t.Errorf("messages out of order: %+v", msgs)
	}
	msgs[0].Text = "mutated"
	if l.Messages()[0].Text != "one" {
		t.Error("Messages must return a copy")
	}
}
