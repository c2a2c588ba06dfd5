// Package chat keeps the ephemeral per-room chat history and typing
// indicators. Nothing here is persisted and nothing is safe for
// concurrent use on its own; the owning room serializes access.
package chat

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dkeye/Huddle/internal/domain"
)

type Kind string

const (
	KindText   Kind = "text"
	KindSystem Kind = "system"
)

type Message struct {
	ID        string        `json:"id"`
	UserID    domain.UserID `json:"userId"`
	UserEmail string        `json:"userEmail"`
	Text      string        `json:"text"`
	Timestamp int64         `json:"timestamp"`
	Kind      Kind          `json:"kind"`
}

// NewMessage builds a message authored by from. Only blank text is
// refused; length trimming is the client's business.
func NewMessage(from domain.Identity, text string, kind Kind, at int64) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, fmt.Errorf("%w: empty chat message", domain.ErrBadRequest)
	}
	switch kind {
	case "":
		kind = KindText
	case KindText, KindSystem:
	default:
		return Message{}, fmt.Errorf("%w: unknown message kind %q", domain.ErrBadRequest, kind)
	}
	return Message{
		ID:        uuid.NewString(),
		UserID:    from.UserID,
		UserEmail: from.Email,
		Text:      text,
		Timestamp: at,
		Kind:      kind,
	}, nil
}

// Log is the ordered message sequence of one room.
type Log struct {
	messages []Message
}

func (l *Log) Append(m Message) {
	l.messages = append(l.messages, m)
}

func (l *Log) Messages() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *Log) Len() int { return len(l.messages) }
