// Package events публикует доменные события чата после фиксации транзакции.
package events

import (
	"context"
	"time"
)

type Type string

const (
	TypeMessageSent  Type = "message.sent"
	TypeChatCreated  Type = "chat.created"
	TypeMembersAdded Type = "chat.members_added"
	TypeChatSeen     Type = "chat.seen"
)

type Event struct {
	Type       Type      `json:"type"`
	ChatID     string    `json:"chatId"`
	ActorID    string    `json:"actorId"`
	MessageID  string    `json:"messageId,omitempty"`
	UserIDs    []string  `json:"userIds,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop: публикатор по умолчанию, когда брокер не настроен.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
