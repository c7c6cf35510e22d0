package model

import "time"

type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

type Chat struct {
	ID        string     `json:"id"`
	Type      ChatType   `json:"type"`
	Name      string     `json:"name,omitempty"`
	LastSent  *time.Time `json:"lastSent,omitempty"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type ParticipantRole string

const (
	ParticipantRoleAdmin  ParticipantRole = "admin"
	ParticipantRoleMember ParticipantRole = "member"
)

type ChatParticipant struct {
	ID            string          `json:"id"`
	ChatID        string          `json:"chatId"`
	UserID        string          `json:"userId"`
	Role          ParticipantRole `json:"role"`
	UnreadMessage int             `json:"unreadMessage"`
	LastSeen      *time.Time      `json:"lastSeen,omitempty"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ChatSummary: строка списка чатов пользователя: чат, его состояние участника и остальные участники.
type ChatSummary struct {
	Chat          Chat         `json:"chat"`
	UnreadMessage int          `json:"unreadMessage"`
	LastSeen      *time.Time   `json:"lastSeen,omitempty"`
	Participants  []UserPublic `json:"participants"`
}
