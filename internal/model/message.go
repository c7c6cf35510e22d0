package model

import "time"

type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

const MaxContentLength = 500

func (c ContentType) Valid() bool {
	return c == ContentTypeText || c == ContentTypeImage
}

type Message struct {
	ID          string      `json:"id"`
	ChatID      string      `json:"chatId"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"contentType"`
	SenderID    string      `json:"senderId"`
	SenderName  string      `json:"senderName,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

type MessageView struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	ViewerID  string    `json:"viewerId"`
	SeenTime  time.Time `json:"seenTime"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
