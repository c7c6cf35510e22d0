package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/carechat/internal/apperr"
	"github.com/carechat/internal/model"
)

type EventType string

const (
	// client -> server
	EventSendMessage EventType = "send-message"
	EventGroupCreate EventType = "group-create-request"
	EventGroupUpdate EventType = "group-update-request"
	EventSeenMessage EventType = "seen-message"

	// server -> client
	EventReceiveMessage EventType = "receive-message"
	EventGroupCreated   EventType = "group-create-response"
	EventGroupUpdated   EventType = "group-update-response"
	EventMessageSeen    EventType = "message-seen"
	EventUserOnline     EventType = "user-online"
	EventUserOffline    EventType = "user-offline"
	EventAck            EventType = "ack"
)

// IncomingMessage: конверт события от клиента; Payload разбирается обработчиком по Type.
type IncomingMessage struct {
	Type    EventType       `json:"type"`
	AckID   string          `json:"ackId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	AckID   string    `json:"ackId,omitempty"`
	Payload any       `json:"payload"`
}

// --- inbound payloads ---

type SendMessagePayload struct {
	ChatID      string            `json:"id" validate:"omitempty,uuid"`
	ReceiverID  string            `json:"receiverId" validate:"required_without=ChatID,omitempty,uuid"`
	Content     string            `json:"content" validate:"required,max=500"`
	ContentType model.ContentType `json:"contentType" validate:"omitempty,oneof=text image"`
	TempID      string            `json:"tempId" validate:"max=64"`
}

type GroupUser struct {
	ID   string `json:"id" validate:"required,uuid"`
	Name string `json:"name" validate:"max=255"`
}

type GroupCreatePayload struct {
	Name  string      `json:"name" validate:"max=255"`
	Users []GroupUser `json:"users" validate:"required,min=2,dive"`
}

type GroupUpdatePayload struct {
	ChatID string      `json:"chatId" validate:"required,uuid"`
	Users  []GroupUser `json:"users" validate:"required,min=1,dive"`
}

type SeenPayload struct {
	ChatID   string     `json:"chatId" validate:"required,uuid"`
	SeenTime *time.Time `json:"seenTime"`
}

// --- outbound payloads ---

type SendAck struct {
	Message *model.Message `json:"message"`
	Status  string         `json:"status"`
}

type DataAck struct {
	Data string `json:"data"`
}

type StatusAck struct {
	Status string `json:"status"`
}

type ErrorAck struct {
	Message string `json:"message"`
}

// ReceiveMessagePayload: сообщение для комнаты; tempId возвращает отправителю его временный id.
type ReceiveMessagePayload struct {
	*model.Message
	TempID string `json:"tempId,omitempty"`
}

type GroupEventPayload struct {
	ChatID  string   `json:"chatId"`
	ActorID string   `json:"actorId"`
	UserIDs []string `json:"userIds"`
}

type MessageSeenPayload struct {
	ChatID   string    `json:"chatId"`
	UserID   string    `json:"userId"`
	SeenTime time.Time `json:"seenTime"`
}

type UserStatusPayload struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// decodePayload разбирает payload события и проверяет теги validate.
func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return apperr.Validation("payload is required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Validation("invalid payload: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.Validation("%s", describeField(verrs[0]))
		}
		return apperr.Validation("invalid payload: %v", err)
	}
	return nil
}

func describeField(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required", "required_without":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must contain at least %s items", field, fe.Param())
	case "uuid":
		return fmt.Sprintf("%s must be a valid id", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
