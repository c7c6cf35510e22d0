package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/carechat/internal/apperr"
	"github.com/carechat/internal/events"
	"github.com/carechat/internal/logger"
	"github.com/carechat/internal/model"
	"github.com/carechat/internal/repository"
)

const (
	defaultMessagePage = 50
	maxMessagePage     = 100
	maxGroupNameLength = 255
	publishTimeout     = 2 * time.Second
)

type ChatStore interface {
	Create(ctx context.Context, c *model.Chat) error
	GetByID(ctx context.Context, id string) (*model.Chat, error)
	FindDirectChat(ctx context.Context, userA, userB string) (*model.Chat, error)
	LockDirectPair(ctx context.Context, userA, userB string) error
	TouchLastSent(ctx context.Context, id string, version int, at time.Time) (int, error)
	ChatIDsForUser(ctx context.Context, userID string) ([]string, error)
	ListForUser(ctx context.Context, userID string) ([]model.ChatSummary, error)
}

type ParticipantStore interface {
	BulkCreate(ctx context.Context, chatID string, ps []model.ChatParticipant) error
	Get(ctx context.Context, chatID, userID string) (*model.ChatParticipant, error)
	ListUsers(ctx context.Context, chatIDs []string) (map[string][]model.User, error)
	IncrementUnread(ctx context.Context, chatID, senderID string) (int64, error)
	MarkSeen(ctx context.Context, id string, version int, seenTime time.Time) error
}

type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	ListByChat(ctx context.Context, chatID string, before *time.Time, limit int) ([]model.Message, error)
	UnseenIDs(ctx context.Context, chatID, viewerID string, after *time.Time, upTo time.Time) ([]string, error)
}

type ViewStore interface {
	BulkCreate(ctx context.Context, views []model.MessageView) error
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.User, error)
}

// Transactor: явная транзакция вокруг операции (repository.TxManager).
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Stores struct {
	Chats        ChatStore
	Participants ParticipantStore
	Messages     MessageStore
	Views        ViewStore
	Users        UserStore
}

type SendMessageInput struct {
	ChatID      string
	ReceiverID  string
	Content     string
	ContentType model.ContentType
}

type SendMessageResult struct {
	Message *model.Message
	NewChat bool
	// ParticipantIDs заполняется только для нового чата.
	ParticipantIDs []string
}

type GroupMember struct {
	ID   string
	Name string
}

type CreateGroupInput struct {
	Name  string
	Users []GroupMember
}

type AddMembersInput struct {
	Users []GroupMember
}

// GroupResult: id чата и пользователи, ставшие его участниками в этой операции.
type GroupResult struct {
	ChatID    string
	MemberIDs []string
}

type SeenResult struct {
	ChatID   string
	ViewerID string
	SeenTime time.Time
	Viewed   int
}

// ChatService: бизнес-логика чата. Каждая изменяющая операция выполняется в одной транзакции;
// события публикуются только после commit.
type ChatService struct {
	tx           Transactor
	chats        ChatStore
	participants ParticipantStore
	messages     MessageStore
	views        ViewStore
	users        UserStore
	events       events.Publisher
	now          func() time.Time
}

func NewChatService(tx Transactor, st Stores, pub events.Publisher) *ChatService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &ChatService{
		tx:           tx,
		chats:        st.Chats,
		participants: st.Participants,
		messages:     st.Messages,
		views:        st.Views,
		users:        st.Users,
		events:       pub,
		now:          time.Now,
	}
}

// clock возвращает текущее время с точностью Postgres (микросекунды).
func (s *ChatService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *ChatService) SendMessage(ctx context.Context, senderID string, in SendMessageInput) (*SendMessageResult, error) {
	defer logger.DeferLogDuration("chat.SendMessage", time.Now())()

	if strings.TrimSpace(in.Content) == "" {
		return nil, apperr.Validation("content is required")
	}
	if utf8.RuneCountInString(in.Content) > model.MaxContentLength {
		return nil, apperr.Validation("content must be at most %d characters", model.MaxContentLength)
	}
	if in.ContentType == "" {
		in.ContentType = model.ContentTypeText
	}
	if !in.ContentType.Valid() {
		return nil, apperr.Validation("unsupported content type %q", in.ContentType)
	}
	if in.ChatID == "" {
		if in.ReceiverID == "" {
			return nil, apperr.Validation("receiverId is required when no chat id is given")
		}
		if in.ReceiverID == senderID {
			return nil, apperr.Validation("cannot start a direct chat with yourself")
		}
		if !isID(in.ReceiverID) {
			return nil, apperr.NotFound("user %s not found", in.ReceiverID)
		}
	} else if !isID(in.ChatID) {
		return nil, apperr.NotFound("chat %s not found", in.ChatID)
	}

	res := &SendMessageResult{}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		sender, err := s.users.GetByID(ctx, senderID)
		if err != nil {
			return notFoundAs(err, "user %s not found", senderID)
		}

		now := s.clock()
		var chat *model.Chat
		if in.ChatID != "" {
			chat, err = s.chats.GetByID(ctx, in.ChatID)
			if err != nil {
				return notFoundAs(err, "chat %s not found", in.ChatID)
			}
			if _, err := s.participants.Get(ctx, chat.ID, senderID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return apperr.Forbidden("user %s is not a participant of chat %s", senderID, chat.ID)
				}
				return err
			}
		} else {
			chat, res.NewChat, err = s.resolveDirectChat(ctx, senderID, in.ReceiverID, now)
			if err != nil {
				return err
			}
			if res.NewChat {
				res.ParticipantIDs = []string{senderID, in.ReceiverID}
			}
		}

		msg := &model.Message{
			ID:          uuid.New().String(),
			ChatID:      chat.ID,
			Content:     in.Content,
			ContentType: in.ContentType,
			SenderID:    senderID,
			SenderName:  sender.DisplayName(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.messages.Create(ctx, msg); err != nil {
			return err
		}
		if _, err := s.chats.TouchLastSent(ctx, chat.ID, chat.Version, now); err != nil {
			return err
		}
		if _, err := s.participants.IncrementUnread(ctx, chat.ID, senderID); err != nil {
			return err
		}
		res.Message = msg
		return nil
	})
	if err != nil {
		return nil, s.fail("send message", err)
	}

	if res.NewChat {
		s.publish(ctx, events.Event{Type: events.TypeChatCreated, ChatID: res.Message.ChatID, ActorID: senderID,
			UserIDs: res.ParticipantIDs, OccurredAt: res.Message.CreatedAt})
	}
	s.publish(ctx, events.Event{Type: events.TypeMessageSent, ChatID: res.Message.ChatID, ActorID: senderID,
		MessageID: res.Message.ID, OccurredAt: res.Message.CreatedAt})
	return res, nil
}

// resolveDirectChat находит direct-чат пары или создаёт его вместе с обоими участниками.
// Вызывается внутри транзакции SendMessage.
func (s *ChatService) resolveDirectChat(ctx context.Context, senderID, receiverID string, now time.Time) (*model.Chat, bool, error) {
	receiver, err := s.users.GetByID(ctx, receiverID)
	if err != nil {
		return nil, false, notFoundAs(err, "user %s not found", receiverID)
	}
	if receiver.Status == model.UserStatusDeleted {
		return nil, false, apperr.NotFound("user %s not found", receiverID)
	}

	if err := s.chats.LockDirectPair(ctx, senderID, receiverID); err != nil {
		return nil, false, err
	}
	chat, err := s.chats.FindDirectChat(ctx, senderID, receiverID)
	if err == nil {
		return chat, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	chat = &model.Chat{
		ID:        uuid.New().String(),
		Type:      model.ChatTypeDirect,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.chats.Create(ctx, chat); err != nil {
		return nil, false, err
	}
	err = s.participants.BulkCreate(ctx, chat.ID, []model.ChatParticipant{
		newParticipant(chat.ID, senderID, model.ParticipantRoleMember, now),
		newParticipant(chat.ID, receiverID, model.ParticipantRoleMember, now),
	})
	if err != nil {
		return nil, false, err
	}
	return chat, true, nil
}

func (s *ChatService) CreateGroup(ctx context.Context, creatorID string, in CreateGroupInput) (*GroupResult, error) {
	defer logger.DeferLogDuration("chat.CreateGroup", time.Now())()

	members := uniqueMembers(in.Users, creatorID)
	if len(members) < 2 {
		return nil, apperr.Validation("a group needs at least 2 other members")
	}

	res := &GroupResult{}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		ids := make([]string, 0, len(members)+1)
		ids = append(ids, creatorID)
		for _, m := range members {
			ids = append(ids, m.ID)
		}
		byID, err := s.loadUsers(ctx, ids)
		if err != nil {
			return err
		}

		name := strings.TrimSpace(in.Name)
		if name == "" {
			name = deriveGroupName(byID[creatorID], members, byID)
		}

		now := s.clock()
		chat := &model.Chat{
			ID:        uuid.New().String(),
			Type:      model.ChatTypeGroup,
			Name:      truncateRunes(name, maxGroupNameLength),
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.chats.Create(ctx, chat); err != nil {
			return err
		}

		ps := make([]model.ChatParticipant, 0, len(ids))
		ps = append(ps, newParticipant(chat.ID, creatorID, model.ParticipantRoleAdmin, now))
		for _, m := range members {
			ps = append(ps, newParticipant(chat.ID, m.ID, model.ParticipantRoleMember, now))
		}
		if err := s.participants.BulkCreate(ctx, chat.ID, ps); err != nil {
			return err
		}

		res.ChatID = chat.ID
		res.MemberIDs = ids
		return nil
	})
	if err != nil {
		return nil, s.fail("create group", err)
	}

	s.publish(ctx, events.Event{Type: events.TypeChatCreated, ChatID: res.ChatID, ActorID: creatorID,
		UserIDs: res.MemberIDs, OccurredAt: s.clock()})
	return res, nil
}

func (s *ChatService) AddMemberToGroup(ctx context.Context, chatID, requesterID string, in AddMembersInput) (*GroupResult, error) {
	defer logger.DeferLogDuration("chat.AddMemberToGroup", time.Now())()

	members := uniqueMembers(in.Users, "")
	if len(members) == 0 {
		return nil, apperr.Validation("users is required")
	}
	if !isID(chatID) {
		return nil, apperr.NotFound("chat %s not found", chatID)
	}

	res := &GroupResult{ChatID: chatID}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		chat, err := s.chats.GetByID(ctx, chatID)
		if err != nil {
			return notFoundAs(err, "chat %s not found", chatID)
		}
		if _, err := s.participants.Get(ctx, chatID, requesterID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.Forbidden("user %s is not a participant of chat %s", requesterID, chatID)
			}
			return err
		}
		if chat.Type != model.ChatTypeGroup {
			return apperr.Validation("members can only be added to group chats")
		}

		ids := make([]string, 0, len(members))
		for _, m := range members {
			ids = append(ids, m.ID)
		}
		if _, err := s.loadUsers(ctx, ids); err != nil {
			return err
		}

		now := s.clock()
		ps := make([]model.ChatParticipant, 0, len(ids))
		for _, id := range ids {
			ps = append(ps, newParticipant(chatID, id, model.ParticipantRoleMember, now))
		}
		if err := s.participants.BulkCreate(ctx, chatID, ps); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.Validation("user is already a participant of chat %s", chatID)
			}
			return err
		}
		res.MemberIDs = ids
		return nil
	})
	if err != nil {
		return nil, s.fail("add members", err)
	}

	s.publish(ctx, events.Event{Type: events.TypeMembersAdded, ChatID: chatID, ActorID: requesterID,
		UserIDs: res.MemberIDs, OccurredAt: s.clock()})
	return res, nil
}

// SeenChatMessage отмечает просмотренными сообщения из (lastSeen, seenTime], обнуляет unread и продвигает lastSeen.
// Нулевой seenTime означает "сейчас".
func (s *ChatService) SeenChatMessage(ctx context.Context, chatID, viewerID string, seenTime time.Time) (*SeenResult, error) {
	defer logger.DeferLogDuration("chat.SeenChatMessage", time.Now())()

	if !isID(chatID) {
		return nil, apperr.NotFound("chat %s not found", chatID)
	}
	if seenTime.IsZero() {
		seenTime = s.clock()
	}
	seenTime = seenTime.UTC().Truncate(time.Microsecond)

	res := &SeenResult{ChatID: chatID, ViewerID: viewerID, SeenTime: seenTime}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.chats.GetByID(ctx, chatID); err != nil {
			return notFoundAs(err, "chat %s not found", chatID)
		}
		p, err := s.participants.Get(ctx, chatID, viewerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.Forbidden("user %s is not a participant of chat %s", viewerID, chatID)
			}
			return err
		}

		ids, err := s.messages.UnseenIDs(ctx, chatID, viewerID, p.LastSeen, seenTime)
		if err != nil {
			return err
		}
		now := s.clock()
		views := make([]model.MessageView, 0, len(ids))
		for _, id := range ids {
			views = append(views, model.MessageView{
				ID:        uuid.New().String(),
				MessageID: id,
				ViewerID:  viewerID,
				SeenTime:  seenTime,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
		if err := s.views.BulkCreate(ctx, views); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.Conflict(err, "messages were marked as seen concurrently, retry")
			}
			return err
		}
		if err := s.participants.MarkSeen(ctx, p.ID, p.Version, seenTime); err != nil {
			return err
		}
		res.Viewed = len(views)
		return nil
	})
	if err != nil {
		return nil, s.fail("mark chat as seen", err)
	}

	s.publish(ctx, events.Event{Type: events.TypeChatSeen, ChatID: chatID, ActorID: viewerID, OccurredAt: seenTime})
	return res, nil
}

// ChatIDsForUser: чаты пользователя для подписки соединения на комнаты.
func (s *ChatService) ChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.chats.ChatIDsForUser(ctx, userID)
	if err != nil {
		return nil, s.fail("load chats", err)
	}
	return ids, nil
}

// ListChats возвращает чаты пользователя; у direct-чата имя: имя собеседника.
func (s *ChatService) ListChats(ctx context.Context, userID string) ([]model.ChatSummary, error) {
	defer logger.DeferLogDuration("chat.ListChats", time.Now())()
	chats, err := s.chats.ListForUser(ctx, userID)
	if err != nil {
		return nil, s.fail("load chats", err)
	}
	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.Chat.ID)
	}
	members, err := s.participants.ListUsers(ctx, ids)
	if err != nil {
		return nil, s.fail("load chats", err)
	}

	out := make([]model.ChatSummary, 0, len(chats))
	for _, c := range chats {
		users := members[c.Chat.ID]
		c.Participants = make([]model.UserPublic, 0, len(users))
		for i := range users {
			c.Participants = append(c.Participants, users[i].ToPublic())
			if c.Chat.Type == model.ChatTypeDirect && users[i].ID != userID {
				c.Chat.Name = users[i].DisplayName()
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *ChatService) ListMessages(ctx context.Context, chatID, userID string, before *time.Time, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("chat.ListMessages", time.Now())()
	if limit <= 0 {
		limit = defaultMessagePage
	}
	if limit > maxMessagePage {
		limit = maxMessagePage
	}
	if !isID(chatID) {
		return nil, apperr.NotFound("chat %s not found", chatID)
	}
	if _, err := s.chats.GetByID(ctx, chatID); err != nil {
		return nil, s.fail("load messages", notFoundAs(err, "chat %s not found", chatID))
	}
	if _, err := s.participants.Get(ctx, chatID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Forbidden("user %s is not a participant of chat %s", userID, chatID)
		}
		return nil, s.fail("load messages", err)
	}
	msgs, err := s.messages.ListByChat(ctx, chatID, before, limit)
	if err != nil {
		return nil, s.fail("load messages", err)
	}
	return msgs, nil
}

// loadUsers проверяет, что все ids существуют и не удалены.
func (s *ChatService) loadUsers(ctx context.Context, ids []string) (map[string]*model.User, error) {
	for _, id := range ids {
		if !isID(id) {
			return nil, apperr.NotFound("user %s not found", id)
		}
	}
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.User, len(users))
	for i := range users {
		if users[i].Status != model.UserStatusDeleted {
			byID[users[i].ID] = &users[i]
		}
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, apperr.NotFound("user %s not found", id)
		}
	}
	return byID, nil
}

// fail приводит ошибку к виду apperr; нетипизированные сбои БД становятся transient.
func (s *ChatService) fail(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, repository.ErrStaleVersion) {
		return apperr.Conflict(err, "chat was modified concurrently, retry")
	}
	logger.Errorf("chat %s: %v", op, err)
	return apperr.Transient(err, "failed to "+op)
}

func (s *ChatService) publish(ctx context.Context, e events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, e); err != nil {
		logger.Errorf("chat publish %s chat=%s: %v", e.Type, e.ChatID, err)
	}
}

// isID отсекает заведомо несуществующие id до запроса: колонки id в Postgres имеют тип uuid.
func isID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func notFoundAs(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(format, args...)
	}
	return err
}

func newParticipant(chatID, userID string, role model.ParticipantRole, now time.Time) model.ChatParticipant {
	return model.ChatParticipant{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		UserID:    userID,
		Role:      role,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// uniqueMembers убирает пустые id, повторы и exclude (создателя группы), сохраняя порядок.
func uniqueMembers(users []GroupMember, exclude string) []GroupMember {
	seen := make(map[string]struct{}, len(users))
	out := make([]GroupMember, 0, len(users))
	for _, u := range users {
		u.ID = strings.TrimSpace(u.ID)
		if u.ID == "" || u.ID == exclude {
			continue
		}
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, u)
	}
	return out
}

// deriveGroupName склеивает имена создателя и участников: "Anna, Boris, Vera".
func deriveGroupName(creator *model.User, members []GroupMember, byID map[string]*model.User) string {
	names := make([]string, 0, len(members)+1)
	if n := firstName(creator.FirstName, creator.DisplayName()); n != "" {
		names = append(names, n)
	}
	for _, m := range members {
		var n string
		if u, ok := byID[m.ID]; ok {
			n = firstName(u.FirstName, m.Name)
		} else {
			n = firstName("", m.Name)
		}
		if n != "" {
			names = append(names, n)
		}
	}
	return strings.Join(names, ", ")
}

func firstName(first, full string) string {
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	if fields := strings.Fields(full); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
