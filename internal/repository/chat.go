package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carechat/internal/logger"
	"github.com/carechat/internal/model"
)

const chatCols = `c.id, c.type, COALESCE(c.name, ''), c.last_sent, c.version, c.created_at, c.updated_at`

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanChat(s interface{ Scan(dest ...any) error }, c *model.Chat) error {
	return s.Scan(&c.ID, &c.Type, &c.Name, &c.LastSent, &c.Version, &c.CreatedAt, &c.UpdatedAt)
}

func (r *ChatRepository) Create(ctx context.Context, c *model.Chat) error {
	defer logger.DeferLogDuration("chat.Create", time.Now())()
	var name *string
	if c.Name != "" {
		name = &c.Name
	}
	_, err := conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO chats (id, type, name, last_sent, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Type, name, c.LastSent, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.Create: %w", err)
	}
	return nil
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Chat{}
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+chatCols+` FROM chats c WHERE c.id = $1`, id)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return c, nil
}

// FindDirectChat ищет direct-чат, в котором ровно два участника: userA и userB.
func (r *ChatRepository) FindDirectChat(ctx context.Context, userA, userB string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.FindDirectChat", time.Now())()
	c := &model.Chat{}
	row := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+chatCols+`
		 FROM chats c
		 WHERE c.type = 'direct'
		   AND EXISTS (SELECT 1 FROM chat_participants p WHERE p.chat_id = c.id AND p.user_id = $1)
		   AND EXISTS (SELECT 1 FROM chat_participants p WHERE p.chat_id = c.id AND p.user_id = $2)
		   AND (SELECT COUNT(*) FROM chat_participants p WHERE p.chat_id = c.id) = 2
		 ORDER BY c.created_at
		 LIMIT 1`,
		userA, userB,
	)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.FindDirectChat: %w", err)
	}
	return c, nil
}

// LockDirectPair берёт advisory-блокировку на пару пользователей до конца транзакции,
// чтобы два одновременных первых сообщения не создали два direct-чата.
func (r *ChatRepository) LockDirectPair(ctx context.Context, userA, userB string) error {
	defer logger.DeferLogDuration("chat.LockDirectPair", time.Now())()
	if userA > userB {
		userA, userB = userB, userA
	}
	_, err := conn(ctx, r.pool).Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, "direct:"+userA+":"+userB)
	if err != nil {
		return fmt.Errorf("chatRepo.LockDirectPair: %w", err)
	}
	return nil
}

// TouchLastSent продвигает last_sent и version, если version не изменилась с момента чтения.
func (r *ChatRepository) TouchLastSent(ctx context.Context, id string, version int, at time.Time) (int, error) {
	defer logger.DeferLogDuration("chat.TouchLastSent", time.Now())()
	var next int
	err := conn(ctx, r.pool).QueryRow(ctx,
		`UPDATE chats
		 SET last_sent = GREATEST(COALESCE(last_sent, $2), $2), version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND version = $3
		 RETURNING version`,
		id, at, version,
	).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrStaleVersion
	}
	if err != nil {
		return 0, fmt.Errorf("chatRepo.TouchLastSent: %w", err)
	}
	return next, nil
}

// ChatIDsForUser возвращает id всех чатов, где пользователь: участник.
func (r *ChatRepository) ChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.ChatIDsForUser", time.Now())()
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT chat_id FROM chat_participants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ChatIDsForUser: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatRepo.ChatIDsForUser scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListForUser возвращает чаты пользователя с его unread/last_seen, новые сверху.
func (r *ChatRepository) ListForUser(ctx context.Context, userID string) ([]model.ChatSummary, error) {
	defer logger.DeferLogDuration("chat.ListForUser", time.Now())()
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+chatCols+`, p.unread_message, p.last_seen
		 FROM chats c
		 JOIN chat_participants p ON p.chat_id = c.id
		 WHERE p.user_id = $1
		 ORDER BY c.last_sent DESC NULLS LAST, c.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser: %w", err)
	}
	defer rows.Close()

	var out []model.ChatSummary
	for rows.Next() {
		var s model.ChatSummary
		c := &s.Chat
		if err := rows.Scan(&c.ID, &c.Type, &c.Name, &c.LastSent, &c.Version, &c.CreatedAt, &c.UpdatedAt,
			&s.UnreadMessage, &s.LastSeen); err != nil {
			return nil, fmt.Errorf("chatRepo.ListForUser scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser rows: %w", err)
	}
	return out, nil
}
