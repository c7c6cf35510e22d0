package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carechat/internal/logger"
	"github.com/carechat/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO messages (id, chat_id, content, content_type, sender_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ChatID, m.Content, m.ContentType, m.SenderID, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

// ListByChat возвращает страницу сообщений чата от новых к старым; before: курсор по created_at.
func (r *MessageRepository) ListByChat(ctx context.Context, chatID string, before *time.Time, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByChat", time.Now())()
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT m.id, m.chat_id, m.content, m.content_type, m.sender_id,
		        TRIM(u.first_name || ' ' || u.last_name), m.created_at, m.updated_at
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.chat_id = $1 AND ($2::timestamptz IS NULL OR m.created_at < $2)
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $3`,
		chatID, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByChat: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Content, &m.ContentType, &m.SenderID,
			&m.SenderName, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByChat scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByChat rows: %w", err)
	}
	return messages, nil
}

// UnseenIDs возвращает id сообщений чата из интервала (after, upTo], которые viewer ещё не видел.
// after == nil: нижняя граница не ограничена.
func (r *MessageRepository) UnseenIDs(ctx context.Context, chatID, viewerID string, after *time.Time, upTo time.Time) ([]string, error) {
	defer logger.DeferLogDuration("msg.UnseenIDs", time.Now())()
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT m.id
		 FROM messages m
		 WHERE m.chat_id = $1
		   AND m.created_at <= $4
		   AND ($3::timestamptz IS NULL OR m.created_at > $3)
		   AND NOT EXISTS (
		       SELECT 1 FROM message_views v WHERE v.message_id = m.id AND v.viewer_id = $2
		   )
		 ORDER BY m.created_at`,
		chatID, viewerID, after, upTo,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.UnseenIDs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("msgRepo.UnseenIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
