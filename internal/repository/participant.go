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

const participantCols = `id, chat_id, user_id, role, unread_message, last_seen, version, created_at, updated_at`

type ParticipantRepository struct {
	pool *pgxpool.Pool
}

func NewParticipantRepository(pool *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{pool: pool}
}

func scanParticipant(s interface{ Scan(dest ...any) error }, p *model.ChatParticipant) error {
	return s.Scan(&p.ID, &p.ChatID, &p.UserID, &p.Role, &p.UnreadMessage, &p.LastSeen, &p.Version, &p.CreatedAt, &p.UpdatedAt)
}

// BulkCreate вставляет участников одного чата одним запросом.
// Повтор пары (chat_id, user_id) возвращает ErrDuplicate.
func (r *ParticipantRepository) BulkCreate(ctx context.Context, chatID string, ps []model.ChatParticipant) error {
	defer logger.DeferLogDuration("participant.BulkCreate", time.Now())()
	if len(ps) == 0 {
		return nil
	}
	ids := make([]string, len(ps))
	userIDs := make([]string, len(ps))
	roles := make([]string, len(ps))
	for i, p := range ps {
		ids[i], userIDs[i], roles[i] = p.ID, p.UserID, string(p.Role)
	}
	_, err := conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO chat_participants (id, chat_id, user_id, role, unread_message, version, created_at, updated_at)
		 SELECT t.id::uuid, $1::uuid, t.user_id::uuid, t.role, 0, 1, $5::timestamptz, $5::timestamptz
		 FROM unnest($2::text[], $3::text[], $4::text[]) AS t(id, user_id, role)`,
		chatID, ids, userIDs, roles, ps[0].CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("participantRepo.BulkCreate: %w", ErrDuplicate)
		}
		return fmt.Errorf("participantRepo.BulkCreate: %w", err)
	}
	return nil
}

func (r *ParticipantRepository) Get(ctx context.Context, chatID, userID string) (*model.ChatParticipant, error) {
	defer logger.DeferLogDuration("participant.Get", time.Now())()
	p := &model.ChatParticipant{}
	row := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+participantCols+` FROM chat_participants WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	)
	if err := scanParticipant(row, p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("participantRepo.Get: %w", err)
	}
	return p, nil
}

// ListUsers возвращает участников нескольких чатов: chatID -> пользователи.
func (r *ParticipantRepository) ListUsers(ctx context.Context, chatIDs []string) (map[string][]model.User, error) {
	defer logger.DeferLogDuration("participant.ListUsers", time.Now())()
	out := make(map[string][]model.User, len(chatIDs))
	if len(chatIDs) == 0 {
		return out, nil
	}
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT p.chat_id, `+userColsU+`
		 FROM chat_participants p
		 JOIN users u ON u.id = p.user_id
		 WHERE p.chat_id = ANY($1::text[]::uuid[])
		 ORDER BY p.created_at, u.id`,
		chatIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("participantRepo.ListUsers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var chatID string
		var u model.User
		if err := rows.Scan(&chatID, &u.ID, &u.FirstName, &u.LastName, &u.Role, &u.Status, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("participantRepo.ListUsers scan: %w", err)
		}
		out[chatID] = append(out[chatID], u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("participantRepo.ListUsers rows: %w", err)
	}
	return out, nil
}

// IncrementUnread увеличивает unread_message всем участникам чата, кроме отправителя, одним запросом.
func (r *ParticipantRepository) IncrementUnread(ctx context.Context, chatID, senderID string) (int64, error) {
	defer logger.DeferLogDuration("participant.IncrementUnread", time.Now())()
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE chat_participants
		 SET unread_message = unread_message + 1, version = version + 1, updated_at = NOW()
		 WHERE chat_id = $1 AND user_id <> $2`,
		chatID, senderID,
	)
	if err != nil {
		return 0, fmt.Errorf("participantRepo.IncrementUnread: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkSeen обнуляет unread_message и продвигает last_seen (никогда назад), если version не изменилась.
func (r *ParticipantRepository) MarkSeen(ctx context.Context, id string, version int, seenTime time.Time) error {
	defer logger.DeferLogDuration("participant.MarkSeen", time.Now())()
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE chat_participants
		 SET unread_message = 0, last_seen = GREATEST(COALESCE(last_seen, $2), $2),
		     version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND version = $3`,
		id, seenTime, version,
	)
	if err != nil {
		return fmt.Errorf("participantRepo.MarkSeen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleVersion
	}
	return nil
}
