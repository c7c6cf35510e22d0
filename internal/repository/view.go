package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carechat/internal/logger"
	"github.com/carechat/internal/model"
)

type ViewRepository struct {
	pool *pgxpool.Pool
}

func NewViewRepository(pool *pgxpool.Pool) *ViewRepository {
	return &ViewRepository{pool: pool}
}

// BulkCreate вставляет отметки о просмотре одним запросом.
// Уникальность (message_id, viewer_id) гарантирует ограничение; повтор возвращает ErrDuplicate.
func (r *ViewRepository) BulkCreate(ctx context.Context, views []model.MessageView) error {
	defer logger.DeferLogDuration("view.BulkCreate", time.Now())()
	if len(views) == 0 {
		return nil
	}
	ids := make([]string, len(views))
	msgIDs := make([]string, len(views))
	for i, v := range views {
		ids[i], msgIDs[i] = v.ID, v.MessageID
	}
	first := views[0]
	_, err := conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO message_views (id, message_id, viewer_id, seen_time, created_at, updated_at)
		 SELECT t.id::uuid, t.message_id::uuid, $1::uuid, $2::timestamptz, $3::timestamptz, $3::timestamptz
		 FROM unnest($4::text[], $5::text[]) AS t(id, message_id)`,
		first.ViewerID, first.SeenTime, first.CreatedAt, ids, msgIDs,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("viewRepo.BulkCreate: %w", ErrDuplicate)
		}
		return fmt.Errorf("viewRepo.BulkCreate: %w", err)
	}
	return nil
}
