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

// userColsU: список колонок users с алиасом u (порядок соответствует scanUser).
const userColsU = `u.id, u.first_name, u.last_name, u.role, u.status, u.password_hash, u.created_at`

// UserRepository читает пользователей, которыми владеет внешний сервис.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Role, &u.Status, &u.PasswordHash, &u.CreatedAt)
}

// Create используется сидированием в -dev и тестами.
func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO users (id, first_name, last_name, role, status, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.FirstName, u.LastName, u.Role, u.Status, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColsU+` FROM users u WHERE u.id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// GetByIDs возвращает найденных пользователей; отсутствующие id просто не попадают в результат.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	defer logger.DeferLogDuration("user.GetByIDs", time.Now())()
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+userColsU+` FROM users u WHERE u.id = ANY($1::text[]::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByIDs: %w", err)
	}
	defer rows.Close()
	users := make([]model.User, 0, len(ids))
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.GetByIDs scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.GetByIDs rows: %w", err)
	}
	return users, nil
}
