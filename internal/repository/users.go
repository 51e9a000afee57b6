package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/library-system/internal/model"
)

// CreateUser создаёт нового читателя со статусом ACTIVE.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	ctx, cancel := boundedCtx(ctx)
	defer cancel()

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, status) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(model.UserStatusActive),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает читателя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	ctx, cancel := boundedCtx(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, status, current_borrowed, total_borrowed, total_fines, created_at
		 FROM users
		 WHERE login = $1`,
		login,
	)

	var u model.User
	var status string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &status, &u.CurrentBorrowed, &u.TotalBorrowed, &u.TotalFines, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Status = model.UserStatus(status)

	return &u, nil
}

// GetBalance возвращает пожизненную сумму начислений читателя и его
// текущую задолженность (сумму штрафов в статусе PENDING).
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	ctx, cancel := boundedCtx(ctx)
	defer cancel()

	var totalFines int64
	err := r.pool.QueryRow(ctx,
		`SELECT total_fines FROM users WHERE id = $1`,
		userID,
	).Scan(&totalFines)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get total fines: %w", err)
	}

	var outstanding int64
	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM fines
		 WHERE user_id = $1 AND status = $2`,
		userID, string(model.FineStatusPending),
	).Scan(&outstanding)
	if err != nil {
		return nil, fmt.Errorf("sum pending fines: %w", err)
	}

	return &model.Balance{
		TotalFines:  totalFines,
		Outstanding: outstanding,
	}, nil
}
