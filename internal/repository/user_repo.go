package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sendgate/internal/apperror"
	"sendgate/internal/model"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `
        SELECT id, plan, credits, created_at
        FROM users
        WHERE id = $1
    `
	var u model.User
	err := r.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.Plan, &u.Credits, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) DeductCredit(ctx context.Context, id string) (bool, error) {
	query := `
        UPDATE users
        SET credits = credits - 1
        WHERE id = $1 AND credits > 0
    `
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *UserRepository) SetPlan(ctx context.Context, id string, plan model.Plan, credits *int) (*model.User, error) {
	query := `
        UPDATE users
        SET plan = $2, credits = COALESCE($3, credits)
        WHERE id = $1
        RETURNING id, plan, credits, created_at
    `
	var u model.User
	err := r.db.QueryRow(ctx, query, id, plan, credits).Scan(&u.ID, &u.Plan, &u.Credits, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
