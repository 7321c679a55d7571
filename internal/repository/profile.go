package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/gostorefront/internal/domain/model"
)

// ProfileRepository — профили пользователей в таблице user_profiles.
type ProfileRepository struct {
	db DBTX
}

// NewProfileRepository создаёт репозиторий профилей.
func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// RecordLogin создаёт профиль или обновляет время последнего входа.
func (r *ProfileRepository) RecordLogin(ctx context.Context, email string, at time.Time) (*model.UserProfile, error) {
	p := &model.UserProfile{Email: email}
	err := r.db.QueryRow(ctx,
		`INSERT INTO user_profiles (email, first_login_at, last_login_at)
		 VALUES ($1, $2, $2)
		 ON CONFLICT (email) DO UPDATE SET
			last_login_at = EXCLUDED.last_login_at,
			login_count = user_profiles.login_count + 1
		 RETURNING first_login_at, last_login_at, login_count`,
		email, at,
	).Scan(&p.FirstLoginAt, &p.LastLoginAt, &p.LoginCount)
	if err != nil {
		return nil, fmt.Errorf("ошибка upsert профиля: %w", err)
	}
	return p, nil
}

// Get возвращает профиль по email.
func (r *ProfileRepository) Get(ctx context.Context, email string) (*model.UserProfile, error) {
	p := &model.UserProfile{Email: email}
	err := r.db.QueryRow(ctx,
		`SELECT first_login_at, last_login_at, login_count FROM user_profiles WHERE email = $1`,
		email,
	).Scan(&p.FirstLoginAt, &p.LastLoginAt, &p.LoginCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения профиля: %w", err)
	}
	return p, nil
}
