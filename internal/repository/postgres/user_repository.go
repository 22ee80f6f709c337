package postgres

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

type UserRepository struct {
	db DBTX
}

// Create создаёт нового пользователя
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (telegram_chat_id, first_name, last_name, is_instructor, lesson_rate_cents, gateway_customer_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(
		ctx, query,
		user.TelegramChatID,
		user.FirstName,
		user.LastName,
		user.IsInstructor,
		user.LessonRateCents,
		user.GatewayCustomerRef,
	).Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}

// GetByID получает пользователя по ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	query := `
		SELECT id, telegram_chat_id, first_name, last_name, is_instructor, lesson_rate_cents, gateway_customer_ref, created_at
		FROM users
		WHERE id = $1
	`

	var user model.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.TelegramChatID,
		&user.FirstName,
		&user.LastName,
		&user.IsInstructor,
		&user.LessonRateCents,
		&user.GatewayCustomerRef,
		&user.CreatedAt,
	)

	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	return &user, nil
}

// Update обновляет профиль пользователя
func (r *UserRepository) Update(ctx context.Context, user *model.User) error {
	query := `
		UPDATE users
		SET telegram_chat_id = $2,
		    first_name = $3,
		    last_name = $4,
		    is_instructor = $5,
		    lesson_rate_cents = $6,
		    gateway_customer_ref = $7
		WHERE id = $1
	`

	tag, err := r.db.Exec(
		ctx, query,
		user.ID,
		user.TelegramChatID,
		user.FirstName,
		user.LastName,
		user.IsInstructor,
		user.LessonRateCents,
		user.GatewayCustomerRef,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update user %d: %w", user.ID, model.ErrNotFound)
	}

	return nil
}
