package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository"
)

type UserService struct {
	store  repository.Store
	logger *zap.Logger
}

func NewUserService(store repository.Store, logger *zap.Logger) *UserService {
	return &UserService{
		store:  store,
		logger: logger,
	}
}

// RegisterUser регистрирует нового пользователя (по умолчанию студент)
func (s *UserService) RegisterUser(ctx context.Context, firstName, lastName string, telegramChatID *int64) (*model.User, error) {
	if firstName == "" {
		return nil, model.Invalid("first_name", "is required")
	}

	user := &model.User{
		TelegramChatID: telegramChatID,
		FirstName:      firstName,
		LastName:       lastName,
	}

	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("New user registered",
		zap.Int64("user_id", user.ID),
		zap.Bool("telegram", telegramChatID != nil),
	)

	return user, nil
}

// GetByID получает пользователя по ID
func (s *UserService) GetByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.store.Users().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", id, model.ErrNotFound)
	}
	return user, nil
}

// MakeInstructor делает пользователя инструктором. rateCents nil - цена из конфига.
func (s *UserService) MakeInstructor(ctx context.Context, userID int64, rateCents *int64) (*model.User, error) {
	if rateCents != nil && *rateCents < 0 {
		return nil, model.Invalid("lesson_rate_cents", "must not be negative")
	}

	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	user.IsInstructor = true
	user.LessonRateCents = rateCents
	if err := s.store.Users().Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.logger.Info("User became instructor",
		zap.Int64("user_id", user.ID),
		zap.Bool("custom_rate", rateCents != nil),
	)

	return user, nil
}

// SetCardOnFile сохраняет ссылку на карту клиента у платёжного шлюза
func (s *UserService) SetCardOnFile(ctx context.Context, userID int64, customerRef string) error {
	if customerRef == "" {
		return model.Invalid("customer_ref", "is required")
	}

	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	user.GatewayCustomerRef = &customerRef
	if err := s.store.Users().Update(ctx, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	s.logger.Info("Card on file saved", zap.Int64("user_id", user.ID))
	return nil
}
