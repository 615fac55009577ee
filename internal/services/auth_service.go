package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/golang-jwt/jwt/v5"
	infraredis "github.com/rushadaev/dj-connect-back/internal/infrastructure/redis"
	"github.com/rushadaev/dj-connect-back/internal/models"
	"github.com/rushadaev/dj-connect-back/internal/repository"
	pkgerrors "github.com/rushadaev/dj-connect-back/pkg/errors"
)

const tokenTTL = 24 * time.Hour

// AuthService issues API tokens. Identity comes from the chat platform, so
// login is register-or-login by telegram id: unknown ids become new users.
type AuthService interface {
	Login(ctx context.Context, telegramID int64, name string) (string, *models.User, error)
}

type authService struct {
	users     repository.UserRepository
	redis     infraredis.RedisClient
	jwtSecret string
}

func NewAuthService(users repository.UserRepository, redisClient infraredis.RedisClient, jwtSecret string) *authService {
	return &authService{users: users, redis: redisClient, jwtSecret: jwtSecret}
}

func (s *authService) Login(ctx context.Context, telegramID int64, name string) (string, *models.User, error) {
	if telegramID == 0 {
		return "", nil, fmt.Errorf("%w: telegram_id is required", pkgerrors.ErrInvalidInput)
	}

	user, err := s.users.GetByTelegramID(ctx, telegramID)
	if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		user = &models.User{TelegramID: telegramID, Name: name}
		if _, err := s.users.Create(ctx, user); err != nil {
			return "", nil, err
		}
		slog.Info("user registered via login", "user_id", user.ID, "telegram_id", telegramID)
	} else if err != nil {
		return "", nil, err
	}

	claims := jwt.MapClaims{
		"user_id":     user.ID,
		"telegram_id": user.TelegramID,
		"exp":         time.Now().Add(tokenTTL).Unix(),
		"iat":         time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", nil, fmt.Errorf("%w: failed to sign token", pkgerrors.ErrInternal)
	}

	if err := s.redis.Set(ctx, fmt.Sprintf("user:%d:token", user.ID), signed, tokenTTL); err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}

	return signed, user, nil
}
