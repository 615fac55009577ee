package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	service "github.com/rushadaev/dj-connect-back/internal/services"
	pkgerrors "github.com/rushadaev/dj-connect-back/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()
	const secret = "test-secret"

	t.Run("RegistersUnknownTelegramID", func(t *testing.T) {
		users := newFakeUserRepo()
		cache := newFakeRedis()
		auth := service.NewAuthService(users, cache, secret)

		token, user, err := auth.Login(ctx, 555, "Dasha")
		require.NoError(t, err)
		require.NotEmpty(t, token)
		assert.Equal(t, int64(555), user.TelegramID)
		assert.Equal(t, "Dasha", user.Name)

		parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		require.NoError(t, err)
		claims := parsed.Claims.(jwt.MapClaims)
		assert.Equal(t, float64(user.ID), claims["user_id"])
		assert.Equal(t, float64(555), claims["telegram_id"])

		stored, err := cache.Get(ctx, fmt.Sprintf("user:%d:token", user.ID))
		require.NoError(t, err)
		assert.Equal(t, token, stored)
	})

	t.Run("ExistingUserIsNotDuplicated", func(t *testing.T) {
		users := newFakeUserRepo()
		cache := newFakeRedis()
		auth := service.NewAuthService(users, cache, secret)

		_, first, err := auth.Login(ctx, 555, "Dasha")
		require.NoError(t, err)
		_, second, err := auth.Login(ctx, 555, "Dasha")
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Len(t, users.users, 1)
	})

	t.Run("MissingTelegramID", func(t *testing.T) {
		auth := service.NewAuthService(newFakeUserRepo(), newFakeRedis(), secret)
		_, _, err := auth.Login(ctx, 0, "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}
