package telegram_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rushadaev/dj-connect-back/internal/infrastructure/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendMessage(t *testing.T) {
	var captured struct {
		path string
		body map[string]any
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.body))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := telegram.NewClientWithBaseURL("bot-token", server.URL)

	keyboard := [][]telegram.InlineButton{{
		{Text: "✅Принять", CallbackData: "accept_5"},
	}}
	err := client.SendMessage(context.Background(), 111, "У вас новый заказ", keyboard)
	require.NoError(t, err)

	assert.Equal(t, "/botbot-token/sendMessage", captured.path)
	assert.Equal(t, float64(111), captured.body["chat_id"])
	assert.Equal(t, "У вас новый заказ", captured.body["text"])
	assert.Contains(t, captured.body, "reply_markup")
}

func TestClient_SendMessageRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	client := telegram.NewClientWithBaseURL("bot-token", server.URL)

	err := client.SendMessage(context.Background(), 404, "hello", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestUpdate_ChatID(t *testing.T) {
	message := &telegram.Update{Message: &telegram.Message{Chat: telegram.Chat{ID: 7}}}
	assert.Equal(t, int64(7), message.ChatID())

	callback := &telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		Message: &telegram.Message{Chat: telegram.Chat{ID: 8}},
	}}
	assert.Equal(t, int64(8), callback.ChatID())

	assert.Zero(t, (&telegram.Update{}).ChatID())
}
