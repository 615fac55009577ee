package yookassa_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rushadaev/dj-connect-back/internal/infrastructure/yookassa"
	pkgerrors "github.com/rushadaev/dj-connect-back/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CreatePaymentLink(t *testing.T) {
	var captured struct {
		path           string
		idempotenceKey string
		user, pass     string
		body           map[string]any
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.idempotenceKey = r.Header.Get("Idempotence-Key")
		captured.user, captured.pass, _ = r.BasicAuth()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.body))

		json.NewEncoder(w).Encode(map[string]any{
			"id":     "pay-abc",
			"status": "pending",
			"confirmation": map[string]string{
				"confirmation_url": "https://yookassa.example/checkout/abc",
			},
		})
	}))
	defer server.Close()

	client := yookassa.NewClientWithBaseURL("shop-1", "secret", "https://app.example/payments/return", server.URL)

	payment, err := client.CreatePaymentLink(context.Background(), decimal.NewFromInt(1500), 42, "Заказ #42")
	require.NoError(t, err)

	assert.Equal(t, "pay-abc", payment.ID)
	assert.Equal(t, "https://yookassa.example/checkout/abc", payment.ConfirmationURL)

	assert.Equal(t, "/payments", captured.path)
	assert.NotEmpty(t, captured.idempotenceKey)
	assert.Equal(t, "shop-1", captured.user)
	assert.Equal(t, "secret", captured.pass)

	amount := captured.body["amount"].(map[string]any)
	assert.Equal(t, "1500.00", amount["value"])
	assert.Equal(t, "RUB", amount["currency"])

	confirmation := captured.body["confirmation"].(map[string]any)
	assert.Equal(t, "https://app.example/payments/return?orderId=42", confirmation["return_url"])

	metadata := captured.body["metadata"].(map[string]any)
	assert.Equal(t, "42", metadata["order_id"])
}

func TestClient_RetrievePayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/pay-abc", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "pay-abc",
			"status": "succeeded",
		})
	}))
	defer server.Close()

	client := yookassa.NewClientWithBaseURL("shop-1", "secret", "https://app.example/return", server.URL)

	payment, err := client.RetrievePayment(context.Background(), "pay-abc")
	require.NoError(t, err)
	assert.Equal(t, yookassa.StatusSucceeded, payment.Status)
}

func TestClient_GatewayErrorsAreWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"description":"invalid credentials"}`))
	}))
	defer server.Close()

	client := yookassa.NewClientWithBaseURL("shop-1", "bad-secret", "https://app.example/return", server.URL)

	_, err := client.RetrievePayment(context.Background(), "pay-abc")
	assert.ErrorIs(t, err, pkgerrors.ErrGateway)

	_, err = client.CreatePaymentLink(context.Background(), decimal.NewFromInt(100), 1, "")
	assert.ErrorIs(t, err, pkgerrors.ErrGateway)
}
