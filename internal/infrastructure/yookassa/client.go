package yookassa

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	pkgerrors "github.com/rushadaev/dj-connect-back/pkg/errors"
	"github.com/shopspring/decimal"
)

// Gateway is the payment-provider boundary. The core depends on these three
// operations only; request/response shapes beyond them are the provider's
// business.
type Gateway interface {
	CreatePaymentLink(ctx context.Context, amount decimal.Decimal, orderID int64, description string) (*Payment, error)
	RetrievePayment(ctx context.Context, paymentID string) (*Payment, error)
	CreatePayout(ctx context.Context, amount decimal.Decimal, destination, description string) (*PayoutResult, error)
}

const (
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"
)

type Payment struct {
	ID              string
	Status          string
	ConfirmationURL string
	Metadata        map[string]string
}

type PayoutResult struct {
	ID     string
	Status string
}

// Client talks to the YooKassa v3 API over HTTP basic auth.
type Client struct {
	shopID     string
	secretKey  string
	returnURL  string
	baseURL    string
	httpClient *http.Client
}

func NewClient(shopID, secretKey, returnURL string) *Client {
	return &Client{
		shopID:    shopID,
		secretKey: secretKey,
		returnURL: returnURL,
		baseURL:   "https://api.yookassa.ru/v3",
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// NewClientWithBaseURL is used by tests to point the client at a stub server.
func NewClientWithBaseURL(shopID, secretKey, returnURL, baseURL string) *Client {
	c := NewClient(shopID, secretKey, returnURL)
	c.baseURL = baseURL
	return c
}

type paymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
	Metadata map[string]string `json:"metadata"`
}

func (c *Client) CreatePaymentLink(ctx context.Context, amount decimal.Decimal, orderID int64, description string) (*Payment, error) {
	body := map[string]any{
		"amount": map[string]string{
			"value":    amount.StringFixed(2),
			"currency": "RUB",
		},
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": fmt.Sprintf("%s?orderId=%d", c.returnURL, orderID),
		},
		"capture":     true,
		"description": description,
		"metadata": map[string]string{
			"order_id": strconv.FormatInt(orderID, 10),
		},
	}

	var resp paymentResponse
	if err := c.post(ctx, "/payments", body, &resp); err != nil {
		slog.Error("failed to create payment", "order_id", orderID, "error", err)
		return nil, err
	}

	slog.Info("payment created", "order_id", orderID, "payment_id", resp.ID, "status", resp.Status)
	return &Payment{
		ID:              resp.ID,
		Status:          resp.Status,
		ConfirmationURL: resp.Confirmation.ConfirmationURL,
		Metadata:        resp.Metadata,
	}, nil
}

func (c *Client) RetrievePayment(ctx context.Context, paymentID string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/"+paymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", pkgerrors.ErrGateway, err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)

	var resp paymentResponse
	if err := c.do(req, &resp); err != nil {
		slog.Error("failed to retrieve payment", "payment_id", paymentID, "error", err)
		return nil, err
	}
	return &Payment{
		ID:              resp.ID,
		Status:          resp.Status,
		ConfirmationURL: resp.Confirmation.ConfirmationURL,
		Metadata:        resp.Metadata,
	}, nil
}

func (c *Client) CreatePayout(ctx context.Context, amount decimal.Decimal, destination, description string) (*PayoutResult, error) {
	body := map[string]any{
		"amount": map[string]string{
			"value":    amount.StringFixed(2),
			"currency": "RUB",
		},
		"payout_token": destination,
		"description":  description,
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.post(ctx, "/payouts", body, &resp); err != nil {
		slog.Error("failed to create payout", "error", err)
		return nil, err
	}

	slog.Info("payout created", "payout_id", resp.ID, "status", resp.Status)
	return &PayoutResult{ID: resp.ID, Status: resp.Status}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal request: %v", pkgerrors.ErrGateway, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to build request: %v", pkgerrors.ErrGateway, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", idempotenceKey())
	req.SetBasicAuth(c.shopID, c.secretKey)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", pkgerrors.ErrGateway, resp.StatusCode, detail)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", pkgerrors.ErrGateway, err)
	}
	return nil
}

// idempotenceKey generates the per-request key the gateway uses to dedupe
// retried creates.
func idempotenceKey() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}
