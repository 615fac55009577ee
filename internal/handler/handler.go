package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rushadaev/dj-connect-back/internal/bot"
	"github.com/rushadaev/dj-connect-back/internal/infrastructure/telegram"
	"github.com/rushadaev/dj-connect-back/internal/models"
	"github.com/rushadaev/dj-connect-back/internal/repository"
	service "github.com/rushadaev/dj-connect-back/internal/services"
	pkgerrors "github.com/rushadaev/dj-connect-back/pkg/errors"
	"github.com/shopspring/decimal"
)

type Handler struct {
	orders   service.OrderService
	payments service.PaymentService
	auth     service.AuthService
	djs      repository.DJRepository
	dialog   *bot.Dialog
}

func NewHandler(
	orders service.OrderService,
	payments service.PaymentService,
	auth service.AuthService,
	djs repository.DJRepository,
	dialog *bot.Dialog,
) *Handler {
	return &Handler{orders: orders, payments: payments, auth: auth, djs: djs, dialog: dialog}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pkgerrors.ErrOrderNotFound),
		errors.Is(err, pkgerrors.ErrDJNotFound),
		errors.Is(err, pkgerrors.ErrTrackNotFound),
		errors.Is(err, pkgerrors.ErrUserNotFound),
		errors.Is(err, pkgerrors.ErrPayoutNotFound),
		errors.Is(err, pkgerrors.ErrTransactionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, pkgerrors.ErrPaymentExpired):
		status = http.StatusGone
	case errors.Is(err, pkgerrors.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, pkgerrors.ErrGateway):
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/auth/login", h.Login).Methods("POST")
	r.HandleFunc("/orders/{id}/status", h.OrderStatus).Methods("GET")
	r.HandleFunc("/dj/{id}", h.GetDJ).Methods("GET")
	r.HandleFunc("/dj/{id}/tracks", h.ListDJTracks).Methods("GET")
	r.HandleFunc("/payments/return", h.PaymentReturn).Methods("GET")
	r.HandleFunc("/telegram/webhook/{bot}", h.TelegramWebhook).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	r.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	r.HandleFunc("/orders/{id}/accept", h.AcceptOrder).Methods("PATCH")
	r.HandleFunc("/orders/{id}/decline", h.DeclineOrder).Methods("PATCH")
	r.HandleFunc("/orders/{id}/cancel", h.CancelOrder).Methods("PATCH")
	r.HandleFunc("/orders/{id}/time", h.SetOrderTime).Methods("PATCH")
	r.HandleFunc("/orders/{id}/played", h.MarkOrderPlayed).Methods("PATCH")
	r.HandleFunc("/dj/{dj_id}/orders", h.ListDJOrders).Methods("GET")
	r.HandleFunc("/user/orders", h.ListUserOrders).Methods("GET")
	r.HandleFunc("/dj/register", h.RegisterDJ).Methods("POST")
	r.HandleFunc("/payouts", h.CreatePayout).Methods("POST")
	r.HandleFunc("/payouts", h.ListPayouts).Methods("GET")
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TelegramID int64  `json:"telegram_id"`
		Name       string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.Join(pkgerrors.ErrInvalidInput, err))
		return
	}

	token, user, err := h.auth.Login(r.Context(), req.TelegramID, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(r)
	if !ok {
		h.writeError(w, errors.New("user not authenticated"))
		return
	}

	var req struct {
		DJID      int64           `json:"dj_id"`
		TrackID   *int64          `json:"track_id,omitempty"`
		TrackName string          `json:"track_name,omitempty"`
		Message   string          `json:"message,omitempty"`
		Price     *decimal.Decimal `json:"price,omitempty"`
		Timezone  string          `json:"timezone,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.Join(pkgerrors.ErrInvalidInput, err))
		return
	}

	order, err := h.orders.Create(r.Context(), service.CreateOrderRequest{
		UserID:    userID,
		DJID:      req.DJID,
		TrackID:   req.TrackID,
		TrackName: req.TrackName,
		Message:   req.Message,
		Price:     req.Price,
		Timezone:  req.Timezone,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	order, err := h.orders.Get(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	info, err := h.orders.Status(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		Price   *decimal.Decimal `json:"price,omitempty"`
		Message string           `json:"message,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.Join(pkgerrors.ErrInvalidInput, err))
		return
	}

	// Without an explicit price the order is accepted as priced.
	price := decimal.Decimal{}
	if req.Price != nil {
		price = *req.Price
	} else {
		order, err := h.orders.Get(r.Context(), orderID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		price = order.Price
	}

	order, transaction, err := h.orders.Accept(r.Context(), orderID, price, req.Message)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"order":       order,
		"payment_url": transaction.PaymentURL,
	})
}

func (h *Handler) DeclineOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		Message string `json:"message,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.Join(pkgerrors.ErrInvalidInput, err))
		return
	}

	order, err := h.orders.Decline(r.Context(), orderID, req.Message)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	order, err := h.orders.Cancel(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) SetOrderTime(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		Time     string `json:"time"`
		Timezone string `json:"timezone,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.Join(pkgerrors.ErrInvalidInput, err))
		return
	}

	slot, err := parsePlayTime(req.Time)
	if err != nil {
		h.writeError(w, err)
		return
	}

	order, err := h.orders.SetPlayTime(r.Context(), orderID, slot, req.Timezone)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) MarkOrderPlayed(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	order, err := h.orders.MarkPlayed(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) ListDJOrders(w http.ResponseWriter, r *http.Request) {
	djID, err := pathID(r, "dj_id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	orders, err := h.orders.ListForDJ(r.Context(), djID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(r)
	if !ok {
		h.writeError(w, errors.New("user not authenticated"))
		return
	}

	orders, err := h.orders.ListForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) RegisterDJ(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(r)
	if !ok {
		h.writeError(w, errors.New("user not authenticated"))
		return
	}

	var req struct {
		StageName      string          `json:"stage_name"`
		Price          decimal.Decimal `json:"price"`
		PaymentDetails string          `json:"payment_details,omitempty"`
		TelegramID     int64           `json:"telegram_id,omitempty"`
		Photo          string          `json:"photo,omitempty"`
		Description    string          `json:"description,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.Join(pkgerrors.ErrInvalidInput, err))
		return
	}
	if req.StageName == "" {
		h.writeError(w, errors.Join(pkgerrors.ErrInvalidInput, errors.New("stage_name is required")))
		return
	}

	dj := &models.DJ{
		UserID:         userID,
		StageName:      req.StageName,
		Price:          req.Price,
		PaymentDetails: req.PaymentDetails,
		TelegramID:     req.TelegramID,
		Photo:          req.Photo,
		Description:    req.Description,
	}
	if _, err := h.djs.Create(r.Context(), dj); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, dj)
}

func (h *Handler) GetDJ(w http.ResponseWriter, r *http.Request) {
	djID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	dj, err := h.djs.GetByID(r.Context(), djID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dj)
}

func (h *Handler) ListDJTracks(w http.ResponseWriter, r *http.Request) {
	djID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	tracks, err := h.djs.ListTracks(r.Context(), djID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tracks)
}

// PaymentReturn is where the gateway redirects the payer after checkout. The
// payment outcome is verified against the gateway, never trusted from the
// query string.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(r.URL.Query().Get("orderId"), 10, 64)
	if err != nil {
		h.writeError(w, errors.Join(pkgerrors.ErrInvalidInput, errors.New("orderId is required")))
		return
	}

	order, paid, err := h.payments.HandleReturn(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"order_id": order.ID,
		"status":   order.Status,
		"is_paid":  paid,
	})
}

func (h *Handler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DJID        int64           `json:"dj_id"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.Join(pkgerrors.ErrInvalidInput, err))
		return
	}
	if !req.Amount.IsPositive() {
		h.writeError(w, errors.Join(pkgerrors.ErrInvalidInput, errors.New("amount must be positive")))
		return
	}

	payout, err := h.payments.CreatePayout(r.Context(), req.DJID, req.Amount, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, payout)
}

func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	djID, err := strconv.ParseInt(r.URL.Query().Get("dj_id"), 10, 64)
	if err != nil {
		h.writeError(w, errors.Join(pkgerrors.ErrInvalidInput, errors.New("dj_id is required")))
		return
	}

	payouts, err := h.payments.ListPayouts(r.Context(), djID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payouts)
}

// TelegramWebhook always answers 200 so the platform does not redeliver the
// same update forever; dialog failures are logged and replied to in-chat.
func (h *Handler) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	var update telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch mux.Vars(r)["bot"] {
	case "dj":
		h.dialog.HandleDJUpdate(r.Context(), &update)
	case "user":
		h.dialog.HandleUserUpdate(r.Context(), &update)
	}
	w.WriteHeader(http.StatusOK)
}

func authenticatedUser(r *http.Request) (int64, bool) {
	userID, ok := r.Context().Value("user_id").(int64)
	return userID, ok
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, errors.Join(pkgerrors.ErrInvalidInput, errors.New(name+" must be numeric"))
	}
	return id, nil
}

// parsePlayTime accepts either a full RFC 3339 timestamp or a bare "21:30"
// meaning today at that wall-clock time.
func parsePlayTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("15:04", value)
	if err != nil {
		return time.Time{}, errors.Join(pkgerrors.ErrInvalidInput, errors.New("time must be RFC3339 or HH:MM"))
	}
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
}
