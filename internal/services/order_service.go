package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/rushadaev/dj-connect-back/internal/events"
	"github.com/rushadaev/dj-connect-back/internal/infrastructure/redis"
	"github.com/rushadaev/dj-connect-back/internal/infrastructure/yookassa"
	"github.com/rushadaev/dj-connect-back/internal/models"
	"github.com/rushadaev/dj-connect-back/internal/notify"
	"github.com/rushadaev/dj-connect-back/internal/repository"
	pkgerrors "github.com/rushadaev/dj-connect-back/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// paymentIDTTL matches the gateway-side lifetime of an unfinished payment.
const paymentIDTTL = 60 * time.Minute

type CreateOrderRequest struct {
	UserID    int64
	DJID      int64
	TrackID   *int64
	TrackName string
	Message   string
	Price     *decimal.Decimal
	Timezone  string
}

type OrderStatusInfo struct {
	Status models.OrderStatus `json:"status"`
	IsPaid bool               `json:"is_paid"`
}

type OrderService interface {
	Create(ctx context.Context, req CreateOrderRequest) (*models.Order, error)
	Accept(ctx context.Context, orderID int64, price decimal.Decimal, message string) (*models.Order, *models.Transaction, error)
	Decline(ctx context.Context, orderID int64, message string) (*models.Order, error)
	Cancel(ctx context.Context, orderID int64) (*models.Order, error)
	SetPlayTime(ctx context.Context, orderID int64, slot time.Time, timezone string) (*models.Order, error)
	MarkPlayed(ctx context.Context, orderID int64) (*models.Order, error)
	Get(ctx context.Context, orderID int64) (*models.Order, error)
	Status(ctx context.Context, orderID int64) (*OrderStatusInfo, error)
	ListForDJ(ctx context.Context, djID int64) ([]models.Order, error)
	ListForUser(ctx context.Context, userID int64) ([]models.Order, error)
}

type orderService struct {
	orders       repository.OrderRepository
	transactions repository.TransactionRepository
	djs          repository.DJRepository
	tracks       repository.TrackRepository
	users        repository.UserRepository
	gateway      yookassa.Gateway
	cache        redis.RedisClient
	publisher    *events.Publisher
	notifier     notify.Notifier
	webAppURL    string
	webAppURLDJ  string
}

func NewOrderService(
	orders repository.OrderRepository,
	transactions repository.TransactionRepository,
	djs repository.DJRepository,
	tracks repository.TrackRepository,
	users repository.UserRepository,
	gateway yookassa.Gateway,
	cache redis.RedisClient,
	publisher *events.Publisher,
	notifier notify.Notifier,
	webAppURL, webAppURLDJ string,
) *orderService {
	return &orderService{
		orders:       orders,
		transactions: transactions,
		djs:          djs,
		tracks:       tracks,
		users:        users,
		gateway:      gateway,
		cache:        cache,
		publisher:    publisher,
		notifier:     notifier,
		webAppURL:    webAppURL,
		webAppURLDJ:  webAppURLDJ,
	}
}

func (s *orderService) Create(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "CreateOrder")
	defer span.End()

	dj, err := s.djs.GetByID(ctx, req.DJID)
	if err != nil {
		span.SetStatus(codes.Error, "dj lookup failed")
		return nil, err
	}

	track, err := s.resolveTrack(ctx, dj, req)
	if err != nil {
		span.SetStatus(codes.Error, "track lookup failed")
		return nil, err
	}

	price, err := s.resolvePrice(ctx, dj, track, req.Price)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID:   req.UserID,
		DJID:     req.DJID,
		Price:    price,
		Message:  req.Message,
		Status:   models.OrderStatusPending,
		Timezone: req.Timezone,
	}
	if track != nil {
		order.TrackID = &track.ID
	}

	if _, err := s.orders.Create(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order creation failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("order_id", order.ID))

	s.publisher.OrderCreated(ctx, order)
	s.notifyCreated(ctx, order, dj, track)

	slog.Info("order created", "order_id", order.ID, "user_id", order.UserID, "dj_id", order.DJID, "price", order.Price)
	return order, nil
}

func (s *orderService) resolveTrack(ctx context.Context, dj *models.DJ, req CreateOrderRequest) (*models.Track, error) {
	if req.TrackID != nil {
		return s.tracks.GetByID(ctx, *req.TrackID)
	}
	if req.TrackName == "" {
		return nil, fmt.Errorf("%w: either track_id or track_name is required", pkgerrors.ErrInvalidInput)
	}

	track, err := s.tracks.GetByName(ctx, req.TrackName)
	if stderrors.Is(err, pkgerrors.ErrTrackNotFound) {
		// Custom-named request: the track enters the catalog at the DJ's
		// default price.
		id, err := s.tracks.Create(ctx, req.TrackName)
		if err != nil {
			return nil, err
		}
		if err := s.djs.AttachTrack(ctx, dj.ID, id, nil); err != nil {
			return nil, err
		}
		return &models.Track{ID: id, Name: req.TrackName}, nil
	}
	return track, err
}

func (s *orderService) resolvePrice(ctx context.Context, dj *models.DJ, track *models.Track, requested *decimal.Decimal) (decimal.Decimal, error) {
	if requested != nil {
		if requested.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: price must not be negative", pkgerrors.ErrInvalidInput)
		}
		return *requested, nil
	}
	if track != nil {
		return s.djs.TrackPrice(ctx, dj.ID, track.ID)
	}
	return dj.Price, nil
}

// Accept obtains the payment link first and only then touches the order row:
// a gateway failure leaves the order exactly as it was, so the order status
// and the pending transaction can never diverge.
func (s *orderService) Accept(ctx context.Context, orderID int64, price decimal.Decimal, message string) (*models.Order, *models.Transaction, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "AcceptOrder")
	span.SetAttributes(attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.Status.Terminal() {
		return nil, nil, fmt.Errorf("%w: cannot accept order in status %q", pkgerrors.ErrInvalidState, order.Status)
	}

	if message == "" {
		message = "Order accepted"
	}

	payment, err := s.gateway.CreatePaymentLink(ctx, price, orderID, fmt.Sprintf("Заказ #%d", orderID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment link creation failed")
		slog.Error("failed to create payment link", "order_id", orderID, "error", err)
		return nil, nil, err
	}

	if err := s.cache.Set(ctx, paymentIDKey(orderID), payment.ID, paymentIDTTL); err != nil {
		slog.Error("failed to cache payment id", "order_id", orderID, "error", err)
	}

	order, transaction, err := s.orders.Accept(ctx, orderID, price, message, payment.ConfirmationURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "accept transition failed")
		return nil, nil, err
	}

	s.publisher.OrderUpdated(ctx, order)
	s.notifyAccepted(ctx, order, transaction)

	return order, transaction, nil
}

func (s *orderService) Decline(ctx context.Context, orderID int64, message string) (*models.Order, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "DeclineOrder")
	span.SetAttributes(attribute.Int64("order_id", orderID))
	defer span.End()

	if message == "" {
		message = "Order declined"
	}

	order, err := s.orders.Decline(ctx, orderID, message)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.publisher.OrderUpdated(ctx, order)

	if parties, err := s.loadParties(ctx, order); err == nil {
		text := fmt.Sprintf("💩 #заказ_%d отклонён: %s", order.ID, order.Message)
		s.notifier.NotifyRequester(ctx, parties.userChatID(), text)
	}
	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, orderID int64) (*models.Order, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "CancelOrder")
	span.SetAttributes(attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.orders.Cancel(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.publisher.OrderUpdated(ctx, order)

	if parties, err := s.loadParties(ctx, order); err == nil {
		text := fmt.Sprintf("🙅‍♂️ #заказ_%d отменён пользователем", order.ID)
		s.notifier.NotifyPerformer(ctx, parties.djChatID(), text)
	}
	return order, nil
}

func (s *orderService) SetPlayTime(ctx context.Context, orderID int64, slot time.Time, timezone string) (*models.Order, error) {
	order, err := s.orders.SetTimeSlot(ctx, orderID, slot, timezone)
	if err != nil {
		return nil, err
	}
	s.publisher.OrderUpdated(ctx, order)
	slog.Info("play time set", "order_id", orderID, "time_slot", slot, "timezone", order.Timezone)
	return order, nil
}

func (s *orderService) MarkPlayed(ctx context.Context, orderID int64) (*models.Order, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "MarkPlayed")
	span.SetAttributes(attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.orders.MarkPlayed(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.publisher.OrderUpdated(ctx, order)
	s.thankRequester(ctx, order)
	return order, nil
}

func (s *orderService) Get(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

func (s *orderService) Status(ctx context.Context, orderID int64) (*OrderStatusInfo, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	paid, err := s.transactions.HasPaid(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderStatusInfo{Status: order.Status, IsPaid: paid}, nil
}

func (s *orderService) ListForDJ(ctx context.Context, djID int64) ([]models.Order, error) {
	if _, err := s.djs.GetByID(ctx, djID); err != nil {
		return nil, err
	}
	return s.orders.ListByDJ(ctx, djID)
}

func (s *orderService) ListForUser(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// thankRequester sends the completion thank-you. Shared with the
// reconciliation sweep, which completes orders the DJ forgot to finish.
func (s *orderService) thankRequester(ctx context.Context, order *models.Order) {
	parties, err := s.loadParties(ctx, order)
	if err != nil {
		return
	}
	trackName := ""
	if parties.track != nil {
		trackName = parties.track.Name
	}
	text := fmt.Sprintf("🙏 Спасибо за ваш заказ! Трек \"%s\" для заказа #%d был сыгран.", trackName, order.ID)
	s.notifier.NotifyRequester(ctx, parties.userChatID(), text,
		notify.Action{Text: "🎧Заказать еще", URL: fmt.Sprintf("%s?startapp=dj_%d", s.webAppURL, order.DJID)})
}

type orderParties struct {
	user  *models.User
	dj    *models.DJ
	track *models.Track
}

func (p orderParties) userChatID() int64 {
	if p.user == nil {
		return 0
	}
	return p.user.TelegramID
}

func (p orderParties) djChatID() int64 {
	if p.dj == nil {
		return 0
	}
	return p.dj.TelegramID
}

func (s *orderService) loadParties(ctx context.Context, order *models.Order) (orderParties, error) {
	var parties orderParties
	var err error

	parties.dj, err = s.djs.GetByID(ctx, order.DJID)
	if err != nil {
		slog.Error("failed to load dj for notification", "order_id", order.ID, "dj_id", order.DJID, "error", err)
		return parties, err
	}
	parties.user, err = s.users.GetByID(ctx, order.UserID)
	if err != nil {
		slog.Error("failed to load user for notification", "order_id", order.ID, "user_id", order.UserID, "error", err)
		return parties, err
	}
	if order.TrackID != nil {
		parties.track, _ = s.tracks.GetByID(ctx, *order.TrackID)
	}
	return parties, nil
}

func (s *orderService) orderSummary(order *models.Order, parties orderParties) string {
	trackName := ""
	if parties.track != nil {
		trackName = parties.track.Name
	}
	stageName := ""
	if parties.dj != nil {
		stageName = parties.dj.StageName
	}
	return fmt.Sprintf("\nDJ: %s\nТрек: %s\nЦена: %s\nСообщение: %s", stageName, trackName, order.Price, order.Message)
}

func (s *orderService) notifyCreated(ctx context.Context, order *models.Order, dj *models.DJ, track *models.Track) {
	parties := orderParties{dj: dj, track: track}
	var err error
	parties.user, err = s.users.GetByID(ctx, order.UserID)
	if err != nil {
		slog.Error("failed to load user for notification", "order_id", order.ID, "user_id", order.UserID, "error", err)
	}
	summary := s.orderSummary(order, parties)

	s.notifier.NotifyRequester(ctx, parties.userChatID(),
		fmt.Sprintf("🎉 #заказ_%d отправлен:%s", order.ID, summary),
		notify.Action{Text: "❇️Открыть заказ", URL: fmt.Sprintf("%s?startapp=order_%d", s.webAppURL, order.ID)},
		notify.Action{Text: "🙅‍♂️Отменить", Callback: fmt.Sprintf("cancel_%d", order.ID)})

	s.notifier.NotifyPerformer(ctx, parties.djChatID(),
		fmt.Sprintf("🎧У вас новый #заказ_%d! %s", order.ID, summary),
		notify.Action{Text: "❇️Открыть заказ", URL: fmt.Sprintf("%s?startapp=order_%d", s.webAppURLDJ, order.ID)},
		notify.Action{Text: "✅Принять", Callback: fmt.Sprintf("accept_%d", order.ID)},
		notify.Action{Text: "💰Изменить Цену", Callback: fmt.Sprintf("change_price_%d", order.ID)},
		notify.Action{Text: "💩Отказать в песне", Callback: fmt.Sprintf("decline_%d", order.ID)})
}

func (s *orderService) notifyAccepted(ctx context.Context, order *models.Order, transaction *models.Transaction) {
	parties, err := s.loadParties(ctx, order)
	if err != nil {
		return
	}
	summary := s.orderSummary(order, parties)

	s.notifier.NotifyRequester(ctx, parties.userChatID(),
		fmt.Sprintf("🎉 #заказ_%d принят:%s", order.ID, summary),
		notify.Action{Text: "💳Оплатить", URL: transaction.PaymentURL},
		notify.Action{Text: "🙅‍♂️Отменить", Callback: fmt.Sprintf("cancel_%d", order.ID)})
}

func paymentIDKey(orderID int64) string {
	return fmt.Sprintf("payment_id_%d", orderID)
}
