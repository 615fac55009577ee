package service

import (
	"context"
	"fmt"
	"log/slog"

	stderrors "errors"

	"github.com/rushadaev/dj-connect-back/internal/events"
	infraredis "github.com/rushadaev/dj-connect-back/internal/infrastructure/redis"
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

type PaymentService interface {
	// HandleReturn resolves the gateway payment cached for the order and, on
	// success, marks the latest pending transaction paid. The bool reports
	// whether the payment had actually succeeded.
	HandleReturn(ctx context.Context, orderID int64) (*models.Order, bool, error)
	CreatePayout(ctx context.Context, djID int64, amount decimal.Decimal, description string) (*models.Payout, error)
	ListPayouts(ctx context.Context, djID int64) ([]models.Payout, error)
}

type paymentService struct {
	orders       repository.OrderRepository
	transactions repository.TransactionRepository
	djs          repository.DJRepository
	users        repository.UserRepository
	tracks       repository.TrackRepository
	payouts      repository.PayoutRepository
	gateway      yookassa.Gateway
	cache        infraredis.RedisClient
	publisher    *events.Publisher
	notifier     notify.Notifier
	webAppURL    string
	webAppURLDJ  string
}

func NewPaymentService(
	orders repository.OrderRepository,
	transactions repository.TransactionRepository,
	djs repository.DJRepository,
	users repository.UserRepository,
	tracks repository.TrackRepository,
	payouts repository.PayoutRepository,
	gateway yookassa.Gateway,
	cache infraredis.RedisClient,
	publisher *events.Publisher,
	notifier notify.Notifier,
	webAppURL, webAppURLDJ string,
) *paymentService {
	return &paymentService{
		orders:       orders,
		transactions: transactions,
		djs:          djs,
		users:        users,
		tracks:       tracks,
		payouts:      payouts,
		gateway:      gateway,
		cache:        cache,
		publisher:    publisher,
		notifier:     notifier,
		webAppURL:    webAppURL,
		webAppURLDJ:  webAppURLDJ,
	}
}

func (s *paymentService) HandleReturn(ctx context.Context, orderID int64) (*models.Order, bool, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "HandlePaymentReturn")
	span.SetAttributes(attribute.Int64("order_id", orderID))
	defer span.End()

	paymentID, err := s.cache.Get(ctx, paymentIDKey(orderID))
	if stderrors.Is(err, infraredis.ErrKeyNotFound) {
		span.SetStatus(codes.Error, "payment id expired")
		return nil, false, fmt.Errorf("%w: order %d", pkgerrors.ErrPaymentExpired, orderID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached payment id: %w", err)
	}

	payment, err := s.gateway.RetrievePayment(ctx, paymentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment retrieval failed")
		return nil, false, err
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, false, err
	}

	if payment.Status != yookassa.StatusSucceeded {
		slog.Info("payment not succeeded yet", "order_id", orderID, "payment_id", paymentID, "status", payment.Status)
		return order, false, nil
	}

	transaction, err := s.transactions.LatestPendingByOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		slog.Error("no pending transaction for paid order", "order_id", orderID, "payment_id", paymentID, "error", err)
		return order, false, err
	}
	if err := s.transactions.MarkPaid(ctx, transaction.ID); err != nil {
		span.RecordError(err)
		return order, false, err
	}

	slog.Info("payment confirmed", "order_id", orderID, "payment_id", paymentID, "transaction_id", transaction.ID)
	s.publisher.OrderUpdated(ctx, order)
	s.notifyPaid(ctx, order)
	return order, true, nil
}

func (s *paymentService) notifyPaid(ctx context.Context, order *models.Order) {
	dj, err := s.djs.GetByID(ctx, order.DJID)
	if err != nil {
		return
	}
	user, err := s.users.GetByID(ctx, order.UserID)
	if err != nil {
		return
	}
	trackName := ""
	if order.TrackID != nil {
		if track, err := s.tracks.GetByID(ctx, *order.TrackID); err == nil {
			trackName = track.Name
		}
	}
	summary := fmt.Sprintf("\nDJ: %s\nТрек: %s\nЦена: %s\nСообщение: %s", dj.StageName, trackName, order.Price, order.Message)

	s.notifier.NotifyRequester(ctx, user.TelegramID,
		fmt.Sprintf("🎉 #заказ_%d оплачен, ожидайте ваш трек в течение 15 минут:%s", order.ID, summary),
		notify.Action{Text: "❇️Открыть заказ", URL: fmt.Sprintf("%s?startapp=order_%d", s.webAppURL, order.ID)})

	s.notifier.NotifyPerformer(ctx, dj.TelegramID,
		fmt.Sprintf("🎧#заказ_%d оплачен! Поставьте трек в течение 15 минут: %s", order.ID, summary),
		notify.Action{Text: "❇️Открыть заказ", URL: fmt.Sprintf("%s?startapp=order_%d", s.webAppURLDJ, order.ID)},
		notify.Action{Text: "🕒Указать время", Callback: fmt.Sprintf("enter_timeslot_%d", order.ID)},
		notify.Action{Text: "✅Трек сыгран", Callback: fmt.Sprintf("finish_%d", order.ID)})
}

func (s *paymentService) CreatePayout(ctx context.Context, djID int64, amount decimal.Decimal, description string) (*models.Payout, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "CreatePayout")
	span.SetAttributes(attribute.Int64("dj_id", djID))
	defer span.End()

	dj, err := s.djs.GetByID(ctx, djID)
	if err != nil {
		return nil, err
	}
	if dj.PaymentDetails == "" {
		return nil, fmt.Errorf("%w: dj %d has no payout destination", pkgerrors.ErrInvalidInput, djID)
	}

	payout := &models.Payout{
		DJID:        djID,
		Amount:      amount,
		Status:      models.PayoutStatusPending,
		Description: description,
	}
	if _, err := s.payouts.Create(ctx, payout); err != nil {
		return nil, err
	}

	result, err := s.gateway.CreatePayout(ctx, amount, dj.PaymentDetails, description)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway payout failed")
		if updateErr := s.payouts.UpdateStatus(ctx, payout.ID, models.PayoutStatusCancelled, ""); updateErr != nil {
			slog.Error("failed to cancel payout after gateway error", "payout_id", payout.ID, "error", updateErr)
		}
		return nil, err
	}

	status := models.PayoutStatusPending
	if result.Status == yookassa.StatusSucceeded {
		status = models.PayoutStatusSucceeded
	}
	if err := s.payouts.UpdateStatus(ctx, payout.ID, status, result.ID); err != nil {
		return nil, err
	}
	payout.Status = status
	payout.ExternalID = result.ID

	slog.Info("payout processed", "payout_id", payout.ID, "dj_id", djID, "amount", amount, "status", status)
	return payout, nil
}

func (s *paymentService) ListPayouts(ctx context.Context, djID int64) ([]models.Payout, error) {
	return s.payouts.ListByDJ(ctx, djID)
}
