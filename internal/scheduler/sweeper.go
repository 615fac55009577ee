package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rushadaev/dj-connect-back/internal/models"
	"github.com/rushadaev/dj-connect-back/internal/notify"
	"github.com/rushadaev/dj-connect-back/internal/repository"
	pkgerrors "github.com/rushadaev/dj-connect-back/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// Both parties hear about the slot five minutes before it starts; the DJ
	// gets ten minutes of grace after it before the escalation reminder.
	notifyLead  = 5 * time.Minute
	escalateLag = 10 * time.Minute

	defaultTimezone = "Europe/Moscow"
)

var (
	sweepOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_orders_total",
			Help: "Orders processed by the reconciliation sweep, by outcome",
		},
		[]string{"outcome"},
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconciliation_sweep_duration_seconds",
			Help:    "Duration of one reconciliation sweep",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(sweepOutcomes, sweepDuration)
}

// OrderCompleter is the slice of the order service the sweeper needs to close
// out an order that turned out to be played.
type OrderCompleter interface {
	MarkPlayed(ctx context.Context, orderID int64) (*models.Order, error)
}

// Sweeper periodically advances orders through their time-based states:
// pre-slot notification, post-slot escalation, and completion. Each sweep is
// idempotent per order: the two one-shot flags gate exactly one send each.
type Sweeper struct {
	orders    repository.OrderRepository
	completer OrderCompleter
	djs       repository.DJRepository
	users     repository.UserRepository
	notifier  notify.Notifier
	clock     Clock

	interval     time.Duration
	opTimeout    time.Duration
	fallbackZone *time.Location
}

func NewSweeper(
	orders repository.OrderRepository,
	completer OrderCompleter,
	djs repository.DJRepository,
	users repository.UserRepository,
	notifier notify.Notifier,
	clock Clock,
	interval time.Duration,
) *Sweeper {
	fallback, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		fallback = time.UTC
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Sweeper{
		orders:       orders,
		completer:    completer,
		djs:          djs,
		users:        users,
		notifier:     notifier,
		clock:        clock,
		interval:     interval,
		opTimeout:    30 * time.Second,
		fallbackZone: fallback,
	}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("reconciliation sweeper started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciliation sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass. A failure on one order never aborts
// the pass for the others; each order gets its own bounded-timeout context
// so a hung gateway or bot call cannot stall the rest of the sweep.
func (s *Sweeper) Sweep(ctx context.Context) {
	tracer := otel.Tracer("reconciliation")
	ctx, span := tracer.Start(ctx, "Sweep")
	defer span.End()

	start := time.Now()
	defer func() {
		sweepDuration.Observe(time.Since(start).Seconds())
	}()

	orders, err := s.orders.ListAwaitingPlayback(ctx)
	if err != nil {
		slog.Error("failed to list orders for sweep", "error", err)
		return
	}
	span.SetAttributes(attribute.Int("orders", len(orders)))

	for i := range orders {
		order := &orders[i]
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		outcome, err := s.process(opCtx, order)
		cancel()
		if err != nil {
			sweepOutcomes.WithLabelValues("error").Inc()
			slog.Error("sweep failed for order", "order_id", order.ID, "error", err)
			continue
		}
		sweepOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (s *Sweeper) process(ctx context.Context, order *models.Order) (string, error) {
	if order.TimeSlot == nil {
		return "skipped", nil
	}

	loc := s.location(order.Timezone)
	slot := slotInZone(*order.TimeSlot, loc)
	now := s.clock.Now().In(loc)

	switch {
	case !order.NotificationSent && !now.Before(slot.Add(-notifyLead)):
		return s.sendUpcoming(ctx, order, slot)
	case !order.ReminderSent && !now.Before(slot.Add(escalateLag)):
		return s.escalateOrComplete(ctx, order)
	}
	return "waiting", nil
}

// sendUpcoming tells both parties the track is coming up. The flag is set as
// long as at least one delivery went through; only a complete failure leaves
// it unset so the next sweep retries.
func (s *Sweeper) sendUpcoming(ctx context.Context, order *models.Order, slot time.Time) (string, error) {
	userChat, djChat := s.chatIDs(ctx, order)
	at := slot.Format("15:04")

	userErr := s.notifier.NotifyRequester(ctx, userChat,
		fmt.Sprintf("🎵 Ваш трек для #заказ_%d прозвучит в %s!", order.ID, at))
	djErr := s.notifier.NotifyPerformer(ctx, djChat,
		fmt.Sprintf("🎧 Через 5 минут трек для #заказ_%d (слот %s)", order.ID, at))

	if userErr != nil && djErr != nil {
		return "", fmt.Errorf("upcoming notification failed for both parties: %w", userErr)
	}
	if _, err := s.orders.SetNotificationSent(ctx, order.ID); err != nil {
		return "", err
	}
	return "notified", nil
}

// escalateOrComplete runs once the grace window is over: a played track
// closes the order with a thank-you, an unplayed one earns the DJ an urgent
// reminder.
func (s *Sweeper) escalateOrComplete(ctx context.Context, order *models.Order) (string, error) {
	fresh, err := s.orders.GetByID(ctx, order.ID)
	if err != nil {
		return "", err
	}

	if fresh.TrackPlayed || fresh.Status == models.OrderStatusCompleted {
		return s.complete(ctx, fresh)
	}

	_, djChat := s.chatIDs(ctx, order)
	if err := s.notifier.NotifyPerformer(ctx, djChat,
		fmt.Sprintf("⏰ Поставьте трек для #заказ_%d прямо сейчас!", order.ID)); err != nil {
		// Flag stays down, next sweep retries the reminder.
		return "", err
	}

	_, applied, err := s.orders.SetReminderSent(ctx, order.ID)
	if err != nil {
		return "", err
	}
	if !applied {
		// The DJ finished the order between our read and the flag update.
		return s.complete(ctx, order)
	}
	return "escalated", nil
}

func (s *Sweeper) complete(ctx context.Context, order *models.Order) (string, error) {
	if order.Status == models.OrderStatusCompleted {
		return "completed", nil
	}
	if _, err := s.completer.MarkPlayed(ctx, order.ID); err != nil {
		if stderrors.Is(err, pkgerrors.ErrInvalidState) {
			// Someone else completed it first.
			return "completed", nil
		}
		return "", err
	}
	return "completed", nil
}

func (s *Sweeper) chatIDs(ctx context.Context, order *models.Order) (userChat, djChat int64) {
	if user, err := s.users.GetByID(ctx, order.UserID); err == nil {
		userChat = user.TelegramID
	}
	if dj, err := s.djs.GetByID(ctx, order.DJID); err == nil {
		djChat = dj.TelegramID
	}
	return userChat, djChat
}

func (s *Sweeper) location(name string) *time.Location {
	if name == "" {
		return s.fallbackZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("unknown timezone, using fallback", "timezone", name, "fallback", s.fallbackZone)
		return s.fallbackZone
	}
	return loc
}

// slotInZone reinterprets the naively stored play time as wall-clock time in
// the order's zone.
func slotInZone(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}
