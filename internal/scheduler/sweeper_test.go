package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rushadaev/dj-connect-back/internal/models"
	"github.com/rushadaev/dj-connect-back/internal/notify"
	pkgerrors "github.com/rushadaev/dj-connect-back/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubOrders struct {
	orders map[int64]*models.Order
}

func newStubOrders(orders ...*models.Order) *stubOrders {
	s := &stubOrders{orders: make(map[int64]*models.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *stubOrders) Create(ctx context.Context, o *models.Order) (int64, error) { return 0, nil }

func (s *stubOrders) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, pkgerrors.ErrOrderNotFound
	}
	copied := *o
	return &copied, nil
}

func (s *stubOrders) ListByDJ(ctx context.Context, djID int64) ([]models.Order, error)     { return nil, nil }
func (s *stubOrders) ListByUser(ctx context.Context, userID int64) ([]models.Order, error) { return nil, nil }

func (s *stubOrders) ListAwaitingPlayback(ctx context.Context) ([]models.Order, error) {
	var out []models.Order
	for _, o := range s.orders {
		if !o.TrackPlayed && !o.Status.Terminal() && o.TimeSlot != nil {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *stubOrders) Accept(ctx context.Context, id int64, price decimal.Decimal, message, paymentURL string) (*models.Order, *models.Transaction, error) {
	return nil, nil, nil
}
func (s *stubOrders) Decline(ctx context.Context, id int64, message string) (*models.Order, error) {
	return nil, nil
}
func (s *stubOrders) Cancel(ctx context.Context, id int64) (*models.Order, error) { return nil, nil }
func (s *stubOrders) SetTimeSlot(ctx context.Context, id int64, slot time.Time, timezone string) (*models.Order, error) {
	return nil, nil
}

func (s *stubOrders) MarkPlayed(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, pkgerrors.ErrOrderNotFound
	}
	o.TrackPlayed = true
	o.Status = models.OrderStatusCompleted
	copied := *o
	return &copied, nil
}

func (s *stubOrders) SetNotificationSent(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, pkgerrors.ErrOrderNotFound
	}
	o.NotificationSent = true
	copied := *o
	return &copied, nil
}

func (s *stubOrders) SetReminderSent(ctx context.Context, id int64) (*models.Order, bool, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, false, pkgerrors.ErrOrderNotFound
	}
	if o.Status.Terminal() || o.TrackPlayed {
		copied := *o
		return &copied, false, nil
	}
	o.ReminderSent = true
	copied := *o
	return &copied, true, nil
}

type stubDJs struct{ dj *models.DJ }

func (s stubDJs) Create(ctx context.Context, dj *models.DJ) (int64, error) { return 0, nil }
func (s stubDJs) GetByID(ctx context.Context, id int64) (*models.DJ, error) {
	return s.dj, nil
}
func (s stubDJs) GetByTelegramID(ctx context.Context, telegramID int64) (*models.DJ, error) {
	return s.dj, nil
}
func (s stubDJs) ListTracks(ctx context.Context, djID int64) ([]models.CatalogTrack, error) {
	return nil, nil
}
func (s stubDJs) TrackPrice(ctx context.Context, djID, trackID int64) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (s stubDJs) AttachTrack(ctx context.Context, djID, trackID int64, price *decimal.Decimal) error {
	return nil
}

type stubUsers struct{ user *models.User }

func (s stubUsers) Create(ctx context.Context, user *models.User) (int64, error) { return 0, nil }
func (s stubUsers) GetByID(ctx context.Context, id int64) (*models.User, error)  { return s.user, nil }
func (s stubUsers) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return s.user, nil
}

type recordingNotifier struct {
	userTexts []string
	djTexts   []string
	err       error
}

func (n *recordingNotifier) NotifyRequester(ctx context.Context, chatID int64, text string, actions ...notify.Action) error {
	if n.err != nil {
		return n.err
	}
	n.userTexts = append(n.userTexts, text)
	return nil
}

func (n *recordingNotifier) NotifyPerformer(ctx context.Context, chatID int64, text string, actions ...notify.Action) error {
	if n.err != nil {
		return n.err
	}
	n.djTexts = append(n.djTexts, text)
	return nil
}

type recordingCompleter struct {
	orders    *stubOrders
	completed []int64
}

func (c *recordingCompleter) MarkPlayed(ctx context.Context, orderID int64) (*models.Order, error) {
	c.completed = append(c.completed, orderID)
	return c.orders.MarkPlayed(ctx, orderID)
}

func moscow(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	return loc
}

func paidOrderAt(id int64, slot time.Time) *models.Order {
	return &models.Order{
		ID:       id,
		UserID:   1,
		DJID:     1,
		Status:   models.OrderStatusAccepted,
		Timezone: "Europe/Moscow",
		TimeSlot: &slot,
	}
}

func newTestSweeper(orders *stubOrders, notifier *recordingNotifier, now time.Time) (*Sweeper, *recordingCompleter) {
	completer := &recordingCompleter{orders: orders}
	s := NewSweeper(
		orders,
		completer,
		stubDJs{dj: &models.DJ{ID: 1, TelegramID: 111}},
		stubUsers{user: &models.User{ID: 1, TelegramID: 222}},
		notifier,
		fixedClock{now: now},
		time.Second,
	)
	return s, completer
}

func TestSweeper_NotifiesFiveMinutesBeforeSlot(t *testing.T) {
	loc := moscow(t)
	slot := time.Date(2025, 6, 1, 21, 0, 0, 0, time.UTC)
	order := paidOrderAt(1, slot)

	t.Run("TooEarly", func(t *testing.T) {
		orders := newStubOrders(order)
		notifier := &recordingNotifier{}
		s, _ := newTestSweeper(orders, notifier, time.Date(2025, 6, 1, 20, 54, 0, 0, loc))

		s.Sweep(context.Background())

		assert.Empty(t, notifier.userTexts)
		assert.False(t, orders.orders[1].NotificationSent)
	})

	t.Run("InsideWindow", func(t *testing.T) {
		order := paidOrderAt(1, slot)
		orders := newStubOrders(order)
		notifier := &recordingNotifier{}
		s, _ := newTestSweeper(orders, notifier, time.Date(2025, 6, 1, 20, 56, 0, 0, loc))

		s.Sweep(context.Background())

		require.Len(t, notifier.userTexts, 1)
		require.Len(t, notifier.djTexts, 1)
		assert.Contains(t, notifier.userTexts[0], "21:00")
		assert.True(t, orders.orders[1].NotificationSent)

		// Second sweep at the same instant sends nothing more.
		s.Sweep(context.Background())
		assert.Len(t, notifier.userTexts, 1)
		assert.Len(t, notifier.djTexts, 1)
	})

	t.Run("TotalDeliveryFailureRetriesNextSweep", func(t *testing.T) {
		order := paidOrderAt(1, slot)
		orders := newStubOrders(order)
		notifier := &recordingNotifier{err: fmt.Errorf("%w: chat unreachable", pkgerrors.ErrDeliveryFailure)}
		s, _ := newTestSweeper(orders, notifier, time.Date(2025, 6, 1, 20, 56, 0, 0, loc))

		s.Sweep(context.Background())
		assert.False(t, orders.orders[1].NotificationSent)

		notifier.err = nil
		s.Sweep(context.Background())
		assert.True(t, orders.orders[1].NotificationSent)
	})
}

func TestSweeper_EscalatesTenMinutesAfterSlot(t *testing.T) {
	loc := moscow(t)
	slot := time.Date(2025, 6, 1, 21, 0, 0, 0, time.UTC)

	t.Run("UnplayedOrderEarnsReminder", func(t *testing.T) {
		order := paidOrderAt(1, slot)
		order.NotificationSent = true
		orders := newStubOrders(order)
		notifier := &recordingNotifier{}
		s, completer := newTestSweeper(orders, notifier, time.Date(2025, 6, 1, 21, 11, 0, 0, loc))

		s.Sweep(context.Background())

		require.Len(t, notifier.djTexts, 1)
		assert.Contains(t, notifier.djTexts[0], "прямо сейчас")
		assert.True(t, orders.orders[1].ReminderSent)
		assert.Empty(t, completer.completed)

		// The reminder is one-shot.
		s.Sweep(context.Background())
		assert.Len(t, notifier.djTexts, 1)
	})

	t.Run("PlayedOrderCompletesInstead", func(t *testing.T) {
		order := paidOrderAt(1, slot)
		order.NotificationSent = true
		order.TrackPlayed = true
		orders := newStubOrders(order)
		notifier := &recordingNotifier{}
		s, completer := newTestSweeper(orders, notifier, time.Date(2025, 6, 1, 21, 11, 0, 0, loc))

		s.Sweep(context.Background())

		assert.Equal(t, []int64{1}, completer.completed)
		assert.Equal(t, models.OrderStatusCompleted, orders.orders[1].Status)
		assert.False(t, orders.orders[1].ReminderSent)
	})

	t.Run("GraceWindowStillOpen", func(t *testing.T) {
		order := paidOrderAt(1, slot)
		order.NotificationSent = true
		orders := newStubOrders(order)
		notifier := &recordingNotifier{}
		s, completer := newTestSweeper(orders, notifier, time.Date(2025, 6, 1, 21, 5, 0, 0, loc))

		s.Sweep(context.Background())

		assert.Empty(t, notifier.djTexts)
		assert.False(t, orders.orders[1].ReminderSent)
		assert.Empty(t, completer.completed)
	})
}

func TestSweeper_UnknownTimezoneFallsBack(t *testing.T) {
	loc := moscow(t)
	slot := time.Date(2025, 6, 1, 21, 0, 0, 0, time.UTC)
	order := paidOrderAt(1, slot)
	order.Timezone = "Atlantis/Lost"
	orders := newStubOrders(order)
	notifier := &recordingNotifier{}
	// Fallback zone is Europe/Moscow, so the window math is unchanged.
	s, _ := newTestSweeper(orders, notifier, time.Date(2025, 6, 1, 20, 56, 0, 0, loc))

	s.Sweep(context.Background())

	assert.Len(t, notifier.userTexts, 1)
	assert.True(t, orders.orders[1].NotificationSent)
}

func TestSlotInZone(t *testing.T) {
	loc := moscow(t)
	naive := time.Date(2025, 6, 1, 21, 30, 0, 0, time.UTC)

	got := slotInZone(naive, loc)
	assert.Equal(t, 21, got.Hour())
	assert.Equal(t, 30, got.Minute())
	assert.Equal(t, loc, got.Location())
}
