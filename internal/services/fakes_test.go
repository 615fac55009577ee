package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rushadaev/dj-connect-back/internal/infrastructure/redis"
	"github.com/rushadaev/dj-connect-back/internal/infrastructure/yookassa"
	"github.com/rushadaev/dj-connect-back/internal/models"
	"github.com/rushadaev/dj-connect-back/internal/notify"
	pkgerrors "github.com/rushadaev/dj-connect-back/pkg/errors"
	"github.com/shopspring/decimal"
)

// fakeStore backs both the order and the transaction repository with one
// in-memory state, mirroring the guard semantics of the SQL implementation.
type fakeStore struct {
	mu          sync.Mutex
	orders      map[int64]*models.Order
	txs         map[int64]*models.Transaction
	nextOrderID int64
	nextTxID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders: make(map[int64]*models.Order),
		txs:    make(map[int64]*models.Transaction),
	}
}

func (s *fakeStore) Create(ctx context.Context, o *models.Order) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOrderID++
	o.ID = s.nextOrderID
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	copied := *o
	s.orders[o.ID] = &copied
	return o.ID, nil
}

func (s *fakeStore) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, pkgerrors.ErrOrderNotFound
	}
	copied := *o
	return &copied, nil
}

func (s *fakeStore) ListByDJ(ctx context.Context, djID int64) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.DJID == djID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) ListByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) ListAwaitingPlayback(ctx context.Context) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.TrackPlayed || o.Status.Terminal() || o.TimeSlot == nil {
			continue
		}
		if s.hasPaidLocked(o.ID) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) Accept(ctx context.Context, id int64, price decimal.Decimal, message, paymentURL string) (*models.Order, *models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil, pkgerrors.ErrOrderNotFound
	}
	if o.Status.Terminal() {
		return nil, nil, fmt.Errorf("%w: cannot accept order in status %q", pkgerrors.ErrInvalidState, o.Status)
	}

	for _, t := range s.txs {
		if t.OrderID == id && t.Status == models.TransactionStatusPending {
			t.Status = models.TransactionStatusCancelled
		}
	}

	if o.Price.Equal(price) {
		o.Status = models.OrderStatusAccepted
	} else {
		o.Status = models.OrderStatusPriceChanged
	}
	o.Price = price
	o.Message = message

	s.nextTxID++
	tx := &models.Transaction{
		ID:         s.nextTxID,
		OrderID:    id,
		Amount:     price,
		PaymentURL: paymentURL,
		Status:     models.TransactionStatusPending,
		CreatedAt:  time.Now(),
	}
	s.txs[tx.ID] = tx

	orderCopy := *o
	txCopy := *tx
	return &orderCopy, &txCopy, nil
}

func (s *fakeStore) Decline(ctx context.Context, id int64, message string) (*models.Order, error) {
	return s.transition(id, func(o *models.Order) error {
		if o.Status.Terminal() {
			return fmt.Errorf("%w: %q", pkgerrors.ErrInvalidState, o.Status)
		}
		o.Status = models.OrderStatusDeclined
		o.Message = message
		return nil
	})
}

func (s *fakeStore) Cancel(ctx context.Context, id int64) (*models.Order, error) {
	return s.transition(id, func(o *models.Order) error {
		if o.Status.Terminal() {
			return fmt.Errorf("%w: %q", pkgerrors.ErrInvalidState, o.Status)
		}
		o.Status = models.OrderStatusCancelled
		for _, t := range s.txs {
			if t.OrderID == id && t.Status == models.TransactionStatusPending {
				t.Status = models.TransactionStatusCancelled
			}
		}
		return nil
	})
}

func (s *fakeStore) SetTimeSlot(ctx context.Context, id int64, slot time.Time, timezone string) (*models.Order, error) {
	return s.transition(id, func(o *models.Order) error {
		if o.Status.Terminal() {
			return fmt.Errorf("%w: %q", pkgerrors.ErrInvalidState, o.Status)
		}
		t := slot
		o.TimeSlot = &t
		if timezone != "" {
			o.Timezone = timezone
		}
		return nil
	})
}

func (s *fakeStore) MarkPlayed(ctx context.Context, id int64) (*models.Order, error) {
	return s.transition(id, func(o *models.Order) error {
		if o.Status.Terminal() {
			return fmt.Errorf("%w: %q", pkgerrors.ErrInvalidState, o.Status)
		}
		o.TrackPlayed = true
		o.Status = models.OrderStatusCompleted
		return nil
	})
}

func (s *fakeStore) SetNotificationSent(ctx context.Context, id int64) (*models.Order, error) {
	return s.transition(id, func(o *models.Order) error {
		o.NotificationSent = true
		return nil
	})
}

func (s *fakeStore) SetReminderSent(ctx context.Context, id int64) (*models.Order, bool, error) {
	applied := false
	o, err := s.transition(id, func(o *models.Order) error {
		if o.Status.Terminal() || o.TrackPlayed {
			return nil
		}
		o.ReminderSent = true
		applied = true
		return nil
	})
	return o, applied, err
}

func (s *fakeStore) transition(id int64, fn func(*models.Order) error) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, pkgerrors.ErrOrderNotFound
	}
	if err := fn(o); err != nil {
		return nil, err
	}
	o.UpdatedAt = time.Now()
	copied := *o
	return &copied, nil
}

func (s *fakeStore) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *fakeStore) ListByOrder(ctx context.Context, orderID int64) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.txs {
		if t.OrderID == orderID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeStore) LatestPendingByOrder(ctx context.Context, orderID int64) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Transaction
	for _, t := range s.txs {
		if t.OrderID == orderID && t.Status == models.TransactionStatusPending {
			if latest == nil || t.ID > latest.ID {
				latest = t
			}
		}
	}
	if latest == nil {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *fakeStore) CountPending(ctx context.Context, orderID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.txs {
		if t.OrderID == orderID && t.Status == models.TransactionStatusPending {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) HasPaid(ctx context.Context, orderID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasPaidLocked(orderID), nil
}

func (s *fakeStore) hasPaidLocked(orderID int64) bool {
	for _, t := range s.txs {
		if t.OrderID == orderID && t.Status == models.TransactionStatusPaid {
			return true
		}
	}
	return false
}

func (s *fakeStore) MarkPaid(ctx context.Context, id int64) error {
	return s.setTxStatus(id, models.TransactionStatusPaid)
}

func (s *fakeStore) CancelTransaction(ctx context.Context, id int64) error {
	return s.setTxStatus(id, models.TransactionStatusCancelled)
}

func (s *fakeStore) setTxStatus(id int64, to models.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return pkgerrors.ErrTransactionNotFound
	}
	if t.Status != models.TransactionStatusPending {
		return fmt.Errorf("%w: transaction %d is %q", pkgerrors.ErrInvalidState, id, t.Status)
	}
	t.Status = to
	return nil
}

// txRepoView adapts fakeStore to the transaction repository interface, whose
// method names collide with the order side.
type txRepoView struct{ store *fakeStore }

func (v txRepoView) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	return v.store.GetTransaction(ctx, id)
}
func (v txRepoView) ListByOrder(ctx context.Context, orderID int64) ([]models.Transaction, error) {
	return v.store.ListByOrder(ctx, orderID)
}
func (v txRepoView) LatestPendingByOrder(ctx context.Context, orderID int64) (*models.Transaction, error) {
	return v.store.LatestPendingByOrder(ctx, orderID)
}
func (v txRepoView) CountPending(ctx context.Context, orderID int64) (int, error) {
	return v.store.CountPending(ctx, orderID)
}
func (v txRepoView) HasPaid(ctx context.Context, orderID int64) (bool, error) {
	return v.store.HasPaid(ctx, orderID)
}
func (v txRepoView) MarkPaid(ctx context.Context, id int64) error {
	return v.store.MarkPaid(ctx, id)
}
func (v txRepoView) Cancel(ctx context.Context, id int64) error {
	return v.store.CancelTransaction(ctx, id)
}

type fakeDJRepo struct {
	djs       map[int64]*models.DJ
	overrides map[int64]map[int64]*decimal.Decimal
	attached  map[int64][]int64
}

func newFakeDJRepo() *fakeDJRepo {
	return &fakeDJRepo{
		djs:       make(map[int64]*models.DJ),
		overrides: make(map[int64]map[int64]*decimal.Decimal),
		attached:  make(map[int64][]int64),
	}
}

func (r *fakeDJRepo) Create(ctx context.Context, dj *models.DJ) (int64, error) {
	dj.ID = int64(len(r.djs) + 1)
	r.djs[dj.ID] = dj
	return dj.ID, nil
}

func (r *fakeDJRepo) GetByID(ctx context.Context, id int64) (*models.DJ, error) {
	dj, ok := r.djs[id]
	if !ok {
		return nil, pkgerrors.ErrDJNotFound
	}
	return dj, nil
}

func (r *fakeDJRepo) GetByTelegramID(ctx context.Context, telegramID int64) (*models.DJ, error) {
	for _, dj := range r.djs {
		if dj.TelegramID == telegramID {
			return dj, nil
		}
	}
	return nil, pkgerrors.ErrDJNotFound
}

func (r *fakeDJRepo) ListTracks(ctx context.Context, djID int64) ([]models.CatalogTrack, error) {
	return nil, nil
}

func (r *fakeDJRepo) TrackPrice(ctx context.Context, djID, trackID int64) (decimal.Decimal, error) {
	dj, ok := r.djs[djID]
	if !ok {
		return decimal.Zero, pkgerrors.ErrDJNotFound
	}
	if override, ok := r.overrides[djID][trackID]; ok && override != nil {
		return *override, nil
	}
	return dj.Price, nil
}

func (r *fakeDJRepo) AttachTrack(ctx context.Context, djID, trackID int64, price *decimal.Decimal) error {
	if r.overrides[djID] == nil {
		r.overrides[djID] = make(map[int64]*decimal.Decimal)
	}
	r.overrides[djID][trackID] = price
	r.attached[djID] = append(r.attached[djID], trackID)
	return nil
}

type fakeTrackRepo struct {
	byID   map[int64]*models.Track
	byName map[string]*models.Track
	nextID int64
}

func newFakeTrackRepo() *fakeTrackRepo {
	return &fakeTrackRepo{byID: make(map[int64]*models.Track), byName: make(map[string]*models.Track)}
}

func (r *fakeTrackRepo) Create(ctx context.Context, name string) (int64, error) {
	r.nextID++
	track := &models.Track{ID: r.nextID, Name: name}
	r.byID[track.ID] = track
	r.byName[name] = track
	return track.ID, nil
}

func (r *fakeTrackRepo) GetByID(ctx context.Context, id int64) (*models.Track, error) {
	track, ok := r.byID[id]
	if !ok {
		return nil, pkgerrors.ErrTrackNotFound
	}
	return track, nil
}

func (r *fakeTrackRepo) GetByName(ctx context.Context, name string) (*models.Track, error) {
	track, ok := r.byName[name]
	if !ok {
		return nil, pkgerrors.ErrTrackNotFound
	}
	return track, nil
}

type fakeUserRepo struct {
	users  map[int64]*models.User
	nextID int64
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*models.User)}
}

func (r *fakeUserRepo) Create(ctx context.Context, user *models.User) (int64, error) {
	r.nextID++
	user.ID = r.nextID
	r.users[user.ID] = user
	return user.ID, nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	for _, user := range r.users {
		if user.TelegramID == telegramID {
			return user, nil
		}
	}
	return nil, pkgerrors.ErrUserNotFound
}

type fakePayoutRepo struct {
	payouts map[int64]*models.Payout
	nextID  int64
}

func newFakePayoutRepo() *fakePayoutRepo {
	return &fakePayoutRepo{payouts: make(map[int64]*models.Payout)}
}

func (r *fakePayoutRepo) Create(ctx context.Context, p *models.Payout) (int64, error) {
	r.nextID++
	p.ID = r.nextID
	copied := *p
	r.payouts[p.ID] = &copied
	return p.ID, nil
}

func (r *fakePayoutRepo) GetByID(ctx context.Context, id int64) (*models.Payout, error) {
	p, ok := r.payouts[id]
	if !ok {
		return nil, pkgerrors.ErrPayoutNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *fakePayoutRepo) ListByDJ(ctx context.Context, djID int64) ([]models.Payout, error) {
	var out []models.Payout
	for _, p := range r.payouts {
		if p.DJID == djID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *fakePayoutRepo) UpdateStatus(ctx context.Context, id int64, status models.PayoutStatus, externalID string) error {
	p, ok := r.payouts[id]
	if !ok {
		return pkgerrors.ErrPayoutNotFound
	}
	p.Status = status
	if externalID != "" {
		p.ExternalID = externalID
	}
	return nil
}

type fakeGateway struct {
	payment     *yookassa.Payment
	payout      *yookassa.PayoutResult
	createErr   error
	retrieveErr error
	payoutErr   error
	createCalls int
}

func (g *fakeGateway) CreatePaymentLink(ctx context.Context, amount decimal.Decimal, orderID int64, description string) (*yookassa.Payment, error) {
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.payment, nil
}

func (g *fakeGateway) RetrievePayment(ctx context.Context, paymentID string) (*yookassa.Payment, error) {
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	return g.payment, nil
}

func (g *fakeGateway) CreatePayout(ctx context.Context, amount decimal.Decimal, destination, description string) (*yookassa.PayoutResult, error) {
	if g.payoutErr != nil {
		return nil, g.payoutErr
	}
	return g.payout, nil
}

type sentMessage struct {
	Audience string
	ChatID   int64
	Text     string
	Actions  []notify.Action
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []sentMessage
	err      error
}

func (n *fakeNotifier) NotifyRequester(ctx context.Context, chatID int64, text string, actions ...notify.Action) error {
	return n.record("user", chatID, text, actions)
}

func (n *fakeNotifier) NotifyPerformer(ctx context.Context, chatID int64, text string, actions ...notify.Action) error {
	return n.record("dj", chatID, text, actions)
}

func (n *fakeNotifier) record(audience string, chatID int64, text string, actions []notify.Action) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, sentMessage{Audience: audience, ChatID: chatID, Text: text, Actions: actions})
	return nil
}

func (n *fakeNotifier) sent(audience string) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMessage
	for _, m := range n.messages {
		if m.Audience == audience {
			out = append(out, m)
		}
	}
	return out
}

type fakeProducer struct{}

func (fakeProducer) Send(ctx context.Context, key int64, value []byte) error { return nil }
func (fakeProducer) Close() error                                            { return nil }

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (r *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	val, ok := r.data[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return val, nil
}

func (r *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch v := value.(type) {
	case string:
		r.data[key] = v
	case []byte:
		r.data[key] = string(v)
	default:
		r.data[key] = fmt.Sprintf("%v", v)
	}
	return nil
}

func (r *fakeRedis) Del(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, key)
	return nil
}

func (r *fakeRedis) Publish(ctx context.Context, channel string, payload interface{}) error {
	return nil
}

func (r *fakeRedis) Close() error { return nil }
