package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	stderrors "errors"

	"github.com/rushadaev/dj-connect-back/internal/infrastructure/telegram"
	"github.com/rushadaev/dj-connect-back/internal/models"
	"github.com/rushadaev/dj-connect-back/internal/repository"
	service "github.com/rushadaev/dj-connect-back/internal/services"
	pkgerrors "github.com/rushadaev/dj-connect-back/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	botUser = "user"
	botDJ   = "dj"

	replyRetry      = "⚠️ Не получилось обработать запрос, попробуйте ещё раз."
	replyOrderDone  = "Заказ уже закрыт, действие недоступно."
	replySkipMarker = "-"
)

var timeslotPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// Dialog drives the chat-side order flow for both bots. Every update is
// either a callback button press or a text message continuing a stored
// session step.
type Dialog struct {
	orders   service.OrderService
	djs      repository.DJRepository
	users    repository.UserRepository
	sessions *SessionStore
	userBot  *telegram.Client
	djBot    *telegram.Client
}

func NewDialog(
	orders service.OrderService,
	djs repository.DJRepository,
	users repository.UserRepository,
	sessions *SessionStore,
	userBot, djBot *telegram.Client,
) *Dialog {
	return &Dialog{
		orders:   orders,
		djs:      djs,
		users:    users,
		sessions: sessions,
		userBot:  userBot,
		djBot:    djBot,
	}
}

// HandleDJUpdate processes one webhook delivery from the DJ bot.
func (d *Dialog) HandleDJUpdate(ctx context.Context, update *telegram.Update) error {
	chatID := update.ChatID()
	if chatID == 0 {
		return nil
	}

	if update.CallbackQuery != nil {
		return d.handleDJCallback(ctx, chatID, update.CallbackQuery.Data)
	}
	if update.Message != nil {
		return d.handleDJMessage(ctx, chatID, strings.TrimSpace(update.Message.Text))
	}
	return nil
}

func (d *Dialog) handleDJCallback(ctx context.Context, chatID int64, data string) error {
	action, orderID, ok := parseCallback(data)
	if !ok {
		slog.Warn("unrecognized dj callback", "chat_id", chatID, "data", data)
		return nil
	}

	switch action {
	case "accept":
		session := &Session{Step: StepAwaitingMessage, OrderID: orderID}
		if err := d.sessions.Put(ctx, botDJ, chatID, session); err != nil {
			return d.replyDJ(ctx, chatID, replyRetry)
		}
		return d.replyDJ(ctx, chatID,
			fmt.Sprintf("Введите сообщение для пользователя по заказу #%d (или «%s», чтобы пропустить):", orderID, replySkipMarker))

	case "change_price":
		session := &Session{Step: StepAwaitingPrice, OrderID: orderID}
		if err := d.sessions.Put(ctx, botDJ, chatID, session); err != nil {
			return d.replyDJ(ctx, chatID, replyRetry)
		}
		return d.replyDJ(ctx, chatID, fmt.Sprintf("Введите новую цену для заказа #%d:", orderID))

	case "decline":
		session := &Session{Step: StepAwaitingDeclineMessage, OrderID: orderID}
		if err := d.sessions.Put(ctx, botDJ, chatID, session); err != nil {
			return d.replyDJ(ctx, chatID, replyRetry)
		}
		return d.replyDJ(ctx, chatID,
			fmt.Sprintf("Укажите причину отказа по заказу #%d (или «%s»):", orderID, replySkipMarker))

	case "enter_timeslot":
		session := &Session{Step: StepAwaitingTimeslot, OrderID: orderID}
		if err := d.sessions.Put(ctx, botDJ, chatID, session); err != nil {
			return d.replyDJ(ctx, chatID, replyRetry)
		}
		return d.replyDJ(ctx, chatID,
			fmt.Sprintf("Во сколько прозвучит трек по заказу #%d? Формат ЧЧ:ММ, например 21:30.", orderID))

	case "finish":
		if _, err := d.orders.MarkPlayed(ctx, orderID); err != nil {
			return d.replyDJ(ctx, chatID, d.failureReply(err))
		}
		return d.replyDJ(ctx, chatID, fmt.Sprintf("✅ Заказ #%d завершён. Спасибо!", orderID))
	}

	slog.Warn("unhandled dj callback action", "chat_id", chatID, "action", action)
	return nil
}

func (d *Dialog) handleDJMessage(ctx context.Context, chatID int64, text string) error {
	if text == "" {
		return nil
	}

	session, err := d.sessions.Get(ctx, botDJ, chatID)
	if err != nil {
		slog.Error("failed to load dj session", "chat_id", chatID, "error", err)
		return d.replyDJ(ctx, chatID, replyRetry)
	}
	if session == nil {
		if strings.HasPrefix(text, "/start") {
			return d.replyDJ(ctx, chatID, "👋 Это бот для диджеев DJ Connect. Новые заказы будут приходить сюда.")
		}
		return nil
	}

	switch session.Step {
	case StepAwaitingPrice:
		price, err := decimal.NewFromString(text)
		if err != nil || price.IsNegative() {
			return d.replyDJ(ctx, chatID, "Цена должна быть неотрицательным числом, например 1500. Попробуйте ещё раз:")
		}
		session.Step = StepAwaitingMessage
		session.Price = price.String()
		if err := d.sessions.Put(ctx, botDJ, chatID, session); err != nil {
			return d.replyDJ(ctx, chatID, replyRetry)
		}
		return d.replyDJ(ctx, chatID,
			fmt.Sprintf("Теперь введите сообщение для пользователя (или «%s»):", replySkipMarker))

	case StepAwaitingMessage:
		return d.finishAccept(ctx, chatID, session, text)

	case StepAwaitingDeclineMessage:
		message := text
		if message == replySkipMarker {
			message = ""
		}
		if _, err := d.orders.Decline(ctx, session.OrderID, message); err != nil {
			d.sessions.Clear(ctx, botDJ, chatID)
			return d.replyDJ(ctx, chatID, d.failureReply(err))
		}
		d.sessions.Clear(ctx, botDJ, chatID)
		return d.replyDJ(ctx, chatID, fmt.Sprintf("💩 Заказ #%d отклонён.", session.OrderID))

	case StepAwaitingTimeslot:
		if !timeslotPattern.MatchString(text) {
			return d.replyDJ(ctx, chatID, "Не понял время. Формат ЧЧ:ММ, например 21:30. Попробуйте ещё раз:")
		}
		slot, err := slotForToday(text)
		if err != nil {
			return d.replyDJ(ctx, chatID, replyRetry)
		}
		if _, err := d.orders.SetPlayTime(ctx, session.OrderID, slot, ""); err != nil {
			d.sessions.Clear(ctx, botDJ, chatID)
			return d.replyDJ(ctx, chatID, d.failureReply(err))
		}
		d.sessions.Clear(ctx, botDJ, chatID)
		return d.replyDJ(ctx, chatID,
			fmt.Sprintf("🕒 Время для заказа #%d установлено: %s. Напомним за 5 минут.", session.OrderID, text))
	}

	return nil
}

// finishAccept closes the accept dialog: with a price collected earlier the
// order is re-priced, otherwise it is accepted at its current price.
func (d *Dialog) finishAccept(ctx context.Context, chatID int64, session *Session, text string) error {
	message := text
	if message == replySkipMarker {
		message = ""
	}

	var price decimal.Decimal
	if session.Price != "" {
		parsed, err := decimal.NewFromString(session.Price)
		if err != nil {
			d.sessions.Clear(ctx, botDJ, chatID)
			return d.replyDJ(ctx, chatID, replyRetry)
		}
		price = parsed
	} else {
		order, err := d.orders.Get(ctx, session.OrderID)
		if err != nil {
			d.sessions.Clear(ctx, botDJ, chatID)
			return d.replyDJ(ctx, chatID, d.failureReply(err))
		}
		price = order.Price
	}

	order, _, err := d.orders.Accept(ctx, session.OrderID, price, message)
	d.sessions.Clear(ctx, botDJ, chatID)
	if err != nil {
		return d.replyDJ(ctx, chatID, d.failureReply(err))
	}

	reply := fmt.Sprintf("✅ Заказ #%d принят, пользователю отправлена ссылка на оплату %s ₽.", order.ID, order.Price)
	if order.Status == models.OrderStatusPriceChanged {
		reply = fmt.Sprintf("💰 Цена заказа #%d изменена на %s ₽, пользователю отправлена новая ссылка на оплату.", order.ID, order.Price)
	}
	return d.replyDJ(ctx, chatID, reply)
}

// HandleUserUpdate processes one webhook delivery from the user bot.
func (d *Dialog) HandleUserUpdate(ctx context.Context, update *telegram.Update) error {
	chatID := update.ChatID()
	if chatID == 0 {
		return nil
	}

	if update.CallbackQuery != nil {
		return d.handleUserCallback(ctx, chatID, update.CallbackQuery)
	}
	if update.Message != nil {
		return d.handleUserMessage(ctx, chatID, update.Message)
	}
	return nil
}

func (d *Dialog) handleUserCallback(ctx context.Context, chatID int64, callback *telegram.CallbackQuery) error {
	action, id, ok := parseCallback(callback.Data)
	if !ok {
		slog.Warn("unrecognized user callback", "chat_id", chatID, "data", callback.Data)
		return nil
	}

	switch action {
	case "cancel":
		if _, err := d.orders.Cancel(ctx, id); err != nil {
			return d.replyUser(ctx, chatID, d.failureReply(err))
		}
		return d.replyUser(ctx, chatID, fmt.Sprintf("🙅‍♂️ Заказ #%d отменён.", id))

	case "choose_track":
		return d.createOrderFromTrack(ctx, chatID, callback.From, id)
	}

	slog.Warn("unhandled user callback action", "chat_id", chatID, "action", action)
	return nil
}

func (d *Dialog) handleUserMessage(ctx context.Context, chatID int64, message *telegram.Message) error {
	text := strings.TrimSpace(message.Text)
	if !strings.HasPrefix(text, "/start") {
		return nil
	}

	// Deep links look like "/start dj_42" and open the DJ's track list.
	if payload, found := strings.CutPrefix(text, "/start dj_"); found {
		djID, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return d.replyUser(ctx, chatID, replyRetry)
		}
		return d.showTrackList(ctx, chatID, djID)
	}

	return d.replyUser(ctx, chatID, "👋 Это DJ Connect: закажите трек у диджея по ссылке с его страницы.")
}

func (d *Dialog) showTrackList(ctx context.Context, chatID, djID int64) error {
	dj, err := d.djs.GetByID(ctx, djID)
	if err != nil {
		return d.replyUser(ctx, chatID, "Диджей не найден, проверьте ссылку.")
	}
	tracks, err := d.djs.ListTracks(ctx, djID)
	if err != nil {
		return d.replyUser(ctx, chatID, replyRetry)
	}
	if len(tracks) == 0 {
		return d.replyUser(ctx, chatID,
			fmt.Sprintf("У %s пока нет треков в каталоге.", dj.StageName))
	}

	session := &Session{Step: StepChoosingTrack, DJID: djID}
	if err := d.sessions.Put(ctx, botUser, chatID, session); err != nil {
		return d.replyUser(ctx, chatID, replyRetry)
	}

	keyboard := make([][]telegram.InlineButton, 0, len(tracks))
	for _, t := range tracks {
		keyboard = append(keyboard, []telegram.InlineButton{{
			Text:         fmt.Sprintf("%s — %s ₽", t.Track.Name, t.Price),
			CallbackData: fmt.Sprintf("choose_track_%d", t.Track.ID),
		}})
	}
	return d.userBot.SendMessage(ctx, chatID,
		fmt.Sprintf("🎧 %s. Выберите трек:", dj.StageName), keyboard)
}

func (d *Dialog) createOrderFromTrack(ctx context.Context, chatID int64, from *telegram.User, trackID int64) error {
	session, err := d.sessions.Get(ctx, botUser, chatID)
	if err != nil || session == nil || session.Step != StepChoosingTrack {
		return d.replyUser(ctx, chatID, "Список треков устарел, откройте его заново по ссылке диджея.")
	}

	user, err := d.resolveUser(ctx, chatID, from)
	if err != nil {
		return d.replyUser(ctx, chatID, replyRetry)
	}

	order, err := d.orders.Create(ctx, service.CreateOrderRequest{
		UserID:  user.ID,
		DJID:    session.DJID,
		TrackID: &trackID,
	})
	d.sessions.Clear(ctx, botUser, chatID)
	if err != nil {
		return d.replyUser(ctx, chatID, d.failureReply(err))
	}
	return d.replyUser(ctx, chatID,
		fmt.Sprintf("🎉 Заказ #%d отправлен диджею, ждите подтверждения.", order.ID))
}

// resolveUser maps the chat to a stored user, registering on first contact.
func (d *Dialog) resolveUser(ctx context.Context, chatID int64, from *telegram.User) (*models.User, error) {
	user, err := d.users.GetByTelegramID(ctx, chatID)
	if err == nil {
		return user, nil
	}
	if !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		return nil, err
	}

	name := ""
	if from != nil {
		name = from.FirstName
	}
	user = &models.User{TelegramID: chatID, Name: name}
	if _, err := d.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (d *Dialog) replyDJ(ctx context.Context, chatID int64, text string) error {
	return d.djBot.SendMessage(ctx, chatID, text, nil)
}

func (d *Dialog) replyUser(ctx context.Context, chatID int64, text string) error {
	return d.userBot.SendMessage(ctx, chatID, text, nil)
}

// failureReply maps a service error to a human reply; internals never leak
// into the chat.
func (d *Dialog) failureReply(err error) string {
	switch {
	case stderrors.Is(err, pkgerrors.ErrInvalidState):
		return replyOrderDone
	case stderrors.Is(err, pkgerrors.ErrOrderNotFound):
		return "Заказ не найден."
	default:
		slog.Error("bot action failed", "error", err)
		return replyRetry
	}
}

// parseCallback splits "change_price_42" into ("change_price", 42).
func parseCallback(data string) (action string, id int64, ok bool) {
	idx := strings.LastIndex(data, "_")
	if idx <= 0 || idx == len(data)-1 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(data[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return data[:idx], id, true
}

// slotForToday turns "21:30" into today's date at that wall-clock time. The
// zone interpretation happens later, against the order's stored timezone.
func slotForToday(value string) (time.Time, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return time.Time{}, err
	}
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, time.UTC), nil
}
