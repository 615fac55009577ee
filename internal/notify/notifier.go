package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rushadaev/dj-connect-back/internal/infrastructure/observability"
	"github.com/rushadaev/dj-connect-back/internal/infrastructure/telegram"
	pkgerrors "github.com/rushadaev/dj-connect-back/pkg/errors"
)

// Action is an inline control attached to an outbound message: either a link
// or a callback the recipient can press.
type Action struct {
	Text     string
	URL      string
	Callback string
}

// Notifier tells one of the two parties about an order. Delivery is best
// effort: implementations log failures and return ErrDeliveryFailure so a
// caller that keeps retry state (the reconciliation sweep) can see it, but
// no caller surfaces it to the API client.
type Notifier interface {
	NotifyRequester(ctx context.Context, chatID int64, text string, actions ...Action) error
	NotifyPerformer(ctx context.Context, chatID int64, text string, actions ...Action) error
}

// TelegramNotifier routes messages through two separately credentialed bots:
// the one users talk to and the one DJs talk to.
type TelegramNotifier struct {
	userBot *telegram.Client
	djBot   *telegram.Client
}

func NewTelegramNotifier(userBot, djBot *telegram.Client) *TelegramNotifier {
	return &TelegramNotifier{userBot: userBot, djBot: djBot}
}

func (n *TelegramNotifier) NotifyRequester(ctx context.Context, chatID int64, text string, actions ...Action) error {
	return n.send(ctx, n.userBot, "user", chatID, text, actions)
}

func (n *TelegramNotifier) NotifyPerformer(ctx context.Context, chatID int64, text string, actions ...Action) error {
	return n.send(ctx, n.djBot, "dj", chatID, text, actions)
}

func (n *TelegramNotifier) send(ctx context.Context, bot *telegram.Client, audience string, chatID int64, text string, actions []Action) error {
	if chatID == 0 {
		// Recipient never linked a chat; nothing to deliver.
		return nil
	}
	if err := bot.SendMessage(ctx, chatID, text, keyboard(actions)); err != nil {
		observability.NotificationsSent.WithLabelValues(audience, "error").Inc()
		slog.Error("notification delivery failed", "audience", audience, "chat_id", chatID, "error", err)
		return fmt.Errorf("%w: %v", pkgerrors.ErrDeliveryFailure, err)
	}
	observability.NotificationsSent.WithLabelValues(audience, "success").Inc()
	return nil
}

func keyboard(actions []Action) [][]telegram.InlineButton {
	if len(actions) == 0 {
		return nil
	}
	rows := make([][]telegram.InlineButton, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, []telegram.InlineButton{{
			Text:         a.Text,
			URL:          a.URL,
			CallbackData: a.Callback,
		}})
	}
	return rows
}
