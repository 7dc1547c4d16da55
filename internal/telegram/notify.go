package telegram

import (
	"context"
	"errors"
	"log/slog"

	"hwid-license-server/internal/audit"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const notifyQueueSize = 256

var ErrQueueFull = errors.New("telegram: notification queue full")

// Notifier forwards audit events to the admin chat. Record only enqueues;
// Run delivers, so a slow Bot API never stalls the caller.
type Notifier struct {
	api    API
	chatID int64
	log    *slog.Logger
	queue  chan audit.Event
}

func NewNotifier(api API, chatID int64, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		api:    api,
		chatID: chatID,
		log:    log.With("component", "telegram_notify"),
		queue:  make(chan audit.Event, notifyQueueSize),
	}
}

// Record queues ev, dropping it with ErrQueueFull when delivery is behind.
func (n *Notifier) Record(_ context.Context, ev audit.Event) error {
	select {
	case n.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run sends queued events until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-n.queue:
			n.send(ev)
		}
	}
}

func (n *Notifier) send(ev audit.Event) {
	msg := tgbotapi.NewMessage(n.chatID, ev.Line())
	msg.DisableWebPagePreview = true
	msg.DisableNotification = ev.Action == audit.ActionExpire
	if _, err := n.api.Send(msg); err != nil {
		n.log.Warn("notify admin chat failed", "action", ev.Action, "err", err)
	}
}
