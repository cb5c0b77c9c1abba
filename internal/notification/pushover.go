package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gregdel/pushover"
)

// PushoverDispatcher delivers events as Pushover push notifications.
type PushoverDispatcher struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
	logger    *slog.Logger
}

// NewPushoverDispatcher creates a Pushover channel.
func NewPushoverDispatcher(token, userKey string, logger *slog.Logger) (*PushoverDispatcher, error) {
	if token == "" || userKey == "" {
		return nil, fmt.Errorf("pushover: token and user key are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PushoverDispatcher{
		app:       pushover.New(token),
		recipient: pushover.NewRecipient(userKey),
		logger:    logger,
	}, nil
}

func (d *PushoverDispatcher) Notify(ctx context.Context, event Event) error {
	message := pushover.NewMessageWithTitle(event.Message(), event.Title())
	if _, err := d.app.SendMessage(message, d.recipient); err != nil {
		return fmt.Errorf("pushover send: %w", err)
	}
	d.logger.DebugContext(ctx, "pushover notification sent", "routing_key", event.RoutingKey())
	return nil
}

func (d *PushoverDispatcher) Close() error { return nil }
