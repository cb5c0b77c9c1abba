package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridDispatcher delivers events as email via SendGrid. The original
// workflow mails the account holder at their own address.
type SendGridDispatcher struct {
	client  *sendgrid.Client
	address string
	logger  *slog.Logger
}

// NewSendGridDispatcher creates a SendGrid email channel that sends to
// and from the given address.
func NewSendGridDispatcher(apiKey, address string, logger *slog.Logger) (*SendGridDispatcher, error) {
	if apiKey == "" || address == "" {
		return nil, fmt.Errorf("sendgrid: API key and address are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridDispatcher{
		client:  sendgrid.NewSendClient(apiKey),
		address: address,
		logger:  logger,
	}, nil
}

func (d *SendGridDispatcher) Notify(ctx context.Context, event Event) error {
	owner := mail.NewEmail("", d.address)
	message := mail.NewSingleEmail(owner, event.Title(), owner, event.Message(), event.Message())

	resp, err := d.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send: status %d", resp.StatusCode)
	}
	d.logger.DebugContext(ctx, "sendgrid notification sent", "routing_key", event.RoutingKey())
	return nil
}

func (d *SendGridDispatcher) Close() error { return nil }
