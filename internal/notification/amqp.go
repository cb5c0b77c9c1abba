package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the topic exchange watcher events are published to.
const ExchangeName = "citawatch.events"

// AMQPDispatcher publishes events to a RabbitMQ topic exchange so other
// systems can react to reschedules and run failures.
type AMQPDispatcher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewAMQPDispatcher connects and declares the topic exchange.
func NewAMQPDispatcher(url string, logger *slog.Logger) (*AMQPDispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close() // Best-effort cleanup
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = ch.Close()   // Best-effort cleanup
		_ = conn.Close() // Best-effort cleanup
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("AMQP notification channel connected", "exchange", ExchangeName)

	return &AMQPDispatcher{
		conn:    conn,
		channel: ch,
		logger:  logger,
	}, nil
}

func (d *AMQPDispatcher) Notify(ctx context.Context, event Event) error {
	payload, err := event.Payload()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	err = d.channel.PublishWithContext(ctx,
		ExchangeName,       // exchange
		event.RoutingKey(), // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	d.logger.DebugContext(ctx, "event published",
		"routing_key", event.RoutingKey(),
		"size", len(payload),
	)
	return nil
}

// Close closes the channel and connection.
func (d *AMQPDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.channel != nil {
		if err := d.channel.Close(); err != nil {
			d.logger.Warn("error closing channel", "error", err)
		}
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
