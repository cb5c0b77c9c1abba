package notification

import (
	"context"
	"log/slog"

	"github.com/jmrobles/citawatch/pkg/observability"
)

// Dispatcher delivers events to one outbound channel.
type Dispatcher interface {
	// Notify delivers the event. Implementations should honor the
	// context deadline; the engine never retries a failed delivery.
	Notify(ctx context.Context, event Event) error

	// Close releases channel resources.
	Close() error
}

// NoopDispatcher discards events. Used when no channel is configured.
type NoopDispatcher struct {
	logger *slog.Logger
}

// NewNoopDispatcher creates a dispatcher that only logs events.
func NewNoopDispatcher(logger *slog.Logger) *NoopDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopDispatcher{logger: logger}
}

func (d *NoopDispatcher) Notify(ctx context.Context, event Event) error {
	d.logger.InfoContext(ctx, "notification (no channel configured)",
		"routing_key", event.RoutingKey(),
		"message", event.Message(),
	)
	return nil
}

func (d *NoopDispatcher) Close() error { return nil }

// MultiDispatcher fans an event out to every configured channel. A
// channel failure is logged and counted, never propagated: notification
// delivery must not affect the engine.
type MultiDispatcher struct {
	channels []Dispatcher
	logger   *slog.Logger
	metrics  observability.Metrics
}

// NewMultiDispatcher creates a fan-out dispatcher.
func NewMultiDispatcher(logger *slog.Logger, metrics observability.Metrics, channels ...Dispatcher) *MultiDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &MultiDispatcher{channels: channels, logger: logger, metrics: metrics}
}

func (d *MultiDispatcher) Notify(ctx context.Context, event Event) error {
	for _, ch := range d.channels {
		if err := ch.Notify(ctx, event); err != nil {
			d.logger.WarnContext(ctx, "notification delivery failed",
				"routing_key", event.RoutingKey(),
				"error", err,
			)
			d.metrics.Counter(observability.MetricNotificationErrors, 1)
			continue
		}
		d.metrics.Counter(observability.MetricNotifications, 1)
	}
	return nil
}

func (d *MultiDispatcher) Close() error {
	var firstErr error
	for _, ch := range d.channels {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
