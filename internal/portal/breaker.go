package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmrobles/citawatch/internal/watch/domain"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the circuit breaker around the portal client.
type BreakerConfig struct {
	// MaxRequests is the number of probes allowed in half-open state.
	MaxRequests uint32
	// Interval is the cyclic period of the closed state.
	Interval time.Duration
	// Timeout is the period of the open state.
	Timeout time.Duration
	// FailureThreshold trips the breaker after this many consecutive
	// retryable failures.
	FailureThreshold uint32
}

// DefaultBreakerConfig returns a sensible default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         5 * time.Minute,
		Timeout:          10 * time.Minute,
		FailureThreshold: 5,
	}
}

// BreakerClient decorates a Client with a circuit breaker. An open
// breaker surfaces as ErrRateLimited so the engine escalates its delay
// instead of hammering a struggling portal.
type BreakerClient struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewBreakerClient wraps the given client.
func NewBreakerClient(inner Client, cfg BreakerConfig, logger *slog.Logger) *BreakerClient {
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        "portal",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Benign and fatal outcomes are not the portal's health signal.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &BreakerClient{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
	}
}

func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := b.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("circuit breaker open: %w", ErrRateLimited)
	}
	return result, err
}

func (b *BreakerClient) Login(ctx context.Context, creds Credentials) (*domain.Session, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.Login(ctx, creds)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Session), nil
}

func (b *BreakerClient) CurrentAppointment(ctx context.Context, sess *domain.Session) (time.Time, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.CurrentAppointment(ctx, sess)
	})
	if err != nil {
		return time.Time{}, err
	}
	return result.(time.Time), nil
}

func (b *BreakerClient) ListDates(ctx context.Context, sess *domain.Session, facilityID int) ([]domain.Slot, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.ListDates(ctx, sess, facilityID)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Slot), nil
}

func (b *BreakerClient) ListTimes(ctx context.Context, sess *domain.Session, facilityID int, date string) ([]string, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.ListTimes(ctx, sess, facilityID, date)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (b *BreakerClient) ListCASDates(ctx context.Context, sess *domain.Session, facilityID int, anchor ConsularAnchor) ([]domain.Slot, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.ListCASDates(ctx, sess, facilityID, anchor)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Slot), nil
}

func (b *BreakerClient) ListCASTimes(ctx context.Context, sess *domain.Session, facilityID int, date string, anchor ConsularAnchor) ([]string, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.ListCASTimes(ctx, sess, facilityID, date, anchor)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (b *BreakerClient) Submit(ctx context.Context, sess *domain.Session, req SubmitRequest) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Submit(ctx, sess, req)
	})
	return err
}

func (b *BreakerClient) SignOut(ctx context.Context, sess *domain.Session) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.SignOut(ctx, sess)
	})
	return err
}
