// Package application orchestrates the watch use cases: keeping a portal
// session alive, scanning for open slots, and running the
// scan-decide-submit cycle.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmrobles/citawatch/internal/portal"
	"github.com/jmrobles/citawatch/internal/watch/domain"
	"github.com/jmrobles/citawatch/pkg/observability"
)

// SessionManagerConfig configures session management.
type SessionManagerConfig struct {
	// MaxLoginAttempts bounds consecutive login tries before the failure
	// is treated as an authentication rejection.
	MaxLoginAttempts int

	// RetryDelay is the pause between consecutive login tries.
	RetryDelay time.Duration

	// Sleep waits between login tries. Defaults to a timer-based wait;
	// tests inject their own to run without real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultSessionManagerConfig returns sensible session manager defaults.
func DefaultSessionManagerConfig() SessionManagerConfig {
	return SessionManagerConfig{
		MaxLoginAttempts: 3,
		RetryDelay:       2 * time.Second,
	}
}

// SessionManager owns the portal session. All components obtain sessions
// through EnsureValid; nothing else logs in.
type SessionManager struct {
	client  portal.Client
	creds   portal.Credentials
	config  SessionManagerConfig
	logger  *slog.Logger
	metrics observability.Metrics
	now     func() time.Time

	mu      sync.Mutex
	session *domain.Session
}

// NewSessionManager creates a session manager for the given account.
func NewSessionManager(client portal.Client, creds portal.Credentials, config SessionManagerConfig, logger *slog.Logger, metrics observability.Metrics) *SessionManager {
	if config.MaxLoginAttempts <= 0 {
		config.MaxLoginAttempts = DefaultSessionManagerConfig().MaxLoginAttempts
	}
	if config.Sleep == nil {
		config.Sleep = sleep
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &SessionManager{
		client:  client,
		creds:   creds,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// EnsureValid returns a usable session, logging in when the held one is
// missing, expired, or invalidated. The mutex guarantees a single
// in-flight refresh; concurrent callers share its result.
func (m *SessionManager) EnsureValid(ctx context.Context) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && m.session.IsValid(m.now()) {
		return m.session, nil
	}

	ctx = observability.WithOperation(ctx, "login")
	var lastErr error
	for attempt := 1; attempt <= m.config.MaxLoginAttempts; attempt++ {
		sess, err := m.client.Login(ctx, m.creds)
		if err == nil {
			sess.MarkValid()
			m.session = sess
			m.metrics.Counter(observability.MetricLogins, 1)
			m.logger.InfoContext(ctx, "logged in", "attempt", attempt)
			return sess, nil
		}

		m.metrics.Counter(observability.MetricLoginErrors, 1)
		if portal.IsFatal(err) {
			return nil, err
		}
		lastErr = err
		m.logger.WarnContext(ctx, "login attempt failed",
			"attempt", attempt,
			"max_attempts", m.config.MaxLoginAttempts,
			"error", err,
		)

		if attempt < m.config.MaxLoginAttempts && m.config.RetryDelay > 0 {
			if err := m.config.Sleep(ctx, m.config.RetryDelay); err != nil {
				return nil, err
			}
		}
	}

	// Repeated login failure is indistinguishable from a locked or
	// rejected account and ends the run.
	return nil, fmt.Errorf("login failed after %d attempts: %w: %w",
		m.config.MaxLoginAttempts, portal.ErrAuth, lastErr)
}

// sleep blocks for d or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Invalidate discards the held session so the next EnsureValid logs in.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Invalidate()
	}
}

// SignOut ends the session on the portal side and invalidates it locally.
// Used ahead of rest breaks and ban cooldowns.
func (m *SessionManager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	err := m.client.SignOut(ctx, m.session)
	m.session.Invalidate()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}
