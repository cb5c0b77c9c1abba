package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jmrobles/citawatch/internal/notification"
	"github.com/jmrobles/citawatch/internal/portal"
	"github.com/jmrobles/citawatch/internal/watch/domain"
	"github.com/jmrobles/citawatch/pkg/observability"
)

// State is the controller's position in the polling loop.
type State string

const (
	StateIdle       State = "idle"
	StateWaiting    State = "waiting"
	StateScanning   State = "scanning"
	StateBackoff    State = "backoff"
	StateTerminated State = "terminated"
)

// CycleRunner executes one scan-decide-submit cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (domain.CycleOutcome, error)
}

// SessionControl is the slice of session management the loop needs for
// cooldowns.
type SessionControl interface {
	SignOut(ctx context.Context) error
	Invalidate()
}

// ControllerConfig holds the polling loop configuration.
type ControllerConfig struct {
	// PollIntervalMin/Max bound the randomized wait between cycles.
	PollIntervalMin time.Duration
	PollIntervalMax time.Duration

	// MaxRetries is the number of consecutive retryable failures
	// tolerated before the run terminates.
	MaxRetries int

	// BackoffBase and BackoffMax shape the exponential retry delay.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// BanThreshold is the number of consecutive empty scans treated as a
	// suspected ban; zero disables ban handling.
	BanThreshold int
	BanCooldown  time.Duration

	// WorkLimit caps continuous polling before a rest break; zero
	// disables rest breaks.
	WorkLimit    time.Duration
	WorkCooldown time.Duration
}

// DefaultControllerConfig returns sensible defaults.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		PollIntervalMin: 3 * time.Minute,
		PollIntervalMax: 10 * time.Minute,
		MaxRetries:      5,
		BackoffBase:     30 * time.Second,
		BackoffMax:      30 * time.Minute,
		BanThreshold:    3,
		BanCooldown:     3 * time.Hour,
		WorkLimit:       90 * time.Minute,
		WorkCooldown:    30 * time.Minute,
	}
}

// Stats is a snapshot of the controller's progress.
type Stats struct {
	State               State      `json:"state"`
	Cycles              uint64     `json:"cycles"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	EmptyScans          int        `json:"empty_scans"`
	SlotsLost           uint64     `json:"slots_lost"`
	Improved            bool       `json:"improved"`
	LastError           string     `json:"last_error,omitempty"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty"`
	LastCycleAt         *time.Time `json:"last_cycle_at,omitempty"`
}

// Controller runs the polling loop until a reschedule is confirmed, a
// fatal condition occurs, or the context is cancelled.
type Controller struct {
	runner     CycleRunner
	sessions   SessionControl
	dispatcher notification.Dispatcher
	config     ControllerConfig
	clock      Clock
	logger     *slog.Logger
	metrics    observability.Metrics

	statsMu sync.Mutex
	stats   Stats
}

// NewController creates a controller over the given cycle runner.
func NewController(runner CycleRunner, sessions SessionControl, dispatcher notification.Dispatcher, config ControllerConfig, clock Clock, logger *slog.Logger, metrics observability.Metrics) *Controller {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if dispatcher == nil {
		dispatcher = notification.NewNoopDispatcher(logger)
	}
	return &Controller{
		runner:     runner,
		sessions:   sessions,
		dispatcher: dispatcher,
		config:     config,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
		stats:      Stats{State: StateIdle},
	}
}

// Stats returns a snapshot of the controller's progress.
func (c *Controller) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Run executes the loop. It returns nil when a reschedule was confirmed,
// the terminating error otherwise. Cancellation is honored at cycle
// boundaries.
func (c *Controller) Run(ctx context.Context) error {
	defer c.setState(StateTerminated)

	workStart := c.clock.Now()
	consecutiveFailures := 0
	emptyScans := 0

	for {
		if err := c.maybeRest(ctx, &workStart); err != nil {
			return err
		}

		c.setState(StateWaiting)
		if err := c.clock.Sleep(ctx, c.interval()); err != nil {
			return err
		}

		c.setState(StateScanning)
		cycleCtx := observability.WithCycleID(ctx, "")
		outcome, err := c.runCycle(cycleCtx)

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if portal.IsFatal(err) {
				c.logger.ErrorContext(cycleCtx, "fatal portal error, terminating", "error", err)
				c.notify(cycleCtx, notification.NewFatalError("auth", err.Error(), c.clock.Now()))
				return err
			}

			consecutiveFailures++
			c.recordFailure(err, consecutiveFailures)
			if consecutiveFailures >= c.config.MaxRetries {
				c.logger.ErrorContext(cycleCtx, "retry budget exhausted, terminating",
					"consecutive_failures", consecutiveFailures,
					"error", err,
				)
				c.notify(cycleCtx, notification.NewFatalError("retries_exhausted",
					fmt.Sprintf("%d consecutive failures, last: %v", consecutiveFailures, err),
					c.clock.Now()))
				return fmt.Errorf("retry budget exhausted after %d failures: %w", consecutiveFailures, err)
			}

			delay := c.backoff(consecutiveFailures, err)
			c.logger.WarnContext(cycleCtx, "cycle failed, backing off",
				"consecutive_failures", consecutiveFailures,
				"delay", delay,
				"error", err,
			)
			c.metrics.Counter(observability.MetricBackoffs, 1)
			c.metrics.Timing(observability.MetricBackoffDelay, delay)
			c.setState(StateBackoff)
			if err := c.clock.Sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		consecutiveFailures = 0
		c.clearFailures()

		if outcome.Improved {
			c.markImproved()
			c.logger.InfoContext(cycleCtx, "appointment improved, run complete")
			return nil
		}

		// Clean cycle: back to idle until the next wait begins.
		c.setState(StateIdle)

		if outcome.EmptyScan {
			emptyScans++
			c.recordEmptyScan(emptyScans)
			if c.config.BanThreshold > 0 && emptyScans >= c.config.BanThreshold {
				if err := c.coolDownSuspectedBan(ctx, emptyScans); err != nil {
					return err
				}
				emptyScans = 0
				workStart = c.clock.Now()
			}
			continue
		}

		emptyScans = 0
		c.recordEmptyScan(0)
		if outcome.SlotLost {
			c.recordSlotLost()
		}
	}
}

// maybeRest pauses the loop after the continuous work limit, signing out
// for the duration so the session does not idle on the portal.
func (c *Controller) maybeRest(ctx context.Context, workStart *time.Time) error {
	if c.config.WorkLimit <= 0 {
		return nil
	}
	worked := c.clock.Now().Sub(*workStart)
	if worked < c.config.WorkLimit {
		return nil
	}

	c.logger.InfoContext(ctx, "work limit reached, taking a rest break",
		"worked", worked,
		"cooldown", c.config.WorkCooldown,
	)
	c.notify(ctx, notification.NewRestBreak(worked, c.config.WorkCooldown, c.clock.Now()))
	if err := c.sessions.SignOut(ctx); err != nil {
		c.logger.WarnContext(ctx, "sign out before rest break failed", "error", err)
	}
	if err := c.clock.Sleep(ctx, c.config.WorkCooldown); err != nil {
		return err
	}
	*workStart = c.clock.Now()
	return nil
}

// coolDownSuspectedBan reacts to consecutive empty scans: the portal
// serves banned accounts empty availability instead of an error.
func (c *Controller) coolDownSuspectedBan(ctx context.Context, emptyScans int) error {
	reason := fmt.Sprintf("%d consecutive empty scans", emptyScans)
	c.logger.WarnContext(ctx, "suspected ban, cooling down",
		"empty_scans", emptyScans,
		"cooldown", c.config.BanCooldown,
	)
	c.notify(ctx, notification.NewSuspectedBan(reason, c.config.BanCooldown, c.clock.Now()))
	if err := c.sessions.SignOut(ctx); err != nil {
		c.logger.WarnContext(ctx, "sign out before ban cooldown failed", "error", err)
	}
	return c.clock.Sleep(ctx, c.config.BanCooldown)
}

func (c *Controller) runCycle(ctx context.Context) (domain.CycleOutcome, error) {
	start := c.clock.Now()
	outcome, err := c.runner.RunCycle(ctx)

	c.metrics.Counter(observability.MetricCyclesTotal, 1)
	c.metrics.Timing(observability.MetricCycleDuration, c.clock.Now().Sub(start))
	if err != nil {
		c.metrics.Counter(observability.MetricCycleErrors, 1)
	}

	now := c.clock.Now()
	c.statsMu.Lock()
	c.stats.Cycles++
	c.stats.LastCycleAt = &now
	c.statsMu.Unlock()

	return outcome, err
}

// interval returns a uniformly random wait in [PollIntervalMin,
// PollIntervalMax]. Jitter keeps the polling pattern from looking
// mechanical.
func (c *Controller) interval() time.Duration {
	min, max := c.config.PollIntervalMin, c.config.PollIntervalMax
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}

// backoff returns the exponential delay for the nth consecutive failure,
// doubled when the portal is actively rate limiting.
func (c *Controller) backoff(failures int, err error) time.Duration {
	base := c.config.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	max := c.config.BackoffMax
	if max <= 0 {
		max = time.Minute
	}
	if failures < 1 {
		failures = 1
	}

	delay := base * time.Duration(1<<uint(failures-1))
	if errors.Is(err, portal.ErrRateLimited) {
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}

func (c *Controller) notify(ctx context.Context, event notification.Event) {
	if err := c.dispatcher.Notify(ctx, event); err != nil {
		c.logger.WarnContext(ctx, "notification failed", "error", err)
	}
}

func (c *Controller) setState(s State) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.State = s
}

func (c *Controller) recordFailure(err error, consecutive int) {
	now := c.clock.Now()
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.ConsecutiveFailures = consecutive
	c.stats.LastError = err.Error()
	c.stats.LastErrorAt = &now
}

func (c *Controller) clearFailures() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.ConsecutiveFailures = 0
}

func (c *Controller) recordEmptyScan(count int) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.EmptyScans = count
}

func (c *Controller) recordSlotLost() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.SlotsLost++
}

func (c *Controller) markImproved() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.Improved = true
}
