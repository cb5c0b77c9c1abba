package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmrobles/citawatch/internal/notification"
	"github.com/jmrobles/citawatch/internal/portal"
	"github.com/jmrobles/citawatch/internal/watch/domain"
	"github.com/jmrobles/citawatch/internal/watch/engine"
)

// fakeClock advances instantly on Sleep and records every delay.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	// onNow, when set, runs on every clock read.
	onNow func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	now := c.now
	c.mu.Unlock()
	if c.onNow != nil {
		c.onNow()
	}
	return now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type cycleResult struct {
	outcome domain.CycleOutcome
	err     error
}

// scriptedRunner replays a fixed sequence of cycle results and cancels
// the run when the script is exhausted.
type scriptedRunner struct {
	results []cycleResult
	cancel  context.CancelFunc
	calls   int
}

func (r *scriptedRunner) RunCycle(ctx context.Context) (domain.CycleOutcome, error) {
	if r.calls >= len(r.results) {
		r.cancel()
		return domain.CycleOutcome{}, ctx.Err()
	}
	result := r.results[r.calls]
	r.calls++
	return result.outcome, result.err
}

type stubSessions struct {
	signOutCalls    int
	invalidateCalls int
}

func (s *stubSessions) SignOut(ctx context.Context) error { s.signOutCalls++; return nil }
func (s *stubSessions) Invalidate()                       { s.invalidateCalls++ }

type eventSink struct {
	events []notification.Event
}

func (s *eventSink) Notify(ctx context.Context, event notification.Event) error {
	s.events = append(s.events, event)
	return nil
}

func (s *eventSink) Close() error { return nil }

func (s *eventSink) countFatal() int {
	n := 0
	for _, e := range s.events {
		if _, ok := e.(notification.FatalError); ok {
			n++
		}
	}
	return n
}

type harness struct {
	clock    *fakeClock
	runner   *scriptedRunner
	sessions *stubSessions
	sink     *eventSink
	ctrl     *engine.Controller
	ctx      context.Context
}

func newHarness(t *testing.T, config engine.ControllerConfig, results ...cycleResult) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := newFakeClock()
	runner := &scriptedRunner{results: results, cancel: cancel}
	sessions := &stubSessions{}
	sink := &eventSink{}

	return &harness{
		clock:    clock,
		runner:   runner,
		sessions: sessions,
		sink:     sink,
		ctrl:     engine.NewController(runner, sessions, sink, config, clock, nil, nil),
		ctx:      ctx,
	}
}

func baseConfig() engine.ControllerConfig {
	return engine.ControllerConfig{
		PollIntervalMin: time.Minute,
		PollIntervalMax: time.Minute,
		MaxRetries:      3,
		BackoffBase:     30 * time.Second,
		BackoffMax:      10 * time.Minute,
		BanThreshold:    3,
		BanCooldown:     2 * time.Hour,
		WorkLimit:       0,
	}
}

func improved() cycleResult {
	slot, _ := domain.NewSlot("2025-04-02", 25)
	return cycleResult{outcome: domain.CycleOutcome{Improved: true, NewConsular: &slot}}
}

func TestController_TerminatesOnImprovement(t *testing.T) {
	h := newHarness(t, baseConfig(), improved())

	err := h.ctrl.Run(h.ctx)
	require.NoError(t, err)

	stats := h.ctrl.Stats()
	assert.Equal(t, engine.StateTerminated, stats.State)
	assert.True(t, stats.Improved)
	assert.Equal(t, uint64(1), stats.Cycles)
	require.Len(t, h.clock.sleeps, 1, "one wait before the single cycle")
	assert.Equal(t, time.Minute, h.clock.sleeps[0])
}

func TestController_WaitIsWithinConfiguredBounds(t *testing.T) {
	config := baseConfig()
	config.PollIntervalMin = 3 * time.Minute
	config.PollIntervalMax = 10 * time.Minute
	h := newHarness(t, config, improved())

	require.NoError(t, h.ctrl.Run(h.ctx))

	require.Len(t, h.clock.sleeps, 1)
	assert.GreaterOrEqual(t, h.clock.sleeps[0], 3*time.Minute)
	assert.LessOrEqual(t, h.clock.sleeps[0], 10*time.Minute)
}

func TestController_ExhaustedRetriesTerminateWithOneNotification(t *testing.T) {
	transient := errors.New("connection reset")
	h := newHarness(t, baseConfig(),
		cycleResult{err: transient},
		cycleResult{err: transient},
		cycleResult{err: transient},
	)

	err := h.ctrl.Run(h.ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, transient)

	assert.Equal(t, 1, h.sink.countFatal(), "exactly one fatal notification")
	stats := h.ctrl.Stats()
	assert.Equal(t, engine.StateTerminated, stats.State)
	assert.Equal(t, 3, stats.ConsecutiveFailures)

	// wait, backoff(1), wait, backoff(2), wait; third failure terminates.
	require.Len(t, h.clock.sleeps, 5)
	assert.Equal(t, 30*time.Second, h.clock.sleeps[1])
	assert.Equal(t, time.Minute, h.clock.sleeps[3])
}

func TestController_FatalAuthTerminatesImmediately(t *testing.T) {
	h := newHarness(t, baseConfig(), cycleResult{err: portal.ErrAuth})

	err := h.ctrl.Run(h.ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrAuth)
	assert.Equal(t, 1, h.runner.calls, "no retry after an auth rejection")
	assert.Equal(t, 1, h.sink.countFatal())
}

func TestController_RateLimitedDoublesBackoff(t *testing.T) {
	h := newHarness(t, baseConfig(),
		cycleResult{err: portal.ErrRateLimited},
		improved(),
	)

	require.NoError(t, h.ctrl.Run(h.ctx))

	// wait, doubled backoff, wait.
	require.Len(t, h.clock.sleeps, 3)
	assert.Equal(t, time.Minute, h.clock.sleeps[1], "rate limiting doubles the base delay")
}

func TestController_SuccessResetsFailureCount(t *testing.T) {
	transient := errors.New("timeout")
	h := newHarness(t, baseConfig(),
		cycleResult{err: transient},
		cycleResult{err: transient},
		cycleResult{}, // clean cycle, nothing acceptable
		cycleResult{err: transient},
		cycleResult{err: transient},
		improved(),
	)

	require.NoError(t, h.ctrl.Run(h.ctx),
		"failures separated by a clean cycle must not exhaust the retry budget")
	assert.Equal(t, 6, h.runner.calls)
}

func TestController_SuspectedBanCoolsDownAndResets(t *testing.T) {
	config := baseConfig()
	config.BanThreshold = 2
	h := newHarness(t, config,
		cycleResult{outcome: domain.CycleOutcome{EmptyScan: true}},
		cycleResult{outcome: domain.CycleOutcome{EmptyScan: true}},
		improved(),
	)

	require.NoError(t, h.ctrl.Run(h.ctx))

	bans := 0
	for _, e := range h.sink.events {
		if _, ok := e.(notification.SuspectedBan); ok {
			bans++
		}
	}
	assert.Equal(t, 1, bans)
	assert.Equal(t, 1, h.sessions.signOutCalls, "cooldown signs the session out")
	assert.Contains(t, h.clock.sleeps, 2*time.Hour)
}

func TestController_RestBreakAfterWorkLimit(t *testing.T) {
	config := baseConfig()
	config.WorkLimit = 30 * time.Second // shorter than one poll interval
	config.WorkCooldown = 15 * time.Minute
	h := newHarness(t, config,
		cycleResult{}, // first cycle pushes the clock past the limit
		improved(),
	)

	require.NoError(t, h.ctrl.Run(h.ctx))

	breaks := 0
	for _, e := range h.sink.events {
		if _, ok := e.(notification.RestBreak); ok {
			breaks++
		}
	}
	assert.Equal(t, 1, breaks)
	assert.Equal(t, 1, h.sessions.signOutCalls)
	assert.Contains(t, h.clock.sleeps, 15*time.Minute)
}

func TestController_HonorsCancellation(t *testing.T) {
	h := newHarness(t, baseConfig(), improved())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.ctrl.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, engine.StateTerminated, h.ctrl.Stats().State)
	assert.Zero(t, h.runner.calls)
}

func TestController_ReturnsToIdleBetweenCycles(t *testing.T) {
	config := baseConfig()
	// A nonzero work limit makes the loop read the clock between cycles,
	// which is where the state is observed.
	config.WorkLimit = 24 * time.Hour
	h := newHarness(t, config, cycleResult{}, improved())

	var states []engine.State
	h.clock.onNow = func() { states = append(states, h.ctrl.Stats().State) }

	require.NoError(t, h.ctrl.Run(h.ctx))

	seenScan := false
	idleAfterScan := false
	for _, s := range states {
		if s == engine.StateScanning {
			seenScan = true
		}
		if seenScan && s == engine.StateIdle {
			idleAfterScan = true
		}
	}
	assert.True(t, seenScan)
	assert.True(t, idleAfterScan, "a clean cycle returns the loop to idle before the next wait")
}

func TestController_SlotLostIsCountedAndLoopContinues(t *testing.T) {
	h := newHarness(t, baseConfig(),
		cycleResult{outcome: domain.CycleOutcome{SlotLost: true}},
		improved(),
	)

	require.NoError(t, h.ctrl.Run(h.ctx))
	assert.Equal(t, uint64(1), h.ctrl.Stats().SlotsLost)
	assert.Equal(t, 2, h.runner.calls)
}
