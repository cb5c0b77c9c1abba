package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jmrobles/citawatch/internal/history"
	"github.com/jmrobles/citawatch/internal/notification"
	"github.com/jmrobles/citawatch/internal/portal"
	"github.com/jmrobles/citawatch/internal/watch/domain"
	"github.com/jmrobles/citawatch/pkg/observability"
)

// Rescheduler runs one scan-decide-submit cycle at a time. It owns the
// appointment entities for the duration of a run and mutates them only on
// a portal-confirmed submission.
type Rescheduler struct {
	sessions    *SessionManager
	scanner     *SlotScanner
	policy      *domain.Policy
	client      portal.Client
	consular    *domain.Appointment
	cas         *domain.Appointment
	casFacility int
	attempts    history.Repository
	dispatcher  notification.Dispatcher
	runID       uuid.UUID
	logger      *slog.Logger
	metrics     observability.Metrics
	now         func() time.Time
}

// ReschedulerDeps carries the rescheduler's collaborators.
type ReschedulerDeps struct {
	Sessions *SessionManager
	Scanner  *SlotScanner
	Policy   *domain.Policy
	Client   portal.Client
	Consular *domain.Appointment
	// CAS is nil for facilities with no separate CAS appointment.
	CAS         *domain.Appointment
	CASFacility int
	Attempts    history.Repository
	Dispatcher  notification.Dispatcher
	RunID       uuid.UUID
	Logger      *slog.Logger
	Metrics     observability.Metrics
}

// NewRescheduler creates a rescheduler for one run.
func NewRescheduler(deps ReschedulerDeps) *Rescheduler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NoopMetrics{}
	}
	if deps.Attempts == nil {
		deps.Attempts = history.NoopRepository{}
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = notification.NewNoopDispatcher(deps.Logger)
	}
	if deps.RunID == uuid.Nil {
		deps.RunID = uuid.New()
	}
	return &Rescheduler{
		sessions:    deps.Sessions,
		scanner:     deps.Scanner,
		policy:      deps.Policy,
		client:      deps.Client,
		consular:    deps.Consular,
		cas:         deps.CAS,
		casFacility: deps.CASFacility,
		attempts:    deps.Attempts,
		dispatcher:  deps.Dispatcher,
		runID:       deps.RunID,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		now:         time.Now,
	}
}

// Consular returns the consular appointment the run is improving.
func (r *Rescheduler) Consular() *domain.Appointment { return r.consular }

// CAS returns the dependent CAS appointment, or nil.
func (r *Rescheduler) CAS() *domain.Appointment { return r.cas }

// RunID identifies this run in the attempt history.
func (r *Rescheduler) RunID() uuid.UUID { return r.runID }

// RunCycle executes one cycle: ensure session, scan consular dates, apply
// the policy, resolve the dependent CAS slot, and submit both in a single
// transaction. Appointments mutate only after the portal confirms.
func (r *Rescheduler) RunCycle(ctx context.Context) (outcome domain.CycleOutcome, err error) {
	timer := observability.StartTimer("cycle").WithLogger(r.logger)
	defer func() {
		// A 401 on any call in the cycle means the portal dropped the
		// session; discard it so the next cycle logs in fresh.
		if errors.Is(err, portal.ErrSessionExpired) {
			r.sessions.Invalidate()
		}
		timer.StopWithError(err)
	}()

	sess, err := r.sessions.EnsureValid(ctx)
	if err != nil {
		return domain.CycleOutcome{}, err
	}

	dates, err := r.scanner.Scan(ctx, sess, r.consular.FacilityID())
	if err != nil {
		return domain.CycleOutcome{}, err
	}
	if len(dates) == 0 {
		return domain.CycleOutcome{EmptyScan: true}, nil
	}

	best := r.policy.Evaluate(r.consular, dates)
	if best == nil {
		r.logger.DebugContext(ctx, "no acceptable consular slot",
			"dates", len(dates),
			"current", r.consular.Date().Format(domain.DateFormat),
		)
		return domain.CycleOutcome{}, nil
	}

	consularSlot, ok, err := r.resolveTime(ctx, sess, *best)
	if err != nil {
		return domain.CycleOutcome{}, err
	}
	if !ok {
		// The date vanished between the two fetches. Benign.
		return domain.CycleOutcome{}, nil
	}

	casSlot, ok, err := r.resolveCAS(ctx, sess, consularSlot)
	if err != nil {
		return domain.CycleOutcome{}, err
	}
	if !ok {
		r.logger.InfoContext(ctx, "consular slot found but no acceptable cas slot, skipping",
			"consular", consularSlot.String(),
		)
		return domain.CycleOutcome{}, nil
	}

	return r.submit(ctx, sess, consularSlot, casSlot)
}

// resolveTime fetches the times for the chosen date and picks one. ok is
// false when the date no longer has open times.
func (r *Rescheduler) resolveTime(ctx context.Context, sess *domain.Session, slot domain.Slot) (domain.Slot, bool, error) {
	times, err := r.scanner.Times(ctx, sess, slot.FacilityID, slot.DateString())
	if err != nil {
		return domain.Slot{}, false, err
	}
	picked := r.policy.PickTime(times)
	if picked == "" {
		return domain.Slot{}, false, nil
	}
	return slot.WithTime(picked), true, nil
}

// resolveCAS picks the dependent CAS slot anchored on the accepted
// consular slot. ok is false when the CAS side cannot be satisfied this
// cycle. A nil CAS appointment returns an empty slot with ok true.
func (r *Rescheduler) resolveCAS(ctx context.Context, sess *domain.Session, consularSlot domain.Slot) (*domain.Slot, bool, error) {
	if r.cas == nil {
		return nil, true, nil
	}

	anchor := portal.ConsularAnchor{
		FacilityID: consularSlot.FacilityID,
		Date:       consularSlot.DateString(),
		Time:       consularSlot.Time,
	}

	dates, err := r.scanner.ScanCAS(ctx, sess, r.casFacility, anchor)
	if err != nil {
		return nil, false, err
	}

	best := r.policy.EvaluateCAS(r.cas, consularSlot.Date, dates)
	if best == nil {
		return nil, false, nil
	}

	times, err := r.scanner.CASTimes(ctx, sess, r.casFacility, best.DateString(), anchor)
	if err != nil {
		return nil, false, err
	}
	picked := r.policy.PickTime(times)
	if picked == "" {
		return nil, false, nil
	}
	slot := best.WithTime(picked)
	return &slot, true, nil
}

func (r *Rescheduler) submit(ctx context.Context, sess *domain.Session, consularSlot domain.Slot, casSlot *domain.Slot) (domain.CycleOutcome, error) {
	ctx = observability.WithOperation(ctx, "submit")
	req := portal.SubmitRequest{
		Consular: portal.Selection{
			FacilityID: consularSlot.FacilityID,
			Date:       consularSlot.DateString(),
			Time:       consularSlot.Time,
		},
	}
	if casSlot != nil {
		req.CAS = portal.Selection{
			FacilityID: casSlot.FacilityID,
			Date:       casSlot.DateString(),
			Time:       casSlot.Time,
		}
	}

	r.consular.MarkPending()
	if r.cas != nil {
		r.cas.MarkPending()
	}

	attempt := history.NewAttempt(r.runID, domain.AppointmentConsular, r.consular.ScheduledAt(), r.now())
	r.metrics.Counter(observability.MetricSubmissions, 1)

	err := r.client.Submit(ctx, sess, req)
	switch {
	case errors.Is(err, portal.ErrSlotTaken):
		r.consular.ClearPending()
		if r.cas != nil {
			r.cas.ClearPending()
		}
		r.metrics.Counter(observability.MetricSubmissionsLost, 1)
		r.logger.InfoContext(ctx, "slot taken by another applicant", "slot", consularSlot.String())
		r.record(ctx, attempt.Failed("slot no longer available"))
		return domain.CycleOutcome{SlotLost: true}, nil

	case err != nil:
		r.consular.ClearPending()
		if r.cas != nil {
			r.cas.ClearPending()
		}
		r.record(ctx, attempt.Failed(err.Error()))
		return domain.CycleOutcome{}, err
	}

	// Confirmed. Mutate state, then audit and notify.
	oldCAS := time.Time{}
	if r.cas != nil {
		oldCAS = r.cas.ScheduledAt()
	}
	r.consular.Reschedule(consularSlot)
	r.record(ctx, attempt.Succeeded(r.consular.ScheduledAt()))
	if r.cas != nil && casSlot != nil {
		casAttempt := history.NewAttempt(r.runID, domain.AppointmentCAS, oldCAS, r.now())
		r.cas.Reschedule(*casSlot)
		r.record(ctx, casAttempt.Succeeded(r.cas.ScheduledAt()))
	}

	r.metrics.Counter(observability.MetricCyclesImproved, 1)
	r.logger.InfoContext(ctx, "reschedule confirmed",
		"consular", consularSlot.String(),
		"cas", casSlot,
	)

	outcome := domain.CycleOutcome{Improved: true, NewConsular: &consularSlot, NewCAS: casSlot}
	notifyCAS := domain.Slot{}
	if casSlot != nil {
		notifyCAS = *casSlot
	}
	_ = r.dispatcher.Notify(ctx, notification.NewImprovedAppointment(consularSlot, notifyCAS, r.now()))
	return outcome, nil
}

// record writes an attempt to the audit log. History failures never affect
// the cycle outcome.
func (r *Rescheduler) record(ctx context.Context, attempt *history.Attempt) {
	if err := r.attempts.Save(ctx, attempt); err != nil {
		r.logger.WarnContext(ctx, "failed to record reschedule attempt", "error", err)
	}
}
