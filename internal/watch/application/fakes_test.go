package application_test

import (
	"context"
	"sync"
	"time"

	"github.com/jmrobles/citawatch/internal/history"
	"github.com/jmrobles/citawatch/internal/notification"
	"github.com/jmrobles/citawatch/internal/portal"
	"github.com/jmrobles/citawatch/internal/watch/domain"
)

// fakeClient scripts portal behavior for the application tests.
type fakeClient struct {
	mu sync.Mutex

	loginErrs  []error // consumed one per Login call; exhausted means success
	loginCalls int

	current time.Time

	dates    []domain.Slot
	datesErr error
	times    []string
	timesErr error

	casDates []domain.Slot
	casTimes []string

	submitErr error
	submitted []portal.SubmitRequest

	signOutCalls int
}

var _ portal.Client = (*fakeClient)(nil)

func (f *fakeClient) Login(ctx context.Context, creds portal.Credentials) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if len(f.loginErrs) > 0 {
		err := f.loginErrs[0]
		f.loginErrs = f.loginErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return domain.NewSession("session-token", time.Now(), time.Hour), nil
}

func (f *fakeClient) CurrentAppointment(ctx context.Context, sess *domain.Session) (time.Time, error) {
	return f.current, nil
}

func (f *fakeClient) ListDates(ctx context.Context, sess *domain.Session, facilityID int) ([]domain.Slot, error) {
	if f.datesErr != nil {
		return nil, f.datesErr
	}
	return f.dates, nil
}

func (f *fakeClient) ListTimes(ctx context.Context, sess *domain.Session, facilityID int, date string) ([]string, error) {
	if f.timesErr != nil {
		return nil, f.timesErr
	}
	return f.times, nil
}

func (f *fakeClient) ListCASDates(ctx context.Context, sess *domain.Session, facilityID int, anchor portal.ConsularAnchor) ([]domain.Slot, error) {
	return f.casDates, nil
}

func (f *fakeClient) ListCASTimes(ctx context.Context, sess *domain.Session, facilityID int, date string, anchor portal.ConsularAnchor) ([]string, error) {
	return f.casTimes, nil
}

func (f *fakeClient) Submit(ctx context.Context, sess *domain.Session, req portal.SubmitRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	return f.submitErr
}

func (f *fakeClient) SignOut(ctx context.Context, sess *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return nil
}

// recordingRepo captures saved attempts in memory.
type recordingRepo struct {
	saved []*history.Attempt
}

func (r *recordingRepo) Save(ctx context.Context, attempt *history.Attempt) error {
	r.saved = append(r.saved, attempt)
	return nil
}

func (r *recordingRepo) ListRecent(ctx context.Context, limit int) ([]*history.Attempt, error) {
	return r.saved, nil
}

func (r *recordingRepo) DeleteOld(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (r *recordingRepo) Close() error { return nil }

// capturingDispatcher captures notified events.
type capturingDispatcher struct {
	events []notification.Event
}

func (d *capturingDispatcher) Notify(ctx context.Context, event notification.Event) error {
	d.events = append(d.events, event)
	return nil
}

func (d *capturingDispatcher) Close() error { return nil }

func mustSlot(date string, facilityID int) domain.Slot {
	slot, err := domain.NewSlot(date, facilityID)
	if err != nil {
		panic(err)
	}
	return slot
}

func mustAppointment(apptType domain.AppointmentType, facilityID int, at time.Time) *domain.Appointment {
	appt, err := domain.NewAppointment(apptType, facilityID, at)
	if err != nil {
		panic(err)
	}
	return appt
}
