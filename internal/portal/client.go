// Package portal defines the boundary to the appointment portal: the
// client capability the watch engine consumes, the error taxonomy it
// reasons about, and the concrete HTTP implementation.
package portal

import (
	"context"
	"errors"
	"time"

	"github.com/jmrobles/citawatch/internal/watch/domain"
)

// Error taxonomy. The engine only ever classifies portal failures through
// these sentinels (wrapped or not); everything else is treated as a
// transient network error.
var (
	// ErrAuth means the portal rejected the credentials (or presented a
	// CAPTCHA / locked the account). Fatal for the run.
	ErrAuth = errors.New("portal: authentication rejected")

	// ErrSessionExpired means the session cookie is no longer accepted.
	// Recoverable through a fresh login.
	ErrSessionExpired = errors.New("portal: session expired")

	// ErrRateLimited means the portal is throttling or blocking us.
	// Retryable, but the engine must escalate its delay sharply.
	ErrRateLimited = errors.New("portal: rate limited")

	// ErrSlotTaken means the submission raced another applicant and lost.
	// Benign; the slot simply no longer exists.
	ErrSlotTaken = errors.New("portal: slot no longer available")
)

// IsFatal reports whether the error terminates the run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsRetryable reports whether the error should feed the backoff path.
// Benign conditions (slot taken) and fatal ones are not retryable.
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) || errors.Is(err, ErrSlotTaken) {
		return false
	}
	return true
}

// Credentials identify the portal account.
type Credentials struct {
	Username string
	Password string
}

// ConsularAnchor carries the consular selection the CAS endpoints require
// as query context.
type ConsularAnchor struct {
	FacilityID int
	Date       string // YYYY-MM-DD
	Time       string // HH:MM
}

// Selection is one appointment choice inside a submission.
type Selection struct {
	FacilityID int
	Date       string // YYYY-MM-DD
	Time       string // HH:MM
}

// SubmitRequest reschedules both linked appointments in a single
// transaction, the only form the portal accepts.
type SubmitRequest struct {
	Consular Selection
	CAS      Selection
}

// Client is the portal capability the engine consumes. Implementations
// must honor the context deadline on every call. Scanning calls are
// read-only and never mutate portal state.
type Client interface {
	// Login authenticates and returns a fresh session.
	Login(ctx context.Context, creds Credentials) (*domain.Session, error)

	// CurrentAppointment fetches the currently booked consular
	// appointment time, used at startup instead of trusting prior state.
	CurrentAppointment(ctx context.Context, sess *domain.Session) (time.Time, error)

	// ListDates returns the open dates for the consular facility in
	// ascending order. An empty result is valid, not an error.
	ListDates(ctx context.Context, sess *domain.Session, facilityID int) ([]domain.Slot, error)

	// ListTimes returns the open times ("HH:MM") for a consular date.
	ListTimes(ctx context.Context, sess *domain.Session, facilityID int, date string) ([]string, error)

	// ListCASDates returns open CAS dates anchored on a consular choice.
	ListCASDates(ctx context.Context, sess *domain.Session, facilityID int, anchor ConsularAnchor) ([]domain.Slot, error)

	// ListCASTimes returns open CAS times for a CAS date.
	ListCASTimes(ctx context.Context, sess *domain.Session, facilityID int, date string, anchor ConsularAnchor) ([]string, error)

	// Submit posts the reschedule. A nil error means the portal confirmed.
	Submit(ctx context.Context, sess *domain.Session, req SubmitRequest) error

	// SignOut ends the session on the portal side. Used before cooldowns.
	SignOut(ctx context.Context, sess *domain.Session) error
}
