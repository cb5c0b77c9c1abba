package domain

import (
	"errors"
	"time"
)

var (
	ErrUnknownAppointmentType = errors.New("unknown appointment type")
	ErrNoScheduledDate        = errors.New("appointment has no scheduled date")
)

// AppointmentType distinguishes the primary consular interview from the
// dependent CAS (biometrics/document submission) appointment.
type AppointmentType string

const (
	AppointmentConsular AppointmentType = "consular"
	AppointmentCAS      AppointmentType = "cas"
)

// AppointmentStatus tracks an appointment through a reschedule attempt.
type AppointmentStatus string

const (
	StatusActive            AppointmentStatus = "active"
	StatusPendingReschedule AppointmentStatus = "pending_reschedule"
	StatusRescheduled       AppointmentStatus = "rescheduled"
)

// Appointment is the booked appointment the watcher tries to improve.
// It is owned by the rescheduler for the duration of a run and mutated
// only on a confirmed submission.
type Appointment struct {
	apptType    AppointmentType
	facilityID  int
	scheduledAt time.Time
	status      AppointmentStatus
}

// NewAppointment creates an active appointment.
func NewAppointment(apptType AppointmentType, facilityID int, scheduledAt time.Time) (*Appointment, error) {
	switch apptType {
	case AppointmentConsular, AppointmentCAS:
	default:
		return nil, ErrUnknownAppointmentType
	}
	if scheduledAt.IsZero() {
		return nil, ErrNoScheduledDate
	}
	return &Appointment{
		apptType:    apptType,
		facilityID:  facilityID,
		scheduledAt: scheduledAt,
		status:      StatusActive,
	}, nil
}

// Getters
func (a *Appointment) Type() AppointmentType     { return a.apptType }
func (a *Appointment) FacilityID() int           { return a.facilityID }
func (a *Appointment) ScheduledAt() time.Time    { return a.scheduledAt }
func (a *Appointment) Status() AppointmentStatus { return a.status }

// Date returns the scheduled date truncated to midnight.
func (a *Appointment) Date() time.Time {
	y, m, d := a.scheduledAt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, a.scheduledAt.Location())
}

// MarkPending flags the appointment while a submission is in flight.
func (a *Appointment) MarkPending() {
	a.status = StatusPendingReschedule
}

// ClearPending restores the active status after a failed or lost submission.
func (a *Appointment) ClearPending() {
	a.status = StatusActive
}

// Reschedule moves the appointment to the confirmed slot. Call only after
// the portal confirmed the submission.
func (a *Appointment) Reschedule(slot Slot) {
	a.scheduledAt = slot.At()
	a.facilityID = slot.FacilityID
	a.status = StatusRescheduled
}
