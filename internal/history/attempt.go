// Package history persists an audit log of reschedule attempts so a run's
// activity survives restarts and can be inspected from the CLI.
package history

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmrobles/citawatch/internal/watch/domain"
)

// Attempt captures one reschedule outcome for auditing.
type Attempt struct {
	ID            uuid.UUID
	RunID         uuid.UUID
	Type          domain.AppointmentType
	OldStart      time.Time
	NewStart      *time.Time
	Success       bool
	FailureReason string
	AttemptedAt   time.Time
}

// NewAttempt creates an attempt record for the given appointment move.
func NewAttempt(runID uuid.UUID, apptType domain.AppointmentType, oldStart time.Time, attemptedAt time.Time) *Attempt {
	return &Attempt{
		ID:          uuid.New(),
		RunID:       runID,
		Type:        apptType,
		OldStart:    oldStart,
		AttemptedAt: attemptedAt,
	}
}

// Succeeded marks the attempt confirmed with the new start time.
func (a *Attempt) Succeeded(newStart time.Time) *Attempt {
	a.Success = true
	a.NewStart = &newStart
	return a
}

// Failed marks the attempt unsuccessful with the given reason.
func (a *Attempt) Failed(reason string) *Attempt {
	a.Success = false
	a.FailureReason = reason
	return a
}
