// Package domain holds the appointment-watching domain model: appointments,
// slots, sessions, and the scheduling policy that decides whether a
// discovered slot is an improvement.
package domain

import (
	"fmt"
	"time"
)

// TimeFormat is the wire format for slot times.
const TimeFormat = "15:04"

// DateFormat is the wire format for slot dates.
const DateFormat = "2006-01-02"

// Slot is a discovered (date, time) pair currently bookable for a facility.
// Slots are ephemeral: they are only meaningful within the cycle that
// fetched them, since portal state can change between fetch and submit.
type Slot struct {
	Date       time.Time // normalized to midnight UTC
	Time       string    // "HH:MM"; empty until times are fetched for the date
	FacilityID int
}

// NewSlot creates a slot for the given date string and facility.
func NewSlot(date string, facilityID int) (Slot, error) {
	parsed, err := time.Parse(DateFormat, date)
	if err != nil {
		return Slot{}, fmt.Errorf("invalid slot date %q: %w", date, err)
	}
	return Slot{Date: parsed, FacilityID: facilityID}, nil
}

// WithTime returns a copy of the slot carrying the given time of day.
func (s Slot) WithTime(t string) Slot {
	s.Time = t
	return s
}

// At returns the full timestamp of the slot. Slots without a time resolve
// to midnight.
func (s Slot) At() time.Time {
	if s.Time == "" {
		return s.Date
	}
	t, err := time.Parse(TimeFormat, s.Time)
	if err != nil {
		return s.Date
	}
	return s.Date.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
}

// Before reports whether this slot's date is strictly before the other's.
func (s Slot) Before(other Slot) bool {
	return s.Date.Before(other.Date)
}

// DateString returns the slot date in portal wire format.
func (s Slot) DateString() string {
	return s.Date.Format(DateFormat)
}

func (s Slot) String() string {
	if s.Time == "" {
		return s.DateString()
	}
	return s.DateString() + " " + s.Time
}
