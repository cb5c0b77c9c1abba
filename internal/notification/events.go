// Package notification carries terminal engine events to the outside
// world. Delivery is fire-and-forget: a failed notification is logged and
// never affects scheduling correctness.
package notification

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmrobles/citawatch/internal/watch/domain"
)

// Routing keys for the AMQP channel.
const (
	RoutingKeyImproved     = "citawatch.appointment.improved"
	RoutingKeyFatalError   = "citawatch.run.fatal"
	RoutingKeySuspectedBan = "citawatch.run.suspected_ban"
	RoutingKeyRestBreak    = "citawatch.run.rest_break"
)

// Event is a terminal or noteworthy engine outcome.
type Event interface {
	// RoutingKey identifies the event kind on the wire.
	RoutingKey() string
	// Title is a short human-readable headline.
	Title() string
	// Message is the human-readable body.
	Message() string
	// Payload is the JSON body for machine consumers.
	Payload() ([]byte, error)
}

type eventMeta struct {
	EventID    uuid.UUID `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func newEventMeta(now time.Time) eventMeta {
	return eventMeta{EventID: uuid.New(), OccurredAt: now}
}

// ImprovedAppointment reports a confirmed reschedule.
type ImprovedAppointment struct {
	eventMeta
	Consular domain.Slot `json:"consular"`
	CAS      domain.Slot `json:"cas"`
}

// NewImprovedAppointment creates the event for a confirmed reschedule.
func NewImprovedAppointment(consular, cas domain.Slot, now time.Time) ImprovedAppointment {
	return ImprovedAppointment{eventMeta: newEventMeta(now), Consular: consular, CAS: cas}
}

func (e ImprovedAppointment) RoutingKey() string { return RoutingKeyImproved }
func (e ImprovedAppointment) Title() string      { return "Appointment rescheduled" }
func (e ImprovedAppointment) Message() string {
	return fmt.Sprintf("Consular appointment moved to %s, CAS appointment to %s", e.Consular, e.CAS)
}
func (e ImprovedAppointment) Payload() ([]byte, error) { return json.Marshal(e) }

// FatalError reports a condition that terminated the run.
type FatalError struct {
	eventMeta
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// NewFatalError creates the event for a run-terminating failure.
func NewFatalError(kind, reason string, now time.Time) FatalError {
	return FatalError{eventMeta: newEventMeta(now), Kind: kind, Reason: reason}
}

func (e FatalError) RoutingKey() string { return RoutingKeyFatalError }
func (e FatalError) Title() string      { return "Watcher stopped" }
func (e FatalError) Message() string {
	return fmt.Sprintf("Run terminated (%s): %s", e.Kind, e.Reason)
}
func (e FatalError) Payload() ([]byte, error) { return json.Marshal(e) }

// SuspectedBan reports that the portal looks like it is shadow-banning
// the account (consecutive empty date lists).
type SuspectedBan struct {
	eventMeta
	Reason   string        `json:"reason"`
	Cooldown time.Duration `json:"cooldown_ns"`
}

// NewSuspectedBan creates the event for a suspected ban.
func NewSuspectedBan(reason string, cooldown time.Duration, now time.Time) SuspectedBan {
	return SuspectedBan{eventMeta: newEventMeta(now), Reason: reason, Cooldown: cooldown}
}

func (e SuspectedBan) RoutingKey() string { return RoutingKeySuspectedBan }
func (e SuspectedBan) Title() string      { return "Suspected ban" }
func (e SuspectedBan) Message() string {
	return fmt.Sprintf("%s; cooling down for %s", e.Reason, e.Cooldown)
}
func (e SuspectedBan) Payload() ([]byte, error) { return json.Marshal(e) }

// RestBreak reports a planned pause after the continuous work limit.
type RestBreak struct {
	eventMeta
	Worked   time.Duration `json:"worked_ns"`
	Cooldown time.Duration `json:"cooldown_ns"`
}

// NewRestBreak creates the event for a work-limit pause.
func NewRestBreak(worked, cooldown time.Duration, now time.Time) RestBreak {
	return RestBreak{eventMeta: newEventMeta(now), Worked: worked, Cooldown: cooldown}
}

func (e RestBreak) RoutingKey() string { return RoutingKeyRestBreak }
func (e RestBreak) Title() string      { return "Rest break" }
func (e RestBreak) Message() string {
	return fmt.Sprintf("Pausing for %s after %s of continuous polling", e.Cooldown, e.Worked)
}
func (e RestBreak) Payload() ([]byte, error) { return json.Marshal(e) }
