package domain

import (
	"time"
)

// PolicyConfig is the immutable per-run policy configuration.
type PolicyConfig struct {
	// MinDate is the earliest acceptable date (zero means no lower bound).
	MinDate time.Time
	// MaxDate is the latest acceptable date (zero means no upper bound).
	MaxDate time.Time
	// Excluded dates are never acceptable.
	Excluded []time.Time
	// PreferredTime ("HH:MM") steers time-of-day selection on the chosen
	// date. Empty means earliest time wins.
	PreferredTime string
}

// Policy decides whether a discovered slot improves on the current
// appointment. Evaluation is a pure function of its inputs.
type Policy struct {
	cfg      PolicyConfig
	excluded map[string]struct{}
}

// NewPolicy creates a policy from the given configuration.
func NewPolicy(cfg PolicyConfig) *Policy {
	excluded := make(map[string]struct{}, len(cfg.Excluded))
	for _, d := range cfg.Excluded {
		excluded[d.Format(DateFormat)] = struct{}{}
	}
	return &Policy{cfg: cfg, excluded: excluded}
}

// Evaluate returns the best acceptable slot for the current appointment,
// or nil when no candidate survives filtering. A nil result is the normal,
// frequent outcome, not an error.
func (p *Policy) Evaluate(current *Appointment, candidates []Slot) *Slot {
	return p.pick(current, candidates, time.Time{})
}

// EvaluateCAS is Evaluate with the additional constraint that the CAS slot
// must not precede the consular appointment date. Pass the consular date
// as updated this cycle, not the one the run started with.
func (p *Policy) EvaluateCAS(current *Appointment, consularDate time.Time, candidates []Slot) *Slot {
	return p.pick(current, candidates, consularDate)
}

func (p *Policy) pick(current *Appointment, candidates []Slot, lowerBound time.Time) *Slot {
	var best *Slot
	for _, slot := range candidates {
		if !p.acceptable(current, slot, lowerBound) {
			continue
		}
		if best == nil || p.better(slot, *best) {
			s := slot
			best = &s
		}
	}
	return best
}

func (p *Policy) acceptable(current *Appointment, slot Slot, lowerBound time.Time) bool {
	// Must be strictly earlier than the current appointment date.
	if !slot.Date.Before(current.Date()) {
		return false
	}
	if !p.cfg.MinDate.IsZero() && slot.Date.Before(p.cfg.MinDate) {
		return false
	}
	if !p.cfg.MaxDate.IsZero() && slot.Date.After(p.cfg.MaxDate) {
		return false
	}
	if _, ok := p.excluded[slot.DateString()]; ok {
		return false
	}
	if !lowerBound.IsZero() && slot.Date.Before(lowerBound) {
		return false
	}
	return true
}

// better reports whether a should be chosen over b: earliest date first,
// then the time of day closest to the preferred time, earlier on ties.
func (p *Policy) better(a, b Slot) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if a.Time == "" || b.Time == "" {
		return a.Time != "" // a slot with a known time beats a bare date
	}
	da, db := p.distanceToPreferred(a.Time), p.distanceToPreferred(b.Time)
	if da != db {
		return da < db
	}
	return a.Time < b.Time
}

// PickTime chooses the time of day closest to the preferred time from the
// available times for a date. Returns "" when none are available.
func (p *Policy) PickTime(times []string) string {
	best := ""
	var bestDist time.Duration
	for _, t := range times {
		if _, err := time.Parse(TimeFormat, t); err != nil {
			continue
		}
		d := p.distanceToPreferred(t)
		if best == "" || d < bestDist || (d == bestDist && t < best) {
			best = t
			bestDist = d
		}
	}
	return best
}

func (p *Policy) distanceToPreferred(t string) time.Duration {
	preferred := p.cfg.PreferredTime
	if preferred == "" {
		preferred = "00:00"
	}
	pt, err := time.Parse(TimeFormat, preferred)
	if err != nil {
		pt = time.Time{}
	}
	ct, err := time.Parse(TimeFormat, t)
	if err != nil {
		return 0
	}
	d := ct.Sub(pt)
	if d < 0 {
		d = -d
	}
	return d
}
