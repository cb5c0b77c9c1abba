package domain

// CycleOutcome is the result of one scan-decide-submit cycle.
type CycleOutcome struct {
	// Improved is true when a reschedule was confirmed this cycle.
	Improved bool
	// NewConsular and NewCAS carry the confirmed slots when Improved.
	NewConsular *Slot
	NewCAS      *Slot
	// EmptyScan is true when the portal returned no consular dates at
	// all, which feeds the suspected-ban counter.
	EmptyScan bool
	// SlotLost is true when the submission raced with another applicant
	// and lost. Benign; the next cycle retries.
	SlotLost bool
}
