package domain_test

import (
	"testing"
	"time"

	"github.com/jmrobles/citawatch/internal/watch/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func appointmentOn(t *testing.T, apptType domain.AppointmentType, at time.Time) *domain.Appointment {
	t.Helper()
	appt, err := domain.NewAppointment(apptType, 25, at)
	require.NoError(t, err)
	return appt
}

func slots(facilityID int, dates ...time.Time) []domain.Slot {
	out := make([]domain.Slot, 0, len(dates))
	for _, d := range dates {
		out = append(out, domain.Slot{Date: d, FacilityID: facilityID})
	}
	return out
}

func TestPolicy_Evaluate_ExcludedAndLaterFilteredOut(t *testing.T) {
	// Current consular date 2025-05-10; candidates 2025-04-01 (excluded)
	// and 2025-05-20 (not earlier). Nothing survives.
	policy := domain.NewPolicy(domain.PolicyConfig{
		Excluded: []time.Time{date(2025, 4, 1)},
	})
	current := appointmentOn(t, domain.AppointmentConsular, date(2025, 5, 10))

	best := policy.Evaluate(current, slots(25, date(2025, 4, 1), date(2025, 5, 20)))

	assert.Nil(t, best)
}

func TestPolicy_Evaluate_MinDateBound(t *testing.T) {
	// Candidates 2025-03-15 and 2025-04-02 with MinDate 2025-04-01:
	// 04-02 is the earliest candidate at or after the bound.
	policy := domain.NewPolicy(domain.PolicyConfig{MinDate: date(2025, 4, 1)})
	current := appointmentOn(t, domain.AppointmentConsular, date(2025, 5, 10))

	best := policy.Evaluate(current, slots(25, date(2025, 3, 15), date(2025, 4, 2)))

	require.NotNil(t, best)
	assert.Equal(t, date(2025, 4, 2), best.Date)
}

func TestPolicy_EvaluateCAS_ConsularLowerBound(t *testing.T) {
	// Consular was moved to 2025-04-02 this cycle. CAS currently on
	// 2025-04-20; candidate 2025-04-01 precedes the new consular date and
	// must be rejected, leaving 2025-04-10.
	policy := domain.NewPolicy(domain.PolicyConfig{})
	current := appointmentOn(t, domain.AppointmentCAS, date(2025, 4, 20))

	best := policy.EvaluateCAS(current, date(2025, 4, 2), slots(26, date(2025, 4, 1), date(2025, 4, 10)))

	require.NotNil(t, best)
	assert.Equal(t, date(2025, 4, 10), best.Date)
}

func TestPolicy_Evaluate_EmptyCandidates(t *testing.T) {
	policy := domain.NewPolicy(domain.PolicyConfig{})
	current := appointmentOn(t, domain.AppointmentConsular, date(2025, 5, 10))

	assert.Nil(t, policy.Evaluate(current, nil))
	assert.Nil(t, policy.Evaluate(current, []domain.Slot{}))
}

func TestPolicy_Evaluate_NeverReturnsCurrentOrLater(t *testing.T) {
	policy := domain.NewPolicy(domain.PolicyConfig{})
	current := appointmentOn(t, domain.AppointmentConsular, date(2025, 5, 10))

	candidates := slots(25,
		date(2025, 5, 10), // same day: not an improvement
		date(2025, 5, 11),
		date(2026, 1, 1),
	)

	assert.Nil(t, policy.Evaluate(current, candidates))
}

func TestPolicy_Evaluate_MaxDateBound(t *testing.T) {
	policy := domain.NewPolicy(domain.PolicyConfig{
		MinDate: date(2025, 1, 1),
		MaxDate: date(2025, 3, 1),
	})
	current := appointmentOn(t, domain.AppointmentConsular, date(2025, 5, 10))

	best := policy.Evaluate(current, slots(25, date(2025, 3, 20), date(2025, 2, 10)))

	require.NotNil(t, best)
	assert.Equal(t, date(2025, 2, 10), best.Date)
}

func TestPolicy_Evaluate_PicksEarliestDate(t *testing.T) {
	policy := domain.NewPolicy(domain.PolicyConfig{})
	current := appointmentOn(t, domain.AppointmentConsular, date(2025, 5, 10))

	best := policy.Evaluate(current, slots(25, date(2025, 4, 20), date(2025, 4, 3), date(2025, 4, 15)))

	require.NotNil(t, best)
	assert.Equal(t, date(2025, 4, 3), best.Date)
}

func TestPolicy_Evaluate_Idempotent(t *testing.T) {
	policy := domain.NewPolicy(domain.PolicyConfig{MinDate: date(2025, 4, 1)})
	current := appointmentOn(t, domain.AppointmentConsular, date(2025, 5, 10))
	candidates := slots(25, date(2025, 4, 2), date(2025, 4, 9))

	first := policy.Evaluate(current, candidates)
	second := policy.Evaluate(current, candidates)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)
}

func TestPolicy_Evaluate_SameDayTimePreference(t *testing.T) {
	policy := domain.NewPolicy(domain.PolicyConfig{PreferredTime: "10:00"})
	current := appointmentOn(t, domain.AppointmentConsular, date(2025, 5, 10))

	candidates := []domain.Slot{
		{Date: date(2025, 4, 2), Time: "07:30", FacilityID: 25},
		{Date: date(2025, 4, 2), Time: "10:30", FacilityID: 25},
		{Date: date(2025, 4, 2), Time: "15:00", FacilityID: 25},
	}

	best := policy.Evaluate(current, candidates)
	require.NotNil(t, best)
	assert.Equal(t, "10:30", best.Time)
}

func TestPolicy_PickTime_ClosestToPreferred(t *testing.T) {
	policy := domain.NewPolicy(domain.PolicyConfig{PreferredTime: "10:00"})

	assert.Equal(t, "09:45", policy.PickTime([]string{"07:00", "09:45", "13:00"}))
}

func TestPolicy_PickTime_TieBreaksEarlier(t *testing.T) {
	policy := domain.NewPolicy(domain.PolicyConfig{PreferredTime: "10:00"})

	// 09:30 and 10:30 are equidistant; the earlier one wins.
	assert.Equal(t, "09:30", policy.PickTime([]string{"10:30", "09:30"}))
}

func TestPolicy_PickTime_Empty(t *testing.T) {
	policy := domain.NewPolicy(domain.PolicyConfig{PreferredTime: "10:00"})

	assert.Equal(t, "", policy.PickTime(nil))
}
