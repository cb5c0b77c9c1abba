package portal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmrobles/citawatch/internal/portal"
	"github.com/jmrobles/citawatch/internal/watch/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient is a test double for portal.Client.
type stubClient struct {
	listDates func() ([]domain.Slot, error)
	submit    func() error
	calls     int
}

func (s *stubClient) Login(ctx context.Context, creds portal.Credentials) (*domain.Session, error) {
	return domain.NewSession("stub", time.Now(), time.Hour), nil
}

func (s *stubClient) CurrentAppointment(ctx context.Context, sess *domain.Session) (time.Time, error) {
	return time.Time{}, nil
}

func (s *stubClient) ListDates(ctx context.Context, sess *domain.Session, facilityID int) ([]domain.Slot, error) {
	s.calls++
	if s.listDates != nil {
		return s.listDates()
	}
	return nil, nil
}

func (s *stubClient) ListTimes(ctx context.Context, sess *domain.Session, facilityID int, date string) ([]string, error) {
	return nil, nil
}

func (s *stubClient) ListCASDates(ctx context.Context, sess *domain.Session, facilityID int, anchor portal.ConsularAnchor) ([]domain.Slot, error) {
	return nil, nil
}

func (s *stubClient) ListCASTimes(ctx context.Context, sess *domain.Session, facilityID int, date string, anchor portal.ConsularAnchor) ([]string, error) {
	return nil, nil
}

func (s *stubClient) Submit(ctx context.Context, sess *domain.Session, req portal.SubmitRequest) error {
	if s.submit != nil {
		return s.submit()
	}
	return nil
}

func (s *stubClient) SignOut(ctx context.Context, sess *domain.Session) error {
	return nil
}

func breakerConfig(threshold uint32) portal.BreakerConfig {
	return portal.BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: threshold,
	}
}

func TestBreakerClient_PassesThroughSuccess(t *testing.T) {
	stub := &stubClient{
		listDates: func() ([]domain.Slot, error) {
			slot, _ := domain.NewSlot("2025-04-02", 25)
			return []domain.Slot{slot}, nil
		},
	}
	client := portal.NewBreakerClient(stub, breakerConfig(3), nil)

	slots, err := client.ListDates(context.Background(), nil, 25)

	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "2025-04-02", slots[0].DateString())
}

func TestBreakerClient_TripsAfterConsecutiveFailures(t *testing.T) {
	transient := errors.New("connection reset")
	stub := &stubClient{
		listDates: func() ([]domain.Slot, error) { return nil, transient },
	}
	client := portal.NewBreakerClient(stub, breakerConfig(3), nil)

	for i := 0; i < 3; i++ {
		_, err := client.ListDates(context.Background(), nil, 25)
		assert.ErrorIs(t, err, transient)
	}

	// Breaker is now open: the inner client is no longer reached and the
	// failure surfaces as a rate-limit signal.
	callsBefore := stub.calls
	_, err := client.ListDates(context.Background(), nil, 25)
	assert.ErrorIs(t, err, portal.ErrRateLimited)
	assert.Equal(t, callsBefore, stub.calls)
}

func TestBreakerClient_SlotTakenDoesNotTrip(t *testing.T) {
	stub := &stubClient{
		submit: func() error { return portal.ErrSlotTaken },
	}
	client := portal.NewBreakerClient(stub, breakerConfig(2), nil)

	for i := 0; i < 5; i++ {
		err := client.Submit(context.Background(), nil, portal.SubmitRequest{})
		assert.ErrorIs(t, err, portal.ErrSlotTaken)
	}
}

func TestBreakerClient_AuthErrorDoesNotTrip(t *testing.T) {
	stub := &stubClient{
		listDates: func() ([]domain.Slot, error) { return nil, portal.ErrAuth },
	}
	client := portal.NewBreakerClient(stub, breakerConfig(2), nil)

	for i := 0; i < 4; i++ {
		_, err := client.ListDates(context.Background(), nil, 25)
		// Fatal errors pass through untouched instead of mutating into a
		// retryable rate-limit signal.
		assert.ErrorIs(t, err, portal.ErrAuth)
	}
}

var _ portal.Client = (*portal.BreakerClient)(nil)
var _ portal.Client = (*stubClient)(nil)
