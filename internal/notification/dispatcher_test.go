package notification_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmrobles/citawatch/internal/notification"
	"github.com/jmrobles/citawatch/internal/watch/domain"
	"github.com/jmrobles/citawatch/pkg/observability"
)

type recordingDispatcher struct {
	events []notification.Event
	err    error
	closed bool
}

func (d *recordingDispatcher) Notify(_ context.Context, event notification.Event) error {
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) Close() error {
	d.closed = true
	return nil
}

func TestMultiDispatcher_FansOut(t *testing.T) {
	first := &recordingDispatcher{}
	second := &recordingDispatcher{}
	metrics := observability.NewInMemoryMetrics()
	multi := notification.NewMultiDispatcher(nil, metrics, first, second)

	event := notification.NewFatalError("auth", "credentials rejected", time.Now())
	err := multi.Notify(context.Background(), event)

	require.NoError(t, err)
	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1)
	assert.Equal(t, int64(2), metrics.GetCounter(observability.MetricNotifications))
}

func TestMultiDispatcher_AbsorbsChannelFailure(t *testing.T) {
	failing := &recordingDispatcher{err: errors.New("network down")}
	working := &recordingDispatcher{}
	metrics := observability.NewInMemoryMetrics()
	multi := notification.NewMultiDispatcher(nil, metrics, failing, working)

	event := notification.NewRestBreak(time.Hour, 30*time.Minute, time.Now())
	err := multi.Notify(context.Background(), event)

	require.NoError(t, err, "a channel failure must never propagate")
	assert.Len(t, working.events, 1)
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricNotificationErrors))
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricNotifications))
}

func TestMultiDispatcher_CloseClosesAllChannels(t *testing.T) {
	first := &recordingDispatcher{}
	second := &recordingDispatcher{}
	multi := notification.NewMultiDispatcher(nil, nil, first, second)

	require.NoError(t, multi.Close())
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}

func TestNoopDispatcher_AcceptsEvents(t *testing.T) {
	noop := notification.NewNoopDispatcher(nil)

	event := notification.NewSuspectedBan("two consecutive empty scans", time.Hour, time.Now())
	require.NoError(t, noop.Notify(context.Background(), event))
	require.NoError(t, noop.Close())
}

func TestImprovedAppointment_Payload(t *testing.T) {
	consular, err := domain.NewSlot("2025-04-02", 25)
	require.NoError(t, err)
	cas, err := domain.NewSlot("2025-04-03", 26)
	require.NoError(t, err)

	event := notification.NewImprovedAppointment(consular.WithTime("09:30"), cas.WithTime("08:00"), time.Now())

	assert.Equal(t, notification.RoutingKeyImproved, event.RoutingKey())
	assert.Contains(t, event.Message(), "2025-04-02")
	assert.Contains(t, event.Message(), "2025-04-03")

	payload, err := event.Payload()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.NotEmpty(t, decoded["event_id"])
	assert.NotEmpty(t, decoded["occurred_at"])
	assert.NotNil(t, decoded["consular"])
	assert.NotNil(t, decoded["cas"])
}

func TestEvent_RoutingKeysAreDistinct(t *testing.T) {
	now := time.Now()
	keys := map[string]bool{}
	for _, event := range []notification.Event{
		notification.NewImprovedAppointment(domain.Slot{}, domain.Slot{}, now),
		notification.NewFatalError("auth", "rejected", now),
		notification.NewSuspectedBan("empty scans", time.Hour, now),
		notification.NewRestBreak(time.Hour, time.Hour, now),
	} {
		assert.False(t, keys[event.RoutingKey()], "duplicate routing key %q", event.RoutingKey())
		keys[event.RoutingKey()] = true
	}
}
