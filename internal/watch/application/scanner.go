package application

import (
	"context"
	"log/slog"

	"github.com/jmrobles/citawatch/internal/portal"
	"github.com/jmrobles/citawatch/internal/watch/domain"
	"github.com/jmrobles/citawatch/pkg/observability"
)

// SlotScanner reads open slots from the portal. Scanning is read-only and
// an empty result is a valid, frequent outcome.
type SlotScanner struct {
	client  portal.Client
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewSlotScanner creates a scanner over the given portal client.
func NewSlotScanner(client portal.Client, logger *slog.Logger, metrics observability.Metrics) *SlotScanner {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &SlotScanner{client: client, logger: logger, metrics: metrics}
}

// Scan returns the open consular dates for the facility, ascending.
func (s *SlotScanner) Scan(ctx context.Context, sess *domain.Session, facilityID int) ([]domain.Slot, error) {
	ctx = observability.WithOperation(ctx, "scan_dates")
	slots, err := s.client.ListDates(ctx, sess, facilityID)
	if err != nil {
		return nil, err
	}
	s.observe(ctx, string(domain.AppointmentConsular), slots)
	return slots, nil
}

// Times returns the open times for a consular date.
func (s *SlotScanner) Times(ctx context.Context, sess *domain.Session, facilityID int, date string) ([]string, error) {
	ctx = observability.WithOperation(ctx, "scan_times")
	return s.client.ListTimes(ctx, sess, facilityID, date)
}

// ScanCAS returns the open CAS dates anchored on a consular selection.
func (s *SlotScanner) ScanCAS(ctx context.Context, sess *domain.Session, facilityID int, anchor portal.ConsularAnchor) ([]domain.Slot, error) {
	ctx = observability.WithOperation(ctx, "scan_cas_dates")
	slots, err := s.client.ListCASDates(ctx, sess, facilityID, anchor)
	if err != nil {
		return nil, err
	}
	s.observe(ctx, string(domain.AppointmentCAS), slots)
	return slots, nil
}

// CASTimes returns the open CAS times for a CAS date.
func (s *SlotScanner) CASTimes(ctx context.Context, sess *domain.Session, facilityID int, date string, anchor portal.ConsularAnchor) ([]string, error) {
	ctx = observability.WithOperation(ctx, "scan_cas_times")
	return s.client.ListCASTimes(ctx, sess, facilityID, date, anchor)
}

func (s *SlotScanner) observe(ctx context.Context, kind string, slots []domain.Slot) {
	tag := observability.T("type", kind)
	s.metrics.Counter(observability.MetricScansTotal, 1, tag)
	s.metrics.Gauge(observability.MetricScanDates, float64(len(slots)), tag)
	if len(slots) == 0 {
		s.metrics.Counter(observability.MetricScansEmpty, 1, tag)
		s.logger.DebugContext(ctx, "scan returned no dates", "type", kind)
		return
	}
	s.logger.DebugContext(ctx, "scan returned dates",
		"type", kind,
		"count", len(slots),
		"earliest", slots[0].DateString(),
	)
}
