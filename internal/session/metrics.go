package session

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	recordings    metric.Int64Counter
	submissions   metric.Int64Counter
	submitLatency metric.Float64Histogram
	augmentations metric.Int64Counter
	pendingBytes  metric.Int64ObservableGauge
	registration  metric.Registration
}

func newMetrics(meter metric.Meter, s *Store, logger *slog.Logger) *metrics {
	m := &metrics{}
	var err error
	if m.recordings, err = meter.Int64Counter("coach.capture.recordings",
		metric.WithDescription("Capture sessions by outcome")); err != nil {
		logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if m.submissions, err = meter.Int64Counter("coach.submissions",
		metric.WithDescription("Primary analysis submissions by outcome")); err != nil {
		logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if m.submitLatency, err = meter.Float64Histogram("coach.submission.duration",
		metric.WithDescription("Primary analysis latency"), metric.WithUnit("s")); err != nil {
		logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if m.augmentations, err = meter.Int64Counter("coach.recommendations",
		metric.WithDescription("Recommendation fetches by outcome")); err != nil {
		logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if m.pendingBytes, err = meter.Int64ObservableGauge("coach.input.pending_bytes",
		metric.WithDescription("Size of the pending audio input"), metric.WithUnit("By")); err != nil {
		logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return m
	}
	m.registration, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		var size int64
		if p := s.resolver.Current(); p != nil {
			size = int64(p.Artifact.Size())
		}
		obs.ObserveInt64(m.pendingBytes, size)
		return nil
	}, m.pendingBytes)
	if err != nil {
		logger.Warn("failed to register metrics callback", slog.String("error", err.Error()))
	}
	return m
}

func (m *metrics) recording(outcome string) {
	if m.recordings != nil {
		m.recordings.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m *metrics) submission(outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if m.submissions != nil {
		m.submissions.Add(context.Background(), 1, attrs)
	}
	if m.submitLatency != nil {
		m.submitLatency.Record(context.Background(), elapsed.Seconds(), attrs)
	}
}

func (m *metrics) augmentation(outcome string) {
	if m.augmentations != nil {
		m.augmentations.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m *metrics) close() {
	if m.registration != nil {
		_ = m.registration.Unregister()
	}
}
