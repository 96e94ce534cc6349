package circulation

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	created    metric.Int64Counter
	returned   metric.Int64Counter
	rejections metric.Int64Counter
	fines      metric.Float64Counter
}

func newMetrics(meter metric.Meter, logger *slog.Logger) *metrics {
	var fallback noop.Meter
	m := &metrics{}
	var err error

	if m.created, err = meter.Int64Counter("lendinghub.loans.created",
		metric.WithDescription("Loans opened")); err != nil {
		logger.Warn("loans.created counter unavailable", "error", err)
		m.created, _ = fallback.Int64Counter("lendinghub.loans.created")
	}
	if m.returned, err = meter.Int64Counter("lendinghub.loans.returned",
		metric.WithDescription("Loans closed by a return")); err != nil {
		logger.Warn("loans.returned counter unavailable", "error", err)
		m.returned, _ = fallback.Int64Counter("lendinghub.loans.returned")
	}
	if m.rejections, err = meter.Int64Counter("lendinghub.loans.rejected",
		metric.WithDescription("Borrow requests refused by a lending rule")); err != nil {
		logger.Warn("loans.rejected counter unavailable", "error", err)
		m.rejections, _ = fallback.Int64Counter("lendinghub.loans.rejected")
	}
	if m.fines, err = meter.Float64Counter("lendinghub.fines.charged",
		metric.WithDescription("Late fines charged on return")); err != nil {
		logger.Warn("fines.charged counter unavailable", "error", err)
		m.fines, _ = fallback.Float64Counter("lendinghub.fines.charged")
	}
	return m
}
