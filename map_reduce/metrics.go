package map_reduce

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the counters the hosts job reports. A nil *Metrics records nothing.
type Metrics struct {
	lines        metric.Int64Counter
	pairs        metric.Int64Counter
	warnings     metric.Int64Counter
	associations metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("hostess")
	}

	m := &Metrics{}
	var err error

	m.lines, err = meter.Int64Counter(
		"hostess.lines",
		metric.WithDescription("Raw input lines examined"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create lines counter: %w", err)
	}

	m.pairs, err = meter.Int64Counter(
		"hostess.pairs",
		metric.WithDescription("Address/hostname occurrences emitted by the map phase"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pairs counter: %w", err)
	}

	m.warnings, err = meter.Int64Counter(
		"hostess.warnings",
		metric.WithDescription("Lines skipped with a diagnostic"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create warnings counter: %w", err)
	}

	m.associations, err = meter.Int64Counter(
		"hostess.associations",
		metric.WithDescription("Distinct associations written by the reduce phase"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create associations counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) line(pairs int) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.lines.Add(ctx, 1)
	if pairs > 0 {
		m.pairs.Add(ctx, int64(pairs))
	}
}

func (m *Metrics) warning(reason string) {
	if m == nil {
		return
	}
	m.warnings.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) association() {
	if m == nil {
		return
	}
	m.associations.Add(context.Background(), 1)
}
