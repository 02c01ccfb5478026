// Scheduler instrumentation through the OpenTelemetry metric API. The
// counters are no-ops unless the host application installs a global
// MeterProvider; picking an exporter is the host's concern.
package flowgo

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/xinjiayu/flowgo"

type schedulerMetrics struct {
	submitted metric.Int64Counter
	completed metric.Int64Counter
	rejected  metric.Int64Counter
	attrs     metric.MeasurementOption
}

func newSchedulerMetrics(schedulerKind string) *schedulerMetrics {
	meter := otel.Meter(instrumentationName)

	submitted, _ := meter.Int64Counter("flowgo.scheduler.tasks.submitted",
		metric.WithDescription("Tasks accepted into a worker queue"))
	completed, _ := meter.Int64Counter("flowgo.scheduler.tasks.completed",
		metric.WithDescription("Tasks that finished running"))
	rejected, _ := meter.Int64Counter("flowgo.scheduler.tasks.rejected",
		metric.WithDescription("Tasks rejected due to saturation or shutdown"))

	return &schedulerMetrics{
		submitted: submitted,
		completed: completed,
		rejected:  rejected,
		attrs:     metric.WithAttributes(attribute.String("scheduler", schedulerKind)),
	}
}

func (m *schedulerMetrics) taskSubmitted() {
	m.submitted.Add(context.Background(), 1, m.attrs)
}

func (m *schedulerMetrics) taskCompleted() {
	m.completed.Add(context.Background(), 1, m.attrs)
}

func (m *schedulerMetrics) taskRejected() {
	m.rejected.Add(context.Background(), 1, m.attrs)
}
