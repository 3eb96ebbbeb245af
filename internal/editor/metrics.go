package editor

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type serviceMetrics struct {
	editApplied metric.Int64Counter
	editLocked  metric.Int64Counter
	editDenied  metric.Int64Counter
	chat        metric.Int64Counter
	runJobs     metric.Int64Counter
}

func newServiceMetrics(logger pslog.Logger) *serviceMetrics {
	meter := otel.Meter("pkt.systems/coedit/editor")
	m := &serviceMetrics{}
	var err error

	m.editApplied, err = meter.Int64Counter(
		"coedit.edit.applied",
		metric.WithDescription("Accepted edits written to the workspace"),
	)
	logMetricInitError(logger, "coedit.edit.applied", err)

	m.editLocked, err = meter.Int64Counter(
		"coedit.edit.locked",
		metric.WithDescription("Edits rejected because another user holds the lock"),
	)
	logMetricInitError(logger, "coedit.edit.locked", err)

	m.editDenied, err = meter.Int64Counter(
		"coedit.edit.denied",
		metric.WithDescription("Edits denied by the administrative namespace check"),
	)
	logMetricInitError(logger, "coedit.edit.denied", err)

	m.chat, err = meter.Int64Counter(
		"coedit.chat.messages",
		metric.WithDescription("Chat messages broadcast"),
	)
	logMetricInitError(logger, "coedit.chat.messages", err)

	m.runJobs, err = meter.Int64Counter(
		"coedit.sandbox.jobs",
		metric.WithDescription("Execution jobs handled by the sandbox"),
	)
	logMetricInitError(logger, "coedit.sandbox.jobs", err)

	return m
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("metrics.init_failed", "metric", name, "error", err)
}
