// Package metrics exposes daemon counters in Prometheus text format.
package metrics

import (
	"io"

	"github.com/VictoriaMetrics/metrics"

	"github.com/sweeney/presence-cec/internal/logic"
)

var (
	presenceTotal   = metrics.NewCounter(`presence_cec_presence_total`)
	wakeTotal       = metrics.NewCounter(`presence_cec_wake_total`)
	standbyTotal    = metrics.NewCounter(`presence_cec_standby_total`)
	powerOnTotal    = metrics.NewCounter(`presence_cec_power_on_total`)
	powerOnFailures = metrics.NewCounter(`presence_cec_power_on_failures_total`)

	// CommandFailures counts bus commands that were not acknowledged.
	CommandFailures = metrics.NewCounter(`presence_cec_bus_command_failures_total`)
	// Reconnects counts successful bus reconnects after a connection loss.
	Reconnects = metrics.NewCounter(`presence_cec_bus_reconnects_total`)
	// ReconnectFailures counts failed bus reconnects (each one is fatal).
	ReconnectFailures = metrics.NewCounter(`presence_cec_bus_reconnect_failures_total`)
)

// ObserveEvent updates counters for a controller event.
func ObserveEvent(e logic.Event) {
	switch e.Type {
	case logic.EventPresence:
		presenceTotal.Inc()
	case logic.EventWake:
		wakeTotal.Inc()
	case logic.EventStandby:
		standbyTotal.Inc()
	}
	if e.PowerOnSent {
		powerOnTotal.Inc()
		if !e.PowerOnAck {
			powerOnFailures.Inc()
		}
	}
}

// WritePrometheus writes all registered metrics, including Go process metrics.
func WritePrometheus(w io.Writer) {
	metrics.WritePrometheus(w, true)
}
