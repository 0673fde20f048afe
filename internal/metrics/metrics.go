// Package metrics exposes Prometheus instrumentation for the dispatch
// core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	triggersDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ignis_triggers_detected_total",
			Help: "Total number of trigger events detected, by source kind",
		},
		[]string{"kind"},
	)

	dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ignis_dispatches_total",
			Help: "Total number of invocation requests forwarded to the engine",
		},
		[]string{"kind"},
	)

	bindingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ignis_binding_failures_total",
			Help: "Total number of parameters that failed to bind",
		},
	)

	poisonMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ignis_poison_messages_total",
			Help: "Total number of messages routed to a poison queue",
		},
	)

	idleTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ignis_idle_ticks_total",
			Help: "Total number of dispatch ticks that detected nothing",
		},
	)
)

// TriggerDetected records one detected trigger event.
func TriggerDetected(kind string) {
	triggersDetected.WithLabelValues(kind).Inc()
}

// Dispatched records one invocation request forwarded to the engine.
func Dispatched(kind string) {
	dispatches.WithLabelValues(kind).Inc()
}

// BindingFailed records one failed parameter binding.
func BindingFailed(n int) {
	bindingFailures.Add(float64(n))
}

// PoisonMessage records one message moved to a poison queue.
func PoisonMessage() {
	poisonMessages.Inc()
}

// IdleTick records one dispatch tick that found no work.
func IdleTick() {
	idleTicks.Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
