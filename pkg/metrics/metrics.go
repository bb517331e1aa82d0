// Package metrics holds the prometheus collectors exported by fswatchd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fswatchd"

var (
	// Events counts notifications received from the watch source, by kind.
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Filesystem events received from the watch source.",
	}, []string{"kind"})

	Dispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "callbacks_dispatched_total",
		Help:      "Callbacks submitted to the worker pool.",
	}, []string{"kind"})

	CallbackFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "callback_failures_total",
		Help:      "Callbacks that returned an error or panicked.",
	}, []string{"kind", "reason"})

	Unroutable = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unroutable_messages_total",
		Help:      "Messages dropped by the dispatcher because their type is unknown.",
	})

	WatchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watch_errors_total",
		Help:      "Errors reported by the watch source or while subscribing paths.",
	})

	WorkerPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_pending",
		Help:      "Queued and running callbacks per worker.",
	}, []string{"worker"})
)
