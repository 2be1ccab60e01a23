package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "amqp10"

var (
	registerOnce sync.Once

	endpointEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "events_total",
			Help:      "Connection, session and link lifecycle events.",
		},
		[]string{"endpoint", "event"},
	)
	endpointsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "open",
			Help:      "Currently open connections, sessions and links.",
		},
		[]string{"endpoint"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "total",
			Help:      "Frames by direction and performative.",
		},
		[]string{"direction", "performative"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "message",
			Name:      "total",
			Help:      "Messages sent and received.",
		},
		[]string{"direction"},
	)
	messageBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "message",
			Name:      "bytes_total",
			Help:      "Message payload bytes sent and received.",
		},
		[]string{"direction"},
	)
	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "settled_total",
			Help:      "Settled deliveries by outcome.",
		},
		[]string{"outcome"},
	)
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "errors_total",
			Help:      "Terminal errors by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// RegisterMetrics registers the collectors with the default registry once
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(endpointEvents, endpointsOpen, frames, messages, messageBytes, settlements, errorsTotal)
	})
}

// RecordOpened counts an endpoint becoming open
func RecordOpened(endpoint string) {
	RegisterMetrics()
	endpointEvents.WithLabelValues(endpoint, "opened").Inc()
	endpointsOpen.WithLabelValues(endpoint).Inc()
}

// RecordClosed counts an endpoint closing
func RecordClosed(endpoint string) {
	RegisterMetrics()
	endpointEvents.WithLabelValues(endpoint, "closed").Inc()
	endpointsOpen.WithLabelValues(endpoint).Dec()
}

// RecordError counts a terminal endpoint error
func RecordError(endpoint string) {
	RegisterMetrics()
	errorsTotal.WithLabelValues(endpoint).Inc()
}

// RecordFrame counts a frame; direction is "in" or "out"
func RecordFrame(direction, performative string) {
	RegisterMetrics()
	frames.WithLabelValues(direction, performative).Inc()
}

// RecordMessage counts a message and its payload size
func RecordMessage(direction string, size int) {
	RegisterMetrics()
	messages.WithLabelValues(direction).Inc()
	messageBytes.WithLabelValues(direction).Add(float64(size))
}

// RecordSettlement counts a settled delivery
func RecordSettlement(outcome string) {
	RegisterMetrics()
	settlements.WithLabelValues(outcome).Inc()
}
