package amqp

import (
	"github.com/israelio/amqp10-go-client/internal/observability"
)

// PrometheusMetricsCollector exports client metrics to the default
// Prometheus registry
type PrometheusMetricsCollector struct{}

// NewPrometheusMetricsCollector registers the collectors and returns a
// MetricsCollector backed by them
func NewPrometheusMetricsCollector() *PrometheusMetricsCollector {
	observability.RegisterMetrics()
	return &PrometheusMetricsCollector{}
}

func (p *PrometheusMetricsCollector) ConnectionOpened() { observability.RecordOpened("connection") }
func (p *PrometheusMetricsCollector) ConnectionClosed() { observability.RecordClosed("connection") }
func (p *PrometheusMetricsCollector) ConnectionError(error) {
	observability.RecordError("connection")
}

func (p *PrometheusMetricsCollector) SessionBegun()      { observability.RecordOpened("session") }
func (p *PrometheusMetricsCollector) SessionEnded()      { observability.RecordClosed("session") }
func (p *PrometheusMetricsCollector) SessionError(error) { observability.RecordError("session") }

func (p *PrometheusMetricsCollector) LinkAttached(role Role) { observability.RecordOpened(role.String()) }
func (p *PrometheusMetricsCollector) LinkDetached(role Role) { observability.RecordClosed(role.String()) }
func (p *PrometheusMetricsCollector) LinkError(error)        { observability.RecordError("link") }

func (p *PrometheusMetricsCollector) MessageSent(size int)     { observability.RecordMessage("out", size) }
func (p *PrometheusMetricsCollector) MessageReceived(size int) { observability.RecordMessage("in", size) }
func (p *PrometheusMetricsCollector) MessageSettled(outcome string) {
	observability.RecordSettlement(outcome)
}

func (p *PrometheusMetricsCollector) FrameSent(performative string) {
	observability.RecordFrame("out", performative)
}

func (p *PrometheusMetricsCollector) FrameReceived(performative string) {
	observability.RecordFrame("in", performative)
}
