package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter mirrors collector events into Prometheus metrics.
type Exporter struct {
	gatherer prometheus.Gatherer

	samples      *prometheus.CounterVec
	responseTime *prometheus.HistogramVec
	alerts       *prometheus.CounterVec
	sinkFailures *prometheus.CounterVec
}

// NewExporter creates the monitor metrics and registers them with reg.
func NewExporter(reg *prometheus.Registry) *Exporter {
	e := &Exporter{
		gatherer: reg,
		samples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "site_monitor_samples_total",
				Help: "Total number of samples taken",
			},
			[]string{"site", "outcome"},
		),
		responseTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "site_monitor_response_seconds",
				Help:    "Probe response time including body download",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
			},
			[]string{"site"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "site_monitor_alerts_total",
				Help: "Total number of alerts raised",
			},
			[]string{"site"},
		),
		sinkFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "site_monitor_sink_failures_total",
				Help: "Total number of failed sample writes",
			},
			[]string{"sink"},
		),
	}

	reg.MustRegister(e.samples, e.responseTime, e.alerts, e.sinkFailures)
	return e
}

func (e *Exporter) observe(event MetricEvent) {
	switch event.Type {
	case EventSampleCompleted:
		e.samples.WithLabelValues(event.Site, event.Kind).Inc()
		e.responseTime.WithLabelValues(event.Site).Observe(event.Duration.Seconds())

	case EventAlertRaised:
		e.alerts.WithLabelValues(event.Site).Inc()

	case EventSinkFailed:
		e.sinkFailures.WithLabelValues(event.Sink).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{})
}
