package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the stream server.
type Metrics struct {
	registry          *prometheus.Registry
	connectionsTotal  prometheus.Counter
	registeredStreams prometheus.Gauge
	pipelineStarts    *prometheus.CounterVec
	pipelineFailures  *prometheus.CounterVec
	activeViewers     *prometheus.GaugeVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	connectionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtsp_connections_total",
		Help: "Total number of client connections accepted",
	})
	registeredStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtsp_registered_streams",
		Help: "Number of mount points served",
	})
	pipelineStarts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtsp_pipeline_starts_total",
		Help: "Number of pipeline launches per mount point",
	}, []string{"mount"})
	pipelineFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtsp_pipeline_failures_total",
		Help: "Number of pipelines that failed to start or exited unexpectedly",
	}, []string{"mount"})
	activeViewers := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rtsp_active_viewers",
		Help: "Number of readers attached to the shared stream of a mount point",
	}, []string{"mount"})

	registry.MustRegister(
		connectionsTotal,
		registeredStreams,
		pipelineStarts,
		pipelineFailures,
		activeViewers,
	)

	return &Metrics{
		registry:          registry,
		connectionsTotal:  connectionsTotal,
		registeredStreams: registeredStreams,
		pipelineStarts:    pipelineStarts,
		pipelineFailures:  pipelineFailures,
		activeViewers:     activeViewers,
	}
}

func (m *Metrics) IncConnections() {
	m.connectionsTotal.Inc()
}

func (m *Metrics) SetRegisteredStreams(n int) {
	m.registeredStreams.Set(float64(n))
}

func (m *Metrics) IncPipelineStarts(mount string) {
	m.pipelineStarts.WithLabelValues(mount).Inc()
}

func (m *Metrics) IncPipelineFailures(mount string) {
	m.pipelineFailures.WithLabelValues(mount).Inc()
}

func (m *Metrics) SetViewers(mount string, n int) {
	m.activeViewers.WithLabelValues(mount).Set(float64(n))
}

// Handler serves the metrics registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
