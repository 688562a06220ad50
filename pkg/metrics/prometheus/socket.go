// Package prometheus implements metrics.SocketMetrics on top of the global
// Prometheus registry.
package prometheus

import (
	"time"

	"github.com/marmos91/knsock/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type socketMetrics struct {
	connectionsAccepted    *prometheus.CounterVec
	connectionsRejected    *prometheus.CounterVec
	connectionsClosed      *prometheus.CounterVec
	connectionsForceClosed *prometheus.CounterVec
	activeConnections      *prometheus.GaugeVec
	framesTotal            *prometheus.CounterVec
	frameBytes             *prometheus.CounterVec
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	transfersTotal         *prometheus.CounterVec
	transferBytes          prometheus.Counter
	transferDuration       prometheus.Histogram
}

// NewSocketMetrics creates Prometheus-backed metrics, or a no-op
// implementation when the registry has not been initialized.
func NewSocketMetrics() metrics.SocketMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopSocketMetrics()
	}

	factory := promauto.With(metrics.GetRegistry())

	return &socketMetrics{
		connectionsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "knsock_connections_accepted_total",
			Help: "Total number of connections handed to a handler",
		}, []string{"protocol"}),
		connectionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "knsock_connections_rejected_total",
			Help: "Total number of connections closed because max_connections was reached",
		}, []string{"protocol"}),
		connectionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "knsock_connections_closed_total",
			Help: "Total number of connections closed",
		}, []string{"protocol"}),
		connectionsForceClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "knsock_connections_force_closed_total",
			Help: "Total number of connections force-closed after the shutdown grace period",
		}, []string{"protocol"}),
		activeConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "knsock_active_connections",
			Help: "Current number of active connections",
		}, []string{"protocol"}),
		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "knsock_frames_total",
			Help: "Total number of frames by direction",
		}, []string{"direction"}),
		frameBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "knsock_frame_bytes_total",
			Help: "Total frame payload bytes by direction",
		}, []string{"direction"}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "knsock_requests_total",
			Help: "Total number of request/response exchanges by protocol and status",
		}, []string{"protocol", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "knsock_request_duration_milliseconds",
			Help:    "Duration of request handling in milliseconds",
			Buckets: []float64{1, 10, 100, 1000, 10000},
		}, []string{"protocol"}),
		transfersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "knsock_transfers_total",
			Help: "Total number of file transfer sessions by outcome",
		}, []string{"outcome"}),
		transferBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "knsock_transfer_bytes_total",
			Help: "Total file bytes received by transfer sessions",
		}),
		transferDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "knsock_transfer_duration_seconds",
			Help:    "Duration of file transfer sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

func (m *socketMetrics) RecordConnectionAccepted(protocol string) {
	m.connectionsAccepted.WithLabelValues(protocol).Inc()
}

func (m *socketMetrics) RecordConnectionRejected(protocol string) {
	m.connectionsRejected.WithLabelValues(protocol).Inc()
}

func (m *socketMetrics) RecordConnectionClosed(protocol string) {
	m.connectionsClosed.WithLabelValues(protocol).Inc()
}

func (m *socketMetrics) RecordConnectionForceClosed(protocol string) {
	m.connectionsForceClosed.WithLabelValues(protocol).Inc()
}

func (m *socketMetrics) SetActiveConnections(protocol string, count int32) {
	m.activeConnections.WithLabelValues(protocol).Set(float64(count))
}

func (m *socketMetrics) RecordFrame(direction string, bytes int) {
	m.framesTotal.WithLabelValues(direction).Inc()
	m.frameBytes.WithLabelValues(direction).Add(float64(bytes))
}

func (m *socketMetrics) RecordRequest(protocol string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.requestsTotal.WithLabelValues(protocol, status).Inc()
	m.requestDuration.WithLabelValues(protocol).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *socketMetrics) RecordTransfer(outcome string, bytes int64, duration time.Duration) {
	m.transfersTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		m.transferBytes.Add(float64(bytes))
	}
	m.transferDuration.Observe(duration.Seconds())
}
