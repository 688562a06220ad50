// Package metrics provides Prometheus metrics collection for knsock servers.
//
// All metrics are optional. Components take a SocketMetrics and fall back to
// a no-op implementation when given nil, so servers run identically with or
// without collection enabled.
//
// Usage:
//
//	metrics.InitRegistry()
//	m := prometheus.NewSocketMetrics()
//	acceptor := stream.New("json", cfg, handler, stream.WithMetrics(m))
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is written once by InitRegistry and read afterwards.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. Subsequent calls
// are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true once InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
