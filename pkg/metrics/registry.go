// Package metrics provides Prometheus metrics collection for DittoFab
// components.
//
// All metrics are optional - if the registry is never initialized,
// constructors hand back no-op implementations that have zero overhead.
// This allows the control plane to run with or without metrics collection
// enabled.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create metrics instances for components
//	tgtMetrics := prometheus.NewTargetMetrics() // pkg/metrics/prometheus
//
//	// Or use the no-op implementation directly
//	tgtMetrics = metrics.NewNoopTargetMetrics()
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is the global Prometheus registry for all DittoFab metrics.
	// Protected by registryOnce for write-once, read-many access.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// This must be called before creating any metrics instances. It's safe to
// call multiple times - subsequent calls are ignored.
//
// If not called, GetRegistry() will return nil and all metrics
// constructors will return no-op implementations.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global Prometheus registry.
//
// Returns nil if InitRegistry() has not been called, indicating metrics
// are disabled.
//
// Thread safety:
// Safe to call concurrently. The sync.Once in InitRegistry() provides
// a happens-before relationship ensuring the registry value is visible.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if metrics collection is enabled.
//
// Metrics are enabled if InitRegistry() has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
