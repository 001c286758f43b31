package config

import (
	"github.com/marmos91/dittofab/pkg/metrics"
	promMetrics "github.com/marmos91/dittofab/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// TargetMetrics is the metrics collector for the target (never nil, uses noop if disabled)
	TargetMetrics metrics.TargetMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
//
// Parameters:
//   - cfg: The complete DittoFab configuration
//
// Returns:
//   - MetricsResult containing all metrics components
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		// Metrics disabled - return no-op implementations
		return &MetricsResult{
			Server:        nil,
			TargetMetrics: metrics.NewNoopTargetMetrics(),
		}
	}

	// Metrics enabled - initialize the global registry first
	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server:        server,
		TargetMetrics: promMetrics.NewTargetMetrics(),
	}
}
