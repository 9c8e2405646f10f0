// Package metrics defines the Prometheus instrumentation for the bridge.
package metrics
