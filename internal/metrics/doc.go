// Package metrics defines the Prometheus instruments of the tikun listener.
package metrics
