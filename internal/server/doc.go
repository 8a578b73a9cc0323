// Package server implements the local HTTP API of the listener. It exposes
// session control, alert settings, detection history, readiness checks,
// Prometheus metrics and a WebSocket stream of fired alerts.
package server
