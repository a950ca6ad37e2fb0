// Package server exposes the service over the network: a UDP listener and a
// WebSocket endpoint that both speak the binary packet protocol, plus an HTTP
// API for batch processing, monitoring and Prometheus metrics.
package server
