// Package server implements the local HTTP status API: health, recording
// state, transcript access and editing, pipeline statistics, and the
// Prometheus metrics endpoint.
package server
