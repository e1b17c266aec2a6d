// Package server implements a mock ASR server for exercising the probe without
// the real recognition service. It serves the length-prefixed TCP protocol, the
// streaming WebSocket protocol and an HTTP API with health, session and
// Prometheus endpoints. Transcripts are fabricated from signal energy.
package server
