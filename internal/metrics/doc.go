// Package metrics defines the Prometheus metrics of the probe and the mock
// ASR server. Metrics register with an injected registry so several
// instances can coexist in one process.
package metrics
