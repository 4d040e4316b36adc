// Package metrics defines the Prometheus collectors exported by relaymeshd
// and the /metrics HTTP handler.
package metrics
