// Package metrics provides campaign and classification metrics behind a
// Recorder interface.
//
// Components receive a Recorder through their constructors and default to
// NoopRecorder, so metrics never need nil checks. The daemon swaps in a
// PrometheusRecorder and serves it over HTTP.
package metrics
