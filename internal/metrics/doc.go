// Package metrics exposes pipeline and HTTP metrics.
//
// Components receive a Recorder; NoopRecorder is the default so that callers never
// check for nil. The Prometheus implementation registers its collectors on a
// caller-supplied registry which HTTPHandler then serves.
package metrics
