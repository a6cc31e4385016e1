package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultSkipped ResultLabel = "skipped"
	ResultFailed  ResultLabel = "failed"
)

// Recorder defines observability hooks for pipeline runs and HTTP requests.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	ObserveRunDuration(d time.Duration)
	IncRunOutcome(outcome string)
	AddRunsInFlight(delta int)
	ObserveHTTPRequest(method, route string, status int, d time.Duration)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration)            {}
func (NoopRecorder) IncStageResult(string, ResultLabel)                    {}
func (NoopRecorder) ObserveRunDuration(time.Duration)                      {}
func (NoopRecorder) IncRunOutcome(string)                                  {}
func (NoopRecorder) AddRunsInFlight(int)                                   {}
func (NoopRecorder) ObserveHTTPRequest(string, string, int, time.Duration) {}
