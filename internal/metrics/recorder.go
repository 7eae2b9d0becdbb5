package metrics

import "time"

// ResultLabel enumerates per-recipient send results.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
	ResultDryRun  ResultLabel = "dry_run"
)

// Recorder defines observability hooks for campaign runs and mailbox
// scans. Implementations must be safe for concurrent use.
type Recorder interface {
	IncSend(stage string, result ResultLabel)
	IncRetry(stage string)
	ObserveSendDuration(stage string, d time.Duration)
	SetPending(stage string, n int)
	IncDetection(ledger string, detail string)
	IncFolderError(folder string)
	ObserveRunDuration(stage string, d time.Duration)
	IncRunOutcome(stage string, outcome string) // outcome: success|failed|skipped
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncSend(string, ResultLabel)               {}
func (NoopRecorder) IncRetry(string)                           {}
func (NoopRecorder) ObserveSendDuration(string, time.Duration) {}
func (NoopRecorder) SetPending(string, int)                    {}
func (NoopRecorder) IncDetection(string, string)               {}
func (NoopRecorder) IncFolderError(string)                     {}
func (NoopRecorder) ObserveRunDuration(string, time.Duration)  {}
func (NoopRecorder) IncRunOutcome(string, string)              {}
