package report

import (
	"time"

	"github.com/bgricker/buildgate/internal/pipeline"
)

// Exit statuses handed back to the invoking host.
const (
	ExitSucceeded  = 0
	ExitFailed     = 1
	ExitNotStarted = 2
)

// Summary aggregates a pipeline run.
type Summary struct {
	Pipeline   string          `json:"pipeline"`
	RunID      string          `json:"run_id"`
	Status     pipeline.Status `json:"status"`
	TotalSteps int             `json:"total_steps"`
	Passed     int             `json:"passed"`
	Failed     int             `json:"failed"`
	NotRun     int             `json:"not_run"`
	Duration   time.Duration   `json:"-"`
	DurationMS int64           `json:"duration_ms"`
	ExitCode   int             `json:"exit_code"`
	Failure    string          `json:"failure,omitempty"`
}

// ExitStatus maps a run onto a process exit status: 0 only for a succeeded
// run. A nil run or one that never left pending did not start.
func ExitStatus(run *pipeline.Run) int {
	if run == nil {
		return ExitNotStarted
	}
	switch run.Status {
	case pipeline.StatusSucceeded:
		return ExitSucceeded
	case pipeline.StatusPending:
		return ExitNotStarted
	default:
		return ExitFailed
	}
}

// FirstFailure returns the first error result of the run.
func FirstFailure(run *pipeline.Run) (pipeline.StepResult, bool) {
	if run == nil {
		return pipeline.StepResult{}, false
	}
	for _, res := range run.Steps {
		if res.Outcome == pipeline.OutcomeError {
			return res, true
		}
	}
	return pipeline.StepResult{}, false
}

// Summarize counts results against the number of steps the definition has,
// so steps skipped by an early failure show up as not run.
func Summarize(run *pipeline.Run, totalSteps int) Summary {
	summary := Summary{TotalSteps: totalSteps, ExitCode: ExitStatus(run)}
	if run == nil {
		summary.NotRun = totalSteps
		return summary
	}
	summary.Pipeline = run.Pipeline
	summary.RunID = run.ID
	summary.Status = run.Status
	for _, res := range run.Steps {
		summary.Duration += res.Duration
		if res.Outcome == pipeline.OutcomeError {
			summary.Failed++
		} else {
			summary.Passed++
		}
	}
	if d := run.Duration(); d > 0 {
		summary.Duration = d
	}
	summary.DurationMS = summary.Duration.Milliseconds()
	if n := totalSteps - len(run.Steps); n > 0 {
		summary.NotRun = n
	}
	if res, ok := FirstFailure(run); ok {
		summary.Failure = res.StepName + ": " + res.Detail
	}
	return summary
}
