package pipeline

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a Run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Outcome is the normalized result of a single step.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// StepResult records one completed step. Reference holds the image reference
// for builds and the coverage artifact for commands.
type StepResult struct {
	StepName   string        `json:"step_name"`
	Action     Action        `json:"action"`
	Outcome    Outcome       `json:"outcome"`
	Detail     string        `json:"detail,omitempty"`
	Reference  string        `json:"reference,omitempty"`
	Log        string        `json:"log,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// OK builds a successful result.
func OK(step Step, detail string) StepResult {
	return StepResult{StepName: step.Name, Action: step.Action, Outcome: OutcomeOK, Detail: detail}
}

// Failed builds an error result.
func Failed(step Step, detail string) StepResult {
	return StepResult{StepName: step.Name, Action: step.Action, Outcome: OutcomeError, Detail: detail}
}

var (
	// ErrRunFinished is returned when mutating a run in a terminal state.
	ErrRunFinished = errors.New("run already finished")
	// ErrRunNotStarted is returned when finishing a run that never entered running.
	ErrRunNotStarted = errors.New("run not started")
)

// Run is one execution of a pipeline. Steps is append-only; once Status is
// terminal the run no longer changes.
type Run struct {
	ID         string       `json:"id"`
	Pipeline   string       `json:"pipeline"`
	Event      Event        `json:"event"`
	Status     Status       `json:"status"`
	Steps      []StepResult `json:"steps"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
}

// NewRun creates a pending run.
func NewRun(id, pipelineName string, event Event) *Run {
	return &Run{
		ID:       id,
		Pipeline: pipelineName,
		Event:    event,
		Status:   StatusPending,
		Steps:    make([]StepResult, 0),
	}
}

// Start moves a pending run to running. Starting a running run is a no-op.
func (r *Run) Start(now time.Time) error {
	switch r.Status {
	case StatusPending:
		r.Status = StatusRunning
		r.StartedAt = now
		return nil
	case StatusRunning:
		return nil
	default:
		return ErrRunFinished
	}
}

// Append records a step result. An error outcome finishes the run as failed.
func (r *Run) Append(result StepResult, now time.Time) error {
	if r.Status.Terminal() {
		return ErrRunFinished
	}
	if r.Status != StatusRunning {
		return ErrRunNotStarted
	}
	result.DurationMS = result.Duration.Milliseconds()
	r.Steps = append(r.Steps, result)
	if result.Outcome == OutcomeError {
		r.Status = StatusFailed
		r.FinishedAt = now
	}
	return nil
}

// Succeed marks a running run whose steps all passed as succeeded.
func (r *Run) Succeed(now time.Time) error {
	if r.Status.Terminal() {
		return ErrRunFinished
	}
	if r.Status != StatusRunning {
		return ErrRunNotStarted
	}
	for _, res := range r.Steps {
		if res.Outcome == OutcomeError {
			r.Status = StatusFailed
			r.FinishedAt = now
			return nil
		}
	}
	r.Status = StatusSucceeded
	r.FinishedAt = now
	return nil
}

// Duration is the wall time between start and finish, zero if unfinished.
func (r *Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Steps = append([]StepResult(nil), r.Steps...)
	return &cp
}
