package report

import (
	"testing"
	"time"

	"github.com/bgricker/buildgate/internal/pipeline"
)

func finishedRun(t *testing.T, outcomes ...pipeline.Outcome) *pipeline.Run {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	run := pipeline.NewRun("r1", "ci", pipeline.Event{Type: pipeline.EventPush, Branch: "master"})
	if err := run.Start(start); err != nil {
		t.Fatalf("start: %v", err)
	}
	names := []string{"login", "build", "test"}
	for i, outcome := range outcomes {
		res := pipeline.StepResult{StepName: names[i], Outcome: outcome, Duration: time.Second}
		if outcome == pipeline.OutcomeError {
			res.Detail = "registry timeout"
		}
		if err := run.Append(res, start.Add(time.Duration(i+1)*time.Second)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if !run.Status.Terminal() {
		if err := run.Succeed(start.Add(3 * time.Second)); err != nil {
			t.Fatalf("succeed: %v", err)
		}
	}
	return run
}

func TestExitStatus(t *testing.T) {
	if got := ExitStatus(finishedRun(t, pipeline.OutcomeOK, pipeline.OutcomeOK, pipeline.OutcomeOK)); got != 0 {
		t.Fatalf("succeeded run: expected 0, got %d", got)
	}
	if got := ExitStatus(finishedRun(t, pipeline.OutcomeOK, pipeline.OutcomeError)); got == 0 {
		t.Fatalf("failed run must exit non-zero")
	}
	pending := pipeline.NewRun("r2", "ci", pipeline.Event{})
	if got := ExitStatus(pending); got != ExitNotStarted {
		t.Fatalf("pending run: expected %d, got %d", ExitNotStarted, got)
	}
	if got := ExitStatus(nil); got != ExitNotStarted {
		t.Fatalf("nil run: expected %d, got %d", ExitNotStarted, got)
	}
}

func TestFirstFailure(t *testing.T) {
	res, ok := FirstFailure(finishedRun(t, pipeline.OutcomeOK, pipeline.OutcomeError))
	if !ok || res.StepName != "build" || res.Detail != "registry timeout" {
		t.Fatalf("unexpected first failure: %+v, %v", res, ok)
	}
	if _, ok := FirstFailure(finishedRun(t, pipeline.OutcomeOK)); ok {
		t.Fatalf("no failure expected")
	}
}

func TestSummarize(t *testing.T) {
	summary := Summarize(finishedRun(t, pipeline.OutcomeOK, pipeline.OutcomeError), 3)
	if summary.Passed != 1 || summary.Failed != 1 || summary.NotRun != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.ExitCode != ExitFailed || summary.Status != pipeline.StatusFailed {
		t.Fatalf("unexpected verdict: %+v", summary)
	}
	if summary.Failure != "build: registry timeout" {
		t.Fatalf("unexpected failure %q", summary.Failure)
	}
	if summary.DurationMS != 2000 {
		t.Fatalf("expected run wall time 2000ms, got %d", summary.DurationMS)
	}

	ok := Summarize(finishedRun(t, pipeline.OutcomeOK, pipeline.OutcomeOK, pipeline.OutcomeOK), 3)
	if ok.Passed != 3 || ok.NotRun != 0 || ok.ExitCode != 0 || ok.Failure != "" {
		t.Fatalf("unexpected summary: %+v", ok)
	}

	none := Summarize(nil, 3)
	if none.NotRun != 3 || none.ExitCode != ExitNotStarted {
		t.Fatalf("unexpected summary for missing run: %+v", none)
	}
}
