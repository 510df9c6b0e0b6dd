package output

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/bgricker/buildgate/internal/pipeline"
	"github.com/bgricker/buildgate/internal/report"
)

// StreamingPrettyRenderer prints step progress as a run executes. It
// satisfies the executor's Observer interface.
type StreamingPrettyRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	total   int
	// pending is true while the last line written is an unfinished step.
	pending bool
}

// NewStreamingPretty creates a StreamingPrettyRenderer for real-time updates.
func NewStreamingPretty(out io.Writer, verbose bool) *StreamingPrettyRenderer {
	return &StreamingPrettyRenderer{out: out, verbose: verbose}
}

// RunStarted prints the run header.
func (s *StreamingPrettyRenderer) RunStarted(run *pipeline.Run, steps []pipeline.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = len(steps)
	fmt.Fprintf(s.out, "Run %s\n", decorateName(run.Pipeline, run.ID))
	fmt.Fprintf(s.out, "  Event %s\n", describeEvent(run.Event))
}

// StepStarted shows the step as running.
func (s *StreamingPrettyRenderer) StepStarted(index int, st pipeline.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "    ⏳ %s [%d/%d]\n", st.Name, index+1, s.total)
	s.pending = true
}

// StepFinished replaces the running line with the step's outcome.
func (s *StreamingPrettyRenderer) StepFinished(index int, res pipeline.StepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		fmt.Fprintf(s.out, "\033[1A\033[K") // Move up, clear line
		s.pending = false
	}
	var buf bytes.Buffer
	writeResult(&buf, res, s.verbose)
	buf.WriteTo(s.out)
}

// RunFinished prints the summary.
func (s *StreamingPrettyRenderer) RunFinished(run *pipeline.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf bytes.Buffer
	writeSummary(&buf, report.Summarize(run, s.total))
	buf.WriteTo(s.out)
}
