package output

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bgricker/buildgate/internal/pipeline"
	"github.com/bgricker/buildgate/internal/report"
)

// Plan is what a run would do for an event, without doing it.
type Plan struct {
	Pipeline string          `json:"pipeline"`
	Source   string          `json:"source,omitempty"`
	Registry string          `json:"registry,omitempty"`
	Image    string          `json:"image,omitempty"`
	Event    pipeline.Event  `json:"event"`
	Accepted bool            `json:"accepted"`
	Reason   string          `json:"reason"`
	Steps    []pipeline.Step `json:"steps"`
}

// PrettyRenderer renders plans and run results in a human-friendly format.
type PrettyRenderer struct {
	out     io.Writer
	verbose bool
}

// NewPretty creates a PrettyRenderer writing to the provided writer. Verbose
// includes captured step logs for failed steps.
func NewPretty(out io.Writer, verbose bool) *PrettyRenderer {
	return &PrettyRenderer{out: out, verbose: verbose}
}

// RenderPlan shows the trigger decision and the ordered steps.
func (p *PrettyRenderer) RenderPlan(plan Plan) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Pipeline %s\n", decorateName(plan.Pipeline, plan.Source))
	fmt.Fprintf(&buf, "  Event %s\n", describeEvent(plan.Event))
	if plan.Accepted {
		fmt.Fprintf(&buf, "  Trigger accepted: %s\n", plan.Reason)
	} else {
		fmt.Fprintf(&buf, "  Trigger ignored: %s\n", plan.Reason)
	}
	if plan.Registry != "" {
		fmt.Fprintf(&buf, "  Registry %s\n", plan.Registry)
	}
	if plan.Image != "" {
		fmt.Fprintf(&buf, "  Image %s\n", plan.Image)
	}
	for idx, st := range plan.Steps {
		fmt.Fprintf(&buf, "    %d. %s [%s]", idx+1, st.Name, st.Action)
		if target := stepTarget(st); target != "" {
			fmt.Fprintf(&buf, " %s", target)
		}
		buf.WriteString("\n")
	}
	_, err := buf.WriteTo(p.out)
	return err
}

// RenderRun shows execution outcomes for each recorded step with a summary.
func (p *PrettyRenderer) RenderRun(run *pipeline.Run, summary report.Summary) error {
	var buf bytes.Buffer
	if run != nil {
		fmt.Fprintf(&buf, "Run %s\n", decorateName(run.Pipeline, run.ID))
		fmt.Fprintf(&buf, "  Event %s\n", describeEvent(run.Event))
		for _, res := range run.Steps {
			writeResult(&buf, res, p.verbose)
		}
	}
	writeSummary(&buf, summary)
	_, err := buf.WriteTo(p.out)
	return err
}

func writeResult(buf *bytes.Buffer, res pipeline.StepResult, verbose bool) {
	fmt.Fprintf(buf, "    %s %s (%s)\n", statusGlyph(res.Outcome), res.StepName, formatDuration(res.Duration))
	if res.Reference != "" {
		fmt.Fprintf(buf, "      ref: %s\n", res.Reference)
	}
	if res.Outcome != pipeline.OutcomeError {
		return
	}
	if res.Detail != "" {
		fmt.Fprintf(buf, "      error: %s\n", strings.TrimSpace(res.Detail))
	}
	if verbose && res.Log != "" {
		fmt.Fprintf(buf, "%s\n", indent(res.Log, "      | "))
	}
}

func writeSummary(buf *bytes.Buffer, summary report.Summary) {
	fmt.Fprintf(buf, "SUMMARY: %d passed, %d failed, %d not run (%s)\n", summary.Passed, summary.Failed, summary.NotRun, formatDuration(summary.Duration))
	if summary.Failure != "" {
		fmt.Fprintf(buf, "FAILED: %s\n", summary.Failure)
	}
}

func describeEvent(ev pipeline.Event) string {
	parts := []string{string(ev.Type), ev.Branch}
	if ev.HeadBranch != "" {
		parts = append(parts, "from "+ev.HeadBranch)
	}
	if ev.Commit != "" {
		parts = append(parts, "@"+shortCommit(ev.Commit))
	}
	return strings.Join(parts, " ")
}

func stepTarget(st pipeline.Step) string {
	switch st.Action {
	case pipeline.ActionBuildImage:
		ctx := st.With.Context
		if ctx == "" {
			ctx = "."
		}
		if st.With.Tag != "" {
			return fmt.Sprintf("context=%s tag=%s", ctx, st.With.Tag)
		}
		return "context=" + ctx
	case pipeline.ActionRunCommand:
		return st.With.Command
	}
	return ""
}

func shortCommit(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

func decorateName(name, path string) string {
	if path == "" || name == path {
		return name
	}
	if name == "" {
		return path
	}
	return fmt.Sprintf("%s (%s)", name, path)
}

func statusGlyph(outcome pipeline.Outcome) string {
	switch outcome {
	case pipeline.OutcomeOK:
		return "✓"
	case pipeline.OutcomeError:
		return "✗"
	default:
		return "?"
	}
}

func indent(s, pad string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = pad + lines[i]
	}
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Truncate(time.Millisecond).String()
}
