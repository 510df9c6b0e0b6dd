package output

import (
	"encoding/json"
	"io"

	"github.com/bgricker/buildgate/internal/pipeline"
	"github.com/bgricker/buildgate/internal/report"
)

// JSONRenderer emits structured execution data.
type JSONRenderer struct {
	out io.Writer
}

// NewJSON creates a JSON renderer writing to out.
func NewJSON(out io.Writer) *JSONRenderer {
	return &JSONRenderer{out: out}
}

// Report captures JSON output schema. Plan is set by plan, Run and Summary
// by run.
type Report struct {
	Plan     *Plan           `json:"plan,omitempty"`
	Run      *pipeline.Run   `json:"run,omitempty"`
	Summary  *report.Summary `json:"summary,omitempty"`
	Error    string          `json:"error,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

// Render encodes the report as JSON.
func (j *JSONRenderer) Render(r Report) error {
	enc := json.NewEncoder(j.out)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
