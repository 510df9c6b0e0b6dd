package provider

import (
	"fmt"

	"github.com/bgricker/buildgate/internal/pipeline"
)

// Workflow is a CI workflow file reduced to the parts buildgate consumes:
// the events and branches that trigger it.
type Workflow struct {
	Path     string                 `json:"path"`
	Name     string                 `json:"name"`
	Triggers []pipeline.TriggerRule `json:"triggers"`
}

// Warning captures non-fatal issues encountered while parsing workflows.
type Warning struct {
	Workflow string `json:"workflow"`
	Message  string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Workflow, w.Message)
}

// Import is the result of reading one or more workflow files.
type Import struct {
	Provider  string     `json:"provider"`
	Workflows []Workflow `json:"workflows"`
	Warnings  []Warning  `json:"warnings"`
}

// Triggers concatenates the trigger rules of every imported workflow.
func (i Import) Triggers() []pipeline.TriggerRule {
	var out []pipeline.TriggerRule
	for _, wf := range i.Workflows {
		out = append(out, wf.Triggers...)
	}
	return out
}

// WarningStrings flattens warnings for display.
func (i Import) WarningStrings() []string {
	out := make([]string, 0, len(i.Warnings))
	for _, w := range i.Warnings {
		out = append(out, w.String())
	}
	return out
}
