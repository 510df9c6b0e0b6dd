package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// EventType identifies the kind of repository event.
type EventType string

const (
	EventPush        EventType = "push"
	EventPullRequest EventType = "pull_request"
)

// ParseEventType maps a raw event name onto a known EventType.
func ParseEventType(raw string) (EventType, error) {
	switch EventType(strings.TrimSpace(raw)) {
	case EventPush:
		return EventPush, nil
	case EventPullRequest:
		return EventPullRequest, nil
	default:
		return "", fmt.Errorf("unsupported event type %q", raw)
	}
}

// Event is a repository state change reported by the host. Branch is the
// target branch: the pushed branch for push, the base branch for pull requests.
type Event struct {
	Type       EventType `json:"type"`
	Branch     string    `json:"branch"`
	Commit     string    `json:"commit,omitempty"`
	Repository string    `json:"repository,omitempty"`
	CloneURL   string    `json:"clone_url,omitempty"`
	HeadBranch string    `json:"head_branch,omitempty"`
}

// TriggerRule lists the event types and branches that start a run.
type TriggerRule struct {
	Events   []EventType `json:"events" yaml:"events"`
	Branches []string    `json:"branches" yaml:"branches"`
}

// Action names the external action a step performs.
type Action string

const (
	ActionAuthenticate Action = "authenticate"
	ActionBuildImage   Action = "build_image"
	ActionRunCommand   Action = "run_command"
)

// Known reports whether a is one of the supported actions.
func (a Action) Known() bool {
	switch a {
	case ActionAuthenticate, ActionBuildImage, ActionRunCommand:
		return true
	}
	return false
}

// StepConfig carries per-action configuration. Fields irrelevant to the
// step's action are ignored.
type StepConfig struct {
	Context    string            `json:"context,omitempty" yaml:"context"`
	Dockerfile string            `json:"dockerfile,omitempty" yaml:"dockerfile"`
	Tag        string            `json:"tag,omitempty" yaml:"tag"`
	BuildArgs  map[string]string `json:"build_args,omitempty" yaml:"build_args"`

	Image      string            `json:"image,omitempty" yaml:"image"`
	Command    string            `json:"command,omitempty" yaml:"command"`
	WorkingDir string            `json:"working_directory,omitempty" yaml:"working-directory"`
	Env        map[string]string `json:"env,omitempty" yaml:"env"`
	Coverage   string            `json:"coverage,omitempty" yaml:"coverage"`
}

// Step is one unit of work in a pipeline.
type Step struct {
	Name   string     `json:"name" yaml:"name"`
	Action Action     `json:"action" yaml:"action"`
	With   StepConfig `json:"with" yaml:"with"`
}

// Definition is the static pipeline loaded at process start.
type Definition struct {
	Name     string        `json:"name" yaml:"name"`
	Registry string        `json:"registry,omitempty" yaml:"registry"`
	Image    string        `json:"image,omitempty" yaml:"image"`
	Triggers []TriggerRule `json:"triggers" yaml:"triggers"`
	Steps    []Step        `json:"steps" yaml:"steps"`
}

// ErrInvalidDefinition is wrapped by every Validate failure.
var ErrInvalidDefinition = errors.New("invalid pipeline definition")

// Validate checks structural rules that must hold before any run starts.
func (d Definition) Validate() error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidDefinition)
	}
	seen := make(map[string]struct{}, len(d.Steps))
	needsRegistry := false
	for idx, step := range d.Steps {
		name := strings.TrimSpace(step.Name)
		if name == "" {
			return fmt.Errorf("%w: step %d has no name", ErrInvalidDefinition, idx+1)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate step name %q", ErrInvalidDefinition, name)
		}
		seen[name] = struct{}{}
		if !step.Action.Known() {
			return fmt.Errorf("%w: step %q has unknown action %q", ErrInvalidDefinition, name, step.Action)
		}
		switch step.Action {
		case ActionAuthenticate:
			needsRegistry = true
		case ActionRunCommand:
			if strings.TrimSpace(step.With.Command) == "" {
				return fmt.Errorf("%w: step %q has no command", ErrInvalidDefinition, name)
			}
		}
	}
	if needsRegistry && strings.TrimSpace(d.Registry) == "" {
		return fmt.Errorf("%w: authenticate step requires a registry", ErrInvalidDefinition)
	}
	for idx, rule := range d.Triggers {
		for _, ev := range rule.Events {
			if _, err := ParseEventType(string(ev)); err != nil {
				return fmt.Errorf("%w: trigger %d: %v", ErrInvalidDefinition, idx+1, err)
			}
		}
	}
	return nil
}
