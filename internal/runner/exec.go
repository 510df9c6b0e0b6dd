package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/bgricker/buildgate/internal/credential"
	"github.com/bgricker/buildgate/internal/metrics"
	"github.com/bgricker/buildgate/internal/pipeline"
	"github.com/bgricker/buildgate/internal/step"
)

// ErrUnknownAction is returned when a definition names an action with no
// bound adapter.
var ErrUnknownAction = errors.New("no adapter for action")

// CredentialResolver looks up registry credentials for a run.
type CredentialResolver interface {
	Resolve(registry string) (credential.Credentials, error)
}

// Observer receives live progress for a run. Calls happen on the executing
// goroutine, in order.
type Observer interface {
	RunStarted(run *pipeline.Run, steps []pipeline.Step)
	StepStarted(index int, st pipeline.Step)
	StepFinished(index int, result pipeline.StepResult)
	RunFinished(run *pipeline.Run)
}

// Options configure how the executor runs pipelines.
type Options struct {
	Logger zerolog.Logger
	// Workspace is the checked-out repository the steps operate on.
	Workspace string
	// LogDir, when set, receives one log file per step under <run id>/.
	LogDir    string
	TailLines int
	Observer  Observer
	Now       func() time.Time
	NewID     func() string
}

// Executor drives the steps of a pipeline definition for one event.
type Executor struct {
	resolver CredentialResolver
	adapters map[pipeline.Action]step.Adapter
	opts     Options
}

// New creates an executor with the supplied options.
func New(resolver CredentialResolver, adapters map[pipeline.Action]step.Adapter, opts Options) *Executor {
	if opts.TailLines <= 0 {
		opts.TailLines = 20
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return xid.New().String() }
	}
	return &Executor{resolver: resolver, adapters: adapters, opts: opts}
}

// WithWorkspace returns a copy of the executor bound to dir.
func (e *Executor) WithWorkspace(dir string) *Executor {
	cp := *e
	cp.opts.Workspace = dir
	return &cp
}

// WithRunID returns a copy of the executor whose next runs use id. Servers
// use it to hand out the id before the run starts.
func (e *Executor) WithRunID(id string) *Executor {
	cp := *e
	cp.opts.NewID = func() string { return id }
	return &cp
}

// WithObserver returns a copy of the executor reporting to o.
func (e *Executor) WithObserver(o Observer) *Executor {
	cp := *e
	cp.opts.Observer = o
	return &cp
}

// Run executes def for event. Steps run strictly in order and the first error
// outcome ends the run. A non-nil error means the run never started; the
// returned run is still pending in that case.
func (e *Executor) Run(ctx context.Context, def pipeline.Definition, event pipeline.Event) (*pipeline.Run, error) {
	run := pipeline.NewRun(e.opts.NewID(), def.Name, event)
	logger := e.opts.Logger.With().Str("run_id", run.ID).Str("pipeline", def.Name).Logger()
	ctx = logger.WithContext(ctx)

	if err := def.Validate(); err != nil {
		return run, err
	}
	for _, st := range def.Steps {
		if e.adapters[st.Action] == nil {
			return run, fmt.Errorf("%w: %s", ErrUnknownAction, st.Action)
		}
	}

	session, err := e.session(def)
	if err != nil {
		logger.Error().Err(err).Str("registry", def.Registry).Msg("run not started")
		return run, err
	}
	defer session.Close()

	metrics.RunStarted()
	defer metrics.RunDone()

	logger.Info().Str("event", string(event.Type)).Str("branch", event.Branch).Str("commit", event.Commit).Msg("run started")
	if e.opts.Observer != nil {
		e.opts.Observer.RunStarted(run, def.Steps)
	}

	for idx, st := range def.Steps {
		if err := run.Start(e.opts.Now()); err != nil {
			return run, err
		}
		if e.opts.Observer != nil {
			e.opts.Observer.StepStarted(idx, st)
		}

		start := e.opts.Now()
		result := e.execute(ctx, run.ID, def, event, st, session)
		result.Duration = e.opts.Now().Sub(start)

		if path, err := e.writeLog(run.ID, idx, st.Name, result.Log); err != nil {
			logger.Warn().Err(err).Str("step", st.Name).Msg("persist step log")
		} else if path != "" {
			logger.Debug().Str("step", st.Name).Str("path", path).Msg("step log written")
		}
		if result.Outcome == pipeline.OutcomeError {
			result.Log = tailLines(result.Log, e.opts.TailLines)
		} else {
			result.Log = ""
		}

		if err := run.Append(result, e.opts.Now()); err != nil {
			return run, err
		}
		recorded := run.Steps[len(run.Steps)-1]
		metrics.AddStep(def.Name, string(st.Action), string(recorded.Outcome), recorded.Duration)
		logStep(logger, recorded)
		if e.opts.Observer != nil {
			e.opts.Observer.StepFinished(idx, recorded)
		}

		if run.Status.Terminal() {
			break
		}
	}

	if !run.Status.Terminal() {
		if err := run.Succeed(e.opts.Now()); err != nil {
			return run, err
		}
	}

	metrics.AddRunFinished(def.Name, string(run.Status), run.Duration())
	ev := logger.Info()
	if run.Status == pipeline.StatusFailed {
		ev = logger.Warn()
	}
	ev.Str("status", string(run.Status)).Dur("duration", run.Duration()).Int("steps", len(run.Steps)).Msg("run finished")
	if e.opts.Observer != nil {
		e.opts.Observer.RunFinished(run)
	}
	return run, nil
}

func (e *Executor) session(def pipeline.Definition) (*step.Session, error) {
	if strings.TrimSpace(def.Registry) == "" {
		return step.NewSession(credential.Credentials{}, false), nil
	}
	if e.resolver == nil {
		return nil, fmt.Errorf("%w: %s", credential.ErrCredentialNotFound, def.Registry)
	}
	creds, err := e.resolver.Resolve(def.Registry)
	if err != nil {
		return nil, err
	}
	return step.NewSession(creds, true), nil
}

func (e *Executor) execute(ctx context.Context, runID string, def pipeline.Definition, event pipeline.Event, st pipeline.Step, session *step.Session) pipeline.StepResult {
	if err := ctx.Err(); err != nil {
		return pipeline.Failed(st, interruptDetail(err)+": deadline passed before the step started")
	}

	result := e.adapters[st.Action].Execute(ctx, step.Call{
		RunID:     runID,
		Step:      st,
		Event:     event,
		Image:     def.Image,
		Workspace: e.opts.Workspace,
		Session:   session,
	})
	result.StepName = st.Name
	result.Action = st.Action
	if result.Outcome != pipeline.OutcomeOK {
		result.Outcome = pipeline.OutcomeError
	}

	if result.Outcome == pipeline.OutcomeError {
		if err := ctx.Err(); err != nil {
			result.Detail = interruptDetail(err) + ": " + result.Detail
		}
	}
	return result
}

func interruptDetail(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "canceled"
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (e *Executor) writeLog(runID string, idx int, name, content string) (string, error) {
	if e.opts.LogDir == "" || content == "" {
		return "", nil
	}
	dir := filepath.Join(e.opts.LogDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%02d-%s.log", idx+1, unsafeName.ReplaceAllString(name, "-")))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write step log: %w", err)
	}
	return path, nil
}

func logStep(logger zerolog.Logger, res pipeline.StepResult) {
	ev := logger.Info()
	if res.Outcome == pipeline.OutcomeError {
		ev = logger.Error()
	}
	ev.Str("step", res.StepName).
		Str("action", string(res.Action)).
		Str("outcome", string(res.Outcome)).
		Str("detail", res.Detail).
		Str("reference", res.Reference).
		Dur("duration", res.Duration).
		Msg("step finished")
}

func tailLines(input string, maxLines int) string {
	if input == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(input, "\n"), "\n")
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}
