package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bgricker/buildgate/internal/config"
	"github.com/bgricker/buildgate/internal/docker"
	"github.com/bgricker/buildgate/internal/metrics"
	"github.com/bgricker/buildgate/internal/output"
	"github.com/bgricker/buildgate/internal/pipeline"
	"github.com/bgricker/buildgate/internal/report"
	"github.com/bgricker/buildgate/internal/runner"
	"github.com/bgricker/buildgate/internal/step"
)

// newAdapters binds step actions to their collaborators. Tests replace it.
var newAdapters = dockerAdapters

func dockerAdapters(cfg config.Config, root string) (map[pipeline.Action]step.Adapter, func(), error) {
	cli, err := docker.NewClient()
	if err != nil {
		return nil, nil, err
	}
	adapters := step.Adapters(cli, cli, cli, cfg.ResolvePath(root, cfg.ArtifactDir))
	return adapters, func() { _ = cli.Close() }, nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline for one event; the exit status is the verdict",
		RunE:  runExecute,
	}
	addEventFlags(cmd)
	cmd.Flags().Duration("timeout", 0, "deadline for the whole run (0 disables)")
	cmd.Flags().String("artifact-dir", "", "directory receiving coverage artifacts")
	return cmd
}

func runExecute(cmd *cobra.Command, args []string) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	event, err := resolveEvent(cmd, p.root)
	if err != nil {
		return err
	}

	decision := p.matcher.Match(event)
	metrics.AddEvent(p.def.Name, decision.Accepted)
	if !decision.Accepted {
		p.logger.Info().Str("branch", event.Branch).Str("reason", decision.Reason).Msg("event ignored")
		return renderPlan(cmd, p, output.Plan{
			Pipeline: p.def.Name,
			Source:   p.displayPath(p.cfg.Path),
			Event:    event,
			Reason:   decision.Reason,
		})
	}

	resolver, err := loadCredentials(p)
	if err != nil {
		return err
	}
	adapters, closeAdapters, err := newAdapters(p.cfg, p.root)
	if err != nil {
		return err
	}
	defer closeAdapters()

	out := cmd.OutOrStdout()
	pretty := strings.ToLower(p.cfg.Format) == config.FormatPretty
	stream := pretty && isTerminal(out)
	opts := runner.Options{
		Logger:    p.logger,
		Workspace: p.root,
		LogDir:    p.cfg.ResolvePath(p.root, p.cfg.LogDir),
	}
	if stream {
		opts.Observer = output.NewStreamingPretty(out, p.cfg.Verbose)
	}
	exec := runner.New(resolver, adapters, opts)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	run, runErr := exec.Run(ctx, p.def, event)
	summary := report.Summarize(run, len(p.def.Steps))

	if pretty {
		if !stream || runErr != nil {
			if err := output.NewPretty(out, p.cfg.Verbose).RenderRun(run, summary); err != nil {
				return err
			}
		}
		printWarnings(cmd, p.warnings)
	} else {
		rep := output.Report{Run: run, Summary: &summary, Warnings: p.warnings}
		if runErr != nil {
			rep.Error = runErr.Error()
		}
		if err := output.NewJSON(out).Render(rep); err != nil {
			return err
		}
	}

	if runErr != nil {
		return &exitError{code: report.ExitNotStarted, err: runErr}
	}
	if summary.ExitCode != report.ExitSucceeded {
		return &exitError{code: summary.ExitCode, err: fmt.Errorf("pipeline failed: %s", summary.Failure)}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
