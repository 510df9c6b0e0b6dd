package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bgricker/buildgate/internal/config"
	"github.com/bgricker/buildgate/internal/output"
	githubprovider "github.com/bgricker/buildgate/internal/provider/github"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the trigger decision and the steps a run would execute",
		RunE:  runPlan,
	}
	addEventFlags(cmd)
	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	plan := output.Plan{
		Pipeline: p.def.Name,
		Source:   p.displayPath(p.cfg.Path),
		Registry: p.def.Registry,
		Image:    p.def.Image,
		Steps:    p.def.Steps,
	}

	event, err := resolveEvent(cmd, p.root)
	switch {
	case errors.Is(err, githubprovider.ErrNoEvent):
		plan.Reason = "no event given"
	case err != nil:
		return err
	default:
		decision := p.matcher.Match(event)
		plan.Event = event
		plan.Accepted = decision.Accepted
		plan.Reason = decision.Reason
	}

	return renderPlan(cmd, p, plan)
}

func renderPlan(cmd *cobra.Command, p project, plan output.Plan) error {
	if strings.ToLower(p.cfg.Format) == config.FormatJSON {
		return output.NewJSON(cmd.OutOrStdout()).Render(output.Report{Plan: &plan, Warnings: p.warnings})
	}
	if err := output.NewPretty(cmd.OutOrStdout(), p.cfg.Verbose).RenderPlan(plan); err != nil {
		return err
	}
	printWarnings(cmd, p.warnings)
	return nil
}
