package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bgricker/buildgate/internal/config"
)

func gatherFlags(cmd *cobra.Command) (config.FlagValues, error) {
	flags := cmd.Flags()
	var values config.FlagValues

	for name, target := range map[string]*config.StringFlag{
		"registry":     &values.Registry,
		"image":        &values.Image,
		"workflow":     &values.Workflow,
		"format":       &values.Format,
		"artifact-dir": &values.ArtifactDir,
		"log-dir":      &values.LogDir,
		"listen":       &values.Listen,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return values, fmt.Errorf("parse --%s: %w", name, err)
		}
		*target = config.StringFlag{Value: v, Set: true}
	}

	if flags.Changed("verbose") {
		v, err := flags.GetBool("verbose")
		if err != nil {
			return values, fmt.Errorf("parse --verbose: %w", err)
		}
		values.Verbose = config.BoolFlag{Value: v, Set: true}
	}

	if flags.Changed("timeout") {
		v, err := flags.GetDuration("timeout")
		if err != nil {
			return values, fmt.Errorf("parse --timeout: %w", err)
		}
		values.Timeout = config.DurationFlag{Value: v, Set: true}
	}

	return values, nil
}
