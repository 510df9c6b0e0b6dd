package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "buildgate",
		Short:         "Buildgate builds and tests a repository when a trigger matches",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	persistent := cmd.PersistentFlags()
	persistent.String("config", "", "config file (default: nearest .buildgate.yml)")
	persistent.String("workflow", "", "workflow files whose on: block supplies triggers (auto|file[,file])")
	persistent.String("registry", "", "container registry to authenticate against")
	persistent.String("image", "", "image repository to build")
	persistent.String("format", "pretty", "output format (pretty|json)")
	persistent.BoolP("verbose", "v", false, "show captured logs for failed steps")
	persistent.String("log-dir", "", "directory receiving full step logs")

	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func addEventFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("event", "", "event type (push|pull_request); default reads GITHUB_* variables")
	flags.String("branch", "", "target branch: the pushed branch or the pull request base")
	flags.String("commit", "", "commit sha (default: HEAD of the working tree)")
}
