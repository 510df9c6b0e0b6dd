package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bgricker/buildgate/internal/config"
	"github.com/bgricker/buildgate/internal/credential"
	"github.com/bgricker/buildgate/internal/discovery"
	"github.com/bgricker/buildgate/internal/logging"
	"github.com/bgricker/buildgate/internal/pipeline"
	"github.com/bgricker/buildgate/internal/provider"
	githubprovider "github.com/bgricker/buildgate/internal/provider/github"
	"github.com/bgricker/buildgate/internal/source"
	"github.com/bgricker/buildgate/internal/trigger"
)

// project bundles everything a command needs before it looks at an event.
type project struct {
	cwd      string
	root     string
	cfg      config.Config
	settings config.Settings
	def      pipeline.Definition
	matcher  *trigger.Matcher
	warnings []string
	logger   zerolog.Logger
}

// getenv is swapped in tests.
var getenv = os.Getenv

func loadProject(cmd *cobra.Command) (project, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return project{}, fmt.Errorf("determine working directory: %w", err)
	}

	settings, err := config.LoadSettings()
	if err != nil {
		return project{}, err
	}
	logger, err := logging.New(cmd.ErrOrStderr(), settings.LogLevel, settings.LogPrettyPrint)
	if err != nil {
		return project{}, err
	}

	cfg, root, err := loadConfig(cmd, cwd)
	if err != nil {
		return project{}, err
	}
	config.ApplySettings(&cfg, settings)
	flags, err := gatherFlags(cmd)
	if err != nil {
		return project{}, err
	}
	config.ApplyFlags(&cfg, flags)
	if err := checkFormat(cfg.Format); err != nil {
		return project{}, err
	}

	def := cfg.Definition()
	var warnings []string
	if len(def.Triggers) == 0 {
		imp, err := importTriggers(root, cfg.Workflow)
		if err != nil {
			return project{}, err
		}
		def.Triggers = imp.Triggers()
		warnings = imp.WarningStrings()
	}
	if err := def.Validate(); err != nil {
		return project{}, err
	}
	matcher, err := trigger.Compile(def.Triggers)
	if err != nil {
		return project{}, err
	}

	logger = logger.With().Str("pipeline", def.Name).Logger()
	if cfg.Path != "" {
		logger.Debug().Str("config", cfg.Path).Int("triggers", len(def.Triggers)).Msg("config loaded")
	}

	return project{
		cwd:      cwd,
		root:     root,
		cfg:      cfg,
		settings: settings,
		def:      def,
		matcher:  matcher,
		warnings: warnings,
		logger:   logger,
	}, nil
}

// loadConfig reads --config when given, else the nearest .buildgate.yml. The
// returned root is the directory holding the config file.
func loadConfig(cmd *cobra.Command, cwd string) (config.Config, string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, "", fmt.Errorf("parse --config: %w", err)
	}
	if path == "" {
		found, err := discovery.ConfigFile(cwd)
		if errors.Is(err, discovery.ErrNoConfig) {
			return config.Default(), cwd, nil
		}
		if err != nil {
			return config.Config{}, "", err
		}
		path = found
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		return config.Config{}, "", err
	}
	return cfg, filepath.Dir(path), nil
}

// importTriggers reads triggers from GitHub workflow files. Without an
// explicit workflow setting a repository with no workflows simply has no
// triggers.
func importTriggers(root, workflows string) (provider.Import, error) {
	paths, err := discovery.Workflows(root, workflows)
	if errors.Is(err, discovery.ErrNoWorkflows) && strings.TrimSpace(workflows) == "" {
		return provider.Import{}, nil
	}
	if err != nil {
		return provider.Import{}, err
	}
	return githubprovider.NewParser(root).Parse(paths)
}

// resolveEvent builds the event from --event/--branch/--commit, falling back
// to the GitHub Actions environment.
func resolveEvent(cmd *cobra.Command, root string) (pipeline.Event, error) {
	flags := cmd.Flags()
	if flags.Changed("event") || flags.Changed("branch") {
		name, _ := flags.GetString("event")
		branch, _ := flags.GetString("branch")
		commit, _ := flags.GetString("commit")
		if name == "" {
			name = string(pipeline.EventPush)
		}
		evType, err := pipeline.ParseEventType(name)
		if err != nil {
			return pipeline.Event{}, err
		}
		if strings.TrimSpace(branch) == "" {
			return pipeline.Event{}, errors.New("--branch is required with --event")
		}
		if commit == "" {
			if head, err := source.HeadCommit(root); err == nil {
				commit = head
			}
		}
		return pipeline.Event{Type: evType, Branch: branch, Commit: commit}, nil
	}

	ev, err := githubprovider.EventFromEnv(getenv)
	if errors.Is(err, githubprovider.ErrNoEvent) {
		return ev, fmt.Errorf("%w; pass --event and --branch", err)
	}
	return ev, err
}

// loadCredentials fills a store from the configured registries. Registries
// whose secrets are absent are only logged; a run that needs one fails with
// ErrCredentialNotFound before any step.
func loadCredentials(p project) (*credential.Resolver, error) {
	store := credential.NewStore()
	missing, err := store.LoadFromEnv(p.cfg.CredentialSources(), getenv)
	if err != nil {
		return nil, err
	}
	for _, registry := range missing {
		p.logger.Warn().Str("registry", registry).Msg("registry credentials not available")
	}
	if loaded := store.Registries(); len(loaded) > 0 {
		p.logger.Debug().Strs("registries", loaded).Msg("registry credentials loaded")
	}
	return credential.NewResolver(store), nil
}

// displayPath shows path relative to the working directory when it is below it.
func (p project) displayPath(path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(p.cwd, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func checkFormat(format string) error {
	switch strings.ToLower(format) {
	case config.FormatPretty, config.FormatJSON:
		return nil
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func printWarnings(cmd *cobra.Command, warnings []string) {
	for _, msg := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", msg)
	}
}
