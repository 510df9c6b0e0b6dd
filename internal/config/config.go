package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bgricker/buildgate/internal/credential"
	"github.com/bgricker/buildgate/internal/pipeline"
)

// FileName is the repository-level configuration file.
const FileName = ".buildgate.yml"

// Config captures the pipeline definition plus CLI options sourced from
// config files or flags.
type Config struct {
	Name     string                 `yaml:"name"`
	Registry string                 `yaml:"registry"`
	Image    string                 `yaml:"image"`
	Triggers []pipeline.TriggerRule `yaml:"triggers"`
	Steps    []pipeline.Step        `yaml:"steps"`

	// Workflow points at a GitHub Actions workflow whose `on:` block
	// supplies the triggers when none are listed here.
	Workflow string `yaml:"workflow"`

	Registries []RegistryConfig `yaml:"registries"`

	Format      string        `yaml:"format"`
	Verbose     bool          `yaml:"verbose"`
	Timeout     time.Duration `yaml:"timeout"`
	ArtifactDir string        `yaml:"artifact_dir"`
	LogDir      string        `yaml:"log_dir"`

	Server ServerConfig `yaml:"server"`

	// Path is the file the config was read from, empty for defaults.
	Path string `yaml:"-"`
}

// RegistryConfig describes where credentials for one registry come from.
type RegistryConfig struct {
	Name         string `yaml:"name"`
	Principal    string `yaml:"principal"`
	PrincipalEnv string `yaml:"principal_env"`
	SecretEnv    string `yaml:"secret_env"`
	SecretFile   string `yaml:"secret_file"`
}

// ServerConfig controls `buildgate serve`.
type ServerConfig struct {
	Listen        string `yaml:"listen"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

const (
	// FormatPretty renders human readable output.
	FormatPretty = "pretty"
	// FormatJSON renders machine readable output.
	FormatJSON = "json"
)

// Default returns the baseline configuration used when no flags or config file specify values.
func Default() Config {
	return Config{
		Name:   "buildgate",
		Format: FormatPretty,
		Server: ServerConfig{
			Listen:        ":8080",
			MaxConcurrent: 4,
		},
	}
}

// LoadFile reads an explicit config file, which must exist.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config %q: %w", path, err)
		}
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg = merge(cfg, fileCfg)
	cfg.Path = path
	return cfg, nil
}

func merge(base, override Config) Config {
	out := base

	if override.Name != "" {
		out.Name = override.Name
	}
	if override.Registry != "" {
		out.Registry = override.Registry
	}
	if override.Image != "" {
		out.Image = override.Image
	}
	if len(override.Triggers) > 0 {
		out.Triggers = append([]pipeline.TriggerRule{}, override.Triggers...)
	}
	if len(override.Steps) > 0 {
		out.Steps = append([]pipeline.Step{}, override.Steps...)
	}
	if override.Workflow != "" {
		out.Workflow = override.Workflow
	}
	if len(override.Registries) > 0 {
		out.Registries = append([]RegistryConfig{}, override.Registries...)
	}
	if override.Format != "" {
		out.Format = override.Format
	}
	if override.Verbose {
		out.Verbose = true
	}
	if override.Timeout > 0 {
		out.Timeout = override.Timeout
	}
	if override.ArtifactDir != "" {
		out.ArtifactDir = override.ArtifactDir
	}
	if override.LogDir != "" {
		out.LogDir = override.LogDir
	}
	if override.Server.Listen != "" {
		out.Server.Listen = override.Server.Listen
	}
	if override.Server.MaxConcurrent > 0 {
		out.Server.MaxConcurrent = override.Server.MaxConcurrent
	}

	return out
}

// Definition returns the pipeline definition described by cfg.
func (c Config) Definition() pipeline.Definition {
	return pipeline.Definition{
		Name:     c.Name,
		Registry: c.Registry,
		Image:    c.Image,
		Triggers: append([]pipeline.TriggerRule{}, c.Triggers...),
		Steps:    append([]pipeline.Step{}, c.Steps...),
	}
}

// CredentialSources converts the registry entries for the credential store.
// Relative secret files resolve against the config file's directory.
func (c Config) CredentialSources() []credential.Source {
	base := ""
	if c.Path != "" {
		base = filepath.Dir(c.Path)
	}
	out := make([]credential.Source, 0, len(c.Registries))
	for _, r := range c.Registries {
		file := strings.TrimSpace(r.SecretFile)
		if file != "" && !filepath.IsAbs(file) && base != "" {
			file = filepath.Join(base, file)
		}
		out = append(out, credential.Source{
			Registry:     r.Name,
			Principal:    r.Principal,
			PrincipalEnv: r.PrincipalEnv,
			SecretEnv:    r.SecretEnv,
			SecretFile:   file,
		})
	}
	return out
}

// ResolvePath anchors a path from the config against the config file's
// directory, falling back to root.
func (c Config) ResolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if c.Path != "" {
		return filepath.Join(filepath.Dir(c.Path), p)
	}
	return filepath.Join(root, p)
}

// ApplyFlags mutates cfg by applying values from CLI flags when they are present.
func ApplyFlags(cfg *Config, flags FlagValues) {
	if flags.Registry.Set {
		cfg.Registry = flags.Registry.Value
	}
	if flags.Image.Set {
		cfg.Image = flags.Image.Value
	}
	if flags.Workflow.Set {
		cfg.Workflow = flags.Workflow.Value
	}
	if flags.Format.Set {
		cfg.Format = flags.Format.Value
	}
	if flags.Verbose.Set {
		cfg.Verbose = flags.Verbose.Value
	}
	if flags.Timeout.Set {
		cfg.Timeout = flags.Timeout.Value
	}
	if flags.ArtifactDir.Set {
		cfg.ArtifactDir = flags.ArtifactDir.Value
	}
	if flags.LogDir.Set {
		cfg.LogDir = flags.LogDir.Value
	}
	if flags.Listen.Set {
		cfg.Server.Listen = flags.Listen.Value
	}
}

// FlagValues captures CLI flag state with knowledge of whether each flag was set explicitly.
type FlagValues struct {
	Registry    StringFlag
	Image       StringFlag
	Workflow    StringFlag
	Format      StringFlag
	Verbose     BoolFlag
	Timeout     DurationFlag
	ArtifactDir StringFlag
	LogDir      StringFlag
	Listen      StringFlag
}

// StringFlag represents a string flag and whether it was set.
type StringFlag struct {
	Value string
	Set   bool
}

// BoolFlag represents a bool flag and whether it was set.
type BoolFlag struct {
	Value bool
	Set   bool
}

// DurationFlag represents a duration flag and whether it was set.
type DurationFlag struct {
	Value time.Duration
	Set   bool
}
