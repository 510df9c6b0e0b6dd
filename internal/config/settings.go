package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings are process-level knobs read from BUILDGATE_* environment
// variables. They never describe the pipeline itself.
type Settings struct {
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"info"`
	LogPrettyPrint    bool          `envconfig:"LOG_PRETTY" default:"false"`
	Listen            string        `envconfig:"LISTEN" desc:"Address the webhook server listens on"`
	WebhookSecret     string        `envconfig:"WEBHOOK_SECRET" desc:"Shared secret for X-Hub-Signature-256"`
	MaxConcurrentRuns int           `envconfig:"MAX_CONCURRENT_RUNS" desc:"Runs executing at once in server mode"`
	DedupWindow       time.Duration `envconfig:"DEDUP_WINDOW" default:"10m" desc:"How long delivery ids are remembered"`
	WorkDir           string        `envconfig:"WORK_DIR" desc:"Parent directory for server-mode checkouts"`
}

// EnvPrefix is prepended to every settings variable.
const EnvPrefix = "buildgate"

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	return s, nil
}

// ApplySettings lets environment settings override the file's server block.
func ApplySettings(cfg *Config, s Settings) {
	if s.Listen != "" {
		cfg.Server.Listen = s.Listen
	}
	if s.MaxConcurrentRuns > 0 {
		cfg.Server.MaxConcurrent = s.MaxConcurrentRuns
	}
}
