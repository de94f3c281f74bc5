// Package config resolves the run configuration once at startup.
// Precedence: CLI flags > environment > optional JSON config file >
// defaults. The pipeline core never re-reads configuration mid-run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Bounds and defaults for the generation pipeline.
const (
	DefaultMaxStageRetries = 3

	MinParallelism     = 1
	MaxParallelism     = 6
	DefaultParallelism = 2

	// Expansion calls allowed per description subsection.
	DefaultExpansionCap = 2

	DefaultRequestTimeoutSeconds = 900

	// Long-form description sections get a wider window.
	LongSectionTimeoutSeconds = 1200

	DefaultOutputDir = "output"

	// EnvParallelism overrides the fan-out parallelism limit.
	EnvParallelism = "PATENT_DESCRIPTION_PARALLELISM"

	// DefaultFileName is looked up in the working directory when no
	// --config flag is given.
	DefaultFileName = "patentsmith.json"
)

// ResearchConfig controls the optional prior-art search collaborator.
type ResearchConfig struct {
	// Disabled forces the patent-searcher stage to be skipped even when
	// the search endpoint is reachable.
	Disabled bool `json:"disabled,omitempty"`

	// BrowserURL is a Chrome DevTools websocket endpoint used to fetch
	// full text for top search hits. Empty disables enrichment only.
	BrowserURL string `json:"browser_url,omitempty"`

	// MaxResults caps returned references. Zero means the default (8).
	MaxResults int `json:"max_results,omitempty"`
}

// Config is the resolved run configuration.
type Config struct {
	// Backend selects the model provider: anthropic, openai or gemini.
	// Empty means auto-detect from present credentials.
	Backend string `json:"backend,omitempty"`

	// Model and BaseURL override the provider defaults.
	Model   string `json:"model,omitempty"`
	BaseURL string `json:"base_url,omitempty"`

	// OutputDir is the root under which session directories are created.
	OutputDir string `json:"output_dir,omitempty"`

	// TaskPrompt carries extra operator constraints injected into every
	// stage prompt.
	TaskPrompt string `json:"task_prompt,omitempty"`

	MaxStageRetries int `json:"max_stage_retries,omitempty"`
	Parallelism     int `json:"parallelism,omitempty"`
	ExpansionCap    int `json:"expansion_cap,omitempty"`

	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty"`

	Research ResearchConfig `json:"research,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		OutputDir:             DefaultOutputDir,
		MaxStageRetries:       DefaultMaxStageRetries,
		Parallelism:           DefaultParallelism,
		ExpansionCap:          DefaultExpansionCap,
		RequestTimeoutSeconds: DefaultRequestTimeoutSeconds,
	}
}

// Load reads a JSON config file over the defaults. An empty path falls
// back to DefaultFileName when that file exists; a missing default file
// is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv layers recognized environment variables over the receiver.
func (c *Config) ApplyEnv() {
	if raw := os.Getenv(EnvParallelism); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			c.Parallelism = n
		}
	}
}

// Normalize clamps every tunable into its legal range and fills zero
// values with defaults. Call after all layers are applied.
func (c *Config) Normalize() {
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.MaxStageRetries < 1 {
		c.MaxStageRetries = DefaultMaxStageRetries
	}
	if c.Parallelism == 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.Parallelism < MinParallelism {
		c.Parallelism = MinParallelism
	}
	if c.Parallelism > MaxParallelism {
		c.Parallelism = MaxParallelism
	}
	if c.ExpansionCap < 1 {
		c.ExpansionCap = DefaultExpansionCap
	}
	if c.RequestTimeoutSeconds < 1 {
		c.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if c.Research.MaxResults < 1 {
		c.Research.MaxResults = 8
	}
}

// RequestTimeout returns the per-call wait for standard generation calls.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// LongSectionTimeout returns the per-call wait for long-form section
// generation and expansion calls.
func (c Config) LongSectionTimeout() time.Duration {
	return LongSectionTimeoutSeconds * time.Second
}
