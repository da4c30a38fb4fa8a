// Package config assembles the settings of a run.
//
// Values are layered, later layers winning:
//
//	defaults < config file (YAML or TOML) < INPUT_* environment < command-line flags
//
// The INPUT_* variables are how GitHub Actions hands action inputs to a
// container, so the bot runs unchanged as an action step. Config files may
// reference the environment with ${VAR}.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/joschi/blueskyfeedbot/internal/bluesky"
	"github.com/joschi/blueskyfeedbot/internal/pipeline"
)

// Defaults for optional settings.
const (
	DefaultHTTPTimeout = 30 * time.Second
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
)

// Config holds every run setting.
type Config struct {
	FeedURL          string `yaml:"feed_url" toml:"feed_url" json:"feed_url"`
	Template         string `yaml:"template" toml:"template" json:"template"`
	ServiceURL       string `yaml:"service_url" toml:"service_url" json:"service_url"`
	Username         string `yaml:"username" toml:"username" json:"username"`
	Password         string `yaml:"password" toml:"password" json:"password"`
	CacheFile        string `yaml:"cache_file" toml:"cache_file" json:"cache_file"`
	CacheLimit       int    `yaml:"cache_limit" toml:"cache_limit" json:"cache_limit"`
	InitialPostLimit int    `yaml:"initial_post_limit" toml:"initial_post_limit" json:"initial_post_limit"`
	PostLimit        int    `yaml:"post_limit" toml:"post_limit" json:"post_limit"`
	DryRun           bool   `yaml:"dry_run" toml:"dry_run" json:"dry_run"`
	DisableFacets    bool   `yaml:"disable_facets" toml:"disable_facets" json:"disable_facets"`
	UserAgent        string `yaml:"user_agent" toml:"user_agent" json:"user_agent"`
	MetricsFile      string `yaml:"metrics_file" toml:"metrics_file" json:"metrics_file"`
	LogLevel         string `yaml:"log_level" toml:"log_level" json:"log_level"`
	LogFormat        string `yaml:"log_format" toml:"log_format" json:"log_format"`

	// HTTPTimeoutRaw is the configured duration string; Validate parses it
	// into HTTPTimeout.
	HTTPTimeoutRaw string        `yaml:"http_timeout" toml:"http_timeout" json:"http_timeout"`
	HTTPTimeout    time.Duration `yaml:"-" toml:"-" json:"-"`
}

// Default returns a configuration with every optional setting at its default.
func Default() Config {
	return Config{
		ServiceURL:       bluesky.DefaultServiceURL,
		CacheLimit:       pipeline.DefaultCacheLimit,
		InitialPostLimit: pipeline.DefaultInitialPostLimit,
		PostLimit:        pipeline.DefaultPostLimit,
		HTTPTimeoutRaw:   DefaultHTTPTimeout.String(),
		HTTPTimeout:      DefaultHTTPTimeout,
		LogLevel:         DefaultLogLevel,
		LogFormat:        DefaultLogFormat,
	}
}

// LoadFile merges a config file into c. Files ending in .toml are read as
// TOML, anything else as YAML. Keys absent from the file keep their current
// values. ${VAR} references are replaced with environment values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, c); err != nil {
			return fmt.Errorf("parsing config file %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
			return fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	return nil
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarRe.FindStringSubmatch(match)[1])
	})
}

// Options converts the configuration into pipeline options.
func (c Config) Options() pipeline.Options {
	return pipeline.Options{
		FeedURL:          c.FeedURL,
		CacheLimit:       c.CacheLimit,
		InitialPostLimit: c.InitialPostLimit,
		PostLimit:        c.PostLimit,
		DryRun:           c.DryRun,
		DisableFacets:    c.DisableFacets,
	}
}

// Warnings lists settings that are valid but likely unintended.
func (c Config) Warnings() []string {
	var warnings []string
	if c.InitialPostLimit > c.CacheLimit {
		warnings = append(warnings, "initial-post-limit is greater than cache-limit, this might lead to unexpected results")
	}
	if c.PostLimit > c.CacheLimit {
		warnings = append(warnings, "post-limit is greater than cache-limit, this might lead to unexpected results")
	}
	return warnings
}

// LogValue implements slog.LogValuer with the password redacted.
func (c Config) LogValue() slog.Value {
	password := ""
	if c.Password != "" {
		password = "[redacted]"
	}
	return slog.GroupValue(
		slog.String("feed_url", c.FeedURL),
		slog.String("service_url", c.ServiceURL),
		slog.String("username", c.Username),
		slog.String("password", password),
		slog.String("cache_file", c.CacheFile),
		slog.Int("cache_limit", c.CacheLimit),
		slog.Int("initial_post_limit", c.InitialPostLimit),
		slog.Int("post_limit", c.PostLimit),
		slog.Bool("dry_run", c.DryRun),
		slog.Bool("disable_facets", c.DisableFacets),
		slog.Duration("http_timeout", c.HTTPTimeout),
		slog.String("metrics_file", c.MetricsFile),
	)
}
