package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix is prepended to option names to form environment variable names.
const EnvPrefix = "INPUT_"

type setter func(c *Config, value string) error

func setString(field func(*Config) *string) setter {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) setter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*field(c) = n
		return nil
	}
}

func setBool(field func(*Config) *bool) setter {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("not a boolean: %q", v)
		}
		*field(c) = b
		return nil
	}
}

// setters maps option names to fields. Names match the command-line flags.
var setters = map[string]setter{
	"feed-url":           setString(func(c *Config) *string { return &c.FeedURL }),
	"template":           setString(func(c *Config) *string { return &c.Template }),
	"service-url":        setString(func(c *Config) *string { return &c.ServiceURL }),
	"username":           setString(func(c *Config) *string { return &c.Username }),
	"password":           setString(func(c *Config) *string { return &c.Password }),
	"cache-file":         setString(func(c *Config) *string { return &c.CacheFile }),
	"cache-limit":        setInt(func(c *Config) *int { return &c.CacheLimit }),
	"initial-post-limit": setInt(func(c *Config) *int { return &c.InitialPostLimit }),
	"post-limit":         setInt(func(c *Config) *int { return &c.PostLimit }),
	"dry-run":            setBool(func(c *Config) *bool { return &c.DryRun }),
	"disable-facets":     setBool(func(c *Config) *bool { return &c.DisableFacets }),
	"http-timeout":       setString(func(c *Config) *string { return &c.HTTPTimeoutRaw }),
	"user-agent":         setString(func(c *Config) *string { return &c.UserAgent }),
	"metrics-file":       setString(func(c *Config) *string { return &c.MetricsFile }),
	"log-level":          setString(func(c *Config) *string { return &c.LogLevel }),
	"log-format":         setString(func(c *Config) *string { return &c.LogFormat }),
}

// aliases maps legacy option names to current ones.
var aliases = map[string]string{
	"rss-feed": "feed-url",
}

// envOrder fixes the order ApplyEnv visits options, so an alias is applied
// before the name it stands for and the current name wins.
var envOrder = []string{
	"rss-feed", "feed-url", "template", "service-url", "username", "password",
	"cache-file", "cache-limit", "initial-post-limit", "post-limit",
	"dry-run", "disable-facets", "http-timeout", "user-agent",
	"metrics-file", "log-level", "log-format",
}

// Set assigns one option by name, as used for flags and environment
// variables.
func (c *Config) Set(name, value string) error {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	set, ok := setters[name]
	if !ok {
		return fmt.Errorf("unknown option %q", name)
	}
	if err := set(c, value); err != nil {
		return fmt.Errorf("option %s: %w", name, err)
	}
	return nil
}

// EnvNames returns the environment variables consulted for an option, in
// lookup order: the GitHub Actions form (INPUT_FEED-URL) first, then the
// shell-friendly form (INPUT_FEED_URL).
func EnvNames(option string) []string {
	upper := EnvPrefix + strings.ToUpper(option)
	underscored := strings.ReplaceAll(upper, "-", "_")
	if underscored == upper {
		return []string{upper}
	}
	return []string{upper, underscored}
}

// ApplyEnv sets options from INPUT_* variables. Empty values are ignored,
// since GitHub Actions passes unset inputs as empty strings.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, name := range envOrder {
		for _, key := range EnvNames(name) {
			v, ok := lookup(key)
			if !ok || v == "" {
				continue
			}
			if err := c.Set(name, v); err != nil {
				return fmt.Errorf("environment %s: %w", key, err)
			}
			break
		}
	}
	return nil
}

// OptionNames returns every option name accepted by Set, legacy aliases
// first. Applying options in this order lets a current name override its
// alias.
func OptionNames() []string {
	return append([]string(nil), envOrder...)
}

// IsAlias reports whether name is a legacy option name.
func IsAlias(name string) bool {
	_, ok := aliases[name]
	return ok
}
