// Package config loads the daemon's runtime configuration: each team's
// repo roster, approval policy and workflow choice, and daemon-wide
// concurrency limits, from protected/config.yaml with DELEGATE_ env
// overrides. A companion Watcher (watcher.go) tails the file for
// manual edits so a repo's approval mode or a concurrency limit takes
// effect without a daemon restart.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/paths"
)

// RepoConfig names one repo registered to a team and the source path or
// URL gitutil.RegisterRepo symlinks it from.
type RepoConfig struct {
	Name   string `mapstructure:"name" yaml:"name"`
	Source string `mapstructure:"source" yaml:"source"`
}

// Approval modes a team's repos can run under. "auto" merges as soon as
// a task reaches in_approval; "manual" waits for a human approve/reject
// verdict via internal/review.
const (
	ApprovalAuto   = "auto"
	ApprovalManual = "manual"
)

// TeamConfig is one team's entry under the top-level teams map.
type TeamConfig struct {
	Repos        []RepoConfig `mapstructure:"repos" yaml:"repos"`
	ApprovalMode string       `mapstructure:"approval_mode" yaml:"approval_mode"`
	Workflow     string       `mapstructure:"workflow" yaml:"workflow"`
	DefaultHuman string       `mapstructure:"default_human" yaml:"default_human"`
}

// DaemonConfig bounds spec §4.10/§5's concurrency knobs.
type DaemonConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	TurnConcurrency    int           `mapstructure:"turn_concurrency" yaml:"turn_concurrency"`
	StartupNotifyDelay time.Duration `mapstructure:"startup_notify_delay" yaml:"startup_notify_delay"`
}

// Config is the decoded contents of protected/config.yaml.
type Config struct {
	Teams  map[string]TeamConfig `mapstructure:"teams"`
	Daemon DaemonConfig          `mapstructure:"daemon"`

	// Home is not decoded from the file; the loader stamps it in from
	// the path it was given.
	Home string `mapstructure:"-"`
}

// Defaults returns the configuration a fresh `protected/config.yaml`
// should be seeded with.
func Defaults() Config {
	return Config{
		Teams: map[string]TeamConfig{},
		Daemon: DaemonConfig{
			TickInterval:       time.Second,
			TurnConcurrency:    256,
			StartupNotifyDelay: 60 * time.Second,
		},
	}
}

// RepoApproval implements internal/merge.ApprovalResolver: a team/repo
// with no explicit approval_mode defaults to "manual", matching the
// original's conservative default (a repo must opt into auto-merge).
func (c *Config) RepoApproval(team, _ string) string {
	tc, ok := c.Teams[team]
	if !ok || tc.ApprovalMode == "" {
		return ApprovalManual
	}
	return tc.ApprovalMode
}

// TeamRepos returns the configured repo names for team, in declaration
// order, or nil if the team has none registered yet.
func (c *Config) TeamRepos(team string) []string {
	tc, ok := c.Teams[team]
	if !ok {
		return nil
	}
	repos := make([]string, len(tc.Repos))
	for i, r := range tc.Repos {
		repos[i] = r.Name
	}
	return repos
}

// DefaultHuman returns the team's anchor human for batch selection
// (spec §4.8) — the operator whose messages are prioritized and who
// receives onboarding/startup notifications. Empty if unset.
func (c *Config) DefaultHuman(team string) string {
	return c.Teams[team].DefaultHuman
}

// WorkflowFor returns the workflow name a team's tasks should be
// created with, defaulting to "default" when unset.
func (c *Config) WorkflowFor(team string) string {
	if tc, ok := c.Teams[team]; ok && tc.Workflow != "" {
		return tc.Workflow
	}
	return "default"
}

// Load reads protected/config.yaml under home via viper, applying
// DELEGATE_-prefixed env var overrides, and decodes it into a Config
// seeded with Defaults(). A missing file is not an error: defaults
// apply and the daemon runs against an empty team roster until one is
// registered via `delegate team create`.
func Load(home string) (*Config, error) {
	v := newViper(home)

	cfg := Defaults()
	if err := v.ReadInConfig(); err != nil {
		if !isConfigNotFound(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		log.Info(log.CatConfig, "no config file found, using defaults", "path", paths.ConfigFile(home))
	} else {
		log.Info(log.CatConfig, "config loaded", "path", v.ConfigFileUsed())
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Home = home
	return &cfg, nil
}

func newViper(home string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(paths.ConfigFile(home))
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DELEGATE")
	v.AutomaticEnv()

	defaults := Defaults()
	v.SetDefault("daemon.tick_interval", defaults.Daemon.TickInterval)
	v.SetDefault("daemon.turn_concurrency", defaults.Daemon.TurnConcurrency)
	v.SetDefault("daemon.startup_notify_delay", defaults.Daemon.StartupNotifyDelay)
	return v
}

func isConfigNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound)
}
