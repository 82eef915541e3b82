package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/delegate-run/delegate/internal/paths"
)

// WriteDefaultConfig writes Defaults() to protected/config.yaml under
// home if no file exists there yet, creating the protected directory
// as needed. It never overwrites an existing file.
func WriteDefaultConfig(home string) error {
	path := paths.ConfigFile(home)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating protected dir: %w", err)
	}

	out, err := yaml.Marshal(configDoc{Teams: map[string]TeamConfig{}, Daemon: Defaults().Daemon})
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}

// configDoc mirrors Config's persisted shape; Config also carries a
// Home field that is never written back to disk.
type configDoc struct {
	Teams  map[string]TeamConfig `yaml:"teams"`
	Daemon DaemonConfig          `yaml:"daemon"`
}

// SaveTeam adds or replaces one team's entry in protected/config.yaml,
// creating the file with Defaults() first if it does not exist yet.
// Used by `delegate team create` — the only writer of config.yaml
// outside of a human hand-editing it (which the Watcher then picks up).
func SaveTeam(home, name string, tc TeamConfig) error {
	cfg, err := Load(home)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Teams == nil {
		cfg.Teams = map[string]TeamConfig{}
	}
	cfg.Teams[name] = tc

	path := paths.ConfigFile(home)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating protected dir: %w", err)
	}
	out, err := yaml.Marshal(configDoc{Teams: cfg.Teams, Daemon: cfg.Daemon})
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
