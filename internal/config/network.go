package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/delegate-run/delegate/internal/paths"
)

// NetworkConfig is the decoded contents of protected/network.yaml: the
// outbound-host allowlist applied to sandboxed agent subprocesses
// (spec §6.4's `sandbox.network` options).
type NetworkConfig struct {
	AllowedHosts []string `mapstructure:"allowed_hosts"`
}

// Allows reports whether host is present in the allowlist. An empty
// allowlist denies everything, matching the original's fail-closed
// default (no network until a host is explicitly allowed).
func (n *NetworkConfig) Allows(host string) bool {
	for _, h := range n.AllowedHosts {
		if h == host {
			return true
		}
	}
	return false
}

// LoadNetwork reads protected/network.yaml under home. A missing file
// decodes to an empty (deny-all) NetworkConfig rather than an error.
func LoadNetwork(home string) (*NetworkConfig, error) {
	v := viper.New()
	v.SetConfigFile(paths.NetworkConfigFile(home))
	v.SetConfigType("yaml")

	var nc NetworkConfig
	if err := v.ReadInConfig(); err != nil {
		if !isConfigNotFound(err) {
			return nil, fmt.Errorf("reading network config: %w", err)
		}
		return &nc, nil
	}
	if err := v.Unmarshal(&nc); err != nil {
		return nil, fmt.Errorf("decoding network config: %w", err)
	}
	return &nc, nil
}
