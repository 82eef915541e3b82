// Package agentstate reads and writes an agent's state.yaml: role,
// model, seniority, and token budget. This is the one piece of agent
// configuration that lives on disk rather than in the database, since
// it is edited by hand as often as by the daemon.
package agentstate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/delegate-run/delegate/internal/paths"
)

// DefaultSeniority is used when state.yaml omits seniority entirely.
const DefaultSeniority = "junior"

// SeniorityModels maps the legacy seniority field to a concrete model
// name. An explicit Model in state.yaml always wins over this mapping.
var SeniorityModels = map[string]string{
	"senior": "opus",
	"junior": "sonnet",
}

// State is the decoded contents of an agent's state.yaml.
type State struct {
	Role        string `yaml:"role"`
	Model       string `yaml:"model,omitempty"`
	Seniority   string `yaml:"seniority,omitempty"`
	TokenBudget int    `yaml:"token_budget,omitempty"`
	PID         int    `yaml:"pid,omitempty"`
}

// ResolvedModel returns Model if set, else the seniority mapping, else
// the default seniority's model.
func (s State) ResolvedModel() string {
	if s.Model != "" {
		return s.Model
	}
	seniority := s.Seniority
	if seniority == "" {
		seniority = DefaultSeniority
	}
	if m, ok := SeniorityModels[seniority]; ok {
		return m
	}
	return SeniorityModels[DefaultSeniority]
}

// MaxTurns computes the legacy sdk_query max_turns cap from the token
// budget: one turn per ~4000 tokens, at least 1. Returns 0 (unbounded)
// when no budget is set.
func (s State) MaxTurns() int {
	if s.TokenBudget <= 0 {
		return 0
	}
	if n := s.TokenBudget / 4000; n > 1 {
		return n
	}
	return 1
}

// Read loads an agent's state.yaml. A missing role defaults to
// "engineer", matching the original implementation's read-side default.
func Read(home, teamUUID, agent string) (State, error) {
	data, err := os.ReadFile(paths.AgentStateFile(home, teamUUID, agent))
	if err != nil {
		if os.IsNotExist(err) {
			return State{Role: "engineer"}, nil
		}
		return State{}, fmt.Errorf("agentstate: reading state.yaml for %s: %w", agent, err)
	}

	var s State
	if err := yaml.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("agentstate: parsing state.yaml for %s: %w", agent, err)
	}
	if s.Role == "" {
		s.Role = "engineer"
	}
	return s, nil
}

// Write persists state.yaml, creating the agent directory if needed.
func Write(home, teamUUID, agent string, s State) error {
	dir := paths.AgentDir(home, teamUUID, agent)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("agentstate: creating agent dir for %s: %w", agent, err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("agentstate: encoding state.yaml for %s: %w", agent, err)
	}
	if err := os.WriteFile(paths.AgentStateFile(home, teamUUID, agent), data, 0o644); err != nil {
		return fmt.Errorf("agentstate: writing state.yaml for %s: %w", agent, err)
	}
	return nil
}
