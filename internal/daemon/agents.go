package daemon

import (
	"os"
	"path/filepath"

	"github.com/delegate-run/delegate/internal/agentstate"
	"github.com/delegate-run/delegate/internal/paths"
)

// aiAgents lists the AI agent names registered on a team: one directory
// per agent under teams/<uuid>/agents/, the same listing
// internal/merge.resolveManager reads to find a manager. There is no
// separate legacy "boss" role in this port (spec §4.10 item 3's "excludes
// ... legacy boss-role" caveat describes the original's migration
// history, not a role this implementation ever creates), so every
// directory entry is an AI agent.
func aiAgents(home, teamUUID string) []string {
	agentsDir := filepath.Join(paths.TeamDir(home, teamUUID), "agents")
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

// managerName returns the team's manager agent, defaulting to
// "delegate" when none has role "manager" — mirroring
// internal/merge.resolveManager's fallback exactly, since both need the
// same answer to the same question.
func managerName(home, teamUUID string) string {
	for _, name := range aiAgents(home, teamUUID) {
		state, err := agentstate.Read(home, teamUUID, name)
		if err == nil && state.Role == "manager" {
			return name
		}
	}
	return "delegate"
}
