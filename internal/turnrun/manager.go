package turnrun

import (
	"os"
	"path/filepath"

	"github.com/delegate-run/delegate/internal/agentstate"
	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/paths"
)

// resolveManager scans a team's agent directories for the first one
// whose state.yaml declares role: manager, falling back to "delegate"
// when none does — the file-backed equivalent of the original
// bootstrap.get_member_by_role(team, "manager") lookup, since roles
// live in each agent's state file rather than a team-wide roster row.
func (r *Runner) resolveManager(team Team) string {
	agentsDir := filepath.Join(paths.TeamDir(r.Home, team.UUID), "agents")
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		return "delegate"
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st, err := agentstate.Read(r.Home, team.UUID, e.Name())
		if err != nil {
			log.Debug(log.CatTurn, "reading agent state while resolving manager", "agent", e.Name(), "err", err)
			continue
		}
		if st.Role == "manager" {
			return e.Name()
		}
	}
	return "delegate"
}
