package daemon

import (
	"context"
	"fmt"

	"github.com/delegate-run/delegate/internal/agentstate"
	"github.com/delegate-run/delegate/internal/exchange"
	"github.com/delegate-run/delegate/internal/ids"
	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/orchestration/client"
	"github.com/delegate-run/delegate/internal/paths"
	"github.com/delegate-run/delegate/internal/telephone"
)

// BuildExchange wires one HeadlessAdapter (spawning `claude` CLI
// subprocesses, spec §6.4) into an exchange.Exchange whose per-(team,
// agent) Telephone factory reads the agent's on-disk state.yaml for its
// model, matching the teacher's one-AgentClient-implementation-per-
// provider-type pattern but fixed to the claude provider until per-team
// provider selection lands in internal/config.
func BuildExchange(home string, resolver *ids.Resolver) (*exchange.Exchange, error) {
	adapter, err := telephone.NewHeadlessAdapter(client.ClientClaude)
	if err != nil {
		return nil, fmt.Errorf("building headless adapter: %w", err)
	}

	return exchange.New(func(team, agent string) *telephone.Telephone {
		teamUUID, err := resolver.ResolveTeam(context.Background(), team)
		if err != nil {
			log.Warn(log.CatTelephone, "resolving team for telephone factory", "team", team, "err", err)
			return telephone.New(adapter, telephone.Config{CWD: paths.Home()})
		}

		state, err := agentstate.Read(home, teamUUID, agent)
		if err != nil {
			log.Warn(log.CatTelephone, "reading agent state for telephone factory", "team", team, "agent", agent, "err", err)
		}

		return telephone.New(adapter, telephone.Config{
			CWD:   paths.AgentDir(home, teamUUID, agent),
			Model: state.ResolvedModel(),
			DisallowedToolPatterns: []string{
				"git rebase", "git merge", "git pull", "git push", "git fetch",
				"git checkout", "git switch", "git reset --hard", "git worktree",
				"git branch", "git remote", "git filter-branch",
			},
		})
	}), nil
}
