package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/delegate-run/delegate/internal/config"
	"github.com/delegate-run/delegate/internal/db"
	"github.com/delegate-run/delegate/internal/gitutil"
	"github.com/delegate-run/delegate/internal/ids"
)

var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Register and inspect teams",
}

var (
	teamRepoFlags    []string
	teamApproval     string
	teamWorkflow     string
	teamDefaultHuman string
)

var teamCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register a team, its repos, and its approval policy",
	Long:  "Mints a team UUID, symlinks each --repo name=path into the team's namespace, and writes the team's entry in protected/config.yaml.",
	Args:  cobra.ExactArgs(1),
	RunE:  runTeamCreate,
}

var teamListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered teams",
	RunE:  runTeamList,
}

func init() {
	teamCreateCmd.Flags().StringArrayVar(&teamRepoFlags, "repo", nil, "repo to register, as name=path (repeatable)")
	teamCreateCmd.Flags().StringVar(&teamApproval, "approval", config.ApprovalManual, "approval mode: auto or manual")
	teamCreateCmd.Flags().StringVar(&teamWorkflow, "workflow", "default", "workflow name for this team's tasks")
	teamCreateCmd.Flags().StringVar(&teamDefaultHuman, "default-human", "", "anchor human for batch selection and startup notifications")

	teamCmd.AddCommand(teamCreateCmd, teamListCmd)
	rootCmd.AddCommand(teamCmd)
}

func runTeamCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	if teamApproval != config.ApprovalAuto && teamApproval != config.ApprovalManual {
		return fmt.Errorf("--approval must be %q or %q, got %q", config.ApprovalAuto, config.ApprovalManual, teamApproval)
	}

	repos := make([]config.RepoConfig, 0, len(teamRepoFlags))
	for _, spec := range teamRepoFlags {
		repoName, source, ok := strings.Cut(spec, "=")
		if !ok || repoName == "" || source == "" {
			return fmt.Errorf("--repo must be name=path, got %q", spec)
		}
		repos = append(repos, config.RepoConfig{Name: repoName, Source: source})
	}

	ctx := context.Background()
	h := home()

	d, err := db.Open(ctx, h)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer d.Close()

	resolver := ids.NewResolver(d)
	teamUUID, err := resolver.EnsureTeam(ctx, name)
	if err != nil {
		return fmt.Errorf("registering team %q: %w", name, err)
	}

	for _, rc := range repos {
		if err := gitutil.RegisterRepo(h, teamUUID, rc.Name, rc.Source); err != nil {
			return fmt.Errorf("registering repo %q: %w", rc.Name, err)
		}
	}

	tc := config.TeamConfig{
		Repos:        repos,
		ApprovalMode: teamApproval,
		Workflow:     teamWorkflow,
		DefaultHuman: teamDefaultHuman,
	}
	if err := config.SaveTeam(h, name, tc); err != nil {
		return fmt.Errorf("saving team config: %w", err)
	}

	fmt.Printf("team %q registered (uuid=%s) with %d repo(s)\n", name, teamUUID, len(repos))
	return nil
}

func runTeamList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(home())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if len(cfg.Teams) == 0 {
		fmt.Println("no teams registered")
		return nil
	}

	names := make([]string, 0, len(cfg.Teams))
	for name := range cfg.Teams {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tc := cfg.Teams[name]
		repoNames := make([]string, len(tc.Repos))
		for i, r := range tc.Repos {
			repoNames[i] = r.Name
		}
		fmt.Printf("%s\tapproval=%s\tworkflow=%s\trepos=%s\n", name, tc.ApprovalMode, tc.Workflow, strings.Join(repoNames, ","))
	}
	return nil
}
