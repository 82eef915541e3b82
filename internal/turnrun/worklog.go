package turnrun

import (
	"os"
	"strconv"
	"strings"

	"github.com/delegate-run/delegate/internal/paths"
)

// nextWorklogNumber returns the next 1-based worklog file number for an
// agent, scanning its logs directory for existing "<n>.worklog.md"
// files rather than keeping an in-memory counter (so it survives daemon
// restarts).
func nextWorklogNumber(home, teamUUID, agent string) int {
	entries, err := os.ReadDir(paths.AgentLogsDir(home, teamUUID, agent))
	if err != nil {
		return 1
	}
	max := 0
	for _, e := range entries {
		n, ok := strings.CutSuffix(e.Name(), ".worklog.md")
		if !ok {
			continue
		}
		if v, err := strconv.Atoi(n); err == nil && v > max {
			max = v
		}
	}
	return max + 1
}

// writeWorklog writes a turn's worklog lines to the agent's logs dir,
// creating the directory if needed.
func writeWorklog(home, teamUUID, agent string, lines []string) error {
	dir := paths.AgentLogsDir(home, teamUUID, agent)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	n := nextWorklogNumber(home, teamUUID, agent)
	return os.WriteFile(paths.AgentWorklogFile(home, teamUUID, agent, n), []byte(strings.Join(lines, "\n")), 0o644)
}
