// Package prompt composes the two pieces of text that feed every agent
// turn: the stable preamble (team/role charter, overrides, repo
// instructions, reflections) installed on a Telephone, and the volatile
// per-turn user message (task context, conversation history, new
// messages).
package prompt

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/delegate-run/delegate/internal/charter"
	"github.com/delegate-run/delegate/internal/mailbox"
	"github.com/delegate-run/delegate/internal/paths"
	"github.com/delegate-run/delegate/internal/tasks"
)

// HistoryWithPeer and HistoryWithOthers bound how much recent
// conversation is folded into a turn's user message.
const (
	HistoryWithPeer   = 10
	HistoryWithOthers = 6
)

// AgentInfo is the resolved identity a Builder needs: role/model are
// looked up by the caller (state.yaml equivalent) since that resolution
// lives with agent state, not prompt composition.
type AgentInfo struct {
	Role        string
	Model       string
	HumanName   string
	ManagerName string
}

// Builder composes preambles and user messages for one agent. Construct
// one per turn (or reuse across turns within a run_turn call); it holds
// no mutable state beyond its inputs.
type Builder struct {
	Home     string
	Team     string
	TeamUUID string
	Agent    string
	Info     AgentInfo

	Mailbox *mailbox.Box
	Tasks   *tasks.Store
	Repos   []string // registered repo names, for instruction-file collection
}

// BuildPreamble assembles the stable preamble installed on a Telephone.
// Rebuilt every turn (spec §4.8 step 8); the caller rotates the
// Telephone when the result differs from what's currently installed.
func (b *Builder) BuildPreamble() string {
	var sb strings.Builder

	sb.WriteString("=== TEAM CHARTER ===\n\n")
	sb.WriteString(b.charterBlock())
	sb.WriteString(b.roleCharterBlock())
	sb.WriteString(b.teamOverrideBlock())
	sb.WriteString(b.repoInstructionsBlock())

	fmt.Fprintf(&sb, "\n\n=== AGENT IDENTITY ===\n\n"+
		"You are %s (role: %s, model: %s), a team member in the Delegate system.\n"+
		"%s is the human team member. You report to %s (%s).\n\n"+
		"CRITICAL: You communicate ONLY by using MCP tools. Your conversational\n"+
		"replies are NOT seen by anyone — they only go to an internal log. To send a\n"+
		"message that another agent or %s will read, you MUST use the\n"+
		"mailbox_send tool.\n\n"+
		"The task_id parameter is REQUIRED when the message relates to a specific task.\n\n"+
		"=== AVAILABLE TOOLS ===\n\n"+
		"Communication:\n"+
		"  mailbox_send(recipient, message, task_id) — send a message to a team member\n"+
		"  mailbox_inbox() — check your unread messages\n\n"+
		"Task management:\n"+
		"  task_create(title, description?, priority?, repo?, depends_on?) — create a task\n"+
		"  task_list(status?, assignee?) — list tasks with optional filters\n"+
		"  task_show(task_id) — show task details\n"+
		"  task_assign(task_id, assignee) — assign a task\n"+
		"  task_status(task_id, new_status) — change task status\n"+
		"  task_comment(task_id, body) — add a comment to a task\n"+
		"  task_cancel(task_id) — cancel a task (manager only)\n"+
		"  task_attach(task_id, file_path) — attach a file to a task\n"+
		"  task_detach(task_id, file_path) — remove an attachment\n\n"+
		"Repository:\n"+
		"  repo_list() — list registered repositories\n\n"+
		"Use these tools directly — do NOT run CLI commands for messaging or task management.\n"+
		"For coding work, use standard bash, file editing, and git (add, commit, diff, log, status).",
		b.Agent, b.Info.Role, b.Info.Model, b.Info.HumanName, b.Info.ManagerName, b.Info.Role, b.Info.HumanName)

	sb.WriteString(b.inlinedNotesBlock())
	sb.WriteString("\n\nREFERENCE FILES (read as needed):\n")
	sb.WriteString(b.filesBlock())
	sb.WriteString(fmt.Sprintf("\n\nTeam data: %s/teams/%s/", b.Home, b.Team))

	return sb.String()
}

func (b *Builder) charterBlock() string {
	fs := charter.FS()
	var sections []string
	for _, name := range charter.SharedFiles {
		data, err := readFSFile(fs, name)
		if err == nil && strings.TrimSpace(string(data)) != "" {
			sections = append(sections, strings.TrimSpace(string(data)))
		}
	}
	return strings.Join(sections, "\n\n---\n\n")
}

func (b *Builder) roleCharterBlock() string {
	fs := charter.FS()
	data, err := readFSFile(fs, "roles/"+charter.RoleFile(b.Info.Role))
	if err != nil || strings.TrimSpace(string(data)) == "" {
		return ""
	}
	return "\n\n---\n\n" + strings.TrimSpace(string(data))
}

func (b *Builder) teamOverrideBlock() string {
	overridePath := filepath.Join(paths.TeamDir(b.Home, b.TeamUUID), "override.md")
	content := readFileTrimmed(overridePath)
	if content == "" {
		return ""
	}
	return "\n\n---\n\n# Team Overrides\n\n" + content
}

func (b *Builder) repoInstructionsBlock() string {
	var sections []string
	for _, repoName := range b.Repos {
		real, err := filepath.EvalSymlinks(paths.RepoLink(b.Home, b.TeamUUID, repoName))
		if err != nil {
			continue
		}
		if collected := collectInstructionFiles(real); collected != "" {
			sections = append(sections, collected)
		}
	}
	if len(sections) == 0 {
		return ""
	}
	return "\n\n=== REPO INSTRUCTIONS ===\n" +
		"(From instruction files found in registered repositories.)\n\n" +
		strings.Join(sections, "\n\n---\n\n")
}

// instructionFileCandidates is the fixed search order for a repo's own
// agent-facing instruction files.
var instructionFileCandidates = []string{"CLAUDE.md", "AGENTS.md", ".delegate/instructions.md"}

func collectInstructionFiles(repoPath string) string {
	var sections []string
	for _, name := range instructionFileCandidates {
		content := readFileTrimmed(filepath.Join(repoPath, name))
		if content != "" {
			sections = append(sections, fmt.Sprintf("--- %s ---\n\n%s", name, content))
		}
	}
	return strings.Join(sections, "\n\n")
}

func (b *Builder) inlinedNotesBlock() string {
	var sb strings.Builder
	notesDir := paths.AgentNotesDir(b.Home, b.TeamUUID, b.Agent)

	if content := readFileTrimmed(filepath.Join(notesDir, "reflections.md")); content != "" {
		sb.WriteString("\n\n=== YOUR REFLECTIONS ===\n" +
			"(Lessons learned from past work — apply these going forward.)\n\n" + content)
	}
	if content := readFileTrimmed(filepath.Join(notesDir, "feedback.md")); content != "" {
		sb.WriteString("\n\n=== FEEDBACK YOU'VE RECEIVED ===\n" +
			"(From teammates and reviews — use this to improve.)\n\n" + content)
	}
	return sb.String()
}

func (b *Builder) filesBlock() string {
	lines := []string{
		fmt.Sprintf("  %s/teams/%s/roster.md                     — team roster", b.Home, b.Team),
		fmt.Sprintf("  %s/*/bio.md       — teammate backgrounds", paths.AgentDir(b.Home, b.TeamUUID, "")),
	}

	journalsDir := paths.AgentJournalsDir(b.Home, b.TeamUUID, b.Agent)
	if dirHasEntries(journalsDir) {
		lines = append(lines, fmt.Sprintf("  %s/T*.md          — your past task journals", journalsDir))
	}

	notesDir := paths.AgentNotesDir(b.Home, b.TeamUUID, b.Agent)
	entries, _ := os.ReadDir(notesDir)
	inlined := map[string]bool{"reflections.md": true, "feedback.md": true}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") || inlined[e.Name()] {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".md")
		lines = append(lines, fmt.Sprintf("  %s  — %s", filepath.Join(notesDir, e.Name()), strings.ReplaceAll(stem, "-", " ")))
	}

	shared := paths.SharedDir(b.Home, b.TeamUUID)
	if dirHasEntries(shared) {
		lines = append(lines, fmt.Sprintf("  %s/                     — team shared docs, specs, scripts", shared))
	}

	return strings.Join(lines, "\n")
}

// BuildUserMessage assembles the volatile per-turn message: previous
// session context, current task context, conversation history and new
// messages, and other assigned tasks.
func (b *Builder) BuildUserMessage(ctx context.Context, batch []mailbox.Message, currentTask *tasks.Task, workspacePaths WorkspacePaths) (string, error) {
	var parts []string

	if ctxBlock := b.contextMDBlock(); ctxBlock != "" {
		parts = append(parts, ctxBlock)
	}

	if currentTask != nil {
		parts = append(parts, b.taskContextBlock(ctx, *currentTask, workspacePaths))
	}

	historyBlock, err := b.messagesBlock(ctx, batch)
	if err != nil {
		return "", err
	}
	parts = append(parts, historyBlock)

	if otherTasks, err := b.otherTasksBlock(ctx, currentTask); err == nil && otherTasks != "" {
		parts = append(parts, otherTasks)
	}

	return strings.Join(parts, "\n"), nil
}

func (b *Builder) contextMDBlock() string {
	content := readFileTrimmed(paths.AgentContextFile(b.Home, b.TeamUUID, b.Agent))
	if content == "" {
		return ""
	}
	return "=== PREVIOUS SESSION CONTEXT ===\n" + content
}

// WorkspacePaths maps a repo name to its resolved task worktree path, for
// inclusion in a turn's current-task context block.
type WorkspacePaths map[string]string

func (b *Builder) taskContextBlock(ctx context.Context, t tasks.Task, workspacePaths WorkspacePaths) string {
	tid := paths.FormatTaskID(int(t.ID))
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== CURRENT TASK — %s ===\n", tid)
	fmt.Fprintf(&sb, "This turn is focused on %s. All your work and responses should relate to this task.\n\n", tid)
	fmt.Fprintf(&sb, "Title:       %s\n", orDefault(t.Title, "(untitled)"))
	fmt.Fprintf(&sb, "Status:      %s\n", t.Status)
	if t.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", t.Description)
	}
	if t.Branch != "" {
		fmt.Fprintf(&sb, "Branch:      %s\n", t.Branch)
	}
	if t.DRI != "" {
		fmt.Fprintf(&sb, "DRI:         %s\n", t.DRI)
	}
	if len(workspacePaths) > 0 {
		sb.WriteString("\nRepo worktrees:\n")
		for _, repoName := range t.Repo {
			wp, ok := workspacePaths[repoName]
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "  %s: %s\n", repoName, wp)
		}
		fmt.Fprintf(&sb, "\n- Commit your changes frequently with clear messages."+
			"\n- Do NOT switch branches — stay on %s."+
			"\n- Your branch is local-only and will be merged by the merge worker when approved.\n", t.Branch)
	}

	if b.Tasks != nil {
		if timeline, err := b.Tasks.GetTaskTimeline(ctx, t.ID, 20); err == nil && len(timeline) > 0 {
			fmt.Fprintf(&sb, "\n--- Task Activity (latest %d items) ---\n", len(timeline))
			for _, item := range timeline {
				ts := time.Unix(item.Timestamp, 0).UTC().Format(time.RFC3339)
				if item.Kind == tasks.TimelineComment {
					fmt.Fprintf(&sb, "[%s] [comment] %s: %s\n", ts, item.Author, item.Body)
				} else {
					fmt.Fprintf(&sb, "[%s] %s\n", ts, item.Body)
				}
			}
		}
	}

	return sb.String()
}

func (b *Builder) messagesBlock(ctx context.Context, batch []mailbox.Message) (string, error) {
	var parts []string

	if len(batch) > 0 {
		primarySender := batch[0].Sender

		peerHistory, err := b.Mailbox.RecentConversation(ctx, b.Team, b.Agent, primarySender, HistoryWithPeer)
		if err != nil {
			return "", fmt.Errorf("prompt: recent conversation with peer: %w", err)
		}
		otherHistory, err := b.Mailbox.RecentConversation(ctx, b.Team, b.Agent, "", HistoryWithOthers*2)
		if err != nil {
			return "", fmt.Errorf("prompt: recent conversation: %w", err)
		}

		var combined []mailbox.Message
		combined = append(combined, peerHistory...)
		count := 0
		for _, m := range otherHistory {
			if m.Sender == primarySender || m.Recipient == primarySender {
				continue
			}
			combined = append(combined, m)
			count++
			if count >= HistoryWithOthers {
				break
			}
		}

		if len(combined) > 0 {
			parts = append(parts, "=== RECENT CONVERSATION HISTORY ===")
			parts = append(parts, "(Previously processed messages — for context only.)\n")
			for _, m := range combined {
				direction := "←"
				if m.Sender == b.Agent {
					direction = "→"
				}
				parts = append(parts, fmt.Sprintf("[%s] %s %s %s:\n%s\n",
					time.Unix(m.Timestamp, 0).UTC().Format(time.RFC3339), m.Sender, direction, m.Recipient, m.Content))
			}
		}
	}

	if len(batch) > 0 {
		n := len(batch)
		parts = append(parts, fmt.Sprintf("=== NEW MESSAGES (%d) ===", n))
		for i, m := range batch {
			parts = append(parts, fmt.Sprintf("--- Message %d/%d ---", i+1, n))
			parts = append(parts, fmt.Sprintf("[%s] %s → %s:\n%s",
				time.Unix(m.Timestamp, 0).UTC().Format(time.RFC3339), m.Sender, m.Recipient, m.Content))
		}
		parts = append(parts, fmt.Sprintf("\nYou have %d message(s) above. "+
			"You MUST address ALL of them in this turn — do not skip any. "+
			"Handle each message: respond, take action, or acknowledge. "+
			"If messages are related, you may address them together in a "+
			"single coherent response.", n))
	} else {
		parts = append(parts, "No new messages.")
	}

	return strings.Join(parts, "\n"), nil
}

func (b *Builder) otherTasksBlock(ctx context.Context, currentTask *tasks.Task) (string, error) {
	all, err := b.Tasks.ListByTeamAndStatus(ctx, b.TeamUUID, tasks.StatusTodo)
	if err != nil {
		return "", err
	}
	inProgress, err := b.Tasks.ListByTeamAndStatus(ctx, b.TeamUUID, tasks.StatusInProgress)
	if err != nil {
		return "", err
	}
	all = append(all, inProgress...)

	var currentID int64 = -1
	if currentTask != nil {
		currentID = currentTask.ID
	}

	var lines []string
	for _, t := range all {
		if t.Assignee != b.Agent || t.ID == currentID {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", paths.FormatTaskID(int(t.ID)), t.Status, t.Title))
	}
	if len(lines) == 0 {
		return "", nil
	}

	out := []string{"\n=== YOUR OTHER ASSIGNED TASKS ===", "(For awareness — focus on the current task above.)"}
	out = append(out, lines...)
	return strings.Join(out, "\n"), nil
}

// BuildReflectionMessage builds the dedicated reflection-turn user
// message (spec §4.8 step 12): no inbox messages, just an instruction
// to update the agent's reflections/feedback notes.
func (b *Builder) BuildReflectionMessage() string {
	journalsDir := paths.AgentJournalsDir(b.Home, b.TeamUUID, b.Agent)
	reflectionsPath := filepath.Join(paths.AgentNotesDir(b.Home, b.TeamUUID, b.Agent), "reflections.md")
	feedbackPath := filepath.Join(paths.AgentNotesDir(b.Home, b.TeamUUID, b.Agent), "feedback.md")

	lines := []string{
		"=== REFLECTION TURN ===",
		"",
		"This is a dedicated reflection turn — no inbox messages to process.",
		"Please do the following:",
		fmt.Sprintf("1. Review your recent task journals in %s/", journalsDir),
		fmt.Sprintf("2. Update %s — bullet points only.", reflectionsPath),
		"   ONLY include reflections that are actionable in future situations.",
		"   Prune stale or obvious entries. Keep the file under 30 bullets.",
		"   Good: 'Always run tests before in_review — missed broken import.'",
		"   Bad: 'Worked on T0005, it was challenging but rewarding.'",
		fmt.Sprintf("3. Optionally review %s and incorporate learnings.", feedbackPath),
		"4. This file is inlined in your prompt, so future turns benefit from what you write here.",
	}

	if content := readFileTrimmed(paths.AgentContextFile(b.Home, b.TeamUUID, b.Agent)); content != "" {
		lines = append([]string{"=== PREVIOUS SESSION CONTEXT ===\n" + content + "\n"}, lines...)
	}

	return strings.Join(lines, "\n")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func dirHasEntries(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func readFSFile(f fs.FS, name string) ([]byte, error) {
	return fs.ReadFile(f, name)
}

func readFileTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
