// Package turnrun executes one agent turn: select a batch of unread
// mail, resolve its task, send a user message through the agent's
// persistent Telephone, and — one time in ten — a reflection follow-up
// on that same Telephone. Spec §4.8's run_turn, ported from the
// original runtime.py's module-level function into a Runner method so
// it can hold the stores it threads through rather than importing them
// ad hoc per call.
package turnrun

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/delegate-run/delegate/internal/activity"
	"github.com/delegate-run/delegate/internal/agentstate"
	"github.com/delegate-run/delegate/internal/exchange"
	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/mailbox"
	"github.com/delegate-run/delegate/internal/paths"
	"github.com/delegate-run/delegate/internal/prompt"
	"github.com/delegate-run/delegate/internal/session"
	"github.com/delegate-run/delegate/internal/tasks"
	"github.com/delegate-run/delegate/internal/telephone"
)

var tracer = otel.Tracer("delegate-daemon")

// ReflectionProbability is the odds that a main turn is followed by a
// reflection turn on the same Telephone (spec §4.8 step 7).
const ReflectionProbability = 0.1

// Team is the per-team context a turn needs beyond the agent's own
// name. DefaultHuman anchors batch selection and fills the preamble's
// "you report to" line when no manager agent is found; Repos drives the
// preamble's repo-instructions block. Both are resolved by the daemon
// from its team registry/repos config, which turnrun does not own.
type Team struct {
	Name         string
	UUID         string
	Repos        []string
	DefaultHuman string
}

// Runner wires together the stores one turn touches. A single Runner
// serves every team/agent the daemon knows about.
type Runner struct {
	Home     string
	Mailbox  *mailbox.Box
	Tasks    *tasks.Store
	Sessions *session.Store
	Activity *activity.Broker
	Exchange *exchange.Exchange
}

// New builds a Runner.
func New(home string, mb *mailbox.Box, ts *tasks.Store, sessions *session.Store, act *activity.Broker, ex *exchange.Exchange) *Runner {
	return &Runner{Home: home, Mailbox: mb, Tasks: ts, Sessions: sessions, Activity: act, Exchange: ex}
}

// Result is the outcome of one RunTurn call.
type Result struct {
	Agent     string
	Team      string
	SessionID int64
	Turns     int
	Usage     telephone.Usage
	Err       error
}

// RunTurn runs a single turn for (team, agent). It returns a zero
// Result with Turns == 0 when there was nothing to do (empty batch, or
// the batch's task has already reached a terminal status).
func (r *Runner) RunTurn(ctx context.Context, team Team, agent string) (Result, error) {
	ctx, span := tracer.Start(ctx, "run_turn", trace.WithAttributes(
		attribute.String("delegate.team", team.Name),
		attribute.String("delegate.agent", agent),
	))
	defer span.End()

	result, err := r.runTurn(ctx, team, agent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return result, err
}

func (r *Runner) runTurn(ctx context.Context, team Team, agent string) (Result, error) {
	result := Result{Agent: agent, Team: team.Name}

	state, err := agentstate.Read(r.Home, team.UUID, agent)
	if err != nil {
		return result, fmt.Errorf("reading agent state: %w", err)
	}

	inbox, err := r.Mailbox.ReadInbox(ctx, team.Name, agent, true)
	if err != nil {
		return result, fmt.Errorf("reading inbox: %w", err)
	}
	batch := selectBatch(inbox, team.DefaultHuman)
	if len(batch) == 0 {
		return result, nil
	}

	currentTaskID := batch[0].TaskID
	currentTask, err := r.resolveTask(ctx, currentTaskID)
	if err != nil {
		log.Error(log.CatTurn, "resolving task for turn", "task_id", *currentTaskID, "err", err)
	}

	if currentTask != nil && (currentTask.Status == tasks.StatusCancelled || currentTask.Status == tasks.StatusDone) {
		ids := messageIDs(batch)
		_ = r.Mailbox.MarkSeenBatch(ctx, ids)
		_ = r.Mailbox.MarkProcessedBatch(ctx, ids)
		log.Info(log.CatTurn, "discarding batch for terminal task",
			"task_id", *currentTaskID, "status", currentTask.Status, "agent", agent, "messages", len(batch))
		return result, nil
	}

	workspacePaths, err := resolveWorkspace(r.Home, team.UUID, agent, currentTask)
	if err != nil {
		return result, fmt.Errorf("resolving workspace: %w", err)
	}

	seenIDs := messageIDs(batch)
	if err := r.Mailbox.MarkSeenBatch(ctx, seenIDs); err != nil {
		return result, fmt.Errorf("marking batch seen: %w", err)
	}

	primarySender := batch[0].Sender
	r.Activity.TurnStarted(team.Name, agent, currentTaskID, primarySender)

	sessionID, err := r.Sessions.Start(ctx, team.Name, agent, currentTaskID)
	if err != nil {
		return result, fmt.Errorf("starting session: %w", err)
	}
	result.SessionID = sessionID

	builder := &prompt.Builder{
		Home:     r.Home,
		Team:     team.Name,
		TeamUUID: team.UUID,
		Agent:    agent,
		Info: prompt.AgentInfo{
			Role:        state.Role,
			Model:       state.ResolvedModel(),
			HumanName:   orDefault(team.DefaultHuman, "human"),
			ManagerName: r.resolveManager(team),
		},
		Mailbox: r.Mailbox,
		Tasks:   r.Tasks,
		Repos:   team.Repos,
	}

	tel := r.Exchange.Telephone(team.Name, agent)
	if _, err := tel.SyncPreamble(ctx, builder.BuildPreamble()); err != nil {
		log.Error(log.CatTurn, "syncing telephone preamble", "agent", agent, "err", err)
	}

	userMsg, err := builder.BuildUserMessage(ctx, batch, currentTask, workspacePaths)
	if err != nil {
		_ = r.Sessions.End(ctx, sessionID)
		return result, fmt.Errorf("building user message: %w", err)
	}

	taskLabel := ""
	if currentTaskID != nil {
		taskLabel = paths.FormatTaskID(int(*currentTaskID))
	}
	worklog := []string{
		fmt.Sprintf("# Worklog — %s", agent),
		worklogTaskLine(taskLabel),
		fmt.Sprintf("Session: %s", time.Now().UTC().Format(time.RFC3339)),
		fmt.Sprintf("Messages in batch: %d", len(batch)),
		fmt.Sprintf("\n## Turn 1\n%s", userMsg),
	}

	before := tel.TotalUsage()
	turnErr := r.streamTurn(ctx, tel, userMsg, &worklog)
	mainUsage := tel.TotalUsage().Sub(before)

	if turnErr != nil {
		result.Err = turnErr
		result.Turns = 1
		result.Usage = mainUsage
		_ = r.Mailbox.MarkProcessedBatch(ctx, seenIDs)
		r.recordTokens(ctx, sessionID, mainUsage)
		_ = r.Sessions.End(ctx, sessionID)
		_ = writeWorklog(r.Home, team.UUID, agent, worklog)
		r.Activity.TurnEnded(team.Name, agent, currentTaskID, primarySender)
		log.Error(log.CatTurn, "turn failed", "agent", agent, "team", team.Name, "err", turnErr)
		return result, nil
	}

	r.recordTokens(ctx, sessionID, mainUsage)
	if err := r.Mailbox.MarkProcessedBatch(ctx, seenIDs); err != nil {
		log.Error(log.CatTurn, "marking batch processed", "err", err)
	}

	if currentTaskID == nil {
		if reattached, ok := r.reattachTask(ctx, team, agent); ok {
			currentTaskID = &reattached
			if err := r.Sessions.UpdateTask(ctx, sessionID, reattached); err != nil {
				log.Error(log.CatTurn, "re-associating session with task", "session_id", sessionID, "err", err)
			}
		}
	}

	total := mainUsage
	turns := 1
	if rand.Float64() < ReflectionProbability {
		turns = 2
		refMsg := builder.BuildReflectionMessage()
		worklog = append(worklog, fmt.Sprintf("\n## Turn 2 (reflection)\n%s", refMsg))

		beforeRef := tel.TotalUsage()
		if err := r.streamTurn(ctx, tel, refMsg, &worklog); err != nil {
			log.Error(log.CatTurn, "reflection turn failed", "agent", agent, "err", err)
		} else {
			total = total.Add(tel.TotalUsage().Sub(beforeRef))
		}
	}

	result.Turns = turns
	result.Usage = total

	r.recordTokens(ctx, sessionID, total)
	if err := r.Sessions.End(ctx, sessionID); err != nil {
		log.Error(log.CatTurn, "ending session", "session_id", sessionID, "err", err)
	}
	if err := writeWorklog(r.Home, team.UUID, agent, worklog); err != nil {
		log.Error(log.CatTurn, "writing worklog", "agent", agent, "err", err)
	}

	r.Activity.TurnEnded(team.Name, agent, currentTaskID, primarySender)
	return result, nil
}

func (r *Runner) resolveTask(ctx context.Context, taskID *int64) (*tasks.Task, error) {
	if taskID == nil {
		return nil, nil
	}
	t, err := r.Tasks.GetTask(ctx, *taskID)
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// streamTurn drains a Telephone.Send reply, appending assistant text to
// the worklog transcript. Telephone's AgentProcess abstraction resolves
// tool-use permission checks internally (see telephone.HeadlessAdapter)
// and does not surface individual tool invocations to its caller, so
// unlike the original's per-block tool summaries this only records the
// reply text.
func (r *Runner) streamTurn(ctx context.Context, tel *telephone.Telephone, message string, worklog *[]string) error {
	events, err := tel.Send(ctx, message)
	if err != nil {
		return err
	}
	var reply string
	for ev := range events {
		reply += ev.Text
	}
	if reply != "" {
		*worklog = append(*worklog, reply)
	}
	return nil
}

// reattachTask looks for an in-progress task assigned to agent so a
// turn started from a taskless message (e.g. a direct human ping) still
// gets its session associated with the work the agent picked up during
// the turn (spec §4.8 step 11).
func (r *Runner) reattachTask(ctx context.Context, team Team, agent string) (int64, bool) {
	open, err := r.Tasks.ListByTeamAndStatus(ctx, team.UUID, tasks.StatusInProgress)
	if err != nil {
		log.Error(log.CatTurn, "listing in-progress tasks for reattach", "agent", agent, "err", err)
		return 0, false
	}
	for _, t := range open {
		if t.Assignee == agent {
			return t.ID, true
		}
	}
	return 0, false
}

func (r *Runner) recordTokens(ctx context.Context, sessionID int64, u telephone.Usage) {
	if err := r.Sessions.UpdateTokens(ctx, sessionID, u.InputTokens, u.OutputTokens, u.CacheReadTokens, u.CacheWriteTokens, u.CostUSD); err != nil {
		log.Error(log.CatTurn, "updating session tokens", "session_id", sessionID, "err", err)
	}
}

func messageIDs(batch []mailbox.Message) []int64 {
	ids := make([]int64, len(batch))
	for i, m := range batch {
		ids[i] = m.ID
	}
	return ids
}

func worklogTaskLine(label string) string {
	if label == "" {
		return "Task: (none)"
	}
	return "Task: " + label
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
