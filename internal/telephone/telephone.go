// Package telephone implements the bounded-context LLM conversation: one
// subprocess per Telephone, token-budget-triggered rotation, and the
// tool-use permission guard every turn runs under.
package telephone

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/delegate-run/delegate/internal/log"
)

// StreamEvent is one chunk of a Telephone's streamed response.
type StreamEvent struct {
	Text  string
	Usage SDKMessageUsage
	Done  bool
}

// AgentProcess is a live subprocess conversation, the concrete shape of
// spec §6.4's "opaque streaming conversation handle" — grounded on the
// teacher's orchestration/client.HeadlessProcess (Events()/Errors()
// channels, Cancel(), Wait()) but narrowed to the one operation a
// Telephone actually drives: send a message, stream the reply.
type AgentProcess interface {
	// Send streams a reply to message. The returned channel is closed
	// when the model finishes responding to this message (not when the
	// process exits — the process stays alive across turns).
	Send(ctx context.Context, message string) (<-chan StreamEvent, error)
	// Cancel terminates the subprocess immediately.
	Cancel() error
}

// SpawnConfig is what an AgentClient needs to start a new subprocess.
type SpawnConfig struct {
	CWD                   string
	Model                 string
	AllowedWritePaths     []string
	DisallowedToolPatterns []string
	MCPServers            []string
	AllowedNetworkDomains []string
	Sandbox               bool
	Guard                 func(toolName, targetPath, bashCommand string) error
}

// AgentClient spawns subprocess conversations. Implementations wrap a
// specific agent SDK/CLI; Telephone is agnostic to which.
type AgentClient interface {
	Spawn(ctx context.Context, cfg SpawnConfig) (AgentProcess, error)
}

// Config are a Telephone's constructor inputs (spec §4.6).
type Config struct {
	Preamble              string
	CWD                   string
	InitialMemory         string
	MaxContextTokens      int // default 80000
	RotationPrompt        string
	OnRotation            func(memory string)
	Model                 string
	AllowedWritePaths     []string
	DisallowedToolPatterns []string
	MCPServers            []string
	AllowedNetworkDomains []string
	Sandbox               bool
}

const defaultMaxContextTokens = 80_000

// Telephone is a bounded-context conversation backed by one agent
// subprocess, rotating to a fresh subprocess (with summarized memory)
// when its current generation's context grows too large.
type Telephone struct {
	mu sync.Mutex

	client AgentClient
	cfg    Config

	id         string
	generation int
	turns      int

	memory string

	usage      Usage
	priorUsage Usage

	process AgentProcess
}

// New constructs a Telephone. The subprocess is not spawned until the
// first Send.
func New(client AgentClient, cfg Config) *Telephone {
	if cfg.MaxContextTokens == 0 {
		cfg.MaxContextTokens = defaultMaxContextTokens
	}
	return &Telephone{
		client: client,
		cfg:    cfg,
		id:     uuid.NewString(),
		memory: cfg.InitialMemory,
	}
}

// ID returns the current generation's id.
func (t *Telephone) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Generation returns the current rotation count.
func (t *Telephone) Generation() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// Usage returns the current generation's usage.
func (t *Telephone) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// TotalUsage returns prior-generation usage plus the current generation's.
func (t *Telephone) TotalUsage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priorUsage.Add(t.usage)
}

func (t *Telephone) needsRotation() bool {
	return t.usage.ContextTokens() > t.cfg.MaxContextTokens
}

// Send streams a reply to prompt, rotating first if the current
// generation is over its context budget, lazily spawning a subprocess if
// none is connected, and prefixing the composite preamble+memory message
// on turn 0 of a generation (spec §4.6 step 3).
func (t *Telephone) Send(ctx context.Context, prompt string) (<-chan StreamEvent, error) {
	t.mu.Lock()

	if t.needsRotation() {
		t.mu.Unlock()
		if err := t.Rotate(ctx); err != nil {
			return nil, fmt.Errorf("rotating before send: %w", err)
		}
		t.mu.Lock()
	}

	if t.process == nil {
		proc, err := t.spawnLocked(ctx)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		t.process = proc
	}

	message := prompt
	if t.turns == 0 {
		message = t.composeOpeningMessage(prompt)
	}
	proc := t.process
	t.mu.Unlock()

	upstream, err := proc.Send(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("sending to subprocess: %w", err)
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		var lastSDKUsage SDKMessageUsage
		for ev := range upstream {
			delta, newLast := Delta(lastSDKUsage, ev.Usage)
			lastSDKUsage = newLast

			t.mu.Lock()
			t.usage = t.usage.Add(delta)
			t.mu.Unlock()

			out <- ev
		}
		t.mu.Lock()
		t.turns++
		t.mu.Unlock()
	}()
	return out, nil
}

func (t *Telephone) composeOpeningMessage(prompt string) string {
	msg := "## PREAMBLE\n\n" + t.cfg.Preamble + "\n\n"
	if t.memory != "" {
		msg += "## MEMORY\n\n" + t.memory + "\n\n"
	}
	return msg + prompt
}

func (t *Telephone) spawnLocked(ctx context.Context) (AgentProcess, error) {
	guard := func(toolName, targetPath, bashCommand string) error {
		return Guard(PermissionConfig{AllowedWritePaths: t.cfg.AllowedWritePaths, CWD: t.cfg.CWD}, toolName, targetPath, bashCommand)
	}
	proc, err := t.client.Spawn(ctx, SpawnConfig{
		CWD:                    t.cfg.CWD,
		Model:                  t.cfg.Model,
		AllowedWritePaths:      t.cfg.AllowedWritePaths,
		DisallowedToolPatterns: t.cfg.DisallowedToolPatterns,
		MCPServers:             t.cfg.MCPServers,
		AllowedNetworkDomains:  t.cfg.AllowedNetworkDomains,
		Sandbox:                t.cfg.Sandbox,
		Guard:                  guard,
	})
	if err != nil {
		return nil, fmt.Errorf("spawning subprocess: %w", err)
	}
	log.Info(log.CatTelephone, "subprocess spawned", "id", t.id, "generation", t.generation)
	return proc, nil
}

// Rotate summarizes the current generation's memory (if configured with
// a rotation prompt and a live subprocess) and resets to a fresh
// generation, preserving the summarized memory.
func (t *Telephone) Rotate(ctx context.Context) error {
	t.mu.Lock()
	proc := t.process
	rotationPrompt := t.cfg.RotationPrompt
	t.mu.Unlock()

	if rotationPrompt != "" && proc != nil {
		events, err := proc.Send(ctx, rotationPrompt)
		if err != nil {
			return fmt.Errorf("requesting rotation summary: %w", err)
		}
		var memory string
		for ev := range events {
			memory += ev.Text
		}
		t.mu.Lock()
		t.memory = memory
		t.mu.Unlock()
		if t.cfg.OnRotation != nil {
			t.cfg.OnRotation(memory)
		}
	}

	t.reset()
	return nil
}

// reset disconnects the current subprocess, mints a new generation id,
// zeroes current usage into priorUsage, and increments generation.
// memory is preserved across the call.
func (t *Telephone) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.process != nil {
		_ = t.process.Cancel()
		t.process = nil
	}
	t.priorUsage = t.priorUsage.Add(t.usage)
	t.usage = Usage{}
	t.id = uuid.NewString()
	t.generation++
	t.turns = 0

	log.Info(log.CatTelephone, "telephone rotated", "id", t.id, "generation", t.generation)
}

// Disconnect tears down any live subprocess without rotating, used by
// Exchange.CloseAll on daemon shutdown.
func (t *Telephone) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.process != nil {
		_ = t.process.Cancel()
		t.process = nil
	}
}

// Memory returns the Telephone's current rotation memory.
func (t *Telephone) Memory() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.memory
}

// Preamble returns the preamble installed on the current generation.
func (t *Telephone) Preamble() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.Preamble
}

// SyncPreamble installs newPreamble if it differs from the one
// currently in effect, rotating first so the new preamble is reissued
// on the next Send (spec §4.8 step 8). Returns whether a rotation
// occurred.
func (t *Telephone) SyncPreamble(ctx context.Context, newPreamble string) (bool, error) {
	t.mu.Lock()
	changed := t.cfg.Preamble != newPreamble
	t.mu.Unlock()
	if !changed {
		return false, nil
	}

	if err := t.Rotate(ctx); err != nil {
		return false, fmt.Errorf("rotating for preamble change: %w", err)
	}

	t.mu.Lock()
	t.cfg.Preamble = newPreamble
	t.mu.Unlock()
	return true, nil
}
