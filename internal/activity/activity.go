// Package activity is the in-process event broker behind the daemon's
// SSE stream and log tail: every turn start/end, tool invocation, and
// merge/review transition is published here as an Event, fanning out
// to however many subscribers are currently attached.
package activity

import (
	"context"

	"github.com/delegate-run/delegate/internal/pubsub"
)

// Kind identifies what happened.
type Kind string

const (
	KindTurnStarted Kind = "turn_started"
	KindTurnEnded   Kind = "turn_ended"
	KindToolUse     Kind = "tool_use"
	KindMerge       Kind = "merge"
	KindReview      Kind = "review"
)

// Event is one activity item broadcast to subscribers.
type Event struct {
	Kind   Kind
	Team   string
	Agent  string
	TaskID *int64
	Sender string
	Tool   string
	Detail string
}

// Broker fans out activity events to SSE/log-tail subscribers. It wraps
// the teacher's generic pubsub.Broker, specialized to Event rather than
// carrying the type parameter through every caller.
type Broker struct {
	inner *pubsub.Broker[Event]
}

// New constructs a Broker with the default subscriber buffer size.
func New() *Broker {
	return &Broker{inner: pubsub.NewBroker[Event]()}
}

// Subscribe returns a channel of activity events, closed when ctx is
// done or the broker is closed.
func (b *Broker) Subscribe(ctx context.Context) <-chan pubsub.Event[Event] {
	return b.inner.Subscribe(ctx)
}

// Publish broadcasts an activity event to all current subscribers.
func (b *Broker) Publish(ev Event) {
	b.inner.Publish(pubsub.CreatedEvent, ev)
}

// TurnStarted broadcasts a turn_started event (spec §4.8 step 6).
func (b *Broker) TurnStarted(team, agent string, taskID *int64, sender string) {
	b.Publish(Event{Kind: KindTurnStarted, Team: team, Agent: agent, TaskID: taskID, Sender: sender})
}

// TurnEnded broadcasts a turn_ended event (spec §4.8 step 13).
func (b *Broker) TurnEnded(team, agent string, taskID *int64, sender string) {
	b.Publish(Event{Kind: KindTurnEnded, Team: team, Agent: agent, TaskID: taskID, Sender: sender})
}

// ToolUse broadcasts a tool invocation summary observed mid-turn.
func (b *Broker) ToolUse(team, agent string, taskID *int64, tool, detail string) {
	b.Publish(Event{Kind: KindToolUse, Team: team, Agent: agent, TaskID: taskID, Tool: tool, Detail: detail})
}

// Close shuts down the broker, closing every subscriber channel.
func (b *Broker) Close() {
	b.inner.Close()
}
