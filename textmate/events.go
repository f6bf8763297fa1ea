package textmate

import (
	"context"

	"github.com/zjrosen/tmtokenize/internal/pubsub"
)

// EventType names a registry event.
type EventType = pubsub.EventType

// Registry events.
const (
	// EventGrammarAdded: a watched directory gained a grammar file.
	EventGrammarAdded EventType = "grammar_added"
	// EventGrammarLoaded: a grammar was read and parsed.
	EventGrammarLoaded EventType = "grammar_loaded"
	// EventGrammarFailed: reading or parsing a grammar failed.
	EventGrammarFailed EventType = "grammar_failed"
	// EventCompilerReady: a compiler was built for a root scope.
	EventCompilerReady EventType = "compiler_ready"
)

// GrammarEvent is the payload of every registry event.
type GrammarEvent struct {
	Scope string
	Path  string
	Err   error
}

// Event is a registry event as delivered to subscribers.
type Event = pubsub.Event[GrammarEvent]

// Subscribe returns a channel of registry events of the given types, or of
// all types when none are given. The channel is closed when ctx is done.
// Events are dropped for a subscriber that falls behind.
func (g *Grammars) Subscribe(ctx context.Context, types ...EventType) <-chan Event {
	return g.events.Subscribe(ctx, types...)
}
