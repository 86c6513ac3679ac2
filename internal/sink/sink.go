// Package sink delivers shadowtap messages to their consumers: stdout JSON
// lines, webhooks, in-process callbacks and a SQLite event store, fanned
// out by a Router. Delivery is fire-and-forget from the tap's point of
// view; a failing sink is logged and never blocks the others.
package sink

import (
	"context"

	"github.com/hazyhaar/shadowtap/event"
)

// Sink receives every message a tap emits.
type Sink interface {
	Send(ctx context.Context, msg event.Message) error
	Close() error
}

// filtered passes only the listed kinds to its sink.
type filtered struct {
	Sink
	kinds map[event.Kind]bool
}

// Filter wraps s so it only receives messages of the given kinds. No kinds
// returns s unchanged.
func Filter(s Sink, kinds ...event.Kind) Sink {
	if len(kinds) == 0 {
		return s
	}
	f := &filtered{Sink: s, kinds: make(map[event.Kind]bool, len(kinds))}
	for _, k := range kinds {
		f.kinds[k] = true
	}
	return f
}

func (f *filtered) Send(ctx context.Context, msg event.Message) error {
	if !f.kinds[msg.Type] {
		return nil
	}
	return f.Sink.Send(ctx, msg)
}
