// Package recorder produces the snapshot/delta stream of a page: a full
// snapshot when recording starts, debounced mutation batches, scroll
// deltas, and periodic checkpoint snapshots.
package recorder

import (
	"context"
	"time"

	"github.com/hazyhaar/shadowtap/event"
)

// Options configures one recording.
type Options struct {
	// Emit receives every event, in order, from a single goroutine.
	Emit func(event.RecorderEvent)
	// MaskPasswords is always treated as true: password values never leave
	// the recorder.
	MaskPasswords bool
	// CheckoutEveryN takes a checkpoint snapshot after N incremental events.
	CheckoutEveryN int
	// CheckoutEvery takes a checkpoint snapshot after this much time.
	CheckoutEvery time.Duration
}

func (o *Options) defaults() {
	o.MaskPasswords = true
	if o.CheckoutEveryN <= 0 {
		o.CheckoutEveryN = 200
	}
	if o.CheckoutEvery <= 0 {
		o.CheckoutEvery = 5 * time.Minute
	}
	if o.Emit == nil {
		o.Emit = func(event.RecorderEvent) {}
	}
}

// Handle is a running recording.
type Handle interface {
	// Stop flushes pending deltas and ends the recording. It is safe to
	// call more than once.
	Stop()
}

// Engine starts recordings.
type Engine interface {
	Record(ctx context.Context, opts Options) (Handle, error)
}

// Change is one observation delivered by a Source.
type Change struct {
	// Mutation is set for DOM changes.
	Mutation *event.Record
	// Password marks mutations of a password input, whose values are masked.
	Password bool
	// Scroll is set for scroll position changes.
	Scroll *event.ScrollData
	// Reset marks a document replacement.
	Reset bool
	At    time.Time
}

// Source is the page a recorder reads from.
type Source interface {
	URL() string
	// Snapshot serialises the whole document, shadow roots included.
	Snapshot(ctx context.Context) (string, error)
	// Subscribe registers fn for every later change. fn must not block.
	Subscribe(fn func(Change)) (unsubscribe func())
}
