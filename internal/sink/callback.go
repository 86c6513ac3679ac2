package sink

import (
	"context"

	"github.com/hazyhaar/shadowtap/event"
)

// MessageFunc receives one message.
type MessageFunc func(ctx context.Context, msg event.Message) error

// Callback hands messages to an in-process function without serialising
// them.
type Callback struct {
	fn MessageFunc
}

// NewCallback creates a Callback sink. A nil fn drops everything.
func NewCallback(fn MessageFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, msg event.Message) error {
	if c.fn == nil {
		return nil
	}
	return c.fn(ctx, msg)
}

func (c *Callback) Close() error { return nil }
