package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/shadowtap/event"
)

// Router delivers each message to every sink concurrently, so a slow
// webhook does not hold back stdout. Send returns once all sinks are done.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Len returns the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

// Send returns the joined errors of the sinks that failed.
func (r *Router) Send(ctx context.Context, msg event.Message) error {
	if len(r.sinks) == 1 {
		return r.send(ctx, 0, msg)
	}
	errs := make([]error, len(r.sinks))
	var wg sync.WaitGroup
	for i := range r.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.send(ctx, i, msg)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (r *Router) send(ctx context.Context, i int, msg event.Message) error {
	err := r.sinks[i].Send(ctx, msg)
	if err != nil {
		r.logger.Warn("sink: send failed", "sink", fmt.Sprintf("%T", r.sinks[i]), "type", msg.Type, "error", err)
	}
	return err
}

func (r *Router) Close() error {
	var errs []error
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
