// Package scroll coalesces scroll deltas from the recorder: bursts in one
// direction collapse into a single event, direction reversals go out
// immediately.
package scroll

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hazyhaar/shadowtap/event"
)

// DefaultDelay is the debounce window.
const DefaultDelay = 500 * time.Millisecond

// Direction is the vertical scroll direction.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop cancels the callback. It reports false if it already ran.
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Config configures a Coalescer.
type Config struct {
	// Emit receives every forwarded event. Called without locks held.
	Emit      func(event.RecorderEvent)
	Delay     time.Duration
	Scheduler Scheduler
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.Delay <= 0 {
		c.Delay = DefaultDelay
	}
	if c.Scheduler == nil {
		c.Scheduler = realScheduler{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Emit == nil {
		c.Emit = func(event.RecorderEvent) {}
	}
}

// Coalescer holds the coalescing state of one page: the last offset, the
// last direction and at most one pending emission.
type Coalescer struct {
	cfg Config

	mu      sync.Mutex
	lastY   *float64
	lastDir *Direction
	pending Timer
	latest  event.RecorderEvent
	gen     uint64
}

// New creates a Coalescer.
func New(cfg Config) *Coalescer {
	cfg.defaults()
	return &Coalescer{cfg: cfg}
}

// Offer takes one recorder event. Non-scroll events are forwarded at once.
// A scroll event whose direction reverses the current window's direction
// cancels the pending emission and is forwarded immediately; any other
// scroll event restarts the window, and when the window expires the most
// recent one is forwarded. Forwarded scroll events carry rounded
// coordinates.
func (c *Coalescer) Offer(ev event.RecorderEvent) {
	d, ok := ev.Scroll()
	if !ok {
		c.cfg.Emit(ev)
		return
	}

	c.mu.Lock()
	y := d.Y
	var dir *Direction
	if c.lastY != nil {
		switch {
		case y > *c.lastY:
			v := Down
			dir = &v
		case y < *c.lastY:
			v := Up
			dir = &v
		default:
			dir = c.lastDir
		}
	}

	if c.pending != nil && c.lastDir != nil && dir != nil && *dir != *c.lastDir {
		c.pending.Stop()
		out := rounded(ev, *dir)
		c.resetLocked()
		c.mu.Unlock()
		c.cfg.Logger.Debug("scroll: direction reversed", "direction", *dir, "y", y)
		c.cfg.Emit(out)
		return
	}

	if dir != nil {
		c.lastDir = dir
	}
	c.lastY = &y
	c.latest = ev
	if c.pending != nil {
		c.pending.Stop()
	}
	c.gen++
	gen := c.gen
	c.pending = c.cfg.Scheduler.AfterFunc(c.cfg.Delay, func() { c.expire(gen) })
	c.mu.Unlock()
}

func (c *Coalescer) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.pending == nil {
		c.mu.Unlock()
		return
	}
	out := c.takeLocked()
	c.mu.Unlock()
	c.cfg.Emit(out)
}

// Flush forwards the pending event, if any, without waiting for the window.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return
	}
	c.pending.Stop()
	out := c.takeLocked()
	c.mu.Unlock()
	c.cfg.Emit(out)
}

// Discard drops the pending event and resets the state.
func (c *Coalescer) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		c.pending.Stop()
	}
	c.resetLocked()
}

// Pending reports whether an emission is scheduled.
func (c *Coalescer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

func (c *Coalescer) takeLocked() event.RecorderEvent {
	var dir Direction
	if c.lastDir != nil {
		dir = *c.lastDir
	}
	out := rounded(c.latest, dir)
	c.resetLocked()
	return out
}

func (c *Coalescer) resetLocked() {
	c.lastY = nil
	c.lastDir = nil
	c.pending = nil
	c.latest = event.RecorderEvent{}
	c.gen++
}

// rounded copies ev with integer coordinates and the given direction.
func rounded(ev event.RecorderEvent, dir Direction) event.RecorderEvent {
	d, _ := ev.Scroll()
	cp := *d
	cp.X = math.Round(cp.X)
	cp.Y = math.Round(cp.Y)
	cp.Direction = string(dir)
	ev.Data = &cp
	return ev
}
