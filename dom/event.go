package dom

import "fmt"

// EventTarget is implemented by every Node.
type EventTarget interface {
	// AddEventListener registers fn and returns a function that removes it.
	AddEventListener(typ string, fn Listener, opts ListenerOptions) (remove func())
	// DispatchEvent dispatches ev with this node as target. It returns false
	// if a listener called PreventDefault.
	DispatchEvent(ev *Event) bool
	// ListenerCount reports how many listeners of typ are registered.
	ListenerCount(typ string) int

	listeners() *listenerList
}

// Listener handles a dispatched event.
type Listener func(ev *Event)

// ListenerOptions mirrors AddEventListenerOptions.
type ListenerOptions struct {
	Capture bool
	Once    bool
}

type listenerEntry struct {
	typ     string
	fn      Listener
	capture bool
	once    bool
	removed bool
}

type listenerList struct {
	entries []*listenerEntry
}

func (l *listenerList) remove(e *listenerEntry) {
	e.removed = true
	kept := l.entries[:0]
	for _, x := range l.entries {
		if x != e {
			kept = append(kept, x)
		}
	}
	l.entries = kept
}

func (n *node) AddEventListener(typ string, fn Listener, opts ListenerOptions) func() {
	e := &listenerEntry{typ: typ, fn: fn, capture: opts.Capture, once: opts.Once}
	n.targets.entries = append(n.targets.entries, e)
	return func() { n.targets.remove(e) }
}

func (n *node) ListenerCount(typ string) int {
	c := 0
	for _, e := range n.targets.entries {
		if e.typ == typ {
			c++
		}
	}
	return c
}

func (n *node) DispatchEvent(ev *Event) bool { return dispatch(n.self, ev) }

// Phase is the event phase.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseCapturing
	PhaseAtTarget
	PhaseBubbling
)

// EventInit carries the event construction options. The keyboard fields
// are only meaningful for key events.
type EventInit struct {
	Bubbles    bool
	Cancelable bool
	Composed   bool

	Key      string
	CtrlKey  bool
	MetaKey  bool
	ShiftKey bool
	AltKey   bool
}

// Event is a DOM event.
type Event struct {
	typ  string
	init EventInit

	target  Node
	current Node
	path    []Node
	phase   Phase

	stop             bool
	stopImmediate    bool
	defaultPrevented bool
}

// NewEvent creates an event of the given type.
func NewEvent(typ string, init EventInit) *Event {
	return &Event{typ: typ, init: init}
}

func (e *Event) Type() string { return e.typ }
func (e *Event) Bubbles() bool { return e.init.Bubbles }
func (e *Event) Composed() bool { return e.init.Composed }
func (e *Event) Key() string { return e.init.Key }
func (e *Event) CtrlKey() bool { return e.init.CtrlKey }
func (e *Event) MetaKey() bool { return e.init.MetaKey }
func (e *Event) ShiftKey() bool { return e.init.ShiftKey }
func (e *Event) AltKey() bool { return e.init.AltKey }
func (e *Event) EventPhase() Phase { return e.phase }

// CurrentTarget returns the node whose listeners are running, or nil
// outside dispatch.
func (e *Event) CurrentTarget() Node { return e.current }

// Target returns the target as seen from the current target: nodes inside
// shadow trees the current target is not part of are retargeted to hosts.
func (e *Event) Target() Node {
	if e.target == nil || e.current == nil {
		return e.target
	}
	return retarget(e.target, e.current)
}

// ComposedPath returns the event path as visible from the current target.
// Nodes inside closed shadow trees that do not contain the current target
// are hidden. Outside dispatch it returns nil.
func (e *Event) ComposedPath() []Node {
	if e.current == nil {
		return nil
	}
	out := make([]Node, 0, len(e.path))
	for _, n := range e.path {
		if visibleFrom(n, e.current) {
			out = append(out, n)
		}
	}
	return out
}

// RawPath returns the full propagation path, closed trees included, target
// first. It is what a privileged observer sees; page listeners should use
// ComposedPath.
func (e *Event) RawPath() []Node { return append([]Node(nil), e.path...) }

func (e *Event) StopPropagation() { e.stop = true }

func (e *Event) StopImmediatePropagation() {
	e.stop = true
	e.stopImmediate = true
}

func (e *Event) PreventDefault() {
	if e.init.Cancelable {
		e.defaultPrevented = true
	}
}

func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// EventPath computes the propagation path for an event targeted at target:
// target first, ending at the Document (or the top of a detached tree).
// Non-composed events stop at the target's own shadow root.
func EventPath(target Node, composed bool) []Node {
	var path []Node
	root := target.Root()
	for n := target; n != nil; {
		path = append(path, n)
		if sr, ok := n.(*ShadowRoot); ok {
			if !composed && Node(sr) == root {
				break
			}
			if sr.host == nil {
				break
			}
			n = sr.host
			continue
		}
		n = n.ParentNode()
	}
	return path
}

func dispatch(target Node, ev *Event) bool {
	ev.target = target
	ev.path = EventPath(target, ev.init.Composed)
	ev.stop, ev.stopImmediate = false, false

	for i := len(ev.path) - 1; i >= 0 && !ev.stop; i-- {
		n := ev.path[i]
		ev.current = n
		ev.phase = PhaseCapturing
		if retarget(target, n) == n {
			ev.phase = PhaseAtTarget
		}
		invoke(n, ev, true)
	}
	for i := 0; i < len(ev.path) && !ev.stop; i++ {
		n := ev.path[i]
		atTarget := retarget(target, n) == n
		if !atTarget && !ev.init.Bubbles {
			continue
		}
		ev.current = n
		ev.phase = PhaseBubbling
		if atTarget {
			ev.phase = PhaseAtTarget
		}
		invoke(n, ev, false)
	}

	ev.current = nil
	ev.phase = PhaseNone
	return !ev.defaultPrevented
}

// invoke runs the listeners registered on n for the current phase. A panic
// in one listener is reported and does not stop the others, as with
// exceptions thrown from DOM listeners.
func invoke(n Node, ev *Event, capture bool) {
	list := n.listeners()
	entries := append([]*listenerEntry(nil), list.entries...)
	for _, e := range entries {
		if e.removed || e.typ != ev.typ || e.capture != capture {
			continue
		}
		if e.once {
			list.remove(e)
		}
		callListener(n, e.fn, ev)
		if ev.stopImmediate {
			return
		}
	}
}

func callListener(n Node, fn Listener, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			if doc := n.OwnerDocument(); doc != nil && doc.onError != nil {
				doc.onError(fmt.Errorf("dom: %s listener panicked: %v", ev.typ, r))
			}
		}
	}()
	fn(ev)
}

// retarget returns a as seen from b: while a lives in a shadow tree that
// does not contain b, a is replaced by that tree's host.
func retarget(a, b Node) Node {
	for {
		sr, ok := a.Root().(*ShadowRoot)
		if !ok || sr.host == nil || IsShadowIncludingInclusiveAncestor(sr, b) {
			return a
		}
		a = sr.host
	}
}

func visibleFrom(n, current Node) bool {
	r := n.Root()
	for {
		sr, ok := r.(*ShadowRoot)
		if !ok {
			return true
		}
		if sr.mode == ShadowRootClosed && !IsShadowIncludingInclusiveAncestor(sr, current) {
			return false
		}
		if sr.host == nil {
			return true
		}
		r = sr.host.Root()
	}
}
