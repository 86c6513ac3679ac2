// Package discovery finds every shadow root of a document, however and
// whenever it is created, and hands each one exactly once to an
// instrumentation function.
//
// Five channels cover the ways a root becomes reachable:
//
//   - existing: open roots present when the engine is installed
//   - closed: roots found through the document's privileged accessor
//   - attach: roots created through the patched attachShadow
//   - define: roots created by constructors of custom elements defined
//     through the patched registry
//   - mutation: subtrees inserted with their shadow roots already attached
//
// No channel is sufficient alone. A visited set keyed by root identity
// makes overlapping channels harmless.
//
// With the mutation channel on, a root whose host leaves the document is
// released: it drops out of the visited set and Config.Release runs, so a
// page that churns components keeps bounded bookkeeping. Reinserting the
// host instruments the root again.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/shadowtap/dom"
	"github.com/hazyhaar/shadowtap/internal/intercept"
)

// Channel identifies how a root was discovered.
type Channel int

const (
	ChannelExisting Channel = iota
	ChannelClosed
	ChannelAttach
	ChannelDefine
	ChannelMutation
	// ChannelNested marks roots found inside a root being instrumented.
	ChannelNested
	numChannels
)

var channelNames = [numChannels]string{"existing", "closed", "attach", "define", "mutation", "nested"}

func (c Channel) String() string {
	if c < 0 || c >= numChannels {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

// Channels selects the channels an engine installs.
type Channels uint8

// AllChannels enables every discovery channel.
const AllChannels Channels = 1<<ChannelExisting | 1<<ChannelClosed | 1<<ChannelAttach |
	1<<ChannelDefine | 1<<ChannelMutation

// Only builds a channel set.
func Only(chs ...Channel) Channels {
	var s Channels
	for _, c := range chs {
		s |= 1 << c
	}
	return s
}

func (s Channels) has(c Channel) bool { return s&(1<<c) != 0 }

// InstrumentFunc attaches whatever listeners a root needs. It is called at
// most once per root until the root is released.
type InstrumentFunc func(root *dom.ShadowRoot) error

// Config configures an Engine.
type Config struct {
	Instrument InstrumentFunc
	// Channels defaults to AllChannels.
	Channels Channels
	// Release, if set, undoes Instrument for a root that left the
	// document. Only called when the mutation channel is on.
	Release func(root *dom.ShadowRoot)
	Logger  *slog.Logger
}

// ErrInstalled is returned when Install is called twice.
var ErrInstalled = errors.New("discovery: already installed")

// Engine discovers and instruments the shadow roots of one document. It
// must be used from the goroutine that owns the document.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	doc      *dom.Document
	accessor dom.ClosedRootAccessor
	observer *dom.MutationObserver

	visited  map[*dom.ShadowRoot]struct{}
	stats    [numChannels]int
	failed   int
	released int
}

// New creates an engine. Nothing happens until Install.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Channels == 0 {
		cfg.Channels = AllChannels
	}
	if cfg.Instrument == nil {
		cfg.Instrument = func(*dom.ShadowRoot) error { return nil }
	}
	return &Engine{
		cfg:     cfg,
		logger:  cfg.Logger,
		visited: make(map[*dom.ShadowRoot]struct{}),
	}
}

// Install hooks the document and instruments the roots already present.
// Hooks go in first so a root created while scanning is not missed.
func (e *Engine) Install(doc *dom.Document) error {
	if e.doc != nil {
		return ErrInstalled
	}
	e.doc = doc
	if acc, ok := doc.ClosedRootAccessor(); ok {
		e.accessor = acc
	}

	if e.cfg.Channels.has(ChannelAttach) {
		doc.PatchAttachShadow(e.wrapAttachShadow)
	}
	if e.cfg.Channels.has(ChannelDefine) {
		doc.CustomElements().Patch(e.wrapDefine)
	}
	if e.cfg.Channels.has(ChannelMutation) {
		e.observer = dom.NewMutationObserver(e.onMutations)
		e.observer.Observe(doc, dom.ObserveOptions{ChildList: true, Subtree: true})
	}
	if e.cfg.Channels.has(ChannelExisting) {
		e.scanExisting()
	}
	if e.cfg.Channels.has(ChannelClosed) {
		e.scanClosed()
	}

	e.logger.Debug("discovery: installed",
		"url", doc.URL(),
		"roots", len(e.visited),
		"privileged", e.accessor != nil)
	return nil
}

// Disconnect stops mutation observation. Listeners already attached to
// roots stay in place; hooks stay installed but become inert once the
// document is discarded.
func (e *Engine) Disconnect() {
	if e.observer != nil {
		e.observer.Disconnect()
		e.observer = nil
	}
}

// Tracked returns how many roots the engine currently holds.
func (e *Engine) Tracked() int { return len(e.visited) }

// Instrumented reports whether root went through the engine.
func (e *Engine) Instrumented(root *dom.ShadowRoot) bool {
	_, ok := e.visited[root]
	return ok
}

// Stats reports how many roots each channel instrumented.
type Stats struct {
	ByChannel map[Channel]int
	Total     int
	Failed    int
	Released  int
}

// Stats returns a copy of the counters.
func (e *Engine) Stats() Stats {
	s := Stats{ByChannel: make(map[Channel]int, numChannels), Failed: e.failed, Released: e.released}
	for c, n := range e.stats {
		if n > 0 {
			s.ByChannel[Channel(c)] = n
			s.Total += n
		}
	}
	return s
}

func (e *Engine) wrapAttachShadow(orig dom.AttachShadowFunc) dom.AttachShadowFunc {
	return intercept.Wrap(orig, func(_ dom.AttachShadowRequest, root *dom.ShadowRoot) error {
		e.instrument(root, ChannelAttach)
		return nil
	}, e.logger)
}

func (e *Engine) wrapDefine(orig dom.DefineFunc) dom.DefineFunc {
	return func(name string, ctor dom.Constructor, opts dom.DefineOptions) error {
		if ctor == nil {
			return orig(name, ctor, opts)
		}
		construct := intercept.Wrap(func(el *dom.Element) (*dom.Element, error) {
			return el, ctor(el)
		}, func(_ *dom.Element, el *dom.Element) error {
			if root := e.shadowOf(el); root != nil {
				e.instrument(root, ChannelDefine)
			}
			return nil
		}, e.logger)
		return orig(name, func(el *dom.Element) error {
			_, err := construct(el)
			return err
		}, opts)
	}
}

func (e *Engine) onMutations(records []dom.MutationRecord, _ *dom.MutationObserver) {
	for _, rec := range records {
		for _, n := range rec.RemovedNodes {
			// A node being moved is reported removed while still attached.
			if !n.IsConnected() {
				e.release(n)
			}
		}
		for _, n := range rec.AddedNodes {
			var roots []*dom.ShadowRoot
			dom.Walk(n, func(c dom.Node) bool {
				if el, ok := c.(*dom.Element); ok {
					if root := e.shadowOf(el); root != nil {
						roots = append(roots, root)
					}
				}
				return true
			})
			for _, root := range roots {
				e.instrument(root, ChannelMutation)
			}
		}
	}
}

// release forgets every tracked root in the removed subtree n.
func (e *Engine) release(n dom.Node) {
	var roots []*dom.ShadowRoot
	dom.WalkShadowIncluding(n, func(c dom.Node) bool {
		if sr, ok := c.(*dom.ShadowRoot); ok {
			if _, tracked := e.visited[sr]; tracked {
				roots = append(roots, sr)
			}
		}
		return true
	})
	for _, root := range roots {
		delete(e.visited, root)
		if e.observer != nil {
			e.observer.Unobserve(root)
		}
		if e.cfg.Release != nil {
			e.releaseOne(root)
		}
		e.released++
		e.logger.Debug("discovery: root released", "host", hostTag(root))
	}
}

func (e *Engine) releaseOne(root *dom.ShadowRoot) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("discovery: release root failed", "host", hostTag(root), "error", fmt.Errorf("panic: %v", r))
		}
	}()
	e.cfg.Release(root)
}

func (e *Engine) scanExisting() {
	var roots []*dom.ShadowRoot
	dom.Walk(e.doc, func(n dom.Node) bool {
		if el, ok := n.(*dom.Element); ok {
			if root := el.ShadowRoot(); root != nil {
				roots = append(roots, root)
			}
		}
		return true
	})
	for _, root := range roots {
		e.instrument(root, ChannelExisting)
	}
}

// scanClosed walks every tree, shadow trees included, and instruments the
// roots only the privileged accessor can see. Without an accessor it does
// nothing.
func (e *Engine) scanClosed() {
	if e.accessor == nil {
		return
	}
	var roots []*dom.ShadowRoot
	dom.WalkShadowIncluding(e.doc, func(n dom.Node) bool {
		if el, ok := n.(*dom.Element); ok {
			if root := e.accessor.OpenOrClosedShadowRoot(el); root != nil {
				roots = append(roots, root)
			}
		}
		return true
	})
	for _, root := range roots {
		e.instrument(root, ChannelClosed)
	}
}

// shadowOf returns el's shadow root, closed ones included when the
// document is privileged.
func (e *Engine) shadowOf(el *dom.Element) *dom.ShadowRoot {
	if e.accessor != nil {
		return e.accessor.OpenOrClosedShadowRoot(el)
	}
	return el.ShadowRoot()
}

type workItem struct {
	root *dom.ShadowRoot
	ch   Channel
}

// instrument processes root and every root nested in it with an explicit
// worklist, so nesting depth never grows the stack.
func (e *Engine) instrument(root *dom.ShadowRoot, ch Channel) {
	work := []workItem{{root, ch}}
	for len(work) > 0 {
		item := work[0]
		work = work[1:]
		if item.root == nil {
			continue
		}
		if _, seen := e.visited[item.root]; seen {
			continue
		}
		e.visited[item.root] = struct{}{}

		if err := e.instrumentOne(item.root); err != nil {
			e.failed++
			e.logger.Warn("discovery: instrument root failed",
				"channel", item.ch, "host", hostTag(item.root), "error", err)
		} else {
			e.stats[item.ch]++
			e.logger.Debug("discovery: root instrumented",
				"channel", item.ch, "mode", item.root.Mode(), "host", hostTag(item.root))
		}

		dom.Walk(item.root, func(n dom.Node) bool {
			if el, ok := n.(*dom.Element); ok {
				if nested := e.shadowOf(el); nested != nil {
					work = append(work, workItem{nested, ChannelNested})
				}
			}
			return true
		})
	}
}

// instrumentOne attaches listeners to root and observes it for inserted
// subtrees, since subtree observation of the document stops at shadow
// boundaries.
func (e *Engine) instrumentOne(root *dom.ShadowRoot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("discovery: panic: %v", r)
		}
	}()
	if e.observer != nil {
		e.observer.Observe(root, dom.ObserveOptions{ChildList: true, Subtree: true})
	}
	return e.cfg.Instrument(root)
}

func hostTag(root *dom.ShadowRoot) string {
	if h := root.Host(); h != nil {
		return h.LocalName()
	}
	return ""
}
