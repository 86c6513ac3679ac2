// CLAUDE:SUMMARY Capture listeners for click, input, change and keydown, attached to the document and every shadow root.
// Package capture turns page events into interaction records. The same four
// capture-phase listeners are attached to the document and to every shadow
// root; they do nothing while the session is inactive but stay attached.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/shadowtap/dom"
	"github.com/hazyhaar/shadowtap/event"
	"github.com/hazyhaar/shadowtap/internal/locator"
)

// Types are the event types the layer listens to.
var Types = []string{"click", "input", "change", "keydown"}

// MaxTextLen bounds the text captured from a clicked element, in runes.
const MaxTextLen = 200

// DocumentTag is reported for key events whose target is not an element.
const DocumentTag = "document"

// Config configures a Layer.
type Config struct {
	Session *Session
	// Emit receives every record. It is called on the dispatching goroutine
	// and must not block.
	Emit     func(event.Message)
	PageURL  func() string
	FrameURL func() string
	Now      func() time.Time
	Logger   *slog.Logger
}

// Layer builds records from dispatched events.
type Layer struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	attached map[dom.Node]int
}

// New creates a Layer.
func New(cfg Config) (*Layer, error) {
	if cfg.Session == nil {
		return nil, errors.New("capture: session is required")
	}
	if cfg.Emit == nil {
		return nil, errors.New("capture: emit is required")
	}
	if cfg.PageURL == nil {
		cfg.PageURL = func() string { return "" }
	}
	if cfg.FrameURL == nil {
		cfg.FrameURL = cfg.PageURL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Layer{cfg: cfg, logger: cfg.Logger, attached: make(map[dom.Node]int)}, nil
}

type handler func(ev *dom.Event) (event.Message, bool)

// Attach adds the four capture listeners to scope, a Document or a
// ShadowRoot, and returns a function removing them.
func (l *Layer) Attach(scope dom.Node) (remove func()) {
	handlers := map[string]handler{
		"click":   l.onClick,
		"input":   l.onInput,
		"change":  l.onChange,
		"keydown": l.onKeydown,
	}
	removes := make([]func(), 0, len(Types))
	for _, typ := range Types {
		removes = append(removes, scope.AddEventListener(typ, l.listener(typ, handlers[typ]), dom.ListenerOptions{Capture: true}))
	}

	l.mu.Lock()
	l.attached[scope]++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, r := range removes {
				r()
			}
			l.mu.Lock()
			if l.attached[scope]--; l.attached[scope] <= 0 {
				delete(l.attached, scope)
			}
			l.mu.Unlock()
		})
	}
}

// Attached reports whether scope currently carries the listeners.
func (l *Layer) Attached(scope dom.Node) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attached[scope] > 0
}

// Scopes returns how many scopes carry the listeners.
func (l *Layer) Scopes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attached)
}

func (l *Layer) listener(typ string, h handler) dom.Listener {
	return func(ev *dom.Event) {
		if !l.cfg.Session.Active() || !l.owns(ev) {
			return
		}
		defer func() {
			if p := recover(); p != nil {
				l.logger.Error("capture: handler failed", "event", typ, "error", fmt.Sprint(p))
			}
		}()
		if msg, ok := h(ev); ok {
			l.cfg.Emit(msg)
		}
	}
}

// owns reports whether the listener running at ev's current target is the
// one that records ev: the innermost instrumented scope on the path. Outer
// scopes see the same event retargeted and stay silent.
func (l *Layer) owns(ev *dom.Event) bool {
	cur := ev.CurrentTarget()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range ev.RawPath() {
		if l.attached[n] > 0 {
			return n == cur
		}
	}
	return false
}

// trueTarget is the first element on the path visible from the listener,
// falling back to the plain target.
func trueTarget(ev *dom.Event) dom.Node {
	for _, n := range ev.ComposedPath() {
		if el, ok := n.(*dom.Element); ok {
			return el
		}
	}
	return ev.Target()
}

func (l *Layer) base(n dom.Node) event.Base {
	b := event.Base{
		Timestamp: l.cfg.Now().UnixMilli(),
		URL:       l.cfg.PageURL(),
		FrameURL:  l.cfg.FrameURL(),
	}
	if el, ok := n.(*dom.Element); ok {
		b.Locator = locator.Locate(el).Wire()
		b.ElementTag = el.LocalName()
	}
	return b
}

func (l *Layer) onClick(ev *dom.Event) (event.Message, bool) {
	target := trueTarget(ev)
	if target == nil {
		return event.Message{}, false
	}
	return event.NewClick(event.Click{
		Base:        l.base(target),
		ElementText: truncate(strings.TrimSpace(target.TextContent()), MaxTextLen),
	}), true
}

func (l *Layer) onInput(ev *dom.Event) (event.Message, bool) {
	el, ok := trueTarget(ev).(*dom.Element)
	if !ok || !el.HasValue() {
		return event.Message{}, false
	}
	value := el.Value()
	if strings.EqualFold(el.Attribute("type"), "password") {
		value = event.PasswordMask
	}
	return event.NewInput(event.Input{Base: l.base(el), Value: value}), true
}

func (l *Layer) onChange(ev *dom.Event) (event.Message, bool) {
	el, ok := trueTarget(ev).(*dom.Element)
	if !ok || el.LocalName() != "select" {
		return event.Message{}, false
	}
	rec := event.SelectChange{Base: l.base(el), SelectedValue: el.Value()}
	if opt := el.SelectedOption(); opt != nil {
		rec.SelectedText = strings.TrimSpace(opt.TextContent())
	}
	return event.NewSelectChange(rec), true
}

func (l *Layer) onKeydown(ev *dom.Event) (event.Message, bool) {
	key, ok := NormalizeKey(ev.Key(), ev.CtrlKey(), ev.MetaKey())
	if !ok {
		return event.Message{}, false
	}
	el, isEl := trueTarget(ev).(*dom.Element)
	if !isEl || el.LocalName() == "" {
		b := l.base(nil)
		b.ElementTag = DocumentTag
		b.SelectorChain = []string{}
		return event.NewKey(event.Key{Base: b, Key: key}), true
	}
	return event.NewKey(event.Key{Base: l.base(el), Key: key}), true
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
