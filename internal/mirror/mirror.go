// Package mirror keeps a dom.Document in step with a live page. The
// document is built from DOM.getDocument with pierce, closed shadow roots
// included, and then patched from CDP DOM events. Events forwarded by the
// injected capture script are resolved to mirror elements and dispatched
// there, so every listener the tap attaches runs against the mirror.
//
// A Mirror serialises all access to its document. Apply, HandleBinding,
// Snapshot and Do may be called from any goroutine.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/hazyhaar/shadowtap/dom"
	"github.com/hazyhaar/shadowtap/event"
	"github.com/hazyhaar/shadowtap/internal/locator"
	"github.com/hazyhaar/shadowtap/internal/recorder"
)

var (
	// ErrNotLoaded is returned before the first document is loaded.
	ErrNotLoaded = errors.New("mirror: no document loaded")
	// ErrUnknownNode is returned for events about nodes the mirror never saw.
	ErrUnknownNode = errors.New("mirror: unknown node")
	// ErrDocumentReplaced is returned by Apply for DOM.documentUpdated. The
	// caller fetches the new document and calls Load.
	ErrDocumentReplaced = errors.New("mirror: document replaced")
)

// Config configures a Mirror.
type Config struct {
	// OnLoad runs with exclusive access each time a document is loaded: the
	// first time and after every document replacement.
	OnLoad func(doc *dom.Document)
	Logger *slog.Logger
	Now    func() time.Time
}

// Mirror is the in-process copy of one page.
type Mirror struct {
	onLoad func(*dom.Document)
	logger *slog.Logger
	now    func() time.Time

	sem chan struct{}

	// Guarded by sem.
	doc   *dom.Document
	nodes map[proto.DOMNodeID]dom.Node
	ids   map[dom.Node]proto.DOMNodeID

	urlMu sync.RWMutex
	url   string

	subMu   sync.Mutex
	subs    map[int]func(recorder.Change)
	nextSub int
}

var _ recorder.Source = (*Mirror)(nil)

// New creates an empty Mirror.
func New(cfg Config) *Mirror {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Mirror{
		onLoad: cfg.OnLoad,
		logger: cfg.Logger,
		now:    cfg.Now,
		sem:    make(chan struct{}, 1),
		subs:   make(map[int]func(recorder.Change)),
	}
}

func (m *Mirror) lock()   { m.sem <- struct{}{} }
func (m *Mirror) unlock() { <-m.sem }

// Do runs fn with exclusive access to the current document.
func (m *Mirror) Do(ctx context.Context, fn func(doc *dom.Document)) error {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("mirror: do: %w", ctx.Err())
	}
	defer m.unlock()
	if m.doc == nil {
		return ErrNotLoaded
	}
	fn(m.doc)
	return nil
}

// Load replaces the mirror with the document rooted at root, as returned by
// DOM.getDocument{depth: -1, pierce: true}.
func (m *Mirror) Load(root *proto.DOMNode) error {
	if root == nil || root.NodeType != int(dom.DocumentNode) {
		return errors.New("mirror: load: root is not a document")
	}
	m.lock()
	defer m.unlock()

	doc := dom.NewDocument(dom.WithPrivilegedAccess(), dom.WithURL(root.DocumentURL))
	replaced := m.reset(doc)
	m.track(root.NodeID, doc)
	for _, c := range root.Children {
		n := m.build(c)
		if n == nil {
			continue
		}
		if err := doc.AppendChild(n); err != nil {
			m.logger.Warn("mirror: load: append failed", "node", c.NodeName, "error", err)
		}
	}
	m.logger.Info("mirror: document loaded", "url", root.DocumentURL, "nodes", len(m.nodes))
	m.installed(doc, root.DocumentURL, replaced)
	return nil
}

// LoadDocument adopts an already built document. Static pages and tests use
// it; a document loaded this way has no CDP node ids.
func (m *Mirror) LoadDocument(doc *dom.Document) {
	m.lock()
	defer m.unlock()
	replaced := m.reset(doc)
	m.installed(doc, doc.URL(), replaced)
}

// reset swaps in doc and reports whether it replaces an earlier one.
func (m *Mirror) reset(doc *dom.Document) bool {
	replaced := m.doc != nil
	m.doc = doc
	m.nodes = make(map[proto.DOMNodeID]dom.Node)
	m.ids = make(map[dom.Node]proto.DOMNodeID)
	return replaced
}

// installed finishes a load. It runs with sem held.
func (m *Mirror) installed(doc *dom.Document, url string, replaced bool) {
	m.setURL(url)
	doc.OnError(func(err error) {
		m.logger.Warn("mirror: listener failed", "error", err)
	})
	if m.onLoad != nil {
		m.onLoad(doc)
	}
	if replaced {
		m.notify(recorder.Change{Reset: true, At: m.now()})
	}
}

func (m *Mirror) track(id proto.DOMNodeID, n dom.Node) {
	if id == 0 {
		return
	}
	m.nodes[id] = n
	m.ids[n] = id
}

// untrack forgets n and everything under it, shadow trees included.
func (m *Mirror) untrack(n dom.Node) {
	dom.WalkShadowIncluding(n, func(c dom.Node) bool {
		if id, ok := m.ids[c]; ok {
			delete(m.nodes, id)
			delete(m.ids, c)
		}
		return true
	})
}

// build creates the detached mirror of a CDP node. Shadow roots are
// attached declaratively: the page created them long ago and the mirror
// only catches up. Doctypes, template contents and frame documents are not
// mirrored; user-agent shadow roots are skipped.
func (m *Mirror) build(n *proto.DOMNode) dom.Node {
	var out dom.Node
	switch dom.NodeType(n.NodeType) {
	case dom.ElementNode:
		name := n.LocalName
		if name == "" {
			name = strings.ToLower(n.NodeName)
		}
		el := m.doc.CreateElementUndefined(name)
		for i := 0; i+1 < len(n.Attributes); i += 2 {
			el.SetAttribute(n.Attributes[i], n.Attributes[i+1])
		}
		for _, sr := range n.ShadowRoots {
			m.buildShadow(el, sr, false)
		}
		m.appendBuilt(el, n.Children)
		out = el
	case dom.TextNode:
		out = m.doc.CreateTextNode(n.NodeValue)
	case dom.CommentNode:
		out = m.doc.CreateComment(n.NodeValue)
	default:
		return nil
	}
	m.track(n.NodeID, out)
	return out
}

func (m *Mirror) appendBuilt(parent container, children []*proto.DOMNode) {
	for _, c := range children {
		if cn := m.build(c); cn != nil {
			if err := parent.InsertBefore(cn, nil); err != nil {
				m.logger.Debug("mirror: append child failed", "node", c.NodeName, "error", err)
			}
		}
	}
}

// buildShadow mirrors a shadow root onto host. Live roots go through the
// host's attachShadow so every hook on it observes them.
func (m *Mirror) buildShadow(host *dom.Element, sr *proto.DOMNode, live bool) *dom.ShadowRoot {
	mode, ok := shadowMode(sr.ShadowRootType)
	if !ok {
		return nil
	}
	var (
		root *dom.ShadowRoot
		err  error
	)
	if live {
		root, err = host.AttachShadow(dom.ShadowRootInit{Mode: mode})
	} else {
		root, err = host.AttachShadowDeclarative(mode)
	}
	if err != nil {
		m.logger.Debug("mirror: attach shadow failed", "host", host.LocalName(), "error", err)
		return nil
	}
	m.track(sr.NodeID, root)
	m.appendBuilt(root, sr.Children)
	return root
}

func shadowMode(t proto.DOMShadowRootType) (dom.ShadowRootMode, bool) {
	switch t {
	case proto.DOMShadowRootTypeOpen:
		return dom.ShadowRootOpen, true
	case proto.DOMShadowRootTypeClosed:
		return dom.ShadowRootClosed, true
	}
	return "", false
}

// container is a node that holds children: document, element or shadow root.
type container interface {
	dom.Node
	HasChildNodes() bool
	InsertBefore(child, ref dom.Node) error
	RemoveChild(child dom.Node) error
}

func (m *Mirror) lookup(id proto.DOMNodeID) (dom.Node, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return n, nil
}

func (m *Mirror) element(id proto.DOMNodeID) (*dom.Element, error) {
	n, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	el, ok := n.(*dom.Element)
	if !ok {
		return nil, fmt.Errorf("%w: %d is not an element", ErrUnknownNode, id)
	}
	return el, nil
}

// URL returns the current page URL.
func (m *Mirror) URL() string {
	m.urlMu.RLock()
	defer m.urlMu.RUnlock()
	return m.url
}

func (m *Mirror) setURL(u string) {
	m.urlMu.Lock()
	m.url = u
	m.urlMu.Unlock()
}

// Snapshot serialises the document, shadow roots as declarative templates.
func (m *Mirror) Snapshot(ctx context.Context) (string, error) {
	var out string
	err := m.Do(ctx, func(doc *dom.Document) {
		out = "<!DOCTYPE html>" + dom.OuterHTML(doc)
	})
	if err != nil {
		return "", fmt.Errorf("mirror: snapshot: %w", err)
	}
	return out, nil
}

// Subscribe registers fn for every later change. fn runs with the mirror
// held and must not block.
func (m *Mirror) Subscribe(fn func(recorder.Change)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Mirror) notify(c recorder.Change) {
	m.subMu.Lock()
	fns := make([]func(recorder.Change), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (m *Mirror) notifyRecord(rec event.Record, password bool) {
	m.notify(recorder.Change{Mutation: &rec, Password: password, At: m.now()})
}

// record describes n for a mutation record. Chain addresses n's scope: it
// is the chain of the enclosing shadow host, empty in the light tree.
func record(op event.Op, n dom.Node) event.Record {
	rec := event.Record{Op: op, XPath: locator.ResolvePath(n), NodeType: int(n.NodeType())}
	if el, ok := n.(*dom.Element); ok {
		rec.Tag = el.LocalName()
	}
	if sr, ok := n.Root().(*dom.ShadowRoot); ok && sr.Host() != nil {
		rec.Chain = locator.BuildChain(sr.Host())
	}
	return rec
}

func isPassword(n dom.Node) bool {
	el, ok := n.(*dom.Element)
	return ok && el.LocalName() == "input" && strings.EqualFold(el.Attribute("type"), "password")
}
