package dom

import (
	"errors"
	"fmt"
)

// ShadowRootMode is "open" or "closed".
type ShadowRootMode string

const (
	ShadowRootOpen   ShadowRootMode = "open"
	ShadowRootClosed ShadowRootMode = "closed"
)

// ErrNotSupported is returned by AttachShadow for hosts that cannot carry a
// shadow root, or that already carry one.
var ErrNotSupported = errors.New("dom: not supported")

// ShadowRoot is the root of an encapsulated tree attached to a host element.
type ShadowRoot struct {
	node
	host *Element
	mode ShadowRootMode
}

func (s *ShadowRoot) NodeType() NodeType { return FragmentNode }
func (s *ShadowRoot) NodeName() string { return "#document-fragment" }

// Host returns the element the root is attached to.
func (s *ShadowRoot) Host() *Element { return s.host }

// Mode returns the root's encapsulation mode.
func (s *ShadowRoot) Mode() ShadowRootMode { return s.mode }

// AppendChild appends child to the shadow tree.
func (s *ShadowRoot) AppendChild(child Node) error { return appendChild(s, child) }

// InsertBefore inserts child before ref; a nil ref appends.
func (s *ShadowRoot) InsertBefore(child, ref Node) error { return insertBefore(s, child, ref) }

// RemoveChild detaches child from the shadow tree.
func (s *ShadowRoot) RemoveChild(child Node) error { return removeChild(s, child) }

// GetElementByID searches the shadow tree.
func (s *ShadowRoot) GetElementByID(id string) *Element { return getElementByID(s, id) }

// ShadowRootInit carries the attachShadow options.
type ShadowRootInit struct {
	Mode           ShadowRootMode
	DelegatesFocus bool
}

// AttachShadowRequest is the argument of an AttachShadowFunc.
type AttachShadowRequest struct {
	Host *Element
	Init ShadowRootInit
}

// AttachShadowFunc is the script-visible attachShadow operation. The
// document holds one and Element.AttachShadow always calls through it, so
// replacing it with PatchAttachShadow affects every later call.
type AttachShadowFunc func(req AttachShadowRequest) (*ShadowRoot, error)

// PatchAttachShadow replaces the document's attachShadow with the result of
// wrap applied to the current implementation.
func (d *Document) PatchAttachShadow(wrap func(orig AttachShadowFunc) AttachShadowFunc) {
	d.attachShadow = wrap(d.attachShadow)
}

// AttachShadow attaches a shadow root through the document's (possibly
// patched) attachShadow.
func (e *Element) AttachShadow(init ShadowRootInit) (*ShadowRoot, error) {
	return e.doc.attachShadow(AttachShadowRequest{Host: e, Init: init})
}

// AttachShadowDeclarative attaches a shadow root the way the HTML parser
// does for <template shadowrootmode>: script-visible attachShadow and any
// patch on it are bypassed.
func (e *Element) AttachShadowDeclarative(mode ShadowRootMode) (*ShadowRoot, error) {
	return nativeAttachShadow(AttachShadowRequest{Host: e, Init: ShadowRootInit{Mode: mode}})
}

func nativeAttachShadow(req AttachShadowRequest) (*ShadowRoot, error) {
	el := req.Host
	if el == nil {
		return nil, fmt.Errorf("%w: nil host", ErrNotSupported)
	}
	if el.shadow != nil {
		return nil, fmt.Errorf("%w: <%s> already hosts a shadow root", ErrNotSupported, el.localName)
	}
	if !canHostShadow(el.localName) {
		return nil, fmt.Errorf("%w: <%s> cannot host a shadow root", ErrNotSupported, el.localName)
	}
	mode := req.Init.Mode
	if mode != ShadowRootClosed {
		mode = ShadowRootOpen
	}
	sr := &ShadowRoot{host: el, mode: mode}
	sr.self = sr
	sr.doc = el.doc
	el.shadow = sr
	return sr, nil
}

var shadowHostTags = map[string]bool{
	"article": true, "aside": true, "blockquote": true, "body": true, "div": true,
	"footer": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "header": true, "main": true, "nav": true, "p": true,
	"section": true, "span": true,
}

func canHostShadow(name string) bool {
	return shadowHostTags[name] || ValidCustomElementName(name)
}

// ClosedRootAccessor reaches shadow roots regardless of mode. Only
// privileged documents provide one.
type ClosedRootAccessor interface {
	OpenOrClosedShadowRoot(el *Element) *ShadowRoot
}

type privilegedAccessor struct{}

func (privilegedAccessor) OpenOrClosedShadowRoot(el *Element) *ShadowRoot {
	if el == nil {
		return nil
	}
	return el.shadow
}
