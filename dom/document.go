package dom

import "strings"

// Document is the root of a page's light tree.
type Document struct {
	node
	url          string
	privileged   bool
	attachShadow AttachShadowFunc
	registry     *CustomElementRegistry
	onError      func(error)
}

// Option configures a Document.
type Option func(*Document)

// WithURL sets the document URL.
func WithURL(u string) Option { return func(d *Document) { d.url = u } }

// WithPrivilegedAccess exposes a ClosedRootAccessor for the document, the
// way an extension content script can reach closed shadow roots.
func WithPrivilegedAccess() Option { return func(d *Document) { d.privileged = true } }

// NewDocument creates an empty document.
func NewDocument(opts ...Option) *Document {
	d := &Document{}
	d.self = d
	d.doc = d
	d.attachShadow = nativeAttachShadow
	d.registry = newRegistry(d)
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Document) NodeType() NodeType { return DocumentNode }
func (d *Document) NodeName() string { return "#document" }

// URL returns the document URL.
func (d *Document) URL() string { return d.url }

// SetURL updates the document URL, e.g. after a same-document navigation.
func (d *Document) SetURL(u string) { d.url = u }

// DocumentElement returns the first element child, normally <html>.
func (d *Document) DocumentElement() *Element {
	for _, c := range d.children {
		if el, ok := c.(*Element); ok {
			return el
		}
	}
	return nil
}

// Body returns the <body> element if present.
func (d *Document) Body() *Element {
	root := d.DocumentElement()
	if root == nil {
		return nil
	}
	for _, el := range root.Children() {
		if el.localName == "body" {
			return el
		}
	}
	return nil
}

// CreateElement creates a detached element. When a custom element
// definition exists for name, its constructor runs before the element is
// returned, as document.createElement does for defined elements.
func (d *Document) CreateElement(name string) *Element {
	el := d.newElement(name)
	if def := d.registry.lookup(el.localName); def != nil {
		d.registry.construct(def, el)
	}
	return el
}

// CreateElementUndefined creates an element without running any custom
// element constructor. Parsers use it; definitions apply later on upgrade.
func (d *Document) CreateElementUndefined(name string) *Element {
	return d.newElement(name)
}

func (d *Document) newElement(name string) *Element {
	el := &Element{localName: strings.ToLower(name), selectedIndex: -1}
	el.self = el
	el.doc = d
	return el
}

// CreateTextNode creates a detached text node.
func (d *Document) CreateTextNode(data string) *Text {
	t := &Text{data: data}
	t.self = t
	t.doc = d
	return t
}

// CreateComment creates a detached comment node.
func (d *Document) CreateComment(data string) *Comment {
	c := &Comment{data: data}
	c.self = c
	c.doc = d
	return c
}

// AppendChild appends child to the document.
func (d *Document) AppendChild(child Node) error { return appendChild(d, child) }

// InsertBefore inserts child before ref; a nil ref appends.
func (d *Document) InsertBefore(child, ref Node) error { return insertBefore(d, child, ref) }

// RemoveChild detaches child from the document.
func (d *Document) RemoveChild(child Node) error { return removeChild(d, child) }

// OnError sets the handler for errors raised inside event listeners. They
// never propagate to the dispatching code.
func (d *Document) OnError(fn func(error)) { d.onError = fn }

// CustomElements returns the document's custom element registry.
func (d *Document) CustomElements() *CustomElementRegistry { return d.registry }

// ClosedRootAccessor returns the privileged accessor when the document was
// created WithPrivilegedAccess.
func (d *Document) ClosedRootAccessor() (ClosedRootAccessor, bool) {
	if !d.privileged {
		return nil, false
	}
	return privilegedAccessor{}, true
}

// GetElementByID returns the first light-tree element with the given id.
func (d *Document) GetElementByID(id string) *Element { return getElementByID(d, id) }

func getElementByID(scope Node, id string) *Element {
	var found *Element
	Walk(scope, func(n Node) bool {
		if found != nil {
			return false
		}
		if el, ok := n.(*Element); ok && el.ID() == id {
			found = el
			return false
		}
		return true
	})
	return found
}

// Elements returns every light-tree element under scope in tree order.
func Elements(scope Node) []*Element {
	var out []*Element
	Walk(scope, func(n Node) bool {
		if el, ok := n.(*Element); ok {
			out = append(out, el)
		}
		return true
	})
	return out
}
