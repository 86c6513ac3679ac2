package dom

import "strings"

// Attr is a single attribute. Attribute order is declaration order.
type Attr struct {
	Name  string
	Value string
}

// Element is an element node. Names are stored lowercase.
type Element struct {
	node
	localName string
	attrs     []Attr
	shadow    *ShadowRoot

	// constructed is set once a custom element definition ran for this element.
	constructed bool

	value         string
	valueDirty    bool
	selectedIndex int
	selectedDirty bool
}

func (e *Element) NodeType() NodeType { return ElementNode }
func (e *Element) NodeName() string { return strings.ToUpper(e.localName) }

// LocalName returns the lowercase tag name.
func (e *Element) LocalName() string { return e.localName }

// TagName returns the uppercase tag name, as the DOM reports it for HTML.
func (e *Element) TagName() string { return strings.ToUpper(e.localName) }

// Attributes returns a copy of the attribute list in declaration order.
func (e *Element) Attributes() []Attr { return append([]Attr(nil), e.attrs...) }

// GetAttribute returns the attribute value and whether it is present.
func (e *Element) GetAttribute(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, a := range e.attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Attribute returns the attribute value or "" when absent.
func (e *Element) Attribute(name string) string {
	v, _ := e.GetAttribute(name)
	return v
}

// HasAttribute reports whether name is present.
func (e *Element) HasAttribute(name string) bool {
	_, ok := e.GetAttribute(name)
	return ok
}

// SetAttribute sets or replaces an attribute, keeping its original position.
func (e *Element) SetAttribute(name, value string) {
	name = strings.ToLower(name)
	for i, a := range e.attrs {
		if a.Name == name {
			e.attrs[i].Value = value
			return
		}
	}
	e.attrs = append(e.attrs, Attr{Name: name, Value: value})
}

// RemoveAttribute removes name if present.
func (e *Element) RemoveAttribute(name string) {
	name = strings.ToLower(name)
	for i, a := range e.attrs {
		if a.Name == name {
			e.attrs = append(e.attrs[:i], e.attrs[i+1:]...)
			return
		}
	}
}

// ID returns the id attribute.
func (e *Element) ID() string { return e.Attribute("id") }

// ClassList returns the class names in declaration order.
func (e *Element) ClassList() []string { return strings.Fields(e.Attribute("class")) }

// ShadowRoot returns the element's shadow root when it is open. Closed roots
// are only reachable through a ClosedRootAccessor.
func (e *Element) ShadowRoot() *ShadowRoot {
	if e.shadow != nil && e.shadow.mode == ShadowRootOpen {
		return e.shadow
	}
	return nil
}

// ParentElement returns the parent if it is an element.
func (e *Element) ParentElement() *Element {
	p, _ := e.parent.(*Element)
	return p
}

// IsScopeRoot reports whether the element is the top element of its tree:
// its parent is a Document or a ShadowRoot.
func (e *Element) IsScopeRoot() bool {
	switch e.parent.(type) {
	case *Document, *ShadowRoot:
		return true
	}
	return false
}

// AppendChild appends child to the element. See node.appendChild.
func (e *Element) AppendChild(child Node) error { return appendChild(e, child) }

// InsertBefore inserts child before ref; a nil ref appends.
func (e *Element) InsertBefore(child, ref Node) error { return insertBefore(e, child, ref) }

// RemoveChild detaches child from the element.
func (e *Element) RemoveChild(child Node) error { return removeChild(e, child) }

// HasValue reports whether the element carries a user-settable value
// (input and textarea).
func (e *Element) HasValue() bool {
	return e.localName == "input" || e.localName == "textarea"
}

// Value returns the current value of input, textarea and select elements.
// Other elements return "".
func (e *Element) Value() string {
	switch e.localName {
	case "input":
		if e.valueDirty {
			return e.value
		}
		return e.Attribute("value")
	case "textarea":
		if e.valueDirty {
			return e.value
		}
		return e.TextContent()
	case "select":
		if opt := e.SelectedOption(); opt != nil {
			return optionValue(opt)
		}
	}
	return ""
}

// SetValue sets the live value of an input or textarea, or selects the
// first option whose value matches on a select.
func (e *Element) SetValue(v string) {
	switch e.localName {
	case "input", "textarea":
		e.value = v
		e.valueDirty = true
	case "select":
		for i, opt := range e.Options() {
			if optionValue(opt) == v {
				e.SetSelectedIndex(i)
				return
			}
		}
		e.SetSelectedIndex(-1)
	}
}

// Options returns the option elements of a select, in tree order.
func (e *Element) Options() []*Element {
	if e.localName != "select" {
		return nil
	}
	var out []*Element
	Walk(e, func(n Node) bool {
		if el, ok := n.(*Element); ok && el != e && el.localName == "option" {
			out = append(out, el)
		}
		return true
	})
	return out
}

// SelectedIndex mirrors HTMLSelectElement.selectedIndex.
func (e *Element) SelectedIndex() int {
	opts := e.Options()
	if e.selectedDirty {
		if e.selectedIndex < len(opts) {
			return e.selectedIndex
		}
		return -1
	}
	for i, opt := range opts {
		if opt.HasAttribute("selected") {
			return i
		}
	}
	if len(opts) > 0 {
		return 0
	}
	return -1
}

// SetSelectedIndex sets the selection; -1 clears it.
func (e *Element) SetSelectedIndex(i int) {
	e.selectedIndex = i
	e.selectedDirty = true
}

// SelectedOption returns the selected option or nil.
func (e *Element) SelectedOption() *Element {
	i := e.SelectedIndex()
	if i < 0 {
		return nil
	}
	opts := e.Options()
	if i >= len(opts) {
		return nil
	}
	return opts[i]
}

func optionValue(opt *Element) string {
	if v, ok := opt.GetAttribute("value"); ok {
		return v
	}
	return strings.TrimSpace(opt.TextContent())
}
