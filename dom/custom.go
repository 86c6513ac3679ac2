package dom

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDefine is returned by Define for invalid or duplicate definitions.
var ErrDefine = errors.New("dom: custom element definition")

// Constructor runs when an element of a defined type is created or upgraded.
// It plays the role of the class constructor body: it may attach a shadow
// root, set attributes or append children.
type Constructor func(el *Element) error

// DefineOptions mirrors ElementDefinitionOptions.
type DefineOptions struct {
	// Extends names the built-in element a customized built-in extends.
	Extends string
}

// DefineFunc is the script-visible customElements.define operation.
type DefineFunc func(name string, ctor Constructor, opts DefineOptions) error

type definition struct {
	name    string
	ctor    Constructor
	extends string
}

// CustomElementRegistry holds custom element definitions for a document.
type CustomElementRegistry struct {
	doc     *Document
	defs    map[string]*definition
	define  DefineFunc
	onError func(name string, err error)
}

func newRegistry(d *Document) *CustomElementRegistry {
	r := &CustomElementRegistry{doc: d, defs: make(map[string]*definition)}
	r.define = r.nativeDefine
	return r
}

// Define registers a definition through the (possibly patched) define.
func (r *CustomElementRegistry) Define(name string, ctor Constructor, opts DefineOptions) error {
	return r.define(name, ctor, opts)
}

// Patch replaces define with wrap applied to the current implementation.
func (r *CustomElementRegistry) Patch(wrap func(orig DefineFunc) DefineFunc) {
	r.define = wrap(r.define)
}

// Get returns the constructor registered under name.
func (r *CustomElementRegistry) Get(name string) (Constructor, bool) {
	def, ok := r.defs[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return def.ctor, true
}

// OnConstructError sets the handler for errors returned by constructors.
// Construction errors never propagate to the code creating the element.
func (r *CustomElementRegistry) OnConstructError(fn func(name string, err error)) {
	r.onError = fn
}

func (r *CustomElementRegistry) nativeDefine(name string, ctor Constructor, opts DefineOptions) error {
	name = strings.ToLower(name)
	if !ValidCustomElementName(name) {
		return fmt.Errorf("%w: %q is not a valid custom element name", ErrDefine, name)
	}
	if ctor == nil {
		return fmt.Errorf("%w: nil constructor for %q", ErrDefine, name)
	}
	if _, dup := r.defs[name]; dup {
		return fmt.Errorf("%w: %q already defined", ErrDefine, name)
	}
	def := &definition{name: name, ctor: ctor, extends: strings.ToLower(opts.Extends)}
	r.defs[name] = def
	r.upgrade(def)
	return nil
}

// lookup finds the definition for an element, covering customized built-ins
// declared with the is attribute.
func (r *CustomElementRegistry) lookup(localName string) *definition {
	if def, ok := r.defs[localName]; ok && def.extends == "" {
		return def
	}
	return nil
}

func (r *CustomElementRegistry) lookupElement(el *Element) *definition {
	if def := r.lookup(el.localName); def != nil {
		return def
	}
	if is := strings.ToLower(el.Attribute("is")); is != "" {
		if def, ok := r.defs[is]; ok && def.extends == el.localName {
			return def
		}
	}
	return nil
}

func (r *CustomElementRegistry) construct(def *definition, el *Element) {
	el.constructed = true
	if err := def.ctor(el); err != nil && r.onError != nil {
		r.onError(def.name, err)
	}
}

// upgrade constructs every connected, not yet constructed element matching
// def, shadow trees included, in shadow-including tree order.
func (r *CustomElementRegistry) upgrade(def *definition) {
	var pending []*Element
	WalkShadowIncluding(r.doc, func(n Node) bool {
		if el, ok := n.(*Element); ok && !el.constructed && r.lookupElement(el) == def {
			pending = append(pending, el)
		}
		return true
	})
	for _, el := range pending {
		r.construct(def, el)
	}
}

// WalkShadowIncluding is Walk that also enters every shadow root, open or
// closed, right after visiting its host.
func WalkShadowIncluding(n Node, fn func(Node) bool) {
	stack := []Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(cur) {
			continue
		}
		kids := cur.base().children
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
		if el, ok := cur.(*Element); ok && el.shadow != nil {
			stack = append(stack, el.shadow)
		}
	}
}

var reservedCustomNames = map[string]bool{
	"annotation-xml": true, "color-profile": true, "font-face": true,
	"font-face-src": true, "font-face-uri": true, "font-face-format": true,
	"font-face-name": true, "missing-glyph": true,
}

// ValidCustomElementName reports whether name is a valid custom element
// name: lowercase ASCII start, at least one hyphen, not reserved.
func ValidCustomElementName(name string) bool {
	if name == "" || name[0] < 'a' || name[0] > 'z' {
		return false
	}
	if !strings.Contains(name, "-") || reservedCustomNames[name] {
		return false
	}
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			return false
		}
		if r < 0x80 && !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '.' || r == '_') {
			return false
		}
	}
	return true
}
