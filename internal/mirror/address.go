package mirror

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/shadowtap/dom"
)

// ErrBadAddress is returned when an address does not resolve in the mirror.
var ErrBadAddress = errors.New("mirror: bad address")

// An address locates a node across shadow boundaries the way the injected
// script reports it: one segment per scope, outermost first. Each segment
// lists element child indexes from the scope's root (the document, then a
// shadow root); moving to the next segment enters the shadow root of the
// element reached. [][]int{{}} is the document itself.

type parentNode interface {
	Children() []*dom.Element
}

// Resolve follows addr from doc. Closed roots are entered through the
// document's privileged accessor.
func Resolve(doc *dom.Document, addr [][]int) (dom.Node, error) {
	if len(addr) == 0 {
		return doc, nil
	}
	acc, _ := doc.ClosedRootAccessor()
	var cur dom.Node = doc
	for i, seg := range addr {
		if i > 0 {
			el, ok := cur.(*dom.Element)
			if !ok {
				return nil, fmt.Errorf("%w: scope %d has no host", ErrBadAddress, i)
			}
			sr := el.ShadowRoot()
			if sr == nil && acc != nil {
				sr = acc.OpenOrClosedShadowRoot(el)
			}
			if sr == nil {
				return nil, fmt.Errorf("%w: <%s> has no shadow root", ErrBadAddress, el.LocalName())
			}
			cur = sr
		}
		for _, idx := range seg {
			p, ok := cur.(parentNode)
			if !ok {
				return nil, fmt.Errorf("%w: %s has no children", ErrBadAddress, cur.NodeName())
			}
			kids := p.Children()
			if idx < 0 || idx >= len(kids) {
				return nil, fmt.Errorf("%w: index %d out of %d", ErrBadAddress, idx, len(kids))
			}
			cur = kids[idx]
		}
	}
	return cur, nil
}

// Address is the inverse of Resolve for an element or document.
func Address(n dom.Node) [][]int {
	var scopes [][]int
	var seg []int
	for cur := n; cur != nil; {
		parent := cur.ParentNode()
		if parent == nil {
			break
		}
		el, ok := cur.(*dom.Element)
		if !ok {
			cur = parent
			continue
		}
		seg = append([]int{elementIndex(parent, el)}, seg...)
		if sr, ok := parent.(*dom.ShadowRoot); ok {
			scopes = append([][]int{seg}, scopes...)
			seg = nil
			cur = sr.Host()
			continue
		}
		cur = parent
	}
	if seg == nil {
		seg = []int{}
	}
	return append([][]int{seg}, scopes...)
}

func elementIndex(parent dom.Node, el *dom.Element) int {
	p, ok := parent.(parentNode)
	if !ok {
		return -1
	}
	for i, c := range p.Children() {
		if c == el {
			return i
		}
	}
	return -1
}
