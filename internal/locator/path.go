// Package locator derives replayable locators for DOM nodes: a structural
// path inside the node's own scope and a chain of per-scope selectors that
// crosses shadow boundaries.
package locator

import (
	"strconv"
	"strings"

	"github.com/hazyhaar/shadowtap/dom"
)

// ResolvePath returns the structural path of n within its scope (the
// document or the shadow root containing it).
//
//   - an element with a non-empty id resolves to id("<value>"), ancestors
//     ignored; the value is quoted with Go string escapes, so a plain id
//     reads id("go") and one holding a quote id("a\"b")
//   - the top element of a scope resolves to its tag name
//   - any other element resolves to its parent's path plus /tag[ordinal], the
//     ordinal counting preceding element siblings with the same tag, from 1
//   - an element whose parent chain is broken resolves to its tag name
//
// Text and comment nodes resolve to their parent element's path; documents
// and shadow roots to "". ResolvePath never fails.
func ResolvePath(n dom.Node) string {
	el := elementOf(n)
	if el == nil {
		return ""
	}

	var segs []string
	for cur := el; cur != nil; {
		tag := cur.LocalName()
		if id := cur.ID(); id != "" {
			segs = append(segs, "id("+strconv.Quote(id)+")")
			break
		}
		if cur.IsScopeRoot() {
			segs = append(segs, tag)
			break
		}
		parent := cur.ParentElement()
		if parent == nil {
			segs = append(segs, tag)
			break
		}
		segs = append(segs, tag+"["+strconv.Itoa(ordinal(parent, cur))+"]")
		cur = parent
	}

	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, "/")
}

// ordinal is the 1-based position of el among parent's element children
// sharing its tag.
func ordinal(parent, el *dom.Element) int {
	n := 1
	for _, sib := range parent.Children() {
		if sib == el {
			break
		}
		if sib.LocalName() == el.LocalName() {
			n++
		}
	}
	return n
}

// elementOf returns n itself when it is an element, the parent element of
// character data nodes, and nil otherwise.
func elementOf(n dom.Node) *dom.Element {
	switch v := n.(type) {
	case nil:
		return nil
	case *dom.Element:
		return v
	case *dom.Text, *dom.Comment:
		p, _ := v.ParentNode().(*dom.Element)
		return p
	}
	return nil
}
