// Package dom is an in-process model of a page's DOM: documents, elements,
// text, open and closed shadow roots, custom element registration, mutation
// observers and capture/bubble event dispatch with composed paths.
//
// shadowtap mirrors a live Chrome page into a Document and runs its
// instrumentation against it. The model is deliberately small: it carries
// what element identification and shadow-root discovery need, nothing more.
//
// A Document and every node in it are not safe for concurrent use. Callers
// serialise access the way a page's single event loop would.
package dom

import "strings"

// NodeType mirrors the DOM nodeType constants.
type NodeType int

const (
	ElementNode  NodeType = 1
	TextNode     NodeType = 3
	CommentNode  NodeType = 8
	DocumentNode NodeType = 9
	FragmentNode NodeType = 11 // shadow roots report this type
)

// Node is implemented by *Document, *ShadowRoot, *Element, *Text and *Comment.
type Node interface {
	EventTarget

	NodeType() NodeType
	NodeName() string
	ParentNode() Node
	ChildNodes() []Node
	FirstChild() Node
	NextSibling() Node
	PreviousSibling() Node
	OwnerDocument() *Document

	// Root returns the node's root: the Document, the ShadowRoot of its
	// scope, or the topmost ancestor of a detached subtree.
	Root() Node

	// IsConnected reports whether the node's shadow-including root is a Document.
	IsConnected() bool

	TextContent() string

	base() *node
}

// node holds the tree links shared by every node type.
type node struct {
	self       Node
	doc        *Document
	parent     Node
	children   []Node
	targets    listenerList
	registered []*observation // mutation observers targeting this node
}

func (n *node) base() *node { return n }
func (n *node) ParentNode() Node { return n.parent }
func (n *node) OwnerDocument() *Document { return n.doc }
func (n *node) ChildNodes() []Node { return append([]Node(nil), n.children...) }
func (n *node) listeners() *listenerList { return &n.targets }
func (n *node) HasChildNodes() bool { return len(n.children) > 0 }

func (n *node) FirstChild() Node {
	if len(n.children) == 0 {
		return nil
	}
	return n.children[0]
}

func (n *node) LastChild() Node {
	if len(n.children) == 0 {
		return nil
	}
	return n.children[len(n.children)-1]
}

func (n *node) NextSibling() Node {
	if n.parent == nil {
		return nil
	}
	sibs := n.parent.base().children
	for i, c := range sibs {
		if c == n.self && i+1 < len(sibs) {
			return sibs[i+1]
		}
	}
	return nil
}

func (n *node) PreviousSibling() Node {
	if n.parent == nil {
		return nil
	}
	sibs := n.parent.base().children
	for i, c := range sibs {
		if c == n.self && i > 0 {
			return sibs[i-1]
		}
	}
	return nil
}

// Children returns the element children of the node, in tree order.
func (n *node) Children() []*Element {
	var out []*Element
	for _, c := range n.children {
		if el, ok := c.(*Element); ok {
			out = append(out, el)
		}
	}
	return out
}

func (n *node) Root() Node {
	var cur Node = n.self
	for {
		p := cur.ParentNode()
		if p == nil {
			return cur
		}
		cur = p
	}
}

func (n *node) IsConnected() bool {
	var cur Node = n.self
	for {
		switch r := cur.Root().(type) {
		case *Document:
			return true
		case *ShadowRoot:
			if r.host == nil {
				return false
			}
			cur = r.host
		default:
			return false
		}
	}
}

func (n *node) TextContent() string {
	var b strings.Builder
	var walk func(Node)
	walk = func(c Node) {
		switch v := c.(type) {
		case *Text:
			b.WriteString(v.data)
		case *Comment:
		default:
			for _, cc := range c.base().children {
				walk(cc)
			}
		}
	}
	for _, c := range n.children {
		walk(c)
	}
	return b.String()
}

// Text is a character data node.
type Text struct {
	node
	data string
}

func (t *Text) NodeType() NodeType { return TextNode }
func (t *Text) NodeName() string { return "#text" }
func (t *Text) Data() string { return t.data }
func (t *Text) TextContent() string { return t.data }

// SetData replaces the text. Character data changes are not reported to
// mutation observers; only childList records are modelled.
func (t *Text) SetData(s string) { t.data = s }

// Comment is a comment node.
type Comment struct {
	node
	data string
}

func (c *Comment) NodeType() NodeType { return CommentNode }
func (c *Comment) NodeName() string { return "#comment" }
func (c *Comment) Data() string { return c.data }
func (c *Comment) TextContent() string { return c.data }

// IsShadowIncludingInclusiveAncestor reports whether anc is n or one of its
// ancestors when shadow roots are followed to their hosts.
func IsShadowIncludingInclusiveAncestor(anc, n Node) bool {
	for n != nil {
		if n == anc {
			return true
		}
		if sr, ok := n.(*ShadowRoot); ok {
			if sr.host == nil {
				return false
			}
			n = sr.host
			continue
		}
		n = n.ParentNode()
	}
	return false
}

// Walk visits n and its light-tree descendants in tree order. It does not
// enter shadow roots. Returning false from fn skips the node's children.
// Walk is iterative so pathological nesting cannot exhaust the stack.
func Walk(n Node, fn func(Node) bool) {
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
	}
}
