package dom

import (
	"errors"
	"fmt"
)

var (
	// ErrHierarchy is returned when an insertion would produce an invalid tree.
	ErrHierarchy = errors.New("dom: hierarchy request error")
	// ErrNotFound is returned when a reference or removed node is not a child.
	ErrNotFound = errors.New("dom: node not found")
)

func appendChild(parent, child Node) error { return insertBefore(parent, child, nil) }

// insertBefore moves child under parent before ref. A child already in a
// tree is removed from its old parent first, as in the DOM. Mutation
// observers are notified once the insertion is complete.
func insertBefore(parent, child, ref Node) error {
	if child == nil {
		return fmt.Errorf("%w: nil child", ErrHierarchy)
	}
	switch child.(type) {
	case *Document, *ShadowRoot:
		return fmt.Errorf("%w: cannot insert %s", ErrHierarchy, child.NodeName())
	}
	if IsShadowIncludingInclusiveAncestor(child, parent) {
		return fmt.Errorf("%w: cycle", ErrHierarchy)
	}

	pb := parent.base()
	idx := len(pb.children)
	if ref != nil {
		idx = indexOf(pb.children, ref)
		if idx < 0 {
			return fmt.Errorf("%w: reference node", ErrNotFound)
		}
	}

	if old := child.ParentNode(); old != nil {
		ob := old.base()
		i := indexOf(ob.children, child)
		ob.children = append(ob.children[:i], ob.children[i+1:]...)
		if old == parent && i < idx {
			idx--
		}
		notifyChildList(old, nil, []Node{child})
	}

	pb.children = append(pb.children, nil)
	copy(pb.children[idx+1:], pb.children[idx:])
	pb.children[idx] = child
	child.base().parent = parent
	adopt(child, pb.doc)

	notifyChildList(parent, []Node{child}, nil)
	return nil
}

func removeChild(parent, child Node) error {
	pb := parent.base()
	i := indexOf(pb.children, child)
	if i < 0 {
		return ErrNotFound
	}
	pb.children = append(pb.children[:i], pb.children[i+1:]...)
	child.base().parent = nil
	notifyChildList(parent, nil, []Node{child})
	return nil
}

func indexOf(nodes []Node, n Node) int {
	for i, c := range nodes {
		if c == n {
			return i
		}
	}
	return -1
}

// adopt sets the owner document for a subtree, shadow trees included.
func adopt(n Node, doc *Document) {
	if doc == nil {
		return
	}
	stack := []Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		b := cur.base()
		if b.doc == doc {
			continue
		}
		b.doc = doc
		stack = append(stack, b.children...)
		if el, ok := cur.(*Element); ok && el.shadow != nil {
			stack = append(stack, el.shadow)
		}
	}
}
