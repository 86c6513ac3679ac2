package mirror

import (
	"fmt"

	"github.com/go-rod/rod/lib/proto"
	"github.com/hazyhaar/shadowtap/dom"
	"github.com/hazyhaar/shadowtap/event"
)

// Apply patches the mirror with one CDP DOM event and reports the change to
// subscribers. Unknown event types are ignored.
func (m *Mirror) Apply(ev any) error {
	m.lock()
	defer m.unlock()
	if m.doc == nil {
		return ErrNotLoaded
	}

	switch e := ev.(type) {
	case *proto.DOMChildNodeInserted:
		return m.insert(e)
	case *proto.DOMChildNodeRemoved:
		return m.remove(e)
	case *proto.DOMAttributeModified:
		return m.setAttr(e)
	case *proto.DOMAttributeRemoved:
		return m.removeAttr(e)
	case *proto.DOMCharacterDataModified:
		return m.setText(e)
	case *proto.DOMSetChildNodes:
		return m.setChildren(e)
	case *proto.DOMShadowRootPushed:
		return m.pushShadow(e)
	case *proto.DOMShadowRootPopped:
		return m.popShadow(e)
	case *proto.DOMDocumentUpdated:
		return ErrDocumentReplaced
	}
	return nil
}

func (m *Mirror) container(id proto.DOMNodeID) (container, error) {
	n, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	c, ok := n.(container)
	if !ok {
		return nil, fmt.Errorf("%w: %d cannot hold children", ErrUnknownNode, id)
	}
	return c, nil
}

// insert builds the new subtree detached and then inserts it, so mutation
// observers see one added node carrying whatever shadow roots came with it.
func (m *Mirror) insert(e *proto.DOMChildNodeInserted) error {
	if e.Node == nil {
		return nil
	}
	parent, err := m.container(e.ParentNodeID)
	if err != nil {
		return fmt.Errorf("mirror: insert: %w", err)
	}
	ref := parent.FirstChild()
	if e.PreviousNodeID != 0 {
		prev, err := m.lookup(e.PreviousNodeID)
		if err != nil {
			return fmt.Errorf("mirror: insert: previous: %w", err)
		}
		ref = prev.NextSibling()
	}
	n := m.build(e.Node)
	if n == nil {
		return nil
	}
	if err := parent.InsertBefore(n, ref); err != nil {
		m.untrack(n)
		return fmt.Errorf("mirror: insert: %w", err)
	}
	rec := record(event.OpInsert, n)
	rec.HTML = dom.OuterHTML(n)
	m.notifyRecord(rec, false)
	return nil
}

func (m *Mirror) remove(e *proto.DOMChildNodeRemoved) error {
	n, err := m.lookup(e.NodeID)
	if err != nil {
		return fmt.Errorf("mirror: remove: %w", err)
	}
	rec := record(event.OpRemove, n)
	if parent, ok := n.ParentNode().(container); ok {
		if err := parent.RemoveChild(n); err != nil {
			return fmt.Errorf("mirror: remove: %w", err)
		}
	}
	m.untrack(n)
	m.notifyRecord(rec, false)
	return nil
}

func (m *Mirror) setAttr(e *proto.DOMAttributeModified) error {
	el, err := m.element(e.NodeID)
	if err != nil {
		return fmt.Errorf("mirror: attribute: %w", err)
	}
	old, _ := el.GetAttribute(e.Name)
	el.SetAttribute(e.Name, e.Value)
	rec := record(event.OpAttr, el)
	rec.Name, rec.Value, rec.OldValue = e.Name, e.Value, old
	m.notifyRecord(rec, isPassword(el))
	return nil
}

func (m *Mirror) removeAttr(e *proto.DOMAttributeRemoved) error {
	el, err := m.element(e.NodeID)
	if err != nil {
		return fmt.Errorf("mirror: attribute: %w", err)
	}
	old, had := el.GetAttribute(e.Name)
	if !had {
		return nil
	}
	password := isPassword(el)
	el.RemoveAttribute(e.Name)
	rec := record(event.OpAttrDel, el)
	rec.Name, rec.OldValue = e.Name, old
	m.notifyRecord(rec, password)
	return nil
}

func (m *Mirror) setText(e *proto.DOMCharacterDataModified) error {
	n, err := m.lookup(e.NodeID)
	if err != nil {
		return fmt.Errorf("mirror: character data: %w", err)
	}
	t, ok := n.(*dom.Text)
	if !ok {
		return nil
	}
	old := t.Data()
	t.SetData(e.CharacterData)
	rec := record(event.OpText, t)
	rec.Value, rec.OldValue = e.CharacterData, old
	m.notifyRecord(rec, false)
	return nil
}

// setChildren fills a node whose children CDP had not sent yet. It is a
// catch-up, not a page mutation, so nothing is recorded.
func (m *Mirror) setChildren(e *proto.DOMSetChildNodes) error {
	parent, err := m.container(e.ParentID)
	if err != nil {
		return fmt.Errorf("mirror: set children: %w", err)
	}
	if parent.HasChildNodes() {
		return nil
	}
	m.appendBuilt(parent, e.Nodes)
	return nil
}

func (m *Mirror) pushShadow(e *proto.DOMShadowRootPushed) error {
	host, err := m.element(e.HostID)
	if err != nil {
		return fmt.Errorf("mirror: shadow root pushed: %w", err)
	}
	if e.Root == nil {
		return nil
	}
	root := m.buildShadow(host, e.Root, true)
	if root == nil {
		return nil
	}
	rec := record(event.OpShadow, host)
	rec.HTML = dom.OuterHTML(root)
	m.notifyRecord(rec, false)
	return nil
}

// popShadow forgets the node ids of a root CDP stopped tracking. The root
// stays on its host: the DOM has no way to detach a shadow root.
func (m *Mirror) popShadow(e *proto.DOMShadowRootPopped) error {
	n, err := m.lookup(e.RootID)
	if err != nil {
		return nil
	}
	m.untrack(n)
	return nil
}
