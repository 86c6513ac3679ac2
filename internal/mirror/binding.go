package mirror

import (
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/shadowtap/dom"
	"github.com/hazyhaar/shadowtap/event"
	"github.com/hazyhaar/shadowtap/internal/locator"
	"github.com/hazyhaar/shadowtap/internal/recorder"
)

// BindingName is the Runtime binding the capture script calls.
const BindingName = "__shadowtap"

// Binding ops sent by the capture script.
const (
	OpClick    = "click"
	OpInput    = "input"
	OpChange   = "change"
	OpKeydown  = "keydown"
	OpScroll   = "scroll"
	OpDefine   = "define"
	OpNavigate = "navigate"
)

// Payload is one message from the capture script.
type Payload struct {
	Op            string  `json:"op"`
	Addr          [][]int `json:"addr,omitempty"`
	Value         *string `json:"value,omitempty"`
	SelectedIndex *int    `json:"selectedIndex,omitempty"`
	Key           string  `json:"key,omitempty"`
	Ctrl          bool    `json:"ctrl,omitempty"`
	Meta          bool    `json:"meta,omitempty"`
	Shift         bool    `json:"shift,omitempty"`
	Alt           bool    `json:"alt,omitempty"`
	X             float64 `json:"x,omitempty"`
	Y             float64 `json:"y,omitempty"`
	Name          string  `json:"name,omitempty"`
	Extends       string  `json:"extends,omitempty"`
	URL           string  `json:"url,omitempty"`
}

// HandleBinding applies one binding call: user events are replayed into
// the mirror, scrolls go to subscribers, definitions and navigations update
// the document.
func (m *Mirror) HandleBinding(raw string) error {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fmt.Errorf("mirror: binding: %w", err)
	}
	m.lock()
	defer m.unlock()
	if m.doc == nil {
		return ErrNotLoaded
	}

	switch p.Op {
	case OpClick, OpInput, OpChange, OpKeydown:
		return m.dispatch(p)
	case OpScroll:
		return m.scroll(p)
	case OpDefine:
		return m.define(p)
	case OpNavigate:
		if p.URL == "" {
			return nil
		}
		m.doc.SetURL(p.URL)
		m.setURL(p.URL)
		m.logger.Info("mirror: SPA navigation", "url", p.URL)
		return nil
	}
	return fmt.Errorf("mirror: binding: unknown op %q", p.Op)
}

// dispatch replays a user event at the resolved node, after copying the
// form state the page had when the event fired.
func (m *Mirror) dispatch(p Payload) error {
	target, err := Resolve(m.doc, p.Addr)
	if err != nil {
		return fmt.Errorf("mirror: %s: %w", p.Op, err)
	}
	if el, ok := target.(*dom.Element); ok {
		if p.SelectedIndex != nil && el.LocalName() == "select" {
			el.SetSelectedIndex(*p.SelectedIndex)
		} else if p.Value != nil {
			el.SetValue(*p.Value)
		}
	}

	init := dom.EventInit{Bubbles: true, Composed: true, Cancelable: true}
	switch p.Op {
	case OpInput:
		init.Cancelable = false
	case OpChange:
		init.Composed, init.Cancelable = false, false
	case OpKeydown:
		init.Key, init.CtrlKey, init.MetaKey = p.Key, p.Ctrl, p.Meta
		init.ShiftKey, init.AltKey = p.Shift, p.Alt
	}
	target.DispatchEvent(dom.NewEvent(p.Op, init))
	return nil
}

func (m *Mirror) scroll(p Payload) error {
	sd := event.ScrollData{X: p.X, Y: p.Y}
	if len(p.Addr) > 0 {
		target, err := Resolve(m.doc, p.Addr)
		if err != nil {
			return fmt.Errorf("mirror: scroll: %w", err)
		}
		if el, ok := target.(*dom.Element); ok {
			loc := locator.Locate(el)
			sd.XPath, sd.Chain = loc.StructuralPath, loc.SelectorChain
		}
	}
	m.notify(recorder.Change{Scroll: &sd, At: m.now()})
	return nil
}

// define registers a definition made by the page. The page already ran
// the constructor on its own elements, so the mirror's is empty; defining
// still upgrades matching mirror elements through any hook on define.
func (m *Mirror) define(p Payload) error {
	reg := m.doc.CustomElements()
	if _, ok := reg.Get(p.Name); ok {
		return nil
	}
	err := reg.Define(p.Name, func(*dom.Element) error { return nil }, dom.DefineOptions{Extends: p.Extends})
	if err != nil {
		return fmt.Errorf("mirror: define: %w", err)
	}
	return nil
}
