package dom

import (
	"errors"
	"strings"
	"testing"
)

func mustParse(t *testing.T, src string, opts ...Option) *Document {
	t.Helper()
	doc, err := ParseString(src, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestParse_DeclarativeShadowRoots(t *testing.T) {
	doc := mustParse(t, `<html><body>
		<div id="open-host"><template shadowrootmode="open"><span id="inner">hi</span></template><p>light</p></div>
		<div id="closed-host"><template shadowrootmode="closed"><b id="secret"></b></template></div>
	</body></html>`)

	open := doc.GetElementByID("open-host")
	if open == nil {
		t.Fatal("open-host not found")
	}
	sr := open.ShadowRoot()
	if sr == nil {
		t.Fatal("open-host: no shadow root")
	}
	if sr.Mode() != ShadowRootOpen {
		t.Errorf("mode: got %q, want open", sr.Mode())
	}
	if sr.GetElementByID("inner") == nil {
		t.Error("inner span not inside shadow root")
	}
	if doc.GetElementByID("inner") != nil {
		t.Error("shadow content leaked into the light tree")
	}
	if got := len(open.Children()); got != 1 {
		t.Errorf("light children: got %d, want 1 (template must not stay)", got)
	}

	closed := doc.GetElementByID("closed-host")
	if closed.ShadowRoot() != nil {
		t.Error("closed root must not be reachable through ShadowRoot()")
	}
	if _, ok := doc.ClosedRootAccessor(); ok {
		t.Error("unprivileged document exposed a closed root accessor")
	}

	priv := mustParse(t, `<div id="h"><template shadowrootmode="closed"><i></i></template></div>`, WithPrivilegedAccess())
	acc, ok := priv.ClosedRootAccessor()
	if !ok {
		t.Fatal("privileged document has no accessor")
	}
	if sr := acc.OpenOrClosedShadowRoot(priv.GetElementByID("h")); sr == nil || sr.Mode() != ShadowRootClosed {
		t.Errorf("accessor: got %v, want closed root", sr)
	}
}

func TestOuterHTML_RendersShadowTemplates(t *testing.T) {
	doc := mustParse(t, `<div id="h"><template shadowrootmode="open"><span>x</span></template></div>`)
	got := OuterHTML(doc.GetElementByID("h"))
	want := `<div id="h"><template shadowrootmode="open"><span>x</span></template></div>`
	if got != want {
		t.Errorf("OuterHTML:\n got %s\nwant %s", got, want)
	}
}

func TestDispatch_CaptureOrderAcrossShadowRoots(t *testing.T) {
	doc := mustParse(t, `<div id="outer"></div>`)
	outer := doc.GetElementByID("outer")
	outerRoot, err := outer.AttachShadow(ShadowRootInit{Mode: ShadowRootOpen})
	if err != nil {
		t.Fatal(err)
	}
	innerHost := doc.CreateElement("x-inner")
	_ = outerRoot.AppendChild(innerHost)
	innerRoot, err := innerHost.AttachShadow(ShadowRootInit{Mode: ShadowRootClosed})
	if err != nil {
		t.Fatal(err)
	}
	btn := doc.CreateElement("button")
	_ = innerRoot.AppendChild(btn)

	var order []string
	add := func(target EventTarget, name string, capture bool) {
		target.AddEventListener("click", func(ev *Event) { order = append(order, name) }, ListenerOptions{Capture: capture})
	}
	add(doc, "doc-bubble", false)
	add(innerRoot, "inner-capture", true)
	add(doc, "doc-capture", true)
	add(outerRoot, "outer-capture", true)
	add(btn, "target", false)

	btn.DispatchEvent(NewEvent("click", EventInit{Bubbles: true, Composed: true}))

	want := "doc-capture,outer-capture,inner-capture,target,doc-bubble"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order:\n got %s\nwant %s", got, want)
	}
}

func TestDispatch_RetargetAndClosedComposedPath(t *testing.T) {
	doc := mustParse(t, `<div id="host"></div>`)
	host := doc.GetElementByID("host")
	root, _ := host.AttachShadow(ShadowRootInit{Mode: ShadowRootClosed})
	btn := doc.CreateElement("button")
	_ = root.AppendChild(btn)

	var docTarget, rootTarget Node
	var docPath, rootPath []Node
	doc.AddEventListener("click", func(ev *Event) {
		docTarget = ev.Target()
		docPath = ev.ComposedPath()
	}, ListenerOptions{Capture: true})
	root.AddEventListener("click", func(ev *Event) {
		rootTarget = ev.Target()
		rootPath = ev.ComposedPath()
	}, ListenerOptions{Capture: true})

	btn.DispatchEvent(NewEvent("click", EventInit{Bubbles: true, Composed: true}))

	if docTarget != Node(host) {
		t.Errorf("document sees target %v, want host", docTarget)
	}
	if rootTarget != Node(btn) {
		t.Errorf("shadow root sees target %v, want button", rootTarget)
	}
	if len(docPath) == 0 || docPath[0] != Node(host) {
		t.Errorf("document composed path must start at the host, got %v", docPath)
	}
	if len(rootPath) == 0 || rootPath[0] != Node(btn) {
		t.Errorf("root composed path must start at the button, got %v", rootPath)
	}
}

func TestDispatch_NonComposedStopsAtShadowRoot(t *testing.T) {
	doc := mustParse(t, `<div id="host"></div>`)
	root, _ := doc.GetElementByID("host").AttachShadow(ShadowRootInit{Mode: ShadowRootOpen})
	sel := doc.CreateElement("select")
	_ = root.AppendChild(sel)

	docSaw, rootSaw := false, false
	doc.AddEventListener("change", func(*Event) { docSaw = true }, ListenerOptions{Capture: true})
	root.AddEventListener("change", func(*Event) { rootSaw = true }, ListenerOptions{Capture: true})

	sel.DispatchEvent(NewEvent("change", EventInit{Bubbles: true}))
	if docSaw {
		t.Error("non-composed event escaped the shadow root")
	}
	if !rootSaw {
		t.Error("shadow root capture listener did not fire")
	}
}

func TestDispatch_StopPropagationAndRemove(t *testing.T) {
	doc := mustParse(t, `<p id="p"></p>`)
	p := doc.GetElementByID("p")

	calls := 0
	remove := doc.AddEventListener("click", func(ev *Event) {
		calls++
		ev.StopPropagation()
	}, ListenerOptions{Capture: true})
	p.AddEventListener("click", func(*Event) { t.Error("listener after StopPropagation ran") }, ListenerOptions{})

	p.DispatchEvent(NewEvent("click", EventInit{Bubbles: true}))
	if calls != 1 {
		t.Fatalf("calls: got %d, want 1", calls)
	}

	remove()
	if n := doc.ListenerCount("click"); n != 0 {
		t.Errorf("ListenerCount after remove: got %d, want 0", n)
	}
}

func TestDispatch_ListenerPanicIsContained(t *testing.T) {
	doc := mustParse(t, `<p id="p"></p>`)
	var reported error
	doc.OnError(func(err error) { reported = err })

	ran := false
	doc.AddEventListener("click", func(*Event) { panic("boom") }, ListenerOptions{Capture: true})
	doc.AddEventListener("click", func(*Event) { ran = true }, ListenerOptions{Capture: true})

	doc.GetElementByID("p").DispatchEvent(NewEvent("click", EventInit{Bubbles: true}))
	if !ran {
		t.Error("second listener did not run after a panic")
	}
	if reported == nil {
		t.Error("panic was not reported")
	}
}

func TestPatchAttachShadow(t *testing.T) {
	doc := NewDocument()
	var seen []*ShadowRoot
	doc.PatchAttachShadow(func(orig AttachShadowFunc) AttachShadowFunc {
		return func(req AttachShadowRequest) (*ShadowRoot, error) {
			sr, err := orig(req)
			if err == nil {
				seen = append(seen, sr)
			}
			return sr, err
		}
	})

	div := doc.CreateElement("div")
	sr, err := div.AttachShadow(ShadowRootInit{Mode: ShadowRootClosed})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != sr {
		t.Errorf("patch saw %v, want [%p]", seen, sr)
	}

	if _, err := div.AttachShadow(ShadowRootInit{Mode: ShadowRootOpen}); !errors.Is(err, ErrNotSupported) {
		t.Errorf("second attach: got %v, want ErrNotSupported", err)
	}
	if _, err := doc.CreateElement("input").AttachShadow(ShadowRootInit{}); !errors.Is(err, ErrNotSupported) {
		t.Errorf("attach on input: got %v, want ErrNotSupported", err)
	}

	decl := doc.CreateElement("section")
	if _, err := decl.AttachShadowDeclarative(ShadowRootOpen); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 {
		t.Error("declarative attach went through the patched attachShadow")
	}
}

func TestCustomElements_DefineAndUpgrade(t *testing.T) {
	doc := mustParse(t, `<body><x-card id="early"></x-card></body>`)

	var constructed []*Element
	ctor := func(el *Element) error {
		constructed = append(constructed, el)
		_, err := el.AttachShadow(ShadowRootInit{Mode: ShadowRootOpen})
		return err
	}
	if err := doc.CustomElements().Define("x-card", ctor, DefineOptions{}); err != nil {
		t.Fatal(err)
	}
	early := doc.GetElementByID("early")
	if len(constructed) != 1 || constructed[0] != early {
		t.Fatalf("upgrade: constructed %v, want the parsed element", constructed)
	}
	if early.ShadowRoot() == nil {
		t.Error("upgraded element has no shadow root")
	}

	late := doc.CreateElement("x-card")
	if len(constructed) != 2 || late.ShadowRoot() == nil {
		t.Error("CreateElement did not run the constructor")
	}

	if err := doc.CustomElements().Define("x-card", ctor, DefineOptions{}); !errors.Is(err, ErrDefine) {
		t.Errorf("duplicate define: got %v, want ErrDefine", err)
	}
	if err := doc.CustomElements().Define("nohyphen", ctor, DefineOptions{}); !errors.Is(err, ErrDefine) {
		t.Errorf("invalid name: got %v, want ErrDefine", err)
	}
}

func TestValidCustomElementName(t *testing.T) {
	valid := []string{"x-a", "my-element", "a-1.b_c"}
	invalid := []string{"", "div", "X-a", "1-a", "font-face", "a-B", "a b-c"}
	for _, n := range valid {
		if !ValidCustomElementName(n) {
			t.Errorf("ValidCustomElementName(%q) = false", n)
		}
	}
	for _, n := range invalid {
		if ValidCustomElementName(n) {
			t.Errorf("ValidCustomElementName(%q) = true", n)
		}
	}
}

func TestMutationObserver_SubtreeDoesNotEnterShadowTrees(t *testing.T) {
	doc := mustParse(t, `<body><div id="host"></div></body>`)
	host := doc.GetElementByID("host")
	root, _ := host.AttachShadow(ShadowRootInit{Mode: ShadowRootOpen})

	var added []Node
	mo := NewMutationObserver(func(recs []MutationRecord, _ *MutationObserver) {
		for _, r := range recs {
			added = append(added, r.AddedNodes...)
		}
	})
	mo.Observe(doc, ObserveOptions{ChildList: true, Subtree: true})

	light := doc.CreateElement("p")
	_ = doc.Body().AppendChild(light)
	_ = root.AppendChild(doc.CreateElement("span"))

	if len(added) != 1 || added[0] != Node(light) {
		t.Fatalf("added: got %v, want only the light <p>", added)
	}

	mo.Observe(root, ObserveOptions{ChildList: true, Subtree: true})
	_ = root.AppendChild(doc.CreateElement("em"))
	if len(added) != 2 {
		t.Errorf("after observing the root: got %d records, want 2", len(added))
	}

	mo.Disconnect()
	_ = doc.Body().AppendChild(doc.CreateElement("hr"))
	if len(added) != 2 {
		t.Error("records delivered after Disconnect")
	}
}

func TestMutationObserver_Unobserve(t *testing.T) {
	doc := mustParse(t, `<body><div id="a"><div id="b"></div></div></body>`)
	a, b := doc.GetElementByID("a"), doc.GetElementByID("b")

	var got []Node
	mo := NewMutationObserver(func(recs []MutationRecord, _ *MutationObserver) {
		for _, r := range recs {
			got = append(got, r.Target)
		}
	})
	mo.Observe(a, ObserveOptions{ChildList: true, Subtree: true})
	mo.Observe(b, ObserveOptions{ChildList: true})
	if mo.Observed() != 2 {
		t.Fatalf("Observed: got %d, want 2", mo.Observed())
	}

	// Both registrations match; the observer hears it once.
	_ = b.AppendChild(doc.CreateElement("i"))
	if len(got) != 1 || got[0] != Node(b) {
		t.Fatalf("records: got %v, want one for b", got)
	}

	mo.Unobserve(a)
	_ = b.AppendChild(doc.CreateElement("i"))
	_ = a.AppendChild(doc.CreateElement("i"))
	if len(got) != 2 {
		t.Fatalf("after Unobserve(a): got %d records, want 2", len(got))
	}

	// Without Subtree, b's registration ignores its descendants.
	_ = b.FirstChild().(*Element).AppendChild(doc.CreateElement("u"))
	if len(got) != 2 {
		t.Errorf("non-subtree registration reported a grandchild change")
	}

	mo.Unobserve(b)
	if mo.Observed() != 0 || len(b.base().registered) != 0 || len(a.base().registered) != 0 {
		t.Errorf("registrations left after Unobserve: observer %d, a %d, b %d",
			mo.Observed(), len(a.base().registered), len(b.base().registered))
	}
}

// A registration travels with its node when the node moves.
func TestMutationObserver_RegistrationFollowsNode(t *testing.T) {
	doc := mustParse(t, `<body><div id="x"></div><div id="y"></div></body>`)
	x, y := doc.GetElementByID("x"), doc.GetElementByID("y")

	n := 0
	mo := NewMutationObserver(func([]MutationRecord, *MutationObserver) { n++ })
	mo.Observe(x, ObserveOptions{ChildList: true, Subtree: true})

	_ = y.AppendChild(x)
	n = 0
	_ = x.AppendChild(doc.CreateElement("p"))
	if n != 1 {
		t.Errorf("records after move: got %d, want 1", n)
	}
}

func TestInsertBefore_MovesNode(t *testing.T) {
	doc := mustParse(t, `<ul id="l"><li id="a"></li><li id="b"></li><li id="c"></li></ul>`)
	l := doc.GetElementByID("l")
	c := doc.GetElementByID("c")
	if err := l.InsertBefore(c, doc.GetElementByID("a")); err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, el := range l.Children() {
		ids = append(ids, el.ID())
	}
	if got := strings.Join(ids, ","); got != "c,a,b" {
		t.Errorf("order: got %s, want c,a,b", got)
	}
	if err := l.AppendChild(l); !errors.Is(err, ErrHierarchy) {
		t.Errorf("self append: got %v, want ErrHierarchy", err)
	}
}

func TestFormValues(t *testing.T) {
	doc := mustParse(t, `<body>
		<input id="i" value="init">
		<textarea id="ta">text</textarea>
		<select id="s"><option value="a">Alpha</option><option selected>Beta</option></select>
	</body>`)

	in := doc.GetElementByID("i")
	if in.Value() != "init" {
		t.Errorf("input default: got %q", in.Value())
	}
	in.SetValue("typed")
	if in.Value() != "typed" || in.Attribute("value") != "init" {
		t.Errorf("input live value: got %q / attr %q", in.Value(), in.Attribute("value"))
	}

	if ta := doc.GetElementByID("ta"); ta.Value() != "text" {
		t.Errorf("textarea: got %q", ta.Value())
	}

	s := doc.GetElementByID("s")
	if s.SelectedIndex() != 1 || s.Value() != "Beta" {
		t.Errorf("select default: index %d value %q", s.SelectedIndex(), s.Value())
	}
	s.SetValue("a")
	if s.SelectedIndex() != 0 || strings.TrimSpace(s.SelectedOption().TextContent()) != "Alpha" {
		t.Errorf("select after SetValue: index %d", s.SelectedIndex())
	}
}
