package discovery

import (
	"errors"
	"testing"

	"github.com/hazyhaar/shadowtap/dom"
)

// recorder counts instrumentations per root.
type recorder struct {
	calls map[*dom.ShadowRoot]int
	order []*dom.ShadowRoot
}

func newRecorder() *recorder { return &recorder{calls: make(map[*dom.ShadowRoot]int)} }

func (r *recorder) instrument(root *dom.ShadowRoot) error {
	r.calls[root]++
	r.order = append(r.order, root)
	return nil
}

func parse(t *testing.T, src string, opts ...dom.Option) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(src, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func install(t *testing.T, doc *dom.Document, chs Channels) (*Engine, *recorder) {
	t.Helper()
	rec := newRecorder()
	e := New(Config{Instrument: rec.instrument, Channels: chs})
	if err := e.Install(doc); err != nil {
		t.Fatal(err)
	}
	return e, rec
}

const nestedFixture = `<body>
	<div id="a"><template shadowrootmode="open">
		<span id="b"><template shadowrootmode="closed"><p>deep</p></template></span>
	</template></div>
	<section id="c"><template shadowrootmode="closed"><i></i></template></section>
</body>`

func TestExistingScan_Unprivileged(t *testing.T) {
	doc := parse(t, nestedFixture)
	e, rec := install(t, doc, Only(ChannelExisting, ChannelClosed))

	st := e.Stats()
	if st.ByChannel[ChannelExisting] != 1 {
		t.Errorf("existing: got %d, want 1", st.ByChannel[ChannelExisting])
	}
	if st.Total != 1 {
		t.Errorf("total: got %d, want 1 (closed roots unreachable without privilege)", st.Total)
	}
	if len(rec.calls) != 1 {
		t.Errorf("instrumented roots: got %d", len(rec.calls))
	}
}

func TestClosedScan_Privileged(t *testing.T) {
	doc := parse(t, nestedFixture, dom.WithPrivilegedAccess())
	e, rec := install(t, doc, Only(ChannelExisting, ChannelClosed))

	st := e.Stats()
	if st.ByChannel[ChannelExisting] != 1 || st.ByChannel[ChannelNested] != 1 || st.ByChannel[ChannelClosed] != 1 {
		t.Errorf("stats: got %v, want existing=1 nested=1 closed=1", st.ByChannel)
	}
	for root, n := range rec.calls {
		if n != 1 {
			t.Errorf("root of <%s> instrumented %d times", root.Host().LocalName(), n)
		}
	}
	if len(rec.calls) != 3 {
		t.Errorf("roots: got %d, want 3", len(rec.calls))
	}
}

func TestClosedScan_OnlyChannel(t *testing.T) {
	doc := parse(t, nestedFixture, dom.WithPrivilegedAccess())
	e, _ := install(t, doc, Only(ChannelClosed))
	if got := e.Stats().Total; got != 3 {
		t.Errorf("closed scan alone: got %d roots, want 3", got)
	}
}

func TestAttachInterception(t *testing.T) {
	doc := parse(t, `<body><div id="h"></div><input id="i"></body>`)
	e, rec := install(t, doc, Only(ChannelAttach))

	root, err := doc.GetElementByID("h").AttachShadow(dom.ShadowRootInit{Mode: dom.ShadowRootClosed})
	if err != nil {
		t.Fatal(err)
	}
	if !e.Instrumented(root) {
		t.Error("root not instrumented by the time attachShadow returned")
	}
	if root.Mode() != dom.ShadowRootClosed {
		t.Errorf("mode changed: %q", root.Mode())
	}
	if rec.calls[root] != 1 {
		t.Errorf("calls: got %d", rec.calls[root])
	}

	if _, err := doc.GetElementByID("i").AttachShadow(dom.ShadowRootInit{}); !errors.Is(err, dom.ErrNotSupported) {
		t.Errorf("error not preserved: got %v", err)
	}
	if e.Stats().Total != 1 {
		t.Errorf("failed attach counted: %+v", e.Stats())
	}
}

func TestDefineInterception(t *testing.T) {
	doc := parse(t, `<body><x-widget id="early"></x-widget><div id="fancy" is="x-fancy"></div></body>`)
	e, _ := install(t, doc, Only(ChannelDefine))

	ran := 0
	err := doc.CustomElements().Define("x-widget", func(el *dom.Element) error {
		ran++
		root, err := el.AttachShadow(dom.ShadowRootInit{Mode: dom.ShadowRootOpen})
		if err != nil {
			return err
		}
		return root.AppendChild(doc.CreateElement("button"))
	}, dom.DefineOptions{})
	if err != nil {
		t.Fatal(err)
	}

	late := doc.CreateElement("x-widget")
	if ran != 2 {
		t.Fatalf("constructor ran %d times, want 2", ran)
	}
	for _, el := range []*dom.Element{doc.GetElementByID("early"), late} {
		if !e.Instrumented(el.ShadowRoot()) {
			t.Errorf("root of %v not instrumented", el)
		}
	}
	if got := e.Stats().ByChannel[ChannelDefine]; got != 2 {
		t.Errorf("define channel: got %d, want 2", got)
	}
	if _, ok := doc.CustomElements().Get("x-widget"); !ok {
		t.Error("definition not registered")
	}

	// Customized built-in: <div is="x-fancy"> upgrades through the same hook.
	fancyRan := 0
	err = doc.CustomElements().Define("x-fancy", func(el *dom.Element) error {
		fancyRan++
		_, err := el.AttachShadow(dom.ShadowRootInit{Mode: dom.ShadowRootOpen})
		return err
	}, dom.DefineOptions{Extends: "div"})
	if err != nil {
		t.Fatal(err)
	}
	if fancyRan != 1 {
		t.Fatalf("customized built-in constructor ran %d times, want 1", fancyRan)
	}
	root := doc.GetElementByID("fancy").ShadowRoot()
	if root == nil {
		t.Fatal("<div is=x-fancy> was not upgraded")
	}
	if !e.Instrumented(root) {
		t.Error("root of <div is=x-fancy> not instrumented")
	}
	if got := e.Stats().ByChannel[ChannelDefine]; got != 3 {
		t.Errorf("define channel: got %d, want 3", got)
	}
}

func TestDefineInterception_PreservesConstructorError(t *testing.T) {
	doc := dom.NewDocument()
	e, rec := install(t, doc, Only(ChannelDefine))

	var reported error
	doc.CustomElements().OnConstructError(func(_ string, err error) { reported = err })
	boom := errors.New("ctor failed")
	_ = doc.CustomElements().Define("x-bad", func(*dom.Element) error { return boom }, dom.DefineOptions{})
	doc.CreateElement("x-bad")

	if !errors.Is(reported, boom) {
		t.Errorf("constructor error: got %v", reported)
	}
	if e.Stats().Total != 0 || len(rec.calls) != 0 {
		t.Error("failed constructor instrumented a root")
	}
}

func TestMutationObservation(t *testing.T) {
	doc := parse(t, `<body><div id="slot"></div></body>`, dom.WithPrivilegedAccess())
	e, _ := install(t, doc, Only(ChannelMutation))

	// A subtree built detached, its roots attached outside any hook, then
	// inserted as a unit.
	wrapper := doc.CreateElement("article")
	host := doc.CreateElement("div")
	_ = wrapper.AppendChild(host)
	root, _ := host.AttachShadowDeclarative(dom.ShadowRootClosed)

	if e.Instrumented(root) {
		t.Fatal("detached root instrumented before insertion")
	}
	_ = doc.GetElementByID("slot").AppendChild(wrapper)
	if !e.Instrumented(root) {
		t.Fatal("inserted root not instrumented")
	}

	// Insertion inside an instrumented shadow tree is observed too.
	inner := doc.CreateElement("span")
	innerRoot, _ := inner.AttachShadowDeclarative(dom.ShadowRootOpen)
	_ = root.AppendChild(inner)
	if !e.Instrumented(innerRoot) {
		t.Error("root inserted inside a shadow tree not instrumented")
	}
	if got := e.Stats().ByChannel[ChannelMutation]; got != 2 {
		t.Errorf("mutation channel: got %d, want 2", got)
	}

	e.Disconnect()
	late := doc.CreateElement("div")
	lateRoot, _ := late.AttachShadowDeclarative(dom.ShadowRootOpen)
	_ = doc.Body().AppendChild(late)
	if e.Instrumented(lateRoot) {
		t.Error("root instrumented after Disconnect")
	}
}

func TestRelease_ChurnKeepsBookkeepingBounded(t *testing.T) {
	doc := parse(t, `<body><main id="list"></main></body>`, dom.WithPrivilegedAccess())
	rec := newRecorder()
	var released []*dom.ShadowRoot
	e := New(Config{
		Instrument: rec.instrument,
		Release:    func(root *dom.ShadowRoot) { released = append(released, root) },
	})
	if err := e.Install(doc); err != nil {
		t.Fatal(err)
	}
	list := doc.GetElementByID("list")
	baseline := e.Tracked()

	const rows = 2000
	for i := 0; i < rows; i++ {
		row := doc.CreateElement("x-row")
		root, err := row.AttachShadow(dom.ShadowRootInit{Mode: dom.ShadowRootOpen})
		if err != nil {
			t.Fatal(err)
		}
		inner := doc.CreateElement("span")
		_, _ = inner.AttachShadowDeclarative(dom.ShadowRootClosed)
		_ = root.AppendChild(inner)

		_ = list.AppendChild(row)
		if !e.Instrumented(root) {
			t.Fatalf("row %d: root not instrumented", i)
		}
		_ = list.RemoveChild(row)
		if e.Instrumented(root) {
			t.Fatalf("row %d: root still tracked after removal", i)
		}
	}

	if got := e.Tracked(); got != baseline {
		t.Errorf("tracked roots: got %d, want %d", got, baseline)
	}
	if got := e.observer.Observed(); got != 1 {
		t.Errorf("observer registrations: got %d, want 1 (the document)", got)
	}
	if len(released) != 2*rows {
		t.Errorf("released: got %d, want %d", len(released), 2*rows)
	}
	if got := e.Stats().Released; got != 2*rows {
		t.Errorf("Stats.Released: got %d, want %d", got, 2*rows)
	}
}

func TestRelease_MoveKeepsRoot(t *testing.T) {
	doc := parse(t, `<body><div id="a"></div><div id="b"></div></body>`)
	released := 0
	e := New(Config{Release: func(*dom.ShadowRoot) { released++ }})
	if err := e.Install(doc); err != nil {
		t.Fatal(err)
	}
	host := doc.CreateElement("div")
	root, _ := host.AttachShadow(dom.ShadowRootInit{Mode: dom.ShadowRootOpen})
	_ = doc.GetElementByID("a").AppendChild(host)

	_ = doc.GetElementByID("b").AppendChild(host)
	if released != 0 || !e.Instrumented(root) {
		t.Errorf("move released the root: released=%d instrumented=%v", released, e.Instrumented(root))
	}

	// Reinsertion after removal instruments again.
	_ = doc.GetElementByID("b").RemoveChild(host)
	_ = doc.Body().AppendChild(host)
	if released != 1 || !e.Instrumented(root) {
		t.Errorf("reinsert: released=%d instrumented=%v", released, e.Instrumented(root))
	}
}

func TestVisitedGuard_OverlappingChannels(t *testing.T) {
	doc := parse(t, `<body></body>`, dom.WithPrivilegedAccess())
	e, rec := install(t, doc, AllChannels)

	_ = doc.CustomElements().Define("x-dup", func(el *dom.Element) error {
		_, err := el.AttachShadow(dom.ShadowRootInit{Mode: dom.ShadowRootClosed})
		return err
	}, dom.DefineOptions{})

	el := doc.CreateElement("x-dup")
	_ = doc.Body().AppendChild(el)
	// Move it: the mutation channel sees it again.
	_ = doc.Body().AppendChild(doc.CreateElement("p"))
	_ = doc.Body().InsertBefore(el, nil)

	for root, n := range rec.calls {
		if n != 1 {
			t.Errorf("root of <%s> instrumented %d times", root.Host().LocalName(), n)
		}
	}
	if st := e.Stats(); st.Total != 1 || st.ByChannel[ChannelAttach] != 1 {
		t.Errorf("stats: got %+v, want one root via attach", st)
	}
}

func TestInstrumentFailure_DoesNotAbortSiblings(t *testing.T) {
	doc := parse(t, `<body>
		<div class="bad"><template shadowrootmode="open"><span><template shadowrootmode="open"><b></b></template></span></template></div>
		<div><template shadowrootmode="open"><i></i></template></div>
	</body>`)

	var ok []*dom.ShadowRoot
	e := New(Config{Instrument: func(root *dom.ShadowRoot) error {
		if root.Host().Attribute("class") == "bad" {
			panic("listener attach failed")
		}
		ok = append(ok, root)
		return nil
	}})
	if err := e.Install(doc); err != nil {
		t.Fatal(err)
	}

	if len(ok) != 2 {
		t.Errorf("instrumented: got %d roots, want 2 (nested + sibling)", len(ok))
	}
	if st := e.Stats(); st.Failed != 1 {
		t.Errorf("failed: got %d, want 1", st.Failed)
	}
}

func TestDeepNesting(t *testing.T) {
	doc := parse(t, `<body></body>`)
	const depth = 5000
	host := doc.CreateElement("div")
	top := host
	for i := 0; i < depth; i++ {
		root, err := host.AttachShadowDeclarative(dom.ShadowRootOpen)
		if err != nil {
			t.Fatal(err)
		}
		next := doc.CreateElement("div")
		_ = root.AppendChild(next)
		host = next
	}
	_ = doc.Body().AppendChild(top)

	e, _ := install(t, doc, Only(ChannelExisting))
	if got := e.Stats().Total; got != depth {
		t.Errorf("instrumented: got %d, want %d", got, depth)
	}
}

func TestInstallTwice(t *testing.T) {
	doc := dom.NewDocument()
	e, _ := install(t, doc, AllChannels)
	if err := e.Install(doc); !errors.Is(err, ErrInstalled) {
		t.Errorf("got %v, want ErrInstalled", err)
	}
}
