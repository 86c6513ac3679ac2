package dom

// MutationRecord describes one childList change.
type MutationRecord struct {
	Type         string // always "childList"
	Target       Node
	AddedNodes   []Node
	RemovedNodes []Node
}

// ObserveOptions mirrors MutationObserverInit for childList observation.
type ObserveOptions struct {
	ChildList bool
	Subtree   bool
}

// MutationCallback receives records for one mutation.
type MutationCallback func(records []MutationRecord, obs *MutationObserver)

// MutationObserver reports childList changes under observed targets.
// Records are delivered synchronously once the mutating call completes,
// instead of at a microtask checkpoint. Like the DOM, subtree observation
// does not cross into shadow trees: each shadow root is observed on its own.
//
// Registrations live on the observed node, so a mutation only consults the
// registrations of its parent's light ancestors.
type MutationObserver struct {
	cb   MutationCallback
	regs map[Node]*observation
}

type observation struct {
	obs    *MutationObserver
	target Node
	opts   ObserveOptions
}

// NewMutationObserver creates an observer with the given callback.
func NewMutationObserver(cb MutationCallback) *MutationObserver {
	return &MutationObserver{cb: cb, regs: make(map[Node]*observation)}
}

// Observe starts observing target. Observing the same target twice
// replaces the options.
func (m *MutationObserver) Observe(target Node, opts ObserveOptions) {
	if r, ok := m.regs[target]; ok {
		r.opts = opts
		return
	}
	reg := &observation{obs: m, target: target, opts: opts}
	m.regs[target] = reg
	b := target.base()
	b.registered = append(b.registered, reg)
}

// Unobserve drops the registration of target, if any.
func (m *MutationObserver) Unobserve(target Node) {
	r, ok := m.regs[target]
	if !ok {
		return
	}
	delete(m.regs, target)
	unregister(r)
}

// Observed returns how many targets m observes.
func (m *MutationObserver) Observed() int { return len(m.regs) }

// Disconnect stops every observation of m.
func (m *MutationObserver) Disconnect() {
	for t, r := range m.regs {
		unregister(r)
		delete(m.regs, t)
	}
}

func unregister(r *observation) {
	b := r.target.base()
	for i, o := range b.registered {
		if o == r {
			b.registered = append(b.registered[:i], b.registered[i+1:]...)
			break
		}
	}
	if len(b.registered) == 0 {
		b.registered = nil
	}
}

// notifyChildList walks from parent up its light ancestors. parent's own
// registrations match any childList observer; an ancestor's only match
// with Subtree. Each observer gets the record at most once.
func notifyChildList(parent Node, added, removed []Node) {
	var hits []*observation
	for p := parent; p != nil; p = p.ParentNode() {
		for _, reg := range p.base().registered {
			if !reg.opts.ChildList || (p != parent && !reg.opts.Subtree) {
				continue
			}
			dup := false
			for _, h := range hits {
				if h.obs == reg.obs {
					dup = true
					break
				}
			}
			if !dup {
				hits = append(hits, reg)
			}
		}
	}
	if len(hits) == 0 {
		return
	}
	rec := MutationRecord{Type: "childList", Target: parent, AddedNodes: added, RemovedNodes: removed}
	for _, reg := range hits {
		reg.obs.cb([]MutationRecord{rec}, reg.obs)
	}
}
