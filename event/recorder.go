// CLAUDE:SUMMARY Recorder event stream types: full snapshots, mutation deltas and scroll deltas.
package event

// RecorderType is the type of a recorder event.
type RecorderType int

const (
	TypeDOMContentLoaded RecorderType = 0
	TypeLoad             RecorderType = 1
	TypeFullSnapshot     RecorderType = 2
	TypeIncremental      RecorderType = 3
	TypeMeta             RecorderType = 4
)

// Source identifies the kind of an incremental event.
type Source int

const (
	SourceMutation Source = 0
	SourceScroll   Source = 3
)

// RecorderEvent is a timestamped snapshot or delta. Data holds one of
// *MetaData, *SnapshotData, *MutationData or *ScrollData depending on Type
// and, for incremental events, the data's Source.
type RecorderEvent struct {
	Type      RecorderType `json:"type"`
	Timestamp int64        `json:"timestamp"` // epoch milliseconds
	Data      any          `json:"data"`
}

// MetaData opens a recording.
type MetaData struct {
	Href      string `json:"href"`
	SessionID string `json:"sessionId"`
}

// SnapshotData is a complete DOM photo, shadow roots serialised as
// declarative <template shadowrootmode> elements. Emitted when recording
// starts, at every checkpoint, and after a document reset.
type SnapshotData struct {
	ID         string `json:"id"` // UUIDv7
	URL        string `json:"url"`
	HTML       string `json:"html"`
	HTMLHash   string `json:"htmlHash"`
	Checkpoint bool   `json:"checkpoint,omitempty"`
}

// Op is the type of DOM mutation observed.
type Op string

const (
	OpInsert   Op = "insert"    // node inserted (HTML carries the subtree)
	OpRemove   Op = "remove"    // node removed
	OpText     Op = "text"      // character data changed
	OpAttr     Op = "attr"      // attribute set
	OpAttrDel  Op = "attr_del"  // attribute removed
	OpShadow   Op = "shadow"    // shadow root attached (HTML carries its content)
	OpDocReset Op = "doc_reset" // entire document replaced
)

// Record is a single DOM mutation. XPath is scoped to the node's own tree;
// Chain locates the scope across shadow boundaries.
type Record struct {
	Op       Op       `json:"op"`
	XPath    string   `json:"xpath"`
	Chain    []string `json:"chain,omitempty"`
	NodeType int      `json:"node_type,omitempty"` // 1=element, 3=text, 8=comment
	Tag      string   `json:"tag,omitempty"`
	Name     string   `json:"name,omitempty"`      // attribute name for attr/attr_del
	Value    string   `json:"value,omitempty"`     // new value
	OldValue string   `json:"old_value,omitempty"` // previous value
	HTML     string   `json:"html,omitempty"`      // serialised subtree for insert
}

// MutationData is one debounced batch of mutation records.
type MutationData struct {
	Source      Source   `json:"source"`
	Seq         uint64   `json:"seq"` // monotonically increasing per recording
	Records     []Record `json:"records"`
	SnapshotRef string   `json:"snapshotRef"` // ID of the last snapshot
}

// ScrollData is a scroll position change of the document or of a
// scrollable element.
type ScrollData struct {
	Source Source   `json:"source"`
	XPath  string   `json:"xpath,omitempty"` // empty for the document
	Chain  []string `json:"chain,omitempty"`
	X      float64  `json:"x"`
	Y      float64  `json:"y"`

	// Direction is set on coalesced events: "up" or "down".
	Direction string `json:"direction,omitempty"`
}

// NewScroll builds an incremental scroll event.
func NewScroll(ts int64, d ScrollData) RecorderEvent {
	d.Source = SourceScroll
	return RecorderEvent{Type: TypeIncremental, Timestamp: ts, Data: &d}
}

// NewMutation builds an incremental mutation event.
func NewMutation(ts int64, d MutationData) RecorderEvent {
	d.Source = SourceMutation
	return RecorderEvent{Type: TypeIncremental, Timestamp: ts, Data: &d}
}

// Scroll returns the scroll data of an incremental scroll event.
func (e RecorderEvent) Scroll() (*ScrollData, bool) {
	if e.Type != TypeIncremental {
		return nil, false
	}
	switch d := e.Data.(type) {
	case *ScrollData:
		return d, d != nil
	case ScrollData:
		return &d, true
	}
	return nil, false
}

// IsScroll reports whether e is an incremental scroll event.
func (e RecorderEvent) IsScroll() bool {
	_, ok := e.Scroll()
	return ok
}
