// Package event defines the messages emitted by shadowtap. These are the
// public API contract: any consumer (replay tools, analysis pipelines,
// custom sinks) imports this package to decode what a tap produces.
package event

// Kind is the type of a Message.
type Kind string

const (
	KindRecorder     Kind = "recorder_event" // snapshot/delta from the recording engine
	KindClick        Kind = "click"
	KindInput        Kind = "input"
	KindSelectChange Kind = "select_change"
	KindKey          Kind = "key"
)

// Message is the envelope handed to the transport, one per captured event.
type Message struct {
	Type    Kind `json:"type"`
	Payload any  `json:"payload"`
}

// Locator fields shared by every interaction record. XPath is the
// structural path, valid within the element's own scope only. SelectorChain
// holds one selector per shadow scope, outermost first; joined with " >> "
// it addresses the element across shadow boundaries.
type Locator struct {
	XPath         string   `json:"xpath"`
	SelectorChain []string `json:"selectorChain"`
	CSSSelector   string   `json:"cssSelector"` // joined chain
}

// Base carries the fields common to every interaction record.
type Base struct {
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	URL       string `json:"url"`
	FrameURL  string `json:"frameUrl"`
	Locator
	ElementTag string `json:"elementTag"`
}

// Click is emitted for a click on any element.
type Click struct {
	Base
	ElementText string `json:"elementText"`
}

// Input is emitted for input events on inputs and textareas. Password
// values are always replaced by PasswordMask.
type Input struct {
	Base
	Value string `json:"value"`
}

// SelectChange is emitted when a <select> changes.
type SelectChange struct {
	Base
	SelectedValue string `json:"selectedValue"`
	SelectedText  string `json:"selectedText"`
}

// Key is emitted for allow-listed keys and Ctrl/Cmd shortcuts.
type Key struct {
	Base
	Key string `json:"key"`
}

// PasswordMask replaces every captured password value.
const PasswordMask = "********"

// NewClick wraps a Click record.
func NewClick(c Click) Message { return Message{Type: KindClick, Payload: c} }

// NewInput wraps an Input record.
func NewInput(in Input) Message { return Message{Type: KindInput, Payload: in} }

// NewSelectChange wraps a SelectChange record.
func NewSelectChange(s SelectChange) Message { return Message{Type: KindSelectChange, Payload: s} }

// NewKey wraps a Key record.
func NewKey(k Key) Message { return Message{Type: KindKey, Payload: k} }

// NewRecorder wraps a recorder event.
func NewRecorder(ev RecorderEvent) Message { return Message{Type: KindRecorder, Payload: ev} }
