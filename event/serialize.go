package event

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// MarshalMessage serialises a Message to JSON.
func MarshalMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMessage deserialises a Message, decoding the payload into the
// record type matching its Kind. Unknown kinds keep the raw payload.
func UnmarshalMessage(data []byte) (Message, error) {
	var raw struct {
		Type    Kind            `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, err
	}
	m := Message{Type: raw.Type}
	var err error
	switch raw.Type {
	case KindClick:
		m.Payload, err = decode[Click](raw.Payload)
	case KindInput:
		m.Payload, err = decode[Input](raw.Payload)
	case KindSelectChange:
		m.Payload, err = decode[SelectChange](raw.Payload)
	case KindKey:
		m.Payload, err = decode[Key](raw.Payload)
	case KindRecorder:
		m.Payload, err = UnmarshalRecorderEvent(raw.Payload)
	default:
		m.Payload = raw.Payload
	}
	if err != nil {
		return Message{}, fmt.Errorf("event: decode %s: %w", raw.Type, err)
	}
	return m, nil
}

func decode[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// UnmarshalRecorderEvent deserialises a RecorderEvent, restoring the
// concrete Data type from Type and Source.
func UnmarshalRecorderEvent(data []byte) (RecorderEvent, error) {
	var raw struct {
		Type      RecorderType    `json:"type"`
		Timestamp int64           `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return RecorderEvent{}, err
	}
	ev := RecorderEvent{Type: raw.Type, Timestamp: raw.Timestamp}

	var target any
	switch raw.Type {
	case TypeMeta:
		target = &MetaData{}
	case TypeFullSnapshot:
		target = &SnapshotData{}
	case TypeIncremental:
		var probe struct {
			Source Source `json:"source"`
		}
		if err := json.Unmarshal(raw.Data, &probe); err != nil {
			return RecorderEvent{}, err
		}
		switch probe.Source {
		case SourceScroll:
			target = &ScrollData{}
		case SourceMutation:
			target = &MutationData{}
		}
	}
	if target == nil {
		ev.Data = raw.Data
		return ev, nil
	}
	if err := json.Unmarshal(raw.Data, target); err != nil {
		return RecorderEvent{}, err
	}
	ev.Data = target
	return ev, nil
}

// HashHTML returns the SHA-256 hex digest of raw HTML bytes.
func HashHTML(html []byte) string {
	h := sha256.Sum256(html)
	return fmt.Sprintf("%x", h)
}
