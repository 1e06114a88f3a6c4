package process

// Message is the tagged payload exchanged between processes. The
// runtime is opaque to its contents except for pattern-matching in
// selective receive (§3).
type Message struct {
	kind MessageKind
	text string
	data interface{}
	blob []byte
}

// MessageKind tags the active field of a Message.
type MessageKind int

const (
	KindText MessageKind = iota
	KindData
	KindBytes
)

// TextMessage wraps a string payload.
func TextMessage(s string) Message { return Message{kind: KindText, text: s} }

// DataMessage wraps a structured payload of arbitrary shape.
func DataMessage(v interface{}) Message { return Message{kind: KindData, data: v} }

// BytesMessage wraps an opaque byte payload.
func BytesMessage(b []byte) Message { return Message{kind: KindBytes, blob: b} }

// Kind reports which field of the message is active.
func (m Message) Kind() MessageKind { return m.kind }

// Text returns the text payload and whether the message is a KindText.
func (m Message) Text() (string, bool) {
	return m.text, m.kind == KindText
}

// Data returns the structured payload and whether the message is a
// KindData.
func (m Message) Data() (interface{}, bool) {
	return m.data, m.kind == KindData
}

// Bytes returns the byte payload and whether the message is a
// KindBytes.
func (m Message) Bytes() ([]byte, bool) {
	return m.blob, m.kind == KindBytes
}

// Reserved exit-signal shapes, delivered as ordinary messages carrying
// a DataMessage of one of these types (§6).
type (
	// Down is delivered to a monitor when the monitored process exits.
	Down struct {
		Pid    Pid
		Ref    MonitorRef
		Reason error
	}
	// Exit is delivered to a link when the linked process exits
	// abnormally and the receiver traps exits instead of dying too.
	Exit struct {
		Pid    Pid
		Reason error
	}
)
