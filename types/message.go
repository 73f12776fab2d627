package types

// MessageKind discriminates raw transport messages.
type MessageKind int

const (
	// MessageBinary is a binary WebSocket payload (preview image data).
	MessageBinary MessageKind = iota
	// MessageText is a textual WebSocket payload (JSON control message).
	MessageText
)

// RawMessage is one inbound transport message, exactly as received.
// Messages arrive in strict transport order and are consumed immediately by
// the dispatcher; Data is not retained after dispatch.
type RawMessage struct {
	Kind MessageKind
	Data []byte
}
