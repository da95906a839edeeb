// Package hub fans dashboard messages out to websocket clients.
package hub

// Kind selects the websocket frame type a Message is written as.
type Kind uint8

const (
	// Text frames carry JSON envelopes.
	Text Kind = iota
	// Binary frames carry JPEG overlay frames.
	Binary
)

// Message is one outbound frame.
type Message struct {
	Kind Kind
	Data []byte
}

// TextMessage wraps pre-encoded JSON.
func TextMessage(data []byte) Message {
	return Message{Kind: Text, Data: data}
}

// BinaryMessage wraps raw bytes.
func BinaryMessage(data []byte) Message {
	return Message{Kind: Binary, Data: data}
}
