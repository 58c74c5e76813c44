// Package messaging carries notifications from the focus tracker to the
// per-tab title resolvers.
package messaging

import (
	"encoding/json"
	"fmt"
)

// TypeTabBlurred tells a resolver that its tab just lost focus.
const TypeTabBlurred = "GEMINI_TAB_BLURRED"

// Message is the wire shape shared by sender and receivers.
type Message struct {
	Type string `json:"type"`
}

// TabBlurred returns the focus-loss notification.
func TabBlurred() Message {
	return Message{Type: TypeTabBlurred}
}

// Encode marshals a message for delivery.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("messaging: empty message type")
	}
	return json.Marshal(m)
}

// Decode parses a delivered message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("messaging: decode: %w", err)
	}
	return m, nil
}
