// Package wire defines the broadcast envelope exchanged between pool nodes.
package wire

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the four message variants.
type Kind string

const (
	// KindSet asserts the sender's current value for the key implied by
	// deserializing Data.
	KindSet Kind = "set"
	// KindRemove requests deletion of Key, honored only if the sender owns it.
	KindRemove Kind = "remove"
	// KindClear requests deletion of every key the sender owns.
	KindClear Kind = "clear"
	// KindRefresh requests that all peers replay their owned keys.
	KindRefresh Kind = "refresh"
)

// Message is the wire envelope. All variants carry Kind and Source; Data is
// set-only, Key is remove-only.
type Message struct {
	Kind   Kind   `json:"type"`
	Source string `json:"seid"`
	Data   string `json:"data,omitempty"`
	Key    string `json:"key,omitempty"`
}

// Validate checks the envelope invariants shared by senders and receivers.
func (m Message) Validate() error {
	switch m.Kind {
	case KindSet, KindRemove, KindClear, KindRefresh:
	default:
		return fmt.Errorf("wire: unknown message type %q", string(m.Kind))
	}
	if m.Source == "" {
		return fmt.Errorf("wire: message has no source node id")
	}
	return nil
}

// Encode serializes the envelope for broadcast.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses and validates one received envelope.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("wire: decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
