// Package codec serializes and parses the message envelope shared by the
// WebSocket push transport and the shared-storage pull transport. Decoding is
// forward-compatible: unknown fields are ignored, but a missing `type`
// discriminant is a hard error. Semantic equality, not byte equality, is the
// contract.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"driftchat/pkg/models"
)

// ErrMalformedEnvelope is returned for frames or files that cannot be decoded
// into a message envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Encode serializes a message envelope to JSON.
func Encode(m models.Message) ([]byte, error) {
	if m.Kind == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return b, nil
}

// Decode parses a message envelope. Unknown fields are ignored; legacy field
// aliases (`sender_id`, `sender_name`) are honored when the canonical fields
// are absent.
func Decode(b []byte) (models.Message, error) {
	var raw struct {
		models.Message
		AltSenderID   string `json:"sender_id"`
		AltSenderName string `json:"sender_name"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	m := raw.Message
	if m.Kind == "" {
		return models.Message{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	if m.SenderID == "" {
		m.SenderID = raw.AltSenderID
	}
	if m.SenderName == "" {
		m.SenderName = raw.AltSenderName
	}
	return m, nil
}
