// Package protocol defines the wire frames of Mozilla Autopush's
// WebSocket protocol (spec §6): JSON text frames tagged by
// messageType, the ack/nack code enums, and the errors the rest of
// the engine raises while handling them.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the JSON "messageType" field carried by
// every frame in both directions.
type MessageType string

const (
	MessageHello              MessageType = "hello"
	MessageRegister           MessageType = "register"
	MessageUnregister         MessageType = "unregister"
	MessageAck                MessageType = "ack"
	MessageNack               MessageType = "nack"
	MessageBroadcastSubscribe MessageType = "broadcast_subscribe"
	MessagePing               MessageType = "ping"
	MessageNotification       MessageType = "notification"
	MessageBroadcast          MessageType = "broadcast"
)

// AckCode is the client's disposition of a received notification,
// reported in an ack frame's updates list (spec §6, §7).
type AckCode int

const (
	AckSuccess     AckCode = 100
	AckDecryptFail AckCode = 101
	AckOtherFail   AckCode = 102
)

func (c AckCode) String() string {
	switch c {
	case AckSuccess:
		return "SUCCESS"
	case AckDecryptFail:
		return "DECRYPT_FAIL"
	case AckOtherFail:
		return "OTHER_FAIL"
	default:
		return fmt.Sprintf("AckCode(%d)", int(c))
	}
}

// NackCode is the client's rejection reason for a nack frame. The
// NackSender is reserved (spec §4.6); these constants exist so the
// wire shape is complete even though nothing emits them yet.
type NackCode int

const (
	NackNotFound         NackCode = 300
	NackServiceError     NackCode = 301
	NackUnauthorized     NackCode = 302
	NackUnsupportedProto NackCode = 303
)

// UnregisterCode is the client-supplied reason code on an unregister
// frame (spec §6).
type UnregisterCode int

// UnregisterUserUnsubscribed is the only code this engine ever sends;
// it is also used internally (spec §4.7) to clean up registrations
// whose expect_register entry has gone missing.
const UnregisterUserUnsubscribed UnregisterCode = 200

// Envelope is the minimal shape every inbound server frame shares,
// used to peek messageType before unmarshalling into a concrete type.
type Envelope struct {
	MessageType MessageType     `json:"messageType"`
	Raw         json.RawMessage `json:"-"`
}

// ParseEnvelope decodes the messageType of an inbound frame and keeps
// the raw bytes for a second, type-specific unmarshal.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: parse envelope: %w", err)
	}
	env.Raw = data
	return env, nil
}
