package model

import (
	"encoding/json"
)

// EventType names a frame on the live connection.
type EventType string

const (
	// Inbound
	EventBindIdentity EventType = "bind-identity"
	EventSendMessage  EventType = "send-message"

	// Outbound
	EventSendAcknowledged EventType = "send-acknowledged"
	EventMessageReceived  EventType = "message-received"
	EventOperationFailed  EventType = "operation-failed"
)

// Frame is an inbound frame as read from the wire. Payload is decoded
// according to Type.
type Frame struct {
	Type    EventType       `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an outbound frame.
type Event struct {
	Type    EventType `json:"type"`
	Ref     string    `json:"ref,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// BindIdentityPayload is the payload of a bind-identity frame.
type BindIdentityPayload struct {
	Identity string `json:"identity" validate:"required"`
}

// OperationFailedPayload is the payload of an operation-failed frame.
type OperationFailedPayload struct {
	Code   ErrorKind `json:"code"`
	Reason string    `json:"reason"`
}

// Acknowledged builds the send-acknowledged event for the sender.
func Acknowledged(ref string, msg *Message) Event {
	return Event{Type: EventSendAcknowledged, Ref: ref, Payload: msg}
}

// Received builds the message-received event for the receiver.
func Received(msg *Message) Event {
	return Event{Type: EventMessageReceived, Payload: msg}
}

// Failed builds an operation-failed event from err.
func Failed(ref string, err error) Event {
	return Event{
		Type: EventOperationFailed,
		Ref:  ref,
		Payload: &OperationFailedPayload{
			Code:   KindOf(err),
			Reason: ReasonOf(err),
		},
	}
}
