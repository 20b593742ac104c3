// Package model defines data structures for the listing chat service.
package model

import (
	"strings"
	"time"
)

// Message is one unit of communication between two participants about a
// subject entity (listing). It is created once on a successful send and never
// mutated by the delivery path except through the read flag.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`

	// Routing
	SenderID        string `json:"senderId"`
	ReceiverID      string `json:"receiverId"`
	SubjectEntityID string `json:"subjectEntityId"`

	// Content
	Text       string `json:"text"`
	Attachment string `json:"attachment,omitempty"`
	Read       bool   `json:"read"`

	// Assigned by the store at write time
	CreatedAt time.Time `json:"createdAt"`
}

// Participants reports whether identity is the sender or the receiver.
func (m *Message) Participants(identity string) bool {
	return m.SenderID == identity || m.ReceiverID == identity
}

// Peer returns the other participant of the message from identity's view.
func (m *Message) Peer(identity string) string {
	if m.SenderID == identity {
		return m.ReceiverID
	}
	return m.SenderID
}

// MaxIdentityLength bounds participant identities and subject entity ids in
// bytes.
const MaxIdentityLength = 128

// SendMessageRequest is the payload of a send-message frame.
type SendMessageRequest struct {
	ReceiverID      string `json:"receiverId" validate:"required"`
	SubjectEntityID string `json:"subjectEntityId" validate:"required"`
	Text            string `json:"text,omitempty" validate:"required_without=Attachment"`
	Attachment      string `json:"attachment,omitempty" validate:"omitempty,max=2048"`
}

// Normalize trims every field of the request in place.
func (r *SendMessageRequest) Normalize() {
	r.ReceiverID = strings.TrimSpace(r.ReceiverID)
	r.SubjectEntityID = strings.TrimSpace(r.SubjectEntityID)
	r.Text = strings.TrimSpace(r.Text)
	r.Attachment = strings.TrimSpace(r.Attachment)
}

// ListMessagesResponse is the response for conversation history.
type ListMessagesResponse struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// MarkReadResponse is the response after marking a conversation read.
type MarkReadResponse struct {
	Updated int `json:"updated"`
}
