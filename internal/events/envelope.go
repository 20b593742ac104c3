// Package events publishes chat activity to a downstream feed for consumers
// outside the live delivery path (notifications, analytics).
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/listing-chat/internal/model"
)

const (
	// TypeMessagePersisted names the envelope emitted after a message is saved.
	TypeMessagePersisted = "chat.message.persisted.v1"

	// KeyMessagePersisted is the routing key (AMQP) and subject suffix (NATS)
	// for TypeMessagePersisted.
	KeyMessagePersisted = "chat.message.persisted"

	// Producer identifies this service in envelope metadata.
	Producer = "listing-chat"
)

// Meta describes an envelope.
type Meta struct {
	// Request correlation id
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Unique event id
	ID       string    `json:"id"`
	Producer *string   `json:"producer,omitempty"`
	Time     time.Time `json:"time"`
	// Event name and version
	Type string `json:"type"`
}

// Envelope is the unit published on the feed.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// MessagePersisted builds the envelope for a saved message.
func MessagePersisted(msg *model.Message, correlationID string) Envelope {
	producer := Producer
	meta := Meta{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Producer: &producer,
		Time:     time.Now().UTC(),
		Type:     TypeMessagePersisted,
	}
	if correlationID != "" {
		meta.CorrelationID = &correlationID
	}
	return Envelope{Meta: meta, Data: msg}
}
