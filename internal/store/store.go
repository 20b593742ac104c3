//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Package store provides durable message storage.
package store

import (
	"context"
	"time"

	"github.com/capitalize-ai/listing-chat/internal/model"
)

// DefaultLimit is the page size used when a caller passes a non-positive limit.
const DefaultLimit = 50

// Gateway is the persistence contract the delivery path depends on.
type Gateway interface {
	// Save persists msg and returns a copy with ID and CreatedAt assigned.
	// I/O failures are reported as model.KindStoreUnavailable.
	Save(ctx context.Context, msg *model.Message) (*model.Message, error)
	// ListByConversation returns up to limit messages of the conversation in
	// ascending time order. An empty subjectEntityID matches every subject.
	ListByConversation(ctx context.Context, conversationID, subjectEntityID string, limit int) ([]model.Message, error)
	// ListRoomsForParticipant returns the latest message of every conversation
	// identity appears in, newest first.
	ListRoomsForParticipant(ctx context.Context, identity string) ([]model.Message, error)
}

// Store extends Gateway with the operations used by collaborators outside the
// delivery path (read receipts, deletion, health).
type Store interface {
	Gateway
	Get(ctx context.Context, id string) (*model.Message, error)
	// ListBetween is ListByConversation restricted to messages exchanged by
	// a and b. Conversation ids of distinct pairs can collide when
	// identities contain the separator, so readers use this.
	ListBetween(ctx context.Context, a, b, subjectEntityID string, limit int) ([]model.Message, error)
	// MarkRead flags every unread message addressed to reader in the
	// conversation as read and returns how many changed.
	MarkRead(ctx context.Context, conversationID, subjectEntityID, reader string) (int, error)
	// CountUnread counts messages addressed to reader not yet read.
	CountUnread(ctx context.Context, conversationID, reader string) (int, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// Clock returns the current time. Stores stamp messages with it.
type Clock func() time.Time

type options struct {
	clock Clock
}

// Option configures a store backend.
type Option func(*options)

// WithClock overrides the clock used to stamp messages.
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// stamp returns now, moved forward to last when the clock went backwards, so
// that timestamps never decrease within a conversation.
func stamp(now, last time.Time) time.Time {
	now = now.UTC()
	if now.Before(last) {
		return last
	}
	return now
}

// between reports whether msg was exchanged by a and b.
func between(msg *model.Message, a, b string) bool {
	return (msg.SenderID == a && msg.ReceiverID == b) ||
		(msg.SenderID == b && msg.ReceiverID == a)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
