package events

import (
	"context"
)

// Publisher sends envelopes to the downstream feed.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
	Close() error
}

// Nop discards every envelope. It is used when no feed is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, Envelope) error { return nil }

func (Nop) Close() error { return nil }
