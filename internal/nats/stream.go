package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-chat/internal/events"
	"github.com/capitalize-ai/listing-chat/pkg/logger"
)

const (
	// StreamName is the name of the chat events stream.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all chat event subjects.
	SubjectPrefix = "chat"
)

// Publisher publishes feed envelopes to JetStream.
type Publisher struct {
	js     jetstream.JetStream
	logger *logger.Logger
}

// NewPublisher creates a publisher on client.
func NewPublisher(client *Client, log *logger.Logger) *Publisher {
	return newPublisher(client.JetStream(), log)
}

func newPublisher(js jetstream.JetStream, log *logger.Logger) *Publisher {
	return &Publisher{js: js, logger: log}
}

// StreamConfig returns the configuration of the chat events stream.
func StreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Chat activity for downstream consumers",
	}
}

// EnsureStream ensures the chat events stream exists.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	if _, err := p.js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	if _, err := p.js.CreateStream(ctx, StreamConfig()); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Subject returns the subject an envelope with key is published on. Keys
// already carrying the prefix are used as is.
func Subject(key string) string {
	if strings.HasPrefix(key, SubjectPrefix+".") {
		return key
	}
	return SubjectPrefix + "." + key
}

// Publish implements events.Publisher.
func (p *Publisher) Publish(ctx context.Context, key string, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	subject := Subject(key)
	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(env.Meta.ID))
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	p.logger.Debug("event published",
		zap.String("subject", subject),
		zap.Uint64("seq", ack.Sequence),
	)
	return nil
}

// Close implements events.Publisher. The connection is owned by Client.
func (p *Publisher) Close() error {
	return nil
}
