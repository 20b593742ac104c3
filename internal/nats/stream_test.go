package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/listing-chat/internal/events"
	"github.com/capitalize-ai/listing-chat/internal/model"
	"github.com/capitalize-ai/listing-chat/pkg/logger"
)

func TestSubject(t *testing.T) {
	req := require.New(t)
	req.Equal("chat.message.persisted", Subject(events.KeyMessagePersisted))
	req.Equal("chat.presence", Subject("presence"))
}

func TestStreamConfigCoversSubjects(t *testing.T) {
	req := require.New(t)
	cfg := StreamConfig()
	req.Equal(StreamName, cfg.Name)
	req.Equal([]string{"chat.>"}, cfg.Subjects)
	req.Equal(jetstream.FileStorage, cfg.Storage)
}

// fakeJetStream records publishes and stream creation. Methods it does not
// override panic through the nil embedded interface.
type fakeJetStream struct {
	jetstream.JetStream

	subjects []string
	payloads [][]byte
	optCount int
	err      error

	haveStream bool
	created    []jetstream.StreamConfig
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, payload)
	f.optCount = len(opts)
	return &jetstream.PubAck{Stream: StreamName, Sequence: uint64(len(f.subjects))}, nil
}

func (f *fakeJetStream) Stream(_ context.Context, _ string) (jetstream.Stream, error) {
	if f.haveStream {
		return nil, nil
	}
	return nil, jetstream.ErrStreamNotFound
}

func (f *fakeJetStream) CreateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	f.created = append(f.created, cfg)
	f.haveStream = true
	return nil, nil
}

func TestPublishEnvelope(t *testing.T) {
	req := require.New(t)
	js := &fakeJetStream{}
	p := newPublisher(js, logger.Nop())

	msg := &model.Message{ID: "m1", ConversationID: "alice-bob", SenderID: "alice", ReceiverID: "bob", Text: "hi"}
	env := events.MessagePersisted(msg, "corr-1")

	req.NoError(p.Publish(context.Background(), events.KeyMessagePersisted, env))

	req.Equal([]string{"chat.message.persisted"}, js.subjects)
	req.Equal(1, js.optCount, "message id option")

	var decoded struct {
		Meta struct {
			ID            string `json:"id"`
			Type          string `json:"type"`
			CorrelationID string `json:"correlation_id"`
		} `json:"meta"`
		Data model.Message `json:"data"`
	}
	req.NoError(json.Unmarshal(js.payloads[0], &decoded))
	req.Equal(env.Meta.ID, decoded.Meta.ID)
	req.Equal(events.TypeMessagePersisted, decoded.Meta.Type)
	req.Equal("m1", decoded.Data.ID)
	req.Equal("hi", decoded.Data.Text)
}

func TestPublishFailure(t *testing.T) {
	js := &fakeJetStream{err: errors.New("no responders")}
	p := newPublisher(js, logger.Nop())

	err := p.Publish(context.Background(), events.KeyMessagePersisted, events.MessagePersisted(&model.Message{ID: "m1"}, ""))
	require.ErrorContains(t, err, "no responders")
	require.ErrorContains(t, err, "chat.message.persisted")
}

func TestEnsureStreamCreatesOnce(t *testing.T) {
	req := require.New(t)
	js := &fakeJetStream{}
	p := newPublisher(js, logger.Nop())
	ctx := context.Background()

	req.NoError(p.EnsureStream(ctx))
	req.NoError(p.EnsureStream(ctx))

	req.Len(js.created, 1)
	req.Equal(StreamName, js.created[0].Name)
}
