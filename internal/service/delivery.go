package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-chat/internal/conversation"
	"github.com/capitalize-ai/listing-chat/internal/events"
	"github.com/capitalize-ai/listing-chat/internal/middleware"
	"github.com/capitalize-ai/listing-chat/internal/model"
	"github.com/capitalize-ai/listing-chat/internal/presence"
	"github.com/capitalize-ai/listing-chat/internal/store"
	"github.com/capitalize-ai/listing-chat/pkg/logger"
	"github.com/capitalize-ai/listing-chat/pkg/metrics"
	"github.com/capitalize-ai/listing-chat/pkg/tracing"
)

// Policy holds the send rules applied before persistence.
type Policy struct {
	MaxTextLength     int
	AllowSelfMessages bool
	// PublishTimeout bounds the downstream feed publish. Zero means 2s.
	PublishTimeout time.Duration
}

// Coordinator persists a message and routes it to the sender and receiver.
type Coordinator struct {
	gateway   store.Gateway
	presence  presence.Registry
	publisher events.Publisher
	validator *middleware.Validator
	policy    Policy
	tracer    trace.Tracer
	logger    *logger.Logger
}

// NewCoordinator creates a delivery coordinator. A nil publisher disables
// the downstream feed.
func NewCoordinator(
	gateway store.Gateway,
	registry presence.Registry,
	publisher events.Publisher,
	policy Policy,
	log *logger.Logger,
) *Coordinator {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if policy.PublishTimeout <= 0 {
		policy.PublishTimeout = 2 * time.Second
	}
	if policy.MaxTextLength <= 0 {
		policy.MaxTextLength = 4000
	}
	return &Coordinator{
		gateway:   gateway,
		presence:  registry,
		publisher: publisher,
		validator: middleware.NewValidator(policy.MaxTextLength),
		policy:    policy,
		tracer:    tracing.Tracer("listing-chat/delivery"),
		logger:    log,
	}
}

// Send validates req, persists it with senderID as the sender, acknowledges
// the sender on from and pushes the message to the receiver's live
// connection when there is one.
//
// On success the sender has been sent exactly one send-acknowledged event.
// On error nothing was persisted or routed and the caller reports the error
// to the sender. A receiver that is offline is not an error.
//
// Persistence is not cancelled when ctx is: a sender disconnecting mid-send
// still has its message saved, and the acknowledgement is dropped by from.
func (c *Coordinator) Send(ctx context.Context, from presence.Conn, senderID, ref string, req *model.SendMessageRequest) (*model.Message, error) {
	ctx, span := c.tracer.Start(ctx, "delivery.send")
	defer span.End()

	msg, err := c.send(ctx, from, senderID, ref, req)
	if err != nil {
		kind := model.KindOf(err)
		metrics.RecordSendFailure(string(kind))
		span.SetStatus(codes.Error, string(kind))
		c.logger.Warn("send failed",
			zap.String("sender_id", senderID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return nil, err
	}
	return msg, nil
}

func (c *Coordinator) send(ctx context.Context, from presence.Conn, senderID, ref string, req *model.SendMessageRequest) (*model.Message, error) {
	if err := middleware.ValidateIdentity("senderId", senderID); err != nil {
		return nil, err
	}
	if err := c.validator.SendMessage(req); err != nil {
		return nil, err
	}
	if req.ReceiverID == senderID && !c.policy.AllowSelfMessages {
		return nil, model.ValidationFailed("cannot send a message to yourself")
	}

	conversationID := conversation.Resolve(senderID, req.ReceiverID)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("chat.conversation_id", conversationID),
		attribute.String("chat.subject_entity_id", req.SubjectEntityID),
	)

	saved, err := c.gateway.Save(context.WithoutCancel(ctx), &model.Message{
		ConversationID:  conversationID,
		SenderID:        senderID,
		ReceiverID:      req.ReceiverID,
		SubjectEntityID: req.SubjectEntityID,
		Text:            req.Text,
		Attachment:      req.Attachment,
	})
	if err != nil {
		if !model.IsKind(err, model.KindStoreUnavailable) {
			err = model.StoreUnavailable(err)
		}
		c.logger.Error("failed to persist message",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, err
	}
	metrics.MessagesPersisted.Inc()
	span.SetAttributes(attribute.String("chat.message_id", saved.ID))

	if err := from.Send(model.Acknowledged(ref, saved)); err != nil {
		c.logger.Debug("acknowledgement dropped",
			zap.String("message_id", saved.ID),
			zap.String("conn_id", from.ID()),
			zap.Error(err),
		)
	}

	c.route(saved)
	c.publish(ctx, saved)
	return saved, nil
}

// route pushes msg to the receiver's current connection. The push is not
// retried.
func (c *Coordinator) route(msg *model.Message) {
	conn, ok := c.presence.Lookup(msg.ReceiverID)
	if !ok {
		metrics.RecordDelivery(metrics.OutcomeOffline)
		c.logger.Debug("receiver offline",
			zap.String("receiver_id", msg.ReceiverID),
			zap.String("message_id", msg.ID),
		)
		return
	}

	if err := conn.Send(model.Received(msg)); err != nil {
		metrics.RecordDelivery(metrics.OutcomeDropped)
		c.logger.Warn("delivery dropped",
			zap.String("receiver_id", msg.ReceiverID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return
	}
	metrics.RecordDelivery(metrics.OutcomeOnline)
}

// publish emits msg on the downstream feed. Failures are logged only.
func (c *Coordinator) publish(ctx context.Context, msg *model.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.policy.PublishTimeout)
	defer cancel()

	env := events.MessagePersisted(msg, middleware.GetCorrelationID(ctx))
	err := c.publisher.Publish(ctx, events.KeyMessagePersisted, env)
	metrics.RecordPublish(err)
	if err != nil {
		c.logger.Warn("failed to publish message event",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}
