package store

import (
	"context"
	"time"

	"github.com/capitalize-ai/listing-chat/internal/model"
	"github.com/capitalize-ai/listing-chat/pkg/metrics"
)

// Instrumented records the latency of every call to the wrapped Store.
type Instrumented struct {
	next Store
}

// Instrument wraps next with metrics.
func Instrument(next Store) *Instrumented {
	return &Instrumented{next: next}
}

func observe(op string, start time.Time, err error) {
	metrics.RecordStore(op, err, time.Since(start).Seconds())
}

func (s *Instrumented) Save(ctx context.Context, msg *model.Message) (*model.Message, error) {
	start := time.Now()
	out, err := s.next.Save(ctx, msg)
	observe("save", start, err)
	return out, err
}

func (s *Instrumented) ListByConversation(ctx context.Context, conversationID, subjectEntityID string, limit int) ([]model.Message, error) {
	start := time.Now()
	msgs, err := s.next.ListByConversation(ctx, conversationID, subjectEntityID, limit)
	observe("list_conversation", start, err)
	return msgs, err
}

func (s *Instrumented) ListBetween(ctx context.Context, a, b, subjectEntityID string, limit int) ([]model.Message, error) {
	start := time.Now()
	msgs, err := s.next.ListBetween(ctx, a, b, subjectEntityID, limit)
	observe("list_between", start, err)
	return msgs, err
}

func (s *Instrumented) ListRoomsForParticipant(ctx context.Context, identity string) ([]model.Message, error) {
	start := time.Now()
	rooms, err := s.next.ListRoomsForParticipant(ctx, identity)
	observe("list_rooms", start, err)
	return rooms, err
}

func (s *Instrumented) Get(ctx context.Context, id string) (*model.Message, error) {
	start := time.Now()
	msg, err := s.next.Get(ctx, id)
	observe("get", start, err)
	return msg, err
}

func (s *Instrumented) MarkRead(ctx context.Context, conversationID, subjectEntityID, reader string) (int, error) {
	start := time.Now()
	n, err := s.next.MarkRead(ctx, conversationID, subjectEntityID, reader)
	observe("mark_read", start, err)
	return n, err
}

func (s *Instrumented) CountUnread(ctx context.Context, conversationID, reader string) (int, error) {
	start := time.Now()
	n, err := s.next.CountUnread(ctx, conversationID, reader)
	observe("count_unread", start, err)
	return n, err
}

func (s *Instrumented) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.next.Delete(ctx, id)
	observe("delete", start, err)
	return err
}

func (s *Instrumented) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

func (s *Instrumented) Close() error {
	return s.next.Close()
}
