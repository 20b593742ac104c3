package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/listing-chat/internal/conversation"
	"github.com/capitalize-ai/listing-chat/internal/model"
)

// Memory is a process-local Store. It is used in tests and for local runs
// where durability across restarts is not needed.
type Memory struct {
	mu            sync.RWMutex
	clock         Clock
	conversations map[string][]*model.Message // ascending by CreatedAt
	byID          map[string]*model.Message
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		clock:         o.clock,
		conversations: make(map[string][]*model.Message),
		byID:          make(map[string]*model.Message),
	}
}

// Save implements Gateway.
func (s *Memory) Save(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.StoreUnavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *msg
	stored.ID = uuid.Must(uuid.NewV7()).String()

	var last time.Time
	if msgs := s.conversations[stored.ConversationID]; len(msgs) > 0 {
		last = msgs[len(msgs)-1].CreatedAt
	}
	stored.CreatedAt = stamp(s.clock(), last)

	s.conversations[stored.ConversationID] = append(s.conversations[stored.ConversationID], &stored)
	s.byID[stored.ID] = &stored

	out := stored
	return &out, nil
}

// ListByConversation implements Gateway.
func (s *Memory) ListByConversation(_ context.Context, conversationID, subjectEntityID string, limit int) ([]model.Message, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := make([]model.Message, 0)
	for _, m := range s.conversations[conversationID] {
		if subjectEntityID != "" && m.SubjectEntityID != subjectEntityID {
			continue
		}
		messages = append(messages, *m)
		if len(messages) == limit {
			break
		}
	}
	return messages, nil
}

// ListBetween implements Store.
func (s *Memory) ListBetween(_ context.Context, a, b, subjectEntityID string, limit int) ([]model.Message, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := make([]model.Message, 0)
	for _, m := range s.conversations[conversation.Resolve(a, b)] {
		if !between(m, a, b) || (subjectEntityID != "" && m.SubjectEntityID != subjectEntityID) {
			continue
		}
		messages = append(messages, *m)
		if len(messages) == limit {
			break
		}
	}
	return messages, nil
}

// ListRoomsForParticipant implements Gateway.
func (s *Memory) ListRoomsForParticipant(_ context.Context, identity string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]model.Message, 0)
	for _, msgs := range s.conversations {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Participants(identity) {
				rooms = append(rooms, *msgs[i])
				break
			}
		}
	}
	sort.SliceStable(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID > rooms[j].ID
		}
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms, nil
}

// Get implements Store.
func (s *Memory) Get(_ context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, model.NotFound("message not found")
	}
	out := *m
	return &out, nil
}

// MarkRead implements Store.
func (s *Memory) MarkRead(_ context.Context, conversationID, subjectEntityID, reader string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for _, m := range s.conversations[conversationID] {
		if m.ReceiverID != reader || m.Read {
			continue
		}
		if subjectEntityID != "" && m.SubjectEntityID != subjectEntityID {
			continue
		}
		m.Read = true
		updated++
	}
	return updated, nil
}

// CountUnread implements Store.
func (s *Memory) CountUnread(_ context.Context, conversationID, reader string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unread := 0
	for _, m := range s.conversations[conversationID] {
		if m.ReceiverID == reader && !m.Read {
			unread++
		}
	}
	return unread, nil
}

// Delete implements Store.
func (s *Memory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return model.NotFound("message not found")
	}
	delete(s.byID, id)

	msgs := s.conversations[m.ConversationID]
	for i := range msgs {
		if msgs[i].ID == id {
			msgs = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
	if len(msgs) == 0 {
		delete(s.conversations, m.ConversationID)
	} else {
		s.conversations[m.ConversationID] = msgs
	}
	return nil
}

// Ping implements Store.
func (s *Memory) Ping(context.Context) error {
	return nil
}

// Close implements Store.
func (s *Memory) Close() error {
	return nil
}
