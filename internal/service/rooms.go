// Package service provides the chat business logic: message delivery and the
// room and history queries built on the message store.
package service

import (
	"context"
	"errors"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-chat/internal/catalog"
	"github.com/capitalize-ai/listing-chat/internal/conversation"
	"github.com/capitalize-ai/listing-chat/internal/middleware"
	"github.com/capitalize-ai/listing-chat/internal/model"
	"github.com/capitalize-ai/listing-chat/internal/store"
	"github.com/capitalize-ai/listing-chat/pkg/logger"
)

// HistoryLimits bounds history page sizes.
type HistoryLimits struct {
	Default int
	Max     int
}

// RoomService answers room listing and history queries.
type RoomService struct {
	store   store.Store
	catalog catalog.Lookup
	limits  HistoryLimits
	logger  *logger.Logger
}

// NewRoomService creates a room service. A nil lookup disables catalog
// enrichment.
func NewRoomService(st store.Store, lookup catalog.Lookup, limits HistoryLimits, log *logger.Logger) *RoomService {
	if lookup == nil {
		lookup = catalog.None{}
	}
	if limits.Default <= 0 {
		limits.Default = store.DefaultLimit
	}
	if limits.Max < limits.Default {
		limits.Max = limits.Default
	}
	return &RoomService{
		store:   st,
		catalog: lookup,
		limits:  limits,
		logger:  log,
	}
}

// ListRooms returns one summary per conversation identity takes part in,
// newest first.
func (s *RoomService) ListRooms(ctx context.Context, identity string) (*model.ListRoomsResponse, error) {
	latest, err := s.store.ListRoomsForParticipant(ctx, identity)
	if err != nil {
		return nil, err
	}

	descriptions := s.describe(ctx, lo.Uniq(lo.Map(latest, func(m model.Message, _ int) string {
		return m.SubjectEntityID
	})))

	rooms := make([]model.RoomSummary, 0, len(latest))
	for _, m := range latest {
		unread, err := s.store.CountUnread(ctx, m.ConversationID, identity)
		if err != nil {
			return nil, err
		}
		d := descriptions[m.SubjectEntityID]
		rooms = append(rooms, model.RoomSummary{
			ConversationID:  m.ConversationID,
			PeerID:          m.Peer(identity),
			SubjectEntityID: m.SubjectEntityID,
			LastText:        m.Text,
			LastAttachment:  m.Attachment,
			LastSenderID:    m.SenderID,
			LastAt:          m.CreatedAt,
			UnreadCount:     unread,
			Title:           d.Title,
			Thumbnail:       d.Thumbnail,
		})
	}
	return &model.ListRoomsResponse{Rooms: rooms}, nil
}

// describe looks up every subject. Unknown subjects and lookup failures are
// left out.
func (s *RoomService) describe(ctx context.Context, subjects []string) map[string]catalog.Description {
	out := make(map[string]catalog.Description, len(subjects))
	for _, id := range subjects {
		d, err := s.catalog.Describe(ctx, id)
		if err != nil {
			if !errors.Is(err, catalog.ErrNotFound) {
				s.logger.Warn("catalog lookup failed",
					zap.String("subject_entity_id", id),
					zap.Error(err),
				)
			}
			continue
		}
		out[id] = d
	}
	return out
}

// History returns the messages exchanged by identity and peerID in ascending
// time order. An empty subject returns every subject.
func (s *RoomService) History(ctx context.Context, identity, peerID, subjectEntityID string, limit int) (*model.ListMessagesResponse, error) {
	if err := middleware.ValidateIdentity("peerId", peerID); err != nil {
		return nil, err
	}
	conversationID := conversation.Resolve(identity, peerID)

	messages, err := s.store.ListBetween(ctx, identity, peerID, subjectEntityID, s.clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return &model.ListMessagesResponse{
		ConversationID: conversationID,
		Messages:       messages,
	}, nil
}

// MarkRead flags every message peerID sent to identity as read.
func (s *RoomService) MarkRead(ctx context.Context, identity, peerID, subjectEntityID string) (*model.MarkReadResponse, error) {
	if err := middleware.ValidateIdentity("peerId", peerID); err != nil {
		return nil, err
	}
	updated, err := s.store.MarkRead(ctx, conversation.Resolve(identity, peerID), subjectEntityID, identity)
	if err != nil {
		return nil, err
	}
	return &model.MarkReadResponse{Updated: updated}, nil
}

// DeleteMessage deletes a message identity sent.
func (s *RoomService) DeleteMessage(ctx context.Context, identity, messageID string) error {
	msg, err := s.store.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != identity {
		return model.Forbidden("only the sender can delete a message")
	}
	if err := s.store.Delete(ctx, messageID); err != nil {
		return err
	}
	s.logger.Info("message deleted",
		zap.String("message_id", messageID),
		zap.String("conversation_id", msg.ConversationID),
	)
	return nil
}

func (s *RoomService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.limits.Default
	}
	return min(limit, s.limits.Max)
}
