package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/capitalize-ai/listing-chat/internal/catalog"
	"github.com/capitalize-ai/listing-chat/internal/conversation"
	"github.com/capitalize-ai/listing-chat/internal/mocks"
	"github.com/capitalize-ai/listing-chat/internal/model"
	"github.com/capitalize-ai/listing-chat/internal/store"
	"github.com/capitalize-ai/listing-chat/pkg/logger"
)

type fakeCatalog map[string]catalog.Description

func (c fakeCatalog) Describe(_ context.Context, id string) (catalog.Description, error) {
	if id == "broken" {
		return catalog.Description{}, errors.New("catalog down")
	}
	d, ok := c[id]
	if !ok {
		return catalog.Description{}, catalog.ErrNotFound
	}
	return d, nil
}

func seed(t *testing.T, st store.Store, msgs ...*model.Message) []*model.Message {
	t.Helper()
	out := make([]*model.Message, 0, len(msgs))
	for _, m := range msgs {
		m.ConversationID = conversation.Resolve(m.SenderID, m.ReceiverID)
		saved, err := st.Save(context.Background(), m)
		require.NoError(t, err)
		out = append(out, saved)
	}
	return out
}

func msgOf(sender, receiver, subject, text string) *model.Message {
	return &model.Message{SenderID: sender, ReceiverID: receiver, SubjectEntityID: subject, Text: text}
}

func steppingStore() *store.Memory {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	return store.NewMemory(store.WithClock(func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}))
}

func TestListRooms(t *testing.T) {
	req := require.New(t)
	st := steppingStore()
	svc := NewRoomService(st, fakeCatalog{
		"p1": {Title: "Bike", Thumbnail: "bike.jpg"},
	}, HistoryLimits{}, logger.Nop())

	seed(t, st,
		msgOf("bob", "alice", "p1", "is it available?"),
		msgOf("bob", "alice", "p1", "hello?"),
		msgOf("carol", "alice", "broken", "hey"),
		msgOf("alice", "dave", "unknown", "offer"),
	)

	resp, err := svc.ListRooms(context.Background(), "alice")
	req.NoError(err)
	req.Len(resp.Rooms, 3)

	// Newest first.
	req.Equal("dave", resp.Rooms[0].PeerID)
	req.Equal("offer", resp.Rooms[0].LastText)
	req.Equal(0, resp.Rooms[0].UnreadCount)
	req.Empty(resp.Rooms[0].Title)

	req.Equal("carol", resp.Rooms[1].PeerID)
	req.Equal(1, resp.Rooms[1].UnreadCount)
	req.Empty(resp.Rooms[1].Title, "lookup failures leave metadata empty")

	bob := resp.Rooms[2]
	req.Equal(conversation.Resolve("alice", "bob"), bob.ConversationID)
	req.Equal("bob", bob.PeerID)
	req.Equal("bob", bob.LastSenderID)
	req.Equal("hello?", bob.LastText)
	req.Equal(2, bob.UnreadCount)
	req.Equal("Bike", bob.Title)
	req.Equal("bike.jpg", bob.Thumbnail)
}

func TestListRoomsEmpty(t *testing.T) {
	svc := NewRoomService(store.NewMemory(), nil, HistoryLimits{}, logger.Nop())
	resp, err := svc.ListRooms(context.Background(), "nobody")
	require.NoError(t, err)
	require.NotNil(t, resp.Rooms)
	require.Empty(t, resp.Rooms)
}

func TestHistory(t *testing.T) {
	req := require.New(t)
	st := steppingStore()
	svc := NewRoomService(st, nil, HistoryLimits{Default: 2, Max: 3}, logger.Nop())

	seed(t, st,
		msgOf("alice", "bob", "p1", "1"),
		msgOf("bob", "alice", "p1", "2"),
		msgOf("alice", "bob", "p2", "3"),
		msgOf("alice", "bob", "p1", "4"),
		msgOf("alice", "bob", "p1", "5"),
	)
	ctx := context.Background()

	resp, err := svc.History(ctx, "bob", "alice", "p1", 0)
	req.NoError(err)
	req.Equal(conversation.Resolve("alice", "bob"), resp.ConversationID)
	req.Len(resp.Messages, 2, "default limit")
	req.Equal("1", resp.Messages[0].Text)
	req.Equal("2", resp.Messages[1].Text)

	resp, err = svc.History(ctx, "bob", "alice", "", 100)
	req.NoError(err)
	req.Len(resp.Messages, 3, "clamped to max")

	_, err = svc.History(ctx, "bob", " ", "", 10)
	req.True(model.IsKind(err, model.KindValidation))
}

func TestHistoryIgnoresCollidingConversationIDs(t *testing.T) {
	req := require.New(t)
	st := steppingStore()
	svc := NewRoomService(st, nil, HistoryLimits{}, logger.Nop())
	ctx := context.Background()

	// Given a message between a and b-c, whose conversation id equals that of a-b and c
	seed(t, st, msgOf("a", "b-c", "", "private to b-c"))

	// When a-b reads its history with c
	resp, err := svc.History(ctx, "a-b", "c", "", 0)

	// Then nothing of the other pair is returned
	req.NoError(err)
	req.Empty(resp.Messages)

	resp, err = svc.History(ctx, "b-c", "a", "", 0)
	req.NoError(err)
	req.Len(resp.Messages, 1)
}

func TestMarkRead(t *testing.T) {
	req := require.New(t)
	st := store.NewMemory()
	svc := NewRoomService(st, nil, HistoryLimits{}, logger.Nop())
	seed(t, st,
		msgOf("bob", "alice", "p1", "a"),
		msgOf("bob", "alice", "p1", "b"),
		msgOf("alice", "bob", "p1", "c"),
	)

	resp, err := svc.MarkRead(context.Background(), "alice", "bob", "p1")
	req.NoError(err)
	req.Equal(2, resp.Updated)

	unread, err := st.CountUnread(context.Background(), conversation.Resolve("alice", "bob"), "bob")
	req.NoError(err)
	req.Equal(1, unread, "the peer's inbox is untouched")
}

func TestDeleteMessage(t *testing.T) {
	req := require.New(t)
	st := store.NewMemory()
	svc := NewRoomService(st, nil, HistoryLimits{}, logger.Nop())
	saved := seed(t, st, msgOf("alice", "bob", "p1", "oops"))
	ctx := context.Background()

	err := svc.DeleteMessage(ctx, "bob", saved[0].ID)
	req.True(model.IsKind(err, model.KindForbidden))

	req.NoError(svc.DeleteMessage(ctx, "alice", saved[0].ID))

	err = svc.DeleteMessage(ctx, "alice", saved[0].ID)
	req.True(model.IsKind(err, model.KindNotFound))
}

func TestListRoomsStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	svc := NewRoomService(st, nil, HistoryLimits{}, logger.Nop())

	st.EXPECT().
		ListRoomsForParticipant(gomock.Any(), "alice").
		Return(nil, model.StoreUnavailable(errors.New("locked")))

	_, err := svc.ListRooms(context.Background(), "alice")
	require.True(t, model.IsKind(err, model.KindStoreUnavailable))
}
