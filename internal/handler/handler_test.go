package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/listing-chat/internal/auth"
	"github.com/capitalize-ai/listing-chat/internal/conversation"
	"github.com/capitalize-ai/listing-chat/internal/model"
	"github.com/capitalize-ai/listing-chat/internal/presence"
	"github.com/capitalize-ai/listing-chat/internal/service"
	"github.com/capitalize-ai/listing-chat/internal/session"
	"github.com/capitalize-ai/listing-chat/internal/store"
	"github.com/capitalize-ai/listing-chat/pkg/logger"
)

type testServer struct {
	*httptest.Server
	auth     *auth.JWTProvider
	store    *store.Memory
	registry *presence.Map
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.Nop()
	provider := auth.NewJWTProvider("test-secret", "listing-chat")
	st := store.NewMemory()
	registry := presence.NewMap()

	coord := service.NewCoordinator(st, registry, nil, service.Policy{}, log)
	rooms := service.NewRoomService(st, nil, service.HistoryLimits{Default: 50, Max: 200}, log)

	router := NewRouter(RouterConfig{
		Auth:           provider,
		CookieName:     "auth_token",
		AllowedOrigins: []string{"http://localhost:5173"},
		Health:         NewHealthHandler(st, nil),
		Rooms:          NewRoomHandler(rooms, log),
		Messages:       NewMessageHandler(rooms, log),
		WS: NewWSHandler(provider, session.NewManager(registry, coord, log), WSOptions{
			SendBuffer:     8,
			AllowedOrigins: []string{"http://localhost:5173"},
			CookieName:     "auth_token",
		}, log),
		Logger: log,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, auth: provider, store: st, registry: registry}
}

func (s *testServer) token(t *testing.T, identity string) string {
	t.Helper()
	tok, err := s.auth.Issue(identity, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) dial(t *testing.T, identity string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	header := http.Header{"Authorization": []string{"Bearer " + s.token(t, identity)}}
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

// bind binds identity on ws and waits until the registry sees it.
func (s *testServer) bind(t *testing.T, ws *websocket.Conn, identity string) {
	t.Helper()
	writeFrame(t, ws, model.EventBindIdentity, "", model.BindIdentityPayload{Identity: identity})
	require.Eventually(t, func() bool {
		_, ok := s.registry.Lookup(identity)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *testServer) do(t *testing.T, method, path, identity string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, nil)
	require.NoError(t, err)
	if identity != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, identity))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func writeFrame(t *testing.T, ws *websocket.Conn, typ model.EventType, ref string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(model.Frame{Type: typ, Ref: ref, Payload: raw}))
}

type inbound struct {
	Type    model.EventType `json:"type"`
	Ref     string          `json:"ref"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, ws *websocket.Conn) inbound {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var in inbound
	require.NoError(t, ws.ReadJSON(&in))
	return in
}

func requireSilent(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err, "expected no frame")
}

func decodeMessage(t *testing.T, in inbound) model.Message {
	t.Helper()
	var msg model.Message
	require.NoError(t, json.Unmarshal(in.Payload, &msg))
	return msg
}

func TestUpgradeRequiresCredentials(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUpgradeRejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + srv.token(t, "alice")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSendToOfflineReceiverOverWebSocket(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	// Given alice is bound and bob is not connected
	alice := srv.dial(t, "alice")
	srv.bind(t, alice, "alice")

	// When alice sends to bob
	writeFrame(t, alice, model.EventSendMessage, "r1", model.SendMessageRequest{
		ReceiverID: "bob", SubjectEntityID: "p1", Text: "hi",
	})

	// Then alice is acknowledged
	ack := readFrame(t, alice)
	req.Equal(model.EventSendAcknowledged, ack.Type)
	req.Equal("r1", ack.Ref)
	msg := decodeMessage(t, ack)
	req.Equal(conversation.Resolve("alice", "bob"), msg.ConversationID)
	req.NotEmpty(msg.ID)

	// And the message is in bob's history
	resp := srv.do(t, http.MethodGet, "/api/v1/rooms/alice/messages?subject=p1", "bob")
	req.Equal(http.StatusOK, resp.StatusCode)
	var history model.ListMessagesResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&history))
	req.Len(history.Messages, 1)
	req.Equal("hi", history.Messages[0].Text)
	req.Equal(msg.ID, history.Messages[0].ID)
}

func TestSendToOnlineReceiverOverWebSocket(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	alice := srv.dial(t, "alice")
	bob := srv.dial(t, "bob")
	srv.bind(t, alice, "alice")
	srv.bind(t, bob, "bob")

	writeFrame(t, bob, model.EventSendMessage, "b1", model.SendMessageRequest{
		ReceiverID: "alice", SubjectEntityID: "p1", Text: "hello",
	})

	ack := readFrame(t, bob)
	req.Equal(model.EventSendAcknowledged, ack.Type)

	received := readFrame(t, alice)
	req.Equal(model.EventMessageReceived, received.Type)
	req.Equal(decodeMessage(t, ack).ID, decodeMessage(t, received).ID)
	requireSilent(t, alice)
}

func TestSendBeforeBindOverWebSocket(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	alice := srv.dial(t, "alice")

	writeFrame(t, alice, model.EventSendMessage, "r1", model.SendMessageRequest{
		ReceiverID: "bob", SubjectEntityID: "p1", Text: "hi",
	})

	failed := readFrame(t, alice)
	req.Equal(model.EventOperationFailed, failed.Type)
	req.Equal("r1", failed.Ref)
	var p model.OperationFailedPayload
	req.NoError(json.Unmarshal(failed.Payload, &p))
	req.Equal(model.KindUnauthenticated, p.Code)

	// The connection is still usable.
	srv.bind(t, alice, "alice")
	writeFrame(t, alice, model.EventSendMessage, "r2", model.SendMessageRequest{
		ReceiverID: "bob", SubjectEntityID: "p1", Text: "hi",
	})
	req.Equal(model.EventSendAcknowledged, readFrame(t, alice).Type)
}

func TestBindOtherIdentityRejected(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.dial(t, "alice")

	writeFrame(t, alice, model.EventBindIdentity, "b", model.BindIdentityPayload{Identity: "bob"})

	failed := readFrame(t, alice)
	require.Equal(t, model.EventOperationFailed, failed.Type)
	_, ok := srv.registry.Lookup("bob")
	require.False(t, ok)
}

func TestQuickSuccessionOverWebSocket(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	alice := srv.dial(t, "alice")
	srv.bind(t, alice, "alice")

	for _, ref := range []string{"1", "2"} {
		writeFrame(t, alice, model.EventSendMessage, ref, model.SendMessageRequest{
			ReceiverID: "bob", SubjectEntityID: "p1", Text: "m" + ref,
		})
	}
	first, second := readFrame(t, alice), readFrame(t, alice)
	req.Equal("1", first.Ref)
	req.Equal("2", second.Ref)

	msgs, err := srv.store.ListByConversation(context.Background(), conversation.Resolve("alice", "bob"), "", 50)
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal(decodeMessage(t, first).ID, msgs[0].ID)
	req.Equal(decodeMessage(t, second).ID, msgs[1].ID)
}

func TestDisconnectUnregisters(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.dial(t, "alice")
	srv.bind(t, alice, "alice")

	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		_, ok := srv.registry.Lookup("alice")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectKeepsNewerConnection(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	first := srv.dial(t, "alice")
	srv.bind(t, first, "alice")
	old, _ := srv.registry.Lookup("alice")

	second := srv.dial(t, "alice")
	writeFrame(t, second, model.EventBindIdentity, "", model.BindIdentityPayload{Identity: "alice"})
	req.Eventually(func() bool {
		cur, ok := srv.registry.Lookup("alice")
		return ok && cur.ID() != old.ID()
	}, 2*time.Second, 10*time.Millisecond)
	current, _ := srv.registry.Lookup("alice")

	// The stale connection going away leaves the newer one registered.
	req.NoError(first.Close())
	time.Sleep(100 * time.Millisecond)
	got, ok := srv.registry.Lookup("alice")
	req.True(ok)
	req.Equal(current.ID(), got.ID())
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	alice := srv.dial(t, "alice")

	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte("{oops")))
	failed := readFrame(t, alice)
	req.Equal(model.EventOperationFailed, failed.Type)

	srv.bind(t, alice, "alice")
}

func TestRoomsAndReadEndpoints(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	ctx := context.Background()

	for _, text := range []string{"a", "b"} {
		_, err := srv.store.Save(ctx, &model.Message{
			ConversationID:  conversation.Resolve("alice", "bob"),
			SenderID:        "alice",
			ReceiverID:      "bob",
			SubjectEntityID: "p1",
			Text:            text,
		})
		req.NoError(err)
	}

	resp := srv.do(t, http.MethodGet, "/api/v1/rooms", "bob")
	req.Equal(http.StatusOK, resp.StatusCode)
	var rooms model.ListRoomsResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&rooms))
	req.Len(rooms.Rooms, 1)
	req.Equal("alice", rooms.Rooms[0].PeerID)
	req.Equal("b", rooms.Rooms[0].LastText)
	req.Equal(2, rooms.Rooms[0].UnreadCount)

	resp = srv.do(t, http.MethodPost, "/api/v1/rooms/alice/read?subject=p1", "bob")
	req.Equal(http.StatusOK, resp.StatusCode)
	var marked model.MarkReadResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&marked))
	req.Equal(2, marked.Updated)

	resp = srv.do(t, http.MethodGet, "/api/v1/rooms", "")
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/v1/rooms/alice/messages?limit=abc", "bob")
	req.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteMessageEndpoint(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	saved, err := srv.store.Save(context.Background(), &model.Message{
		ConversationID:  conversation.Resolve("alice", "bob"),
		SenderID:        "alice",
		ReceiverID:      "bob",
		SubjectEntityID: "p1",
		Text:            "oops",
	})
	req.NoError(err)

	resp := srv.do(t, http.MethodDelete, "/api/v1/messages/"+saved.ID, "bob")
	req.Equal(http.StatusForbidden, resp.StatusCode)

	resp = srv.do(t, http.MethodDelete, "/api/v1/messages/"+saved.ID, "alice")
	req.Equal(http.StatusNoContent, resp.StatusCode)

	resp = srv.do(t, http.MethodDelete, "/api/v1/messages/"+saved.ID, "alice")
	req.Equal(http.StatusNotFound, resp.StatusCode)

	resp = srv.do(t, http.MethodDelete, "/api/v1/messages/not-a-uuid", "alice")
	req.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWSConnSendAfterClose(t *testing.T) {
	c := &wsConn{
		id:   "c1",
		opts: WSOptions{DeliveryTimeout: 10 * time.Millisecond},
		send: make(chan model.Event, 1),
		done: make(chan struct{}),
	}

	require.NoError(t, c.Send(model.Event{Type: model.EventMessageReceived}))
	require.ErrorIs(t, c.Send(model.Event{Type: model.EventMessageReceived}), ErrSendTimeout)

	close(c.done)
	require.ErrorIs(t, c.Send(model.Event{Type: model.EventMessageReceived}), ErrConnClosed)
}
