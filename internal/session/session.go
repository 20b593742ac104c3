// Package session drives one live connection through its lifecycle:
// Unbound, then Bound once an identity is bound, then Terminated.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-chat/internal/middleware"
	"github.com/capitalize-ai/listing-chat/internal/model"
	"github.com/capitalize-ai/listing-chat/internal/presence"
	"github.com/capitalize-ai/listing-chat/pkg/logger"
	"github.com/capitalize-ai/listing-chat/pkg/metrics"
)

// State is the lifecycle state of a session.
type State int

const (
	Unbound State = iota
	Bound
	Terminated
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Sender delivers a send-message request on behalf of a bound identity.
// On success it has acknowledged from itself.
type Sender interface {
	Send(ctx context.Context, from presence.Conn, senderID, ref string, req *model.SendMessageRequest) (*model.Message, error)
}

// Manager holds what every session shares.
type Manager struct {
	registry  presence.Registry
	sender    Sender
	validator *middleware.Validator
	logger    *logger.Logger
}

// NewManager creates a session manager.
func NewManager(registry presence.Registry, sender Sender, log *logger.Logger) *Manager {
	return &Manager{
		registry:  registry,
		sender:    sender,
		validator: middleware.NewValidator(1),
		logger:    log,
	}
}

// Open starts a session for conn. principal is the identity the transport
// authenticated; only it may be bound.
func (m *Manager) Open(conn presence.Conn, principal string) *Session {
	m.logger.Debug("connection opened",
		zap.String("conn_id", conn.ID()),
		zap.String("principal", principal),
	)
	return &Session{
		manager:   m,
		conn:      conn,
		principal: principal,
		state:     Unbound,
	}
}

// Session is the state machine of one connection. Frames must be handled
// from a single goroutine; Terminate may be called from any goroutine.
type Session struct {
	manager   *Manager
	conn      presence.Conn
	principal string

	mu       sync.Mutex
	state    State
	identity string
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the bound identity, or "" when not bound.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// HandleRaw decodes one inbound frame and handles it.
func (s *Session) HandleRaw(ctx context.Context, data []byte) {
	var frame model.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.fail("", model.ValidationFailed("malformed frame"))
		return
	}
	s.Handle(ctx, frame)
}

// Handle processes one inbound frame. Every failure is reported on the
// connection as operation-failed; none closes it.
func (s *Session) Handle(ctx context.Context, frame model.Frame) {
	if s.State() == Terminated {
		return
	}

	switch frame.Type {
	case model.EventBindIdentity:
		var p model.BindIdentityPayload
		if err := decode(frame.Payload, &p); err != nil {
			s.fail(frame.Ref, err)
			return
		}
		if err := s.Bind(p.Identity); err != nil {
			s.fail(frame.Ref, err)
		}

	case model.EventSendMessage:
		identity, bound := s.bound()
		if !bound {
			s.fail(frame.Ref, model.Unauthenticated("bind an identity before sending"))
			return
		}
		var req model.SendMessageRequest
		if err := decode(frame.Payload, &req); err != nil {
			s.fail(frame.Ref, err)
			return
		}
		if _, err := s.manager.sender.Send(ctx, s.conn, identity, frame.Ref, &req); err != nil {
			s.fail(frame.Ref, err)
		}

	default:
		s.fail(frame.Ref, model.ValidationFailed("unknown event type "+string(frame.Type)))
	}
}

// Bind moves the session to Bound under identity and registers the
// connection. Binding the bound identity again refreshes the registration.
func (s *Session) Bind(identity string) error {
	p := model.BindIdentityPayload{Identity: identity}
	if err := s.manager.validator.BindIdentity(&p); err != nil {
		return err
	}
	identity = p.Identity

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == Terminated:
		return model.Unauthenticated("connection is closed")
	case identity != s.principal:
		return model.Unauthenticated("identity does not match credentials")
	case s.state == Bound && identity != s.identity:
		return model.Unauthenticated("connection is bound to another identity")
	}

	s.manager.registry.Register(identity, s.conn)
	metrics.SetPresenceEntries(s.manager.registry.Len())
	if s.state == Unbound {
		s.manager.logger.Info("identity bound",
			zap.String("identity", identity),
			zap.String("conn_id", s.conn.ID()),
		)
	}
	s.state = Bound
	s.identity = identity
	return nil
}

// Terminate ends the session. If it was bound, the registry entry is removed
// unless a newer connection has replaced it. Later calls do nothing.
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	s.state = Terminated
	if prev != Bound {
		if prev == Unbound {
			s.manager.logger.Debug("connection closed", zap.String("conn_id", s.conn.ID()))
		}
		return
	}

	removed := s.manager.registry.UnregisterIfCurrent(s.identity, s.conn)
	metrics.SetPresenceEntries(s.manager.registry.Len())
	s.manager.logger.Info("identity unbound",
		zap.String("identity", s.identity),
		zap.String("conn_id", s.conn.ID()),
		zap.Bool("registry_entry_removed", removed),
	)
}

func (s *Session) bound() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.state == Bound
}

func (s *Session) fail(ref string, err error) {
	if sendErr := s.conn.Send(model.Failed(ref, err)); sendErr != nil {
		s.manager.logger.Debug("failure notice dropped",
			zap.String("conn_id", s.conn.ID()),
			zap.Error(sendErr),
		)
	}
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return model.ValidationFailed("payload is required")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return model.ValidationFailed("malformed payload")
	}
	return nil
}
