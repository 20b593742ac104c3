package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-chat/internal/auth"
	"github.com/capitalize-ai/listing-chat/internal/middleware"
	"github.com/capitalize-ai/listing-chat/internal/model"
	"github.com/capitalize-ai/listing-chat/internal/session"
	"github.com/capitalize-ai/listing-chat/pkg/logger"
	"github.com/capitalize-ai/listing-chat/pkg/metrics"
)

var (
	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendTimeout is returned when the send buffer stayed full for the
	// whole delivery timeout.
	ErrSendTimeout = errors.New("send buffer full")
)

// WSOptions configures live connections.
type WSOptions struct {
	SendBuffer      int
	WriteTimeout    time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	DeliveryTimeout time.Duration
	MaxMessageBytes int64
	AllowedOrigins  []string
	CookieName      string
}

func (o *WSOptions) defaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = 2 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
}

// WSHandler upgrades authenticated requests to WebSocket connections and
// runs one session per connection.
type WSHandler struct {
	provider auth.Provider
	sessions *session.Manager
	opts     WSOptions
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(provider auth.Provider, sessions *session.Manager, opts WSOptions, log *logger.Logger) *WSHandler {
	opts.defaults()
	h := &WSHandler{
		provider: provider,
		sessions: sessions,
		opts:     opts,
		logger:   log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(opts.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

// Serve handles GET /ws
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r, h.opts.CookieName)
	if token == "" {
		writeModelError(w, model.Unauthenticated("missing credentials"))
		return
	}
	principal, err := h.provider.VerifyCredential(r.Context(), token)
	if err != nil {
		writeModelError(w, model.Unauthenticated("invalid token"))
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	metrics.IncrementWSConnections()
	defer metrics.DecrementWSConnections()

	conn := newWSConn(ws, h.opts, h.logger)
	sess := h.sessions.Open(conn, principal)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go conn.writePump()
	conn.readPump(ctx, sess)

	sess.Terminate()
	conn.close()
}

// wsConn is the presence.Conn of one WebSocket. Outbound events go through a
// bounded buffer drained by writePump, the only writer of ws.
type wsConn struct {
	id     string
	ws     *websocket.Conn
	opts   WSOptions
	send   chan model.Event
	done   chan struct{}
	once   sync.Once
	logger *logger.Logger
}

func newWSConn(ws *websocket.Conn, opts WSOptions, log *logger.Logger) *wsConn {
	id := uuid.Must(uuid.NewV7()).String()
	return &wsConn{
		id:     id,
		ws:     ws,
		opts:   opts,
		send:   make(chan model.Event, opts.SendBuffer),
		done:   make(chan struct{}),
		logger: log.With(zap.String("conn_id", id)),
	}
}

// ID implements presence.Conn.
func (c *wsConn) ID() string {
	return c.id
}

// Send implements presence.Conn. It waits at most the delivery timeout for
// room in the buffer.
func (c *wsConn) Send(evt model.Event) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- evt:
		return nil
	default:
	}

	timer := time.NewTimer(c.opts.DeliveryTimeout)
	defer timer.Stop()
	select {
	case c.send <- evt:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-timer.C:
		return ErrSendTimeout
	}
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// readPump handles inbound frames one at a time until the peer goes away or
// misses a pong.
func (c *wsConn) readPump(ctx context.Context, sess *session.Session) {
	c.ws.SetReadLimit(c.opts.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			_ = c.Send(model.Failed("", model.ValidationFailed("frames must be text")))
			continue
		}
		sess.HandleRaw(ctx, data)
	}
}

// writePump writes queued events and keepalive pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case evt := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteJSON(evt); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
