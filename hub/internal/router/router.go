// Package router terminates WebSocket connections from users and agents,
// authenticates agents, and feeds every inbound frame to the desk.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/amurg-ai/supportdesk/hub/internal/auth"
	"github.com/amurg-ai/supportdesk/hub/internal/desk"
	"github.com/amurg-ai/supportdesk/pkg/protocol"
)

var errConnClosed = errors.New("connection closed")

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Options configures the Router.
type Options struct {
	AllowedOrigins  []string      // for WebSocket origin check
	MaxMessageBytes int64         // max inbound frame size (default 64KB)
	MessageRate     float64       // inbound frames per second (default 30)
	MessageBurst    int           // default 50
	WriteTimeout    time.Duration // per-frame write deadline (default 10s)
}

// Router upgrades /ws requests and runs one read loop per connection.
type Router struct {
	desk     *desk.Desk
	auth     auth.Authenticator
	logger   *slog.Logger
	upgrader websocket.Upgrader

	maxMessageSize int64
	rate           float64
	burst          int
	writeTimeout   time.Duration
}

// New creates a new Router.
func New(d *desk.Desk, a auth.Authenticator, logger *slog.Logger, opts Options) *Router {
	if opts.MaxMessageBytes == 0 {
		opts.MaxMessageBytes = 64 * 1024
	}
	if opts.MessageRate == 0 {
		opts.MessageRate = 30
	}
	if opts.MessageBurst == 0 {
		opts.MessageBurst = 50
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Router{
		desk:           d,
		auth:           a,
		logger:         logger.With("component", "router"),
		upgrader:       makeUpgrader(opts.AllowedOrigins),
		maxMessageSize: opts.MaxMessageBytes,
		rate:           opts.MessageRate,
		burst:          opts.MessageBurst,
		writeTimeout:   opts.WriteTimeout,
	}
}

// wsConn adapts a gorilla connection to desk.Conn. Writes are serialized
// and bounded by a deadline so a slow peer cannot stall the desk.
type wsConn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool

	// Read-loop only.
	msgTokens   float64
	msgLastTime time.Time
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{id: uuid.New().String(), ws: ws, writeTimeout: writeTimeout}
}

func (c *wsConn) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(c.writeTimeout))
	return c.ws.Close()
}

// allowMessage is a token bucket over inbound frames.
func (c *wsConn) allowMessage(rate float64, burst int) bool {
	now := time.Now()
	if c.msgLastTime.IsZero() {
		c.msgTokens = float64(burst)
		c.msgLastTime = now
	}

	c.msgTokens += now.Sub(c.msgLastTime).Seconds() * rate
	if c.msgTokens > float64(burst) {
		c.msgTokens = float64(burst)
	}
	c.msgLastTime = now

	if c.msgTokens < 1 {
		return false
	}
	c.msgTokens--
	return true
}

// HandleWS handles WebSocket connections from users and agents.
//
// Query parameters: type (user|agent), id, name, contact. Agents also pass
// email and password, or a token (query or Authorization: Bearer).
func (r *Router) HandleWS(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	role := desk.RoleUser
	if q.Get("type") == string(desk.RoleAgent) {
		role = desk.RoleAgent
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	c := newWSConn(ws, r.writeTimeout)
	hs := desk.Handshake{
		Role:    role,
		ID:      q.Get("id"),
		Name:    q.Get("name"),
		Contact: q.Get("contact"),
	}

	if role == desk.RoleAgent {
		identity, code, reason := r.authenticate(req)
		if identity == nil {
			r.logger.Info("agent rejected", "reason", reason, "conn_id", c.id)
			_ = c.Send(protocol.AuthError{Type: protocol.TypeAuthError, Code: code, Message: reason})
			_ = c.Close(code, reason)
			return
		}
		hs.ID = identity.AgentID
		hs.Name = identity.Name
	}

	ws.SetReadLimit(r.maxMessageSize)
	stop := startWSKeepalive(c)
	defer stop()

	ctx := req.Context()
	client, err := r.desk.Connect(ctx, c, hs)
	if err != nil {
		r.logger.Info("connection turned away", "role", role, "conn_id", c.id, "error", err)
		return
	}
	r.logger.Info("client connected", "role", role, "id", client.ID, "conn_id", c.id)

	defer func() {
		r.desk.Disconnect(context.WithoutCancel(ctx), c)
		_ = c.Close(protocol.CloseNormal, "")
		r.logger.Info("client disconnected", "role", role, "id", client.ID, "conn_id", c.id)
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			r.logger.Debug("read error", "conn_id", c.id, "error", err)
			return
		}

		if !c.allowMessage(r.rate, r.burst) {
			r.logger.Debug("message rate limited", "conn_id", c.id)
			continue
		}

		r.desk.Route(ctx, c, msg)
	}
}

// authenticate resolves agent credentials from the request. On failure it
// returns the close code and reason to reject the connection with.
func (r *Router) authenticate(req *http.Request) (*auth.Identity, int, string) {
	q := req.URL.Query()

	// Browsers cannot set headers on the WebSocket handshake, so the token
	// may also arrive as a query parameter.
	token := q.Get("token")
	if token == "" {
		token, _ = auth.BearerToken(req)
	}

	var (
		identity *auth.Identity
		err      error
	)
	email, password := q.Get("email"), q.Get("password")
	switch {
	case token != "":
		identity, err = r.auth.ValidateToken(req.Context(), token)
	case email != "" && password != "":
		identity, err = r.auth.VerifyCredentials(req.Context(), email, password)
	default:
		return nil, protocol.CloseAuthRequired, protocol.ReasonAuthRequired
	}
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) && !errors.Is(err, auth.ErrUnauthorized) {
			r.logger.Warn("agent authentication error", "error", err)
		}
		return nil, protocol.CloseInvalidCreds, protocol.ReasonInvalidCredentials
	}
	return identity, 0, ""
}
