package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"fixnearby-server/logging"
	"fixnearby-server/models"
	"fixnearby-server/services"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer
	maxMessageSize = 8192

	// Time allowed to handle one inbound frame
	handleTimeout = 10 * time.Second
)

// Client is one WebSocket connection of a signed-in customer or repairer
type Client struct {
	hub     *Hub
	session models.Session
	conn    *websocket.Conn
	send    chan []byte
	// subs is guarded by hub.mu
	subs map[uint]*subscription
}

func newClient(hub *Hub, s models.Session, conn *websocket.Conn) *Client {
	return &Client{
		hub:     hub,
		session: s,
		conn:    conn,
		send:    make(chan []byte, 256),
		subs:    make(map[uint]*subscription),
	}
}

func (c *Client) participant() models.Participant {
	return models.Participant{ID: c.session.SubjectID(), Role: c.session.Role()}
}

// enqueue queues frame without blocking; callers hold hub.mu so send is still open
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		logging.Warn().Uint("subject_id", c.session.SubjectID()).Msg("Client send buffer is full, dropping frame")
	}
}

// emit sends an event to this client only
func (c *Client) emit(event string, data interface{}) {
	frame, err := encode(event, data)
	if err != nil {
		logging.Error().Err(err).Str("event", event).Msg("Failed to encode frame")
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, open := c.hub.clients[c.participant()][c]; open {
		c.enqueue(frame)
	}
}

// readPump pumps frames from the connection to the hub
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Ctx(ctx).Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.emit(EventChatError, ChatError{Reason: "Malformed frame"})
			continue
		}

		hctx, cancel := context.WithTimeout(ctx, handleTimeout)
		c.hub.handle(hctx, c, env)
		cancel()
	}
}

// writePump pumps frames from the hub to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TokenValidator turns an access token into a session
type TokenValidator interface {
	ValidateAccessToken(token string) (models.Session, error)
}

// Handler upgrades authenticated requests to WebSocket connections
func Handler(hub *Hub, tokens TokenValidator, allowedOrigins []string) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		s, err := tokens.ValidateAccessToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "code": "UNAUTHORIZED"})
			return
		}
		if s.Role() != models.RoleUser && s.Role() != models.RoleRepairer {
			c.JSON(http.StatusForbidden, gin.H{"error": "Chat is only available to customers and repairers", "code": "FORBIDDEN"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logging.Ctx(c.Request.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		client := newClient(hub, s, conn)
		if !hub.add(client) {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"))
			conn.Close()
			return
		}

		// the request context ends when the handler returns
		ctx := logging.ContextWithRequestID(context.Background(), logging.RequestIDFromContext(c.Request.Context()))
		go client.writePump()
		go client.readPump(ctx)
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// reasonFor turns a chat service error into a client-facing reason
func reasonFor(err error) string {
	var fe *services.FieldError
	switch {
	case errors.As(err, &fe):
		return fe.Err.Error()
	case errors.Is(err, services.ErrNotFound):
		return "Conversation not found"
	case errors.Is(err, services.ErrForbidden):
		return "You are not a participant of this conversation"
	case errors.Is(err, services.ErrChatClosed):
		return "This conversation has ended"
	default:
		return "Something went wrong, please try again"
	}
}
