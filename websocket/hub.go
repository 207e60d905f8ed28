package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"fixnearby-server/events"
	"fixnearby-server/logging"
	"fixnearby-server/metrics"
	"fixnearby-server/models"
)

// Inbound events
const (
	EventJoinRoom    = "joinRoom"
	EventSendMessage = "sendMessage"
	EventLeaveRoom   = "leaveRoom"
	EventPing        = "ping"
)

// Outbound events
const (
	EventPastMessages   = "pastMessages"
	EventReceiveMessage = "receiveMessage"
	EventChatEnded      = "chatEnded"
	EventChatError      = "chatError"
	EventNotification   = "notification"
	EventPong           = "pong"
)

// Envelope is the frame exchanged with clients in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomPayload is the body of joinRoom, sendMessage and leaveRoom
type RoomPayload struct {
	ConversationID uint   `json:"conversationId"`
	Text           string `json:"text,omitempty"`
}

// ChatEnded tells room members the conversation is closed
type ChatEnded struct {
	ConversationID uint   `json:"conversationId"`
	Reason         string `json:"reason"`
}

// ChatError reports a rejected chat action
type ChatError struct {
	ConversationID uint   `json:"conversationId,omitempty"`
	Reason         string `json:"reason"`
}

// PastMessages is the backlog sent after a successful join
type PastMessages struct {
	ConversationID uint             `json:"conversationId"`
	Messages       []models.Message `json:"messages"`
}

// ReceiveMessage carries a new message to every room member
type ReceiveMessage struct {
	ConversationID uint            `json:"conversationId"`
	Message        *models.Message `json:"message"`
}

// Chat is the part of the chat service the hub drives
type Chat interface {
	Join(ctx context.Context, s models.Session, conversationID uint) (*models.Conversation, []models.Message, error)
	Send(ctx context.Context, s models.Session, conversationID uint, text string) (*models.Message, *models.Conversation, error)
}

// Hub tracks connected clients and conversation rooms
type Hub struct {
	chat Chat

	mu sync.RWMutex
	// stopped is set once Serve returns; new clients are refused until it runs again
	stopped bool
	clients map[models.Participant]map[*Client]struct{}
	rooms   map[uint]map[*Client]*subscription
}

// NewHub creates a hub backed by chat
func NewHub(chat Chat) *Hub {
	return &Hub{
		chat:    chat,
		clients: make(map[models.Participant]map[*Client]struct{}),
		rooms:   make(map[uint]map[*Client]*subscription),
	}
}

// Serve accepts clients until ctx is done, then drops every client
func (h *Hub) Serve(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = false
	h.mu.Unlock()

	<-ctx.Done()

	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.closeAll()
	return ctx.Err()
}

func (h *Hub) String() string { return "websocket-hub" }

// add registers c and reports false when the hub is stopped
func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	p := c.participant()
	if h.clients[p] == nil {
		h.clients[p] = make(map[*Client]struct{})
	}
	h.clients[p][c] = struct{}{}
	metrics.WebSocketConnections.Inc()
	logging.Debug().Uint("subject_id", p.ID).Str("role", string(p.Role)).Msg("Client connected")
	return true
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	p := c.participant()
	conns, ok := h.clients[p]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	for _, sub := range c.subs {
		sub.closeLocked()
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, p)
	}
	close(c.send)
	metrics.WebSocketConnections.Dec()
	logging.Debug().Uint("subject_id", p.ID).Str("role", string(p.Role)).Msg("Client disconnected")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.clients {
		for c := range conns {
			h.removeLocked(c)
		}
	}
}

// subscription is one client's membership of one room. It is closed exactly once.
type subscription struct {
	hub    *Hub
	room   uint
	client *Client
	once   sync.Once
}

// closeLocked drops the membership; h.mu must be held
func (s *subscription) closeLocked() {
	s.once.Do(func() {
		if members := s.hub.rooms[s.room]; members != nil {
			delete(members, s.client)
			if len(members) == 0 {
				delete(s.hub.rooms, s.room)
			}
		}
		delete(s.client.subs, s.room)
	})
}

func (h *Hub) subscribe(c *Client, room uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.subs[room]; ok {
		return
	}
	sub := &subscription{hub: h, room: room, client: c}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]*subscription)
	}
	h.rooms[room][c] = sub
	c.subs[room] = sub
}

func (h *Hub) unsubscribe(c *Client, room uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := c.subs[room]; ok {
		sub.closeLocked()
	}
}

func (h *Hub) joined(c *Client, room uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.subs[room]
	return ok
}

// broadcast sends an event to every member of room
func (h *Hub) broadcast(room uint, event string, data interface{}) {
	frame, err := encode(event, data)
	if err != nil {
		logging.Error().Err(err).Str("event", event).Msg("Failed to encode frame")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		c.enqueue(frame)
	}
}

// EndRoom tells every member the conversation is over and closes their subscriptions
func (h *Hub) EndRoom(conversationID uint, reason string) {
	frame, err := encode(EventChatEnded, ChatEnded{ConversationID: conversationID, Reason: reason})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c, sub := range h.rooms[conversationID] {
		c.enqueue(frame)
		sub.closeLocked()
	}
}

// PushNotification delivers n to every open connection of the recipient
func (h *Hub) PushNotification(to models.Participant, n *models.Notification) {
	frame, err := encode(EventNotification, n)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to encode notification")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[to] {
		c.enqueue(frame)
	}
}

// IsOnline reports whether the participant has an open connection
func (h *Hub) IsOnline(p models.Participant) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[p]) > 0
}

// HandleEvent ends the chat room of a request that reached a terminal state
func (h *Hub) HandleEvent(_ context.Context, e events.Event) error {
	if e.Ends() {
		h.EndRoom(e.ConversationID, endReason(e))
	}
	return nil
}

func endReason(e events.Event) string {
	switch e.Kind {
	case events.RequestCancelled:
		return "The service request was cancelled"
	case events.QuoteRejected:
		return "The quote was rejected"
	default:
		return "The job is complete"
	}
}

// handle processes one inbound frame from c
func (h *Hub) handle(ctx context.Context, c *Client, env Envelope) {
	if env.Event == EventPing {
		c.emit(EventPong, map[string]time.Time{"time": time.Now()})
		return
	}

	var p RoomPayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.emit(EventChatError, ChatError{Reason: "Malformed payload"})
			return
		}
	}

	switch env.Event {
	case EventJoinRoom:
		_, msgs, err := h.chat.Join(ctx, c.session, p.ConversationID)
		if err != nil {
			c.emit(EventChatError, ChatError{ConversationID: p.ConversationID, Reason: reasonFor(err)})
			return
		}
		h.subscribe(c, p.ConversationID)
		if msgs == nil {
			msgs = []models.Message{}
		}
		c.emit(EventPastMessages, PastMessages{ConversationID: p.ConversationID, Messages: msgs})

	case EventSendMessage:
		if !h.joined(c, p.ConversationID) {
			c.emit(EventChatError, ChatError{ConversationID: p.ConversationID, Reason: "Join the conversation first"})
			return
		}
		msg, conv, err := h.chat.Send(ctx, c.session, p.ConversationID, p.Text)
		if err != nil {
			c.emit(EventChatError, ChatError{ConversationID: p.ConversationID, Reason: reasonFor(err)})
			if conv != nil && !conv.IsActive {
				h.unsubscribe(c, p.ConversationID)
			}
			return
		}
		h.broadcast(p.ConversationID, EventReceiveMessage, ReceiveMessage{ConversationID: p.ConversationID, Message: msg})

	case EventLeaveRoom:
		h.unsubscribe(c, p.ConversationID)

	default:
		c.emit(EventChatError, ChatError{Reason: "Unknown event " + env.Event})
	}
}

func encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
