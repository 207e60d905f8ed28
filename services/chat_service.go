package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"fixnearby-server/events"
	"fixnearby-server/logging"
	"fixnearby-server/metrics"
	"fixnearby-server/models"
)

// MaxMessageLength bounds a single chat message in characters
const MaxMessageLength = 2000

// backlogSize is how many past messages a joining client receives
const backlogSize = 200

// ChatService manages request-scoped conversations
type ChatService struct {
	store  Store
	events Publisher
}

// NewChatService creates the chat service
func NewChatService(store Store, publisher Publisher) *ChatService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &ChatService{store: store, events: publisher}
}

// GetOrCreateConversation returns the request's conversation, creating it on first use.
// Only the customer and the assigned repairer of a live request may open it.
func (c *ChatService) GetOrCreateConversation(ctx context.Context, s models.Session, requestID uint) (*models.Conversation, error) {
	req, err := c.store.GetServiceRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	isCustomer := s.Role() == models.RoleUser && req.CustomerID == s.SubjectID()
	isRepairer := s.Role() == models.RoleRepairer && req.IsAssignedTo(s.SubjectID())
	if !isCustomer && !isRepairer {
		return nil, ErrForbidden
	}

	conv, err := c.store.GetConversationByRequest(ctx, requestID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if req.Status.IsTerminal() {
		return nil, ErrChatClosed
	}
	if req.RepairerID == nil {
		return nil, fmt.Errorf("%w: no repairer assigned yet", ErrForbidden)
	}

	conv = &models.Conversation{
		ServiceRequestID: req.ID,
		CustomerID:       req.CustomerID,
		RepairerID:       *req.RepairerID,
		IsActive:         true,
	}
	if err := c.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, ErrConflict) {
			return c.store.GetConversationByRequest(ctx, requestID)
		}
		return nil, err
	}
	if err := c.store.SetConversation(ctx, req.ID, conv.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

// Join authorizes the session for a conversation and returns its backlog oldest first
func (c *ChatService) Join(ctx context.Context, s models.Session, conversationID uint) (*models.Conversation, []models.Message, error) {
	conv, err := c.participantConversation(ctx, s, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if !conv.IsActive {
		return conv, nil, ErrChatClosed
	}
	msgs, err := c.store.ListMessages(ctx, conversationID, backlogSize)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

// Send appends a message to an active conversation
func (c *ChatService) Send(ctx context.Context, s models.Session, conversationID uint, text string) (*models.Message, *models.Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, fieldErr("text", fmt.Errorf("%w: message is empty", ErrValidation))
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, nil, fieldErr("text", fmt.Errorf("%w: message is too long", ErrValidation))
	}

	conv, err := c.participantConversation(ctx, s, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if !conv.IsActive {
		return nil, conv, ErrChatClosed
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       s.SubjectID(),
		SenderModel:    s.Role().SenderModel(),
		Text:           text,
	}
	if err := c.store.AppendMessage(ctx, msg); err != nil {
		return nil, nil, err
	}
	metrics.ChatMessages.Inc()

	ev := events.Event{
		Kind:           events.MessageSent,
		RequestID:      conv.ServiceRequestID,
		CustomerID:     conv.CustomerID,
		RepairerID:     conv.RepairerID,
		ConversationID: conv.ID,
		Actor:          s.Role(),
		Text:           preview(text),
		OccurredAt:     msg.CreatedAt,
	}
	if err := c.events.Publish(ctx, ev); err != nil {
		logging.Ctx(ctx).Error().Err(err).Uint("conversation_id", conv.ID).Msg("Failed to publish chat event")
	}
	return msg, conv, nil
}

// ListConversations returns the session's conversations, most recent activity first
func (c *ChatService) ListConversations(ctx context.Context, s models.Session) ([]models.Conversation, error) {
	if s.Role() != models.RoleUser && s.Role() != models.RoleRepairer {
		return nil, ErrForbidden
	}
	return c.store.ListConversations(ctx, s)
}

// Messages returns a conversation's messages oldest first, open or closed
func (c *ChatService) Messages(ctx context.Context, s models.Session, conversationID uint, limit int) ([]models.Message, error) {
	if _, err := c.participantConversation(ctx, s, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > backlogSize {
		limit = backlogSize
	}
	return c.store.ListMessages(ctx, conversationID, limit)
}

func (c *ChatService) participantConversation(ctx context.Context, s models.Session, id uint) (*models.Conversation, error) {
	conv, err := c.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(s) {
		return nil, ErrForbidden
	}
	return conv, nil
}

func preview(text string) string {
	const max = 80
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	r := []rune(text)
	return string(r[:max]) + "…"
}
