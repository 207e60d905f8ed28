package models

import (
	"time"
)

// Sender models tag who wrote a message
const (
	SenderUser     = "User"
	SenderRepairer = "Repairer"
)

// Conversation is the chat scope tied 1:1 to a service request
type Conversation struct {
	ID               uint            `json:"id" gorm:"primaryKey"`
	ServiceRequestID uint            `json:"service_request_id" gorm:"not null;uniqueIndex"`
	ServiceRequest   *ServiceRequest `json:"service_request,omitempty" gorm:"foreignKey:ServiceRequestID"`
	CustomerID       uint            `json:"customer_id" gorm:"not null;index"`
	RepairerID       uint            `json:"repairer_id" gorm:"not null;index"`
	IsActive         bool            `json:"is_active" gorm:"default:true"`
	LastMessage      string          `json:"last_message" gorm:"type:text"`
	LastMessageAt    *time.Time      `json:"last_message_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TableName specifies the table name for Conversation
func (Conversation) TableName() string {
	return "conversations"
}

// Participant is a conversation member with its role tag
type Participant struct {
	ID   uint `json:"id"`
	Role Role `json:"role"`
}

// Participants returns the customer and repairer of the conversation
func (c *Conversation) Participants() []Participant {
	return []Participant{
		{ID: c.CustomerID, Role: RoleUser},
		{ID: c.RepairerID, Role: RoleRepairer},
	}
}

// HasParticipant reports whether the session is a member of the conversation
func (c *Conversation) HasParticipant(s Session) bool {
	for _, p := range c.Participants() {
		if p.Role == s.Role() && p.ID == s.SubjectID() {
			return true
		}
	}
	return false
}

// Counterpart returns the other member of the conversation
func (c *Conversation) Counterpart(s Session) Participant {
	if s.Role() == RoleRepairer {
		return Participant{ID: c.CustomerID, Role: RoleUser}
	}
	return Participant{ID: c.RepairerID, Role: RoleRepairer}
}

// Message is a single append-only chat message
type Message struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ConversationID uint      `json:"conversation_id" gorm:"not null;index"`
	SenderID       uint      `json:"sender_id" gorm:"not null"`
	SenderModel    string    `json:"sender_model" gorm:"type:varchar(20);not null"`
	Text           string    `json:"text" gorm:"type:text;not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"index"`
}

// TableName specifies the table name for Message
func (Message) TableName() string {
	return "messages"
}
