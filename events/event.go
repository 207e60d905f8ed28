// Package events carries lifecycle events from the services to their
// asynchronous consumers over an in-process watermill topic.
package events

import (
	"time"

	"fixnearby-server/models"
)

// Topic is the watermill topic every lifecycle event is published on
const Topic = "service_request.events"

// Kind names what happened
type Kind string

const (
	RequestCreated      Kind = "request.created"
	RepairersAvailable  Kind = "request.repairers_available"
	LeadAccepted        Kind = "request.lead_accepted"
	QuoteSubmitted      Kind = "request.quote_submitted"
	QuoteAccepted       Kind = "request.quote_accepted"
	QuoteRejected       Kind = "request.quote_rejected"
	WorkStarted         Kind = "request.work_started"
	CompletionOTPIssued Kind = "request.completion_otp_issued"
	PaymentDue          Kind = "request.payment_due"
	PaymentCaptured     Kind = "payment.captured"
	PayoutCompleted     Kind = "payment.payout_completed"
	RequestCancelled    Kind = "request.cancelled"
	RequestRated        Kind = "request.rated"
	MessageSent         Kind = "chat.message_sent"
)

// Event is a lifecycle fact about one service request
type Event struct {
	ID             string               `json:"id"`
	Kind           Kind                 `json:"kind"`
	RequestID      uint                 `json:"request_id"`
	Title          string               `json:"title,omitempty"`
	Status         models.RequestStatus `json:"status,omitempty"`
	CustomerID     uint                 `json:"customer_id"`
	RepairerID     uint                 `json:"repairer_id,omitempty"`
	ConversationID uint                 `json:"conversation_id,omitempty"`
	// Recipients lists extra repairers addressed by the event, e.g. matched leads
	Recipients []uint      `json:"recipients,omitempty"`
	Actor      models.Role `json:"actor,omitempty"`
	Amount     float64     `json:"amount,omitempty"`
	Rating     int         `json:"rating,omitempty"`
	Text       string      `json:"text,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Ends reports whether the event closes the request's chat
func (e Event) Ends() bool {
	return e.Status.IsTerminal() && e.ConversationID != 0 &&
		(e.Kind == RequestCancelled || e.Kind == QuoteRejected || e.Kind == PaymentCaptured)
}

// ForRequest starts an event describing r
func ForRequest(kind Kind, r *models.ServiceRequest) Event {
	e := Event{
		Kind:       kind,
		RequestID:  r.ID,
		Title:      r.Title,
		Status:     r.Status,
		CustomerID: r.CustomerID,
		OccurredAt: time.Now(),
	}
	if r.RepairerID != nil {
		e.RepairerID = *r.RepairerID
	}
	if r.ConversationID != nil {
		e.ConversationID = *r.ConversationID
	}
	return e
}
