package models

import (
	"time"
)

// NotificationType enumerates the notices produced by lifecycle events
type NotificationType string

const (
	NotifyJobAccepted     NotificationType = "job_accepted"
	NotifyNewMessage      NotificationType = "new_message"
	NotifyJobCancelled    NotificationType = "job_cancelled"
	NotifyRatingReceived  NotificationType = "rating_received"
	NotifyNewJobRequest   NotificationType = "new_job_request"
	NotifyPaymentReceived NotificationType = "payment_received"
	NotifyJobInProgress   NotificationType = "job_in_progress"
	NotifyQuoteProvided   NotificationType = "quote_provided"
	NotifySystemUpdate    NotificationType = "system_update"
)

// Notification is a notice for a customer or repairer. Only the read flag ever changes.
type Notification struct {
	ID               uint             `json:"id" gorm:"primaryKey"`
	RecipientID      uint             `json:"recipient_id" gorm:"not null;index:idx_notification_recipient"`
	RecipientRole    Role             `json:"recipient_role" gorm:"type:varchar(20);not null;index:idx_notification_recipient"`
	Type             NotificationType `json:"type" gorm:"type:varchar(30);not null"`
	Message          string           `json:"message" gorm:"type:text;not null"`
	ServiceRequestID *uint            `json:"service_request_id"`
	Read             bool             `json:"read" gorm:"default:false"`
	CreatedAt        time.Time        `json:"created_at"`
}

// TableName specifies the table name for Notification
func (Notification) TableName() string {
	return "notifications"
}
