package services

import (
	"context"
	"io"
	"time"

	"fixnearby-server/cache"
	"fixnearby-server/events"
	"fixnearby-server/models"
	"fixnearby-server/razorpay"
)

// OTPStore keeps hashed codes and verification markers with expiry
type OTPStore interface {
	Put(ctx context.Context, key string, rec cache.OTPRecord, ttl time.Duration) error
	Get(ctx context.Context, key string) (cache.OTPRecord, bool, error)
	// IncrAttempts atomically counts an attempt against key; 0 when the record is gone
	IncrAttempts(ctx context.Context, key string) (int, error)
	// Take deletes key and reports whether this call was the one to remove it
	Take(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Mark(ctx context.Context, key string, ttl time.Duration) error
	Marked(ctx context.Context, key string) (bool, error)
}

// Publisher emits lifecycle events
type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// PaymentGateway creates orders and payouts and checks gateway signatures
type PaymentGateway interface {
	KeyID() string
	CreateOrder(ctx context.Context, req razorpay.OrderRequest) (*razorpay.Order, error)
	CreatePayout(ctx context.Context, req razorpay.PayoutRequest) (*razorpay.Payout, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	VerifyWebhookSignature(body []byte, signature string) bool
}

// PhotoUploader stores profile photos
type PhotoUploader interface {
	UploadProfilePhoto(ctx context.Context, repairerID uint, file io.Reader, filename string) (string, error)
}

// Pusher delivers realtime notices to connected clients
type Pusher interface {
	PushNotification(recipient models.Participant, n *models.Notification)
	IsOnline(p models.Participant) bool
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, events.Event) error { return nil }
