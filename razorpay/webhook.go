package razorpay

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Webhook event names handled by the server
const (
	EventPayoutProcessed = "payout.processed"
	EventPayoutFailed    = "payout.failed"
	EventPayoutReversed  = "payout.reversed"
	EventPaymentCaptured = "payment.captured"
)

// WebhookEvent is the subset of a webhook payload the server reads
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payout struct {
			Entity struct {
				ID            string `json:"id"`
				Status        string `json:"status"`
				ReferenceID   string `json:"reference_id"`
				FailureReason string `json:"failure_reason"`
			} `json:"entity"`
		} `json:"payout"`
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseWebhook decodes a webhook body
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if ev.Event == "" {
		return nil, fmt.Errorf("decode webhook: missing event name")
	}
	return &ev, nil
}
