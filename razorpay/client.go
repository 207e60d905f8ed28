// Package razorpay is a small client for the Razorpay orders and payouts APIs.
package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"fixnearby-server/logging"
	"fixnearby-server/metrics"
)

// Config holds gateway credentials
type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	// PayoutAccount is the RazorpayX account number payouts are drawn from
	PayoutAccount string
	BaseURL       string
	Timeout       time.Duration
}

// Client talks to the gateway through a circuit breaker
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// APIError is an error response returned by the gateway
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("razorpay %d %s: %s", e.StatusCode, e.Code, e.Description)
}

// ErrNotConfigured is returned when key id or secret is missing
var ErrNotConfigured = errors.New("razorpay credentials not configured")

// NewClient creates a gateway client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.razorpay.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "razorpay",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors are the caller's fault and must not open the circuit
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.StatusCode < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// KeyID returns the public key id handed to checkout
func (c *Client) KeyID() string { return c.cfg.KeyID }

// Order is a gateway order
type Order struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// OrderRequest creates an order for amount paise
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// CreateOrder registers an order with the gateway
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, "create_order", http.MethodPost, "/v1/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// PayoutRequest sends amount paise to a UPI address
type PayoutRequest struct {
	AmountPaise int64
	Currency    string
	UPIID       string
	Name        string
	ReferenceID string
	Narration   string
}

// Payout is a gateway payout
type Payout struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	ReferenceID string `json:"reference_id"`
}

type payoutBody struct {
	AccountNumber     string      `json:"account_number"`
	Amount            int64       `json:"amount"`
	Currency          string      `json:"currency"`
	Mode              string      `json:"mode"`
	Purpose           string      `json:"purpose"`
	FundAccount       fundAccount `json:"fund_account"`
	QueueIfLowBalance bool        `json:"queue_if_low_balance"`
	ReferenceID       string      `json:"reference_id"`
	Narration         string      `json:"narration,omitempty"`
}

type fundAccount struct {
	AccountType string  `json:"account_type"`
	VPA         vpa     `json:"vpa"`
	Contact     contact `json:"contact"`
}

type vpa struct {
	Address string `json:"address"`
}

type contact struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CreatePayout transfers money to a repairer's UPI id
func (c *Client) CreatePayout(ctx context.Context, req PayoutRequest) (*Payout, error) {
	body := payoutBody{
		AccountNumber: c.cfg.PayoutAccount,
		Amount:        req.AmountPaise,
		Currency:      req.Currency,
		Mode:          "UPI",
		Purpose:       "payout",
		FundAccount: fundAccount{
			AccountType: "vpa",
			VPA:         vpa{Address: req.UPIID},
			Contact:     contact{Name: req.Name, Type: "vendor"},
		},
		QueueIfLowBalance: true,
		ReferenceID:       req.ReferenceID,
		Narration:         req.Narration,
	}

	var payout Payout
	if err := c.do(ctx, "create_payout", http.MethodPost, "/v1/payouts", body, &payout); err != nil {
		return nil, err
	}
	return &payout, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	if c.cfg.KeyID == "" || c.cfg.KeySecret == "" {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", op, err)
	}

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			return nil, decodeError(resp.StatusCode, data)
		}
		return data, nil
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.GatewayCalls.WithLabelValues("razorpay", op, result).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("razorpay %s: %w", op, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var envelope struct {
		Error APIError `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(data, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Description = envelope.Error.Description
	}
	if apiErr.Description == "" {
		apiErr.Description = http.StatusText(status)
	}
	return apiErr
}

// VerifyPaymentSignature checks the checkout signature over "orderID|paymentID"
func (c *Client) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	if c.cfg.KeySecret == "" || orderID == "" || paymentID == "" {
		return false
	}
	return verify([]byte(orderID+"|"+paymentID), c.cfg.KeySecret, signature)
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header over the raw body
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	if c.cfg.WebhookSecret == "" {
		return false
	}
	return verify(body, c.cfg.WebhookSecret, signature)
}

// Sign returns the hex HMAC-SHA256 of data under secret
func Sign(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(data []byte, secret, signature string) bool {
	expected, err := hex.DecodeString(Sign(data, secret))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
