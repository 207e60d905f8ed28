// Package mailer delivers one-time codes and notices by email.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"fixnearby-server/logging"
	"fixnearby-server/metrics"
	"fixnearby-server/models"
)

// Config holds mail provider settings
type Config struct {
	APIKey    string
	BaseURL   string
	FromEmail string
	FromName  string
}

// Sender delivers OTP mails
type Sender interface {
	SendOTP(ctx context.Context, to models.Contact, code, purpose string) error
}

// New returns an HTTP mailer, or a logging one when no API key is configured
func New(cfg Config) Sender {
	if cfg.APIKey == "" {
		logging.Warn().Msg("MAIL_API_KEY not set, OTP mails will only be logged")
		return LogSender{}
	}
	return NewClient(cfg)
}

// Client sends mail through the Brevo transactional API
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewClient creates a mail API client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.brevo.com"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:    "mailer",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			},
		}),
	}
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mail struct {
	Sender      address   `json:"sender"`
	To          []address `json:"to"`
	Subject     string    `json:"subject"`
	HTMLContent string    `json:"htmlContent"`
}

// SendOTP mails code to the contact
func (c *Client) SendOTP(ctx context.Context, to models.Contact, code, purpose string) error {
	if to.Email == "" {
		return fmt.Errorf("no email address for %s", to.Phone)
	}

	payload, err := json.Marshal(mail{
		Sender:      address{Email: c.cfg.FromEmail, Name: c.cfg.FromName},
		To:          []address{{Email: to.Email, Name: to.Name}},
		Subject:     subject(purpose),
		HTMLContent: body(to.Name, code, purpose),
	})
	if err != nil {
		return fmt.Errorf("marshal mail: %w", err)
	}

	start := time.Now()
	_, err = c.breaker.Execute(func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/v3/smtp/email", bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("api-key", c.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return struct{}{}, fmt.Errorf("mail API returned %d: %s", resp.StatusCode, msg)
		}
		return struct{}{}, nil
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.GatewayCalls.WithLabelValues("mail", purpose, result).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("send OTP mail: %w", err)
	}
	return nil
}

func subject(purpose string) string {
	switch purpose {
	case "completion":
		return "Your FixNearby job completion code"
	case "login":
		return "Your FixNearby login code"
	default:
		return "Verify your FixNearby account"
	}
}

func body(name, code, purpose string) string {
	if name == "" {
		name = "there"
	}
	action := "verify your phone number"
	switch purpose {
	case "completion":
		action = "confirm the repair is complete. Share it with your repairer only after the work is done"
	case "login":
		action = "sign in"
	}
	return fmt.Sprintf("<p>Hi %s,</p><p>Your code is <strong>%s</strong>. Use it to %s.</p><p>The code expires in 5 minutes.</p>", name, code, action)
}

// LogSender writes codes to the log instead of mailing them
type LogSender struct{}

func (LogSender) SendOTP(ctx context.Context, to models.Contact, code, purpose string) error {
	logging.Ctx(ctx).Info().Str("phone", to.Phone).Str("purpose", purpose).Str("code", code).Msg("OTP (mail disabled)")
	return nil
}
