package razorpay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
)

func TestVerifyPaymentSignature(t *testing.T) {
	c := NewClient(Config{KeyID: "rzp_test", KeySecret: "secret"})
	sig := Sign([]byte("order_1|pay_1"), "secret")

	if !c.VerifyPaymentSignature("order_1", "pay_1", sig) {
		t.Error("expected valid signature to verify")
	}
	if c.VerifyPaymentSignature("order_1", "pay_2", sig) {
		t.Error("signature for another payment must not verify")
	}
	if c.VerifyPaymentSignature("order_1", "pay_1", "not-hex") {
		t.Error("malformed signature must not verify")
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"payout.processed"}`)
	c := NewClient(Config{WebhookSecret: "whsec"})
	if !c.VerifyWebhookSignature(body, Sign(body, "whsec")) {
		t.Error("expected webhook signature to verify")
	}
	if NewClient(Config{}).VerifyWebhookSignature(body, Sign(body, "")) {
		t.Error("webhook without configured secret must fail closed")
	}
}

func TestCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test" || pass != "secret" {
			t.Errorf("missing basic auth")
		}
		if r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Amount != 49900 {
			t.Errorf("amount = %d, want 49900", req.Amount)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_abc","amount":49900,"currency":"INR","status":"created"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{KeyID: "rzp_test", KeySecret: "secret", BaseURL: srv.URL})
	order, err := c.CreateOrder(context.Background(), OrderRequest{Amount: 49900, Currency: "INR", Receipt: "r1"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != "order_abc" {
		t.Errorf("order id = %q", order.ID)
	}
}

func TestCreateOrderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too low"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{KeyID: "k", KeySecret: "s", BaseURL: srv.URL})
	_, err := c.CreateOrder(context.Background(), OrderRequest{Amount: 1, Currency: "INR"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Description != "amount too low" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(Config{})
	if _, err := c.CreateOrder(context.Background(), OrderRequest{Amount: 100}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestParseWebhook(t *testing.T) {
	ev, err := ParseWebhook([]byte(`{"event":"payout.failed","payload":{"payout":{"entity":{"id":"pout_1","status":"failed","failure_reason":"invalid vpa"}}}}`))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.Event != EventPayoutFailed || ev.Payload.Payout.Entity.ID != "pout_1" {
		t.Errorf("unexpected event %+v", ev)
	}
	if _, err := ParseWebhook([]byte(`{}`)); err == nil {
		t.Error("expected error for missing event name")
	}
}
