package routes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"fixnearby-server/authz"
	"fixnearby-server/models"
	"fixnearby-server/razorpay"
	"fixnearby-server/services"
	"fixnearby-server/types"
	"fixnearby-server/validation"
)

const testSecret = "routes-test-secret"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := validation.RegisterGin(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

// newTestRouter wires services without a store. Only paths that fail
// before touching persistence are exercised here.
func newTestRouter(t *testing.T, health map[string]HealthChecker) *gin.Engine {
	t.Helper()
	enforcer, err := authz.NewEnforcer()
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	tokens := services.NewJWTService(nil, services.JWTSettings{Secret: testSecret})
	gateway := razorpay.NewClient(razorpay.Config{WebhookSecret: "whsec"})

	return NewRouter(Deps{
		Tokens:        tokens,
		Lifecycle:     services.NewLifecycleService(nil, nil, nil, services.LifecycleSettings{}),
		Payments:      services.NewPaymentService(nil, gateway, nil, services.PaymentSettings{}),
		Chat:          services.NewChatService(nil, nil),
		Notifications: services.NewNotificationService(nil, nil),
		Repairers:     services.NewRepairerService(nil, nil),
		Admin:         services.NewAdminService(nil),
		Enforcer:      enforcer,
		Health:        health,
	})
}

func tokenFor(t *testing.T, s models.Session) string {
	t.Helper()
	claims := &types.Claims{
		SubjectID: s.SubjectID(),
		Role:      s.Role(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type response struct {
	Code  string `json:"code"`
	Field string `json:"field"`
	Error string `json:"error"`
}

func do(t *testing.T, r http.Handler, method, path, token string, body string) (int, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w.Code, resp
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, map[string]HealthChecker{"database": pinger{}})
	if code, _ := do(t, r, http.MethodGet, "/health", "", ""); code != http.StatusOK {
		t.Errorf("healthy: got %d", code)
	}

	r = newTestRouter(t, map[string]HealthChecker{"database": pinger{}, "redis": pinger{err: errors.New("down")}})
	if code, _ := do(t, r, http.MethodGet, "/health", "", ""); code != http.StatusServiceUnavailable {
		t.Errorf("degraded: got %d", code)
	}
}

func TestGuards(t *testing.T) {
	r := newTestRouter(t, nil)
	user := tokenFor(t, models.UserSession(1))
	repairer := tokenFor(t, models.RepairerSession(2))
	admin := tokenFor(t, models.AdminSession(3))

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
		code   string
	}{
		{"anonymous create", http.MethodPost, "/api/service-requests", "", `{}`, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"garbage token", http.MethodGet, "/api/service-requests", "nope", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"repairer cannot create", http.MethodPost, "/api/service-requests", repairer, `{}`, http.StatusForbidden, "FORBIDDEN"},
		{"customer cannot accept lead", http.MethodPost, "/api/service-requests/repairer/5/accept", user, "", http.StatusForbidden, "FORBIDDEN"},
		{"customer cannot quote", http.MethodPut, "/api/service-requests/repairer/5/quote", user, `{"price":100}`, http.StatusForbidden, "FORBIDDEN"},
		{"repairer cannot cancel for customer", http.MethodPut, "/api/service-requests/user/5/status", repairer, `{"action":"cancel"}`, http.StatusForbidden, "FORBIDDEN"},
		{"repairer cannot pay", http.MethodPost, "/api/user/create-razorpay-order", repairer, `{"payment_id":1}`, http.StatusForbidden, "FORBIDDEN"},
		{"admin cannot chat", http.MethodGet, "/api/conversations", admin, "", http.StatusForbidden, "FORBIDDEN"},
		{"customer cannot use admin console", http.MethodGet, "/api/admin/users", user, "", http.StatusForbidden, "FORBIDDEN"},
		{"customer cannot reopen payment", http.MethodPost, "/api/admin/payments/1/reopen", user, `{"reason":"x"}`, http.StatusForbidden, "FORBIDDEN"},
		{"customer cannot edit repairer profile", http.MethodGet, "/api/repairer/profile", user, "", http.StatusForbidden, "FORBIDDEN"},
		{"unknown route", http.MethodGet, "/api/nothing-here", "", "", http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := do(t, r, tt.method, tt.path, tt.token, tt.body)
			if code != tt.want || resp.Code != tt.code {
				t.Errorf("got %d %q, want %d %q", code, resp.Code, tt.want, tt.code)
			}
		})
	}
}

func TestValidationErrors(t *testing.T) {
	r := newTestRouter(t, nil)
	user := tokenFor(t, models.UserSession(1))
	repairer := tokenFor(t, models.RepairerSession(2))
	admin := tokenFor(t, models.AdminSession(3))

	tests := []struct {
		name  string
		path  string
		token string
		body  string
		field string
	}{
		{"create without title", "/api/service-requests", user, `{}`, "title"},
		{"rating out of range", "/api/service-requests/user/5/rate", user, `{"rating":9}`, "rating"},
		{"short completion otp", "/api/service-requests/user/5/verify-otp", user, `{"otp":"12"}`, "otp"},
		{"bad phone on otp request", "/api/user/getotp", "", `{"phone":"123"}`, "phone"},
		{"reopen without reason", "/api/admin/payments/1/reopen", admin, `{}`, "reason"},
		{"unknown service category", "/api/repairer/services", repairer, `{"name":"teleportation","visiting_charge":100}`, "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := do(t, r, http.MethodPost, tt.path, tt.token, tt.body)
			if code != http.StatusUnprocessableEntity {
				t.Fatalf("got %d, want 422", code)
			}
			if resp.Field != tt.field {
				t.Errorf("field = %q, want %q", resp.Field, tt.field)
			}
		})
	}
}

func TestBadPathAndQuery(t *testing.T) {
	r := newTestRouter(t, nil)
	user := tokenFor(t, models.UserSession(1))

	if code, _ := do(t, r, http.MethodGet, "/api/service-requests/abc", user, ""); code != http.StatusBadRequest {
		t.Errorf("non-numeric id: got %d", code)
	}
	code, resp := do(t, r, http.MethodGet, "/api/service-requests?status=requested,bogus", user, "")
	if code != http.StatusUnprocessableEntity || resp.Field != "status" {
		t.Errorf("unknown status: got %d %+v", code, resp)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	r := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewBufferString(`{"event":"payout.processed"}`))
	req.Header.Set(webhookSignatureHeader, "deadbeef")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Errorf("got %d, want 402", w.Code)
	}
}

func TestLookupError(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code string
	}{
		{fmt.Errorf("wrapped: %w", services.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{&models.TransitionError{From: models.StatusCompleted, To: models.StatusCancelled}, http.StatusConflict, "INVALID_TRANSITION"},
		{&services.FieldError{Field: "price", Err: services.ErrInvalidQuote}, http.StatusUnprocessableEntity, "INVALID_QUOTE"},
		{fmt.Errorf("%w: stale", services.ErrConflict), http.StatusConflict, "CONFLICT"},
		{services.ErrOTPAttempts, http.StatusTooManyRequests, "OTP_ATTEMPTS"},
		{services.ErrPaymentUnverified, http.StatusPaymentRequired, "PAYMENT_UNVERIFIED"},
	}
	for _, tt := range tests {
		got, ok := lookupError(tt.err)
		if !ok || got.status != tt.want || got.code != tt.code {
			t.Errorf("lookupError(%v) = %+v, %v", tt.err, got, ok)
		}
	}

	if _, ok := lookupError(errors.New("boom")); ok {
		t.Error("unknown errors should not map")
	}
}

func TestRespondErrorIncludesField(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	respondError(c, &services.FieldError{Field: "price", Err: services.ErrInvalidQuote})

	var resp response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Field != "price" || resp.Code != "INVALID_QUOTE" {
		t.Errorf("got %+v", resp)
	}
}
