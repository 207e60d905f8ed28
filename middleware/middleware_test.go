package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"fixnearby-server/models"
)

type staticTokens map[string]models.Session

func (s staticTokens) ValidateAccessToken(token string) (models.Session, error) {
	if sess, ok := s[token]; ok {
		return sess, nil
	}
	return models.Anonymous(), errors.New("bad token")
}

type roleChecker map[models.Role]bool

func (r roleChecker) Allowed(s models.Session, _, _ string) (bool, error) {
	return r[s.Role()], nil
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, string(Session(c).Role()))
	})
	r.GET("/x", handlers...)
	return r
}

func do(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	tokens := staticTokens{"u": models.UserSession(4)}
	r := newRouter(Authenticate(tokens))

	if w := do(r, ""); w.Code != http.StatusOK || w.Body.String() != "" {
		t.Errorf("anonymous request: got %d %q", w.Code, w.Body.String())
	}
	if w := do(r, "u"); w.Body.String() != "user" {
		t.Errorf("expected user session, got %q", w.Body.String())
	}
	if w := do(r, "forged"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad token, got %d", w.Code)
	}
	if w := do(r, "u"); w.Header().Get(RequestIDHeader) == "" {
		t.Error("expected a request id header")
	}
}

func TestRequireCapability(t *testing.T) {
	tokens := staticTokens{"u": models.UserSession(4), "r": models.RepairerSession(5)}
	r := newRouter(Authenticate(tokens), RequireCapability(roleChecker{models.RoleRepairer: true}, "lead", "accept"))

	tests := []struct {
		token string
		want  int
	}{
		{"", http.StatusUnauthorized},
		{"u", http.StatusForbidden},
		{"r", http.StatusOK},
	}
	for _, tt := range tests {
		if w := do(r, tt.token); w.Code != tt.want {
			t.Errorf("token %q: expected %d, got %d", tt.token, tt.want, w.Code)
		}
	}
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter()
	r := newRouter(RateLimit(rl, Limits{Every: time.Hour, Burst: 2}))

	for i := 0; i < 2; i++ {
		if w := do(r, ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	w := do(r, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "3600" {
		t.Errorf("unexpected Retry-After %q", w.Header().Get("Retry-After"))
	}

	if rl.Len() != 1 {
		t.Errorf("expected one tracked key, got %d", rl.Len())
	}
	if n := rl.Cleanup(-time.Second); n != 1 || rl.Len() != 0 {
		t.Errorf("expected cleanup to drop the key, removed %d", n)
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := newRouter(SecurityHeaders())
	w := do(r, "")
	if w.Header().Get("X-Frame-Options") != "DENY" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing security headers: %v", w.Header())
	}
}
