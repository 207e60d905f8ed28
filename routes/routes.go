package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fixnearby-server/authz"
	"fixnearby-server/middleware"
	"fixnearby-server/services"
	"fixnearby-server/websocket"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP API is built from
type Deps struct {
	Auth          *services.AuthService
	Tokens        *services.JWTService
	Lifecycle     *services.LifecycleService
	Payments      *services.PaymentService
	Chat          *services.ChatService
	Notifications *services.NotificationService
	Repairers     *services.RepairerService
	Admin         *services.AdminService
	Enforcer      middleware.CapabilityChecker
	Hub           *websocket.Hub
	Limiter       *middleware.RateLimiter
	// Health lists dependencies probed by /health, keyed by name
	Health         map[string]HealthChecker
	AllowedOrigins []string
}

// api holds the handlers
type api struct {
	Deps
}

// maxBodyBytes bounds JSON and upload bodies
const maxBodyBytes = 10 << 20

// NewRouter builds the gin engine serving the whole API
func NewRouter(d Deps) *gin.Engine {
	if d.Limiter == nil {
		d.Limiter = middleware.NewRateLimiter()
	}
	a := &api{Deps: d}

	router := gin.New()
	router.Use(
		middleware.Recovery(),
		middleware.RequestLogger(),
		middleware.CORS(d.AllowedOrigins),
		middleware.SecurityHeaders(),
	)

	router.GET("/health", a.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := router.Group("/api")
	apiGroup.Use(
		middleware.BodyLimit(maxBodyBytes),
		middleware.Authenticate(d.Tokens),
	)
	apiGroup.GET("/ws", middleware.RateLimit(d.Limiter, middleware.DefaultLimits), websocket.Handler(d.Hub, d.Tokens, d.AllowedOrigins))

	a.registerAuthRoutes(apiGroup)

	limited := apiGroup.Group("")
	limited.Use(middleware.RateLimit(d.Limiter, middleware.DefaultLimits))
	a.registerServiceRequestRoutes(limited)
	a.registerPaymentRoutes(limited)
	a.registerChatRoutes(limited)
	a.registerNotificationRoutes(limited)
	a.registerRepairerRoutes(limited)
	a.registerAdminRoutes(limited)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found", "code": "NOT_FOUND"})
	})
	return router
}

// can guards a route with a capability
func (a *api) can(resource, action string) gin.HandlerFunc {
	return middleware.RequireCapability(a.Enforcer, resource, action)
}

func (a *api) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	status := http.StatusOK
	for name, h := range a.Health {
		if err := h.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks, "time": time.Now().UTC()})
}

var _ middleware.CapabilityChecker = (*authz.Enforcer)(nil)
