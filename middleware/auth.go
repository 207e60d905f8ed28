package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fixnearby-server/logging"
	"fixnearby-server/models"
)

const sessionKey = "session"

// TokenValidator turns an access token into the session it was issued for
type TokenValidator interface {
	ValidateAccessToken(token string) (models.Session, error)
}

// CapabilityChecker decides whether a session holds a capability
type CapabilityChecker interface {
	Allowed(s models.Session, resource, action string) (bool, error)
}

// Session returns the session attached by Authenticate, anonymous if none
func Session(c *gin.Context) models.Session {
	if v, ok := c.Get(sessionKey); ok {
		if s, ok := v.(models.Session); ok {
			return s
		}
	}
	return models.Anonymous()
}

// SetSession attaches s to the request
func SetSession(c *gin.Context, s models.Session) {
	c.Set(sessionKey, s)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", false
	}
	return token, true
}

// Authenticate derives the session from the bearer token when one is present.
// Requests without a token continue as anonymous; a bad token is rejected.
func Authenticate(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			SetSession(c, models.Anonymous())
			c.Next()
			return
		}

		s, err := tokens.ValidateAccessToken(token)
		if err != nil {
			logging.Ctx(c.Request.Context()).Debug().Err(err).Msg("Rejected access token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Your session has expired. Please log in again",
				"code":  "UNAUTHORIZED",
			})
			return
		}
		SetSession(c, s)
		c.Next()
	}
}

// RequireAuth rejects anonymous sessions
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Session(c).IsAnonymous() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Please log in to continue",
				"code":  "UNAUTHORIZED",
			})
			return
		}
		c.Next()
	}
}

// RequireCapability rejects sessions that may not perform action on resource
func RequireCapability(checker CapabilityChecker, resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := Session(c)
		if s.IsAnonymous() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Please log in to continue",
				"code":  "UNAUTHORIZED",
			})
			return
		}

		allowed, err := checker.Allowed(s, resource, action)
		if err != nil {
			logging.Ctx(c.Request.Context()).Error().Err(err).
				Str("resource", resource).Str("action", action).Msg("Capability check failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Something went wrong, please try again",
				"code":  "INTERNAL",
			})
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "You are not allowed to do this",
				"code":  "FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}
