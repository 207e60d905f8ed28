package types

import (
	"github.com/golang-jwt/jwt/v5"

	"fixnearby-server/models"
)

// Claims represents the JWT claims
type Claims struct {
	SubjectID uint        `json:"sid"`
	Role      models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Session returns the session the claims were issued for
func (c *Claims) Session() models.Session {
	return models.NewSession(c.Role, c.SubjectID)
}
