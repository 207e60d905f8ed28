package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fixnearby-server/middleware"
	"fixnearby-server/models"
	"fixnearby-server/services"
)

type verifyOTPBody struct {
	Phone string `json:"phone" binding:"required,phone"`
	OTP   string `json:"otp" binding:"required,otp"`
}

type adminLoginBody struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (a *api) registerAuthRoutes(rg *gin.RouterGroup) {
	otpLimit := middleware.RateLimit(a.Limiter, middleware.OTPLimits)

	for _, role := range []models.Role{models.RoleUser, models.RoleRepairer} {
		g := rg.Group("/" + string(role))
		g.POST("/getotp", otpLimit, a.requestOTP(role))
		g.POST("/verify-otp", otpLimit, a.verifyOTP(role))
		g.POST("/login", otpLimit, a.login(role))
	}
	rg.POST("/user/signup", otpLimit, a.signupUser)
	rg.POST("/repairer/signup", otpLimit, a.signupRepairer)
	rg.POST("/admin/login", otpLimit, a.adminLogin)

	auth := rg.Group("/auth")
	auth.GET("/check", middleware.RequireAuth(), a.check)
	auth.POST("/refresh", otpLimit, a.refresh)
	auth.POST("/logout", a.logout)
}

func clientMeta(c *gin.Context) services.ClientMeta {
	return services.ClientMeta{UserAgent: c.Request.UserAgent(), IPAddress: c.ClientIP()}
}

func (a *api) requestOTP(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.OTPRequest
		if !bindJSON(c, &req) {
			return
		}
		if err := a.Auth.RequestOTP(c.Request.Context(), role, req); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "OTP sent to your registered email"})
	}
}

func (a *api) verifyOTP(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body verifyOTPBody
		if !bindJSON(c, &body) {
			return
		}
		if err := a.Auth.VerifyPhone(c.Request.Context(), role, body.Phone, body.OTP); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Phone number verified"})
	}
}

func (a *api) login(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body verifyOTPBody
		if !bindJSON(c, &body) {
			return
		}
		s, tokens, err := a.Auth.Login(c.Request.Context(), role, body.Phone, body.OTP, clientMeta(c))
		if err != nil {
			respondError(c, err)
			return
		}
		profile, err := a.Auth.Profile(c.Request.Context(), s)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Logged in", "data": gin.H{"account": profile, "role": s.Role(), "tokens": tokens}})
	}
}

func (a *api) signupUser(c *gin.Context) {
	var in models.UserSignup
	if !bindJSON(c, &in) {
		return
	}
	user, tokens, err := a.Auth.SignupUser(c.Request.Context(), in, clientMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Account created", "data": gin.H{"account": user, "role": models.RoleUser, "tokens": tokens}})
}

func (a *api) signupRepairer(c *gin.Context) {
	var in models.RepairerSignup
	if !bindJSON(c, &in) {
		return
	}
	repairer, tokens, err := a.Auth.SignupRepairer(c.Request.Context(), in, clientMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Account created", "data": gin.H{"account": repairer, "role": models.RoleRepairer, "tokens": tokens}})
}

func (a *api) adminLogin(c *gin.Context) {
	var body adminLoginBody
	if !bindJSON(c, &body) {
		return
	}
	admin, tokens, err := a.Auth.AdminLogin(c.Request.Context(), body.Email, body.Password, clientMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged in", "data": gin.H{"account": admin, "role": models.RoleAdmin, "tokens": tokens}})
}

func (a *api) check(c *gin.Context) {
	s := middleware.Session(c)
	profile, err := a.Auth.Profile(c.Request.Context(), s)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"account": profile, "role": s.Role()}})
}

func (a *api) refresh(c *gin.Context) {
	var body refreshBody
	if !bindJSON(c, &body) {
		return
	}
	tokens, err := a.Tokens.RefreshAccessToken(c.Request.Context(), body.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tokens})
}

func (a *api) logout(c *gin.Context) {
	var body refreshBody
	if err := c.ShouldBindJSON(&body); err == nil {
		if err := a.Tokens.RevokeRefreshToken(c.Request.Context(), body.RefreshToken); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}
