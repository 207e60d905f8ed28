package routes

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker/v2"

	"fixnearby-server/logging"
	"fixnearby-server/models"
	"fixnearby-server/services"
	"fixnearby-server/validation"
)

// apiError describes how a service error is shown to clients
type apiError struct {
	status  int
	code    string
	message string
}

// errorTable maps service sentinels to responses. Order matters: the first match wins.
var errorTable = []struct {
	err error
	api apiError
}{
	{services.ErrPaymentUnverified, apiError{http.StatusPaymentRequired, "PAYMENT_UNVERIFIED", "Payment could not be verified. Please contact support"}},
	{services.ErrPaymentNotPayable, apiError{http.StatusConflict, "PAYMENT_NOT_PAYABLE", "This payment cannot be made right now"}},
	{services.ErrGatewayUnavailable, apiError{http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "Payments are temporarily unavailable. Please try again shortly"}},
	{services.ErrInvalidOTP, apiError{http.StatusUnprocessableEntity, "INVALID_OTP", "The OTP is incorrect"}},
	{services.ErrOTPExpired, apiError{http.StatusUnprocessableEntity, "OTP_EXPIRED", "The OTP has expired. Please request a new one"}},
	{services.ErrOTPAttempts, apiError{http.StatusTooManyRequests, "OTP_ATTEMPTS", "Too many wrong attempts. Please request a new OTP"}},
	{services.ErrPhoneNotVerified, apiError{http.StatusUnprocessableEntity, "PHONE_NOT_VERIFIED", "Verify your phone number first"}},
	{services.ErrAlreadyRegistered, apiError{http.StatusConflict, "ALREADY_REGISTERED", "This phone number is already registered"}},
	{services.ErrAccountNotFound, apiError{http.StatusNotFound, "ACCOUNT_NOT_FOUND", "No account found for this phone number"}},
	{services.ErrInvalidCredentials, apiError{http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"}},
	{services.ErrInvalidToken, apiError{http.StatusUnauthorized, "UNAUTHORIZED", "Your session has expired. Please log in again"}},
	{services.ErrMissingRepairer, apiError{http.StatusForbidden, "MISSING_REPAIRER", "Repairer account not found in session. Please log in again"}},
	{services.ErrInvalidQuote, apiError{http.StatusUnprocessableEntity, "INVALID_QUOTE", "Enter a valid quote amount"}},
	{services.ErrQuoteAlreadySubmitted, apiError{http.StatusConflict, "QUOTE_ALREADY_SUBMITTED", "A quote was already submitted. Use revise to change it"}},
	{services.ErrAlreadyRated, apiError{http.StatusConflict, "ALREADY_RATED", "You have already rated this job"}},
	{services.ErrChatClosed, apiError{http.StatusConflict, "CHAT_CLOSED", "This conversation has ended"}},
	{models.ErrInvalidTransition, apiError{http.StatusConflict, "INVALID_TRANSITION", "This action is not possible in the request's current state"}},
	{services.ErrConflict, apiError{http.StatusConflict, "CONFLICT", "This request was updated by someone else. Please refresh"}},
	{services.ErrValidation, apiError{http.StatusUnprocessableEntity, "VALIDATION", "Please check your input"}},
	{services.ErrForbidden, apiError{http.StatusForbidden, "FORBIDDEN", "You are not allowed to do this"}},
	{services.ErrNotFound, apiError{http.StatusNotFound, "NOT_FOUND", "Not found"}},
	{gobreaker.ErrOpenState, apiError{http.StatusServiceUnavailable, "UNAVAILABLE", "A provider is temporarily unavailable. Please try again shortly"}},
}

func lookupError(err error) (apiError, bool) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.api, true
		}
	}
	return apiError{}, false
}

// respondError writes err as {error, code, field?}. Field errors are shown inline by clients.
func respondError(c *gin.Context, err error) {
	api, known := lookupError(err)
	if !known {
		logging.Ctx(c.Request.Context()).Error().Err(err).Str("route", c.FullPath()).Msg("Request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "Something went wrong, please try again",
			"code":  "INTERNAL",
		})
		return
	}

	body := gin.H{"error": api.message, "code": api.code}
	var fe *services.FieldError
	if errors.As(err, &fe) {
		body["field"] = fe.Field
	}
	c.Error(err)
	c.AbortWithStatusJSON(api.status, body)
}

// bindJSON decodes the body into v, answering 422 with the first invalid field
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		if fe, ok := validation.FirstFieldError(err); ok {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
				"error": fe.Message,
				"code":  "VALIDATION",
				"field": fe.Field,
			})
			return false
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  "BAD_REQUEST",
		})
		return false
	}
	return true
}

// idParam parses a positive numeric path parameter
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
			"code":  "BAD_REQUEST",
		})
		return 0, false
	}
	return uint(id), true
}

// intQuery reads an optional integer query parameter
func intQuery(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

// statusesQuery reads ?status=a,b into request statuses
func statusesQuery(c *gin.Context) ([]models.RequestStatus, bool) {
	raw := c.QueryArray("status")
	var out []models.RequestStatus
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			s := models.RequestStatus(part)
			if !s.IsValid() {
				c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
					"error": "Unknown status " + part,
					"code":  "VALIDATION",
					"field": "status",
				})
				return nil, false
			}
			out = append(out, s)
		}
	}
	return out, true
}
