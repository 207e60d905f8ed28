package routes

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"fixnearby-server/authz"
	"fixnearby-server/logging"
	"fixnearby-server/middleware"
	"fixnearby-server/services"
)

// webhookSignatureHeader carries the gateway's HMAC of the raw body
const webhookSignatureHeader = "X-Razorpay-Signature"

type createOrderBody struct {
	PaymentID uint `json:"payment_id" binding:"required"`
}

func (a *api) registerPaymentRoutes(rg *gin.RouterGroup) {
	rg.POST("/payments/webhook", a.paymentWebhook)

	user := rg.Group("/user")
	user.POST("/create-razorpay-order", a.can(authz.ResPayment, "pay"), a.createOrder)
	user.POST("/verify-and-transfer-payment", a.can(authz.ResPayment, "pay"), a.verifyPayment)
	user.GET("/payments/:id", a.can(authz.ResPayment, "pay"), a.getPayment)
}

func (a *api) createOrder(c *gin.Context) {
	var body createOrderBody
	if !bindJSON(c, &body) {
		return
	}
	order, err := a.Payments.CreateOrder(c.Request.Context(), middleware.Session(c), body.PaymentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (a *api) verifyPayment(c *gin.Context) {
	var in services.VerifyInput
	if !bindJSON(c, &in) {
		return
	}
	payment, err := a.Payments.VerifyAndTransfer(c.Request.Context(), middleware.Session(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Payment successful", "data": payment})
}

func (a *api) getPayment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	payment, err := a.Payments.Get(c.Request.Context(), middleware.Session(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payment})
}

// paymentWebhook applies a gateway event. Failures other than a bad signature
// answer 5xx so the gateway retries delivery.
func (a *api) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "BAD_REQUEST"})
		return
	}
	if err := a.Payments.HandleWebhook(c.Request.Context(), body, c.GetHeader(webhookSignatureHeader)); err != nil {
		if errors.Is(err, services.ErrPaymentUnverified) {
			logging.Ctx(c.Request.Context()).Warn().Str("ip", c.ClientIP()).Msg("Webhook signature mismatch")
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
