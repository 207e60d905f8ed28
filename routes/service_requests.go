package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fixnearby-server/authz"
	"fixnearby-server/middleware"
	"fixnearby-server/models"
)

type decisionBody struct {
	Action string `json:"action" binding:"required,oneof=accept_quote reject_quote cancel"`
	Reason string `json:"reason" binding:"max=500"`
}

type otpBody struct {
	OTP string `json:"otp" binding:"required,otp"`
}

type rateBody struct {
	Rating int    `json:"rating" binding:"required,min=1,max=5"`
	Review string `json:"review" binding:"max=1000"`
}

type quoteBody struct {
	Price  float64 `json:"price" binding:"required,gt=0"`
	Revise bool    `json:"revise"`
}

func (a *api) registerServiceRequestRoutes(rg *gin.RouterGroup) {
	sr := rg.Group("/service-requests")
	sr.POST("", a.can(authz.ResServiceRequest, "create"), a.createRequest)
	sr.GET("", a.can(authz.ResServiceRequest, "read"), a.listRequests)
	sr.GET("/leads", a.can(authz.ResLead, "read"), a.listLeads)
	sr.GET("/:id", a.can(authz.ResServiceRequest, "read"), a.getRequest)

	user := sr.Group("/user/:id")
	user.PUT("/status", a.can(authz.ResServiceRequest, "read"), a.customerDecision)
	user.POST("/verify-otp", a.can(authz.ResServiceRequest, "verify_otp"), a.verifyCompletion)
	user.POST("/rate", a.can(authz.ResServiceRequest, "rate"), a.rateRequest)

	rep := sr.Group("/repairer/:id")
	rep.POST("/accept", a.can(authz.ResLead, "accept"), a.acceptLead)
	rep.PUT("/quote", a.can(authz.ResJob, "quote"), a.submitQuote)
	rep.POST("/start", a.can(authz.ResJob, "work"), a.startWork)
	rep.POST("/complete", a.can(authz.ResJob, "work"), a.markComplete)
	rep.GET("/pending", a.can(authz.ResJob, "read"), a.repairerJobs)
}

func (a *api) createRequest(c *gin.Context) {
	var in models.ServiceRequestCreate
	if !bindJSON(c, &in) {
		return
	}
	req, err := a.Lifecycle.Create(c.Request.Context(), middleware.Session(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Service request created", "data": req})
}

func (a *api) listRequests(c *gin.Context) {
	statuses, ok := statusesQuery(c)
	if !ok {
		return
	}
	s := middleware.Session(c)
	ctx := c.Request.Context()

	var (
		list []models.ServiceRequest
		err  error
	)
	switch {
	case s.IsAdmin():
		list, err = a.Lifecycle.ListAll(ctx, s, adminFilter(c, statuses))
	case s.Role() == models.RoleRepairer:
		rid, _ := s.RepairerID()
		list, err = a.Lifecycle.ListForRepairer(ctx, s, rid, statuses)
	default:
		list, err = a.Lifecycle.ListForCustomer(ctx, s, statuses)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "count": len(list)})
}

func (a *api) listLeads(c *gin.Context) {
	leads, err := a.Lifecycle.ListLeads(c.Request.Context(), middleware.Session(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": leads, "count": len(leads)})
}

func (a *api) getRequest(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	req, err := a.Lifecycle.Get(c.Request.Context(), middleware.Session(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": req})
}

// customerDecision handles accept_quote, reject_quote and cancel.
// The per-action capability is checked here since the action is in the body.
func (a *api) customerDecision(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var body decisionBody
	if !bindJSON(c, &body) {
		return
	}

	action := "decide_quote"
	if body.Action == "cancel" {
		action = "cancel"
	}
	s := middleware.Session(c)
	allowed, err := a.Enforcer.Allowed(s, authz.ResServiceRequest, action)
	if err != nil {
		respondError(c, err)
		return
	}
	if !allowed {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "You are not allowed to do this", "code": "FORBIDDEN"})
		return
	}

	ctx := c.Request.Context()
	switch body.Action {
	case "accept_quote":
		req, err := a.Lifecycle.AcceptQuote(ctx, s, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Quote accepted", "data": req})
	case "reject_quote":
		req, payment, err := a.Lifecycle.RejectQuote(ctx, s, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Quote rejected. Please pay the visiting fee", "data": req, "payment": payment})
	case "cancel":
		req, err := a.Lifecycle.Cancel(ctx, s, id, body.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Service request cancelled", "data": req})
	}
}

func (a *api) verifyCompletion(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var body otpBody
	if !bindJSON(c, &body) {
		return
	}
	req, payment, err := a.Lifecycle.VerifyCompletionOTP(c.Request.Context(), middleware.Session(c), id, body.OTP)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job completion confirmed", "data": req, "payment": payment})
}

func (a *api) rateRequest(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var body rateBody
	if !bindJSON(c, &body) {
		return
	}
	req, err := a.Lifecycle.Rate(c.Request.Context(), middleware.Session(c), id, body.Rating, body.Review)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Thanks for your feedback", "data": req})
}

func (a *api) acceptLead(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	req, err := a.Lifecycle.AcceptLead(c.Request.Context(), middleware.Session(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job accepted", "data": req})
}

func (a *api) submitQuote(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var body quoteBody
	if !bindJSON(c, &body) {
		return
	}
	req, err := a.Lifecycle.SubmitQuote(c.Request.Context(), middleware.Session(c), id, body.Price, body.Revise)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Quote submitted", "data": req})
}

func (a *api) startWork(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	req, err := a.Lifecycle.StartWork(c.Request.Context(), middleware.Session(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Work started", "data": req})
}

func (a *api) markComplete(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	req, err := a.Lifecycle.MarkComplete(c.Request.Context(), middleware.Session(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Completion code sent to the customer", "data": req})
}

// repairerJobs lists jobs assigned to repairer :id, defaulting to active ones
func (a *api) repairerJobs(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	statuses, ok := statusesQuery(c)
	if !ok {
		return
	}
	list, err := a.Lifecycle.ListForRepairer(c.Request.Context(), middleware.Session(c), id, statuses)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "count": len(list)})
}
