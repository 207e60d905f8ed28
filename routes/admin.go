package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fixnearby-server/authz"
	"fixnearby-server/middleware"
	"fixnearby-server/models"
	"fixnearby-server/services"
)

type reasonBody struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

type activeBody struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func (a *api) registerAdminRoutes(rg *gin.RouterGroup) {
	admin := rg.Group("/admin", a.can(authz.ResAdmin, "manage"))
	admin.GET("/service-requests", a.adminRequests)
	admin.POST("/service-requests/:id/cancel", a.adminCancel)
	admin.GET("/users", a.adminUsers)
	admin.GET("/repairers", a.adminRepairers)
	admin.PATCH("/repairers/:id/status", a.adminSetActive)
	admin.GET("/payments", a.adminPayments)
	admin.POST("/payments/:id/reopen", a.adminReopenPayment)
}

// adminFilter reads the console's request filters from the query string
func adminFilter(c *gin.Context, statuses []models.RequestStatus) services.RequestFilter {
	return services.RequestFilter{
		Statuses: statuses,
		Pincode:  c.Query("pincode"),
		Category: c.Query("category"),
		Limit:    intQuery(c, "limit", 50),
		Offset:   intQuery(c, "offset", 0),
	}
}

func (a *api) adminRequests(c *gin.Context) {
	statuses, ok := statusesQuery(c)
	if !ok {
		return
	}
	list, err := a.Lifecycle.ListAll(c.Request.Context(), middleware.Session(c), adminFilter(c, statuses))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "count": len(list)})
}

func (a *api) adminCancel(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var body reasonBody
	if !bindJSON(c, &body) {
		return
	}
	req, err := a.Lifecycle.Cancel(c.Request.Context(), middleware.Session(c), id, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Service request cancelled", "data": req})
}

func (a *api) adminUsers(c *gin.Context) {
	users, err := a.Admin.Users(c.Request.Context(), middleware.Session(c), intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": users, "count": len(users)})
}

func (a *api) adminRepairers(c *gin.Context) {
	reps, err := a.Admin.Repairers(c.Request.Context(), middleware.Session(c), intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reps, "count": len(reps)})
}

func (a *api) adminSetActive(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var body activeBody
	if !bindJSON(c, &body) {
		return
	}
	rep, err := a.Repairers.SetActive(c.Request.Context(), middleware.Session(c), id, *body.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Repairer updated", "data": rep})
}

func (a *api) adminPayments(c *gin.Context) {
	status := models.PaymentStatus(c.Query("status"))
	if status != "" && !status.IsValid() {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "Unknown status " + string(status), "code": "VALIDATION", "field": "status"})
		return
	}
	payments, err := a.Admin.Payments(c.Request.Context(), middleware.Session(c), status, intQuery(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payments, "count": len(payments)})
}

func (a *api) adminReopenPayment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var body reasonBody
	if !bindJSON(c, &body) {
		return
	}
	payment, err := a.Payments.Reopen(c.Request.Context(), middleware.Session(c), id, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Payment reopened", "data": payment})
}
