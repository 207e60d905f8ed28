package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fixnearby-server/authz"
	"fixnearby-server/middleware"
)

func (a *api) registerNotificationRoutes(rg *gin.RouterGroup) {
	n := rg.Group("/notifications", a.can(authz.ResNotification, "read"))
	n.GET("", a.listNotifications)
	n.GET("/unread-count", a.unreadCount)
	n.PATCH("/read-all", a.markAllRead)
	n.PATCH("/:id/read", a.markRead)
}

func (a *api) listNotifications(c *gin.Context) {
	list, err := a.Notifications.List(c.Request.Context(), middleware.Session(c), intQuery(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "count": len(list)})
}

func (a *api) unreadCount(c *gin.Context) {
	n, err := a.Notifications.UnreadCount(c.Request.Context(), middleware.Session(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"unread": n}})
}

func (a *api) markRead(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := a.Notifications.MarkRead(c.Request.Context(), middleware.Session(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}

func (a *api) markAllRead(c *gin.Context) {
	n, err := a.Notifications.MarkAllRead(c.Request.Context(), middleware.Session(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All notifications marked as read", "data": gin.H{"updated": n}})
}
