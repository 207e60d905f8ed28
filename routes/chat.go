package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fixnearby-server/authz"
	"fixnearby-server/middleware"
)

// defaultHistory is how many messages a conversation page returns
const defaultHistory = 50

func (a *api) registerChatRoutes(rg *gin.RouterGroup) {
	conv := rg.Group("/conversations", a.can(authz.ResConversation, "chat"))
	conv.POST("/request/:requestId", a.openConversation)
	conv.GET("", a.listConversations)
	conv.GET("/:id/messages", a.listMessages)
}

// openConversation returns the conversation for a request, creating it on first use
func (a *api) openConversation(c *gin.Context) {
	requestID, ok := idParam(c, "requestId")
	if !ok {
		return
	}
	conv, err := a.Chat.GetOrCreateConversation(c.Request.Context(), middleware.Session(c), requestID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": conv})
}

func (a *api) listConversations(c *gin.Context) {
	list, err := a.Chat.ListConversations(c.Request.Context(), middleware.Session(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "count": len(list)})
}

func (a *api) listMessages(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	msgs, err := a.Chat.Messages(c.Request.Context(), middleware.Session(c), id, intQuery(c, "limit", defaultHistory))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs, "count": len(msgs)})
}
